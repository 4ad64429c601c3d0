package main

import (
	"errors"
	"fmt"
)

// Errores tipados del core; la capa externa (HTTP/AMQP) los mapea a
// su presentación, el core nunca formatea para transporte.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrAllocationNotFound = errors.New("allocation not found")
	ErrInvalidQuantity    = errors.New("quantity must be a positive integer")
	ErrResourceExists     = errors.New("resource already exists")
	ErrAcquireTimeout     = errors.New("timed out acquiring exclusive access")
)

// ErrInsufficient: la cantidad pedida supera la disponible.
// Lleva la cantidad disponible para que el caller la muestre.
type ErrInsufficient struct {
	ResourceID string
	Requested  int64
	Available  int64
}

func (e ErrInsufficient) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.ResourceID, e.Requested, e.Available)
}

// ErrConflict: el deduct falló pese al acceso exclusivo. No debería
// poder pasar; si pasa hay un bug de invariante y hay que alertar.
type ErrConflict struct {
	ResourceID string
	Requested  int64
}

func (e ErrConflict) Error() string {
	return fmt.Sprintf("deduct precondition failed for %s (requested %d) despite exclusive access",
		e.ResourceID, e.Requested)
}
