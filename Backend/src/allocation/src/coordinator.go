package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Events: publicador de eventos de decisión; nil-safe (ver rabbit.go).
type Events interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Coordinator orquesta una asignación de punta a punta: adquirir
// acceso exclusivo, validar, decidir, mutar el store, anotar en el
// ledger y liberar — como una unidad indivisible.
type Coordinator struct {
	store  *Store
	ledger *Ledger
	events Events
}

func NewCoordinator(store *Store, ledger *Ledger, events Events) *Coordinator {
	return &Coordinator{store: store, ledger: ledger, events: events}
}

// Allocate decide si se pueden otorgar qty unidades de resourceID y,
// de ser así, ejecuta el otorgamiento exactamente una vez y de forma
// durable. Cualquier fallo deja cantidad y ledger como estaban.
//
// Política de ledger: InsufficientStock escribe un registro rejected
// (misma transacción, sin descuento); cantidad inválida o recurso
// inexistente no escriben nada.
func (c *Coordinator) Allocate(ctx context.Context, resourceID string, qty int64) (*Allocation, error) {
	// 1) rechazo inmediato, sin mutación
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}

	// 2) acceso exclusivo; NotFound/Timeout salen aquí sin nada que revertir
	h, err := c.store.AcquireExclusive(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	// 3) decisión contra la cantidad leída bajo el handle
	avail := h.Quantity()
	if qty > avail {
		rej := &Allocation{
			ResourceID: resourceID,
			Qty:        qty,
			Status:     StatusRejected,
			Reason:     fmt.Sprintf("requested %d, available %d", qty, avail),
		}
		if _, aerr := c.ledger.Append(ctx, h.tx, rej); aerr != nil {
			h.Rollback()
			return nil, fmt.Errorf("append rejection: %w", aerr)
		}
		if cerr := h.Commit(); cerr != nil {
			return nil, cerr
		}
		log.Warn().Str("resource", resourceID).
			Int64("requested", qty).Int64("available", avail).
			Msg("allocation rejected: insufficient stock")
		c.publishDecision(ctx, RKStockRejected, rej, avail)
		return nil, ErrInsufficient{ResourceID: resourceID, Requested: qty, Available: avail}
	}

	// 4) descuento; el fallo aquí es una violación de invariante
	if err := h.Deduct(ctx, qty); err != nil {
		h.Rollback()
		var conflict ErrConflict
		if errors.As(err, &conflict) {
			log.Error().Str("resource", resourceID).Int64("requested", qty).
				Msg("deduct failed under exclusive access: invariant violation")
			return nil, conflict
		}
		return nil, err
	}

	// 5) registro confirmado en la misma transacción
	a := &Allocation{ResourceID: resourceID, Qty: qty, Status: StatusConfirmed}
	if _, err := c.ledger.Append(ctx, h.tx, a); err != nil {
		h.Rollback()
		return nil, err
	}

	// 6) descuento y registro se vuelven durables juntos
	if err := h.Commit(); err != nil {
		return nil, err
	}

	log.Info().Str("resource", resourceID).Str("allocation", a.ID).
		Int64("qty", qty).Int64("remaining", h.Quantity()).
		Msg("allocation confirmed")
	c.publishDecision(ctx, RKStockAllocated, a, h.Quantity())
	return a, nil
}

func (c *Coordinator) publishDecision(ctx context.Context, key string, a *Allocation, remaining int64) {
	if c.events == nil {
		return
	}
	body, _ := json.Marshal(StockEventPayload{
		AllocationID: a.ID,
		ResourceID:   a.ResourceID,
		Qty:          a.Qty,
		Status:       a.Status,
		Remaining:    remaining,
	})
	if err := c.events.Publish(ctx, key, body); err != nil {
		log.Error().Err(err).Str("rk", key).Msg("publish decision event failed")
	}
}
