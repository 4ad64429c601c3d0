package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Ledger: historial append-only de decisiones de asignación.
// Nunca hay UPDATE ni DELETE sobre allocations.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger { return &Ledger{db: db} }

// Append inserta la decisión dentro de la transacción del caller, de
// modo que un registro confirmado y su descuento se vuelven durables
// juntos. Asigna id y created_unix.
func (l *Ledger) Append(ctx context.Context, tx *sql.Tx, a *Allocation) (*Allocation, error) {
	a.ID = uuid.NewString()
	a.CreatedUnix = nowUnix()
	_, err := tx.ExecContext(ctx, `
INSERT INTO allocations(id, resource_id, qty, status, reason, created_unix)
VALUES(?,?,?,?,?,?)`,
		a.ID, a.ResourceID, a.Qty, a.Status, a.Reason, a.CreatedUnix)
	if err != nil {
		return nil, fmt.Errorf("append allocation: %w", err)
	}
	return a, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*Allocation, error) {
	var a Allocation
	err := l.db.QueryRowContext(ctx, `
SELECT a.id, a.resource_id, a.qty, a.status, a.reason, a.created_unix, COALESCE(r.name,'')
FROM allocations a
LEFT JOIN resources r ON r.id = a.resource_id
WHERE a.id=?`, id).
		Scan(&a.ID, &a.ResourceID, &a.Qty, &a.Status, &a.Reason, &a.CreatedUnix, &a.ResourceName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAllocationNotFound
		}
		return nil, err
	}
	return &a, nil
}

// List devuelve las decisiones más recientes primero, con el nombre
// del recurso para presentación.
func (l *Ledger) List(ctx context.Context) ([]Allocation, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT a.id, a.resource_id, a.qty, a.status, a.reason, a.created_unix, COALESCE(r.name,'')
FROM allocations a
LEFT JOIN resources r ON r.id = a.resource_id
ORDER BY a.created_unix DESC, a.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Allocation{}
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.ResourceID, &a.Qty, &a.Status, &a.Reason, &a.CreatedUnix, &a.ResourceName); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
