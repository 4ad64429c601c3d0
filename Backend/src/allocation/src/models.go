package main

import "time"

// Inventario de recursos:
// quantity: unidades restantes; solo el Coordinator la muta, bajo acceso exclusivo.
// quantity = cantidad inicial - suma de asignaciones confirmadas, nunca negativa.
type Resource struct {
	ID          string `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Quantity    int64  `db:"quantity" json:"quantity"`
	CreatedUnix int64  `db:"created_unix" json:"created_unix"`
	UpdatedUnix int64  `db:"updated_unix" json:"updated_unix"`
}

// Estados de una asignación; inmutable una vez escrita en el ledger.
const (
	StatusConfirmed = "confirmed"
	StatusRejected  = "rejected"
)

type Allocation struct {
	ID          string `db:"id" json:"id"`
	ResourceID  string `db:"resource_id" json:"resource_id"`
	Qty         int64  `db:"qty" json:"qty"`
	Status      string `db:"status" json:"status"`
	Reason      string `db:"reason" json:"reason,omitempty"`
	CreatedUnix int64  `db:"created_unix" json:"created_unix"`

	// Solo en listados (join con resources para presentación)
	ResourceName string `json:"resource_name,omitempty"`
}

func nowUnix() int64 { return time.Now().Unix() }
