package main

// Eventos publicados por el servicio de asignación
const (
	RKStockAllocated = "stock.allocated"
	RKStockRejected  = "stock.rejected"
)

// Estados de un resultado asíncrono
const (
	ResultConfirmed = "CONFIRMED"
	ResultRejected  = "REJECTED"
)

type AllocateRequestMsg struct {
	RequestID  string `json:"request_id"`
	ResourceID string `json:"resource_id"`
	Qty        int64  `json:"qty"`
}

type AllocateResultMsg struct {
	RequestID    string `json:"request_id"`
	AllocationID string `json:"allocation_id,omitempty"`
	State        string `json:"state"`
	Reason       string `json:"reason,omitempty"`
	AvailableQty int64  `json:"available_qty,omitempty"`
}

type StockEventPayload struct {
	AllocationID string `json:"allocation_id"`
	ResourceID   string `json:"resource_id"`
	Qty          int64  `json:"qty"`
	Status       string `json:"status"`
	Remaining    int64  `json:"remaining"`
}
