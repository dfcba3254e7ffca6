package models

import "time"

// Event types
const (
	EventTypeSyncCompleted  = "sync.completed"
	EventTypeOrderUpserted  = "order.upserted"
	EventTypeProductUpdated = "product.updated"
)

// BaseEvent contains common event fields
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncCompletedEvent is published after every sync run, successful or not.
type SyncCompletedEvent struct {
	BaseEvent
	RunID           string        `json:"run_id"`
	Kind            string        `json:"kind"` // full | live
	StartedAt       time.Time     `json:"started_at"`
	DurationSeconds float64       `json:"duration_seconds"`
	OrdersUpserted  int           `json:"orders_upserted"`
	ItemsUpserted   int           `json:"items_upserted"`
	Errors          []SourceError `json:"errors,omitempty"`
}

// OrderUpsertedEvent is published for each canonical order written to the
// ledger.
type OrderUpsertedEvent struct {
	BaseEvent
	SourceName    string          `json:"source_name"`
	SourceOrderID string          `json:"source_order_id"`
	Marketplace   string          `json:"marketplace"`
	Status        CanonicalStatus `json:"canonical_status"`
	OrderDate     time.Time       `json:"order_date"`
}

// ProductUpdatedEvent is consumed from the product-sync pipeline to refresh
// the cost cache.
type ProductUpdatedEvent struct {
	BaseEvent
	SKU     string  `json:"sku"`
	Barcode string  `json:"barcode,omitempty"`
	Name    string  `json:"name,omitempty"`
	Cost    float64 `json:"cost"`
}
