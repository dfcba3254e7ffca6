package models

import "time"

// Source names identify the upstream pipelines. Together with the raw order
// ID they form the globally unique order identity.
const (
	SourceSentos   = "sentos"
	SourceTrendyol = "trendyol"
)

// CanonicalStatus is the closed set of order statuses every raw vendor
// status maps into at ingestion time.
type CanonicalStatus string

const (
	StatusPendingApproval CanonicalStatus = "PENDING_APPROVAL"
	StatusConfirmed       CanonicalStatus = "CONFIRMED"
	StatusSourcing        CanonicalStatus = "SOURCING"
	StatusPreparing       CanonicalStatus = "PREPARING"
	StatusShipped         CanonicalStatus = "SHIPPED"
	StatusDelivered       CanonicalStatus = "DELIVERED"
	StatusCancelled       CanonicalStatus = "CANCELLED"
	StatusReturned        CanonicalStatus = "RETURNED"
	StatusUnknown         CanonicalStatus = "UNKNOWN"
)

// IsCancelled reports whether the order belongs in the cancelled bucket.
// Cancellation is order-level: item-level raw statuses never decide this.
func (s CanonicalStatus) IsCancelled() bool {
	return s == StatusCancelled || s == StatusReturned
}

// Item-level raw statuses (diagnostic only)
const (
	ItemStatusAccepted = "accepted"
	ItemStatusRejected = "rejected"
)

// Order is a canonical ledger order. Identity is (source_name, source_order_id).
type Order struct {
	ID            int64           `db:"id" json:"id"`
	SourceName    string          `db:"source_name" json:"source_name"`
	SourceOrderID string          `db:"source_order_id" json:"source_order_id"`
	OrderCode     string          `db:"order_code" json:"order_code,omitempty"`
	Marketplace   string          `db:"marketplace" json:"marketplace"`
	Shop          string          `db:"shop" json:"shop,omitempty"`
	OrderDate     time.Time       `db:"order_date" json:"order_date"`
	Status        CanonicalStatus `db:"canonical_status" json:"canonical_status"`
	RawStatus     string          `db:"raw_status" json:"raw_status"`
	OrderTotal    float64         `db:"order_total" json:"order_total"`
	ShippingTotal float64         `db:"shipping_total" json:"shipping_total"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
	FetchedAt     time.Time       `db:"fetched_at" json:"fetched_at"`
}

// OrderItem is a canonical line item. (source_name, source_line_id) is
// unique within the parent order.
type OrderItem struct {
	ID               int64     `db:"id" json:"id"`
	OrderID          int64     `db:"order_id" json:"order_id"`
	SourceName       string    `db:"source_name" json:"source_name"`
	SourceLineID     string    `db:"source_line_id" json:"source_line_id"`
	ProductName      string    `db:"product_name" json:"product_name,omitempty"`
	SKU              string    `db:"sku" json:"sku"`
	Barcode          string    `db:"barcode" json:"barcode,omitempty"`
	Color            string    `db:"color" json:"color,omitempty"`
	RawItemStatus    string    `db:"raw_item_status" json:"raw_item_status"`
	Quantity         int       `db:"quantity" json:"quantity"`
	UnitPrice        float64   `db:"unit_price" json:"unit_price"`
	ItemAmount       float64   `db:"item_amount" json:"item_amount"`
	ResolvedUnitCost *float64  `db:"resolved_unit_cost" json:"resolved_unit_cost"`
	CostSource       string    `db:"cost_source" json:"cost_source,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Product backs cost resolution: SKU/barcode to acquisition cost.
type Product struct {
	ID                   int64     `db:"id" json:"id"`
	SourceProductID      int64     `db:"source_product_id" json:"source_product_id"`
	SKU                  string    `db:"sku" json:"sku"`
	Name                 string    `db:"name" json:"name"`
	Brand                string    `db:"brand" json:"brand,omitempty"`
	Barcode              string    `db:"barcode" json:"barcode,omitempty"`
	PurchasePrice        float64   `db:"purchase_price" json:"purchase_price"`
	VATRate              int       `db:"vat_rate" json:"vat_rate"`
	PurchasePriceWithVAT float64   `db:"purchase_price_with_vat" json:"purchase_price_with_vat"`
	SalePrice            float64   `db:"sale_price" json:"sale_price"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// SyncState is the persisted sync-state record surviving restarts.
type SyncState struct {
	ID             int64      `db:"id" json:"-"`
	IsRunning      bool       `db:"is_running" json:"is_running"`
	LastFullSyncAt *time.Time `db:"last_full_sync_at" json:"last_full_sync_at"`
	LastLiveSyncAt *time.Time `db:"last_live_sync_at" json:"last_live_sync_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"-"`
}

// SourceError summarizes one source's failure during a run.
type SourceError struct {
	Source     string    `json:"source"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RawOrder is the source-specific record a connector yields before
// normalization.
type RawOrder struct {
	SourceName    string
	SourceOrderID string
	OrderCode     string
	Marketplace   string // raw channel label as reported by the source
	Channel       string // ECOMMERCE / RETAIL / B2B
	Shop          string
	OrderDate     time.Time
	RawStatus     string
	OrderTotal    float64
	ShippingTotal float64
	Items         []RawItem
}

// RawItem is a raw line item as yielded by a connector.
type RawItem struct {
	SourceLineID string
	SKU          string
	Barcode      string
	Name         string
	Color        string
	RawStatus    string
	Quantity     int
	UnitPrice    float64
	Amount       float64
}
