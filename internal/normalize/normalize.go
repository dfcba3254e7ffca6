package normalize

import (
	"context"
	"strings"

	"sales-sync/internal/cost"
	"sales-sync/internal/models"
	"sales-sync/internal/util"

	"go.uber.org/zap"
)

// Per-source raw-status tables. Every raw status is mapped exactly once at
// ingestion; downstream code only ever sees the canonical set.
//
// Sentos code 5 ("shipped") and item-level "rejected" both describe active
// orders; neither may be conflated with a return.
var sentosStatusMap = map[string]models.CanonicalStatus{
	"1":  models.StatusPendingApproval,
	"2":  models.StatusConfirmed,
	"3":  models.StatusSourcing,
	"4":  models.StatusPreparing,
	"5":  models.StatusShipped,
	"6":  models.StatusCancelled,
	"99": models.StatusDelivered,
}

var trendyolStatusMap = map[string]models.CanonicalStatus{
	"Awaiting":          models.StatusPendingApproval,
	"Created":           models.StatusPendingApproval,
	"Picking":           models.StatusConfirmed,
	"Invoiced":          models.StatusConfirmed,
	"UnPacked":          models.StatusConfirmed,
	"Shipped":           models.StatusShipped,
	"AtCollectionPoint": models.StatusShipped,
	"Delivered":         models.StatusDelivered,
	"Cancelled":         models.StatusCancelled,
	"UnSupplied":        models.StatusCancelled,
	"UnDelivered":       models.StatusReturned,
	"Returned":          models.StatusReturned,
}

// CanonicalStatusFor maps a source-specific raw status into the canonical
// set. Unmapped values become StatusUnknown, never an error.
func CanonicalStatusFor(sourceName, rawStatus string) models.CanonicalStatus {
	var table map[string]models.CanonicalStatus
	switch sourceName {
	case models.SourceSentos:
		table = sentosStatusMap
	case models.SourceTrendyol:
		table = trendyolStatusMap
	default:
		return models.StatusUnknown
	}
	if status, ok := table[rawStatus]; ok {
		return status
	}
	return models.StatusUnknown
}

var marketplaceAliases = map[string]string{
	"TRENDYOL":    "Trendyol",
	"SHOPIFY":     "Shopify",
	"LC WAIKIKI":  "LCWaikiki",
	"LCWAIKIKI":   "LCWaikiki",
	"LCW":         "LCWaikiki",
	"HEPSIBURADA": "Hepsiburada",
	"HB":          "Hepsiburada",
	"PAZARAMA":    "Pazarama",
	"N11":         "N11",
	"AMAZON":      "Amazon",
	"CICEKSEPETI": "CicekSepeti",
	"ÇIÇEKSEPETI": "CicekSepeti",
}

// NormalizeMarketplace standardizes raw channel labels. Unknown labels pass
// through so they stay visible in breakdowns; empty becomes UNKNOWN.
func NormalizeMarketplace(raw string) string {
	if raw == "" {
		return "UNKNOWN"
	}
	if canonical, ok := marketplaceAliases[strings.ToUpper(raw)]; ok {
		return canonical
	}
	return raw
}

// CostResolver is the slice of the cost package the normalizer needs.
type CostResolver interface {
	Resolve(ctx context.Context, sku, barcode string) (*cost.Resolution, error)
}

// MarketplaceOwner answers whether a named connector is the designated
// owner of a canonical marketplace.
type MarketplaceOwner interface {
	Name() string
	OwnsMarketplace(marketplace string) bool
}

// Result is one canonical order plus its items, ready for the ledger.
type Result struct {
	Order models.Order
	Items []models.OrderItem
}

// Normalizer converts raw source records into canonical form: stable
// composite identity, canonical status, normalized marketplace and resolved
// line costs. It also suppresses records the ingesting connector does not
// own.
type Normalizer struct {
	resolver CostResolver
	owners   []MarketplaceOwner
	logger   *zap.Logger
}

func New(resolver CostResolver, owners []MarketplaceOwner) *Normalizer {
	return &Normalizer{
		resolver: resolver,
		owners:   owners,
		logger:   util.NamedLogger("normalize"),
	}
}

// Normalize returns nil when the record is suppressed: retail-channel orders
// and orders whose marketplace is owned by a different connector than the
// one currently ingesting (the dedicated pipeline would double-count them).
func (n *Normalizer) Normalize(ctx context.Context, raw models.RawOrder) (*Result, error) {
	if strings.EqualFold(raw.Channel, "RETAIL") {
		util.OrdersSuppressedTotal.WithLabelValues(raw.SourceName, "retail").Inc()
		n.logger.Debug("Suppressed retail order",
			zap.String("source", raw.SourceName),
			zap.String("order_id", raw.SourceOrderID))
		return nil, nil
	}

	marketplace := NormalizeMarketplace(raw.Marketplace)

	for _, owner := range n.owners {
		if owner.Name() != raw.SourceName && owner.OwnsMarketplace(marketplace) {
			util.OrdersSuppressedTotal.WithLabelValues(raw.SourceName, "cross_source").Inc()
			n.logger.Info("Suppressed cross-source order",
				zap.String("source", raw.SourceName),
				zap.String("owner", owner.Name()),
				zap.String("marketplace", marketplace),
				zap.String("order_id", raw.SourceOrderID))
			return nil, nil
		}
	}

	order := models.Order{
		SourceName:    raw.SourceName,
		SourceOrderID: raw.SourceOrderID,
		OrderCode:     raw.OrderCode,
		Marketplace:   marketplace,
		Shop:          raw.Shop,
		OrderDate:     raw.OrderDate,
		Status:        CanonicalStatusFor(raw.SourceName, raw.RawStatus),
		RawStatus:     raw.RawStatus,
		OrderTotal:    raw.OrderTotal,
		ShippingTotal: raw.ShippingTotal,
	}

	items := make([]models.OrderItem, 0, len(raw.Items))
	for _, rawItem := range raw.Items {
		item := models.OrderItem{
			SourceName:    raw.SourceName,
			SourceLineID:  rawItem.SourceLineID,
			ProductName:   rawItem.Name,
			SKU:           rawItem.SKU,
			Barcode:       rawItem.Barcode,
			Color:         rawItem.Color,
			RawItemStatus: rawItem.RawStatus,
			Quantity:      rawItem.Quantity,
			UnitPrice:     rawItem.UnitPrice,
			ItemAmount:    rawItem.Amount,
		}

		resolution, err := n.resolver.Resolve(ctx, rawItem.SKU, rawItem.Barcode)
		if err != nil {
			return nil, err
		}
		if resolution != nil {
			unitCost := resolution.UnitCost
			item.ResolvedUnitCost = &unitCost
			item.CostSource = resolution.Source
		}

		items = append(items, item)
	}

	return &Result{Order: order, Items: items}, nil
}
