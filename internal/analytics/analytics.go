package analytics

import (
	"context"
	"sort"
	"time"

	"sales-sync/internal/models"
	"sales-sync/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderSource is the slice of the store the analytics engine reads from.
type OrderSource interface {
	GetOrdersInRange(ctx context.Context, start, end time.Time, marketplace string) ([]models.Order, error)
	GetItemsForOrders(ctx context.Context, orderIDs []int64) ([]models.OrderItem, error)
}

// Summary is the revenue/profit report for a date range.
//
// Revenue semantics: gross covers every order in range, cancelled covers
// orders whose canonical status is cancelled or returned, and net is the
// difference. Shipping never enters net; it is reported separately and
// subtracted from profit as an expense.
type Summary struct {
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Marketplace string `json:"marketplace,omitempty"`

	OrderCount          int     `json:"order_count"`
	CancelledOrderCount int     `json:"cancelled_order_count"`
	ReturnedOrderCount  int     `json:"returned_order_count"`
	GrossRevenue        float64 `json:"gross_revenue"`
	CancelledRevenue    float64 `json:"cancelled_revenue"`
	NetRevenue          float64 `json:"net_revenue"`
	ShippingTotal       float64 `json:"shipping_total"`
	TotalCost           float64 `json:"total_cost"`
	CommissionTotal     float64 `json:"estimated_commission"`
	Profit              float64 `json:"profit"`
	ProfitMargin        float64 `json:"profit_margin"`

	// UnresolvedCostCount is the number of active line items whose cost
	// could not be resolved; their cost contribution is omitted, never
	// guessed.
	UnresolvedCostCount int `json:"unresolved_cost_count"`

	// RejectedItemCount counts "rejected" raw line statuses inside active
	// orders. Diagnostic only: it never moves revenue between buckets.
	RejectedItemCount int `json:"rejected_item_count"`

	PerMarketplace []MarketplaceBreakdown `json:"per_marketplace"`
	DailySeries    []DailyPoint           `json:"daily_series"`
	ByProduct      []ProductBreakdown     `json:"by_product"`
}

// MarketplaceBreakdown is the per-channel slice of the summary.
type MarketplaceBreakdown struct {
	Marketplace         string  `json:"marketplace"`
	OrderCount          int     `json:"order_count"`
	GrossRevenue        float64 `json:"gross_revenue"`
	CancelledRevenue    float64 `json:"cancelled_revenue"`
	NetRevenue          float64 `json:"net_revenue"`
	TotalCost           float64 `json:"total_cost"`
	ShippingTotal       float64 `json:"shipping_total"`
	CommissionRate      float64 `json:"commission_rate"`
	CommissionTotal     float64 `json:"estimated_commission"`
	Profit              float64 `json:"profit"`
	ProfitMargin        float64 `json:"profit_margin"`
	UnresolvedCostCount int     `json:"unresolved_cost_count"`
}

// DailyPoint is one day of the time series.
type DailyPoint struct {
	Date             string  `json:"date"`
	OrderCount       int     `json:"order_count"`
	GrossRevenue     float64 `json:"gross_revenue"`
	CancelledRevenue float64 `json:"cancelled_revenue"`
	NetRevenue       float64 `json:"net_revenue"`
}

// ProductBreakdown aggregates active line items per SKU.
type ProductBreakdown struct {
	SKU         string  `json:"sku"`
	ProductName string  `json:"product_name,omitempty"`
	Quantity    int     `json:"quantity"`
	NetRevenue  float64 `json:"net_revenue"`
	TotalCost   float64 `json:"total_cost"`
	Profit      float64 `json:"profit"`
}

const byProductLimit = 100

// Service computes summaries from the ledger. Commission figures are
// configured per-marketplace estimates, not vendor-reported amounts.
type Service struct {
	store           OrderSource
	commissionRates map[string]float64
	logger          *zap.Logger
}

func New(store OrderSource, commissionRates map[string]float64) *Service {
	return &Service{
		store:           store,
		commissionRates: commissionRates,
		logger:          util.NamedLogger("analytics"),
	}
}

type marketplaceAccumulator struct {
	orderCount int
	gross      decimal.Decimal
	cancelled  decimal.Decimal
	cost       decimal.Decimal
	shipping   decimal.Decimal
	unresolved int
}

type dailyAccumulator struct {
	orderCount int
	gross      decimal.Decimal
	cancelled  decimal.Decimal
}

type productAccumulator struct {
	name     string
	quantity int
	revenue  decimal.Decimal
	cost     decimal.Decimal
}

// Summarize builds the report for the closed day range [start, end],
// optionally restricted to one marketplace. An empty range yields a
// zero-valued summary, not an error.
func (s *Service) Summarize(ctx context.Context, start, end time.Time, marketplace string) (*Summary, error) {
	ctx, span := util.StartSpan(ctx, "analytics.Summarize")
	defer span.End()

	orders, err := s.store.GetOrdersInRange(ctx, start, end, marketplace)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		StartDate:      start.Format("2006-01-02"),
		EndDate:        end.Format("2006-01-02"),
		Marketplace:    marketplace,
		PerMarketplace: []MarketplaceBreakdown{},
		DailySeries:    []DailyPoint{},
		ByProduct:      []ProductBreakdown{},
	}
	if len(orders) == 0 {
		return summary, nil
	}

	orderIDs := make([]int64, len(orders))
	orderByID := make(map[int64]models.Order, len(orders))
	for i, o := range orders {
		orderIDs[i] = o.ID
		orderByID[o.ID] = o
	}

	items, err := s.store.GetItemsForOrders(ctx, orderIDs)
	if err != nil {
		return nil, err
	}
	itemsByOrder := make(map[int64][]models.OrderItem, len(orders))
	for _, item := range items {
		itemsByOrder[item.OrderID] = append(itemsByOrder[item.OrderID], item)
	}

	gross := decimal.Zero
	cancelled := decimal.Zero
	cost := decimal.Zero
	shipping := decimal.Zero
	byMarketplace := make(map[string]*marketplaceAccumulator)
	byDay := make(map[string]*dailyAccumulator)
	byProduct := make(map[string]*productAccumulator)

	for _, order := range orders {
		summary.OrderCount++
		isCancelled := order.Status.IsCancelled()
		switch order.Status {
		case models.StatusCancelled:
			summary.CancelledOrderCount++
		case models.StatusReturned:
			summary.ReturnedOrderCount++
		}

		mp := byMarketplace[order.Marketplace]
		if mp == nil {
			mp = &marketplaceAccumulator{}
			byMarketplace[order.Marketplace] = mp
		}
		mp.orderCount++

		day := order.OrderDate.Format("2006-01-02")
		daily := byDay[day]
		if daily == nil {
			daily = &dailyAccumulator{}
			byDay[day] = daily
		}
		daily.orderCount++

		if !isCancelled {
			orderShipping := decimal.NewFromFloat(order.ShippingTotal)
			shipping = shipping.Add(orderShipping)
			mp.shipping = mp.shipping.Add(orderShipping)
		}

		for _, item := range itemsByOrder[order.ID] {
			amount := decimal.NewFromFloat(item.ItemAmount)
			gross = gross.Add(amount)
			mp.gross = mp.gross.Add(amount)
			daily.gross = daily.gross.Add(amount)

			// cancellation is order-level: a cancelled or returned order
			// cancels every line, whatever the raw item status says
			if isCancelled {
				cancelled = cancelled.Add(amount)
				mp.cancelled = mp.cancelled.Add(amount)
				daily.cancelled = daily.cancelled.Add(amount)
				continue
			}

			if item.RawItemStatus == models.ItemStatusRejected {
				summary.RejectedItemCount++
			}

			if item.ResolvedUnitCost == nil {
				summary.UnresolvedCostCount++
				mp.unresolved++
			} else {
				lineCost := decimal.NewFromFloat(*item.ResolvedUnitCost).
					Mul(decimal.NewFromInt(int64(item.Quantity)))
				cost = cost.Add(lineCost)
				mp.cost = mp.cost.Add(lineCost)
			}

			prod := byProduct[item.SKU]
			if prod == nil {
				prod = &productAccumulator{name: item.ProductName}
				byProduct[item.SKU] = prod
			}
			prod.quantity += item.Quantity
			prod.revenue = prod.revenue.Add(amount)
			if item.ResolvedUnitCost != nil {
				prod.cost = prod.cost.Add(decimal.NewFromFloat(*item.ResolvedUnitCost).
					Mul(decimal.NewFromInt(int64(item.Quantity))))
			}
		}
	}

	net := gross.Sub(cancelled)
	commission := decimal.Zero
	for name, mp := range byMarketplace {
		rate := decimal.NewFromFloat(s.commissionRates[name] / 100)
		commission = commission.Add(mp.gross.Sub(mp.cancelled).Mul(rate))
	}
	profit := net.Sub(cost).Sub(shipping).Sub(commission)

	summary.GrossRevenue = round2(gross)
	summary.CancelledRevenue = round2(cancelled)
	summary.NetRevenue = round2(net)
	summary.ShippingTotal = round2(shipping)
	summary.TotalCost = round2(cost)
	summary.CommissionTotal = round2(commission)
	summary.Profit = round2(profit)
	summary.ProfitMargin = margin(profit, net)

	summary.PerMarketplace = s.marketplaceBreakdowns(byMarketplace)
	summary.DailySeries = dailySeries(byDay)
	summary.ByProduct = productBreakdowns(byProduct)

	s.logger.Debug("Computed summary",
		zap.String("start", summary.StartDate),
		zap.String("end", summary.EndDate),
		zap.Int("orders", summary.OrderCount),
		zap.Int("unresolved_costs", summary.UnresolvedCostCount))

	return summary, nil
}

func (s *Service) marketplaceBreakdowns(acc map[string]*marketplaceAccumulator) []MarketplaceBreakdown {
	out := make([]MarketplaceBreakdown, 0, len(acc))
	for name, mp := range acc {
		net := mp.gross.Sub(mp.cancelled)
		rate := s.commissionRates[name]
		commission := net.Mul(decimal.NewFromFloat(rate / 100))
		profit := net.Sub(mp.cost).Sub(mp.shipping).Sub(commission)
		out = append(out, MarketplaceBreakdown{
			Marketplace:         name,
			OrderCount:          mp.orderCount,
			GrossRevenue:        round2(mp.gross),
			CancelledRevenue:    round2(mp.cancelled),
			NetRevenue:          round2(net),
			TotalCost:           round2(mp.cost),
			ShippingTotal:       round2(mp.shipping),
			CommissionRate:      rate,
			CommissionTotal:     round2(commission),
			Profit:              round2(profit),
			ProfitMargin:        margin(profit, net),
			UnresolvedCostCount: mp.unresolved,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NetRevenue > out[j].NetRevenue })
	return out
}

func dailySeries(acc map[string]*dailyAccumulator) []DailyPoint {
	out := make([]DailyPoint, 0, len(acc))
	for day, d := range acc {
		out = append(out, DailyPoint{
			Date:             day,
			OrderCount:       d.orderCount,
			GrossRevenue:     round2(d.gross),
			CancelledRevenue: round2(d.cancelled),
			NetRevenue:       round2(d.gross.Sub(d.cancelled)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func productBreakdowns(acc map[string]*productAccumulator) []ProductBreakdown {
	out := make([]ProductBreakdown, 0, len(acc))
	for sku, p := range acc {
		out = append(out, ProductBreakdown{
			SKU:         sku,
			ProductName: p.name,
			Quantity:    p.quantity,
			NetRevenue:  round2(p.revenue),
			TotalCost:   round2(p.cost),
			Profit:      round2(p.revenue.Sub(p.cost)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NetRevenue != out[j].NetRevenue {
			return out[i].NetRevenue > out[j].NetRevenue
		}
		return out[i].SKU < out[j].SKU
	})
	if len(out) > byProductLimit {
		out = out[:byProductLimit]
	}
	return out
}

func round2(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

// margin is profit/net as a percentage; zero when there is no net revenue.
func margin(profit, net decimal.Decimal) float64 {
	if net.IsZero() {
		return 0
	}
	return round2(profit.Div(net).Mul(decimal.NewFromInt(100)))
}
