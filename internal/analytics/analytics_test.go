package analytics

import (
	"context"
	"testing"
	"time"

	"sales-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	orders []models.Order
	items  []models.OrderItem
}

func (f *fakeLedger) GetOrdersInRange(_ context.Context, _, _ time.Time, marketplace string) ([]models.Order, error) {
	if marketplace == "" {
		return f.orders, nil
	}
	var out []models.Order
	for _, o := range f.orders {
		if o.Marketplace == marketplace {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeLedger) GetItemsForOrders(_ context.Context, orderIDs []int64) ([]models.OrderItem, error) {
	wanted := make(map[int64]bool, len(orderIDs))
	for _, id := range orderIDs {
		wanted[id] = true
	}
	var out []models.OrderItem
	for _, item := range f.items {
		if wanted[item.OrderID] {
			out = append(out, item)
		}
	}
	return out, nil
}

var testRates = map[string]float64{
	"Trendyol": 21.5,
	"Shopify":  0,
}

func day(d int) time.Time {
	return time.Date(2025, 10, d, 12, 0, 0, 0, time.UTC)
}

func costPtr(c float64) *float64 { return &c }

func summarize(t *testing.T, ledger *fakeLedger, marketplace string) *Summary {
	t.Helper()
	svc := New(ledger, testRates)
	summary, err := svc.Summarize(context.Background(), day(1), day(31), marketplace)
	require.NoError(t, err)
	return summary
}

func TestSummarizeEmptyRange(t *testing.T) {
	s := summarize(t, &fakeLedger{}, "")

	assert.Equal(t, 0, s.OrderCount)
	assert.Equal(t, 0.0, s.GrossRevenue)
	assert.Equal(t, 0.0, s.ProfitMargin)
	assert.NotNil(t, s.PerMarketplace)
	assert.NotNil(t, s.DailySeries)
}

func TestNetPlusCancelledEqualsGross(t *testing.T) {
	ledger := &fakeLedger{
		orders: []models.Order{
			{ID: 1, Marketplace: "Shopify", OrderDate: day(2), Status: models.StatusDelivered},
			{ID: 2, Marketplace: "Shopify", OrderDate: day(3), Status: models.StatusCancelled},
		},
		items: []models.OrderItem{
			{OrderID: 1, SKU: "A", Quantity: 1, ItemAmount: 120.30, ResolvedUnitCost: costPtr(40)},
			{OrderID: 2, SKU: "B", Quantity: 1, ItemAmount: 79.70},
		},
	}

	s := summarize(t, ledger, "")
	assert.Equal(t, 200.0, s.GrossRevenue)
	assert.Equal(t, 79.70, s.CancelledRevenue)
	assert.Equal(t, 120.30, s.NetRevenue)
	assert.Equal(t, s.GrossRevenue, s.NetRevenue+s.CancelledRevenue)
}

func TestShippingNeverEntersNet(t *testing.T) {
	ledger := &fakeLedger{
		orders: []models.Order{
			{ID: 1, Marketplace: "Shopify", OrderDate: day(2), Status: models.StatusShipped, ShippingTotal: 29.9},
		},
		items: []models.OrderItem{
			{OrderID: 1, SKU: "A", Quantity: 1, ItemAmount: 100, ResolvedUnitCost: costPtr(30)},
		},
	}

	s := summarize(t, ledger, "")
	assert.Equal(t, 100.0, s.NetRevenue)
	assert.Equal(t, 29.9, s.ShippingTotal)
	assert.Equal(t, 40.1, s.Profit, "profit = net - cost - shipping - commission")

	require.Len(t, s.PerMarketplace, 1)
	assert.Equal(t, 29.9, s.PerMarketplace[0].ShippingTotal)
	assert.Equal(t, 40.1, s.PerMarketplace[0].Profit)
}

func TestCancelledOrderShippingNotAnExpense(t *testing.T) {
	ledger := &fakeLedger{
		orders: []models.Order{
			{ID: 1, Marketplace: "Shopify", OrderDate: day(2), Status: models.StatusCancelled, ShippingTotal: 15},
		},
		items: []models.OrderItem{
			{OrderID: 1, SKU: "A", Quantity: 1, ItemAmount: 100},
		},
	}

	s := summarize(t, ledger, "")
	assert.Equal(t, 0.0, s.ShippingTotal)
	assert.Equal(t, 0.0, s.Profit)
}

func TestRejectedItemInActiveOrderStaysInNet(t *testing.T) {
	// a pending-approval order with a rejected line: the raw item status is
	// diagnostic, the order is not cancelled and its revenue stays in net
	ledger := &fakeLedger{
		orders: []models.Order{
			{ID: 1, Marketplace: "Shopify", OrderDate: day(2), Status: models.StatusPendingApproval},
		},
		items: []models.OrderItem{
			{OrderID: 1, SKU: "A", Quantity: 1, ItemAmount: 60, RawItemStatus: models.ItemStatusRejected, ResolvedUnitCost: costPtr(20)},
			{OrderID: 1, SKU: "B", Quantity: 1, ItemAmount: 40, RawItemStatus: models.ItemStatusAccepted, ResolvedUnitCost: costPtr(10)},
		},
	}

	s := summarize(t, ledger, "")
	assert.Equal(t, 100.0, s.NetRevenue)
	assert.Equal(t, 0.0, s.CancelledRevenue)
	assert.Equal(t, 1, s.RejectedItemCount)
}

func TestCancelledOrderCancelsEveryLine(t *testing.T) {
	// three lines, one even marked accepted: order-level cancellation wins
	ledger := &fakeLedger{
		orders: []models.Order{
			{ID: 1, Marketplace: "Shopify", OrderDate: day(2), Status: models.StatusCancelled},
		},
		items: []models.OrderItem{
			{OrderID: 1, SKU: "A", Quantity: 1, ItemAmount: 100, RawItemStatus: models.ItemStatusAccepted},
			{OrderID: 1, SKU: "B", Quantity: 1, ItemAmount: 50},
			{OrderID: 1, SKU: "C", Quantity: 1, ItemAmount: 25},
		},
	}

	s := summarize(t, ledger, "")
	assert.Equal(t, 175.0, s.GrossRevenue)
	assert.Equal(t, 175.0, s.CancelledRevenue)
	assert.Equal(t, 0.0, s.NetRevenue)
	assert.Equal(t, 1, s.CancelledOrderCount)
}

func TestUnresolvedCostIsOmittedAndCounted(t *testing.T) {
	ledger := &fakeLedger{
		orders: []models.Order{
			{ID: 1, Marketplace: "Shopify", OrderDate: day(2), Status: models.StatusDelivered},
		},
		items: []models.OrderItem{
			{OrderID: 1, SKU: "A", Quantity: 2, ItemAmount: 100, ResolvedUnitCost: costPtr(25)},
			{OrderID: 1, SKU: "MYSTERY", Quantity: 1, ItemAmount: 50},
		},
	}

	s := summarize(t, ledger, "")
	assert.Equal(t, 50.0, s.TotalCost, "only resolved costs accumulate")
	assert.Equal(t, 1, s.UnresolvedCostCount)
	assert.Equal(t, 150.0, s.NetRevenue)
}

func TestProfitMarginZeroWhenNetIsZero(t *testing.T) {
	ledger := &fakeLedger{
		orders: []models.Order{
			{ID: 1, Marketplace: "Shopify", OrderDate: day(2), Status: models.StatusReturned},
		},
		items: []models.OrderItem{
			{OrderID: 1, SKU: "A", Quantity: 1, ItemAmount: 100},
		},
	}

	s := summarize(t, ledger, "")
	assert.Equal(t, 0.0, s.NetRevenue)
	assert.Equal(t, 0.0, s.ProfitMargin)
	assert.Equal(t, 1, s.ReturnedOrderCount)
}

func TestCommissionPerMarketplace(t *testing.T) {
	ledger := &fakeLedger{
		orders: []models.Order{
			{ID: 1, Marketplace: "Trendyol", OrderDate: day(2), Status: models.StatusDelivered},
			{ID: 2, Marketplace: "Shopify", OrderDate: day(2), Status: models.StatusDelivered},
		},
		items: []models.OrderItem{
			{OrderID: 1, SKU: "A", Quantity: 1, ItemAmount: 200, ResolvedUnitCost: costPtr(80)},
			{OrderID: 2, SKU: "B", Quantity: 1, ItemAmount: 100, ResolvedUnitCost: costPtr(30)},
		},
	}

	s := summarize(t, ledger, "")
	assert.Equal(t, 43.0, s.CommissionTotal, "21.5 percent of 200, 0 percent of 100")

	require.Len(t, s.PerMarketplace, 2)
	assert.Equal(t, "Trendyol", s.PerMarketplace[0].Marketplace)
	assert.Equal(t, 21.5, s.PerMarketplace[0].CommissionRate)
	assert.Equal(t, 43.0, s.PerMarketplace[0].CommissionTotal)
	assert.Equal(t, 0.0, s.PerMarketplace[1].CommissionTotal)
}

func TestMarketplaceFilter(t *testing.T) {
	ledger := &fakeLedger{
		orders: []models.Order{
			{ID: 1, Marketplace: "Trendyol", OrderDate: day(2), Status: models.StatusDelivered},
			{ID: 2, Marketplace: "Shopify", OrderDate: day(2), Status: models.StatusDelivered},
		},
		items: []models.OrderItem{
			{OrderID: 1, SKU: "A", Quantity: 1, ItemAmount: 200},
			{OrderID: 2, SKU: "B", Quantity: 1, ItemAmount: 100},
		},
	}

	s := summarize(t, ledger, "Shopify")
	assert.Equal(t, 1, s.OrderCount)
	assert.Equal(t, 100.0, s.GrossRevenue)
}

func TestDailySeriesAndByProduct(t *testing.T) {
	ledger := &fakeLedger{
		orders: []models.Order{
			{ID: 1, Marketplace: "Shopify", OrderDate: day(2), Status: models.StatusDelivered},
			{ID: 2, Marketplace: "Shopify", OrderDate: day(3), Status: models.StatusDelivered},
			{ID: 3, Marketplace: "Shopify", OrderDate: day(3), Status: models.StatusCancelled},
		},
		items: []models.OrderItem{
			{OrderID: 1, SKU: "A", ProductName: "Alpha", Quantity: 2, ItemAmount: 100, ResolvedUnitCost: costPtr(20)},
			{OrderID: 2, SKU: "A", ProductName: "Alpha", Quantity: 1, ItemAmount: 50, ResolvedUnitCost: costPtr(20)},
			{OrderID: 2, SKU: "B", ProductName: "Beta", Quantity: 1, ItemAmount: 30},
			{OrderID: 3, SKU: "A", Quantity: 1, ItemAmount: 50},
		},
	}

	s := summarize(t, ledger, "")

	require.Len(t, s.DailySeries, 2)
	assert.Equal(t, "2025-10-02", s.DailySeries[0].Date)
	assert.Equal(t, 100.0, s.DailySeries[0].NetRevenue)
	assert.Equal(t, "2025-10-03", s.DailySeries[1].Date)
	assert.Equal(t, 130.0, s.DailySeries[1].GrossRevenue)
	assert.Equal(t, 80.0, s.DailySeries[1].NetRevenue)

	// cancelled lines never reach the product breakdown
	require.Len(t, s.ByProduct, 2)
	assert.Equal(t, "A", s.ByProduct[0].SKU)
	assert.Equal(t, 3, s.ByProduct[0].Quantity)
	assert.Equal(t, 150.0, s.ByProduct[0].NetRevenue)
	assert.Equal(t, 60.0, s.ByProduct[0].TotalCost)
	assert.Equal(t, 90.0, s.ByProduct[0].Profit)
}
