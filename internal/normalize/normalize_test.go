package normalize

import (
	"context"
	"testing"
	"time"

	"sales-sync/internal/cost"
	"sales-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	costs map[string]float64
}

func (s *stubResolver) Resolve(_ context.Context, sku, _ string) (*cost.Resolution, error) {
	if c, ok := s.costs[sku]; ok {
		return &cost.Resolution{UnitCost: c, Source: cost.SourceDirect}, nil
	}
	return nil, nil
}

type stubOwner struct {
	name  string
	owned string
}

func (s stubOwner) Name() string                   { return s.name }
func (s stubOwner) OwnsMarketplace(mp string) bool { return mp == s.owned }

func newNormalizer(costs map[string]float64) *Normalizer {
	owners := []MarketplaceOwner{
		stubOwner{name: models.SourceSentos},
		stubOwner{name: models.SourceTrendyol, owned: "Trendyol"},
	}
	return New(&stubResolver{costs: costs}, owners)
}

func sentosRawOrder() models.RawOrder {
	return models.RawOrder{
		SourceName:    models.SourceSentos,
		SourceOrderID: "123456",
		Marketplace:   "SHOPIFY",
		Channel:       "ECOMMERCE",
		OrderDate:     time.Date(2025, 10, 17, 14, 30, 0, 0, time.UTC),
		RawStatus:     "5",
		ShippingTotal: 29.9,
		Items: []models.RawItem{
			{SourceLineID: "1_SKU-A", SKU: "SKU-A", RawStatus: "accepted", Quantity: 2, UnitPrice: 50, Amount: 100},
		},
	}
}

func TestNormalizeBuildsCompositeIdentity(t *testing.T) {
	n := newNormalizer(nil)

	res, err := n.Normalize(context.Background(), sentosRawOrder())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, models.SourceSentos, res.Order.SourceName)
	assert.Equal(t, "123456", res.Order.SourceOrderID)
	assert.Equal(t, "Shopify", res.Order.Marketplace)
	assert.Equal(t, models.StatusShipped, res.Order.Status)
	assert.Equal(t, "5", res.Order.RawStatus)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "1_SKU-A", res.Items[0].SourceLineID)
}

func TestNormalizeSuppressesRetailChannel(t *testing.T) {
	n := newNormalizer(nil)

	raw := sentosRawOrder()
	raw.Channel = "RETAIL"

	res, err := n.Normalize(context.Background(), raw)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestNormalizeSuppressesCrossSourceDuplicates(t *testing.T) {
	n := newNormalizer(nil)

	// the aggregator surfaces a Trendyol order that the dedicated
	// connector already owns
	raw := sentosRawOrder()
	raw.Marketplace = "TRENDYOL"

	res, err := n.Normalize(context.Background(), raw)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestNormalizeKeepsOwnedMarketplace(t *testing.T) {
	n := newNormalizer(nil)

	raw := models.RawOrder{
		SourceName:    models.SourceTrendyol,
		SourceOrderID: "998877",
		Marketplace:   "Trendyol",
		Channel:       "ECOMMERCE",
		OrderDate:     time.Now(),
		RawStatus:     "Delivered",
	}

	res, err := n.Normalize(context.Background(), raw)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, models.StatusDelivered, res.Order.Status)
}

func TestNormalizeResolvesCostPerLine(t *testing.T) {
	n := newNormalizer(map[string]float64{"SKU-A": 35.5})

	res, err := n.Normalize(context.Background(), sentosRawOrder())
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.Items[0].ResolvedUnitCost)
	assert.Equal(t, 35.5, *res.Items[0].ResolvedUnitCost)
	assert.Equal(t, cost.SourceDirect, res.Items[0].CostSource)
}

func TestNormalizeCostMissYieldsNil(t *testing.T) {
	n := newNormalizer(nil)

	res, err := n.Normalize(context.Background(), sentosRawOrder())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Nil(t, res.Items[0].ResolvedUnitCost, "a cache miss must stay nil, never zero")
	assert.Empty(t, res.Items[0].CostSource)
}

func TestCanonicalStatusMappingPerSource(t *testing.T) {
	// a rejected/pending label on the aggregator must stay active
	assert.Equal(t, models.StatusPendingApproval, CanonicalStatusFor(models.SourceSentos, "1"))
	assert.Equal(t, models.StatusShipped, CanonicalStatusFor(models.SourceSentos, "5"))
	assert.Equal(t, models.StatusCancelled, CanonicalStatusFor(models.SourceSentos, "6"))
	assert.Equal(t, models.StatusDelivered, CanonicalStatusFor(models.SourceSentos, "99"))
	assert.Equal(t, models.StatusUnknown, CanonicalStatusFor(models.SourceSentos, "42"))

	assert.Equal(t, models.StatusReturned, CanonicalStatusFor(models.SourceTrendyol, "Returned"))
	assert.Equal(t, models.StatusCancelled, CanonicalStatusFor(models.SourceTrendyol, "UnSupplied"))
	assert.Equal(t, models.StatusShipped, CanonicalStatusFor(models.SourceTrendyol, "AtCollectionPoint"))
	assert.Equal(t, models.StatusUnknown, CanonicalStatusFor(models.SourceTrendyol, "SomethingNew"))

	assert.Equal(t, models.StatusUnknown, CanonicalStatusFor("other", "1"))
}

func TestNormalizeMarketplaceAliases(t *testing.T) {
	assert.Equal(t, "LCWaikiki", NormalizeMarketplace("LC WAIKIKI"))
	assert.Equal(t, "LCWaikiki", NormalizeMarketplace("lcw"))
	assert.Equal(t, "Hepsiburada", NormalizeMarketplace("HB"))
	assert.Equal(t, "UNKNOWN", NormalizeMarketplace(""))
	assert.Equal(t, "SomeNewChannel", NormalizeMarketplace("SomeNewChannel"))
}
