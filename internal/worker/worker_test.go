package worker

import (
	"context"
	"errors"
	"testing"

	"sales-sync/internal/cost"
	"sales-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProductWriter struct {
	upserts []*models.Product
	err     error
}

func (f *fakeProductWriter) UpsertProduct(_ context.Context, p *models.Product) error {
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, p)
	return nil
}

type fakeCostCache struct {
	entries []cost.CacheEntry
	err     error
}

func (f *fakeCostCache) Get(context.Context, string) (*cost.CacheEntry, error) { return nil, nil }
func (f *fakeCostCache) GetByBarcode(context.Context, string) (*cost.CacheEntry, error) {
	return nil, nil
}

func (f *fakeCostCache) Put(_ context.Context, entry cost.CacheEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func productEvent(sku string) *models.ProductUpdatedEvent {
	return &models.ProductUpdatedEvent{
		BaseEvent: models.BaseEvent{EventID: "e-1", EventType: models.EventTypeProductUpdated},
		SKU:       sku,
		Barcode:   "8680000123",
		Name:      "Alpha",
		Cost:      42.5,
	}
}

func TestHandleProductUpdatedWritesStoreAndCache(t *testing.T) {
	products := &fakeProductWriter{}
	cache := &fakeCostCache{}
	w := NewCacheRefreshWorker(nil, products, cache)

	err := w.handleProductUpdated(context.Background(), productEvent("322685"))
	require.NoError(t, err)

	require.Len(t, products.upserts, 1)
	assert.Equal(t, "322685", products.upserts[0].SKU)
	assert.Equal(t, 42.5, products.upserts[0].PurchasePriceWithVAT)

	require.Len(t, cache.entries, 1)
	assert.Equal(t, "322685", cache.entries[0].SKU)
	assert.Equal(t, "8680000123", cache.entries[0].Barcode)
	assert.False(t, cache.entries[0].FetchedAt.IsZero())
}

func TestHandleProductUpdatedDropsEmptySKU(t *testing.T) {
	products := &fakeProductWriter{}
	w := NewCacheRefreshWorker(nil, products, &fakeCostCache{})

	err := w.handleProductUpdated(context.Background(), productEvent(""))
	require.NoError(t, err, "bad events are dropped, not retried forever")
	assert.Empty(t, products.upserts)
}

func TestHandleProductUpdatedStoreFailureIsRetried(t *testing.T) {
	products := &fakeProductWriter{err: errors.New("db down")}
	w := NewCacheRefreshWorker(nil, products, &fakeCostCache{})

	err := w.handleProductUpdated(context.Background(), productEvent("322685"))
	assert.Error(t, err, "store failures propagate so the message is redelivered")
}

func TestHandleProductUpdatedCacheFailureIsTolerated(t *testing.T) {
	products := &fakeProductWriter{}
	cache := &fakeCostCache{err: errors.New("redis down")}
	w := NewCacheRefreshWorker(nil, products, cache)

	err := w.handleProductUpdated(context.Background(), productEvent("322685"))
	require.NoError(t, err, "the catalog write is the source of truth")
	require.Len(t, products.upserts, 1)
}
