package worker

import (
	"context"
	"time"

	"sales-sync/internal/broker"
	"sales-sync/internal/cost"
	"sales-sync/internal/models"
	"sales-sync/internal/util"

	"go.uber.org/zap"
)

// ProductWriter is the slice of the store the worker writes catalog
// updates to.
type ProductWriter interface {
	UpsertProduct(ctx context.Context, p *models.Product) error
}

// CacheRefreshWorker consumes product.updated events from the product-sync
// pipeline and keeps both the catalog table and the cost cache current, so
// the next sync run resolves costs without a database round trip.
type CacheRefreshWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	products     ProductWriter
	cache        cost.CostCache
	logger       *zap.Logger
}

func NewCacheRefreshWorker(consumer *broker.Consumer, products ProductWriter, cache cost.CostCache) *CacheRefreshWorker {
	w := &CacheRefreshWorker{
		consumer: consumer,
		products: products,
		cache:    cache,
		logger:   util.NamedLogger("worker.cache_refresh"),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnProductUpdated(w.handleProductUpdated)
	w.eventHandler = eventHandler

	return w
}

func (w *CacheRefreshWorker) handleProductUpdated(ctx context.Context, event *models.ProductUpdatedEvent) error {
	if event.SKU == "" {
		w.logger.Warn("Dropping product event without SKU", zap.String("event_id", event.EventID))
		return nil
	}

	product := &models.Product{
		SKU:                  event.SKU,
		Barcode:              event.Barcode,
		Name:                 event.Name,
		PurchasePriceWithVAT: event.Cost,
	}
	if err := w.products.UpsertProduct(ctx, product); err != nil {
		return err
	}

	entry := cost.CacheEntry{
		SKU:       event.SKU,
		Barcode:   event.Barcode,
		Name:      event.Name,
		Cost:      event.Cost,
		FetchedAt: time.Now(),
	}
	if err := w.cache.Put(ctx, entry); err != nil {
		// the cache is an optimization; the catalog row is the source of
		// truth and is already written
		w.logger.Warn("Failed to refresh cost cache",
			zap.String("sku", event.SKU), zap.Error(err))
	}

	w.logger.Debug("Product refreshed",
		zap.String("sku", event.SKU),
		zap.Float64("cost", event.Cost))
	return nil
}

// Start starts the worker
func (w *CacheRefreshWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting cache refresh worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CacheRefreshWorker) Stop() error {
	w.logger.Info("Stopping cache refresh worker")
	return w.consumer.Close()
}
