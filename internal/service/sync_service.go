package service

import (
	"context"
	"sync"
	"time"

	"sales-sync/internal/connector"
	"sales-sync/internal/models"
	"sales-sync/internal/normalize"
	"sales-sync/internal/store"
	"sales-sync/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Run kinds
const (
	KindFull = "full"
	KindLive = "live"
)

// OrderNormalizer converts raw source orders into ledger-ready records;
// nil result means the order was suppressed.
type OrderNormalizer interface {
	Normalize(ctx context.Context, raw models.RawOrder) (*normalize.Result, error)
}

// Ledger is the slice of the store the sync service writes to.
type Ledger interface {
	UpsertOrders(ctx context.Context, records []store.OrderRecord) (store.BatchResult, error)
}

// Publisher emits sync-domain events. Publishing is best effort: a broker
// outage never fails a run.
type Publisher interface {
	PublishSyncCompleted(ctx context.Context, event *models.SyncCompletedEvent) error
	PublishOrderUpserted(ctx context.Context, event *models.OrderUpsertedEvent) error
}

// PrefixLoader refreshes the variant-prefix table before a run.
type PrefixLoader interface {
	LoadPrefixes(ctx context.Context) error
}

// RunReport summarizes one completed sync run.
type RunReport struct {
	RunID          string               `json:"run_id"`
	Kind           string               `json:"kind"`
	StartedAt      time.Time            `json:"started_at"`
	Duration       time.Duration        `json:"-"`
	OrdersUpserted int                  `json:"orders_upserted"`
	ItemsUpserted  int                  `json:"items_upserted"`
	Collisions     int                  `json:"collisions"`
	Errors         []models.SourceError `json:"errors,omitempty"`
}

// SyncService runs one sync pass: fetch from every source in parallel,
// normalize, write to the ledger in batches and publish events. Each source
// is its own failure boundary; one marketplace being down degrades the run,
// it never aborts it.
type SyncService struct {
	connectors   []connector.Connector
	normalizer   OrderNormalizer
	ledger       Ledger
	publisher    Publisher
	prefixes     PrefixLoader
	batchSize    int
	fetchTimeout time.Duration
	logger       *zap.Logger
}

func NewSyncService(
	connectors []connector.Connector,
	normalizer OrderNormalizer,
	ledger Ledger,
	publisher Publisher,
	prefixes PrefixLoader,
	batchSize int,
	fetchTimeout time.Duration,
) *SyncService {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &SyncService{
		connectors:   connectors,
		normalizer:   normalizer,
		ledger:       ledger,
		publisher:    publisher,
		prefixes:     prefixes,
		batchSize:    batchSize,
		fetchTimeout: fetchTimeout,
		logger:       util.NamedLogger("service.sync"),
	}
}

type sourceResult struct {
	orders     int
	items      int
	collisions int
	err        error
	source     string
}

// Run executes one sync pass over the given date range. The returned report
// is non-nil even when sources failed; only a nil context or ledger-level
// breakage produces an error.
func (s *SyncService) Run(ctx context.Context, kind string, dr connector.DateRange) (*RunReport, error) {
	ctx, span := util.StartSpan(ctx, "SyncService.Run")
	defer span.End()

	report := &RunReport{
		RunID:     uuid.New().String(),
		Kind:      kind,
		StartedAt: time.Now(),
	}

	s.logger.Info("Sync run starting",
		zap.String("run_id", report.RunID),
		zap.String("kind", kind),
		zap.Time("range_start", dr.Start),
		zap.Time("range_end", dr.End))

	if s.prefixes != nil {
		if err := s.prefixes.LoadPrefixes(ctx); err != nil {
			// cost resolution degrades to the non-prefix steps
			s.logger.Warn("Variant prefix refresh failed", zap.Error(err))
		}
	}

	results := make(chan sourceResult, len(s.connectors))
	var wg sync.WaitGroup
	for _, conn := range s.connectors {
		wg.Add(1)
		go func(conn connector.Connector) {
			defer wg.Done()
			res := s.syncSource(ctx, conn, dr)
			res.source = conn.Name()
			results <- res
		}(conn)
	}
	wg.Wait()
	close(results)

	for res := range results {
		report.OrdersUpserted += res.orders
		report.ItemsUpserted += res.items
		report.Collisions += res.collisions
		if res.err != nil {
			util.SyncSourceErrorsTotal.WithLabelValues(res.source).Inc()
			report.Errors = append(report.Errors, models.SourceError{
				Source:     res.source,
				Message:    res.err.Error(),
				OccurredAt: time.Now(),
			})
		}
	}

	report.Duration = time.Since(report.StartedAt)
	util.SyncRunDuration.WithLabelValues(kind).Observe(report.Duration.Seconds())

	s.logger.Info("Sync run finished",
		zap.String("run_id", report.RunID),
		zap.String("kind", kind),
		zap.Duration("duration", report.Duration),
		zap.Int("orders", report.OrdersUpserted),
		zap.Int("items", report.ItemsUpserted),
		zap.Int("source_errors", len(report.Errors)))

	if s.publisher != nil {
		event := &models.SyncCompletedEvent{
			RunID:           report.RunID,
			Kind:            kind,
			StartedAt:       report.StartedAt,
			DurationSeconds: report.Duration.Seconds(),
			OrdersUpserted:  report.OrdersUpserted,
			ItemsUpserted:   report.ItemsUpserted,
			Errors:          report.Errors,
		}
		if err := s.publisher.PublishSyncCompleted(ctx, event); err != nil {
			s.logger.Warn("Failed to publish sync.completed", zap.Error(err))
		}
	}

	return report, nil
}

// syncSource drains one connector's pages for the range, flushing ledger
// batches as it goes. The first unrecoverable page error ends the source;
// batches already flushed stay flushed.
func (s *SyncService) syncSource(ctx context.Context, conn connector.Connector, dr connector.DateRange) sourceResult {
	var res sourceResult
	logger := s.logger.With(zap.String("source", conn.Name()))

	batch := make([]store.OrderRecord, 0, s.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		written, err := s.ledger.UpsertOrders(ctx, batch)
		if err != nil {
			return err
		}
		res.orders += written.OrdersUpserted
		res.items += written.ItemsUpserted
		res.collisions += written.Collisions
		s.publishBatch(ctx, batch)
		batch = batch[:0]
		return nil
	}

	cursor := ""
	for {
		fetchCtx := ctx
		var cancel context.CancelFunc
		if s.fetchTimeout > 0 {
			fetchCtx, cancel = context.WithTimeout(ctx, s.fetchTimeout)
		}
		page, err := conn.FetchPage(fetchCtx, dr, cursor)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			logger.Error("Source fetch failed", zap.String("cursor", cursor), zap.Error(err))
			res.err = err
			break
		}

		for _, raw := range page.Orders {
			normalized, err := s.normalizer.Normalize(ctx, raw)
			if err != nil {
				logger.Error("Normalization failed",
					zap.String("order_id", raw.SourceOrderID), zap.Error(err))
				res.err = err
				break
			}
			if normalized == nil {
				continue
			}
			batch = append(batch, store.OrderRecord{
				Order: normalized.Order,
				Items: normalized.Items,
			})
			if len(batch) >= s.batchSize {
				if err := flush(); err != nil {
					logger.Error("Ledger flush failed", zap.Error(err))
					res.err = err
					break
				}
			}
		}
		if res.err != nil {
			break
		}

		if page.Done {
			break
		}
		cursor = page.NextCursor
	}

	if err := flush(); err != nil {
		logger.Error("Final ledger flush failed", zap.Error(err))
		if res.err == nil {
			res.err = err
		}
	}

	return res
}

func (s *SyncService) publishBatch(ctx context.Context, batch []store.OrderRecord) {
	if s.publisher == nil {
		return
	}
	for _, rec := range batch {
		event := &models.OrderUpsertedEvent{
			SourceName:    rec.Order.SourceName,
			SourceOrderID: rec.Order.SourceOrderID,
			Marketplace:   rec.Order.Marketplace,
			Status:        rec.Order.Status,
			OrderDate:     rec.Order.OrderDate,
		}
		if err := s.publisher.PublishOrderUpserted(ctx, event); err != nil {
			s.logger.Warn("Failed to publish order.upserted", zap.Error(err))
			return
		}
	}
}
