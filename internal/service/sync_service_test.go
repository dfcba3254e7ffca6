package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"sales-sync/internal/connector"
	"sales-sync/internal/models"
	"sales-sync/internal/normalize"
	"sales-sync/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnector struct {
	name   string
	pages  [][]models.RawOrder
	failAt int // page index that fails; -1 never fails
}

func (f *fakeConnector) Name() string                { return f.name }
func (f *fakeConnector) OwnsMarketplace(string) bool { return false }

func (f *fakeConnector) FetchPage(_ context.Context, _ connector.DateRange, cursor string) (connector.Page, error) {
	idx := 0
	if cursor != "" {
		idx, _ = strconv.Atoi(cursor)
	}
	if f.failAt >= 0 && idx == f.failAt {
		return connector.Page{}, &connector.FatalFetchError{Source: f.name, Err: errors.New("boom")}
	}
	if idx >= len(f.pages) {
		return connector.Page{Done: true}, nil
	}
	return connector.Page{
		Orders:     f.pages[idx],
		NextCursor: strconv.Itoa(idx + 1),
		Done:       idx+1 >= len(f.pages),
	}, nil
}

type passNormalizer struct{}

func (passNormalizer) Normalize(_ context.Context, raw models.RawOrder) (*normalize.Result, error) {
	return &normalize.Result{Order: models.Order{
		SourceName:    raw.SourceName,
		SourceOrderID: raw.SourceOrderID,
		Marketplace:   raw.Marketplace,
		OrderDate:     raw.OrderDate,
	}}, nil
}

type recordingLedger struct {
	mu      sync.Mutex
	batches [][]store.OrderRecord
	seen    map[string]int
}

func newRecordingLedger() *recordingLedger {
	return &recordingLedger{seen: make(map[string]int)}
}

func (l *recordingLedger) UpsertOrders(_ context.Context, records []store.OrderRecord) (store.BatchResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	copied := make([]store.OrderRecord, len(records))
	copy(copied, records)
	l.batches = append(l.batches, copied)
	for _, rec := range records {
		l.seen[rec.Order.SourceName+"/"+rec.Order.SourceOrderID]++
	}
	return store.BatchResult{OrdersUpserted: len(records)}, nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	completed []*models.SyncCompletedEvent
	upserted  []*models.OrderUpsertedEvent
}

func (p *recordingPublisher) PublishSyncCompleted(_ context.Context, e *models.SyncCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, e)
	return nil
}

func (p *recordingPublisher) PublishOrderUpserted(_ context.Context, e *models.OrderUpsertedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.upserted = append(p.upserted, e)
	return nil
}

func rawOrders(source string, n, offset int) []models.RawOrder {
	orders := make([]models.RawOrder, n)
	for i := range orders {
		orders[i] = models.RawOrder{
			SourceName:    source,
			SourceOrderID: strconv.Itoa(offset + i),
			Marketplace:   "Shopify",
			OrderDate:     time.Now(),
		}
	}
	return orders
}

func testRange() connector.DateRange {
	return connector.DateRange{
		Start: time.Now().AddDate(0, 0, -7),
		End:   time.Now(),
	}
}

func TestRunSyncsAllSources(t *testing.T) {
	ledger := newRecordingLedger()
	pub := &recordingPublisher{}
	svc := NewSyncService(
		[]connector.Connector{
			&fakeConnector{name: "sentos", failAt: -1, pages: [][]models.RawOrder{rawOrders("sentos", 3, 0)}},
			&fakeConnector{name: "trendyol", failAt: -1, pages: [][]models.RawOrder{rawOrders("trendyol", 2, 100)}},
		},
		passNormalizer{}, ledger, pub, nil, 50, time.Minute)

	report, err := svc.Run(context.Background(), KindLive, testRange())
	require.NoError(t, err)

	assert.Equal(t, 5, report.OrdersUpserted)
	assert.Empty(t, report.Errors)
	assert.Len(t, pub.upserted, 5)
	require.Len(t, pub.completed, 1)
	assert.Equal(t, report.RunID, pub.completed[0].RunID)
	assert.Equal(t, models.EventTypeSyncCompleted, pub.completed[0].EventType)
}

func TestRunIsolatesSourceFailures(t *testing.T) {
	ledger := newRecordingLedger()
	svc := NewSyncService(
		[]connector.Connector{
			&fakeConnector{name: "sentos", failAt: 0},
			&fakeConnector{name: "trendyol", failAt: -1, pages: [][]models.RawOrder{rawOrders("trendyol", 4, 0)}},
		},
		passNormalizer{}, ledger, &recordingPublisher{}, nil, 50, time.Minute)

	report, err := svc.Run(context.Background(), KindFull, testRange())
	require.NoError(t, err, "a failing source degrades the run, it does not abort it")

	assert.Equal(t, 4, report.OrdersUpserted, "the healthy source completes")
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "sentos", report.Errors[0].Source)
}

func TestRunKeepsEarlierPagesOnMidSourceFailure(t *testing.T) {
	ledger := newRecordingLedger()
	svc := NewSyncService(
		[]connector.Connector{
			&fakeConnector{name: "sentos", failAt: 1, pages: [][]models.RawOrder{
				rawOrders("sentos", 2, 0),
				rawOrders("sentos", 2, 10),
			}},
		},
		passNormalizer{}, ledger, &recordingPublisher{}, nil, 50, time.Minute)

	report, err := svc.Run(context.Background(), KindFull, testRange())
	require.NoError(t, err)

	assert.Equal(t, 2, report.OrdersUpserted, "page one is flushed before page two fails")
	require.Len(t, report.Errors, 1)
}

func TestRunFlushesInBatches(t *testing.T) {
	ledger := newRecordingLedger()
	svc := NewSyncService(
		[]connector.Connector{
			&fakeConnector{name: "sentos", failAt: -1, pages: [][]models.RawOrder{rawOrders("sentos", 7, 0)}},
		},
		passNormalizer{}, ledger, &recordingPublisher{}, nil, 3, time.Minute)

	report, err := svc.Run(context.Background(), KindFull, testRange())
	require.NoError(t, err)

	assert.Equal(t, 7, report.OrdersUpserted)
	require.Len(t, ledger.batches, 3)
	assert.Len(t, ledger.batches[0], 3)
	assert.Len(t, ledger.batches[2], 1)
}

func TestRunReingestIsIdempotentAtLedger(t *testing.T) {
	ledger := newRecordingLedger()
	conn := &fakeConnector{name: "sentos", failAt: -1, pages: [][]models.RawOrder{rawOrders("sentos", 3, 0)}}
	svc := NewSyncService([]connector.Connector{conn},
		passNormalizer{}, ledger, &recordingPublisher{}, nil, 50, time.Minute)

	_, err := svc.Run(context.Background(), KindLive, testRange())
	require.NoError(t, err)
	_, err = svc.Run(context.Background(), KindLive, testRange())
	require.NoError(t, err)

	// the same identities reach the ledger twice; the upsert makes the
	// second pass a no-op at the database level
	for key, count := range ledger.seen {
		assert.Equal(t, 2, count, "identity %s", key)
	}
	assert.Len(t, ledger.seen, 3)
}

type suppressingNormalizer struct{}

func (suppressingNormalizer) Normalize(_ context.Context, raw models.RawOrder) (*normalize.Result, error) {
	if raw.SourceOrderID == "1" {
		return nil, nil
	}
	return passNormalizer{}.Normalize(context.Background(), raw)
}

func TestRunSkipsSuppressedOrders(t *testing.T) {
	ledger := newRecordingLedger()
	svc := NewSyncService(
		[]connector.Connector{
			&fakeConnector{name: "sentos", failAt: -1, pages: [][]models.RawOrder{rawOrders("sentos", 3, 0)}},
		},
		suppressingNormalizer{}, ledger, &recordingPublisher{}, nil, 50, time.Minute)

	report, err := svc.Run(context.Background(), KindLive, testRange())
	require.NoError(t, err)
	assert.Equal(t, 2, report.OrdersUpserted)
}
