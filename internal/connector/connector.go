package connector

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"sales-sync/internal/models"
	"sales-sync/internal/util"
)

// DateRange is a closed date interval, day granularity.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Page is one page of raw orders plus the cursor for the next fetch.
// An empty NextCursor with Done=true ends pagination.
type Page struct {
	Orders     []models.RawOrder
	NextCursor string
	Done       bool
}

// Connector fetches raw orders for a date range from one marketplace
// pipeline. Implementations paginate via opaque cursors; an empty cursor
// starts from the beginning.
type Connector interface {
	Name() string
	// OwnsMarketplace reports whether this connector is the designated
	// owner of the given canonical marketplace name.
	OwnsMarketplace(marketplace string) bool
	FetchPage(ctx context.Context, dr DateRange, cursor string) (Page, error)
}

// TransientFetchError marks a retryable failure (rate limit, 5xx, network).
// Retries are bounded; once exhausted the source is marked failed for the
// current run only.
type TransientFetchError struct {
	Source string
	Err    error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch error from %s: %v", e.Source, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// FatalFetchError marks a non-retryable failure that aborts only the failing
// source's contribution to the run.
type FatalFetchError struct {
	Source string
	Err    error
}

func (e *FatalFetchError) Error() string {
	return fmt.Sprintf("fatal fetch error from %s: %v", e.Source, e.Err)
}

func (e *FatalFetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientFetchError.
func IsTransient(err error) bool {
	var te *TransientFetchError
	return errors.As(err, &te)
}

const (
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// backoffDelay returns the exponential backoff for an attempt number with
// up to 50% random jitter added.
func backoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return maxDelay
	}
	d := baseDelay * time.Duration(1<<uint(attempt))
	if d > maxDelay {
		d = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d + jitter
}

// retryableStatus reports whether an HTTP status warrants a retry.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// doWithRetry runs fn with bounded retries on transient failures. fn must
// classify its own errors; only TransientFetchError is retried.
func doWithRetry(ctx context.Context, source string, maxRetries int, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == maxRetries-1 {
			break
		}

		util.FetchRetriesTotal.WithLabelValues(source).Inc()
		delay := backoffDelay(attempt)
		select {
		case <-ctx.Done():
			return &FatalFetchError{Source: source, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
	return err
}
