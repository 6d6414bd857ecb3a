package crawler

import (
	"context"
	"time"
)

// Fetcher performs one resilient HTTP call.
type Fetcher interface {
	Fetch(ctx context.Context, request Request) (Result, error)
}

// StagedStore persists the run-scoped artifacts.
type StagedStore interface {
	WriteStage(ctx context.Context, runID string, stage Stage, payload any) error
	// ReadStage decodes the artifact into out. Missing artifacts yield
	// ErrArtifactNotFound.
	ReadStage(ctx context.Context, runID string, stage Stage, out any) error
	WriteTable(ctx context.Context, runID string, rows [][]string) error
}

// Pacer spaces out consecutive requests toward the origin site. Wait is
// called before a request and Done once it has finished, so the delay is
// measured from the end of the previous request.
type Pacer interface {
	Wait(ctx context.Context) error
	Done()
}

// fetchPaced performs request once the pacer allows it.
func fetchPaced(ctx context.Context, fetcher Fetcher, pacer Pacer, request Request) (Result, error) {
	if err := pacer.Wait(ctx); err != nil {
		return Result{}, err
	}
	defer pacer.Done()
	return fetcher.Fetch(ctx, request)
}

// RetryPolicy decides whether and when a failed request is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
