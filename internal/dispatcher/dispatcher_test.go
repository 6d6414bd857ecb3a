package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/pipeline"
	"github.com/JakeFAU/catalog-harvester/internal/queue/memory"
)

type stubRunner struct {
	mu    sync.Mutex
	errs  map[string]error
	calls []pipeline.RunRequest
	done  chan string
}

func newStubRunner() *stubRunner {
	return &stubRunner{errs: map[string]error{}, done: make(chan string, 8)}
}

func (r *stubRunner) Run(_ context.Context, runID, listingURL string) (pipeline.Report, error) {
	r.mu.Lock()
	r.calls = append(r.calls, pipeline.RunRequest{RunID: runID, ListingURL: listingURL})
	err := r.errs[runID]
	r.mu.Unlock()
	defer func() { r.done <- runID }()
	return pipeline.Report{RunID: runID, Links: 2, Rows: 2}, err
}

func waitFor(t *testing.T, d *Dispatcher, runID string, want State) RunStatus {
	t.Helper()
	var st RunStatus
	require.Eventually(t, func() bool {
		var ok bool
		st, ok = d.Status(runID)
		return ok && st.State == want
	}, time.Second, 5*time.Millisecond)
	return st
}

func TestDispatcherRunsQueuedRequests(t *testing.T) {
	t.Parallel()

	runner := newStubRunner()
	runner.errs["run-bad"] = errors.New("listing exploded")
	runner.errs["run-stop"] = fmt.Errorf("link discovery interrupted: %w", context.Canceled)
	d := New(memory.NewQueue(4), runner, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	for _, id := range []string{"run-ok", "run-bad", "run-stop"} {
		require.NoError(t, d.Enqueue(context.Background(), pipeline.RunRequest{RunID: id, ListingURL: "https://shop.test/c"}))
	}

	ok := waitFor(t, d, "run-ok", StateCompleted)
	require.NotNil(t, ok.Report)
	assert.Equal(t, 2, ok.Report.Rows)
	assert.Empty(t, ok.Error)

	bad := waitFor(t, d, "run-bad", StateFailed)
	assert.Contains(t, bad.Error, "listing exploded")
	waitFor(t, d, "run-stop", StateInterrupted)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherEnqueueRejectsActiveDuplicates(t *testing.T) {
	t.Parallel()

	d := New(memory.NewQueue(2), newStubRunner(), 1, nil)
	require.NoError(t, d.Enqueue(context.Background(), pipeline.RunRequest{RunID: "run-1"}))
	st, ok := d.Status("run-1")
	require.True(t, ok)
	assert.Equal(t, StateQueued, st.State)

	err := d.Enqueue(context.Background(), pipeline.RunRequest{RunID: "run-1"})
	assert.ErrorIs(t, err, ErrRunActive)
	assert.Error(t, d.Enqueue(context.Background(), pipeline.RunRequest{}))
}

func TestDispatcherAllowsResubmitAfterRunEnds(t *testing.T) {
	t.Parallel()

	runner := newStubRunner()
	runner.errs["run-1"] = fmt.Errorf("product extraction interrupted: %w", context.Canceled)
	d := New(memory.NewQueue(2), runner, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	req := pipeline.RunRequest{RunID: "run-1", ListingURL: "https://shop.test/c"}
	require.NoError(t, d.Enqueue(context.Background(), req))
	waitFor(t, d, "run-1", StateInterrupted)

	runner.mu.Lock()
	delete(runner.errs, "run-1")
	runner.mu.Unlock()

	require.NoError(t, d.Enqueue(context.Background(), req))
	waitFor(t, d, "run-1", StateCompleted)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Len(t, runner.calls, 2)
}

func TestDispatcherFailedResubmitKeepsPreviousStatus(t *testing.T) {
	t.Parallel()

	q := &errorQueue{}
	d := New(q, newStubRunner(), 1, nil)
	d.setStatus(RunStatus{RunID: "run-1", State: StateFailed, Error: "listing exploded"})

	q.err = errors.New("boom")
	require.Error(t, d.Enqueue(context.Background(), pipeline.RunRequest{RunID: "run-1"}))

	st, ok := d.Status("run-1")
	require.True(t, ok)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, "listing exploded", st.Error)
}

func TestStateTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, StateQueued.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateInterrupted.Terminal())
	assert.True(t, StateFailed.Terminal())
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	d := New(&errorQueue{err: errors.New("boom")}, newStubRunner(), 1, nil)
	err := d.Enqueue(context.Background(), pipeline.RunRequest{RunID: "run-1"})
	assert.EqualError(t, err, "queue enqueue: boom")

	_, ok := d.Status("run-1")
	assert.False(t, ok)
}

func TestDispatcherStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	d := New(q, newStubRunner(), 2, nil)
	q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, pipeline.RunRequest) error {
	return q.err
}

func (q *errorQueue) Dequeue(ctx context.Context) (pipeline.RunRequest, error) {
	<-ctx.Done()
	return pipeline.RunRequest{}, ctx.Err()
}
