// Package dispatcher executes queued harvest runs in the background.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/pipeline"
)

// Queue buffers run requests between the API and the workers.
type Queue interface {
	Enqueue(ctx context.Context, req pipeline.RunRequest) error
	Dequeue(ctx context.Context) (pipeline.RunRequest, error)
}

// Runner executes one full run.
type Runner interface {
	Run(ctx context.Context, runID, listingURL string) (pipeline.Report, error)
}

// State is the lifecycle position of a submitted run.
type State string

// Run lifecycle states.
const (
	StateQueued      State = "queued"
	StateRunning     State = "running"
	StateCompleted   State = "completed"
	StateInterrupted State = "interrupted"
	StateFailed      State = "failed"
)

// Terminal reports whether a run in this state has stopped.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateInterrupted || s == StateFailed
}

// ErrRunActive is returned when a run ID is submitted while an earlier
// submission with the same ID is still queued or running.
var ErrRunActive = errors.New("run already queued or running")

// RunStatus is the last known state of a submitted run.
type RunStatus struct {
	RunID      string           `json:"run_id"`
	ListingURL string           `json:"listing_url"`
	State      State            `json:"state"`
	Report     *pipeline.Report `json:"report,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Dispatcher fans queued runs out to a fixed number of workers.
type Dispatcher struct {
	queue   Queue
	runner  Runner
	workers int
	logger  *zap.Logger

	mu     sync.RWMutex
	status map[string]RunStatus
}

// New creates a Dispatcher. workers below one means one.
func New(queue Queue, runner Runner, workers int, logger *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		runner:  runner,
		workers: workers,
		logger:  logger,
		status:  map[string]RunStatus{},
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.work(ctx, id)
		}(i)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue records the request as queued and hands it to the queue. A run ID
// whose previous submission has finished may be submitted again, which
// resumes work on the same artifacts.
func (d *Dispatcher) Enqueue(ctx context.Context, req pipeline.RunRequest) error {
	if req.RunID == "" {
		return errors.New("run id required")
	}
	d.mu.Lock()
	previous, exists := d.status[req.RunID]
	if exists && !previous.State.Terminal() {
		d.mu.Unlock()
		return fmt.Errorf("run %s: %w", req.RunID, ErrRunActive)
	}
	d.status[req.RunID] = RunStatus{RunID: req.RunID, ListingURL: req.ListingURL, State: StateQueued}
	d.mu.Unlock()

	if err := d.queue.Enqueue(ctx, req); err != nil {
		d.mu.Lock()
		if exists {
			d.status[req.RunID] = previous
		} else {
			delete(d.status, req.RunID)
		}
		d.mu.Unlock()
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Status returns the last known state of a submitted run.
func (d *Dispatcher) Status(runID string) (RunStatus, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.status[runID]
	return st, ok
}

func (d *Dispatcher) work(ctx context.Context, id int) {
	logger := d.logger.With(zap.Int("worker", id))
	for {
		req, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Info("run queue closed", zap.Error(err))
			}
			return
		}
		d.execute(ctx, logger, req)
	}
}

func (d *Dispatcher) execute(ctx context.Context, logger *zap.Logger, req pipeline.RunRequest) {
	d.setStatus(RunStatus{RunID: req.RunID, ListingURL: req.ListingURL, State: StateRunning})
	logger.Info("run started", zap.String("run_id", req.RunID), zap.String("listing_url", req.ListingURL))

	report, err := d.runner.Run(ctx, req.RunID, req.ListingURL)
	st := RunStatus{RunID: req.RunID, ListingURL: req.ListingURL, Report: &report, State: StateCompleted}
	switch {
	case err == nil:
		logger.Info("run finished", zap.String("run_id", req.RunID), zap.Int("rows", report.Rows))
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		st.State, st.Error = StateInterrupted, err.Error()
		logger.Warn("run interrupted", zap.String("run_id", req.RunID), zap.Error(err))
	default:
		st.State, st.Error = StateFailed, err.Error()
		logger.Error("run failed", zap.String("run_id", req.RunID), zap.Error(err))
	}
	d.setStatus(st)
}

func (d *Dispatcher) setStatus(st RunStatus) {
	d.mu.Lock()
	d.status[st.RunID] = st
	d.mu.Unlock()
}
