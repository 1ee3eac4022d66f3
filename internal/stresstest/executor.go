package stresstest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
	"github.com/iSoldLeo/DynamicAPI/pkg/mapping"
)

// Caller executes one operation. *client.Client satisfies it.
type Caller interface {
	Do(ctx context.Context, name string, values map[string]any) (*mapping.Response, error)
}

// Result is the outcome of a single call.
type Result struct {
	SequenceNum int
	StatusCode  int
	Duration    time.Duration
	Size        int
	Err         error
}

// classify splits failures into transport errors and everything else.
func classify(r Result) (network, validation bool) {
	if r.Err == nil {
		return false, false
	}
	var e *apierr.Error
	if errors.As(r.Err, &e) && e.Kind == apierr.KindNetwork && e.StatusCode == 0 {
		return true, false
	}
	if errors.Is(r.Err, context.DeadlineExceeded) {
		return true, false
	}
	return false, true
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for worker events.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithProgress registers a callback invoked from the collector goroutine
// after every completed request.
func WithProgress(fn func(Stats)) Option {
	return func(e *Executor) { e.onProgress = fn }
}

// Executor runs an operation repeatedly from a fixed pool of workers.
type Executor struct {
	caller     Caller
	config     Config
	logger     *zap.Logger
	onProgress func(Stats)
}

// NewExecutor creates a new benchmark executor
func NewExecutor(caller Caller, config Config, opts ...Option) (*Executor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	e := &Executor{caller: caller, config: config, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run blocks until every request completed, Config.Duration elapsed or ctx
// is cancelled. Requests cut short by the end of the run are not counted.
// A cancelled ctx returns the partial statistics along with ctx.Err().
func (e *Executor) Run(ctx context.Context) (*Stats, error) {
	runCtx := ctx
	if e.config.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.config.Duration)
		defer cancel()
	}

	stats := NewStats()
	stats.TotalRequests = e.config.TotalRequests

	concurrency := min(e.config.Concurrency, e.config.TotalRequests)
	requestChan := make(chan int, concurrency*2)
	resultChan := make(chan Result, concurrency*2)

	e.logger.Debug("benchmark start",
		zap.String("operation", e.config.Operation),
		zap.Int("concurrency", concurrency),
		zap.Int("total", e.config.TotalRequests),
	)
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(runCtx, i, requestChan, resultChan)
		}()
	}

	go e.scheduleRequests(runCtx, requestChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for r := range resultChan {
		stats.AddResult(r)
		if e.onProgress != nil {
			stats.Elapsed = time.Since(start)
			e.onProgress(stats.snapshot())
		}
	}
	stats.Elapsed = time.Since(start)

	e.logger.Debug("benchmark done",
		zap.String("operation", e.config.Operation),
		zap.Int("completed", stats.CompletedRequests),
		zap.Duration("elapsed", stats.Elapsed),
	)

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

// scheduleRequests queues sequence numbers until the total is reached or the
// run ends.
func (e *Executor) scheduleRequests(ctx context.Context, requestChan chan<- int) {
	defer close(requestChan)
	for seq := 1; seq <= e.config.TotalRequests; seq++ {
		select {
		case requestChan <- seq:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Executor) worker(ctx context.Context, id int, requestChan <-chan int, resultChan chan<- Result) {
	if delay := e.config.workerDelay(id); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}

	for seq := range requestChan {
		if ctx.Err() != nil {
			return
		}
		r := e.execute(ctx, seq)
		if r.Err != nil && ctx.Err() != nil {
			return
		}
		resultChan <- r
	}
}

func (e *Executor) execute(ctx context.Context, seq int) Result {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.requestTimeout())
	defer cancel()

	// Each call gets its own copy; processors may add values.
	values := make(map[string]any, len(e.config.Values))
	for k, v := range e.config.Values {
		values[k] = v
	}

	started := time.Now()
	resp, err := e.caller.Do(reqCtx, e.config.Operation, values)
	r := Result{SequenceNum: seq, Duration: time.Since(started), Err: err}
	if resp != nil {
		r.StatusCode = resp.StatusCode
		r.Size = len(resp.Body)
	}
	var apiErr *apierr.Error
	if r.StatusCode == 0 && errors.As(err, &apiErr) {
		r.StatusCode = apiErr.StatusCode
		r.Size = len(apiErr.Body)
	}
	return r
}
