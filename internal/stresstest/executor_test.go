package stresstest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
	"github.com/iSoldLeo/DynamicAPI/pkg/mapping"
)

type fakeCaller struct {
	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
	delay    time.Duration

	mu   sync.Mutex
	seen []map[string]any

	respond func(n int64) (*mapping.Response, error)
}

func (f *fakeCaller) Do(ctx context.Context, name string, values map[string]any) (*mapping.Response, error) {
	n := f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	f.mu.Lock()
	f.seen = append(f.seen, values)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, apierr.Network("request failed", ctx.Err())
		}
	}
	if f.respond != nil {
		return f.respond(n)
	}
	return &mapping.Response{StatusCode: 200, Body: []byte("ok")}, nil
}

func TestConfigValidate(t *testing.T) {
	valid := Config{Operation: "get_user", Concurrency: 2, TotalRequests: 10}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no operation", func(c *Config) { c.Operation = "" }, "operation is required"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency must be greater than 0"},
		{"too many workers", func(c *Config) { c.Concurrency = 1001 }, "cannot exceed 1000"},
		{"zero total", func(c *Config) { c.TotalRequests = 0 }, "total requests must be greater than 0"},
		{"negative ramp", func(c *Config) { c.RampUp = -time.Second }, "ramp-up"},
		{"negative duration", func(c *Config) { c.Duration = -time.Second }, "test duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}

	_, err := NewExecutor(&fakeCaller{}, Config{})
	assert.ErrorContains(t, err, "invalid config")
}

func TestWorkerDelay(t *testing.T) {
	c := Config{Concurrency: 4, RampUp: 4 * time.Second}
	assert.Equal(t, time.Duration(0), c.workerDelay(0))
	assert.Equal(t, 3*time.Second, c.workerDelay(3))

	c.RampUp = 0
	assert.Equal(t, time.Duration(0), c.workerDelay(3))
	assert.Equal(t, DefaultRequestTimeout, c.requestTimeout())
}

func TestRunCompletesAllRequests(t *testing.T) {
	caller := &fakeCaller{delay: 5 * time.Millisecond}
	var progress atomic.Int64

	e, err := NewExecutor(caller, Config{
		Operation:     "get_user",
		Values:        map[string]any{"id": 1},
		Concurrency:   4,
		TotalRequests: 40,
	}, WithLogger(zaptest.NewLogger(t)), WithProgress(func(s Stats) {
		progress.Add(1)
		assert.LessOrEqual(t, s.CompletedRequests, 40)
	}))
	require.NoError(t, err)

	stats, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(40), caller.calls.Load())
	assert.LessOrEqual(t, caller.peak.Load(), int64(4))
	assert.Equal(t, int64(40), progress.Load())

	assert.Equal(t, 40, stats.CompletedRequests)
	assert.Equal(t, 40, stats.SuccessCount)
	assert.Equal(t, 0, stats.ErrorCount)
	assert.Equal(t, int64(80), stats.TotalBytes)
	assert.Equal(t, map[int]int{200: 40}, stats.StatusCodes)
	assert.Equal(t, 100.0, stats.SuccessRate())
	assert.Equal(t, 100.0, stats.Progress())
	assert.Greater(t, stats.RequestsPerSecond(), 0.0)
	assert.GreaterOrEqual(t, stats.Min(), int64(5))

	caller.mu.Lock()
	defer caller.mu.Unlock()
	for _, v := range caller.seen {
		assert.Equal(t, 1, v["id"])
	}
}

func TestRunClassifiesErrors(t *testing.T) {
	caller := &fakeCaller{respond: func(n int64) (*mapping.Response, error) {
		switch n % 3 {
		case 0:
			return nil, apierr.Network("request failed", errors.New("connection refused"))
		case 1:
			return nil, apierr.Status(503, []byte("down"))
		default:
			return &mapping.Response{StatusCode: 200}, nil
		}
	}}

	e, err := NewExecutor(caller, Config{Operation: "boom", Concurrency: 3, TotalRequests: 9})
	require.NoError(t, err)

	stats, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 9, stats.CompletedRequests)
	assert.Equal(t, 3, stats.ErrorCount)
	assert.Equal(t, 3, stats.ValidationErrorCount)
	assert.Equal(t, 3, stats.SuccessCount)
	assert.Equal(t, map[int]int{0: 3, 503: 3, 200: 3}, stats.StatusCodes)
	assert.Equal(t, int64(12), stats.TotalBytes)
}

func TestRunStopsAfterDuration(t *testing.T) {
	caller := &fakeCaller{delay: 20 * time.Millisecond}

	e, err := NewExecutor(caller, Config{
		Operation:     "slow",
		Concurrency:   2,
		TotalRequests: 1000,
		Duration:      100 * time.Millisecond,
	})
	require.NoError(t, err)

	stats, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, stats.CompletedRequests, 1000)
	assert.Zero(t, stats.ErrorCount, "requests cut by the deadline are not counted")
	assert.Equal(t, stats.CompletedRequests, stats.SuccessCount)
}

func TestRunCancelled(t *testing.T) {
	caller := &fakeCaller{delay: 20 * time.Millisecond}
	e, err := NewExecutor(caller, Config{Operation: "slow", Concurrency: 1, TotalRequests: 1000})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	stats, err := e.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, stats)
	assert.Less(t, stats.CompletedRequests, 1000)
}

func TestRequestTimeoutIsNetworkError(t *testing.T) {
	caller := &fakeCaller{delay: time.Second}
	e, err := NewExecutor(caller, Config{
		Operation:      "slow",
		Concurrency:    1,
		TotalRequests:  1,
		RequestTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	stats, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ErrorCount)
}

func TestPercentiles(t *testing.T) {
	s := NewStats()
	for _, ms := range []int64{10, 20, 30, 40, 50} {
		s.AddResult(Result{Duration: time.Duration(ms) * time.Millisecond, StatusCode: 200})
	}
	assert.Equal(t, int64(30), s.P50())
	assert.Equal(t, int64(40), s.Percentile(75))
	assert.Equal(t, int64(10), s.Min())
	assert.Equal(t, int64(50), s.Max())
	assert.Equal(t, 30.0, s.AvgDurationMs())

	empty := NewStats()
	assert.Zero(t, empty.P99())
	assert.Zero(t, empty.Min())
	assert.Zero(t, empty.RequestsPerSecond())
}
