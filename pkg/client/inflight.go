package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
	"github.com/iSoldLeo/DynamicAPI/pkg/target"
)

// inflight carries per-call bookkeeping for logging and recording.
type inflight struct {
	c     *Client
	ctx   context.Context
	name  string
	start time.Time

	method string
	url    string
	status int
	size   int64
}

func (c *Client) begin(ctx context.Context, name, msg string) *inflight {
	c.logger.Info(msg, zap.String("operation", name))
	return &inflight{c: c, ctx: ctx, name: name, start: time.Now()}
}

func (f *inflight) target(t *target.Target) {
	f.method = t.Method
	if u, err := t.URL(); err == nil {
		f.url = u.String()
	}
}

// fail classifies err, logs it and records the call.
func (f *inflight) fail(err error) error {
	e := apierr.Classify(err)
	f.c.logger.Error("call failed",
		zap.String("operation", f.name),
		zap.Stringer("kind", e.Kind),
		zap.Error(e))
	f.record(e)
	return e
}

func (f *inflight) done() {
	f.record(nil)
}

func (f *inflight) record(err error) {
	if f.c.recorder == nil {
		return
	}
	f.c.recorder.Record(f.ctx, Record{
		Operation:  f.name,
		Profile:    f.c.resolver.Profile(),
		Method:     f.method,
		URL:        f.url,
		StatusCode: f.status,
		Duration:   time.Since(f.start),
		Size:       f.size,
		Err:        err,
	})
}
