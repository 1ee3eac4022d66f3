// Package client executes configured operations.
//
// A Client ties a Resolver to a transport and holds two registries: response
// mappers and request processors, both keyed by the names used in the
// configuration document. Registries may be changed while calls are in flight.
package client

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iSoldLeo/DynamicAPI/pkg/apiconfig"
	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
	"github.com/iSoldLeo/DynamicAPI/pkg/httpclient"
	"github.com/iSoldLeo/DynamicAPI/pkg/mapping"
	"github.com/iSoldLeo/DynamicAPI/pkg/processor"
	"github.com/iSoldLeo/DynamicAPI/pkg/target"
)

// Record describes one finished call. It is handed to the Recorder.
type Record struct {
	Operation  string
	Profile    string
	Method     string
	URL        string
	StatusCode int
	Duration   time.Duration
	Size       int64
	Err        error
}

// Recorder observes finished calls. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, rec Record)
}

type Client struct {
	resolver *apiconfig.Resolver
	doer     httpclient.HTTPDoer
	logger   *zap.Logger
	recorder Recorder

	mu         sync.RWMutex
	mappers    map[string]mapping.Mapper
	processors map[string]processor.Processor
}

type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(d httpclient.HTTPDoer) Option {
	return func(c *Client) {
		if d != nil {
			c.doer = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

func New(resolver *apiconfig.Resolver, opts ...Option) *Client {
	c := &Client{
		resolver:   resolver,
		doer:       &http.Client{Timeout: httpclient.DefaultTimeout},
		logger:     zap.NewNop(),
		mappers:    map[string]mapping.Mapper{},
		processors: map[string]processor.Processor{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Resolver() *apiconfig.Resolver { return c.resolver }

// RegisterMapper binds a mapper to a response_mapping key, replacing any
// previous one.
func (c *Client) RegisterMapper(name string, m mapping.Mapper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mappers[name] = m
}

func (c *Client) Mapper(name string) (mapping.Mapper, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.mappers[name]
	return m, ok
}

// RegisterProcessor binds a processor to a name used in an operation's
// processors list.
func (c *Client) RegisterProcessor(name string, p processor.Processor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processors[name] = p
}

func (c *Client) Processor(name string) (processor.Processor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.processors[name]
	return p, ok
}

// Prepare resolves the operation, runs its processors and returns the target
// without sending anything. Processors run exactly as they would for a real
// call, so one that fetches credentials (OAuth2) still contacts its token
// endpoint.
func (c *Client) Prepare(ctx context.Context, name string, values map[string]any) (*target.Target, error) {
	t, err := c.prepare(ctx, name, values, "")
	if err != nil {
		return nil, apierr.Classify(err)
	}
	return t, nil
}

func (c *Client) prepare(ctx context.Context, name string, values map[string]any, destination string) (*target.Target, error) {
	op, err := c.resolver.Resolve(name)
	if err != nil {
		return nil, err
	}
	return c.build(ctx, op, values, destination)
}

// build applies runtime values, runs processors in order and selects the task.
func (c *Client) build(ctx context.Context, op *apiconfig.ResolvedOperation, values map[string]any, destination string) (*target.Target, error) {
	name := op.Name
	resolved, err := target.Resolve(op, values)
	if err != nil {
		return nil, err
	}

	for _, pname := range op.Processors {
		p, ok := c.Processor(pname)
		if !ok {
			return nil, apierr.Configuration("Processor not found: %s", pname)
		}
		c.logger.Debug("applying processor", zap.String("operation", name), zap.String("processor", pname))
		if err := p.Process(ctx, resolved.Params, resolved.Headers, op, values); err != nil {
			return nil, err
		}
	}

	t, err := target.New(op, resolved, destination)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("target resolved",
		zap.String("operation", name),
		zap.String("method", t.Method),
		zap.String("path", t.Path),
		zap.Stringer("task", t.Task.Kind))
	return t, nil
}

func (c *Client) mapperFor(op *apiconfig.ResolvedOperation) (mapping.Mapper, error) {
	if op.ResponseMapping == "" {
		return mapping.JSON, nil
	}
	m, ok := c.Mapper(op.ResponseMapping)
	if !ok {
		return nil, apierr.Configuration("Mapper not found: %s", op.ResponseMapping)
	}
	c.logger.Debug("using mapper", zap.String("operation", op.Name), zap.String("mapper", op.ResponseMapping))
	return m, nil
}

// Call executes the operation and decodes the response into out. The mapper
// named by response_mapping must be registered; without a mapping key the body
// is decoded as JSON. A nil out skips decoding.
func (c *Client) Call(ctx context.Context, name string, values map[string]any, out any) error {
	_, err := c.CallResponse(ctx, name, values, out)
	return err
}

// CallResponse is Call that also returns the raw response. When only the
// mapping fails, the response is returned together with the mapping error and
// the call is recorded as failed.
func (c *Client) CallResponse(ctx context.Context, name string, values map[string]any, out any) (*mapping.Response, error) {
	call := c.begin(ctx, name, "request start")

	t, err := c.prepare(ctx, name, values, "")
	if err != nil {
		return nil, call.fail(err)
	}
	call.target(t)

	mapper, err := c.mapperFor(t.Operation)
	if err != nil {
		return nil, call.fail(err)
	}

	resp, err := c.send(ctx, t, call)
	if err != nil {
		return nil, call.fail(err)
	}
	if out != nil {
		if err := mapper.Map(resp, out); err != nil {
			return resp, call.fail(err)
		}
	}
	call.done()
	return resp, nil
}

// Call is the generic form of (*Client).Call.
func Call[T any](ctx context.Context, c *Client, name string, values map[string]any) (T, error) {
	var out T
	err := c.Call(ctx, name, values, &out)
	return out, err
}

// Exec executes the operation, checks the status and discards the body.
func (c *Client) Exec(ctx context.Context, name string, values map[string]any) error {
	_, err := c.Do(ctx, name, values)
	return err
}

// Do executes the operation and returns the raw response. Non-2xx statuses are
// returned as network errors.
func (c *Client) Do(ctx context.Context, name string, values map[string]any) (*mapping.Response, error) {
	call := c.begin(ctx, name, "request start")

	t, err := c.prepare(ctx, name, values, "")
	if err != nil {
		return nil, call.fail(err)
	}
	call.target(t)

	resp, err := c.send(ctx, t, call)
	if err != nil {
		return nil, call.fail(err)
	}
	call.done()
	return resp, nil
}

// send performs the exchange and reads the whole body.
func (c *Client) send(ctx context.Context, t *target.Target, call *inflight) (*mapping.Response, error) {
	resp, err := c.roundTrip(ctx, t, call)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Network("failed to read response body", err)
	}
	call.size = int64(len(body))
	return &mapping.Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// roundTrip sends the request and rejects non-2xx responses. On success the
// caller owns resp.Body.
func (c *Client) roundTrip(ctx context.Context, t *target.Target, call *inflight) (*http.Response, error) {
	req, err := t.NewRequest(ctx)
	if err != nil {
		return nil, err
	}
	call.url = req.URL.String()
	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, apierr.Network("request failed", err)
	}
	call.status = resp.StatusCode
	c.logger.Info("response received",
		zap.String("operation", t.Operation.Name),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(call.start)))

	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, apierr.Status(resp.StatusCode, body)
	}
	return resp, nil
}
