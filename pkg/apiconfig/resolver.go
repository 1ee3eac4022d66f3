package apiconfig

import (
	"maps"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
	"github.com/iSoldLeo/DynamicAPI/pkg/value"
)

// ResolvedOperation is an operation after the globals, profile and operation
// layers have been merged. Path, Params, Body and header values are still
// templates; runtime values are applied later.
type ResolvedOperation struct {
	Name            string
	BaseURL         *url.URL
	Path            string
	Method          string
	Headers         map[string]string
	Params          map[string]value.Value
	Body            *value.Value
	ResponseMapping string
	TaskType        TaskType
	Encoding        Encoding
	Processors      []string
	Timeout         time.Duration
}

// IsDownload reports whether the operation writes its response to a file.
func (op *ResolvedOperation) IsDownload() bool {
	return op.TaskType == TaskDownload
}

// Resolver merges configuration layers for a Document. The active profile and
// security policy can be changed concurrently with Resolve.
type Resolver struct {
	doc    *Document
	logger *zap.Logger

	mu      sync.RWMutex
	profile string
	policy  SecurityPolicy
}

type Option func(*Resolver)

// WithProfile sets the initially active profile.
func WithProfile(name string) Option {
	return func(r *Resolver) { r.profile = name }
}

// WithSecurityPolicy replaces DefaultSecurityPolicy.
func WithSecurityPolicy(p SecurityPolicy) Option {
	return func(r *Resolver) { r.policy = p.clone() }
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewResolver(doc *Document, opts ...Option) *Resolver {
	r := &Resolver{
		doc:    doc,
		logger: zap.NewNop(),
		policy: DefaultSecurityPolicy(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Document() *Document { return r.doc }

// Operations returns the configured operation names sorted.
func (r *Resolver) Operations() []string { return r.doc.OperationNames() }

func (r *Resolver) SetProfile(name string) {
	r.mu.Lock()
	r.profile = name
	r.mu.Unlock()
	r.logger.Info("applying profile", zap.String("profile", name))
}

func (r *Resolver) Profile() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.profile
}

func (r *Resolver) SetSecurityPolicy(p SecurityPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p.clone()
}

func (r *Resolver) SecurityPolicy() SecurityPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy.clone()
}

// Resolve produces a fresh ResolvedOperation for name using the currently
// active profile. Nothing is cached between calls.
func (r *Resolver) Resolve(name string) (*ResolvedOperation, error) {
	r.mu.RLock()
	profileName := r.profile
	policy := r.policy
	r.mu.RUnlock()

	log := r.logger.With(zap.String("operation", name))
	log.Debug("resolving operation", zap.String("profile", profileName))

	op, ok := r.doc.Operations[name]
	if !ok {
		return nil, apierr.Configuration("Operation '%s' not found", name)
	}
	if err := op.validate(name, r.doc.ParamPresets); err != nil {
		return nil, err
	}

	if strings.Contains(op.Path, "://") || strings.HasPrefix(op.Path, "//") {
		log.Error("security violation: absolute path", zap.String("path", op.Path))
		return nil, apierr.Configuration("Security Violation: Operation '%s' path must be relative", name)
	}

	baseURL := r.doc.Globals.BaseURL
	headers := map[string]string{}
	MergeHeaders(headers, r.doc.Globals.Headers)

	if profile, ok := r.doc.Profiles[profileName]; ok {
		if profile.BaseURL != "" {
			baseURL = profile.BaseURL
		}
		MergeHeaders(headers, profile.Headers)
	}
	MergeHeaders(headers, op.Headers)

	var dropped []string
	for key := range headers {
		if IsBlacklistedHeader(key) {
			dropped = append(dropped, key)
			delete(headers, key)
		}
	}
	if len(dropped) > 0 {
		slices.Sort(dropped)
		log.Warn("dropped blacklisted headers", zap.Strings("headers", dropped))
	}

	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		log.Error("invalid base url", zap.String("base_url", baseURL))
		return nil, apierr.Configuration("Invalid Base URL: %s", baseURL)
	}
	if err := policy.Check(base); err != nil {
		log.Error("security violation", zap.String("base_url", baseURL), zap.Error(err))
		return nil, err
	}

	params := map[string]value.Value{}
	for _, preset := range op.UsePresets {
		for k, v := range r.doc.ParamPresets[preset] {
			params[k] = value.String(v)
		}
	}
	maps.Copy(params, op.Params)

	taskType := op.TaskType
	if taskType == "" {
		taskType = TaskRequest
	}

	resolved := &ResolvedOperation{
		Name:            name,
		BaseURL:         base,
		Path:            op.Path,
		Method:          strings.ToUpper(op.Method),
		Headers:         headers,
		Params:          params,
		ResponseMapping: op.ResponseMapping,
		TaskType:        taskType,
		Encoding:        op.Encoding,
		Processors:      slices.Clone(op.Processors),
	}
	if op.Body != nil {
		body := *op.Body
		resolved.Body = &body
	}
	if t := r.doc.Globals.Timeout; t != nil && *t > 0 {
		resolved.Timeout = time.Duration(*t * float64(time.Second))
	}

	log.Debug("operation resolved",
		zap.String("method", resolved.Method),
		zap.String("base_url", base.String()),
		zap.String("path", op.Path))
	return resolved, nil
}

// MergeHeaders copies src into dst. Header names compare case-insensitively:
// a src entry replaces any dst entry spelled differently, and the src
// spelling is kept.
func MergeHeaders(dst, src map[string]string) {
	keys := slices.Sorted(maps.Keys(src))
	for _, key := range keys {
		for existing := range dst {
			if existing != key && strings.EqualFold(existing, key) {
				delete(dst, existing)
			}
		}
		dst[key] = src[key]
	}
}
