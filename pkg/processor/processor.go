// Package processor provides request processors: hooks that run after
// parameter resolution and before the request is built. A processor may add,
// change or remove params and headers, for example to sign a request.
package processor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/iSoldLeo/DynamicAPI/pkg/apiconfig"
	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
	"github.com/iSoldLeo/DynamicAPI/pkg/params"
)

// Processor mutates resolved params and headers in place. values are the
// runtime values passed to the call.
type Processor interface {
	Process(ctx context.Context, params map[string]any, headers map[string]string, op *apiconfig.ResolvedOperation, values map[string]any) error
}

type Func func(ctx context.Context, params map[string]any, headers map[string]string, op *apiconfig.ResolvedOperation, values map[string]any) error

func (f Func) Process(ctx context.Context, params map[string]any, headers map[string]string, op *apiconfig.ResolvedOperation, values map[string]any) error {
	return f(ctx, params, headers, op, values)
}

// Signer adds an MD5 signature over the sorted params followed by a secret:
// md5("a=1&b=2" + Secret).
type Signer struct {
	Secret string
	// Param receives the signature. Defaults to "sign".
	Param string
	// Header, when set, also carries the signature.
	Header string
}

func (s Signer) Process(_ context.Context, p map[string]any, headers map[string]string, _ *apiconfig.ResolvedOperation, _ map[string]any) error {
	name := s.Param
	if name == "" {
		name = "sign"
	}
	delete(p, name)

	sig := s.Sign(p)
	p[name] = sig
	if s.Header != "" {
		apiconfig.MergeHeaders(headers, map[string]string{s.Header: sig})
	}
	return nil
}

// Sign computes the signature for p.
func (s Signer) Sign(p map[string]any) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params.Text(p[k]))
	}
	b.WriteString(s.Secret)

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// RequestID sets a fresh UUID header unless the caller already supplied one.
type RequestID struct {
	// Header defaults to X-Request-ID.
	Header string
}

func (r RequestID) Process(_ context.Context, _ map[string]any, headers map[string]string, _ *apiconfig.ResolvedOperation, _ map[string]any) error {
	name := r.Header
	if name == "" {
		name = "X-Request-ID"
	}
	for k := range headers {
		if strings.EqualFold(k, name) {
			return nil
		}
	}
	headers[name] = uuid.NewString()
	return nil
}

// OAuth2 sets the Authorization header from a token source.
type OAuth2 struct {
	Source oauth2.TokenSource
}

// NewClientCredentials returns an OAuth2 processor using the client
// credentials grant. Tokens are cached until they expire.
func NewClientCredentials(ctx context.Context, cfg *clientcredentials.Config) *OAuth2 {
	return &OAuth2{Source: oauth2.ReuseTokenSource(nil, cfg.TokenSource(ctx))}
}

func (o *OAuth2) Process(_ context.Context, _ map[string]any, headers map[string]string, _ *apiconfig.ResolvedOperation, _ map[string]any) error {
	tok, err := o.Source.Token()
	if err != nil {
		return apierr.Network("failed to obtain oauth2 token", err)
	}
	apiconfig.MergeHeaders(headers, map[string]string{"Authorization": tok.Type() + " " + tok.AccessToken})
	return nil
}
