package httpclienttest

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/iSoldLeo/DynamicAPI/pkg/httpclient"
)

// FakeDoer implements httpclient.HTTPDoer so tests run without outbound
// requests. Request bodies are captured before the response is returned.
type FakeDoer struct {
	t testing.TB

	mu        sync.Mutex
	responses []*http.Response
	requests  []*http.Request
	bodies    [][]byte
	err       error
}

// NewFakeDoer returns a FakeDoer seeded with the responses to return, in order.
func NewFakeDoer(t testing.TB, responses ...*http.Response) *FakeDoer {
	return &FakeDoer{
		t:         t,
		responses: append([]*http.Response(nil), responses...),
	}
}

// NewFailingDoer returns a FakeDoer whose every Do call fails with err.
func NewFailingDoer(t testing.TB, err error) *FakeDoer {
	return &FakeDoer{t: t, err: err}
}

func (f *FakeDoer) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		_ = req.Body.Close()
		body = b
		req.Body = io.NopCloser(bytes.NewReader(b))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.bodies = append(f.bodies, body)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		f.t.Fatalf("fake http client has no responses left for request %s %s", req.Method, req.URL.String())
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	resp.Request = req
	return resp, nil
}

// Requests returns the requests captured so far.
func (f *FakeDoer) Requests() []*http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*http.Request(nil), f.requests...)
}

// Body returns the captured body of the i-th request.
func (f *FakeDoer) Body(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.bodies[i])
}

// NewStringResponse builds a minimal http.Response with the given status and
// body.
func NewStringResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

// NewJSONResponse is NewStringResponse with a JSON content type.
func NewJSONResponse(status int, body string) *http.Response {
	resp := NewStringResponse(status, body)
	resp.Header.Set("Content-Type", "application/json")
	return resp
}

var _ httpclient.HTTPDoer = (*FakeDoer)(nil)
