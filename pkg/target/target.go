// Package target turns a resolved operation plus runtime values into a
// concrete request shape and, from there, an *http.Request.
//
// The shape is described by Task. Build chooses it from three facts: whether
// the operation has a body, whether that body is an object, and whether any
// params remain after resolution. The operation's encoding then decides where
// parameters travel (JSON body, form body or query string).
package target

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/iSoldLeo/DynamicAPI/pkg/apiconfig"
	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
	"github.com/iSoldLeo/DynamicAPI/pkg/params"
	"github.com/iSoldLeo/DynamicAPI/pkg/value"
)

// DefaultDownloadName is used when the resolved path has no final segment.
const DefaultDownloadName = "downloaded_file"

// ParameterEncoding says where parameters are placed.
type ParameterEncoding int

const (
	// JSONEncoding sends parameters as a JSON object body.
	JSONEncoding ParameterEncoding = iota
	// URLEncoding uses the query string for GET, HEAD and DELETE and a form
	// body for every other method.
	URLEncoding
	// FormEncoding always sends a form body.
	FormEncoding
	// QueryEncoding always uses the query string.
	QueryEncoding
)

func (e ParameterEncoding) String() string {
	switch e {
	case JSONEncoding:
		return "json"
	case URLEncoding:
		return "url"
	case FormEncoding:
		return "form"
	case QueryEncoding:
		return "query"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// InBody reports whether parameters encoded with e travel in the request body
// for the given method.
func (e ParameterEncoding) InBody(method string) bool {
	switch e {
	case QueryEncoding:
		return false
	case URLEncoding:
		switch strings.ToUpper(method) {
		case "GET", "HEAD", "DELETE":
			return false
		}
		return true
	default:
		return true
	}
}

// EncodingFor maps an operation's configured encoding to a ParameterEncoding.
// Unknown names fall back to JSON. Without an explicit encoding GET uses
// URLEncoding and every other method uses JSON.
func EncodingFor(enc apiconfig.Encoding, method string) ParameterEncoding {
	if enc == "" {
		if strings.EqualFold(method, "GET") {
			return URLEncoding
		}
		return JSONEncoding
	}
	switch apiconfig.Encoding(strings.ToLower(string(enc))) {
	case apiconfig.EncodingJSON:
		return JSONEncoding
	case apiconfig.EncodingURL:
		return URLEncoding
	case apiconfig.EncodingForm:
		return FormEncoding
	case apiconfig.EncodingQuery:
		return QueryEncoding
	default:
		return JSONEncoding
	}
}

type TaskKind int

const (
	// TaskPlain has no parameters and no body.
	TaskPlain TaskKind = iota
	// TaskParameters carries a single parameter map placed per Encoding.
	TaskParameters
	// TaskComposite carries an object body placed per Encoding plus URL
	// parameters in the query string.
	TaskComposite
	// TaskRaw carries a non-object body serialised as JSON.
	TaskRaw
	// TaskCompositeData carries raw body bytes plus URL parameters.
	TaskCompositeData
	// TaskDownload streams the response to Destination. Parameters go in the
	// query string.
	TaskDownload
)

func (k TaskKind) String() string {
	switch k {
	case TaskPlain:
		return "plain"
	case TaskParameters:
		return "parameters"
	case TaskComposite:
		return "composite"
	case TaskRaw:
		return "raw"
	case TaskCompositeData:
		return "composite-data"
	case TaskDownload:
		return "download"
	default:
		return fmt.Sprintf("task(%d)", int(k))
	}
}

// Task is the wire shape of a request. Only the fields relevant to Kind are
// set.
type Task struct {
	Kind     TaskKind
	Encoding ParameterEncoding

	Parameters    map[string]any
	URLParameters map[string]any
	Data          []byte
	Destination   string
}

// Target is a fully resolved request description.
type Target struct {
	Operation *apiconfig.ResolvedOperation

	BaseURL *url.URL
	Method  string
	// Path is the resolved, already percent-encoded path.
	Path    string
	Params  map[string]any
	Body    *value.Value
	Headers map[string]string

	Task Task
}

// Resolved holds the runtime-resolved parts of an operation.
type Resolved struct {
	Path    string
	Params  map[string]any
	Body    *value.Value
	Headers map[string]string
}

// Resolve applies runtime values to the operation's templates.
func Resolve(op *apiconfig.ResolvedOperation, values map[string]any) (Resolved, error) {
	var r Resolved
	var err error

	if r.Path, err = params.ResolvePath(op.Path, values); err != nil {
		return Resolved{}, err
	}
	if r.Params, err = params.ResolveMap(op.Params, values); err != nil {
		return Resolved{}, err
	}
	if op.Body != nil {
		body, err := params.ResolveValue(*op.Body, values)
		if err != nil {
			return Resolved{}, err
		}
		r.Body = &body
	}
	if r.Headers, err = params.ResolveHeaders(op.Headers, values); err != nil {
		return Resolved{}, err
	}
	return r, nil
}

// Build resolves op against values and selects the task. destination only
// matters for download operations; empty means a file in os.TempDir named
// after the last path segment.
func Build(op *apiconfig.ResolvedOperation, values map[string]any, destination string) (*Target, error) {
	r, err := Resolve(op, values)
	if err != nil {
		return nil, err
	}
	return New(op, r, destination)
}

// New builds a Target from parts resolved by the caller.
func New(op *apiconfig.ResolvedOperation, r Resolved, destination string) (*Target, error) {
	t := &Target{
		Operation: op,
		BaseURL:   op.BaseURL,
		Method:    op.Method,
		Path:      r.Path,
		Params:    r.Params,
		Body:      r.Body,
		Headers:   r.Headers,
	}
	if t.Params == nil {
		t.Params = map[string]any{}
	}
	if t.Headers == nil {
		t.Headers = map[string]string{}
	}

	task, err := t.decide(destination)
	if err != nil {
		return nil, err
	}
	t.Task = task
	return t, nil
}

func (t *Target) decide(destination string) (Task, error) {
	if t.Operation.IsDownload() {
		if destination == "" {
			destination = filepath.Join(os.TempDir(), downloadName(t.Path))
		}
		task := Task{Kind: TaskDownload, Encoding: URLEncoding, Destination: destination}
		if len(t.Params) > 0 {
			task.Parameters = t.Params
		}
		return task, nil
	}

	enc := EncodingFor(t.Operation.Encoding, t.Method)

	if t.Body == nil {
		if len(t.Params) == 0 {
			return Task{Kind: TaskPlain}, nil
		}
		return Task{Kind: TaskParameters, Encoding: enc, Parameters: t.Params}, nil
	}

	if t.Body.IsObject() {
		fields, _ := t.Body.Interface().(map[string]any)
		if len(t.Params) == 0 {
			return Task{Kind: TaskParameters, Encoding: enc, Parameters: fields}, nil
		}
		return Task{
			Kind:          TaskComposite,
			Encoding:      enc,
			Parameters:    fields,
			URLParameters: t.Params,
		}, nil
	}

	data, err := json.Marshal(t.Body)
	if err != nil {
		return Task{}, apierr.Mapping("failed to encode request body", err)
	}
	if len(t.Params) == 0 {
		return Task{Kind: TaskRaw, Encoding: JSONEncoding, Data: data}, nil
	}
	return Task{Kind: TaskCompositeData, Encoding: JSONEncoding, Data: data, URLParameters: t.Params}, nil
}

func downloadName(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	name := path[strings.LastIndex(path, "/")+1:]
	if name == "" || name == "." || name == ".." {
		return DefaultDownloadName
	}
	return name
}

// URL joins the base URL and the resolved path. A path prefix on the base URL
// is kept and percent escapes in the resolved path survive.
func (t *Target) URL() (*url.URL, error) {
	u := *t.BaseURL
	joined := strings.TrimSuffix(u.EscapedPath(), "/")
	if t.Path != "" {
		joined += "/" + strings.TrimPrefix(t.Path, "/")
	}
	// The joined text is an escaped path, never a reference: an empty
	// segment must not turn "//x" into an authority.
	if i := strings.IndexByte(joined, '#'); i >= 0 {
		joined = joined[:i]
	}
	var query string
	if i := strings.IndexByte(joined, '?'); i >= 0 {
		joined, query = joined[:i], joined[i+1:]
	}
	path, err := url.PathUnescape(joined)
	if err != nil {
		return nil, apierr.Parameter("", fmt.Sprintf("invalid request path %q: %v", joined, err))
	}
	u.Path = path
	u.RawPath = ""
	if u.EscapedPath() != joined {
		u.RawPath = joined
	}
	u.RawQuery = joinQuery(u.RawQuery, query)
	u.Fragment = ""
	u.RawFragment = ""
	return &u, nil
}

// Clone returns a copy of t with its own params and headers maps.
func (t *Target) Clone() *Target {
	c := *t
	c.Params = maps.Clone(t.Params)
	c.Headers = maps.Clone(t.Headers)
	return &c
}

func joinQuery(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "&" + b
	}
}
