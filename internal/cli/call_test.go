package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iSoldLeo/DynamicAPI/internal/config"
	"github.com/iSoldLeo/DynamicAPI/internal/history"
	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
	"github.com/iSoldLeo/DynamicAPI/pkg/mapping"
)

const testDoc = `{
  // comments are allowed
  "globals": {"base_url": "%s", "headers": {"Accept": "application/json"}},
  "profiles": {"other": {"base_url": "https://other.example.com"}},
  "operations": {
    "get_user": {"path": "/users/$id", "method": "GET", "processors": ["request_id"]},
    "get_user_name": {"path": "/users/$id", "method": "GET", "response_mapping": "user_name"},
    "create_user": {"path": "/users", "method": "POST", "params": {"name": "$name", "age": "$age"}},
    "boom": {"path": "/boom", "method": "GET"},
    "get_file": {"path": "/files/$id", "method": "GET", "task_type": "download"},
    "unmapped": {"path": "/users/1", "method": "GET", "response_mapping": "nope"}
  }
}`

type apiServer struct {
	*httptest.Server

	mu         sync.Mutex
	hits       map[string]int
	requestIDs []string
}

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()
	s := &apiServer{hits: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.Method+" "+r.URL.Path]++
		if id := r.Header.Get("X-Request-ID"); id != "" {
			s.requestIDs = append(s.requestIDs, id)
		}
		s.mu.Unlock()

		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/users/"):
			id := strings.TrimPrefix(r.URL.Path, "/users/")
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"data":{"id":%s,"name":"Alice"}}`, id)
		case r.Method == http.MethodPost && r.URL.Path == "/users":
			body, _ := io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
			w.Write(body)
		case r.URL.Path == "/boom":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"boom"}`))
		case strings.HasPrefix(r.URL.Path, "/files/"):
			w.Write([]byte("file-content"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *apiServer) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[key]
}

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	insecure := false
	s := &config.Settings{RequestIDHeader: "X-Request-ID"}
	s.Security.RequireHTTPS = &insecure
	s.History.Path = filepath.Join(t.TempDir(), "history.db")
	s.Mappers = map[string]config.MapperSettings{
		"user_name": {Path: "data.name"},
	}
	return s
}

func writeDoc(t *testing.T, baseURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "api.json")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(testDoc, baseURL)), 0o644))
	return path
}

type harness struct {
	srv     *apiServer
	session *Session
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := newAPIServer(t)
	h := &harness{srv: srv, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}

	s, err := Open(context.Background(), SessionOptions{
		ConfigPath: writeDoc(t, srv.URL),
		Settings:   testSettings(t),
		Logger:     zaptest.NewLogger(t),
		Doer:       srv.Client(),
		Stdin:      strings.NewReader(""),
		Stdout:     h.stdout,
		Stderr:     h.stderr,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	h.session = s
	return h
}

func (h *harness) call(t *testing.T, opts CallOptions) error {
	t.Helper()
	h.stdout.Reset()
	return h.session.Call(context.Background(), opts)
}

func TestCallJSONOutput(t *testing.T) {
	h := newHarness(t)

	err := h.call(t, CallOptions{Operations: []string{"get_user"}, ExtraVars: []string{"id=42"}, Output: FormatJSON})
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &env))
	assert.Equal(t, "get_user", env["operation"])
	assert.Equal(t, float64(200), env["status"])
	assert.Equal(t, map[string]any{"data": map[string]any{"id": float64(42), "name": "Alice"}}, env["body"])
	assert.NotContains(t, env, "error")

	assert.Equal(t, 1, h.srv.count("GET /users/42"))
	h.srv.mu.Lock()
	assert.Len(t, h.srv.requestIDs, 1)
	h.srv.mu.Unlock()
}

func TestCallMapperAndQuery(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.call(t, CallOptions{Operations: []string{"get_user_name"}, ExtraVars: []string{"id=1"}, Output: FormatBody}))
	assert.Equal(t, "Alice\n", h.stdout.String())

	require.NoError(t, h.call(t, CallOptions{Operations: []string{"get_user"}, ExtraVars: []string{"id=1"}, Output: FormatBody, Query: "data.id"}))
	assert.Equal(t, "1\n", h.stdout.String())

	require.NoError(t, h.call(t, CallOptions{Operations: []string{"get_user"}, ExtraVars: []string{"id=1"}, Output: FormatBody}))
	assert.Equal(t, "{\n  \"data\": {\n    \"id\": 1,\n    \"name\": \"Alice\"\n  }\n}\n", h.stdout.String())
}

func TestCallMultipleWithFailure(t *testing.T) {
	h := newHarness(t)

	err := h.call(t, CallOptions{
		Operations: []string{"get_user", "boom"},
		ExtraVars:  []string{"id=7"},
		Output:     FormatJSON,
		Parallel:   2,
	})
	require.ErrorIs(t, err, ErrFailed)
	assert.ErrorContains(t, err, "1 of 2")

	var envs []map[string]any
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &envs))
	require.Len(t, envs, 2)
	assert.Equal(t, "get_user", envs[0]["operation"])
	assert.Equal(t, float64(200), envs[0]["status"])

	assert.Equal(t, "boom", envs[1]["operation"])
	assert.Equal(t, float64(500), envs[1]["status"])
	assert.Equal(t, "network", envs[1]["error_kind"])
	assert.Equal(t, map[string]any{"error": "boom"}, envs[1]["body"])
}

func TestCallFilter(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.call(t, CallOptions{
		Operations: []string{"get_user"},
		ExtraVars:  []string{"id=1"},
		Output:     FormatBody,
		Filter:     "data",
		Query:      "name",
	}))
	assert.Equal(t, "Alice\n", h.stdout.String())

	err := h.call(t, CallOptions{Operations: []string{"get_user"}, ExtraVars: []string{"id=2"}, Filter: "data["})
	assert.ErrorContains(t, err, "invalid filter")
	assert.Zero(t, h.srv.count("GET /users/2"))
}

func TestCallErrors(t *testing.T) {
	h := newHarness(t)

	err := h.call(t, CallOptions{Operations: []string{"get_usr"}})
	require.ErrorIs(t, err, apierr.ErrConfiguration)
	assert.ErrorContains(t, err, "did you mean: get_user")

	err = h.call(t, CallOptions{})
	assert.ErrorContains(t, err, "no operation given")

	err = h.call(t, CallOptions{Operations: []string{"get_user"}, Output: FormatText})
	require.ErrorIs(t, err, ErrFailed)
	assert.Contains(t, h.stdout.String(), "Parameter Error")
	assert.Contains(t, h.stdout.String(), "(Parameter: id)")

	err = h.call(t, CallOptions{Operations: []string{"unmapped"}, Output: FormatText})
	require.ErrorIs(t, err, ErrFailed)
	assert.Contains(t, h.stdout.String(), "Mapper not found: nope")
	assert.Zero(t, h.srv.count("GET /users/1"))

	err = h.call(t, CallOptions{Operations: []string{"get_user"}, ExtraVars: []string{"id=1"}, Output: "xml"})
	assert.ErrorContains(t, err, "unknown output format")
}

func TestCallDryRun(t *testing.T) {
	h := newHarness(t)

	err := h.call(t, CallOptions{
		Operations: []string{"create_user"},
		ExtraVars:  []string{"name=Bob", "age:=30"},
		DryRun:     true,
	})
	require.NoError(t, err)

	out := h.stdout.String()
	assert.Contains(t, out, "POST "+h.srv.URL+"/users")
	assert.Contains(t, out, "Content-Type: application/json")
	assert.Contains(t, out, `"age":30`)
	assert.Contains(t, out, `"name":"Bob"`)
	assert.Zero(t, h.srv.count("POST /users"))
}

func TestCallSave(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "out.json")

	err := h.call(t, CallOptions{Operations: []string{"create_user"}, ExtraVars: []string{"name=Bob", "age:=30"}, Output: FormatBody, SavePath: path})
	require.NoError(t, err)
	assert.Empty(t, h.stdout.String())
	assert.Contains(t, h.stderr.String(), "Response saved to "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"age":30,"name":"Bob"}`, string(data))
}

func TestDownload(t *testing.T) {
	h := newHarness(t)
	dest := filepath.Join(t.TempDir(), "nested", "out.bin")

	err := h.session.Download(context.Background(), DownloadOptions{
		Operation:   "get_file",
		ExtraVars:   []string{"id=7"},
		Destination: dest,
		Output:      FormatJSON,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "file-content", string(data))

	var env map[string]any
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &env))
	assert.Equal(t, dest, env["path"])

	h.stdout.Reset()
	err = h.session.Download(context.Background(), DownloadOptions{Operation: "get_user", ExtraVars: []string{"id=1"}, Output: FormatText})
	require.ErrorIs(t, err, ErrFailed)
	assert.Contains(t, h.stdout.String(), "Operation 'get_user' is not configured as a download task")
}

func TestHistoryRecorded(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.call(t, CallOptions{Operations: []string{"get_user"}, ExtraVars: []string{"id=3"}, Output: FormatBody}))
	require.ErrorIs(t, h.call(t, CallOptions{Operations: []string{"boom"}, Output: FormatBody}), ErrFailed)

	entries, err := h.session.Recorder.List(context.Background(), history.Query{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byOp := map[string]history.Entry{}
	for _, e := range entries {
		byOp[e.Operation] = e
	}
	assert.Equal(t, 200, byOp["get_user"].StatusCode)
	assert.Equal(t, h.srv.URL+"/users/3", byOp["get_user"].URL)
	assert.Equal(t, 500, byOp["boom"].StatusCode)
	assert.Equal(t, "network", byOp["boom"].ErrorKind)

	h.stdout.Reset()
	require.NoError(t, h.session.History(context.Background(), HistoryOptions{Operation: "boom", Output: FormatJSON}))
	var listed []map[string]any
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "boom", listed[0]["operation"])

	h.stdout.Reset()
	require.NoError(t, h.session.History(context.Background(), HistoryOptions{Stats: true, Output: FormatJSON}))
	var stats []map[string]any
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &stats))
	require.Len(t, stats, 2)

	h.stdout.Reset()
	require.NoError(t, h.session.History(context.Background(), HistoryOptions{Stats: true, Operation: "boom"}))
	assert.Contains(t, h.stdout.String(), "OPERATION")
	assert.Contains(t, h.stdout.String(), "500x1")
	assert.NotContains(t, h.stdout.String(), "get_user")

	require.NoError(t, h.session.History(context.Background(), HistoryOptions{Clear: true}))
	count, err := h.session.Recorder.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMappingFailureRecordedInHistory(t *testing.T) {
	h := newHarness(t)
	h.session.Client.RegisterMapper("user_name", mapping.KeyPath{Path: "data.missing"})

	err := h.call(t, CallOptions{Operations: []string{"get_user_name"}, ExtraVars: []string{"id=2"}, Output: FormatText})
	require.ErrorIs(t, err, ErrFailed)
	assert.Contains(t, h.stdout.String(), "200 OK")
	assert.Contains(t, h.stdout.String(), `key path "data.missing" not found`)

	entries, err := h.session.Recorder.List(context.Background(), history.Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 200, entries[0].StatusCode)
	assert.Equal(t, "mapping", entries[0].ErrorKind)

	h.stdout.Reset()
	require.NoError(t, h.session.History(context.Background(), HistoryOptions{Stats: true, Output: FormatJSON}))
	var stats []map[string]any
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &stats))
	require.Len(t, stats, 1)
	assert.EqualValues(t, 0, stats[0]["success"])
	assert.EqualValues(t, 1, stats[0]["errors"])
}

func TestOps(t *testing.T) {
	h := newHarness(t)

	var out bytes.Buffer
	require.NoError(t, h.session.Ops(&out))
	assert.Contains(t, out.String(), "get_user")
	assert.Contains(t, out.String(), "/users/$id")
	assert.Contains(t, out.String(), "download")
	assert.Contains(t, out.String(), "Profiles: other")
}

func TestValidate(t *testing.T) {
	path := writeDoc(t, "http://insecure.example.com")

	var out bytes.Buffer
	err := Validate(path, testSettings(t), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "OK (6 operations, 1 profiles)")

	out.Reset()
	strict := &config.Settings{}
	err = Validate(path, strict, &out)
	assert.ErrorContains(t, err, "6 problem(s)")
	assert.Contains(t, out.String(), "[(globals)]")
	assert.Contains(t, out.String(), "Security Violation")
}
