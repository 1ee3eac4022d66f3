package apiconfig

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
	"github.com/iSoldLeo/DynamicAPI/pkg/value"
)

func testDocument() *Document {
	timeout := 2.5
	return &Document{
		Globals: Globals{
			BaseURL: "https://api.example.com/v1",
			Headers: map[string]string{"Accept": "application/json", "X-Layer": "globals"},
			Timeout: &timeout,
		},
		Profiles: map[string]Profile{
			"staging": {
				BaseURL: "https://staging.example.com",
				Headers: map[string]string{"X-Layer": "profile", "X-Env": "staging"},
			},
			"insecure": {BaseURL: "http://plain.example.com"},
			"broken":   {BaseURL: "not a url"},
		},
		ParamPresets: map[string]map[string]string{
			"first":  {"a": "1", "shared": "first"},
			"second": {"b": "2", "shared": "second"},
		},
		Operations: map[string]OperationConfig{
			"get_user": {
				Path:    "/users/$id",
				Method:  "get",
				Headers: map[string]string{"X-Layer": "operation"},
			},
			"presets": {
				Path:       "/p",
				Method:     "POST",
				UsePresets: []string{"first", "second"},
				Params:     map[string]value.Value{"shared": value.String("op"), "n": value.Int(3)},
			},
			"evil_headers": {
				Path:   "/h",
				Method: "GET",
				Headers: map[string]string{
					"Host":            "evil.com",
					"content-length":  "9",
					"Accept-Encoding": "br",
					"CONNECTION":      "close",
					"Upgrade":         "h2c",
					"X-Ok":            "yes",
				},
			},
			"absolute":        {Path: "https://evil.com/steal", Method: "GET"},
			"scheme_relative": {Path: "//evil.com/steal", Method: "GET"},
			"with_body": {
				Path:       "/b",
				Method:     "POST",
				Body:       ptr(value.Object(map[string]value.Value{"k": value.String("$v")})),
				Processors: []string{"sign"},
				TaskType:   TaskDownload,
			},
		},
	}
}

func ptr(v value.Value) *value.Value { return &v }

func TestResolveMergesLayers(t *testing.T) {
	r := NewResolver(testDocument())

	op, err := r.Resolve("get_user")
	require.NoError(t, err)
	assert.Equal(t, "get_user", op.Name)
	assert.Equal(t, "https://api.example.com/v1", op.BaseURL.String())
	assert.Equal(t, "GET", op.Method)
	assert.Equal(t, "/users/$id", op.Path)
	assert.Equal(t, TaskRequest, op.TaskType)
	assert.Equal(t, 2500*time.Millisecond, op.Timeout)
	assert.Equal(t, map[string]string{"Accept": "application/json", "X-Layer": "operation"}, op.Headers)

	r.SetProfile("staging")
	assert.Equal(t, "staging", r.Profile())
	op, err = r.Resolve("get_user")
	require.NoError(t, err)
	assert.Equal(t, "https://staging.example.com", op.BaseURL.String())
	assert.Equal(t, map[string]string{
		"Accept":  "application/json",
		"X-Layer": "operation",
		"X-Env":   "staging",
	}, op.Headers)
}

func TestResolveHeaderNamesIgnoreCase(t *testing.T) {
	doc := testDocument()
	doc.Globals.Headers = map[string]string{"Authorization": "global"}
	doc.Profiles["staging"] = Profile{Headers: map[string]string{"AUTHORIZATION": "profile"}}
	doc.Operations["auth"] = OperationConfig{
		Path:    "/a",
		Method:  "GET",
		Headers: map[string]string{"authorization": "op"},
	}

	op, err := NewResolver(doc).Resolve("auth")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"authorization": "op"}, op.Headers)

	doc.Operations["auth"] = OperationConfig{Path: "/a", Method: "GET"}
	op, err = NewResolver(doc, WithProfile("staging")).Resolve("auth")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"AUTHORIZATION": "profile"}, op.Headers)
}

func TestMergeHeaders(t *testing.T) {
	dst := map[string]string{"Content-Type": "text/plain", "X-Keep": "1"}
	MergeHeaders(dst, map[string]string{"content-type": "application/json", "X-New": "2"})
	assert.Equal(t, map[string]string{
		"content-type": "application/json",
		"X-Keep":       "1",
		"X-New":        "2",
	}, dst)
}

func TestResolveUnknownProfileFallsBackToGlobals(t *testing.T) {
	r := NewResolver(testDocument(), WithProfile("nope"))
	op, err := r.Resolve("get_user")
	require.NoError(t, err)
	assert.Equal(t, "api.example.com", op.BaseURL.Host)
}

func TestResolvePresetOrder(t *testing.T) {
	op, err := NewResolver(testDocument()).Resolve("presets")
	require.NoError(t, err)
	assert.Equal(t, map[string]value.Value{
		"a":      value.String("1"),
		"b":      value.String("2"),
		"shared": value.String("op"),
		"n":      value.Int(3),
	}, op.Params)
}

func TestResolveCopiesBodyAndProcessors(t *testing.T) {
	doc := testDocument()
	op, err := NewResolver(doc).Resolve("with_body")
	require.NoError(t, err)
	require.NotNil(t, op.Body)
	assert.True(t, op.IsDownload())
	assert.Equal(t, []string{"sign"}, op.Processors)

	op.Processors[0] = "changed"
	op.Headers["X-New"] = "1"
	again, err := NewResolver(doc).Resolve("with_body")
	require.NoError(t, err)
	assert.Equal(t, []string{"sign"}, again.Processors)
	assert.NotContains(t, again.Headers, "X-New")
}

func TestResolveIsIdempotent(t *testing.T) {
	r := NewResolver(testDocument(), WithProfile("staging"))
	first, err := r.Resolve("presets")
	require.NoError(t, err)
	second, err := r.Resolve("presets")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NotSame(t, first, second)
}

func TestResolveDropsBlacklistedHeaders(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := NewResolver(testDocument(), WithLogger(zap.New(core)))

	op, err := r.Resolve("evil_headers")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Accept": "application/json", "X-Layer": "globals", "X-Ok": "yes"}, op.Headers)

	entries := logs.FilterMessage("dropped blacklisted headers").All()
	require.Len(t, entries, 1)
}

func TestResolveRejectsAbsolutePaths(t *testing.T) {
	r := NewResolver(testDocument())
	for _, name := range []string{"absolute", "scheme_relative"} {
		_, err := r.Resolve(name)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, apierr.ErrConfiguration))
		assert.Contains(t, err.Error(), "Security Violation")
	}
}

func TestResolveSecurityPolicy(t *testing.T) {
	doc := testDocument()

	r := NewResolver(doc, WithProfile("insecure"))
	_, err := r.Resolve("get_user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Non-HTTPS")

	r.SetSecurityPolicy(SecurityPolicy{RequireHTTPS: false})
	_, err = r.Resolve("get_user")
	require.NoError(t, err)

	r = NewResolver(doc, WithSecurityPolicy(SecurityPolicy{
		RequireHTTPS:     true,
		AllowedBaseHosts: []string{"API.example.com"},
	}))
	_, err = r.Resolve("get_user")
	require.NoError(t, err)

	r.SetProfile("staging")
	_, err = r.Resolve("get_user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host not allowed")
	assert.Equal(t, []string{"API.example.com"}, r.SecurityPolicy().AllowedBaseHosts)
}

func TestResolveInvalidBaseURL(t *testing.T) {
	r := NewResolver(testDocument(), WithProfile("broken"))
	_, err := r.Resolve("get_user")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierr.ErrConfiguration))
	assert.Contains(t, err.Error(), "Invalid Base URL")
}

func TestResolveUnknownOperation(t *testing.T) {
	_, err := NewResolver(testDocument()).Resolve("missing")
	require.Error(t, err)
	assert.Equal(t, "Configuration Error: Operation 'missing' not found", err.Error())
}

func TestResolveConcurrentProfileSwitch(t *testing.T) {
	r := NewResolver(testDocument())

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		profile := "staging"
		if i%2 == 0 {
			profile = ""
		}
		g.Go(func() error {
			r.SetProfile(profile)
			op, err := r.Resolve("get_user")
			if err != nil {
				return err
			}
			host := op.BaseURL.Host
			if host != "api.example.com" && host != "staging.example.com" {
				return errors.New("unexpected host " + host)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}
