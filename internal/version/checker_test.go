package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		name     string
		latest   string
		current  string
		expected bool
	}{
		{"same version", "0.1.0", "0.1.0", false},
		{"patch upgrade", "0.1.1", "0.1.0", true},
		{"patch downgrade", "0.1.0", "0.1.1", false},
		{"minor upgrade", "0.2.0", "0.1.9", true},
		{"major upgrade", "1.0.0", "0.9.9", true},
		{"multi-digit patch", "0.0.100", "0.0.99", true},
		{"different lengths", "1.0", "0.9.1", true},
		{"shorter current", "1.0.1", "1.0", true},
		{"dev suffix ignored", "0.1.0", "0.1.0-dev", false},
		{"build metadata", "0.1.1+build7", "0.1.0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isNewerVersion(tt.latest, tt.current))
		})
	}
}

func TestCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dynapi/0.1.0", r.Header.Get("User-Agent"))
		w.Write([]byte(`{"tag_name":"v0.2.0","html_url":"https://example.com/r/0.2.0"}`))
	}))
	defer srv.Close()

	c := &Checker{Doer: srv.Client(), URL: srv.URL}
	up, err := c.Check(context.Background(), "0.1.0")
	require.NoError(t, err)
	assert.True(t, up.Available)
	assert.Equal(t, "0.2.0", up.Latest)
	assert.Equal(t, "https://example.com/r/0.2.0", up.URL)
}

func TestCheckStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := &Checker{Doer: srv.Client(), URL: srv.URL}
	_, err := c.Check(context.Background(), "0.1.0")
	assert.ErrorContains(t, err, "unexpected status code: 403")
}
