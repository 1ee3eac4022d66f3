package apiconfig

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
	"github.com/iSoldLeo/DynamicAPI/pkg/value"
)

const sampleJSON = `{
  // comments are allowed
  "version": "1",
  "globals": {
    "base_url": "https://api.example.com",
    "headers": {"Accept": "application/json"},
    "timeout": 15
  },
  "profiles": {
    "staging": {"base_url": "https://staging.example.com", "headers": {"X-Env": "staging"}}
  },
  "param_presets": {
    "paging": {"limit": "20", "offset": "0"}
  },
  "operations": {
    "get_user": {"path": "/users/$id", "method": "GET", "params": {"fields": "$fields", "page": 1}},
    "create_user": {
      "path": "/users",
      "method": "POST",
      "body": {"name": "$name", "tags": ["a"]},
      "use_presets": ["paging"],
      "response_mapping": "user",
      "processors": ["sign"],
    },
  }
}`

func TestLoadJSONC(t *testing.T) {
	doc, err := Load([]byte(sampleJSON))
	require.NoError(t, err)

	assert.Equal(t, "1", doc.Version)
	assert.Equal(t, "https://api.example.com", doc.Globals.BaseURL)
	require.NotNil(t, doc.Globals.Timeout)
	assert.Equal(t, 15.0, *doc.Globals.Timeout)
	assert.Equal(t, []string{"create_user", "get_user"}, doc.OperationNames())
	assert.Equal(t, []string{"staging"}, doc.ProfileNames())

	get := doc.Operations["get_user"]
	assert.Nil(t, get.Body)
	assert.Equal(t, value.Int(1), get.Params["page"])
	assert.Equal(t, value.String("$fields"), get.Params["fields"])

	create := doc.Operations["create_user"]
	require.NotNil(t, create.Body)
	assert.Equal(t, value.KindObject, create.Body.Kind())
	assert.Equal(t, []string{"paging"}, create.UsePresets)
	assert.Equal(t, "user", create.ResponseMapping)
	assert.Equal(t, []string{"sign"}, create.Processors)
}

func TestLoadNullBodyIsAbsent(t *testing.T) {
	doc, err := Load([]byte(`{"globals":{"base_url":"https://x.io"},"operations":{"a":{"path":"/a","method":"GET","body":null}}}`))
	require.NoError(t, err)
	assert.Nil(t, doc.Operations["a"].Body)
}

func TestLoadYAML(t *testing.T) {
	src := `
globals:
  base_url: https://api.example.com
operations:
  download_report:
    path: /reports/$id.pdf
    method: GET
    task_type: download
  submit:
    path: /submit
    method: POST
    encoding: form
    body:
      count: 3
      ok: true
`
	doc, err := LoadYAML([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, TaskDownload, doc.Operations["download_report"].TaskType)

	submit := doc.Operations["submit"]
	assert.Equal(t, EncodingForm, submit.Encoding)
	require.NotNil(t, submit.Body)
	assert.Equal(t, value.Int(3), submit.Body.Fields()["count"])
	assert.Equal(t, value.Bool(true), submit.Body.Fields()["ok"])
}

func TestLoadFileDispatchesOnExtension(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "api.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("globals:\n  base_url: https://a.io\noperations: {}\n"), 0o600))
	jsonPath := filepath.Join(dir, "api.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(sampleJSON), 0o600))

	doc, err := LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "https://a.io", doc.Globals.BaseURL)

	doc, err = LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Len(t, doc.Operations, 2)

	_, err = LoadFile(filepath.Join(dir, "missing.json"))
	assert.True(t, errors.Is(err, apierr.ErrConfiguration))
}

func TestLoadRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"not json", `{`},
		{"missing base_url", `{"globals":{},"operations":{}}`},
		{"missing operations", `{"globals":{"base_url":"https://a.io"}}`},
		{"missing method", `{"globals":{"base_url":"https://a.io"},"operations":{"a":{"path":"/a"}}}`},
		{"missing path", `{"globals":{"base_url":"https://a.io"},"operations":{"a":{"method":"GET"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.src))
			require.Error(t, err)
			assert.True(t, errors.Is(err, apierr.ErrConfiguration))
		})
	}
}
