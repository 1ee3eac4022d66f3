package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iSoldLeo/DynamicAPI/pkg/apiconfig"
)

const openAPIDoc = `{
  "openapi": "3.0.0",
  "info": {"title": "Users", "version": "2"},
  "servers": [{"url": "https://users.example.com"}],
  "paths": {
    "/users/{id}": {"get": {"operationId": "getUser", "parameters": [{"name": "id", "in": "path", "required": true}]}}
  }
}`

func TestImport(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "openapi.json")
	require.NoError(t, os.WriteFile(src, []byte(openAPIDoc), 0o644))

	var out bytes.Buffer
	err := Import(context.Background(), ImportOptions{Source: src}, testSettings(t), zaptest.NewLogger(t), &out)
	require.NoError(t, err)

	doc, err := apiconfig.LoadYAML(out.Bytes())
	require.NoError(t, err)
	op, ok := doc.Operation("get_user")
	require.True(t, ok)
	assert.Equal(t, "/users/$id", op.Path)
	assert.Equal(t, "https://users.example.com", doc.Globals.BaseURL)

	dest := filepath.Join(dir, "api.json")
	require.NoError(t, Import(context.Background(), ImportOptions{Source: src, Dest: dest, BaseURL: "https://staging.example.com"}, testSettings(t), nil, &out))
	doc, err = apiconfig.LoadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "https://staging.example.com", doc.Globals.BaseURL)

	err = Import(context.Background(), ImportOptions{Source: src, Format: "toml"}, testSettings(t), nil, &out)
	assert.ErrorContains(t, err, "unknown output format")
}
