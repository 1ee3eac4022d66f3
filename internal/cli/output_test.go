package cli

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
)

func plainStyles() styles {
	return newStyles(&bytes.Buffer{})
}

func TestFormatText(t *testing.T) {
	r := &Result{
		Operation:  "get_user",
		StatusCode: 200,
		Header:     http.Header{"Content-Type": {"application/json"}, "X-Trace": {"a", "b"}},
		Body:       []byte(`{"id":1}`),
		Duration:   5 * time.Millisecond,
	}

	out, err := formatOutput([]*Result{r}, FormatText, false, plainStyles())
	require.NoError(t, err)
	assert.Equal(t, "200 OK\nDuration: 5ms | Size: 8B\n\n{\n  \"id\": 1\n}\n", out)

	out, err = formatOutput([]*Result{r}, FormatText, true, plainStyles())
	require.NoError(t, err)
	assert.Contains(t, out, "Headers:\n  Content-Type: application/json\n  X-Trace: a, b\n")
	assert.Contains(t, out, "\nBody:\n{")
}

func TestFormatTextError(t *testing.T) {
	r := &Result{
		Operation: "boom",
		Duration:  1500 * time.Millisecond,
		Err:       apierr.Status(503, []byte("down")),
	}

	out, err := formatOutput([]*Result{r}, FormatText, false, plainStyles())
	require.NoError(t, err)
	assert.Contains(t, out, "503 Service Unavailable\n")
	assert.Contains(t, out, "Duration: 1.50s")
	assert.Contains(t, out, "\ndown\n")
	assert.Contains(t, out, "Error: Network Error: unexpected status 503: down")

	r.Err = apierr.MissingParameter("id")
	out, err = formatOutput([]*Result{r}, FormatText, false, plainStyles())
	require.NoError(t, err)
	assert.Contains(t, out, "ERROR\n")
}

func TestFormatYAML(t *testing.T) {
	r := &Result{
		Operation:  "get_user",
		StatusCode: 201,
		Body:       []byte(`{"id":1,"tags":["a"],"ratio":0.5}`),
	}

	out, err := formatOutput([]*Result{r, r}, FormatYAML, false, plainStyles())
	require.NoError(t, err)
	assert.Contains(t, out, "operation: get_user\n")
	assert.Contains(t, out, "status: 201\n")
	assert.Contains(t, out, "    id: 1\n")
	assert.Contains(t, out, "    ratio: 0.5\n")
	assert.Contains(t, out, "---\n")
}

func TestFormatBodyNonJSON(t *testing.T) {
	r := &Result{Operation: "text", StatusCode: 200, Body: []byte("plain text")}
	out, err := formatOutput([]*Result{r}, FormatBody, false, plainStyles())
	require.NoError(t, err)
	assert.Equal(t, "plain text\n", out)
}

func TestApplyQuery(t *testing.T) {
	r := &Result{Body: []byte(`{"items":[{"name":"a","n":1},{"name":"b","n":5}]}`)}
	require.NoError(t, applyQuery(context.Background(), r, "", "items[?n > `2`].name"))
	assert.Equal(t, []any{"b"}, r.Mapped)

	r = &Result{Body: []byte(`{"items":[{"name":"a","n":1},{"name":"b","n":5}]}`)}
	require.NoError(t, applyQuery(context.Background(), r, "items[?n < `2`]", "[0].name"))
	assert.Equal(t, "a", r.Mapped)

	r = &Result{Body: []byte(`{}`)}
	assert.ErrorContains(t, applyQuery(context.Background(), r, "", "items[?"), "query")
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "999ms", formatDuration(999*time.Millisecond))
	assert.Equal(t, "2.00s", formatDuration(2*time.Second))
	assert.Equal(t, "512B", formatSize(512))
	assert.Equal(t, "1.50KB", formatSize(1536))
	assert.Equal(t, "2.00MB", formatSize(2*1024*1024))
}

func TestSuggest(t *testing.T) {
	names := []string{"create_user", "delete_user", "get_user", "list_posts"}
	assert.Contains(t, suggest("get_usr", names), "get_user")
	assert.Empty(t, suggest("zzz", names))
}

func TestFormatStatusCodes(t *testing.T) {
	assert.Equal(t, "ERRx1 200x3 404x2", formatStatusCodes(map[int]int{404: 2, 200: 3, 0: 1}))
	assert.Equal(t, "", formatStatusCodes(nil))
}

func TestFormatTextHighlight(t *testing.T) {
	r := &Result{Operation: "get_user", StatusCode: 200, Body: []byte(`{"id":1}`)}
	st := plainStyles()
	st.highlight = true

	out, err := formatOutput([]*Result{r}, FormatText, false, st)
	require.NoError(t, err)
	assert.Contains(t, out, "\x1b[")
	assert.Contains(t, out, "id")

	out, err = formatOutput([]*Result{r}, FormatBody, false, st)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"id\": 1\n}\n", out)
}
