package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/iSoldLeo/DynamicAPI/internal/filter"
	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
	"github.com/iSoldLeo/DynamicAPI/pkg/value"
)

// Output formats accepted by --output.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatBody = "body"
)

// Result is one executed operation as shown to the user.
type Result struct {
	Operation  string
	StatusCode int
	Header     http.Header
	Body       []byte
	// Mapped holds the mapper output when the operation names one.
	Mapped   any
	Duration time.Duration
	// Path is set for downloads.
	Path string
	Err  error
}

// envelope is the json/yaml rendering of a Result.
type envelope struct {
	Operation  string            `json:"operation" yaml:"operation"`
	Status     int               `json:"status,omitempty" yaml:"status,omitempty"`
	DurationMs int64             `json:"duration_ms" yaml:"duration_ms"`
	Size       int               `json:"size" yaml:"size"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Path       string            `json:"path,omitempty" yaml:"path,omitempty"`
	Body       any               `json:"body,omitempty" yaml:"body,omitempty"`
	Error      string            `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind  string            `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
}

type styles struct {
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
	label   lipgloss.Style

	// highlight enables JSON syntax colouring of text bodies.
	highlight bool
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		success: r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		warning: r.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		failure: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("241")),
		label:   r.NewStyle().Bold(true),
	}
}

func (s styles) status(code int) lipgloss.Style {
	switch {
	case code >= 200 && code < 300:
		return s.success
	case code >= 400 || code == 0:
		return s.failure
	default:
		return s.warning
	}
}

// status returns the HTTP status, including the one carried by a status error.
func (r *Result) status() int {
	if r.StatusCode != 0 {
		return r.StatusCode
	}
	var e *apierr.Error
	if errors.As(r.Err, &e) {
		return e.StatusCode
	}
	return 0
}

// payload is the decoded body: the mapper output, parsed JSON, or text.
func (r *Result) payload() any {
	if r.Mapped != nil {
		return r.Mapped
	}
	body := r.Body
	if len(body) == 0 {
		var e *apierr.Error
		if errors.As(r.Err, &e) {
			body = e.Body
		}
	}
	if len(body) == 0 {
		return nil
	}
	if v, ok := decodeBody(body); ok {
		return v
	}
	return string(body)
}

func decodeBody(body []byte) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return nil, false
	}
	return v, true
}

// applyQuery narrows the result payload with a JMESPath filter, then
// transforms it with a JMESPath or $(shell) query.
func applyQuery(ctx context.Context, r *Result, filterExpr, query string) error {
	if (filterExpr == "" && query == "") || r.Err != nil {
		return nil
	}
	data, err := json.Marshal(r.payload())
	if err != nil {
		return err
	}
	out, err := filter.Apply(ctx, data, filterExpr, query)
	if err != nil {
		return err
	}
	if v, ok := decodeBody(out); ok {
		r.Mapped = v
	} else {
		r.Mapped = string(out)
	}
	return nil
}

func (r *Result) envelope(full bool) envelope {
	env := envelope{
		Operation:  r.Operation,
		Status:     r.status(),
		DurationMs: r.Duration.Milliseconds(),
		Size:       len(r.Body),
		Path:       r.Path,
		Body:       r.payload(),
	}
	if full && len(r.Header) > 0 {
		env.Headers = flattenHeaders(r.Header)
	}
	if r.Err != nil {
		env.Error = r.Err.Error()
		env.ErrorKind = apierr.KindOf(r.Err).String()
	}
	return env
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// formatOutput renders results in the given format.
func formatOutput(results []*Result, format string, full bool, st styles) (string, error) {
	switch format {
	case FormatJSON:
		var data []byte
		var err error
		if len(results) == 1 {
			data, err = json.MarshalIndent(results[0].envelope(full), "", "  ")
		} else {
			envs := make([]envelope, len(results))
			for i, r := range results {
				envs[i] = r.envelope(full)
			}
			data, err = json.MarshalIndent(envs, "", "  ")
		}
		if err != nil {
			return "", err
		}
		return string(data) + "\n", nil

	case FormatYAML:
		var sb strings.Builder
		for i, r := range results {
			if i > 0 {
				sb.WriteString("---\n")
			}
			env := r.envelope(full)
			if env.Body != nil {
				v, err := value.FromAny(env.Body)
				if err != nil {
					return "", err
				}
				env.Body = v.Native()
			}
			data, err := yaml.Marshal(env)
			if err != nil {
				return "", err
			}
			sb.Write(data)
		}
		return sb.String(), nil

	case FormatBody:
		var sb strings.Builder
		for _, r := range results {
			sb.WriteString(bodyText(r))
			sb.WriteString("\n")
		}
		return sb.String(), nil

	case FormatText, "":
		var sb strings.Builder
		for i, r := range results {
			if i > 0 {
				sb.WriteString("\n")
			}
			writeText(&sb, r, full, len(results) > 1, st)
		}
		return sb.String(), nil

	default:
		return "", fmt.Errorf("unknown output format %q (want text, json, yaml or body)", format)
	}
}

// bodyText is the payload as printed on its own: raw text for unmapped
// bodies, indented JSON otherwise.
func bodyText(r *Result) string {
	if r.Mapped == nil && len(r.Body) > 0 {
		var buf bytes.Buffer
		if json.Indent(&buf, r.Body, "", "  ") == nil {
			return buf.String()
		}
		return string(r.Body)
	}
	p := r.payload()
	if p == nil {
		return ""
	}
	if s, ok := p.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Sprint(p)
	}
	return string(data)
}

func writeText(sb *strings.Builder, r *Result, full, named bool, st styles) {
	if named {
		sb.WriteString(st.label.Render("# "+r.Operation) + "\n")
	}

	code := r.status()
	statusLine := "ERROR"
	if code != 0 {
		statusLine = fmt.Sprintf("%d %s", code, http.StatusText(code))
	}
	sb.WriteString(st.status(code).Render(statusLine) + "\n")

	meta := fmt.Sprintf("Duration: %s | Size: %s", formatDuration(r.Duration), formatSize(len(r.Body)))
	if r.Path != "" {
		meta += " | Saved: " + r.Path
	}
	sb.WriteString(st.muted.Render(meta) + "\n")

	if full && len(r.Header) > 0 {
		sb.WriteString("\nHeaders:\n")
		keys := make([]string, 0, len(r.Header))
		for k := range r.Header {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", k, strings.Join(r.Header[k], ", ")))
		}
	}

	if body := bodyText(r); body != "" && r.Path == "" {
		if full {
			sb.WriteString("\nBody:\n")
		} else {
			sb.WriteString("\n")
		}
		if st.highlight && json.Valid([]byte(body)) {
			body = highlightJSON(body)
		}
		sb.WriteString(body)
		sb.WriteString("\n")
	}

	if r.Err != nil {
		sb.WriteString("\n" + st.failure.Render("Error: "+r.Err.Error()) + "\n")
	}
}

func highlightJSON(src string) string {
	var buf bytes.Buffer
	if err := quick.Highlight(&buf, src, "json", "terminal256", "monokai"); err != nil {
		return src
	}
	return strings.TrimRight(buf.String(), "\n")
}

func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.2fs", float64(ms)/1000.0)
}

func formatSize(bytes int) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	}
	if bytes < 1024*1024 {
		return fmt.Sprintf("%.2fKB", float64(bytes)/1024.0)
	}
	return fmt.Sprintf("%.2fMB", float64(bytes)/(1024.0*1024.0))
}
