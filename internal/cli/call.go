package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/sahilm/fuzzy"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iSoldLeo/DynamicAPI/internal/config"
	"github.com/iSoldLeo/DynamicAPI/internal/filter"
	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
)

// CallOptions controls Call.
type CallOptions struct {
	Operations []string
	ExtraVars  []string // -e key=value / key:=json
	Output     string   // text, json, yaml, body; auto when empty
	Filter     string   // JMESPath filter applied before Query
	Query      string   // JMESPath or $(shell) applied to each response
	Full       bool
	SavePath   string
	Copy       bool
	DryRun     bool
	// Parallel bounds concurrent operations. Zero runs them all at once.
	Parallel int
}

// DownloadOptions controls Download.
type DownloadOptions struct {
	Operation   string
	ExtraVars   []string
	Destination string
	Output      string
}

// ErrFailed is returned when at least one operation failed after its output
// was printed.
var ErrFailed = errors.New("operation failed")

// Call runs one or more operations and prints their results in order.
func (s *Session) Call(ctx context.Context, opts CallOptions) error {
	values, err := ParseExtraVars(opts.ExtraVars)
	if err != nil {
		return err
	}

	names := opts.Operations
	if len(names) == 0 {
		if !s.interactive {
			return fmt.Errorf("no operation given")
		}
		name, err := pickOperation(s.Document, s.stdin, s.stderr)
		if err != nil {
			return err
		}
		names = []string{name}
	}
	for _, name := range names {
		if err := s.checkOperation(name); err != nil {
			return err
		}
	}
	if err := filter.Validate(opts.Filter, opts.Query); err != nil {
		return err
	}

	if opts.DryRun {
		return s.dryRun(ctx, names, values)
	}

	results := make([]*Result, len(names))
	if len(names) == 1 {
		results[0] = s.callWithPrompt(ctx, names[0], values)
	} else {
		var g errgroup.Group
		if opts.Parallel > 0 {
			g.SetLimit(opts.Parallel)
		}
		for i, name := range names {
			g.Go(func() error {
				results[i] = s.callOne(ctx, name, values)
				return nil
			})
		}
		_ = g.Wait()
	}

	failed := 0
	for _, r := range results {
		if r.Err == nil {
			if err := applyQuery(ctx, r, opts.Filter, opts.Query); err != nil {
				return err
			}
		} else {
			failed++
		}
	}

	if err := s.emit(results, opts.Output, opts.Full, opts.SavePath, opts.Copy); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrFailed, failed, len(results))
	}
	return nil
}

// callWithPrompt runs a single operation. On a terminal, missing parameters
// are asked for and the call is retried.
func (s *Session) callWithPrompt(ctx context.Context, name string, values map[string]any) *Result {
	var reader *bufio.Reader
	for {
		r := s.callOne(ctx, name, values)
		var e *apierr.Error
		if !s.interactive || !errors.As(r.Err, &e) || e.Kind != apierr.KindParameter || e.Parameter == "" {
			return r
		}
		if _, seen := values[e.Parameter]; seen {
			return r
		}
		if reader == nil {
			reader = bufio.NewReader(s.stdin)
		}
		v, err := promptForParameter(reader, s.stderr, name, e.Parameter)
		if err != nil {
			r.Err = fmt.Errorf("failed to read input for '%s': %w", e.Parameter, err)
			return r
		}
		values[e.Parameter] = v
	}
}

func (s *Session) callOne(ctx context.Context, name string, values map[string]any) *Result {
	r := &Result{Operation: name}
	start := time.Now()
	defer func() { r.Duration = time.Since(start) }()

	op, err := s.Client.Resolver().Resolve(name)
	if err != nil {
		r.Err = apierr.Classify(err)
		return r
	}

	// Mapping runs inside the client so a mapping failure is recorded.
	var mapped any
	var out any
	if op.ResponseMapping != "" {
		out = &mapped
	}

	resp, err := s.Client.CallResponse(ctx, name, values, out)
	if resp != nil {
		r.StatusCode = resp.StatusCode
		r.Header = resp.Header
		r.Body = resp.Body
	}
	if err != nil {
		r.Err = err
		return r
	}
	r.Mapped = mapped
	return r
}

// Download runs a download operation.
func (s *Session) Download(ctx context.Context, opts DownloadOptions) error {
	values, err := ParseExtraVars(opts.ExtraVars)
	if err != nil {
		return err
	}
	if err := s.checkOperation(opts.Operation); err != nil {
		return err
	}

	r := &Result{Operation: opts.Operation}
	start := time.Now()
	path, err := s.Client.Download(ctx, opts.Operation, values, opts.Destination)
	r.Duration = time.Since(start)
	if err != nil {
		r.Err = err
	} else {
		r.Path = path
		r.StatusCode = http.StatusOK
	}

	if err := s.emit([]*Result{r}, opts.Output, false, "", false); err != nil {
		return err
	}
	if r.Err != nil {
		return fmt.Errorf("%w: %s", ErrFailed, opts.Operation)
	}
	return nil
}

// dryRun prints the requests that would be sent.
func (s *Session) dryRun(ctx context.Context, names []string, values map[string]any) error {
	for _, name := range names {
		t, err := s.Client.Prepare(ctx, name, values)
		if err != nil {
			return err
		}
		req, err := t.NewRequest(ctx)
		if err != nil {
			return err
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "# %s (%s)\n%s %s\n", name, t.Task.Kind, req.Method, req.URL)
		for _, k := range sortedHeaderKeys(req.Header) {
			fmt.Fprintf(&sb, "%s: %s\n", k, strings.Join(req.Header[k], ", "))
		}
		if req.Body != nil {
			body, err := io.ReadAll(req.Body)
			req.Body.Close()
			if err != nil {
				return err
			}
			if len(body) > 0 {
				sb.WriteString("\n" + string(body) + "\n")
			}
		}
		sb.WriteString("\n")
		if _, err := fmt.Fprint(s.stdout, sb.String()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) emit(results []*Result, format string, full bool, savePath string, copyOut bool) error {
	if format == "" {
		format = FormatBody
		if s.color {
			format = FormatText
		}
	}

	st := newStyles(s.stdout)
	// Escape codes must not end up in saved files or the clipboard.
	st.highlight = s.color && savePath == "" && !copyOut
	output, err := formatOutput(results, format, full, st)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	if copyOut {
		if err := clipboard.WriteAll(output); err != nil {
			s.Logger.Warn("failed to copy output to clipboard", zap.Error(err))
		} else {
			fmt.Fprintln(s.stderr, "Output copied to clipboard")
		}
	}

	if savePath != "" {
		if err := os.WriteFile(savePath, []byte(output), config.FilePermissions); err != nil {
			return fmt.Errorf("failed to save response: %w", err)
		}
		fmt.Fprintf(s.stderr, "Response saved to %s\n", savePath)
		return nil
	}

	_, err = fmt.Fprint(s.stdout, output)
	return err
}

// checkOperation rejects unknown names with fuzzy suggestions.
func (s *Session) checkOperation(name string) error {
	if _, ok := s.Document.Operation(name); ok {
		return nil
	}
	if suggestions := suggest(name, s.Document.OperationNames()); len(suggestions) > 0 {
		return apierr.Configuration("Operation '%s' not found (did you mean: %s?)", name, strings.Join(suggestions, ", "))
	}
	return apierr.Configuration("Operation '%s' not found", name)
}

func suggest(name string, candidates []string) []string {
	const maxSuggestions = 3
	matches := fuzzy.Find(name, candidates)
	out := make([]string, 0, maxSuggestions)
	for _, m := range matches {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, m.Str)
	}
	return out
}

func sortedHeaderKeys(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
