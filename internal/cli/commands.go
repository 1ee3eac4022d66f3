package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iSoldLeo/DynamicAPI/internal/analytics"
	"github.com/iSoldLeo/DynamicAPI/internal/config"
	"github.com/iSoldLeo/DynamicAPI/internal/history"
	"github.com/iSoldLeo/DynamicAPI/pkg/apiconfig"
)

// Validate loads the document at path and resolves every operation under
// every profile with the security policy from settings.
func Validate(path string, settings *config.Settings, w io.Writer) error {
	doc, err := apiconfig.LoadFile(path)
	if err != nil {
		return err
	}

	policy := apiconfig.SecurityPolicy{
		RequireHTTPS:     settings.RequireHTTPS(),
		AllowedBaseHosts: settings.Security.AllowedHosts,
	}
	profiles := append([]string{""}, doc.ProfileNames()...)

	var problems []string
	for _, profile := range profiles {
		r := apiconfig.NewResolver(doc, apiconfig.WithProfile(profile), apiconfig.WithSecurityPolicy(policy))
		for _, name := range doc.OperationNames() {
			if _, err := r.Resolve(name); err != nil {
				label := profile
				if label == "" {
					label = "(globals)"
				}
				problems = append(problems, fmt.Sprintf("%s [%s]: %v", name, label, err))
			}
		}
	}

	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintln(w, p)
		}
		return fmt.Errorf("%d problem(s) found in %s", len(problems), path)
	}

	fmt.Fprintf(w, "%s: OK (%d operations, %d profiles)\n", path, len(doc.Operations), len(doc.Profiles))
	return nil
}

// Ops lists the operations of the loaded document.
func (s *Session) Ops(w io.Writer) error {
	st := newStyles(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, st.label.Render("NAME")+"\t"+st.label.Render("METHOD")+"\t"+st.label.Render("PATH")+"\t"+st.label.Render("TASK")+"\t"+st.label.Render("ENCODING"))
	for _, name := range s.Document.OperationNames() {
		op, _ := s.Document.Operation(name)
		task := string(op.TaskType)
		if task == "" {
			task = string(apiconfig.TaskRequest)
		}
		enc := string(op.Encoding)
		if enc == "" {
			enc = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, strings.ToUpper(op.Method), op.Path, task, enc)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if profiles := s.Document.ProfileNames(); len(profiles) > 0 {
		fmt.Fprintf(w, "\nProfiles: %s\n", strings.Join(profiles, ", "))
	}
	return nil
}

// HistoryOptions controls History.
type HistoryOptions struct {
	Operation string
	Profile   string
	Limit     int
	Clear     bool
	// Stats prints per-operation aggregates instead of entries.
	Stats  bool
	Output string
}

// History prints or clears the call history.
func (s *Session) History(ctx context.Context, opts HistoryOptions) error {
	if s.Recorder == nil {
		return fmt.Errorf("history is disabled")
	}

	if opts.Clear {
		if err := s.Recorder.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(s.stderr, "History cleared")
		return nil
	}
	if opts.Stats {
		return s.historyStats(ctx, opts)
	}

	entries, err := s.Recorder.List(ctx, history.Query{
		Operation: opts.Operation,
		Profile:   opts.Profile,
		Limit:     opts.Limit,
	})
	if err != nil {
		return err
	}

	switch opts.Output {
	case FormatJSON:
		if entries == nil {
			entries = []history.Entry{}
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(s.stdout, string(data))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(entries)
		if err != nil {
			return err
		}
		_, err = s.stdout.Write(data)
		return err
	}

	st := newStyles(s.stdout)
	tw := tabwriter.NewWriter(s.stdout, 0, 0, 2, ' ', 0)
	for _, e := range entries {
		status := "-"
		if e.StatusCode != 0 {
			status = fmt.Sprint(e.StatusCode)
		}
		line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Operation,
			e.Method,
			st.status(e.StatusCode).Render(status),
			formatDuration(time.Duration(e.DurationMs)*time.Millisecond),
			e.URL,
		)
		if e.Failed() {
			line += "\t" + st.failure.Render(e.ErrorKind)
		}
		fmt.Fprintln(tw, line)
	}
	return tw.Flush()
}

func (s *Session) historyStats(ctx context.Context, opts HistoryOptions) error {
	stats, err := analytics.NewManager(s.Recorder.DB()).StatsPerOperation(ctx, opts.Profile)
	if err != nil {
		return err
	}
	if opts.Operation != "" {
		filtered := stats[:0]
		for _, st := range stats {
			if st.Operation == opts.Operation {
				filtered = append(filtered, st)
			}
		}
		stats = filtered
	}

	switch opts.Output {
	case FormatJSON:
		if stats == nil {
			stats = []analytics.Stats{}
		}
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(s.stdout, string(data))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(stats)
		if err != nil {
			return err
		}
		_, err = s.stdout.Write(data)
		return err
	}

	if len(stats) == 0 {
		fmt.Fprintln(s.stdout, "No calls recorded")
		return nil
	}

	tw := tabwriter.NewWriter(s.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tMETHOD\tCALLS\tSUCCESS\tAVG\tMIN\tMAX\tSTATUS\tLAST")
	for _, st := range stats {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.1f%%\t%s\t%s\t%s\t%s\t%s\n",
			st.Operation,
			st.Method,
			st.TotalCalls,
			st.SuccessRate(),
			formatDuration(time.Duration(st.AvgDurationMs*float64(time.Millisecond))),
			formatDuration(time.Duration(st.MinDurationMs)*time.Millisecond),
			formatDuration(time.Duration(st.MaxDurationMs)*time.Millisecond),
			formatStatusCodes(st.StatusCodes),
			st.LastCalled.Local().Format("2006-01-02 15:04:05"),
		)
	}
	return tw.Flush()
}

// formatStatusCodes renders counts as "200x3 404x1"; code 0 is shown as ERR.
func formatStatusCodes(codes map[int]int) string {
	keys := make([]int, 0, len(codes))
	for code := range codes {
		keys = append(keys, code)
	}
	sort.Ints(keys)
	parts := make([]string, 0, len(keys))
	for _, code := range keys {
		label := strconv.Itoa(code)
		if code == 0 {
			label = "ERR"
		}
		parts = append(parts, fmt.Sprintf("%sx%d", label, codes[code]))
	}
	return strings.Join(parts, " ")
}
