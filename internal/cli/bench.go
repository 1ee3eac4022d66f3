package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iSoldLeo/DynamicAPI/internal/stresstest"
)

// BenchOptions controls Bench.
type BenchOptions struct {
	Operation   string
	ExtraVars   []string
	Requests    int
	Concurrency int
	RampUp      time.Duration
	Duration    time.Duration
	Timeout     time.Duration
	Output      string // text, json or yaml
}

// benchReport is the json/yaml rendering of a benchmark.
type benchReport struct {
	Operation         string      `json:"operation" yaml:"operation"`
	Requests          int         `json:"requests" yaml:"requests"`
	Completed         int         `json:"completed" yaml:"completed"`
	Success           int         `json:"success" yaml:"success"`
	NetworkErrors     int         `json:"network_errors" yaml:"network_errors"`
	ValidationErrors  int         `json:"validation_errors" yaml:"validation_errors"`
	ElapsedMs         int64       `json:"elapsed_ms" yaml:"elapsed_ms"`
	RequestsPerSecond float64     `json:"requests_per_second" yaml:"requests_per_second"`
	AvgMs             float64     `json:"avg_ms" yaml:"avg_ms"`
	MinMs             int64       `json:"min_ms" yaml:"min_ms"`
	MaxMs             int64       `json:"max_ms" yaml:"max_ms"`
	P50Ms             int64       `json:"p50_ms" yaml:"p50_ms"`
	P95Ms             int64       `json:"p95_ms" yaml:"p95_ms"`
	P99Ms             int64       `json:"p99_ms" yaml:"p99_ms"`
	StatusCodes       map[int]int `json:"status_codes" yaml:"status_codes"`
}

// Bench sends the same operation repeatedly and prints latency statistics.
// The operation is prepared once up front so configuration and parameter
// errors are reported before any load is generated.
func (s *Session) Bench(ctx context.Context, opts BenchOptions) error {
	values, err := ParseExtraVars(opts.ExtraVars)
	if err != nil {
		return err
	}
	if err := s.checkOperation(opts.Operation); err != nil {
		return err
	}
	if _, err := s.Client.Prepare(ctx, opts.Operation, values); err != nil {
		return err
	}

	execOpts := []stresstest.Option{stresstest.WithLogger(s.Logger)}
	if s.interactive {
		lastPct := -1
		execOpts = append(execOpts, stresstest.WithProgress(func(st stresstest.Stats) {
			pct := int(st.Progress())
			if pct == lastPct {
				return
			}
			lastPct = pct
			fmt.Fprintf(s.stderr, "\rProgress: %d/%d (%d%%)", st.CompletedRequests, st.TotalRequests, pct)
		}))
	}

	executor, err := stresstest.NewExecutor(s.Client, stresstest.Config{
		Operation:      opts.Operation,
		Values:         values,
		Concurrency:    opts.Concurrency,
		TotalRequests:  opts.Requests,
		RampUp:         opts.RampUp,
		Duration:       opts.Duration,
		RequestTimeout: opts.Timeout,
	}, execOpts...)
	if err != nil {
		return err
	}

	stats, runErr := executor.Run(ctx)
	if s.interactive {
		fmt.Fprintln(s.stderr)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	if err := s.writeBenchReport(opts, stats); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if stats.SuccessCount < stats.CompletedRequests {
		return fmt.Errorf("%w: %d of %d", ErrFailed, stats.CompletedRequests-stats.SuccessCount, stats.CompletedRequests)
	}
	return nil
}

func (s *Session) writeBenchReport(opts BenchOptions, st *stresstest.Stats) error {
	report := benchReport{
		Operation:         opts.Operation,
		Requests:          st.TotalRequests,
		Completed:         st.CompletedRequests,
		Success:           st.SuccessCount,
		NetworkErrors:     st.ErrorCount,
		ValidationErrors:  st.ValidationErrorCount,
		ElapsedMs:         st.Elapsed.Milliseconds(),
		RequestsPerSecond: st.RequestsPerSecond(),
		AvgMs:             st.AvgDurationMs(),
		MinMs:             st.Min(),
		MaxMs:             st.Max(),
		P50Ms:             st.P50(),
		P95Ms:             st.P95(),
		P99Ms:             st.P99(),
		StatusCodes:       st.StatusCodes,
	}

	switch opts.Output {
	case FormatJSON:
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(s.stdout, string(data))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(report)
		if err != nil {
			return err
		}
		_, err = s.stdout.Write(data)
		return err
	case FormatText, "":
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", opts.Output)
	}

	stl := newStyles(s.stdout)
	ms := func(v int64) string { return formatDuration(time.Duration(v) * time.Millisecond) }

	var sb strings.Builder
	sb.WriteString(stl.label.Render("# "+report.Operation) + "\n")
	sb.WriteString(fmt.Sprintf("Requests:   %d/%d in %s (%.1f req/s)\n",
		report.Completed, report.Requests, formatDuration(st.Elapsed), report.RequestsPerSecond))

	rate := stl.success
	if st.SuccessCount < st.CompletedRequests {
		rate = stl.failure
	}
	sb.WriteString("Success:    " + rate.Render(fmt.Sprintf("%d (%.1f%%)", st.SuccessCount, st.SuccessRate())) + "\n")
	sb.WriteString(fmt.Sprintf("Errors:     %d network, %d validation\n", st.ErrorCount, st.ValidationErrorCount))
	sb.WriteString(fmt.Sprintf("Latency:    avg %s | min %s | max %s\n",
		formatDuration(time.Duration(report.AvgMs*float64(time.Millisecond))), ms(report.MinMs), ms(report.MaxMs)))
	sb.WriteString(fmt.Sprintf("Percentile: p50 %s | p95 %s | p99 %s\n", ms(report.P50Ms), ms(report.P95Ms), ms(report.P99Ms)))
	sb.WriteString(stl.muted.Render("Status:     "+formatStatusCodes(st.StatusCodes)) + "\n")

	_, err := fmt.Fprint(s.stdout, sb.String())
	return err
}
