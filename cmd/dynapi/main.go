package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/iSoldLeo/DynamicAPI/internal/cli"
	"github.com/iSoldLeo/DynamicAPI/internal/stresstest"
	"github.com/iSoldLeo/DynamicAPI/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		// Failed operations already printed their error with the output.
		if !errors.Is(err, cli.ErrFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dynapi",
	Short: "DynamicAPI - run REST operations declared in a config file",
	Long: `dynapi executes REST operations described in a JSON or YAML document.

Each operation names a path, method, headers and parameter templates. Values
such as $user_id are filled from -e flags at call time.

Examples:
  dynapi ops -c api.json                        # List operations
  dynapi call get_user -c api.json -e user_id=42
  dynapi call create_user -e name=Bob -e age:=30  # age is sent as a number
  dynapi call get_user list_posts -p staging    # Run several concurrently
  dynapi download get_file -e id=7 --dest out.bin
  dynapi bench get_user -e user_id=42 -n 200
  dynapi history --stats
  dynapi validate -c api.yaml`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Global flags
var (
	flagConfig   string
	flagProfile  string
	flagSettings string
	flagLogLevel string
	flagVerbose  bool
	flagNoHist   bool
)

// Flags for call/download
var (
	flagExtraVars []string
	flagOutput    string
	flagFilter    string
	flagQuery     string
	flagSave      string
	flagFull      bool
	flagCopy      bool
	flagDryRun    bool
	flagParallel  int
	flagDest      string
)

// Flags for history
var (
	historyLimit     int
	historyClear     bool
	historyOperation string
	historyStats     bool
)

// Flags for bench
var (
	benchRequests    int
	benchConcurrency int
	benchRampUp      time.Duration
	benchDuration    time.Duration
	benchTimeout     time.Duration
)

var callCmd = &cobra.Command{
	Use:   "call [operation...]",
	Short: "Execute one or more operations",
	Long: `Execute operations and print their responses.

Without an operation name on a terminal, an interactive picker is shown.
Missing parameters are prompted for when stdin is a terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *cli.Session) error {
			return s.Call(cmd.Context(), cli.CallOptions{
				Operations: args,
				ExtraVars:  flagExtraVars,
				Output:     flagOutput,
				Filter:     flagFilter,
				Query:      flagQuery,
				Full:       flagFull,
				SavePath:   flagSave,
				Copy:       flagCopy,
				DryRun:     flagDryRun,
				Parallel:   flagParallel,
			})
		})
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <operation>",
	Short: "Execute a download operation and save the body to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *cli.Session) error {
			return s.Download(cmd.Context(), cli.DownloadOptions{
				Operation:   args[0],
				ExtraVars:   flagExtraVars,
				Destination: flagDest,
				Output:      flagOutput,
			})
		})
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate an API document against every profile",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := bootstrap()
		if err != nil {
			return err
		}
		defer env.Close()

		path := flagConfig
		if len(args) > 0 {
			path = args[0]
		}
		if path == "" {
			path = env.Settings.Config
		}
		if path == "" {
			return fmt.Errorf("no API document given")
		}
		return cli.Validate(path, env.Settings, cmd.OutOrStdout())
	},
}

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "List the operations of an API document",
	RunE: func(cmd *cobra.Command, args []string) error {
		flagNoHist = true
		return withSession(cmd, func(s *cli.Session) error {
			return s.Ops(cmd.OutOrStdout())
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or clear the call history",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := bootstrap()
		if err != nil {
			return err
		}
		defer env.Close()

		s, err := cli.OpenHistory(env.Settings, env.Logger)
		if err != nil {
			return err
		}
		defer s.Close()

		return s.History(cmd.Context(), cli.HistoryOptions{
			Operation: historyOperation,
			Profile:   flagProfile,
			Limit:     historyLimit,
			Clear:     historyClear,
			Stats:     historyStats,
			Output:    flagOutput,
		})
	},
}

var benchCmd = &cobra.Command{
	Use:   "bench <operation>",
	Short: "Send an operation repeatedly and report latency statistics",
	Long: `Send the same operation from a pool of concurrent workers and report
throughput, error counts and latency percentiles. Calls are not recorded in
the history.

Examples:
  dynapi bench get_user -e user_id=42 -n 500 -C 20
  dynapi bench list_posts --duration 30s --ramp-up 5s -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flagNoHist = true
		return withSession(cmd, func(s *cli.Session) error {
			return s.Bench(cmd.Context(), cli.BenchOptions{
				Operation:   args[0],
				ExtraVars:   flagExtraVars,
				Requests:    benchRequests,
				Concurrency: benchConcurrency,
				RampUp:      benchRampUp,
				Duration:    benchDuration,
				Timeout:     benchTimeout,
				Output:      flagOutput,
			})
		})
	},
}

var (
	importBaseURL string
	importDest    string
)

var importCmd = &cobra.Command{
	Use:   "import <openapi-file-or-url>",
	Short: "Generate an API document from an OpenAPI 3 spec",
	Long: `Generate an API document with one operation per path and method.
Operation names come from operationId, or from the method and path. Only
required parameters become $placeholders.

Examples:
  dynapi import openapi.yaml --dest api.yaml
  dynapi import https://petstore3.swagger.io/api/v3/openapi.json --base-url https://petstore3.swagger.io/api/v3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := bootstrap()
		if err != nil {
			return err
		}
		defer env.Close()

		return cli.Import(cmd.Context(), cli.ImportOptions{
			Source:  args[0],
			BaseURL: importBaseURL,
			Format:  flagOutput,
			Dest:    importDest,
		}, env.Settings, env.Logger, cmd.OutOrStdout())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and check for a newer release",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "dynapi %s\n", version.Version)

		up, err := version.NewChecker().Check(cmd.Context(), version.Version)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: update check failed: %v\n", err)
			return nil
		}
		if up.Available {
			fmt.Fprintf(out, "A newer version is available: %s (%s)\n", up.Latest, up.URL)
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "API document (JSON or YAML)")
	pf.StringVarP(&flagProfile, "profile", "p", "", "Profile to use")
	pf.StringVar(&flagSettings, "settings", "", "Settings file (default ~/.dynapi/settings.yaml)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (debug/info/warn/error)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging")
	pf.BoolVar(&flagNoHist, "no-history", false, "Do not record calls")

	for _, c := range []*cobra.Command{callCmd, downloadCmd, benchCmd} {
		c.Flags().StringArrayVarP(&flagExtraVars, "extra-vars", "e", []string{}, "Set value (key=value, or key:=json for typed values), can be repeated")
		c.Flags().StringVarP(&flagOutput, "output", "o", "", "Output format (text/json/yaml/body)")
	}

	callCmd.Flags().StringVar(&flagFilter, "filter", "", "JMESPath filter applied before --query")
	callCmd.Flags().StringVarP(&flagQuery, "query", "q", "", "JMESPath expression or $(shell command) applied to the response")
	callCmd.Flags().StringVarP(&flagSave, "save", "s", "", "Save output to file")
	callCmd.Flags().BoolVarP(&flagFull, "full", "f", false, "Show full output (status, headers, body)")
	callCmd.Flags().BoolVar(&flagCopy, "copy", false, "Copy output to the clipboard")
	callCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Print the requests without sending them (processors still run)")
	callCmd.Flags().IntVar(&flagParallel, "parallel", 0, "Max concurrent operations (0 = unlimited)")

	downloadCmd.Flags().StringVarP(&flagDest, "dest", "d", "", "Destination file (default: temp dir)")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show")
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "Delete all entries")
	historyCmd.Flags().StringVar(&historyOperation, "operation", "", "Only show this operation")
	historyCmd.Flags().BoolVar(&historyStats, "stats", false, "Show per-operation statistics")
	historyCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Output format (text/json/yaml)")

	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(opsCmd)
	benchCmd.Flags().IntVarP(&benchRequests, "requests", "n", 100, "Total number of requests")
	benchCmd.Flags().IntVarP(&benchConcurrency, "concurrency", "C", 10, "Number of concurrent workers")
	benchCmd.Flags().DurationVar(&benchRampUp, "ramp-up", 0, "Spread worker start over this duration")
	benchCmd.Flags().DurationVar(&benchDuration, "duration", 0, "Stop after this duration (0 = until all requests complete)")
	benchCmd.Flags().DurationVar(&benchTimeout, "timeout", stresstest.DefaultRequestTimeout, "Per-request timeout")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(benchCmd)

	importCmd.Flags().StringVar(&importBaseURL, "base-url", "", "Base URL (default: first absolute server of the spec)")
	importCmd.Flags().StringVarP(&importDest, "dest", "d", "", "Output file (default: stdout)")
	importCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Output format (json/yaml)")
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(versionCmd)
}

func bootstrap() (*cli.Env, error) {
	return cli.Bootstrap(cli.BootstrapOptions{
		SettingsPath: flagSettings,
		LogLevel:     flagLogLevel,
		Verbose:      flagVerbose,
	})
}

func withSession(cmd *cobra.Command, fn func(*cli.Session) error) error {
	env, err := bootstrap()
	if err != nil {
		return err
	}
	defer env.Close()

	s, err := cli.Open(cmd.Context(), cli.SessionOptions{
		ConfigPath: flagConfig,
		Profile:    flagProfile,
		Settings:   env.Settings,
		Logger:     env.Logger,
		NoHistory:  flagNoHist,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(s)
}
