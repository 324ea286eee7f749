// Package commands implements the localforge CLI subcommands: a cobra root
// command with persistent flags, a logrus logger configured from
// flags/env, and signal.NotifyContext-based shutdown.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/localforge/localforge/pkg/logging"
)

// Exit codes returned by main. 0 on success, with distinct nonzero codes
// for usage errors, an unregistered model, an unavailable backend, and
// I/O failures so scripts can branch on failure mode.
const (
	ExitSuccess            = 0
	ExitUsageError         = 1
	ExitModelNotFound      = 2
	ExitBackendUnavailable = 3
	ExitIOError            = 4
)

// CLIError carries an explicit exit code so main can report it without
// re-deriving it from the error's text.
type CLIError struct {
	Code int
	Err  error
}

func (e *CLIError) Error() string { return e.Err.Error() }
func (e *CLIError) Unwrap() error { return e.Err }

func usageErr(format string, args ...interface{}) error {
	return &CLIError{Code: ExitUsageError, Err: fmt.Errorf(format, args...)}
}

// ExitCodeFor extracts the exit code from err, defaulting to 1 (usage
// error) for anything not explicitly classified.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ce *CLIError
	for e := err; e != nil; {
		if c, ok := e.(*CLIError); ok {
			ce = c
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if ce != nil {
		return ce.Code
	}
	return ExitUsageError
}

var (
	verbose bool
	logJSON bool

	log logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "localforge",
	Short: "Single-binary local inference server",
	Long: `localforge loads quantized model files from disk and serves them over an
OpenAI-compatible HTTP API plus a native streaming API (JSON, SSE, WebSocket).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		logger := logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}
		if logJSON {
			logger.SetFormatter(&logrus.JSONFormatter{})
		}
		if level := os.Getenv("LOCALFORGE_LOG_LEVEL"); level != "" {
			if lvl, err := logrus.ParseLevel(level); err == nil {
				logger.SetLevel(lvl)
			}
		}
		log = logging.NewLogrusAdapter(logger).WithField("component", "localforge")
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newDiscoverCmd())
	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newProbeCmd())
	rootCmd.AddCommand(newGPUInfoCmd())
}

// Execute runs the root command with a signal-cancelled context.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}
