// Package cmd provides the nexus command line: dataset generation, training,
// single-borrower prediction and artifact inspection.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/adalundhe/nexus/core/config"
	"github.com/adalundhe/nexus/core/storage"
	"github.com/spf13/cobra"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// =============================================================================
// Root Command Flags
// =============================================================================

var (
	rootConfigPath string
	rootLogLevel   string
	rootLogFormat  string
	rootDataDir    string
)

// =============================================================================
// Root Command
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Dharma-Debt Nexus borrower risk classifier",
	Long: `Nexus scores borrowers for default risk with a two-layer graph
convolutional network trained on a synthetic trust graph.

Typical workflow:
  nexus generate                 # build the borrower graph
  nexus train                    # fit the classifier and write a checkpoint
  nexus predict --age 30 --income 42000 --dharma 0.4
  nexus inspect checkpoint       # summarise the trained weights`,
	SilenceUsage:      true,
	PersistentPreRunE: setupApp,
}

func init() {
	pflags := rootCmd.PersistentFlags()
	pflags.StringVar(&rootConfigPath, "config", "", "Additional config file layered over the defaults")
	pflags.StringVar(&rootLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pflags.StringVar(&rootLogFormat, "log-format", "", "Log format (text, json)")
	pflags.StringVar(&rootDataDir, "data-dir", "", "Directory for datasets and checkpoints")
}

func Execute() error {
	return rootCmd.Execute()
}

// =============================================================================
// Application State
// =============================================================================

// appState is built once per invocation before any subcommand runs.
type appState struct {
	config *config.Manager
	logger *slog.Logger
}

var app appState

func setupApp(cmd *cobra.Command, args []string) error {
	dirs, err := storage.ResolveDirs()
	if err != nil {
		return fmt.Errorf("resolve directories: %w", err)
	}

	mgr := config.NewManager(dirs, ".")
	mgr.OnChange(func(cfg *config.Config) {
		app.logger = newLogger(cmd.ErrOrStderr(), cfg.Logging)
	})

	if err := mgr.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if rootConfigPath != "" {
		if err := mgr.LoadFile(rootConfigPath); err != nil {
			return err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") || flags.Changed("log-format") || flags.Changed("data-dir") {
		err := mgr.Update(func(c *config.Config) {
			if flags.Changed("log-level") {
				c.Logging.Level = rootLogLevel
			}
			if flags.Changed("log-format") {
				c.Logging.Format = rootLogFormat
			}
			if flags.Changed("data-dir") {
				c.Paths.DataDir = rootDataDir
			}
		})
		if err != nil {
			return err
		}
	}

	app.config = mgr
	app.logger = newLogger(cmd.ErrOrStderr(), mgr.Get().Logging)
	return nil
}

// newLogger builds the process logger. Invalid settings never reach here
// because the config manager validates them first.
func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// =============================================================================
// Helpers
// =============================================================================

// signalContext is cancelled on interrupt so long jobs stop between steps.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s%s%s\n", colorBold, colorCyan, title, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)
}

func printField(w io.Writer, name string, format string, args ...any) {
	fmt.Fprintf(w, "%s%-14s%s%s\n", colorGray, name+":", colorReset, fmt.Sprintf(format, args...))
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(part) / float64(total)
}
