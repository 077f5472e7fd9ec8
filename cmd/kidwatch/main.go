// Command kidwatch watches a child through a camera during homework or meals,
// and speaks a reminder when the vision model sees bad behavior.
//
// Examples:
//
//	# List cameras and quit.
//	kidwatch devices
//
//	# Watch homework with settings from a file, GEMINI_API_KEY set in the environment.
//	kidwatch run -c kidwatch.yaml --mode homework
//
//	# Check a single photo.
//	kidwatch analyze --mode eating dinner.jpg
//
//	# Try the voice.
//	kidwatch say "Sit up straight"
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/kidwatch/kidwatch-go/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "kidwatch",
		Short:         "Watch a child's behavior through a camera and speak reminders",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", os.Getenv("KIDWATCH_CONFIG"), "YAML configuration file")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log debug output")

	root.AddCommand(newRunCmd(g))
	root.AddCommand(newAnalyzeCmd(g))
	root.AddCommand(newDevicesCmd(g))
	root.AddCommand(newVoicesCmd(g))
	root.AddCommand(newSayCmd(g))
	root.AddCommand(newEventsCmd(g))
	return root
}

// load reads the configuration and sets up the default logger.
func (g *globalFlags) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	if g.verbose {
		cfg.Log.Level = "debug"
	}
	logger := newLogger(cfg.Log, os.Stderr, isatty.IsTerminal(os.Stderr.Fd()))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newLogger logs text for people and JSON for log collectors.
func newLogger(cfg config.LogConfig, w io.Writer, terminal bool) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" || (cfg.Format == "auto" && !terminal) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
