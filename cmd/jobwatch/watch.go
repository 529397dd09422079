package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/jobwatch"
	"github.com/jpalmerr/jobwatch/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// errTargetsErrored makes the process exit non-zero when a watched target
// finished with failed jobs.
var errTargetsErrored = errors.New("one or more targets finished with errors")

// newLogger creates a JSON logger for CLI use.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// watchCmd polls the configured targets.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll collections and invocations",
	Long: `Poll the configured collections and invocations.

The watcher will:
  - Load configuration from the specified YAML file
  - Poll every target until it is terminal
  - Log state transitions to stderr as JSON
  - Serve the status API if a port is configured

Without --until-terminal the watcher runs until interrupted (Ctrl+C) or it
receives SIGTERM. With --until-terminal it exits once everything is
terminal, with status 1 if any target errored.

Example:
  jobwatch watch -c config.yaml
  jobwatch watch -c config.yaml --until-terminal`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	watchCmd.Flags().Bool("until-terminal", false, "exit once every target is terminal")
	watchCmd.Flags().BoolP("verbose", "v", false, "log every fetch")
	_ = watchCmd.MarkFlagRequired("config")
}

func runWatch(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	untilTerminal, _ := cmd.Flags().GetBool("until-terminal")
	verbose, _ := cmd.Flags().GetBool("verbose")

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := newLogger(level)

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("config loaded",
		"histories", len(cfg.Histories),
		"invocations", len(cfg.Invocations),
	)

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return watch(ctx, cfg, logger, untilTerminal)
}

// watch runs a Watcher for cfg until ctx is done or, with untilTerminal,
// until every target is terminal.
func watch(ctx context.Context, cfg *config.Config, logger *slog.Logger, untilTerminal bool) error {
	opts, err := config.BuildOptions(cfg)
	if err != nil {
		return fmt.Errorf("failed to build options: %w", err)
	}
	opts = append(opts, jobwatch.WithLogger(logger))

	w, err := jobwatch.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	terminal := make(chan struct{})
	if untilTerminal {
		go func() {
			if err := w.WaitTerminal(ctx); err == nil {
				close(terminal)
				cancel()
			}
		}()
	}

	// start watcher - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	var startErr error
	select {
	case startErr = <-errChan:
	case <-ctx.Done():
		// wait for graceful shutdown with timeout
		select {
		case startErr = <-errChan:
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
	if startErr != nil {
		return fmt.Errorf("watcher error: %w", startErr)
	}

	select {
	case <-terminal:
		errored := w.Errored()
		logger.Info("all targets terminal", "errored", errored)
		if errored {
			return errTargetsErrored
		}
	default:
		logger.Info("shutdown complete")
	}
	return nil
}
