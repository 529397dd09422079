package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/jobwatch"
)

func main() {
	// start mock server (see mock_server.go)
	go StartMockGalaxy(":9999")
	time.Sleep(100 * time.Millisecond)

	w, err := jobwatch.New(
		jobwatch.WithBaseURL("http://localhost:9999"),
		jobwatch.WithCollections("demo", "alignments", "variants"),
		jobwatch.WithInvocation("wf1"),
		jobwatch.WithCollectionDelay(time.Second),
		jobwatch.WithInvocationDelay(time.Second),
		jobwatch.WithPort(8080),
		jobwatch.WithSummaryCallback(func(s jobwatch.Summary) {
			fmt.Printf("  %-12s %2d/%2d ok  %d running  %d error\n",
				s.ID, s.OKCount, s.JobCount, s.RunningCount, s.ErrorCount)
		}),
		jobwatch.WithInvocationCallback(func(inv jobwatch.Invocation) {
			fmt.Printf("  %-12s scheduling: %s\n", inv.ID, inv.State)
		}),
	)
	if err != nil {
		slog.Error("failed to create watcher", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  jobwatch demo")
	fmt.Println()
	fmt.Println("  Status API: http://localhost:8080/api/summaries")
	fmt.Println("  Live events: curl -N http://localhost:8080/api/events")
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// stop once everything finished
	go func() {
		if err := w.WaitTerminal(ctx); err == nil {
			fmt.Printf("\n  all done (errored: %v)\n\n", w.Errored())
			stop()
		}
	}()

	if err := w.Start(ctx); err != nil {
		slog.Error("jobwatch error", "error", err)
		os.Exit(1)
	}
}
