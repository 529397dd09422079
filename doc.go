// Package jobwatch follows the job state of workflow-server collections and
// invocations until they are finished.
//
// A [Watcher] polls a Galaxy-style REST API for job summaries: the per-state
// job counts of dataset collections, and the scheduling and job state of
// workflow invocations. Polling of an aggregate stops as soon as it is
// terminal, and a loop with nothing left to poll goes idle instead of
// ticking.
//
// # Quick Start
//
//	w, _ := jobwatch.New(
//	    jobwatch.WithBaseURL("https://usegalaxy.org"),
//	    jobwatch.WithAPIKey(os.Getenv("GALAXY_API_KEY")),
//	    jobwatch.WithInvocation("f2db41e1fa331b3e"),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	go func() {
//	    if err := w.WaitTerminal(ctx); err == nil {
//	        stop()
//	    }
//	}()
//	w.Start(ctx) // blocks until context is cancelled
//
// # Configuration
//
// Watcher uses the functional options pattern for configuration:
//
//	c, _ := jobwatch.NewCollection("hist1", "coll1", "")
//	w, err := jobwatch.New(
//	    jobwatch.WithBaseURL(url),
//	    jobwatch.WithCollection(c),
//	    jobwatch.WithCollections("hist2", "coll2", "coll3"),
//	    jobwatch.WithCollectionDelay(5*time.Second),
//	    jobwatch.WithBatchFetch(false),
//	    jobwatch.WithPort(8080),
//	)
//
// Progress is reported through callbacks registered with
// [WithSummaryCallback], [WithInvocationCallback] and [WithErrorCallback], or
// read at any time with [Watcher.Summaries] and [Watcher.Invocations].
//
// # Architecture
//
// The internal packages are not part of the public API and may change
// without notice:
//
//   - internal/states: job state vocabularies and derived counts
//   - internal/store: summaries, sets and update fan-out
//   - internal/poller: polling loops and fetch strategies
//   - internal/galaxy: REST client
//   - internal/server: status API with Server-Sent Events
//   - internal/queue: sequential task runner used by serial fetching
package jobwatch
