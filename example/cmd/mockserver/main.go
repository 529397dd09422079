// Standalone mock Galaxy server for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/jobwatch watch -c example/config.yaml --until-terminal
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jpalmerr/jobwatch/internal/galaxytest"
	"github.com/jpalmerr/jobwatch/internal/states"
	"github.com/jpalmerr/jobwatch/internal/store"
)

func main() {
	fmt.Println("Mock Galaxy server starting on :9999")
	fmt.Println("Collections and invocations finish within a few polls")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	backend := galaxytest.New()
	backend.SetLatency(50 * time.Millisecond)
	backend.SetCollection("alignments", ramp(12, 5, 0)...)
	backend.SetCollection("variants", ramp(12, 8, 2)...)
	backend.SetInvocation("wf1",
		store.Invocation{State: states.InvocationNew},
		store.Invocation{State: states.InvocationScheduled},
	)
	backend.SetInvocationJobs("wf1", ramp(6, 4, 0)...)

	if err := http.ListenAndServe(":9999", backend); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// ramp moves jobs from running to ok over the given number of fetches.
func ramp(jobs, fetches, failed int) []store.Snapshot {
	snaps := []store.Snapshot{{PopulatedState: states.PopulatedNew}}
	for i := 1; i < fetches; i++ {
		done := jobs * i / fetches
		snaps = append(snaps, store.Snapshot{
			PopulatedState: states.PopulatedOK,
			States:         states.Counts{states.StateOK: done, states.StateRunning: jobs - done},
		})
	}
	return append(snaps, store.Snapshot{
		PopulatedState: states.PopulatedOK,
		States:         states.Counts{states.StateOK: jobs - failed, states.StateError: failed},
	})
}
