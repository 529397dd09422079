package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jpalmerr/jobwatch/internal/galaxytest"
	"github.com/jpalmerr/jobwatch/internal/states"
	"github.com/jpalmerr/jobwatch/internal/store"
)

// progression scripts jobs moving from queued through running to ok over
// the given number of fetches. The last failed jobs end in error.
func progression(jobs, fetches, failed int) []store.Snapshot {
	snaps := []store.Snapshot{{PopulatedState: states.PopulatedNew}}
	for i := 1; i < fetches; i++ {
		done := jobs * i / fetches
		running := (jobs - done) / 2
		snaps = append(snaps, store.Snapshot{
			PopulatedState: states.PopulatedOK,
			States: states.Counts{
				states.StateOK:      done,
				states.StateRunning: running,
				states.StateQueued:  jobs - done - running,
			},
		})
	}
	return append(snaps, store.Snapshot{
		PopulatedState: states.PopulatedOK,
		States:         states.Counts{states.StateOK: jobs - failed, states.StateError: failed},
	})
}

// StartMockGalaxy serves a scripted Galaxy API on addr: two collections in
// history "demo" and one invocation, all finishing within a few polls.
// Call this in a goroutine before creating the watcher.
func StartMockGalaxy(addr string) {
	backend := galaxytest.New()
	backend.SetLatency(80 * time.Millisecond)
	backend.SetCollection("alignments", progression(8, 6, 0)...)
	backend.SetCollection("variants", progression(8, 9, 1)...)
	backend.SetInvocation("wf1",
		store.Invocation{State: states.InvocationNew},
		store.Invocation{State: states.InvocationReady},
		store.Invocation{State: states.InvocationScheduled},
	)
	backend.SetInvocationJobs("wf1", progression(4, 5, 0)...)

	if err := http.ListenAndServe(addr, backend); err != nil {
		slog.Error("mock server error", "error", err)
	}
}
