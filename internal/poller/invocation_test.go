package poller

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/jpalmerr/jobwatch/internal/galaxy"
	"github.com/jpalmerr/jobwatch/internal/galaxytest"
	"github.com/jpalmerr/jobwatch/internal/states"
	"github.com/jpalmerr/jobwatch/internal/store"
)

func testInvocationPoller(id string, fetcher InvocationFetcher, opts ...Option) *InvocationPoller {
	opts = append([]Option{WithLogger(testLogger()), WithDelay(testDelay)}, opts...)
	return NewInvocationPoller(id, fetcher, opts...)
}

// TestInvocationPoller_ZeroJobSubworkflow verifies that an invocation without
// jobs is job-terminal on the first job fetch while its scheduling loop keeps
// polling until the invocation is scheduled.
func TestInvocationPoller_ZeroJobSubworkflow(t *testing.T) {
	backend, client := newGalaxy(t)
	backend.SetInvocation("inv",
		store.Invocation{State: states.InvocationNew},
		store.Invocation{State: states.InvocationReady},
		store.Invocation{State: states.InvocationReady},
		store.Invocation{State: states.InvocationScheduled},
	)
	backend.SetInvocationJobs("inv", store.Snapshot{Model: "WorkflowInvocation", PopulatedState: states.PopulatedOK, States: states.Counts{}})

	p := testInvocationPoller("inv", galaxy.InvocationSource{Client: client})
	defer p.Stop()
	p.Start()

	require.NoError(t, p.JobsLoop().Wait(waitCtx(t)))
	assert.Equal(t, int64(1), backend.Requests(galaxytest.RouteInvocationJobs))
	assert.True(t, p.JobsView().IsTerminal)
	assert.Zero(t, p.JobsView().JobCount)

	require.NoError(t, p.Wait(waitCtx(t)))
	assert.Equal(t, int64(4), backend.Requests(galaxytest.RouteInvocation))
	assert.Equal(t, int64(1), backend.Requests(galaxytest.RouteInvocationJobs))

	inv, ok := p.Invocation()
	require.True(t, ok)
	assert.Equal(t, states.InvocationScheduled, inv.State)
	assert.True(t, p.IsTerminal())
}

// TestInvocationPoller_ZeroJobsWithNewPopulatedState verifies that a
// scheduled invocation reporting no jobs stops its job loop even while the
// summary still says new.
func TestInvocationPoller_ZeroJobsWithNewPopulatedState(t *testing.T) {
	backend, client := newGalaxy(t)
	backend.SetInvocation("inv", store.Invocation{State: states.InvocationScheduled})
	backend.SetInvocationJobs("inv", store.Snapshot{PopulatedState: states.PopulatedNew, States: states.Counts{}})

	p := testInvocationPoller("inv", galaxy.InvocationSource{Client: client})
	defer p.Stop()
	p.Start()

	require.NoError(t, p.Wait(waitCtx(t)))
	assert.True(t, p.JobsView().IsTerminal)
	assert.True(t, p.IsTerminal())

	requests := backend.Requests(galaxytest.RouteInvocationJobs)
	assert.GreaterOrEqual(t, requests, int64(1))
	time.Sleep(5 * testDelay)
	assert.Equal(t, requests, backend.Requests(galaxytest.RouteInvocationJobs))
}

// TestInvocationPoller_ZeroJobsBeforeScheduled verifies that an empty job
// summary keeps the job loop polling while the invocation is still being
// scheduled, since its jobs may not exist yet.
func TestInvocationPoller_ZeroJobsBeforeScheduled(t *testing.T) {
	backend, client := newGalaxy(t)
	backend.SetInvocation("inv", store.Invocation{State: states.InvocationReady})
	backend.SetInvocationJobs("inv", store.Snapshot{PopulatedState: states.PopulatedNew, States: states.Counts{}})

	p := testInvocationPoller("inv", galaxy.InvocationSource{Client: client})
	defer p.Stop()
	p.Start()

	require.Eventually(t, func() bool {
		return backend.Requests(galaxytest.RouteInvocationJobs) >= 3
	}, time.Second, time.Millisecond)
	assert.False(t, p.JobsView().IsTerminal)
	assert.False(t, p.IsTerminal())
}

// TestInvocationPoller_JobsOutliveScheduling verifies that the job loop keeps
// polling after the invocation is scheduled until its jobs finish.
func TestInvocationPoller_JobsOutliveScheduling(t *testing.T) {
	backend, client := newGalaxy(t)
	backend.SetInvocation("inv", store.Invocation{State: states.InvocationScheduled})
	backend.SetInvocationJobs("inv",
		store.Snapshot{PopulatedState: states.PopulatedOK, States: states.Counts{"queued": 2}},
		store.Snapshot{PopulatedState: states.PopulatedOK, States: states.Counts{"running": 1, "ok": 1}},
		store.Snapshot{PopulatedState: states.PopulatedOK, States: states.Counts{"waiting": 1, "ok": 1}},
		store.Snapshot{PopulatedState: states.PopulatedOK, States: states.Counts{"ok": 1, "error": 1}},
	)

	p := testInvocationPoller("inv", galaxy.InvocationSource{Client: client})
	defer p.Stop()
	p.Start()

	require.NoError(t, p.SchedulingLoop().Wait(waitCtx(t)))
	require.NoError(t, p.Wait(waitCtx(t)))

	assert.Equal(t, int64(1), backend.Requests(galaxytest.RouteInvocation))
	assert.Equal(t, int64(4), backend.Requests(galaxytest.RouteInvocationJobs), "waiting keeps an invocation live")

	view := p.JobsView()
	assert.True(t, view.IsTerminal)
	assert.True(t, view.IsErrored)
	assert.Equal(t, 1, view.ErrorCount)
}

func TestInvocationPoller_FailedInvocationIsTerminal(t *testing.T) {
	backend, client := newGalaxy(t)
	backend.SetInvocation("inv", store.Invocation{State: states.InvocationFailed})
	backend.SetInvocationJobs("inv", store.Snapshot{PopulatedState: states.PopulatedFailed})

	p := testInvocationPoller("inv", galaxy.InvocationSource{Client: client})
	defer p.Stop()
	p.Start()
	require.NoError(t, p.Wait(waitCtx(t)))

	assert.True(t, p.JobsView().IsErrored)
	assert.Equal(t, int64(2), backend.TotalRequests())
}

func TestInvocationPoller_InvocationHandler(t *testing.T) {
	backend, client := newGalaxy(t)
	backend.SetInvocation("inv",
		store.Invocation{State: states.InvocationNew},
		store.Invocation{State: states.InvocationCancelled},
	)
	backend.SetInvocationJobs("inv", store.Snapshot{PopulatedState: states.PopulatedOK})

	var (
		mu   sync.Mutex
		seen []string
	)
	p := testInvocationPoller("inv", galaxy.InvocationSource{Client: client},
		WithInvocationHandler(func(inv store.Invocation) {
			mu.Lock()
			seen = append(seen, inv.State)
			mu.Unlock()
		}))
	defer p.Stop()
	p.Start()
	require.NoError(t, p.Wait(waitCtx(t)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{states.InvocationNew, states.InvocationCancelled}, seen)
}

func TestInvocationPoller_TransportErrorReschedules(t *testing.T) {
	backend, client := newGalaxy(t)
	backend.SetInvocation("inv", store.Invocation{State: states.InvocationScheduled})
	backend.SetInvocationJobs("inv", store.Snapshot{PopulatedState: states.PopulatedOK})
	backend.FailNext(2, http.StatusInternalServerError)

	var errs atomic.Int64
	p := testInvocationPoller("inv", galaxy.InvocationSource{Client: client},
		WithErrorHandler(func(error) { errs.Inc() }))
	defer p.Stop()
	p.Start()
	require.NoError(t, p.Wait(waitCtx(t)))

	assert.Equal(t, int64(2), errs.Load())
	assert.Equal(t, int64(4), backend.TotalRequests())
	assert.True(t, p.IsTerminal())
}

// stubInvocationFetcher lets tests control each loop independently.
type stubInvocationFetcher struct {
	invocation func(ctx context.Context) (store.Invocation, error)
	jobs       func(ctx context.Context) (store.Snapshot, error)
}

func (s stubInvocationFetcher) FetchInvocation(ctx context.Context, id string) (store.Invocation, error) {
	inv, err := s.invocation(ctx)
	inv.ID = id
	return inv, err
}

func (s stubInvocationFetcher) FetchInvocationJobs(ctx context.Context, id string) (store.Snapshot, error) {
	return s.jobs(ctx)
}

// TestInvocationPoller_LoopsAreIndependent verifies that a stalled scheduling
// request does not hold back the job loop.
func TestInvocationPoller_LoopsAreIndependent(t *testing.T) {
	var jobCalls atomic.Int64
	fetcher := stubInvocationFetcher{
		invocation: func(ctx context.Context) (store.Invocation, error) {
			<-ctx.Done()
			return store.Invocation{}, ctx.Err()
		},
		jobs: func(ctx context.Context) (store.Snapshot, error) {
			if jobCalls.Inc() < 3 {
				return store.Snapshot{PopulatedState: states.PopulatedOK, States: states.Counts{"running": 1}}, nil
			}
			return store.Snapshot{PopulatedState: states.PopulatedOK, States: states.Counts{"ok": 1}}, nil
		},
	}

	p := testInvocationPoller("inv", fetcher)
	p.Start()

	require.NoError(t, p.JobsLoop().Wait(waitCtx(t)))
	assert.Equal(t, int64(3), jobCalls.Load())
	assert.Equal(t, StateFetching, p.SchedulingState())
	assert.Equal(t, StateIdle, p.JobsState())

	_, ok := p.Invocation()
	assert.False(t, ok)
	assert.False(t, p.IsTerminal())

	p.Stop()
	assert.ErrorIs(t, p.Wait(context.Background()), ErrStopped)
}

func TestInvocationPoller_StopIsIdempotent(t *testing.T) {
	fetcher := stubInvocationFetcher{
		invocation: func(context.Context) (store.Invocation, error) {
			return store.Invocation{}, errors.New("unreachable")
		},
		jobs: func(context.Context) (store.Snapshot, error) {
			return store.Snapshot{}, errors.New("unreachable")
		},
	}
	p := NewInvocationPoller("inv", fetcher, WithLogger(testLogger()), WithDelay(time.Hour))

	p.Stop()
	p.Start()
	p.Stop()

	assert.Equal(t, StateStopped, p.SchedulingLoop().State())
	assert.Equal(t, StateStopped, p.JobsLoop().State())
}
