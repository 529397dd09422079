package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jpalmerr/jobwatch/internal/states"
	"github.com/jpalmerr/jobwatch/internal/store"
)

// InvocationFetcher fetches both aspects of a workflow invocation.
type InvocationFetcher interface {
	FetchInvocation(ctx context.Context, id string) (store.Invocation, error)
	FetchInvocationJobs(ctx context.Context, id string) (store.Snapshot, error)
}

// InvocationPoller follows one workflow invocation with two independent
// loops: one until the invocation has finished being scheduled, the other
// until all of its jobs are terminal. The loops have separate timers and
// settle at different times.
type InvocationPoller struct {
	id      string
	fetcher InvocationFetcher
	cfg     config

	jobs *store.Set

	mu          sync.RWMutex
	invocation  store.Invocation
	fetched     bool
	jobsFetched bool

	scheduling *Loop
	jobsLoop   *Loop
}

// NewInvocationPoller creates a poller for invocation id. Both loops are idle
// until [InvocationPoller.Start].
func NewInvocationPoller(id string, fetcher InvocationFetcher, opts ...Option) *InvocationPoller {
	cfg := newConfig(DefaultInvocationDelay, opts)
	name := "invocation:" + id

	p := &InvocationPoller{
		id:      id,
		fetcher: fetcher,
		cfg:     cfg,
		jobs:    store.NewSet(name, states.Invocation),
	}
	p.jobs.Add(store.Ref{ID: id, Type: "WorkflowInvocation"})
	p.scheduling = newLoop(name+":scheduling", p.schedulingCycle, cfg)
	p.jobsLoop = newLoop(name+":jobs", p.jobsCycle, cfg)
	return p
}

// ID returns the invocation id.
func (p *InvocationPoller) ID() string {
	return p.id
}

// Start starts both loops. Loops already running are left alone.
func (p *InvocationPoller) Start() {
	p.scheduling.Start()
	p.jobsLoop.Start()
}

// Stop stops both loops.
func (p *InvocationPoller) Stop() {
	p.scheduling.Stop()
	p.jobsLoop.Stop()
}

// Wait blocks until both loops have settled. It returns [ErrStopped] if either
// was stopped.
func (p *InvocationPoller) Wait(ctx context.Context) error {
	return errors.Join(p.scheduling.Wait(ctx), p.jobsLoop.Wait(ctx))
}

// SchedulingLoop returns the loop that polls the scheduling state.
func (p *InvocationPoller) SchedulingLoop() *Loop {
	return p.scheduling
}

// JobsLoop returns the loop that polls the aggregated job states.
func (p *InvocationPoller) JobsLoop() *Loop {
	return p.jobsLoop
}

// SchedulingState returns the state of the scheduling loop.
func (p *InvocationPoller) SchedulingState() State {
	return p.scheduling.State()
}

// JobsState returns the state of the job-state loop.
func (p *InvocationPoller) JobsState() State {
	return p.jobsLoop.State()
}

// Invocation returns the last scheduling snapshot and whether one has been
// fetched yet.
func (p *InvocationPoller) Invocation() (store.Invocation, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.invocation, p.fetched
}

// Jobs returns the single-member set holding the invocation's job summary.
func (p *InvocationPoller) Jobs() *store.Set {
	return p.jobs
}

// JobsView returns the current view of the invocation's job summary. Once the
// invocation is scheduled, a fetched summary without jobs is terminal
// whatever its populated state.
func (p *InvocationPoller) JobsView() store.View {
	sum, _ := p.jobs.Get(p.id)
	v := sum.View()
	if !v.IsTerminal && v.JobCount == 0 {
		p.mu.RLock()
		v.IsTerminal = p.jobsFetched && p.fetched && p.invocation.IsSchedulingTerminal()
		p.mu.RUnlock()
	}
	return v
}

// IsTerminal reports whether the invocation is done being scheduled and all
// of its jobs are terminal.
func (p *InvocationPoller) IsTerminal() bool {
	return p.View().IsTerminal
}

// View returns both aspects of the invocation.
func (p *InvocationPoller) View() store.InvocationView {
	v := store.InvocationView{ID: p.id, Jobs: p.JobsView()}
	if inv, ok := p.Invocation(); ok {
		v.Invocation = &inv
		v.IsSchedulingTerminal = inv.IsSchedulingTerminal()
	}
	v.IsTerminal = v.IsSchedulingTerminal && v.Jobs.IsTerminal
	return v
}

func (p *InvocationPoller) schedulingCycle(ctx context.Context) (bool, error) {
	inv, err := p.fetcher.FetchInvocation(ctx, p.id)
	if err != nil {
		return true, fmt.Errorf("invocation %s: %w", p.id, err)
	}

	p.mu.Lock()
	p.invocation = inv
	p.fetched = true
	p.mu.Unlock()

	if p.cfg.onInvocation != nil {
		p.cfg.onInvocation(inv)
	}
	return !inv.IsSchedulingTerminal(), nil
}

func (p *InvocationPoller) jobsCycle(ctx context.Context) (bool, error) {
	live := 0
	if !p.JobsView().IsTerminal {
		live = 1
	}
	p.cfg.metrics.recordLive(ctx, p.jobs.Name(), live)
	if live == 0 {
		return false, nil
	}

	snap, err := p.fetcher.FetchInvocationJobs(ctx, p.id)
	if err != nil {
		return true, fmt.Errorf("invocation %s jobs: %w", p.id, err)
	}
	snap.ID = p.id
	if err := p.jobs.Replace(snap); err != nil {
		return true, err
	}

	p.mu.Lock()
	p.jobsFetched = true
	p.mu.Unlock()

	return !p.JobsView().IsTerminal, nil
}
