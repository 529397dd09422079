package poller

import (
	"context"

	"github.com/jpalmerr/jobwatch/internal/states"
	"github.com/jpalmerr/jobwatch/internal/store"
)

// CollectionPoller keeps the job summaries of a set of dataset collections
// fresh until every one of them is terminal.
type CollectionPoller struct {
	set      *store.Set
	strategy Strategy
	loop     *Loop
	cfg      config
}

// NewCollectionPoller creates a poller for the collections of one history.
// The poller is idle until [CollectionPoller.Add] or [CollectionPoller.Start]
// is called.
func NewCollectionPoller(name string, strategy Strategy, opts ...Option) *CollectionPoller {
	cfg := newConfig(DefaultCollectionDelay, opts)
	p := &CollectionPoller{
		set:      store.NewSet(name, states.Collection),
		strategy: strategy,
		cfg:      cfg,
	}
	p.loop = newLoop(name, p.cycle, cfg)
	return p
}

// Set returns the monitored set.
func (p *CollectionPoller) Set() *store.Set {
	return p.set
}

// Loop returns the poller's loop.
func (p *CollectionPoller) Loop() *Loop {
	return p.loop
}

// Add starts monitoring ref. If the loop is idle the new member is fetched
// immediately; otherwise it is picked up by the next scheduled cycle.
func (p *CollectionPoller) Add(ref store.Ref) *store.Summary {
	sum, _ := p.set.Add(ref)
	p.loop.Start()
	return sum
}

// Remove stops monitoring id. It never triggers a fetch.
func (p *CollectionPoller) Remove(id string) bool {
	return p.set.Remove(id)
}

// Start begins polling if the loop is idle.
func (p *CollectionPoller) Start() {
	p.loop.Start()
}

// Stop ends polling. See [Loop.Stop].
func (p *CollectionPoller) Stop() {
	p.loop.Stop()
}

// Wait blocks until every member is terminal or the poller is stopped. See
// [Loop.Wait].
func (p *CollectionPoller) Wait(ctx context.Context) error {
	return p.loop.Wait(ctx)
}

func (p *CollectionPoller) cycle(ctx context.Context) (bool, error) {
	live := p.set.Live()
	p.cfg.metrics.recordLive(ctx, p.set.Name(), len(live))
	if len(live) == 0 {
		return false, nil
	}

	p.cfg.logger.Debug("polling collections",
		"set", p.set.Name(),
		"live", len(live),
	)

	if err := p.strategy.FetchLiveSet(ctx, p.set, live); err != nil {
		return true, err
	}
	return len(p.set.Live()) > 0, nil
}
