package poller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	"github.com/jpalmerr/jobwatch/internal/queue"
	"github.com/jpalmerr/jobwatch/internal/store"
)

// Target receives fetched snapshots. [store.Set] is a Target.
type Target interface {
	Replace(store.Snapshot) error
}

// Strategy refreshes the live members of a set in one cycle.
type Strategy interface {
	// FetchLiveSet fetches fresh snapshots for live and writes them to
	// target. It returns once the whole cycle is done.
	FetchLiveSet(ctx context.Context, target Target, live []*store.Summary) error
}

// BatchFetcher fetches several snapshots in one request.
type BatchFetcher interface {
	FetchSummaries(ctx context.Context, refs []store.Ref) ([]store.Snapshot, error)
}

// SingleFetcher fetches one snapshot per request.
type SingleFetcher interface {
	FetchSummary(ctx context.Context, ref store.Ref) (store.Snapshot, error)
}

// BatchStrategy issues exactly one request per cycle, whatever the size of
// the live set.
type BatchStrategy struct {
	Fetcher BatchFetcher
}

// FetchLiveSet implements [Strategy]. Only snapshots for requested ids are
// written; anything else the server returns is ignored. A failed request
// leaves every previous snapshot intact and is returned.
func (s BatchStrategy) FetchLiveSet(ctx context.Context, target Target, live []*store.Summary) error {
	if len(live) == 0 {
		return nil
	}

	refs := lo.Map(live, func(sum *store.Summary, _ int) store.Ref {
		return sum.Ref()
	})
	requested := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		requested[ref.ID] = struct{}{}
	}

	snaps, err := s.Fetcher.FetchSummaries(ctx, refs)
	if err != nil {
		return fmt.Errorf("batch fetch of %d summaries: %w", len(refs), err)
	}

	var result *multierror.Error
	for _, snap := range snaps {
		if _, ok := requested[snap.ID]; !ok {
			continue
		}
		if err := target.Replace(snap); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// SerialStrategy fetches each live entity with its own request, run one at a
// time in order. Failed fetches keep the entity's previous snapshot and do
// not fail the cycle.
type SerialStrategy struct {
	fetcher SingleFetcher
	logger  *slog.Logger
}

// NewSerialStrategy creates a per-item strategy. A nil logger uses
// slog.Default().
func NewSerialStrategy(fetcher SingleFetcher, logger *slog.Logger) *SerialStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &SerialStrategy{fetcher: fetcher, logger: logger}
}

// FetchLiveSet implements [Strategy]. It returns only when ctx is cancelled
// before every fetch ran.
func (s *SerialStrategy) FetchLiveSet(ctx context.Context, target Target, live []*store.Summary) error {
	tasks := lo.Map(live, func(sum *store.Summary, _ int) queue.Task {
		ref := sum.Ref()
		return func(ctx context.Context) error {
			snap, err := s.fetcher.FetchSummary(ctx, ref)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", ref.ID, err)
			}
			return target.Replace(snap)
		}
	})

	err := queue.Run(ctx, tasks...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.logger.Debug("per-item fetches failed",
		"count", len(live),
		"error", err,
	)
	return nil
}
