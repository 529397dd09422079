package galaxy

import (
	"context"

	"github.com/jpalmerr/jobwatch/internal/store"
)

// CollectionSource fetches dataset-collection job summaries of one history.
type CollectionSource struct {
	Client    *Client
	HistoryID string
}

// FetchSummaries fetches every ref in one request.
func (s CollectionSource) FetchSummaries(ctx context.Context, refs []store.Ref) ([]store.Snapshot, error) {
	return s.Client.JobsSummaries(ctx, s.HistoryID, refs)
}

// FetchSummary fetches a single collection's summary.
func (s CollectionSource) FetchSummary(ctx context.Context, ref store.Ref) (store.Snapshot, error) {
	return s.Client.CollectionJobsSummary(ctx, s.HistoryID, ref.ID)
}

// InvocationSource fetches the scheduling and job state of invocations.
type InvocationSource struct {
	Client *Client
}

// FetchInvocation fetches an invocation's scheduling state.
func (s InvocationSource) FetchInvocation(ctx context.Context, id string) (store.Invocation, error) {
	return s.Client.Invocation(ctx, id)
}

// FetchInvocationJobs fetches an invocation's aggregated job states.
func (s InvocationSource) FetchInvocationJobs(ctx context.Context, id string) (store.Snapshot, error) {
	return s.Client.InvocationJobsSummary(ctx, id)
}
