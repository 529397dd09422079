package galaxy

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/jpalmerr/jobwatch/internal/store"
)

// JobsSummaries fetches the job summaries of several aggregates of one
// history in a single request. The ids and types query parameters are
// comma-joined in the order of refs.
func (c *Client) JobsSummaries(ctx context.Context, historyID string, refs []store.Ref) ([]store.Snapshot, error) {
	if historyID == "" {
		return nil, errors.New("history id is required")
	}
	if len(refs) == 0 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("ids", strings.Join(lo.Map(refs, func(r store.Ref, _ int) string { return r.ID }), ","))
	query.Set("types", strings.Join(lo.Map(refs, func(r store.Ref, _ int) string { return r.Type }), ","))

	var snaps []store.Snapshot
	if err := c.getJSON(ctx, "/api/histories/"+url.PathEscape(historyID)+"/jobs_summary", query, &snaps); err != nil {
		return nil, err
	}
	return stamp(snaps), nil
}

// CollectionJobsSummary fetches the job summary of one dataset collection.
func (c *Client) CollectionJobsSummary(ctx context.Context, historyID, id string) (store.Snapshot, error) {
	if historyID == "" || id == "" {
		return store.Snapshot{}, errors.New("history id and collection id are required")
	}

	path := "/api/histories/" + url.PathEscape(historyID) +
		"/contents/dataset_collections/" + url.PathEscape(id) + "/jobs_summary"

	var snap store.Snapshot
	if err := c.getJSON(ctx, path, nil, &snap); err != nil {
		return store.Snapshot{}, err
	}
	return stamp([]store.Snapshot{snap})[0], nil
}

// Invocation fetches the scheduling state of a workflow invocation.
func (c *Client) Invocation(ctx context.Context, id string) (store.Invocation, error) {
	if id == "" {
		return store.Invocation{}, errors.New("invocation id is required")
	}

	query := url.Values{}
	query.Set("view", "element")
	query.Set("step_details", "false")

	var inv store.Invocation
	if err := c.getJSON(ctx, "/api/invocations/"+url.PathEscape(id), query, &inv); err != nil {
		return store.Invocation{}, err
	}
	inv.FetchedAt = time.Now()
	return inv, nil
}

// InvocationJobsSummary fetches the aggregated job states of a workflow
// invocation.
func (c *Client) InvocationJobsSummary(ctx context.Context, id string) (store.Snapshot, error) {
	if id == "" {
		return store.Snapshot{}, errors.New("invocation id is required")
	}

	var snap store.Snapshot
	if err := c.getJSON(ctx, "/api/invocations/"+url.PathEscape(id)+"/jobs_summary", nil, &snap); err != nil {
		return store.Snapshot{}, err
	}
	if snap.ID == "" {
		snap.ID = id
	}
	return stamp([]store.Snapshot{snap})[0], nil
}

// stamp sets FetchedAt on every snapshot.
func stamp(snaps []store.Snapshot) []store.Snapshot {
	now := time.Now()
	for i := range snaps {
		snaps[i].FetchedAt = now
	}
	return snaps
}
