// Package galaxy is a small client for the workflow server's REST API.
//
// Only the read endpoints needed to track running work are covered:
//
//   - GET /api/histories/{history_id}/jobs_summary?ids=...&types=...
//   - GET /api/histories/{history_id}/contents/dataset_collections/{id}/jobs_summary
//   - GET /api/invocations/{id}
//   - GET /api/invocations/{id}/jobs_summary
//
// Non-2xx responses are returned as [*StatusError]. The HTTP transport is
// instrumented with OpenTelemetry and may be rate limited per client.
// [CollectionSource] and [InvocationSource] adapt a [Client] to the fetch
// interfaces used by the pollers.
package galaxy
