// Package server provides the HTTP status API of a watcher.
//
// It serves JSON snapshots of every monitored collection set and invocation,
// a liveness probe, and a Server-Sent Events stream of updates at
// "/api/events". Requests are instrumented with OpenTelemetry.
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the jobwatch library should not need to interact with this package
// directly. The server is started by [jobwatch.Watcher.Start] when a port is
// configured.
package server
