// Package store holds the job summaries being monitored and publishes their
// updates.
//
// The main components are:
//
//   - [Summary]: one monitored aggregate (a dataset collection's or a
//     workflow invocation's rolled-up job states)
//   - [Set]: an ordered collection of summaries owned by one poller, with
//     pub/sub for updates
//   - [Snapshot]: the state of a summary as returned by one server response
//   - [Invocation]: the scheduling state of a workflow invocation
//
// A summary's snapshot is only ever replaced whole, under the summary's lock,
// so readers never observe a mix of two server responses. Subscribers receive
// updates via buffered channels with non-blocking sends (slow subscribers
// miss updates rather than block the pollers).
package store
