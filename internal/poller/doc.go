// Package poller tracks long-running work on the server by polling it until
// nothing is left to watch.
//
// The main components are:
//
//   - [Loop]: one polling loop with an explicit state ([StateIdle],
//     [StateFetching], [StateScheduled], [StateStopped]) that runs a cycle,
//     then either settles or schedules exactly one timer for the next cycle
//   - [Strategy]: how a cycle fetches the live members of a set, either in one
//     request ([BatchStrategy]) or one request at a time ([SerialStrategy])
//   - [CollectionPoller]: polls a set of dataset-collection job summaries
//   - [InvocationPoller]: polls one workflow invocation with two independent
//     loops, one for its scheduling state and one for its job states
//
// Transport errors never stop a loop: they are reported and the loop tries
// again after its delay. A loop settles only when nothing it watches is live
// any more, and [Loop.Stop] guarantees that no further request is made.
package poller
