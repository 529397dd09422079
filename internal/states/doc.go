// Package states classifies aggregated job state counts reported by the
// workflow server.
//
// A job summary is a mapping from state name to the number of jobs in that
// state, plus a populated state describing whether the aggregate itself is
// ready. The functions here decide whether such a summary is terminal (no
// further change expected, polling may stop), errored, and how many jobs it
// covers. They are pure and never fail: a nil map is an all-zero map and
// state names the package does not know about only count toward totals.
//
// Two vocabularies are provided because the server uses slightly different
// non-terminal lists for dataset collections and workflow invocations; see
// [Collection] and [Invocation].
package states
