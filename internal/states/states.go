package states

// Counts maps a job state name to the number of jobs in that state.
//
// A nil Counts behaves as an empty map. Keys the package does not recognise
// are kept and contribute to [JobCount].
type Counts map[string]int

// PopulatedState describes whether an aggregate (a collection still being
// built, an invocation still being expanded) is ready to be queried. It is
// independent of the states of the jobs within the aggregate. The empty value
// means the server did not report one.
type PopulatedState string

const (
	PopulatedNew    PopulatedState = "new"
	PopulatedOK     PopulatedState = "ok"
	PopulatedError  PopulatedState = "error"
	PopulatedFailed PopulatedState = "failed"
)

// Job state names as reported by the server.
const (
	StateNew      = "new"
	StateQueued   = "queued"
	StateRunning  = "running"
	StateWaiting  = "waiting"
	StateOK       = "ok"
	StateSkipped  = "skipped"
	StateError    = "error"
	StateDeleted  = "deleted"
	StatePaused   = "paused"
	StateUpload   = "upload"
	StateFailed   = "failed"
	StateStopping = "stopping"
)

// Invocation scheduling states.
const (
	InvocationNew        = "new"
	InvocationReady      = "ready"
	InvocationScheduled  = "scheduled"
	InvocationCancelling = "cancelling"
	InvocationCancelled  = "cancelled"
	InvocationFailed     = "failed"
)

var (
	// OKStates are counted as successful jobs.
	OKStates = []string{StateOK, StateSkipped}

	// ErrorStates are counted as failed jobs.
	ErrorStates = []string{StateError, StateDeleted}

	// WaitingStates are counted as jobs that have not started yet.
	WaitingStates = []string{StateNew, StateQueued, StateWaiting}

	schedulingTerminal = []string{InvocationScheduled, InvocationCancelled, InvocationFailed}
)

// AnyWithStates reports whether at least one job is in one of the given states.
func AnyWithStates(counts Counts, names []string) bool {
	return CountFor(counts, names) > 0
}

// CountFor sums the counts of the given state names. Negative counts are
// treated as zero.
func CountFor(counts Counts, names []string) int {
	total := 0
	for _, name := range names {
		if n := counts[name]; n > 0 {
			total += n
		}
	}
	return total
}

// JobCount sums every count in the map, including state names this package
// does not know.
func JobCount(counts Counts) int {
	total := 0
	for _, n := range counts {
		if n > 0 {
			total += n
		}
	}
	return total
}

// RunningCount returns the number of running jobs.
func RunningCount(counts Counts) int {
	return CountFor(counts, []string{StateRunning})
}

// OKCount returns the number of jobs that finished successfully or were skipped.
func OKCount(counts Counts) int {
	return CountFor(counts, OKStates)
}

// ErrorCount returns the number of errored or deleted jobs.
func ErrorCount(counts Counts) int {
	return CountFor(counts, ErrorStates)
}

// WaitingCount returns the number of jobs that are new, queued or waiting.
func WaitingCount(counts Counts) int {
	return CountFor(counts, WaitingStates)
}

// IsNew reports whether the aggregate has not been populated yet.
func IsNew(populated PopulatedState) bool {
	return populated == "" || populated == PopulatedNew
}

// IsSchedulingTerminal reports whether an invocation scheduling state is final.
func IsSchedulingTerminal(state string) bool {
	for _, s := range schedulingTerminal {
		if s == state {
			return true
		}
	}
	return false
}

// Clone returns a copy of counts. A nil map stays nil.
func (c Counts) Clone() Counts {
	if c == nil {
		return nil
	}
	cp := make(Counts, len(c))
	for k, v := range c {
		cp[k] = v
	}
	return cp
}
