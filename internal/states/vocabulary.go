package states

// Vocabulary holds the state names that decide terminality and failure for
// one kind of aggregate.
//
// The lists differ between contexts and must match the server exactly, so
// they are not shared: invocations treat "waiting" as non-terminal, dataset
// collections do not.
type Vocabulary struct {
	// Name identifies the vocabulary in logs and metrics.
	Name string

	// NonTerminal lists states whose presence keeps an aggregate live.
	NonTerminal []string

	// Error lists states whose presence marks an aggregate as errored.
	Error []string

	// PopulatedErrors lists populated states that mark the aggregate itself
	// as errored.
	PopulatedErrors []PopulatedState
}

var (
	// Collection is the vocabulary for dataset-collection job summaries.
	Collection = Vocabulary{
		Name:            "collection",
		NonTerminal:     []string{StateNew, StateQueued, StateRunning},
		Error:           []string{StateError, StateDeleted},
		PopulatedErrors: []PopulatedState{PopulatedError},
	}

	// Invocation is the vocabulary for workflow invocation job summaries.
	Invocation = Vocabulary{
		Name:            "invocation",
		NonTerminal:     []string{StateNew, StateQueued, StateRunning, StateWaiting},
		Error:           []string{StateError, StateDeleted},
		PopulatedErrors: []PopulatedState{PopulatedError, PopulatedFailed},
	}
)

// IsTerminal reports whether no further change is expected for the aggregate.
//
// An aggregate that is still new is never terminal. Otherwise it is terminal
// unless some non-terminal state has a positive count, so an aggregate with
// no jobs at all is terminal. Unknown state names never keep it live.
func (v Vocabulary) IsTerminal(counts Counts, populated PopulatedState) bool {
	if IsNew(populated) {
		return false
	}
	return !AnyWithStates(counts, v.NonTerminal)
}

// IsErrored reports whether the aggregate failed to populate or any of its
// jobs is in an error state. It does not depend on terminality.
func (v Vocabulary) IsErrored(counts Counts, populated PopulatedState) bool {
	for _, p := range v.PopulatedErrors {
		if populated == p {
			return true
		}
	}
	return AnyWithStates(counts, v.Error)
}
