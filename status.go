package jobwatch

import (
	"time"

	"github.com/jpalmerr/jobwatch/internal/store"
)

// Summary is the state of one monitored aggregate of jobs: a dataset
// collection or the jobs of a workflow invocation.
//
// Every derived field is computed from the same server snapshot.
type Summary struct {
	// HistoryID is the owning history for collection summaries. Empty for
	// invocation job summaries.
	HistoryID string

	// InvocationID is set for invocation job summaries only.
	InvocationID string

	// ID is the aggregate's identifier.
	ID string

	// Type is the server's type discriminant, such as "ImplicitCollectionJobs".
	Type string

	// Model is the server's model name, as last reported.
	Model string

	// PopulatedState tells whether the aggregate itself is ready. Empty
	// before the first fetch.
	PopulatedState string

	// States maps job state names to counts. Never nil.
	States map[string]int

	// FetchedAt is when the snapshot was received. Zero if never fetched.
	FetchedAt time.Time

	IsNew        bool
	IsTerminal   bool
	IsErrored    bool
	JobCount     int
	RunningCount int
	OKCount      int
	ErrorCount   int
	WaitingCount int
}

// InvocationStep is the scheduling state of one workflow step.
type InvocationStep struct {
	ID         string
	OrderIndex int
	State      string
	Label      string
	JobID      string
}

// Invocation is the combined state of a workflow invocation.
type Invocation struct {
	ID string

	// State is the invocation's scheduling state, empty until first fetched.
	State      string
	WorkflowID string
	HistoryID  string
	Steps      []InvocationStep

	// SchedulingTerminal reports whether the invocation has finished being
	// scheduled (scheduled, cancelled or failed).
	SchedulingTerminal bool

	// Jobs is the aggregated state of the invocation's jobs.
	Jobs Summary

	// IsTerminal reports whether scheduling and every job are terminal.
	IsTerminal bool
}

// summaryFromView converts a store view into the public type, copying the
// state map so callers cannot reach shared data.
func summaryFromView(set string, v store.View) Summary {
	s := Summary{
		ID:             v.ID,
		Type:           v.Type,
		Model:          v.Model,
		PopulatedState: string(v.PopulatedState),
		States:         v.States.Clone(),
		FetchedAt:      v.FetchedAt,
		IsNew:          v.IsNew,
		IsTerminal:     v.IsTerminal,
		IsErrored:      v.IsErrored,
		JobCount:       v.JobCount,
		RunningCount:   v.RunningCount,
		OKCount:        v.OKCount,
		ErrorCount:     v.ErrorCount,
		WaitingCount:   v.WaitingCount,
	}
	if s.States == nil {
		s.States = map[string]int{}
	}
	if id, ok := invocationSetID(set); ok {
		s.InvocationID = id
	} else {
		s.HistoryID = historySetID(set)
	}
	return s
}

func invocationFromView(v store.InvocationView) Invocation {
	out := Invocation{
		ID:                 v.ID,
		SchedulingTerminal: v.IsSchedulingTerminal,
		Jobs:               summaryFromView(invocationSetName(v.ID), v.Jobs),
		IsTerminal:         v.IsTerminal,
	}
	if inv := v.Invocation; inv != nil {
		out.State = inv.State
		out.WorkflowID = inv.WorkflowID
		out.HistoryID = inv.HistoryID
		out.Steps = make([]InvocationStep, len(inv.Steps))
		for i, step := range inv.Steps {
			out.Steps[i] = InvocationStep{
				ID:         step.ID,
				OrderIndex: step.OrderIndex,
				State:      step.State,
				Label:      step.WorkflowStepLabel,
				JobID:      step.JobID,
			}
		}
	}
	return out
}
