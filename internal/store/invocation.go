package store

import (
	"time"

	"github.com/jpalmerr/jobwatch/internal/states"
)

// Invocation is the scheduling state of a workflow invocation.
type Invocation struct {
	ID         string           `json:"id"`
	WorkflowID string           `json:"workflow_id,omitempty"`
	HistoryID  string           `json:"history_id,omitempty"`
	State      string           `json:"state"`
	UpdateTime string           `json:"update_time,omitempty"`
	Steps      []InvocationStep `json:"steps,omitempty"`

	// FetchedAt is when the snapshot was received.
	FetchedAt time.Time `json:"fetched_at"`
}

// InvocationStep is the scheduling state of one workflow step.
type InvocationStep struct {
	ID                string `json:"id"`
	OrderIndex        int    `json:"order_index"`
	State             string `json:"state,omitempty"`
	WorkflowStepLabel string `json:"workflow_step_label,omitempty"`
	JobID             string `json:"job_id,omitempty"`
}

// IsSchedulingTerminal reports whether the invocation has finished being
// scheduled. Its jobs may still be running.
func (i Invocation) IsSchedulingTerminal() bool {
	return states.IsSchedulingTerminal(i.State)
}

// StepStateCounts counts steps per scheduling state. Steps without a state
// are counted as new.
func (i Invocation) StepStateCounts() states.Counts {
	counts := make(states.Counts, len(i.Steps))
	for _, step := range i.Steps {
		state := step.State
		if state == "" {
			state = states.StateNew
		}
		counts[state]++
	}
	return counts
}

// InvocationView combines an invocation's scheduling snapshot with its job
// summary.
type InvocationView struct {
	ID string `json:"id"`

	// Invocation is nil until the scheduling state has been fetched once.
	Invocation *Invocation `json:"invocation,omitempty"`

	Jobs View `json:"jobs"`

	IsSchedulingTerminal bool `json:"is_scheduling_terminal"`
	IsTerminal           bool `json:"is_terminal"`
}
