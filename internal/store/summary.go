package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/jpalmerr/jobwatch/internal/states"
)

// Ref identifies a monitored aggregate on the server.
type Ref struct {
	// ID is the server-assigned identifier, unique within its owning set.
	ID string `json:"id"`

	// Type is the server's type discriminant for the aggregate, such as
	// "ImplicitCollectionJobs", "Job" or "WorkflowInvocation".
	Type string `json:"type"`
}

// Snapshot is the state of an aggregate as reported by one server response.
type Snapshot struct {
	// ID is the aggregate's identifier.
	ID string `json:"id"`

	// Model is the server's model name for the aggregate.
	Model string `json:"model,omitempty"`

	// PopulatedState describes whether the aggregate itself is ready.
	PopulatedState states.PopulatedState `json:"populated_state,omitempty"`

	// States maps job state names to counts.
	States states.Counts `json:"states"`

	// FetchedAt is when the snapshot was received. Zero for a summary that
	// has never been fetched.
	FetchedAt time.Time `json:"fetched_at"`
}

// Summary is one monitored aggregate.
//
// Summary is safe for concurrent use. Its snapshot is replaced whole by
// [Summary.Replace]; every derived value is computed from a single snapshot
// with the summary's vocabulary and is never stored.
type Summary struct {
	ref   Ref
	vocab states.Vocabulary

	mu   sync.RWMutex
	snap Snapshot
}

// NewSummary creates a summary that has not been fetched yet. Such a summary
// is new, and therefore not terminal.
func NewSummary(ref Ref, vocab states.Vocabulary) *Summary {
	return &Summary{
		ref:   ref,
		vocab: vocab,
		snap:  Snapshot{ID: ref.ID},
	}
}

// Ref returns the summary's identity.
func (s *Summary) Ref() Ref {
	return s.ref
}

// ID returns the summary's identifier.
func (s *Summary) ID() string {
	return s.ref.ID
}

// Snapshot returns a copy of the current snapshot.
func (s *Summary) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	snap.States = snap.States.Clone()
	return snap
}

// Replace swaps in a new snapshot. The snapshot must belong to this summary.
func (s *Summary) Replace(snap Snapshot) error {
	if snap.ID != s.ref.ID {
		return fmt.Errorf("snapshot for %q cannot replace summary %q", snap.ID, s.ref.ID)
	}
	snap.States = snap.States.Clone()
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now()
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

// View returns the snapshot together with every derived value, all computed
// from the same snapshot.
func (s *Summary) View() View {
	return newView(s.ref, s.vocab, s.Snapshot())
}

// IsNew reports whether the aggregate has not been populated yet.
func (s *Summary) IsNew() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return states.IsNew(s.snap.PopulatedState)
}

// IsTerminal reports whether no further change is expected.
func (s *Summary) IsTerminal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vocab.IsTerminal(s.snap.States, s.snap.PopulatedState)
}

// IsErrored reports whether the aggregate or any of its jobs failed.
func (s *Summary) IsErrored() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vocab.IsErrored(s.snap.States, s.snap.PopulatedState)
}

// View is a read-only rendering of a summary with its derived values.
type View struct {
	Snapshot

	// Type is the aggregate's type discriminant.
	Type string `json:"type"`

	Vocabulary   string `json:"vocabulary"`
	IsNew        bool   `json:"is_new"`
	IsTerminal   bool   `json:"is_terminal"`
	IsErrored    bool   `json:"is_errored"`
	JobCount     int    `json:"job_count"`
	RunningCount int    `json:"running_count"`
	OKCount      int    `json:"ok_count"`
	ErrorCount   int    `json:"error_count"`
	WaitingCount int    `json:"waiting_count"`
}

func newView(ref Ref, vocab states.Vocabulary, snap Snapshot) View {
	return View{
		Snapshot:     snap,
		Type:         ref.Type,
		Vocabulary:   vocab.Name,
		IsNew:        states.IsNew(snap.PopulatedState),
		IsTerminal:   vocab.IsTerminal(snap.States, snap.PopulatedState),
		IsErrored:    vocab.IsErrored(snap.States, snap.PopulatedState),
		JobCount:     states.JobCount(snap.States),
		RunningCount: states.RunningCount(snap.States),
		OKCount:      states.OKCount(snap.States),
		ErrorCount:   states.ErrorCount(snap.States),
		WaitingCount: states.WaitingCount(snap.States),
	}
}
