package store

import (
	"fmt"
	"sync"

	"github.com/samber/lo"

	"github.com/jpalmerr/jobwatch/internal/states"
)

// UpdateKind describes what changed in a [Set].
type UpdateKind string

const (
	// UpdateAdded is published when a summary joins the set.
	UpdateAdded UpdateKind = "added"

	// UpdateReplaced is published when a summary's snapshot is replaced.
	UpdateReplaced UpdateKind = "replaced"

	// UpdateRemoved is published when a summary leaves the set.
	UpdateRemoved UpdateKind = "removed"

	// UpdateScheduling is published when an invocation's scheduling state
	// is fetched.
	UpdateScheduling UpdateKind = "scheduling"
)

// Update is published to subscribers of a [Set].
type Update struct {
	// Set is the name of the set that changed.
	Set string `json:"set"`

	// Kind is what happened to the summary.
	Kind UpdateKind `json:"kind"`

	// Summary is the summary's view after the change (before it, for
	// removals). Empty for scheduling updates.
	Summary View `json:"summary"`

	// Invocation is set on scheduling updates only.
	Invocation *Invocation `json:"invocation,omitempty"`
}

// Set is an ordered collection of summaries owned by one poller.
//
// Set is safe for concurrent use. Membership changes never fetch anything by
// themselves; the owning poller decides whether an added summary needs an
// immediate fetch.
//
// Subscribers receive updates via buffered channels (buffer size 100). Updates
// are sent non-blocking; if a subscriber's buffer is full, the update is
// dropped for that subscriber to prevent blocking the pollers.
type Set struct {
	name  string
	vocab states.Vocabulary

	mu      sync.RWMutex
	order   []string
	members map[string]*Summary

	updates Broadcaster[Update]

	relayMu sync.RWMutex
	relays  []*Broadcaster[Update]
}

// NewSet creates an empty set whose summaries are classified with vocab.
func NewSet(name string, vocab states.Vocabulary) *Set {
	return &Set{
		name:    name,
		vocab:   vocab,
		members: make(map[string]*Summary),
	}
}

// Name returns the set's name.
func (s *Set) Name() string {
	return s.name
}

// Vocabulary returns the vocabulary used to classify members.
func (s *Set) Vocabulary() states.Vocabulary {
	return s.vocab
}

// Add inserts a new unfetched summary for ref at the end of the set and
// returns it. Adding an id that is already present returns the existing
// summary and false.
func (s *Set) Add(ref Ref) (*Summary, bool) {
	s.mu.Lock()
	if existing, ok := s.members[ref.ID]; ok {
		s.mu.Unlock()
		return existing, false
	}
	sum := NewSummary(ref, s.vocab)
	s.members[ref.ID] = sum
	s.order = append(s.order, ref.ID)
	s.mu.Unlock()

	s.publish(UpdateAdded, sum.View())
	return sum, true
}

// Remove drops a summary from the set. It reports whether the id was present.
func (s *Set) Remove(id string) bool {
	s.mu.Lock()
	sum, ok := s.members[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.members, id)
	s.order = lo.Filter(s.order, func(member string, _ int) bool {
		return member != id
	})
	s.mu.Unlock()

	s.publish(UpdateRemoved, sum.View())
	return true
}

// Get returns the summary with the given id.
func (s *Set) Get(id string) (*Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.members[id]
	return sum, ok
}

// Len returns the number of summaries in the set.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// All returns the summaries in insertion order.
//
// The returned slice is a copy; modifications do not affect the set.
func (s *Set) All() []*Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.order, func(id string, _ int) *Summary {
		return s.members[id]
	})
}

// Live returns the summaries that are not terminal, in insertion order.
func (s *Set) Live() []*Summary {
	return lo.Filter(s.All(), func(sum *Summary, _ int) bool {
		return !sum.IsTerminal()
	})
}

// Views returns the view of every summary in insertion order.
func (s *Set) Views() []View {
	return lo.Map(s.All(), func(sum *Summary, _ int) View {
		return sum.View()
	})
}

// Replace swaps the snapshot of the member with the snapshot's id and
// notifies subscribers.
func (s *Set) Replace(snap Snapshot) error {
	sum, ok := s.Get(snap.ID)
	if !ok {
		return fmt.Errorf("set %s: no summary with id %q", s.name, snap.ID)
	}
	if err := sum.Replace(snap); err != nil {
		return err
	}

	s.publish(UpdateReplaced, sum.View())
	return nil
}

// Subscribe creates a new subscription and returns a channel for receiving
// updates.
//
// The returned channel has a buffer of 100 messages. If the buffer fills
// (slow consumer), new updates are dropped for this subscriber.
//
// Caller must call [Set.Unsubscribe] when done to prevent resource leaks.
func (s *Set) Subscribe() <-chan Update {
	return s.updates.Subscribe()
}

// Unsubscribe removes a subscription and closes its channel.
//
// Safe to call multiple times or with an unknown channel.
func (s *Set) Unsubscribe(ch <-chan Update) {
	s.updates.Unsubscribe(ch)
}

// Relay also publishes every later update of the set to b. It lets one
// broadcaster collect the updates of several sets.
func (s *Set) Relay(b *Broadcaster[Update]) {
	s.relayMu.Lock()
	s.relays = append(s.relays, b)
	s.relayMu.Unlock()
}

func (s *Set) publish(kind UpdateKind, view View) {
	u := Update{Set: s.name, Kind: kind, Summary: view}
	s.updates.Publish(u)

	s.relayMu.RLock()
	defer s.relayMu.RUnlock()
	for _, b := range s.relays {
		b.Publish(u)
	}
}

// SetView is a read-only rendering of a whole set.
type SetView struct {
	Name       string `json:"name"`
	Vocabulary string `json:"vocabulary"`
	Summaries  []View `json:"summaries"`
}

// View returns the set's name and the view of every member.
func (s *Set) View() SetView {
	return SetView{
		Name:       s.name,
		Vocabulary: s.vocab.Name,
		Summaries:  s.Views(),
	}
}
