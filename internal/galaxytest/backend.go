// Package galaxytest provides a scripted fake of the workflow server's job
// summary and invocation endpoints for tests and local demos.
//
// Each aggregate is given a sequence of snapshots. Every request for the
// aggregate returns the next snapshot of its sequence; once the sequence is
// exhausted the last snapshot is repeated.
package galaxytest

import (
	"net/http"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/atomic"

	"github.com/jpalmerr/jobwatch/internal/store"
)

// Route names used by [Backend.Requests].
const (
	RouteBatch          = "batch"
	RouteCollection     = "collection"
	RouteInvocation     = "invocation"
	RouteInvocationJobs = "invocation_jobs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Call records one request received by the backend.
type Call struct {
	Route     string
	HistoryID string
	IDs       []string
	Types     []string
	APIKey    string
	At        time.Time
}

// Backend is an http.Handler that serves scripted responses.
//
// Backend is safe for concurrent use. The zero value is not usable; create
// one with [New].
type Backend struct {
	mu             sync.Mutex
	collections    map[string]*sequence[store.Snapshot]
	invocations    map[string]*sequence[store.Invocation]
	invocationJobs map[string]*sequence[store.Snapshot]
	calls          []Call
	failures       int
	failStatus     int
	gate           chan struct{}
	latency        time.Duration

	requests map[string]*atomic.Int64
	total    atomic.Int64
}

type sequence[T any] struct {
	items []T
	next  int
}

func (s *sequence[T]) advance() T {
	i := s.next
	if i >= len(s.items) {
		i = len(s.items) - 1
	} else {
		s.next++
	}
	return s.items[i]
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{
		collections:    make(map[string]*sequence[store.Snapshot]),
		invocations:    make(map[string]*sequence[store.Invocation]),
		invocationJobs: make(map[string]*sequence[store.Snapshot]),
		requests: map[string]*atomic.Int64{
			RouteBatch:          atomic.NewInt64(0),
			RouteCollection:     atomic.NewInt64(0),
			RouteInvocation:     atomic.NewInt64(0),
			RouteInvocationJobs: atomic.NewInt64(0),
		},
	}
}

// SetCollection scripts the snapshots returned for a collection id. The id of
// each snapshot is forced to id.
func (b *Backend) SetCollection(id string, snaps ...store.Snapshot) {
	for i := range snaps {
		snaps[i].ID = id
	}
	b.mu.Lock()
	b.collections[id] = &sequence[store.Snapshot]{items: snaps}
	b.mu.Unlock()
}

// SetInvocation scripts the scheduling snapshots returned for an invocation.
func (b *Backend) SetInvocation(id string, invs ...store.Invocation) {
	for i := range invs {
		invs[i].ID = id
	}
	b.mu.Lock()
	b.invocations[id] = &sequence[store.Invocation]{items: invs}
	b.mu.Unlock()
}

// SetInvocationJobs scripts the job summaries returned for an invocation.
func (b *Backend) SetInvocationJobs(id string, snaps ...store.Snapshot) {
	for i := range snaps {
		snaps[i].ID = id
	}
	b.mu.Lock()
	b.invocationJobs[id] = &sequence[store.Snapshot]{items: snaps}
	b.mu.Unlock()
}

// FailNext makes the next n requests fail with the given HTTP status.
func (b *Backend) FailNext(n, status int) {
	b.mu.Lock()
	b.failures = n
	b.failStatus = status
	b.mu.Unlock()
}

// SetLatency delays every response by d.
func (b *Backend) SetLatency(d time.Duration) {
	b.mu.Lock()
	b.latency = d
	b.mu.Unlock()
}

// Hold makes requests block until the returned release function is called
// or the request's context ends. Release is safe to call more than once.
func (b *Backend) Hold() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.gate = gate
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.gate == gate {
				b.gate = nil
			}
			b.mu.Unlock()
			close(gate)
		})
	}
}

// Requests returns how many requests a route has received.
func (b *Backend) Requests(route string) int64 {
	if c, ok := b.requests[route]; ok {
		return c.Load()
	}
	return 0
}

// TotalRequests returns how many requests the backend has received.
func (b *Backend) TotalRequests() int64 {
	return b.total.Load()
}

// Calls returns a copy of every recorded request.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// ServeHTTP routes the supported endpoints.
func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	call := Call{APIKey: r.Header.Get("x-api-key"), At: time.Now()}

	switch {
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "histories" && parts[3] == "jobs_summary":
		call.Route = RouteBatch
		call.HistoryID = parts[2]
		call.IDs = splitList(r.URL.Query().Get("ids"))
		call.Types = splitList(r.URL.Query().Get("types"))
	case len(parts) == 7 && parts[0] == "api" && parts[1] == "histories" && parts[3] == "contents" &&
		parts[4] == "dataset_collections" && parts[6] == "jobs_summary":
		call.Route = RouteCollection
		call.HistoryID = parts[2]
		call.IDs = []string{parts[5]}
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "invocations":
		call.Route = RouteInvocation
		call.IDs = []string{parts[2]}
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "invocations" && parts[3] == "jobs_summary":
		call.Route = RouteInvocationJobs
		call.IDs = []string{parts[2]}
	default:
		writeError(w, http.StatusNotFound, "unknown route")
		return
	}

	b.total.Inc()
	b.requests[call.Route].Inc()

	b.mu.Lock()
	b.calls = append(b.calls, call)
	gate := b.gate
	latency := b.latency
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-r.Context().Done():
			return
		}
	}

	b.mu.Lock()
	if b.failures > 0 {
		b.failures--
		status := b.failStatus
		b.mu.Unlock()
		writeError(w, status, "injected failure")
		return
	}
	body, status := b.respond(call)
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respond builds the response for call. b.mu must be held.
func (b *Backend) respond(call Call) (any, int) {
	switch call.Route {
	case RouteBatch:
		snaps := make([]store.Snapshot, 0, len(call.IDs))
		for _, id := range call.IDs {
			if seq, ok := b.collections[id]; ok {
				snaps = append(snaps, wire(seq.advance()))
			}
		}
		return snaps, http.StatusOK
	case RouteCollection:
		seq, ok := b.collections[call.IDs[0]]
		if !ok {
			return errorDoc("collection not found"), http.StatusNotFound
		}
		return wire(seq.advance()), http.StatusOK
	case RouteInvocation:
		seq, ok := b.invocations[call.IDs[0]]
		if !ok {
			return errorDoc("invocation not found"), http.StatusNotFound
		}
		inv := seq.advance()
		inv.FetchedAt = time.Time{}
		return inv, http.StatusOK
	case RouteInvocationJobs:
		seq, ok := b.invocationJobs[call.IDs[0]]
		if !ok {
			return errorDoc("invocation not found"), http.StatusNotFound
		}
		return wire(seq.advance()), http.StatusOK
	}
	return errorDoc("unknown route"), http.StatusNotFound
}

// wire strips fields the real server never sends.
func wire(snap store.Snapshot) store.Snapshot {
	snap.FetchedAt = time.Time{}
	return snap
}

func errorDoc(msg string) map[string]any {
	return map[string]any{"err_msg": msg, "err_code": 404001}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"err_msg": msg, "err_code": status * 1000})
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
