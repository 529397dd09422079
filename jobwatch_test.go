package jobwatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"

	"github.com/jpalmerr/jobwatch/internal/galaxytest"
	"github.com/jpalmerr/jobwatch/internal/poller"
	"github.com/jpalmerr/jobwatch/internal/states"
	"github.com/jpalmerr/jobwatch/internal/store"
)

const testDelay = 10 * time.Millisecond

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newBackend starts a scripted server and returns it with its URL.
func newBackend(t *testing.T) (*galaxytest.Backend, string) {
	t.Helper()
	backend := galaxytest.New()
	ts := httptest.NewServer(backend)
	t.Cleanup(ts.Close)
	return backend, ts.URL
}

func newTestWatcher(t *testing.T, url string, opts ...Option) *Watcher {
	t.Helper()
	base := []Option{
		WithBaseURL(url),
		WithLogger(quietLogger()),
		WithCollectionDelay(testDelay),
		WithInvocationDelay(testDelay),
	}
	w, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return w
}

// runWatcher starts w in the background. The returned stop function cancels
// it and waits for Start to return.
func runWatcher(t *testing.T, w *Watcher) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Start(ctx)
	}()

	var once sync.Once
	var err error
	stop = func() error {
		once.Do(func() {
			cancel()
			select {
			case err = <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("Start() did not return after context cancellation")
			}
		})
		return err
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func waitTerminal(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.WaitTerminal(ctx); err != nil {
		t.Fatalf("WaitTerminal() error = %v", err)
	}
}

func scriptCollection(backend *galaxytest.Backend, id string) {
	backend.SetCollection(id,
		store.Snapshot{PopulatedState: states.PopulatedNew},
		store.Snapshot{PopulatedState: states.PopulatedOK, States: states.Counts{"running": 2}},
		store.Snapshot{PopulatedState: states.PopulatedOK, States: states.Counts{"ok": 2}},
	)
}

func scriptInvocation(backend *galaxytest.Backend, id string) {
	backend.SetInvocation(id,
		store.Invocation{State: states.InvocationNew},
		store.Invocation{State: states.InvocationScheduled, Steps: []store.InvocationStep{
			{ID: "s1", OrderIndex: 0, State: "scheduled", JobID: "j1"},
		}},
	)
	backend.SetInvocationJobs(id,
		store.Snapshot{PopulatedState: states.PopulatedOK, States: states.Counts{"queued": 1}},
		store.Snapshot{PopulatedState: states.PopulatedOK, States: states.Counts{"ok": 1}},
	)
}

func TestStart_BlocksUntilContextCancelled(t *testing.T) {
	backend, url := newBackend(t)
	scriptCollection(backend, "c1")
	w := newTestWatcher(t, url, WithCollections("hist1", "c1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)

	// everything is terminal by now, but Start keeps running
	select {
	case err := <-done:
		t.Fatalf("Start() returned early with error: %v", err)
	default:
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}
}

func TestStart_ReturnsImmediatelyIfContextAlreadyCancelled(t *testing.T) {
	backend, url := newBackend(t)
	w := newTestWatcher(t, url, WithInvocation("inv1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- w.Start(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return with already-cancelled context")
	}

	if n := backend.TotalRequests(); n != 0 {
		t.Errorf("TotalRequests() = %d, want 0", n)
	}
}

func TestStart_Twice(t *testing.T) {
	backend, url := newBackend(t)
	scriptInvocation(backend, "inv1")
	w := newTestWatcher(t, url, WithInvocation("inv1"))
	stop := runWatcher(t, w)
	waitTerminal(t, w)

	if err := w.Start(context.Background()); err == nil {
		t.Error("second Start() expected error, got nil")
	}
	if err := stop(); err != nil {
		t.Errorf("Start() returned error: %v", err)
	}
}

func TestWaitTerminal_CollectionsAndInvocations(t *testing.T) {
	for _, batch := range []bool{true, false} {
		t.Run(fmt.Sprintf("batch=%v", batch), func(t *testing.T) {
			backend, url := newBackend(t)
			scriptCollection(backend, "c1")
			scriptCollection(backend, "c2")
			scriptInvocation(backend, "inv1")

			w := newTestWatcher(t, url,
				WithCollections("hist1", "c1", "c2"),
				WithInvocation("inv1"),
				WithBatchFetch(batch),
			)
			runWatcher(t, w)
			waitTerminal(t, w)

			if !w.Terminal() {
				t.Error("Terminal() = false after WaitTerminal")
			}
			if w.Errored() {
				t.Error("Errored() = true, want false")
			}

			for _, s := range w.Summaries() {
				if !s.IsTerminal || s.OKCount != 2 || s.HistoryID != "hist1" {
					t.Errorf("summary %s = %+v, want terminal with 2 ok jobs in hist1", s.ID, s)
				}
			}

			invs := w.Invocations()
			if len(invs) != 1 {
				t.Fatalf("len(Invocations()) = %d, want 1", len(invs))
			}
			inv := invs[0]
			if inv.State != states.InvocationScheduled || !inv.SchedulingTerminal || !inv.IsTerminal {
				t.Errorf("invocation = %+v, want scheduled and terminal", inv)
			}
			if len(inv.Steps) != 1 || inv.Steps[0].JobID != "j1" {
				t.Errorf("Steps = %+v, want one step with job j1", inv.Steps)
			}
			if inv.Jobs.InvocationID != "inv1" || inv.Jobs.OKCount != 1 {
				t.Errorf("Jobs = %+v, want 1 ok job of inv1", inv.Jobs)
			}

			// three snapshots per collection, two per invocation loop
			wantCollection := int64(3)
			route := galaxytest.RouteBatch
			if !batch {
				wantCollection = 6
				route = galaxytest.RouteCollection
			}
			if n := backend.Requests(route); n != wantCollection {
				t.Errorf("Requests(%s) = %d, want %d", route, n, wantCollection)
			}
			if n := backend.Requests(galaxytest.RouteInvocation); n != 2 {
				t.Errorf("Requests(invocation) = %d, want 2", n)
			}
			if n := backend.Requests(galaxytest.RouteInvocationJobs); n != 2 {
				t.Errorf("Requests(invocation_jobs) = %d, want 2", n)
			}

			// nothing is polled once terminal
			before := backend.TotalRequests()
			time.Sleep(5 * testDelay)
			if after := backend.TotalRequests(); after != before {
				t.Errorf("requests after terminal: %d, want %d", after, before)
			}
		})
	}
}

func TestWaitTerminal_BeforeStart(t *testing.T) {
	backend, url := newBackend(t)
	scriptInvocation(backend, "inv1")
	w := newTestWatcher(t, url, WithInvocation("inv1"))

	result := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		result <- w.WaitTerminal(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	runWatcher(t, w)

	if err := <-result; err != nil {
		t.Errorf("WaitTerminal() error = %v", err)
	}
}

func TestWaitTerminal_ContextDone(t *testing.T) {
	_, url := newBackend(t)
	w := newTestWatcher(t, url, WithInvocation("inv1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.WaitTerminal(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitTerminal() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestWaitTerminal_StoppedBeforeTerminal(t *testing.T) {
	backend, url := newBackend(t)
	backend.SetCollection("c1", store.Snapshot{PopulatedState: states.PopulatedOK, States: states.Counts{"running": 1}})
	w := newTestWatcher(t, url, WithCollections("hist1", "c1"))

	stop := runWatcher(t, w)
	time.Sleep(50 * time.Millisecond)

	result := make(chan error, 1)
	go func() {
		result <- w.WaitTerminal(context.Background())
	}()
	_ = stop()

	select {
	case err := <-result:
		if !errors.Is(err, poller.ErrStopped) {
			t.Errorf("WaitTerminal() error = %v, want %v", err, poller.ErrStopped)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitTerminal() did not return after shutdown")
	}
	if w.Terminal() {
		t.Error("Terminal() = true for a running collection")
	}
}

func TestSummaryCallback_ReceivesEverySnapshot(t *testing.T) {
	backend, url := newBackend(t)
	scriptCollection(backend, "c1")

	var (
		mu  sync.Mutex
		got []Summary
	)
	w := newTestWatcher(t, url,
		WithCollections("hist1", "c1"),
		WithSummaryCallback(func(s Summary) {
			mu.Lock()
			got = append(got, s)
			mu.Unlock()
		}),
	)
	stop := runWatcher(t, w)
	waitTerminal(t, w)
	_ = stop()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("callback invoked %d times, want 3", len(got))
	}
	if !got[0].IsNew || got[1].RunningCount != 2 || !got[2].IsTerminal {
		t.Errorf("callback sequence = %+v, want new, running, terminal", got)
	}
	if got[2].HistoryID != "hist1" || got[2].Type != DefaultCollectionType {
		t.Errorf("summary = %+v, want hist1 %s", got[2], DefaultCollectionType)
	}
}

func TestSummaryCallback_NoSharedReferences(t *testing.T) {
	backend, url := newBackend(t)
	scriptCollection(backend, "c1")

	w := newTestWatcher(t, url,
		WithCollections("hist1", "c1"),
		WithSummaryCallback(func(s Summary) {
			s.States["ok"] = 1000
		}),
	)
	stop := runWatcher(t, w)
	waitTerminal(t, w)
	_ = stop()

	if ok := w.Summaries()[0].States["ok"]; ok != 2 {
		t.Errorf("States[ok] = %d, want 2 (callback mutation leaked)", ok)
	}
}

func TestCallbacks_PanicRecovery(t *testing.T) {
	backend, url := newBackend(t)
	scriptCollection(backend, "c1")
	scriptInvocation(backend, "inv1")

	var summaries, invocations atomic.Int64
	w := newTestWatcher(t, url,
		WithCollections("hist1", "c1"),
		WithInvocation("inv1"),
		WithSummaryCallback(func(Summary) { panic("boom") }),
		WithSummaryCallback(func(Summary) { summaries.Inc() }),
		WithInvocationCallback(func(Invocation) { panic("boom") }),
		WithInvocationCallback(func(Invocation) { invocations.Inc() }),
	)
	stop := runWatcher(t, w)
	waitTerminal(t, w)
	if err := stop(); err != nil {
		t.Errorf("Start() returned error: %v", err)
	}

	// 3 collection snapshots and 2 invocation job snapshots
	if n := summaries.Load(); n != 5 {
		t.Errorf("second summary callback invoked %d times, want 5", n)
	}
	if n := invocations.Load(); n != 2 {
		t.Errorf("second invocation callback invoked %d times, want 2", n)
	}
}

func TestInvocationCallback_CarriesJobs(t *testing.T) {
	backend, url := newBackend(t)
	scriptInvocation(backend, "inv1")

	var (
		mu   sync.Mutex
		last Invocation
	)
	w := newTestWatcher(t, url,
		WithInvocation("inv1"),
		WithInvocationCallback(func(inv Invocation) {
			mu.Lock()
			last = inv
			mu.Unlock()
		}),
	)
	stop := runWatcher(t, w)
	waitTerminal(t, w)
	_ = stop()

	mu.Lock()
	defer mu.Unlock()
	if last.ID != "inv1" || last.State != states.InvocationScheduled || !last.SchedulingTerminal {
		t.Errorf("last invocation = %+v, want inv1 scheduled", last)
	}
	if last.Jobs.InvocationID != "inv1" {
		t.Errorf("Jobs.InvocationID = %q, want inv1", last.Jobs.InvocationID)
	}
}

func TestErrorCallback_TransportErrors(t *testing.T) {
	backend, url := newBackend(t)
	scriptCollection(backend, "c1")
	backend.FailNext(2, http.StatusBadGateway)

	var errs atomic.Int64
	w := newTestWatcher(t, url,
		WithCollections("hist1", "c1"),
		WithErrorCallback(func(error) { errs.Inc() }),
		WithErrorCallback(func(error) { panic("boom") }),
	)
	runWatcher(t, w)
	waitTerminal(t, w)

	if n := errs.Load(); n != 2 {
		t.Errorf("error callback invoked %d times, want 2", n)
	}
	if n := backend.Requests(galaxytest.RouteBatch); n != 5 {
		t.Errorf("Requests(batch) = %d, want 5", n)
	}
}

func TestErrored(t *testing.T) {
	backend, url := newBackend(t)
	backend.SetCollection("c1", store.Snapshot{PopulatedState: states.PopulatedOK, States: states.Counts{"ok": 1, "error": 1}})
	backend.SetInvocation("inv1", store.Invocation{State: states.InvocationScheduled})
	backend.SetInvocationJobs("inv1", store.Snapshot{PopulatedState: states.PopulatedOK, States: states.Counts{"ok": 1}})

	w := newTestWatcher(t, url, WithCollections("hist1", "c1"), WithInvocation("inv1"))
	runWatcher(t, w)
	waitTerminal(t, w)

	if !w.Errored() {
		t.Error("Errored() = false, want true")
	}
}

func TestErrored_FailedInvocation(t *testing.T) {
	backend, url := newBackend(t)
	backend.SetInvocation("inv1", store.Invocation{State: states.InvocationFailed})
	backend.SetInvocationJobs("inv1", store.Snapshot{PopulatedState: states.PopulatedOK})

	w := newTestWatcher(t, url, WithInvocation("inv1"))
	runWatcher(t, w)
	waitTerminal(t, w)

	if !w.Errored() {
		t.Error("Errored() = false, want true")
	}
}

func TestWithAPIKey_SentWithRequests(t *testing.T) {
	backend, url := newBackend(t)
	scriptInvocation(backend, "inv1")

	w := newTestWatcher(t, url, WithInvocation("inv1"), WithAPIKey("secret"))
	runWatcher(t, w)
	waitTerminal(t, w)

	for _, call := range backend.Calls() {
		if call.APIKey != "secret" {
			t.Errorf("%s request API key = %q, want %q", call.Route, call.APIKey, "secret")
		}
	}
}

func TestStart_ServesStatusAPI(t *testing.T) {
	backend, url := newBackend(t)
	scriptCollection(backend, "c1")

	w := newTestWatcher(t, url, WithCollections("hist1", "c1"), WithPort(19301))
	runWatcher(t, w)
	waitTerminal(t, w)

	resp, err := http.Get("http://localhost:19301/api/summaries")
	if err != nil {
		t.Fatalf("GET /api/summaries error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if !strings.Contains(string(body), `"name":"history:hist1"`) {
		t.Errorf("body = %s, want set history:hist1", body)
	}

	resp, err = http.Get("http://localhost:19301/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer resp.Body.Close()
	body, _ = io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"terminal":true`) {
		t.Errorf("healthz body = %s, want terminal true", body)
	}
}

func TestStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":19302")
	if err != nil {
		t.Skipf("cannot reserve port: %v", err)
	}
	defer ln.Close()

	backend, url := newBackend(t)
	w := newTestWatcher(t, url, WithInvocation("inv1"), WithPort(19302))

	if err := w.Start(context.Background()); err == nil {
		t.Fatal("Start() expected error for port in use, got nil")
	}
	if n := backend.TotalRequests(); n != 0 {
		t.Errorf("TotalRequests() = %d, want 0", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.WaitTerminal(ctx); !errors.Is(err, poller.ErrStopped) {
		t.Errorf("WaitTerminal() error = %v, want %v", err, poller.ErrStopped)
	}
}
