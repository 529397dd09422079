package jobwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/atomic"

	"github.com/jpalmerr/jobwatch/internal/galaxy"
	"github.com/jpalmerr/jobwatch/internal/poller"
	"github.com/jpalmerr/jobwatch/internal/server"
	"github.com/jpalmerr/jobwatch/internal/states"
	"github.com/jpalmerr/jobwatch/internal/store"
)

const defaultRequestTimeout = 30 * time.Second

// Watcher polls the job state of dataset collections and workflow
// invocations until everything it watches is terminal.
//
// Collections are grouped by history: each history gets one polling loop
// that refreshes all of its non-terminal collections per cycle. Each
// invocation gets two loops, one for its scheduling state and one for the
// aggregated state of its jobs.
//
// The typical lifecycle is:
//
//	w, err := jobwatch.New(
//	    jobwatch.WithBaseURL("https://usegalaxy.org"),
//	    jobwatch.WithInvocation(id),
//	)
//	if err != nil {
//	    slog.Error("failed to create watcher", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	go func() {
//	    _ = w.WaitTerminal(ctx)
//	    cancel()
//	}()
//	w.Start(ctx) // blocks until context cancelled
type Watcher struct {
	cfg    *watchConfig
	logger *slog.Logger
	client *galaxy.Client

	histories   []string
	collections map[string]*poller.CollectionPoller
	invocations map[string]*poller.InvocationPoller

	hub *store.Broadcaster[store.Update]

	started chan struct{} // closed once the pollers run
	done    chan struct{} // closed when Start returns
	running atomic.Bool
}

// New creates a [Watcher] with the given options.
//
// A base URL is required, and at least one collection or invocation must be
// configured. Other options have sensible defaults:
//   - Collection delay: 2 seconds
//   - Invocation delay: 3 seconds
//   - Batch fetching: enabled
//   - Status API: disabled
//
// Returns an error if a required option is missing, if a target is
// configured twice, or if any option is invalid.
func New(opts ...Option) (*Watcher, error) {
	cfg := &watchConfig{
		batch:           true,
		collectionDelay: poller.DefaultCollectionDelay,
		invocationDelay: poller.DefaultInvocationDelay,
		requestTimeout:  defaultRequestTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if len(cfg.collections) == 0 && len(cfg.invocations) == 0 {
		return nil, errors.New("at least one collection or invocation is required")
	}

	// ids are only unique within a history
	seen := make(map[[2]string]bool, len(cfg.collections))
	for _, c := range cfg.collections {
		key := [2]string{c.historyID, c.id}
		if seen[key] {
			return nil, fmt.Errorf("duplicate collection %q in history %q", c.id, c.historyID)
		}
		seen[key] = true
	}
	seenInv := make(map[string]bool, len(cfg.invocations))
	for _, id := range cfg.invocations {
		if seenInv[id] {
			return nil, fmt.Errorf("duplicate invocation: %q", id)
		}
		seenInv[id] = true
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := galaxy.NewClient(galaxy.Options{
		BaseURL:           cfg.baseURL,
		APIKey:            cfg.apiKey,
		Timeout:           cfg.requestTimeout,
		RequestsPerSecond: cfg.requestsPerSecond,
		Burst:             cfg.burst,
		TracerProvider:    cfg.tracerProvider,
		MeterProvider:     cfg.meterProvider,
	})
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		cfg:         cfg,
		logger:      logger,
		client:      client,
		collections: make(map[string]*poller.CollectionPoller),
		invocations: make(map[string]*poller.InvocationPoller, len(cfg.invocations)),
		hub:         &store.Broadcaster[store.Update]{},
		started:     make(chan struct{}),
		done:        make(chan struct{}),
	}

	common := []poller.Option{
		poller.WithLogger(logger),
		poller.WithErrorHandler(w.handleError),
		poller.WithTracerProvider(cfg.tracerProvider),
	}
	if cfg.meterProvider != nil {
		metrics, err := poller.NewMetrics(cfg.meterProvider)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create poller metrics: %w", err)
		}
		common = append(common, poller.WithMetrics(metrics))
	}

	for _, c := range cfg.collections {
		p, ok := w.collections[c.historyID]
		if !ok {
			src := galaxy.CollectionSource{Client: client, HistoryID: c.historyID}
			var strategy poller.Strategy = poller.BatchStrategy{Fetcher: src}
			if !cfg.batch {
				strategy = poller.NewSerialStrategy(src, logger)
			}
			p = poller.NewCollectionPoller(historySetName(c.historyID), strategy,
				append(common, poller.WithDelay(cfg.collectionDelay))...)
			p.Set().Relay(w.hub)
			w.collections[c.historyID] = p
			w.histories = append(w.histories, c.historyID)
		}
		p.Set().Add(store.Ref{ID: c.id, Type: c.typ})
	}

	src := galaxy.InvocationSource{Client: client}
	for _, id := range cfg.invocations {
		set := invocationSetName(id)
		p := poller.NewInvocationPoller(id, src,
			append(common,
				poller.WithDelay(cfg.invocationDelay),
				poller.WithInvocationHandler(func(inv store.Invocation) {
					w.hub.Publish(store.Update{Set: set, Kind: store.UpdateScheduling, Invocation: &inv})
				}),
			)...)
		p.Jobs().Relay(w.hub)
		w.invocations[id] = p
	}

	return w, nil
}

// Start begins polling and, when a port is configured, serving the status
// API.
//
// Start is a blocking call that runs until the provided context is
// cancelled. Loops that reach a terminal state go idle but Start keeps
// running; use [Watcher.WaitTerminal] to learn when everything is done.
//
// A Watcher can be started once. Returns nil on graceful shutdown. Returns an
// error if the status API fails to start or if Start was already called.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.running.CAS(false, true) {
		return errors.New("watcher already started")
	}
	defer close(w.done)

	// check if context already cancelled
	if ctx.Err() != nil {
		w.client.Close()
		return nil
	}

	w.logger.Info("jobwatch starting",
		"base_url", w.client.BaseURL(),
		"history_count", len(w.histories),
		"invocation_count", len(w.invocations),
	)

	// subscribe before any poller runs so no update is missed
	updates := w.hub.Subscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for u := range updates {
			w.dispatch(u)
		}
	}()

	cleanup := func() {
		w.stopPollers()
		w.hub.Close() // closes updates
		wg.Wait()
		w.client.Close()
	}

	if w.cfg.port != 0 {
		srv := server.NewServer(statusSource{w}, server.Options{
			Port:           w.cfg.port,
			Logger:         w.logger,
			TracerProvider: w.cfg.tracerProvider,
			MeterProvider:  w.cfg.meterProvider,
		})
		if err := srv.Start(ctx); err != nil {
			cleanup()
			return fmt.Errorf("failed to start status API: %w", err)
		}
		w.logger.Info("status API available", "url", fmt.Sprintf("http://localhost:%d", w.cfg.port))
	}

	w.startPollers()
	close(w.started)

	<-ctx.Done()
	cleanup()
	w.logger.Info("jobwatch stopped")
	return nil
}

// WaitTerminal blocks until every collection and invocation is terminal, or
// until ctx is done.
//
// WaitTerminal may be called before [Watcher.Start]; it waits for polling to
// begin. It returns nil once everything is terminal. Otherwise the error wraps
// ctx.Err() if ctx is done first, or [poller.ErrStopped] if the watcher shut
// down before reaching a terminal state.
func (w *Watcher) WaitTerminal(ctx context.Context) error {
	select {
	case <-w.started:
	case <-w.done:
		return fmt.Errorf("watcher: %w", poller.ErrStopped)
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, hid := range w.histories {
		if err := w.collections[hid].Wait(ctx); err != nil {
			return fmt.Errorf("history %s: %w", hid, err)
		}
	}
	for _, id := range w.cfg.invocations {
		if err := w.invocations[id].Wait(ctx); err != nil {
			return fmt.Errorf("invocation %s: %w", id, err)
		}
	}
	return nil
}

// Summaries returns the current state of every watched collection, ordered
// by history then by the order collections were configured.
func (w *Watcher) Summaries() []Summary {
	var out []Summary
	for _, hid := range w.histories {
		set := w.collections[hid].Set()
		for _, v := range set.Views() {
			out = append(out, summaryFromView(set.Name(), v))
		}
	}
	return out
}

// Invocations returns the current state of every watched invocation, in the
// order they were configured.
func (w *Watcher) Invocations() []Invocation {
	return lo.Map(w.cfg.invocations, func(id string, _ int) Invocation {
		return invocationFromView(w.invocations[id].View())
	})
}

// Terminal reports whether every collection and invocation is terminal.
func (w *Watcher) Terminal() bool {
	for _, p := range w.collections {
		if len(p.Set().Live()) > 0 {
			return false
		}
	}
	for _, p := range w.invocations {
		if !p.IsTerminal() {
			return false
		}
	}
	return true
}

// Errored reports whether any collection has failed jobs, or any invocation
// failed to schedule or has failed jobs.
func (w *Watcher) Errored() bool {
	for _, s := range w.Summaries() {
		if s.IsErrored {
			return true
		}
	}
	for _, inv := range w.Invocations() {
		if inv.Jobs.IsErrored || inv.State == states.InvocationFailed {
			return true
		}
	}
	return false
}

func (w *Watcher) startPollers() {
	for _, hid := range w.histories {
		w.collections[hid].Start()
	}
	for _, id := range w.cfg.invocations {
		w.invocations[id].Start()
	}
}

func (w *Watcher) stopPollers() {
	for _, p := range w.collections {
		p.Stop()
	}
	for _, p := range w.invocations {
		p.Stop()
	}
}

// dispatch logs an update and invokes the matching callbacks. Callbacks fire
// after the store has been updated.
func (w *Watcher) dispatch(u store.Update) {
	switch u.Kind {
	case store.UpdateReplaced:
		s := summaryFromView(u.Set, u.Summary)
		attrs := []any{
			"set", u.Set,
			"id", s.ID,
			"populated_state", s.PopulatedState,
			"jobs", s.JobCount,
			"running", s.RunningCount,
			"ok", s.OKCount,
			"error", s.ErrorCount,
		}
		if s.IsTerminal {
			w.logger.Info("summary terminal", append(attrs, "errored", s.IsErrored)...)
		} else {
			w.logger.Debug("summary fetched", attrs...)
		}
		for _, cb := range w.cfg.summaryCallbacks {
			invokeCallbackSafe(cb, s, "summary", w.logger)
		}

	case store.UpdateScheduling:
		if u.Invocation == nil {
			return
		}
		p, ok := w.invocations[u.Invocation.ID]
		if !ok {
			return
		}
		view := p.View()
		view.Invocation = u.Invocation
		view.IsSchedulingTerminal = u.Invocation.IsSchedulingTerminal()
		view.IsTerminal = view.IsSchedulingTerminal && view.Jobs.IsTerminal
		inv := invocationFromView(view)
		if inv.SchedulingTerminal {
			w.logger.Info("invocation scheduled", "invocation", inv.ID, "state", inv.State)
		} else {
			w.logger.Debug("invocation fetched", "invocation", inv.ID, "state", inv.State)
		}
		for _, cb := range w.cfg.invocationCallbacks {
			invokeCallbackSafe(cb, inv, "invocation", w.logger)
		}

	default:
		w.logger.Debug("set changed", "set", u.Set, "kind", u.Kind, "id", u.Summary.ID)
	}
}

// handleError forwards a polling error to the error callbacks.
func (w *Watcher) handleError(err error) {
	for _, cb := range w.cfg.errorCallbacks {
		invokeCallbackSafe(cb, err, "error", w.logger)
	}
}

// invokeCallbackSafe calls a callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe[T any](cb func(T), v T, kind string, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(kind+" callback panicked",
				"panic", r,
				"correlation_id", uuid.NewString(),
			)
		}
	}()
	cb(v)
}

// statusSource adapts a Watcher to the status API.
type statusSource struct {
	w *Watcher
}

func (s statusSource) Sets() []store.SetView {
	return lo.Map(s.w.histories, func(hid string, _ int) store.SetView {
		return s.w.collections[hid].Set().View()
	})
}

func (s statusSource) Invocations() []store.InvocationView {
	return lo.Map(s.w.cfg.invocations, func(id string, _ int) store.InvocationView {
		return s.w.invocations[id].View()
	})
}

func (s statusSource) Terminal() bool {
	return s.w.Terminal()
}

func (s statusSource) Subscribe() <-chan store.Update {
	return s.w.hub.Subscribe()
}

func (s statusSource) Unsubscribe(ch <-chan store.Update) {
	s.w.hub.Unsubscribe(ch)
}
