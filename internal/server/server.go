package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jpalmerr/jobwatch/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// This prevents goroutine leaks when clients are slow or disconnected.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Source provides the data served by the status API.
type Source interface {
	// Sets returns every monitored collection set.
	Sets() []store.SetView

	// Invocations returns every monitored invocation.
	Invocations() []store.InvocationView

	// Terminal reports whether everything monitored is terminal.
	Terminal() bool

	Subscribe() <-chan store.Update
	Unsubscribe(<-chan store.Update)
}

// Options configures a [Server].
type Options struct {
	// Port to listen on. 0 lets the OS pick one.
	Port int

	Logger *slog.Logger

	// TracerProvider and MeterProvider instrument every request. Nil uses
	// the global providers.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Server serves the status API.
//
// Server provides four endpoints:
//   - GET /healthz: liveness, with whether everything is terminal
//   - GET /api/summaries: every collection set as JSON
//   - GET /api/invocations: every invocation as JSON
//   - GET /api/events: Server-Sent Events stream for real-time updates
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	source Source
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
}

// NewServer creates a new HTTP [Server]. The server is not started until
// [Server.Start] is called.
func NewServer(source Source, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		source: source,
		opts:   opts,
		logger: logger,
	}
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/summaries", s.handleSummaries)
	mux.HandleFunc("/api/invocations", s.handleInvocations)
	mux.HandleFunc("/api/events", s.handleEvents)

	var opts []otelhttp.Option
	if s.opts.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(s.opts.TracerProvider))
	}
	if s.opts.MeterProvider != nil {
		opts = append(opts, otelhttp.WithMeterProvider(s.opts.MeterProvider))
	}
	return otelhttp.NewHandler(mux, "jobwatch.status", opts...)
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.opts.Port))
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.opts.Port, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts derive from ctx, so cancelling it also ends
		// long-running handlers like SSE
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("status server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the address the server is listening on, or nil before
// [Server.Start].
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

type health struct {
	Status   string `json:"status"`
	Terminal bool   `json:"terminal"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, health{Status: "ok", Terminal: s.source.Terminal()})
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.source.Sets())
}

func (s *Server) handleInvocations(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.source.Invocations())
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "path", r.URL.Path, "error", err)
	}
}

// snapshotEvent is the first event of every stream.
type snapshotEvent struct {
	Sets        []store.SetView        `json:"sets"`
	Invocations []store.InvocationView `json:"invocations"`
}

// handleEvents streams updates via Server-Sent Events. The stream opens with
// a "snapshot" event holding the full state, followed by one "update" event
// per change.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked write would prevent the
// handler from detecting context cancellation or channel closure.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)
	deadlinesSupported := true

	send := func(event string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			s.logger.Error("failed to encode event", "event", event, "error", err)
			return nil
		}
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				// deadline not supported by underlying connection, continue without
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// subscribe before reading the snapshot so no update falls in between
	ch := s.source.Subscribe()
	defer s.source.Unsubscribe(ch)

	snap := snapshotEvent{Sets: s.source.Sets(), Invocations: s.source.Invocations()}
	if err := send("snapshot", snap); err != nil {
		return
	}

	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return
			}
			if err := send("update", u); err != nil {
				return
			}

		case <-r.Context().Done():
			// fires on both client disconnect and server shutdown
			return
		}
	}
}
