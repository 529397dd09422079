package poller

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jpalmerr/jobwatch/internal/store"
)

const (
	// DefaultCollectionDelay is the pause between collection job-summary cycles.
	DefaultCollectionDelay = 2000 * time.Millisecond

	// DefaultInvocationDelay is the pause between cycles of each invocation
	// loop (scheduling state and job states are timed independently).
	DefaultInvocationDelay = 3000 * time.Millisecond
)

const instrumentationName = "github.com/jpalmerr/jobwatch/internal/poller"

// config holds the settings shared by every poller.
type config struct {
	delay        time.Duration
	logger       *slog.Logger
	onError      func(error)
	onInvocation func(store.Invocation)
	metrics      *Metrics
	tracer       trace.Tracer
}

// Option configures a poller.
type Option func(*config)

// WithDelay overrides the pause between cycles. Non-positive values are
// ignored.
func WithDelay(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.delay = d
		}
	}
}

// WithLogger sets the logger used for cycle and error events.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithErrorHandler receives every error a cycle reports. Errors are also
// logged. The handler is called from the loop's goroutine and must not block.
func WithErrorHandler(fn func(error)) Option {
	return func(c *config) {
		c.onError = fn
	}
}

// WithInvocationHandler receives every invocation scheduling snapshot fetched
// by an [InvocationPoller].
func WithInvocationHandler(fn func(store.Invocation)) Option {
	return func(c *config) {
		c.onInvocation = fn
	}
}

// WithMetrics records cycle metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithTracerProvider traces every cycle with a span.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		if tp != nil {
			c.tracer = tp.Tracer(instrumentationName)
		}
	}
}

func newConfig(delay time.Duration, opts []Option) config {
	cfg := config{
		delay:  delay,
		logger: slog.Default(),
		tracer: otel.GetTracerProvider().Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
