package jobwatch

import (
	"errors"
	"log/slog"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// watchConfig holds mutable state during Watcher construction.
type watchConfig struct {
	baseURL           string
	apiKey            string
	collections       []Collection
	invocations       []string
	batch             bool
	collectionDelay   time.Duration
	invocationDelay   time.Duration
	requestTimeout    time.Duration
	requestsPerSecond float64
	burst             int
	port              int
	logger            *slog.Logger
	meterProvider     metric.MeterProvider
	tracerProvider    trace.TracerProvider

	summaryCallbacks    []func(Summary)
	invocationCallbacks []func(Invocation)
	errorCallbacks      []func(error)
}

// Option is a function that configures a [Watcher] instance during
// construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*watchConfig) error

// WithBaseURL sets the root URL of the server to poll. Required.
//
// Example:
//
//	w, err := jobwatch.New(
//	    jobwatch.WithBaseURL("https://usegalaxy.org"),
//	    jobwatch.WithInvocation("f2db41e1fa331b3e"),
//	)
//
// Returns an error if the URL has no http or https scheme.
func WithBaseURL(rawURL string) Option {
	return func(cfg *watchConfig) error {
		u, err := url.Parse(rawURL)
		if err != nil {
			return errors.New("invalid base URL: " + err.Error())
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.New("base URL must have a scheme (http:// or https://)")
		}
		cfg.baseURL = rawURL
		return nil
	}
}

// WithAPIKey sets the API key sent with every request.
func WithAPIKey(key string) Option {
	return func(cfg *watchConfig) error {
		cfg.apiKey = key
		return nil
	}
}

// WithCollection watches the jobs of a single dataset collection.
//
// Can be called multiple times. Collections of the same history share one
// polling loop.
func WithCollection(c Collection) Option {
	return func(cfg *watchConfig) error {
		if c.id == "" || c.historyID == "" {
			return errors.New("collection must be created with NewCollection")
		}
		cfg.collections = append(cfg.collections, c)
		return nil
	}
}

// WithCollections watches several collections of one history, all of
// [DefaultCollectionType].
//
// Example:
//
//	w, err := jobwatch.New(
//	    jobwatch.WithBaseURL(url),
//	    jobwatch.WithCollections("hist1", "coll1", "coll2"),
//	)
func WithCollections(historyID string, ids ...string) Option {
	return func(cfg *watchConfig) error {
		for _, id := range ids {
			c, err := NewCollection(historyID, id, "")
			if err != nil {
				return err
			}
			cfg.collections = append(cfg.collections, c)
		}
		return nil
	}
}

// WithInvocation watches a workflow invocation: both its scheduling state and
// the state of its jobs.
func WithInvocation(id string) Option {
	return func(cfg *watchConfig) error {
		if id == "" {
			return errors.New("invocation id cannot be empty")
		}
		cfg.invocations = append(cfg.invocations, id)
		return nil
	}
}

// WithBatchFetch chooses how collections are refreshed. When enabled (the
// default) each cycle issues one request for every live collection of a
// history. When disabled, collections are fetched one request at a time.
func WithBatchFetch(enabled bool) Option {
	return func(cfg *watchConfig) error {
		cfg.batch = enabled
		return nil
	}
}

// WithCollectionDelay sets the pause between collection polling cycles.
// Defaults to 2 seconds.
//
// Returns an error if the duration is zero or negative.
func WithCollectionDelay(d time.Duration) Option {
	return func(cfg *watchConfig) error {
		if d <= 0 {
			return errors.New("collection delay must be positive")
		}
		cfg.collectionDelay = d
		return nil
	}
}

// WithInvocationDelay sets the pause between cycles of each invocation loop.
// Defaults to 3 seconds.
//
// Returns an error if the duration is zero or negative.
func WithInvocationDelay(d time.Duration) Option {
	return func(cfg *watchConfig) error {
		if d <= 0 {
			return errors.New("invocation delay must be positive")
		}
		cfg.invocationDelay = d
		return nil
	}
}

// WithRequestTimeout bounds every request to the server. Defaults to 30
// seconds.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *watchConfig) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithRateLimit caps the request rate shared by every loop. Unlimited by
// default.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(cfg *watchConfig) error {
		if perSecond <= 0 {
			return errors.New("rate limit must be positive")
		}
		if burst < 1 {
			return errors.New("rate limit burst must be at least 1")
		}
		cfg.requestsPerSecond = perSecond
		cfg.burst = burst
		return nil
	}
}

// WithPort serves the status API on the given port. The API is disabled by
// default.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *watchConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Watcher instance.
//
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *watchConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithMeterProvider records polling and HTTP metrics. Nil providers are
// rejected.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *watchConfig) error {
		if mp == nil {
			return errors.New("meter provider cannot be nil")
		}
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider traces polling cycles and HTTP requests.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *watchConfig) error {
		if tp == nil {
			return errors.New("tracer provider cannot be nil")
		}
		cfg.tracerProvider = tp
		return nil
	}
}

// WithSummaryCallback registers a function called every time a summary is
// fetched, for collections and invocation jobs alike.
//
// Callbacks run in registration order on a single goroutine and must not
// block; updates are dropped while more than 100 are pending. Panics are
// recovered and logged. Nil callbacks are ignored.
func WithSummaryCallback(cb func(Summary)) Option {
	return func(cfg *watchConfig) error {
		if cb != nil {
			cfg.summaryCallbacks = append(cfg.summaryCallbacks, cb)
		}
		return nil
	}
}

// WithInvocationCallback registers a function called every time an
// invocation's scheduling state is fetched. Same rules as
// [WithSummaryCallback].
func WithInvocationCallback(cb func(Invocation)) Option {
	return func(cfg *watchConfig) error {
		if cb != nil {
			cfg.invocationCallbacks = append(cfg.invocationCallbacks, cb)
		}
		return nil
	}
}

// WithErrorCallback registers a function called with every polling error.
// Errors never stop polling. The callback runs on the polling goroutine and
// must not block.
func WithErrorCallback(cb func(error)) Option {
	return func(cfg *watchConfig) error {
		if cb != nil {
			cfg.errorCallbacks = append(cfg.errorCallbacks, cb)
		}
		return nil
	}
}
