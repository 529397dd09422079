package config

import (
	"github.com/jpalmerr/jobwatch"
)

// BuildOptions converts parsed configuration into SDK options.
//
// The returned options cover the connection, the targets and the polling
// settings. Callers append their own (logger, callbacks, telemetry) before
// calling [jobwatch.New].
func BuildOptions(cfg *Config) ([]jobwatch.Option, error) {
	opts := []jobwatch.Option{
		jobwatch.WithBaseURL(cfg.BaseURL),
		jobwatch.WithBatchFetch(cfg.Batch),
		jobwatch.WithCollectionDelay(cfg.CollectionDelay.Duration()),
		jobwatch.WithInvocationDelay(cfg.InvocationDelay.Duration()),
		jobwatch.WithRequestTimeout(cfg.RequestTimeout.Duration()),
	}

	if cfg.APIKey != "" {
		opts = append(opts, jobwatch.WithAPIKey(cfg.APIKey))
	}

	if cfg.Port != 0 {
		opts = append(opts, jobwatch.WithPort(cfg.Port))
	}

	if cfg.RequestsPerSecond > 0 {
		opts = append(opts, jobwatch.WithRateLimit(cfg.RequestsPerSecond, cfg.Burst))
	}

	for _, h := range cfg.Histories {
		for _, cc := range h.Collections {
			c, err := jobwatch.NewCollection(h.ID, cc.ID, cc.Type)
			if err != nil {
				return nil, err
			}
			opts = append(opts, jobwatch.WithCollection(c))
		}
	}

	for _, id := range cfg.Invocations {
		opts = append(opts, jobwatch.WithInvocation(id))
	}

	return opts, nil
}
