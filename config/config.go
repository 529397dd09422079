// Package config provides YAML configuration parsing for jobwatch.
//
// This package enables running jobwatch as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	base_url: https://usegalaxy.org
//	api_key: ${GALAXY_API_KEY}
//	port: 8080
//	collection_delay: 2s
//
//	histories:
//	  - id: f597429621d6eb2b
//	    collections:
//	      - 5a1cff6882ddb5b2
//	      - id: 1cd8e2f6b131e891
//	        type: ImplicitCollectionJobs
//
//	invocations:
//	  - f2db41e1fa331b3e
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// minDelay is the minimum allowed pause between polling cycles for
// production configs. It keeps a misconfigured file from hammering the server.
const minDelay = 1 * time.Second

// Config is the root configuration structure for jobwatch.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// BaseURL is the workflow server root. Required.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	BaseURL string `yaml:"base_url"`

	// APIKey is sent with every request. Supports environment variable
	// substitution.
	APIKey string `yaml:"api_key"`

	// Port serves the status API. 0 disables it.
	Port int `yaml:"port"`

	// Batch fetches all live collections of a history in one request.
	Batch bool `yaml:"batch" default:"true"`

	// CollectionDelay is the pause between collection polling cycles.
	// Accepts duration strings like "10s", "1m", "500ms". Defaults to 2s.
	CollectionDelay Duration `yaml:"collection_delay"`

	// InvocationDelay is the pause between invocation polling cycles.
	// Defaults to 3s.
	InvocationDelay Duration `yaml:"invocation_delay"`

	// RequestTimeout bounds each request. Defaults to 30s.
	RequestTimeout Duration `yaml:"request_timeout"`

	// RequestsPerSecond caps the request rate. 0 means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the rate limiter's bucket size.
	Burst int `yaml:"burst" default:"1"`

	// Histories lists the collections to watch, grouped by history.
	Histories []HistoryConfig `yaml:"histories"`

	// Invocations lists the workflow invocation ids to watch.
	Invocations []string `yaml:"invocations"`
}

// HistoryConfig is a history and the collections watched in it.
type HistoryConfig struct {
	ID          string             `yaml:"id"`
	Collections []CollectionConfig `yaml:"collections"`
}

// CollectionConfig identifies one collection.
//
// It supports two formats in YAML:
//
// Shorthand string (the default type is used):
//
//	collections:
//	  - 5a1cff6882ddb5b2
//
// Structured object:
//
//	collections:
//	  - id: 5a1cff6882ddb5b2
//	    type: ImplicitCollectionJobs
type CollectionConfig struct {
	ID   string
	Type string
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler for CollectionConfig.
func (c *CollectionConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		c.ID = strings.TrimSpace(s)
		return nil
	}

	if node.Kind == yaml.MappingNode {
		// temporary struct to avoid infinite recursion
		var raw struct {
			ID   string `yaml:"id"`
			Type string `yaml:"type"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		c.ID = raw.ID
		c.Type = raw.Type
		return nil
	}

	return fmt.Errorf("collection must be a string or object, got %v", node.Kind)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Defaults from the struct tags are applied first, so any value present in
// the file wins, including an explicit "batch: false". Environment variables
// are expanded in BaseURL and APIKey.
func Parse(data []byte) (*Config, error) {
	cfg := Config{
		CollectionDelay: Duration(2 * time.Second),
		InvocationDelay: Duration(3 * time.Second),
		RequestTimeout:  Duration(30 * time.Second),
	}
	// defaults only understands time.Duration itself, so the Duration
	// fields are seeded above.
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	expanded, err := expandEnvVars(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	c.BaseURL = expanded

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if parsedURL.Scheme == "" {
		return errors.New("base_url must have a scheme (http:// or https://)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("base_url scheme must be http or https, got %q", parsedURL.Scheme)
	}

	if c.APIKey, err = expandEnvVars(c.APIKey); err != nil {
		return fmt.Errorf("api_key: %w", err)
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}

	if c.CollectionDelay.Duration() < minDelay {
		return fmt.Errorf("collection_delay must be at least %s, got %s", minDelay, c.CollectionDelay.Duration())
	}
	if c.InvocationDelay.Duration() < minDelay {
		return fmt.Errorf("invocation_delay must be at least %s, got %s", minDelay, c.InvocationDelay.Duration())
	}
	if c.RequestTimeout.Duration() < time.Second {
		return fmt.Errorf("request_timeout must be at least 1s, got %s", c.RequestTimeout.Duration())
	}

	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second cannot be negative, got %v", c.RequestsPerSecond)
	}
	if c.Burst < 1 {
		return fmt.Errorf("burst must be at least 1, got %d", c.Burst)
	}

	seenHistories := make(map[string]struct{}, len(c.Histories))
	for i := range c.Histories {
		h := &c.Histories[i]

		if h.ID == "" {
			return fmt.Errorf("histories[%d]: id is required", i)
		}
		if _, exists := seenHistories[h.ID]; exists {
			return fmt.Errorf("histories[%d] (%s): duplicate history", i, h.ID)
		}
		seenHistories[h.ID] = struct{}{}

		if len(h.Collections) == 0 {
			return fmt.Errorf("histories[%d] (%s): at least one collection is required", i, h.ID)
		}
		seen := make(map[string]struct{}, len(h.Collections))
		for j, col := range h.Collections {
			if col.ID == "" {
				return fmt.Errorf("histories[%d] (%s): collections[%d]: id is required", i, h.ID, j)
			}
			if _, exists := seen[col.ID]; exists {
				return fmt.Errorf("histories[%d] (%s): duplicate collection %q", i, h.ID, col.ID)
			}
			seen[col.ID] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(c.Invocations))
	for i, id := range c.Invocations {
		if id == "" {
			return fmt.Errorf("invocations[%d]: id is required", i)
		}
		if _, exists := seen[id]; exists {
			return fmt.Errorf("invocations[%d]: duplicate invocation %q", i, id)
		}
		seen[id] = struct{}{}
	}

	if len(c.Histories) == 0 && len(c.Invocations) == 0 {
		return errors.New("at least one history or invocation must be defined")
	}

	return nil
}
