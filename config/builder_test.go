package config

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jpalmerr/jobwatch"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildOptions_Targets(t *testing.T) {
	cfg := &Config{
		BaseURL:         "https://usegalaxy.org",
		Batch:           true,
		CollectionDelay: Duration(2 * time.Second),
		InvocationDelay: Duration(3 * time.Second),
		RequestTimeout:  Duration(30 * time.Second),
		Burst:           1,
		Histories: []HistoryConfig{
			{ID: "hist1", Collections: []CollectionConfig{{ID: "c1"}, {ID: "c2", Type: "Job"}}},
			{ID: "hist2", Collections: []CollectionConfig{{ID: "c3"}}},
		},
		Invocations: []string{"inv1"},
	}

	opts, err := BuildOptions(cfg)
	if err != nil {
		t.Fatalf("BuildOptions() error = %v", err)
	}

	w, err := jobwatch.New(append(opts, jobwatch.WithLogger(quietLogger()))...)
	if err != nil {
		t.Fatalf("jobwatch.New() error = %v", err)
	}

	var got []string
	for _, s := range w.Summaries() {
		got = append(got, s.HistoryID+"/"+s.ID+"/"+s.Type)
	}
	want := "hist1/c1/" + jobwatch.DefaultCollectionType + ",hist1/c2/Job,hist2/c3/" + jobwatch.DefaultCollectionType
	if strings.Join(got, ",") != want {
		t.Errorf("Summaries() = %v, want %s", got, want)
	}

	invs := w.Invocations()
	if len(invs) != 1 || invs[0].ID != "inv1" {
		t.Errorf("Invocations() = %+v, want inv1", invs)
	}
}

func TestBuildOptions_FromParsedConfig(t *testing.T) {
	yaml := `
base_url: https://usegalaxy.org
api_key: key
port: 18080
requests_per_second: 5
burst: 2
histories:
  - id: hist1
    collections: [c1]
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	opts, err := BuildOptions(cfg)
	if err != nil {
		t.Fatalf("BuildOptions() error = %v", err)
	}

	// connection, batch, two delays, timeout, api key, port, rate limit, one collection
	if len(opts) != 9 {
		t.Errorf("len(opts) = %d, want 9", len(opts))
	}
	if _, err := jobwatch.New(append(opts, jobwatch.WithLogger(quietLogger()))...); err != nil {
		t.Errorf("jobwatch.New() error = %v", err)
	}
}

func TestBuildOptions_OmitsUnsetOptionals(t *testing.T) {
	cfg, err := Parse([]byte("base_url: https://usegalaxy.org\ninvocations: [inv1]"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	opts, err := BuildOptions(cfg)
	if err != nil {
		t.Fatalf("BuildOptions() error = %v", err)
	}

	// connection, batch, two delays, timeout, one invocation
	if len(opts) != 6 {
		t.Errorf("len(opts) = %d, want 6", len(opts))
	}
}

func TestBuildOptions_EmptyCollectionID(t *testing.T) {
	cfg := &Config{
		BaseURL:   "https://usegalaxy.org",
		Histories: []HistoryConfig{{ID: "hist1", Collections: []CollectionConfig{{}}}},
	}

	if _, err := BuildOptions(cfg); err == nil {
		t.Error("BuildOptions() expected error for empty collection id, got nil")
	}
}
