package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseFull(t *testing.T) {
	t.Setenv("OSTSYNC_TEST_ROOT", "/srv/ostsync")
	doc := `
[store]
root = "$OSTSYNC_TEST_ROOT"
artifacts = "gs://bucket/artifacts"

[pipeline]
batch_size = 50
queue_size = 10
generate_deltas = false

[http]
timeout = "5s"
max_attempts = 7

[[remote]]
name = "fedora"
url = "https://example.org/repo"
depth = -1
include_refs = ["fedora/*/x86_64/*"]
exclude_refs = ["fedora/*/x86_64/testing"]
`
	cfg, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := &Config{
		Store:    Store{Root: "/srv/ostsync", Artifacts: "gs://bucket/artifacts"},
		Pipeline: Pipeline{BatchSize: 50, QueueSize: 10, FetchWorkers: 4, GenerateDeltas: false},
		HTTP: HTTP{
			Timeout:     Duration{5 * time.Second},
			MaxAttempts: 7,
			Backoff:     Duration{time.Second},
		},
		Remotes: []Remote{{
			Name:        "fedora",
			URL:         "https://example.org/repo",
			Depth:       -1,
			IncludeRefs: []string{"fedora/*/x86_64/*"},
			ExcludeRefs: []string{"fedora/*/x86_64/testing"},
		}},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Pipeline.BatchSize != 500 || cfg.Pipeline.QueueSize != 100 {
		t.Fatalf("pipeline defaults = %+v", cfg.Pipeline)
	}
	if !cfg.Pipeline.GenerateDeltas {
		t.Fatal("deltas should be generated by default")
	}
	if cfg.HTTP.Timeout.Duration != 60*time.Second || cfg.HTTP.MaxAttempts != 3 {
		t.Fatalf("http defaults = %+v", cfg.HTTP)
	}
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"unknown key":     "[store]\nbogus = 1\n",
		"bad duration":    "[http]\ntimeout = \"soon\"\n",
		"bad artifacts":   "[store]\nartifacts = \"s3://b\"\n",
		"remote no name":  "[[remote]]\nurl = \"https://x\"\n",
		"remote bad url":  "[[remote]]\nname = \"a\"\nurl = \"ftp://x\"\n",
		"duplicate":       "[[remote]]\nname = \"a\"\nurl = \"https://x\"\n[[remote]]\nname = \"a\"\nurl = \"https://y\"\n",
		"bad ref pattern": "[[remote]]\nname = \"a\"\nurl = \"https://x\"\ninclude_refs = [\"[\"]\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(doc); err == nil {
				t.Fatalf("Parse succeeded, want error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ostsync.toml")
	if err := os.WriteFile(path, []byte("[pipeline]\nbatch_size = 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.BatchSize != 3 {
		t.Fatalf("BatchSize = %d, want 3", cfg.Pipeline.BatchSize)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("Load of a missing file should fail")
	}
}

func TestRemoteWants(t *testing.T) {
	r := Remote{
		IncludeRefs: []string{"fedora/**"},
		ExcludeRefs: []string{"fedora/*/aarch64/*"},
	}
	for name, want := range map[string]bool{
		"fedora/39/x86_64/silverblue": true,
		"fedora/39/aarch64/iot":       false,
		"centos/9/x86_64/edge":        false,
	} {
		if got := r.Wants(name); got != want {
			t.Errorf("Wants(%q) = %v, want %v", name, got, want)
		}
	}
	if !(Remote{}).Wants("anything") {
		t.Error("remote without filters should want every ref")
	}
}
