// Package config loads the ostsync TOML configuration.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

// Config is the complete ostsync configuration.
type Config struct {
	Store    Store    `toml:"store"`
	Pipeline Pipeline `toml:"pipeline"`
	HTTP     HTTP     `toml:"http"`
	Remotes  []Remote `toml:"remote"`
}

// Store locates the catalog and artifact storage.
type Store struct {
	Root string `toml:"root"`
	// Artifacts optionally moves artifacts to gs://bucket/prefix.
	Artifacts string `toml:"artifacts"`
}

// Pipeline tunes the import stages.
type Pipeline struct {
	BatchSize      int  `toml:"batch_size"`
	QueueSize      int  `toml:"queue_size"`
	FetchWorkers   int  `toml:"fetch_workers"`
	GenerateDeltas bool `toml:"generate_deltas"`
}

// HTTP configures remote fetches.
type HTTP struct {
	Timeout     Duration `toml:"timeout"`
	MaxAttempts int      `toml:"max_attempts"`
	Backoff     Duration `toml:"backoff"`
}

// Remote is a named upstream repository.
type Remote struct {
	Name             string   `toml:"name"`
	URL              string   `toml:"url"`
	Depth            int      `toml:"depth"`
	IncludeRefs      []string `toml:"include_refs"`
	ExcludeRefs      []string `toml:"exclude_refs"`
	VerifySignatures bool     `toml:"verify_signatures"`
}

// Duration is a time.Duration written as a string such as "60s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{Pipeline: Pipeline{GenerateDeltas: true}}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	return Parse(string(data))
}

// Parse decodes a configuration document.
func Parse(doc string) (*Config, error) {
	cfg := &Config{Pipeline: Pipeline{GenerateDeltas: true}}
	md, err := toml.Decode(doc, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "parse config file")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("unknown config key %q", undecoded[0].String())
	}
	cfg.expandEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func (c *Config) expandEnv() {
	c.Store.Root = os.ExpandEnv(c.Store.Root)
	c.Store.Artifacts = os.ExpandEnv(c.Store.Artifacts)
	for i := range c.Remotes {
		c.Remotes[i].URL = os.ExpandEnv(c.Remotes[i].URL)
	}
}

// applyDefaults fills in zero-value fields.
func (c *Config) applyDefaults() {
	if c.Store.Root == "" {
		c.Store.Root = "/var/lib/ostsync"
	}
	if c.Pipeline.BatchSize <= 0 {
		c.Pipeline.BatchSize = 500
	}
	if c.Pipeline.QueueSize <= 0 {
		c.Pipeline.QueueSize = 100
	}
	if c.Pipeline.FetchWorkers <= 0 {
		c.Pipeline.FetchWorkers = 4
	}
	if c.HTTP.Timeout.Duration <= 0 {
		c.HTTP.Timeout.Duration = 60 * time.Second
	}
	if c.HTTP.MaxAttempts <= 0 {
		c.HTTP.MaxAttempts = 3
	}
	if c.HTTP.Backoff.Duration <= 0 {
		c.HTTP.Backoff.Duration = time.Second
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Store.Artifacts != "" && !strings.HasPrefix(c.Store.Artifacts, "gs://") {
		return errors.Errorf("store.artifacts must be a gs:// location: %s", c.Store.Artifacts)
	}
	seen := make(map[string]bool)
	for i, r := range c.Remotes {
		if r.Name == "" {
			return errors.Errorf("remote[%d].name is required", i)
		}
		if seen[r.Name] {
			return errors.Errorf("remote %q is defined twice", r.Name)
		}
		seen[r.Name] = true
		if !strings.HasPrefix(r.URL, "http://") && !strings.HasPrefix(r.URL, "https://") {
			return errors.Errorf("remote %q: url must be http(s): %q", r.Name, r.URL)
		}
		for _, p := range append(append([]string(nil), r.IncludeRefs...), r.ExcludeRefs...) {
			if !doublestar.ValidatePattern(p) {
				return errors.Errorf("remote %q: invalid ref pattern %q", r.Name, p)
			}
		}
	}
	return nil
}

// Remote returns the named remote.
func (c *Config) Remote(name string) (Remote, bool) {
	for _, r := range c.Remotes {
		if r.Name == name {
			return r, true
		}
	}
	return Remote{}, false
}

// Wants reports whether the remote's ref filters select name. An empty
// include list selects every ref.
func (r Remote) Wants(name string) bool {
	included := len(r.IncludeRefs) == 0
	for _, p := range r.IncludeRefs {
		if ok, _ := doublestar.Match(p, name); ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range r.ExcludeRefs {
		if ok, _ := doublestar.Match(p, name); ok {
			return false
		}
	}
	return true
}
