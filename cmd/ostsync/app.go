package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/gofrs/flock"
	"github.com/odvcencio/ostsync/pkg/artifact"
	"github.com/odvcencio/ostsync/pkg/config"
	"github.com/odvcencio/ostsync/pkg/content"
	"github.com/odvcencio/ostsync/pkg/delta"
	"github.com/odvcencio/ostsync/pkg/pipeline"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	root       string
	verbose    bool
	logFormat  string
}

// app is the store a command works on: catalog, artifacts and engine.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	root      billy.Filesystem
	catalog   *content.Catalog
	artifacts artifact.Store
	engine    *pipeline.Engine
	closers   []func() error
}

// lockFile guards the catalog snapshot against concurrent writers.
const lockFile = "catalog.lock"

func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		loaded, err := config.Load(g.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if g.root != "" {
		cfg.Store.Root = g.root
	}
	return cfg, nil
}

func openApp(cmd *cobra.Command, g *globalFlags) (*app, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	return openStore(cmd, g, cfg)
}

func openStore(cmd *cobra.Command, g *globalFlags, cfg *config.Config) (*app, error) {
	log := newLogger(cmd.ErrOrStderr(), g.verbose, g.logFormat)

	if err := os.MkdirAll(cfg.Store.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	root := osfs.New(cfg.Store.Root)
	cat, err := content.OpenCatalog(root)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, root: root, catalog: cat}

	if cfg.Store.Artifacts != "" {
		gcs, err := artifact.NewGCSStore(cmd.Context(), cfg.Store.Artifacts)
		if err != nil {
			return nil, err
		}
		a.artifacts = gcs
		a.closers = append(a.closers, gcs.Close)
	} else {
		afs, err := root.Chroot("artifacts")
		if err != nil {
			return nil, err
		}
		a.artifacts = artifact.NewFSStore(afs)
	}
	scratch, err := root.Chroot("tmp")
	if err != nil {
		return nil, err
	}
	a.engine = pipeline.NewEngine(cat, a.artifacts, scratch, cfg.Pipeline, delta.ZstdGenerator{}, log)
	return a, nil
}

// save persists the catalog after a successful operation.
func (a *app) save() error {
	if err := a.catalog.Save(a.root); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	return nil
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.log.Warn("close store", "error", err)
		}
	}
}

// run opens the store, runs fn and saves the catalog if fn succeeded. The
// store lock is held from loading the catalog until it is saved, so
// versions sealed by concurrent invocations are never lost.
func run(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	log := newLogger(cmd.ErrOrStderr(), g.verbose, g.logFormat)
	unlock, err := lockStore(cmd.Context(), cfg.Store.Root, log)
	if err != nil {
		return err
	}
	defer unlock()

	a, err := openStore(cmd, g, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if err := fn(cmd.Context(), a); err != nil {
		return err
	}
	return a.save()
}

// lockStore takes the exclusive store lock, waiting until ctx is done.
func lockStore(ctx context.Context, root string, log *slog.Logger) (func(), error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	fl := flock.New(filepath.Join(root, lockFile))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock store: %w", err)
	}
	if !locked {
		log.Info("waiting for store lock", "root", root)
		if locked, err = fl.TryLockContext(ctx, 100*time.Millisecond); err != nil {
			return nil, fmt.Errorf("lock store: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("lock store: %s is held by another process", root)
		}
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			log.Warn("unlock store", "error", err)
		}
	}, nil
}

func newLogger(w io.Writer, verbose bool, format string) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func printVersion(w io.Writer, v *content.Version) {
	fmt.Fprintf(w, "%s version %d (%d units)\n", v.Repository, v.Number, v.Len())
}
