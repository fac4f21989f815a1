// Package publish lays repository versions out as OSTree archive
// repositories and serves them over HTTP.
package publish

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/odvcencio/ostsync/pkg/artifact"
	"github.com/odvcencio/ostsync/pkg/content"
	"github.com/odvcencio/ostsync/pkg/ostree"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Stats summarizes a publish.
type Stats struct {
	Files int
	Bytes int64
	// SummaryRegenerated is set when the stored summary was missing or
	// did not list the version's refs.
	SummaryRegenerated bool
}

// Options tunes Version.
type Options struct {
	// Workers bounds concurrent artifact reads (default 4).
	Workers int
	Logger  *slog.Logger
}

// Version writes every unit of v into fs under its relative path. Refs
// left over from an earlier publish into the same fs are removed first.
func Version(ctx context.Context, fs billy.Filesystem, cat *content.Catalog, store artifact.Store, v *content.Version, opts Options) (*Stats, error) {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if err := util.RemoveAll(fs, "refs/heads"); err != nil {
		return nil, errors.Wrap(err, "reset refs")
	}
	repo, err := ostree.OpenOrCreate(fs)
	if err != nil {
		return nil, err
	}

	units := cat.Units(v.IDs())
	var summary content.Unit
	var files atomic.Int64
	var size atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, u := range units {
		if u.Variant() == content.VariantSummary {
			summary = u
			continue
		}
		g.Go(func() error {
			n, err := writeUnit(gctx, store, repo, u)
			if err != nil {
				return err
			}
			files.Add(1)
			size.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &Stats{}
	fresh, err := summaryMatches(ctx, store, repo, summary)
	if err != nil {
		return nil, err
	}
	if fresh {
		n, err := writeUnit(ctx, store, repo, summary)
		if err != nil {
			return nil, err
		}
		files.Add(1)
		size.Add(int64(n))
	} else {
		if err := repo.WriteSummary(); err != nil {
			return nil, errors.Wrap(err, "regenerate summary")
		}
		stats.SummaryRegenerated = true
	}
	stats.Files, stats.Bytes = int(files.Load()), size.Load()
	log.Info("published version", "repository", v.Repository, "version", v.Number, "files", stats.Files, "bytes", stats.Bytes, "summary_regenerated", stats.SummaryRegenerated)
	return stats, nil
}

func writeUnit(ctx context.Context, store artifact.Store, repo *ostree.Repo, u content.Unit) (int, error) {
	data, err := artifact.ReadAll(ctx, store, u.ArtifactDigest())
	if err != nil {
		return 0, errors.Wrapf(err, "publish %s", u.Path())
	}
	if err := repo.WriteFile(u.Path(), data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// summaryMatches reports whether the stored summary lists exactly the refs
// now published.
func summaryMatches(ctx context.Context, store artifact.Store, repo *ostree.Repo, u content.Unit) (bool, error) {
	if u == nil {
		return false, nil
	}
	data, err := artifact.ReadAll(ctx, store, u.ArtifactDigest())
	if err != nil {
		return false, errors.Wrap(err, "read stored summary")
	}
	s, err := ostree.UnmarshalSummary(data)
	if err != nil {
		return false, nil
	}
	refs, err := repo.ListRefs()
	if err != nil {
		return false, err
	}
	if len(refs) != len(s.Refs) {
		return false, nil
	}
	for _, r := range s.Refs {
		if refs[r.Name] != r.Checksum {
			return false, nil
		}
	}
	return true, nil
}

// Refs returns the published ref names of v in sorted order.
func Refs(cat *content.Catalog, v *content.Version) []string {
	var out []string
	for _, u := range cat.Units(v.IDs()) {
		if r, ok := u.(content.Ref); ok {
			out = append(out, r.Name)
		}
	}
	sort.Strings(out)
	return out
}
