package pipeline

import (
	"context"

	"github.com/odvcencio/ostsync/pkg/artifact"
	"github.com/odvcencio/ostsync/pkg/content"
	"github.com/odvcencio/ostsync/pkg/ostree"
	"github.com/pkg/errors"
)

// storeSource resolves objects missing from the wrapped source against
// content already in the catalog. Commits are never resolved this way, so
// an incremental walk still stops at history that was imported before.
type storeSource struct {
	Source
	catalog   *content.Catalog
	artifacts artifact.Store
}

func (s *storeSource) Ensure(ctx context.Context, c ostree.Checksum, kind ostree.ObjectKind) error {
	err := s.Source.Ensure(ctx, c, kind)
	if err == nil || kind == ostree.KindCommit || !errors.Is(err, ostree.ErrObjectNotFound) {
		return err
	}
	if mErr := materializeObject(ctx, s.catalog, s.artifacts, s.Repo(), c, kind); mErr != nil {
		if errors.Is(mErr, content.ErrNotFound) {
			return err
		}
		return mErr
	}
	return nil
}

func materializeObject(ctx context.Context, cat *content.Catalog, store artifact.Store, repo *ostree.Repo, c ostree.Checksum, kind ostree.ObjectKind) error {
	rel, ok := ostree.LooseObjectPath(c, kind)
	if !ok {
		return errors.Errorf("materialize %s: unsupported kind %q", c, kind)
	}
	key := content.Key{Variant: content.VariantObject, Checksum: string(c), RelativePath: rel}
	if kind == ostree.KindCommit {
		key.Variant = content.VariantCommit
	}
	u, ok := cat.Lookup(key)
	if !ok {
		return errors.Wrapf(content.ErrNotFound, "materialize %s %s", kind, c)
	}
	return writeUnit(ctx, store, repo, u)
}

func writeUnit(ctx context.Context, store artifact.Store, repo *ostree.Repo, u content.Unit) error {
	data, err := artifact.ReadAll(ctx, store, u.ArtifactDigest())
	if err != nil {
		return errors.Wrapf(err, "materialize %s", u.Path())
	}
	return repo.WriteFile(u.Path(), data)
}

// MaterializeCommit copies a stored commit and every object recorded as
// reachable from it into repo, skipping what repo already has.
func MaterializeCommit(ctx context.Context, cat *content.Catalog, store artifact.Store, repo *ostree.Repo, c ostree.Checksum) error {
	stored := cat.CommitsByChecksum(c)
	if len(stored) == 0 {
		return errors.Wrapf(content.ErrNotFound, "materialize commit %s", c)
	}
	commit := stored[0]
	if !repo.HasObject(c, ostree.KindCommit) {
		if err := writeUnit(ctx, store, repo, commit); err != nil {
			return err
		}
	}
	for _, u := range cat.Units(cat.CommitObjects(commit.ID)) {
		o, ok := u.(content.Object)
		if !ok || o.Kind == ostree.KindDeltaPart || repo.HasObject(o.Checksum, o.Kind) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeUnit(ctx, store, repo, o); err != nil {
			return err
		}
	}
	return nil
}
