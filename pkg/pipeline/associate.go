package pipeline

import (
	"context"
	"log/slog"
	"sort"

	"github.com/odvcencio/ostsync/pkg/content"
	"github.com/odvcencio/ostsync/pkg/ostree"
	"github.com/pkg/errors"
)

// associator is the last stage. It links saved commits to their parents
// and objects, creates refs, and collects the ids of everything the run
// produced.
type associator struct {
	catalog *content.Catalog
	log     *slog.Logger
	batch   int

	commits map[ostree.Checksum]content.ID
	// pending holds commits whose parent has not been associated yet,
	// keyed by the parent checksum.
	pending map[ostree.Checksum][]*Declaration
	seen    map[content.ID]struct{}
	ids     []content.ID
}

func newAssociator(cat *content.Catalog, batch int, log *slog.Logger) *associator {
	return &associator{
		catalog: cat,
		log:     log,
		batch:   batch,
		commits: make(map[ostree.Checksum]content.ID),
		pending: make(map[ostree.Checksum][]*Declaration),
		seen:    make(map[content.ID]struct{}),
	}
}

func (a *associator) run(ctx context.Context, in <-chan *Declaration) error {
	batch := make([]*Declaration, 0, a.batch)
	for d := range in {
		batch = append(batch, d)
		if len(batch) < cap(batch) {
			continue
		}
		if err := a.apply(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
	}
	return a.apply(ctx, batch)
}

func (a *associator) apply(ctx context.Context, batch []*Declaration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, d := range batch {
		switch u := d.Unit.(type) {
		case content.Commit:
			if err := a.commit(d, u); err != nil {
				return err
			}
		case content.Ref:
			if err := a.ref(d, u); err != nil {
				return err
			}
		}
		a.collect(d.Unit.UnitID())
	}
	return nil
}

func (a *associator) commit(d *Declaration, u content.Commit) error {
	objects := make([]content.ID, 0, len(d.Objects))
	for _, o := range d.Objects {
		objects = append(objects, o.Unit.UnitID())
	}
	a.catalog.AddCommitObjects(u.ID, objects...)
	a.commits[u.Checksum] = u.ID

	for _, child := range a.pending[u.Checksum] {
		if err := a.catalog.SetParent(child.Unit.UnitID(), u.ID); err != nil {
			return err
		}
	}
	delete(a.pending, u.Checksum)

	if d.Parent == "" {
		return nil
	}
	if parent, ok := a.commits[d.Parent]; ok {
		return a.catalog.SetParent(u.ID, parent)
	}
	a.pending[d.Parent] = append(a.pending[d.Parent], d)
	return nil
}

func (a *associator) ref(d *Declaration, u content.Ref) error {
	if d.Head == nil || d.Head.Unit.UnitID() == "" {
		return errors.Errorf("ref %s: head commit was not saved", u.Name)
	}
	u.CommitID = d.Head.Unit.UnitID()
	stored, err := a.catalog.Create(u)
	switch {
	case errors.Is(err, content.ErrConflict):
		a.log.Debug("ref already stored", "ref", u.Name, "commit", d.Head.Name.Checksum)
		d.Bound = true
	case err != nil:
		return errors.Wrapf(err, "ref %s", u.Name)
	}
	d.Unit = stored
	return nil
}

func (a *associator) collect(id content.ID) {
	if _, ok := a.seen[id]; ok {
		return
	}
	a.seen[id] = struct{}{}
	a.ids = append(a.ids, id)
}

// finish links commits whose parent was not part of the run to a
// previously stored commit with that checksum, if there is one.
func (a *associator) finish() error {
	parents := make([]string, 0, len(a.pending))
	for p := range a.pending {
		parents = append(parents, string(p))
	}
	sort.Strings(parents)
	for _, p := range parents {
		sum := ostree.Checksum(p)
		stored := a.catalog.CommitsByChecksum(sum)
		for _, child := range a.pending[sum] {
			if len(stored) == 0 {
				if child.ExternalParent != "" {
					a.log.Warn("parent commit not stored", "commit", child.Name.Checksum, "parent", sum)
				}
				continue
			}
			if err := a.catalog.SetParent(child.Unit.UnitID(), stored[0].ID); err != nil {
				return err
			}
		}
	}
	a.pending = make(map[ostree.Checksum][]*Declaration)
	return nil
}
