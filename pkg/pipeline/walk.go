package pipeline

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/odvcencio/ostsync/pkg/ostree"
	"github.com/pkg/errors"
)

var (
	// ErrParentUnavailable reports a parent commit that could not be loaded
	// during a full import or sync.
	ErrParentUnavailable = errors.New("parent commit could not be loaded")
	// ErrRefNotFound reports a requested ref that the source does not have.
	ErrRefNotFound = errors.New("ref not found")
)

// RefHead names a branch and its head commit.
type RefHead struct {
	Name string
	Head ostree.Checksum
}

// Walker declares the commits of refs from head to root along with every
// object they reach. Each distinct checksum is declared once per walker.
type Walker struct {
	src Source
	// Depth is the number of ancestors followed past the head; negative
	// means unlimited.
	Depth int
	// Incremental treats an unresolved parent as already imported history
	// instead of an error.
	Incremental bool

	log      *slog.Logger
	declared map[ostree.ObjectName]*Declaration

	// reach is the largest ancestor budget each commit was walked with.
	reach   map[ostree.Checksum]int
	commits []*Declaration
}

// NewWalker returns a walker over src.
func NewWalker(src Source, depth int, incremental bool, log *slog.Logger) *Walker {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Walker{
		src:         src,
		Depth:       depth,
		Incremental: incremental,
		log:         log,
		declared:    make(map[ostree.ObjectName]*Declaration),
		reach:       make(map[ostree.Checksum]int),
	}
}

// Commits returns the commits declared so far, in declaration order.
func (w *Walker) Commits() []*Declaration { return w.commits }

func send(ctx context.Context, out chan<- *Declaration, d *Declaration) error {
	select {
	case out <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WalkRef declares the ref's head commit, then its ancestors up to the
// depth budget, and the ref itself right after its head commit. A commit
// declared earlier through another ref is walked past again when this ref
// needs more of its ancestry than that walk followed.
func (w *Walker) WalkRef(ctx context.Context, out chan<- *Declaration, ref RefHead) error {
	log := w.log.With("ref", ref.Name)
	c := ref.Head
	budget := w.Depth
	head := true
	for {
		key := ostree.ObjectName{Checksum: c, Kind: ostree.KindCommit}
		d, declared := w.declared[key]
		if declared {
			if head {
				if err := send(ctx, out, refDeclaration(ref.Name, d)); err != nil {
					return err
				}
				head = false
			}
			if covers(w.reach[c], budget) {
				return nil
			}
		} else {
			if err := w.src.Ensure(ctx, c, ostree.KindCommit); err != nil {
				return errors.Wrapf(err, "ref %s: head commit %s", ref.Name, c)
			}
			commit, err := w.src.Repo().LoadCommit(c)
			if err != nil {
				return errors.Wrapf(stderrors.Join(err, ostree.ErrObjectUnavailable), "ref %s", ref.Name)
			}
			d = commitDeclaration(key, commit.Parent, w.src)
			w.declared[key] = d
			if d.Objects, err = w.declareObjects(ctx, out, c, commit); err != nil {
				return errors.Wrapf(err, "ref %s: commit %s", ref.Name, c)
			}
		}
		w.reach[c] = budget

		next, err := w.parent(ctx, d, budget, !declared)
		if err != nil {
			return errors.Wrapf(err, "ref %s: commit %s", ref.Name, c)
		}
		if !declared {
			if err := send(ctx, out, d); err != nil {
				return err
			}
			w.commits = append(w.commits, d)
			if head {
				if err := send(ctx, out, refDeclaration(ref.Name, d)); err != nil {
					return err
				}
				head = false
			}
			log.Debug("declared commit", "commit", c, "objects", len(d.Objects))
		}
		if next == "" {
			return nil
		}
		if budget > 0 {
			budget--
		}
		c = next
	}
}

// parent returns the parent of d to walk next, or "" when the walk ends at
// d. ExternalParent is only recorded on declarations not yet sent.
func (w *Walker) parent(ctx context.Context, d *Declaration, budget int, unsent bool) (ostree.Checksum, error) {
	if d.Parent == "" || budget == 0 {
		return "", nil
	}
	if _, ok := w.declared[ostree.ObjectName{Checksum: d.Parent, Kind: ostree.KindCommit}]; ok {
		return d.Parent, nil
	}
	err := w.src.Ensure(ctx, d.Parent, ostree.KindCommit)
	switch {
	case err == nil:
		return d.Parent, nil
	case errors.Is(err, ostree.ErrObjectNotFound) && w.Incremental:
		if unsent {
			d.ExternalParent = d.Parent
		}
		w.log.Debug("parent outside source", "commit", d.Name.Checksum, "parent", d.Parent)
		return "", nil
	case errors.Is(err, ostree.ErrObjectNotFound):
		return "", errors.Wrapf(ErrParentUnavailable, "parent %s", d.Parent)
	default:
		return "", errors.Wrapf(err, "parent %s", d.Parent)
	}
}

// covers reports whether a walk that continued with budget have already
// followed at least as many ancestors as budget want asks for.
func covers(have, want int) bool {
	if have < 0 {
		return true
	}
	return want >= 0 && have >= want
}

// declareObjects emits every object reachable from the commit that has not
// been declared yet and returns the declarations of all of them.
func (w *Walker) declareObjects(ctx context.Context, out chan<- *Declaration, sum ostree.Checksum, commit *ostree.Commit) ([]*Declaration, error) {
	var objects []*Declaration
	declare := func(name ostree.ObjectName) error {
		d, ok := w.declared[name]
		if !ok {
			d = objectDeclaration(name, w.src)
			w.declared[name] = d
			if err := send(ctx, out, d); err != nil {
				return err
			}
		}
		objects = append(objects, d)
		return nil
	}

	meta := ostree.ObjectName{Checksum: sum, Kind: ostree.KindCommitMeta}
	switch err := w.src.Ensure(ctx, sum, ostree.KindCommitMeta); {
	case err == nil:
		if err := declare(meta); err != nil {
			return nil, err
		}
	case !errors.Is(err, ostree.ErrObjectNotFound):
		return nil, err
	}

	seen := make(map[ostree.ObjectName]struct{})
	stack := []ostree.ObjectName{
		{Checksum: commit.RootMeta, Kind: ostree.KindDirMeta},
		{Checksum: commit.RootTree, Kind: ostree.KindDirTree},
	}
	for len(stack) > 0 {
		obj := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[obj]; ok {
			continue
		}
		seen[obj] = struct{}{}
		if obj.Kind == ostree.KindDirTree {
			if err := w.src.Ensure(ctx, obj.Checksum, obj.Kind); err != nil {
				return nil, errors.Wrapf(stderrors.Join(err, ostree.ErrObjectUnavailable), "dirtree %s", obj.Checksum)
			}
			tree, err := w.src.Repo().LoadDirTree(obj.Checksum)
			if err != nil {
				return nil, errors.Wrapf(stderrors.Join(err, ostree.ErrObjectUnavailable), "dirtree %s", obj.Checksum)
			}
			stack = append(stack, ostree.TreeReferences(tree)...)
		}
		if err := declare(obj); err != nil {
			return nil, err
		}
	}
	return objects, nil
}
