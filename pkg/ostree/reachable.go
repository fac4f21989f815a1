package ostree

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// Reachable returns every object transitively referenced by the commit, the
// commit itself included, in depth-first order. Detached commit metadata is
// included when present. Missing trees surface as ErrObjectUnavailable.
func (r *Repo) Reachable(commit Checksum) ([]ObjectName, error) {
	c, err := r.LoadCommit(commit)
	if err != nil {
		return nil, errors.Wrapf(stderrors.Join(err, ErrObjectUnavailable), "reachable %s", commit)
	}
	out := []ObjectName{{Checksum: commit, Kind: KindCommit}}
	if r.HasObject(commit, KindCommitMeta) {
		out = append(out, ObjectName{Checksum: commit, Kind: KindCommitMeta})
	}

	seen := make(map[ObjectName]struct{})
	stack := []ObjectName{
		{Checksum: c.RootMeta, Kind: KindDirMeta},
		{Checksum: c.RootTree, Kind: KindDirTree},
	}
	for len(stack) > 0 {
		obj := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[obj]; ok {
			continue
		}
		seen[obj] = struct{}{}
		if !r.HasObject(obj.Checksum, obj.Kind) {
			return nil, errors.Wrapf(ErrObjectUnavailable, "reachable %s: missing %s %s", commit, obj.Kind, obj.Checksum)
		}
		out = append(out, obj)
		if obj.Kind != KindDirTree {
			continue
		}
		tree, err := r.LoadDirTree(obj.Checksum)
		if err != nil {
			return nil, errors.Wrapf(err, "reachable %s", commit)
		}
		stack = append(stack, TreeReferences(tree)...)
	}
	return out, nil
}

// TreeReferences lists the objects a dirtree points at, in push order for a
// depth-first walk.
func TreeReferences(t *DirTree) []ObjectName {
	refs := make([]ObjectName, 0, len(t.Files)+2*len(t.Dirs))
	for _, f := range t.Files {
		refs = append(refs, ObjectName{Checksum: f.Checksum, Kind: KindFile})
	}
	for _, d := range t.Dirs {
		refs = append(refs,
			ObjectName{Checksum: d.Meta, Kind: KindDirMeta},
			ObjectName{Checksum: d.Tree, Kind: KindDirTree},
		)
	}
	return refs
}
