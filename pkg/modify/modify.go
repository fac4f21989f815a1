// Package modify computes the content a new repository version must add
// and remove so that it stays self-consistent.
package modify

import (
	"sort"

	"github.com/odvcencio/ostsync/pkg/content"
	"github.com/pkg/errors"
)

// All in a remove set removes every unit of the base version.
const All content.ID = "*"

var (
	// ErrBareObject reports an object requested without its commit.
	ErrBareObject = errors.New("objects can only be added or removed through their commit or ref")
	// ErrUnknownContent reports an id the catalog does not know.
	ErrUnknownContent = errors.New("unknown content")
)

// Change is the expanded content to seal on top of a base version.
type Change struct {
	Add    []content.ID
	Remove []content.ID
}

// Plan expands the requested additions and removals against base.
//
// Adding a ref adds its head commit; adding a commit adds every object
// reachable from it. Removal expands the same way, except that objects
// still reachable from a commit that survives are kept. Refs pointing at
// an explicitly removed commit are removed with it, while a commit that is
// only implied by a removed ref stays while another ref points at it.
func Plan(cat *content.Catalog, base *content.Version, add, remove []content.ID) (*Change, error) {
	adds := make(set)
	for _, id := range add {
		u, err := resolve(cat, id)
		if err != nil {
			return nil, errors.Wrap(err, "add")
		}
		if err := expand(cat, adds, u); err != nil {
			return nil, errors.Wrap(err, "add")
		}
	}

	for _, id := range remove {
		if id == All {
			return &Change{Add: adds.sorted(), Remove: base.IDs()}, nil
		}
	}

	removes := make(set)
	explicit := make(set)
	var implied []content.ID
	for _, id := range remove {
		u, err := resolve(cat, id)
		if err != nil {
			return nil, errors.Wrap(err, "remove")
		}
		switch u := u.(type) {
		case content.Ref:
			removes.add(u.ID)
			implied = append(implied, u.CommitID)
		case content.Commit:
			explicit.add(u.ID)
			if err := expand(cat, removes, u); err != nil {
				return nil, errors.Wrap(err, "remove")
			}
		default:
			removes.add(u.UnitID())
		}
	}

	baseRefs := refsIn(cat, base.IDs())
	for _, r := range baseRefs {
		if explicit.has(r.CommitID) {
			removes.add(r.ID)
		}
	}
	for _, commitID := range implied {
		if explicit.has(commitID) || pointedAt(commitID, baseRefs, removes) || pointedAt(commitID, refsIn(cat, adds.sorted()), removes) {
			continue
		}
		u, ok := cat.Get(commitID)
		if !ok {
			continue
		}
		if err := expand(cat, removes, u); err != nil {
			return nil, errors.Wrap(err, "remove")
		}
	}

	// Objects reachable from a surviving commit stay.
	for _, id := range append(base.IDs(), adds.sorted()...) {
		if removes.has(id) && !adds.has(id) {
			continue
		}
		u, ok := cat.Get(id)
		if !ok {
			continue
		}
		if c, ok := u.(content.Commit); ok {
			for _, o := range cat.CommitObjects(c.ID) {
				delete(removes, o)
			}
		}
	}
	for id := range adds {
		delete(removes, id)
	}
	return &Change{Add: adds.sorted(), Remove: removes.sorted()}, nil
}

func resolve(cat *content.Catalog, id content.ID) (content.Unit, error) {
	u, ok := cat.Get(id)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownContent, "%s", id)
	}
	if _, ok := u.(content.Object); ok {
		return nil, errors.Wrapf(ErrBareObject, "%s", id)
	}
	return u, nil
}

// expand adds u and the content it implies to s.
func expand(cat *content.Catalog, s set, u content.Unit) error {
	s.add(u.UnitID())
	switch u := u.(type) {
	case content.Ref:
		head, ok := cat.Get(u.CommitID)
		if !ok {
			return errors.Wrapf(ErrUnknownContent, "ref %s: commit %s", u.Name, u.CommitID)
		}
		return expand(cat, s, head)
	case content.Commit:
		for _, id := range cat.CommitObjects(u.ID) {
			s.add(id)
		}
	}
	return nil
}

func refsIn(cat *content.Catalog, ids []content.ID) []content.Ref {
	var out []content.Ref
	for _, u := range cat.Units(ids) {
		if r, ok := u.(content.Ref); ok {
			out = append(out, r)
		}
	}
	return out
}

func pointedAt(commitID content.ID, refs []content.Ref, removed set) bool {
	for _, r := range refs {
		if r.CommitID == commitID && !removed.has(r.ID) {
			return true
		}
	}
	return false
}

type set map[content.ID]struct{}

func (s set) add(id content.ID)      { s[id] = struct{}{} }
func (s set) has(id content.ID) bool { _, ok := s[id]; return ok }

func (s set) sorted() []content.ID {
	out := make([]content.ID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
