package content

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrNoRepository reports an unknown repository name.
var ErrNoRepository = errors.New("repository not found")

// Version is an immutable, numbered snapshot of a repository's content.
type Version struct {
	Repository string
	Number     int
	Created    time.Time
	content    map[ID]struct{}
}

// Has reports whether id is part of the version.
func (v *Version) Has(id ID) bool {
	_, ok := v.content[id]
	return ok
}

// Len returns the number of content records in the version.
func (v *Version) Len() int { return len(v.content) }

// IDs returns the version's content ids in sorted order.
func (v *Version) IDs() []ID { return sortedIDs(v.content) }

func (v *Version) sameContent(set map[ID]struct{}) bool {
	if len(v.content) != len(set) {
		return false
	}
	for id := range set {
		if _, ok := v.content[id]; !ok {
			return false
		}
	}
	return true
}

// Repository is a named, versioned content set.
type Repository struct {
	Name     string
	Versions []*Version
}

// Latest returns the newest version.
func (r *Repository) Latest() *Version {
	return r.Versions[len(r.Versions)-1]
}

// EnsureRepository creates the repository with an empty version 0 if it
// does not exist yet.
func (c *Catalog) EnsureRepository(name string) *Repository {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.repos[name]; ok {
		return r
	}
	r := &Repository{
		Name:     name,
		Versions: []*Version{{Repository: name, Number: 0, Created: time.Now().UTC(), content: map[ID]struct{}{}}},
	}
	c.repos[name] = r
	return r
}

// Repositories returns the repository names in sorted order.
func (c *Catalog) Repositories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedRepoNames(c.repos)
}

// Versions lists the versions of a repository, oldest first.
func (c *Catalog) Versions(name string) ([]*Version, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.repos[name]
	if !ok {
		return nil, errors.Wrapf(ErrNoRepository, "%q", name)
	}
	return append([]*Version(nil), r.Versions...), nil
}

// Latest returns the newest version of a repository.
func (c *Catalog) Latest(name string) (*Version, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.repos[name]
	if !ok {
		return nil, errors.Wrapf(ErrNoRepository, "%q", name)
	}
	return r.Latest(), nil
}

// Version returns version number n of a repository.
func (c *Catalog) Version(name string, n int) (*Version, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.repos[name]
	if !ok {
		return nil, errors.Wrapf(ErrNoRepository, "%q", name)
	}
	for _, v := range r.Versions {
		if v.Number == n {
			return v, nil
		}
	}
	return nil, errors.Errorf("repository %q has no version %d", name, n)
}

// DeleteVersion drops a version wholesale. Version 0 and the latest version
// cannot be deleted.
func (c *Catalog) DeleteVersion(name string, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.repos[name]
	if !ok {
		return errors.Wrapf(ErrNoRepository, "%q", name)
	}
	if n == 0 || n == r.Latest().Number {
		return errors.Errorf("repository %q: version %d cannot be deleted", name, n)
	}
	for i, v := range r.Versions {
		if v.Number == n {
			r.Versions = append(r.Versions[:i], r.Versions[i+1:]...)
			return nil
		}
	}
	return errors.Errorf("repository %q has no version %d", name, n)
}

// Lock takes the exclusive version-creation lock of a repository and
// returns its release function.
func (c *Catalog) Lock(name string) func() {
	c.locksMu.Lock()
	l, ok := c.locks[name]
	if !ok {
		l = &sync.Mutex{}
		c.locks[name] = l
	}
	c.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

// Seal creates a new version of the repository holding
// (base - remove) + add. Added units supersede base units with the same
// repository key: refs by name, config and summary by path. If the result
// equals the latest version nothing is created and the latest version is
// returned with false. Callers must hold the repository lock.
func (c *Catalog) Seal(name string, base *Version, add, remove []ID) (*Version, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.repos[name]
	if !ok {
		return nil, false, errors.Wrapf(ErrNoRepository, "%q", name)
	}
	if base == nil {
		base = r.Latest()
	}

	next := make(map[ID]struct{}, len(base.content)+len(add))
	for id := range base.content {
		next[id] = struct{}{}
	}
	for _, id := range remove {
		delete(next, id)
	}

	superseded := make(map[Key]struct{})
	for _, id := range add {
		u, ok := c.units[id]
		if !ok {
			return nil, false, errors.Wrapf(ErrNotFound, "seal %q: add %s", name, id)
		}
		if k, ok := repoKey(u); ok {
			superseded[k] = struct{}{}
		}
	}
	if len(superseded) > 0 {
		for id := range next {
			if k, ok := repoKey(c.units[id]); ok {
				if _, gone := superseded[k]; gone {
					delete(next, id)
				}
			}
		}
	}
	for _, id := range add {
		next[id] = struct{}{}
	}

	latest := r.Latest()
	if latest.sameContent(next) {
		return latest, false, nil
	}
	v := &Version{
		Repository: name,
		Number:     latest.Number + 1,
		Created:    time.Now().UTC(),
		content:    next,
	}
	r.Versions = append(r.Versions, v)
	return v, true, nil
}
