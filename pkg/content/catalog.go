package content

import (
	"sort"
	"sync"

	"github.com/odvcencio/ostsync/pkg/ostree"
	"github.com/pkg/errors"
)

var (
	// ErrConflict reports a create that collided with an existing record
	// carrying the same natural key.
	ErrConflict = errors.New("content already exists")
	// ErrNotFound reports an unknown content id.
	ErrNotFound = errors.New("content not found")
)

// Catalog is the metadata store for content records, the commit to object
// relation and repository versions. It is safe for concurrent use.
type Catalog struct {
	mu            sync.RWMutex
	units         map[ID]Unit
	keys          map[Key]ID
	commitObjects map[ID]map[ID]struct{}
	byChecksum    map[ostree.Checksum][]ID
	repos         map[string]*Repository

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewCatalog returns an empty in-memory catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		units:         make(map[ID]Unit),
		keys:          make(map[Key]ID),
		commitObjects: make(map[ID]map[ID]struct{}),
		byChecksum:    make(map[ostree.Checksum][]ID),
		repos:         make(map[string]*Repository),
		locks:         make(map[string]*sync.Mutex),
	}
}

// Get returns the record with the given id.
func (c *Catalog) Get(id ID) (Unit, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.units[id]
	return u, ok
}

// Lookup returns the record with the given natural key.
func (c *Catalog) Lookup(k Key) (Unit, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.keys[k]
	if !ok {
		return nil, false
	}
	return c.units[id], true
}

// Create stores u under a fresh id. A record with the same natural key
// already present is returned together with ErrConflict.
func (c *Catalog) Create(u Unit) (Unit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.keys[u.Key()]; ok {
		return c.units[id], errors.Wrapf(ErrConflict, "%s %s", u.Variant(), describeKey(u.Key()))
	}
	return c.insertLocked(u.withID(NewID())), nil
}

// GetOrCreate returns the existing record for u's key or creates it. The
// boolean reports whether a record was created.
func (c *Catalog) GetOrCreate(u Unit) (Unit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.keys[u.Key()]; ok {
		return c.units[id], false
	}
	return c.insertLocked(u.withID(NewID())), true
}

func (c *Catalog) insertLocked(u Unit) Unit {
	c.units[u.UnitID()] = u
	c.keys[u.Key()] = u.UnitID()
	if commit, ok := u.(Commit); ok {
		c.byChecksum[commit.Checksum] = append(c.byChecksum[commit.Checksum], commit.ID)
	}
	return u
}

// SetParent links a commit to its parent commit. A parent that is already
// set is never altered; the call then reports whether it matches.
func (c *Catalog) SetParent(commitID, parentID ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.units[commitID].(Commit)
	if !ok {
		return errors.Wrapf(ErrNotFound, "commit %s", commitID)
	}
	parent, ok := c.units[parentID].(Commit)
	if !ok {
		return errors.Wrapf(ErrNotFound, "parent commit %s", parentID)
	}
	if u.ParentChecksum != "" && u.ParentChecksum != parent.Checksum {
		return errors.Errorf("commit %s: parent %s does not match recorded parent %s", u.Checksum, parent.Checksum, u.ParentChecksum)
	}
	if u.ParentID != "" {
		return nil
	}
	u.ParentID = parentID
	c.units[commitID] = u
	return nil
}

// AddCommitObjects records that the objects are reachable from the commit.
func (c *Catalog) AddCommitObjects(commitID ID, objectIDs ...ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.commitObjects[commitID]
	if !ok {
		set = make(map[ID]struct{}, len(objectIDs))
		c.commitObjects[commitID] = set
	}
	for _, id := range objectIDs {
		set[id] = struct{}{}
	}
}

// CommitObjects returns the ids of every object reachable from the commit.
func (c *Catalog) CommitObjects(commitID ID) []ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedIDs(c.commitObjects[commitID])
}

// CommitsByChecksum returns every commit record with the given checksum.
func (c *Catalog) CommitsByChecksum(sum ostree.Checksum) []Commit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.byChecksum[sum]
	out := make([]Commit, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.units[id].(Commit))
	}
	return out
}

// Units returns the records for ids, skipping unknown ones.
func (c *Catalog) Units(ids []ID) []Unit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Unit, 0, len(ids))
	for _, id := range ids {
		if u, ok := c.units[id]; ok {
			out = append(out, u)
		}
	}
	return out
}

// Count returns the number of stored records per variant, across every
// repository.
func (c *Catalog) Count() map[Variant]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[Variant]int)
	for _, u := range c.units {
		out[u.Variant()]++
	}
	return out
}

func describeKey(k Key) string {
	switch k.Variant {
	case VariantRef:
		return k.Name + "@" + string(k.CommitID)
	case VariantCommit, VariantObject:
		return k.Checksum + " " + k.RelativePath
	default:
		return k.RelativePath
	}
}

func sortedIDs(set map[ID]struct{}) []ID {
	out := make([]ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
