package content

import (
	"encoding/json"
	"os"
	"path"
	"sort"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/klauspost/compress/zstd"
	"github.com/odvcencio/ostsync/pkg/ostree"
	"github.com/pkg/errors"
)

// SnapshotFile is the catalog file name inside the store root.
const SnapshotFile = "catalog.json.zst"

type snapshot struct {
	Units         []snapshotUnit       `json:"units"`
	CommitObjects map[ID][]ID          `json:"commit_objects,omitempty"`
	Repositories  []snapshotRepository `json:"repositories"`
}

type snapshotUnit struct {
	Variant        string            `json:"variant"`
	ID             ID                `json:"id"`
	Checksum       ostree.Checksum   `json:"checksum,omitempty"`
	ParentChecksum ostree.Checksum   `json:"parent_checksum,omitempty"`
	ParentID       ID                `json:"parent_id,omitempty"`
	Kind           ostree.ObjectKind `json:"kind,omitempty"`
	Name           string            `json:"name,omitempty"`
	CommitID       ID                `json:"commit_id,omitempty"`
	RelativePath   string            `json:"relative_path"`
	Artifact       Digest            `json:"artifact,omitempty"`
}

type snapshotRepository struct {
	Name     string            `json:"name"`
	Versions []snapshotVersion `json:"versions"`
}

type snapshotVersion struct {
	Number  int       `json:"number"`
	Created time.Time `json:"created"`
	Content []ID      `json:"content"`
}

func toSnapshotUnit(u Unit) snapshotUnit {
	s := snapshotUnit{Variant: u.Variant().String(), ID: u.UnitID(), RelativePath: u.Path(), Artifact: u.ArtifactDigest()}
	switch u := u.(type) {
	case Commit:
		s.Checksum, s.ParentChecksum, s.ParentID = u.Checksum, u.ParentChecksum, u.ParentID
	case Object:
		s.Checksum, s.Kind = u.Checksum, u.Kind
	case Ref:
		s.Name, s.CommitID = u.Name, u.CommitID
	}
	return s
}

func (s snapshotUnit) unit() (Unit, error) {
	switch s.Variant {
	case "commit":
		return Commit{ID: s.ID, Checksum: s.Checksum, ParentChecksum: s.ParentChecksum, ParentID: s.ParentID, RelativePath: s.RelativePath, Artifact: s.Artifact}, nil
	case "object":
		return Object{ID: s.ID, Checksum: s.Checksum, Kind: s.Kind, RelativePath: s.RelativePath, Artifact: s.Artifact}, nil
	case "ref":
		return Ref{ID: s.ID, Name: s.Name, CommitID: s.CommitID, RelativePath: s.RelativePath, Artifact: s.Artifact}, nil
	case "config":
		return Config{ID: s.ID, RelativePath: s.RelativePath, Artifact: s.Artifact}, nil
	case "summary":
		return Summary{ID: s.ID, RelativePath: s.RelativePath, Artifact: s.Artifact}, nil
	}
	return nil, errors.Errorf("unit %s: unknown variant %q", s.ID, s.Variant)
}

// Save writes a zstd-compressed JSON snapshot of the catalog to fs.
func (c *Catalog) Save(fs billy.Filesystem) error {
	c.mu.RLock()
	snap := snapshot{CommitObjects: make(map[ID][]ID, len(c.commitObjects))}
	for _, id := range sortedUnitIDs(c.units) {
		snap.Units = append(snap.Units, toSnapshotUnit(c.units[id]))
	}
	for id, set := range c.commitObjects {
		snap.CommitObjects[id] = sortedIDs(set)
	}
	for _, name := range sortedRepoNames(c.repos) {
		r := c.repos[name]
		sr := snapshotRepository{Name: name}
		for _, v := range r.Versions {
			sr.Versions = append(sr.Versions, snapshotVersion{Number: v.Number, Created: v.Created, Content: v.IDs()})
		}
		snap.Repositories = append(snap.Repositories, sr)
	}
	c.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encode catalog")
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return errors.Wrap(err, "encode catalog")
	}
	defer enc.Close()
	return writeAtomic(fs, SnapshotFile, enc.EncodeAll(data, nil))
}

// OpenCatalog loads the catalog snapshot from fs. A missing snapshot yields
// an empty catalog.
func OpenCatalog(fs billy.Filesystem) (*Catalog, error) {
	c := NewCatalog()
	raw, err := util.ReadFile(fs, SnapshotFile)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "read catalog")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	defer dec.Close()
	data, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	for _, su := range snap.Units {
		u, err := su.unit()
		if err != nil {
			return nil, err
		}
		c.insertLocked(u)
	}
	for id, objs := range snap.CommitObjects {
		c.AddCommitObjects(id, objs...)
	}
	for _, sr := range snap.Repositories {
		r := &Repository{Name: sr.Name}
		for _, sv := range sr.Versions {
			v := &Version{Repository: sr.Name, Number: sv.Number, Created: sv.Created, content: make(map[ID]struct{}, len(sv.Content))}
			for _, id := range sv.Content {
				v.content[id] = struct{}{}
			}
			r.Versions = append(r.Versions, v)
		}
		if len(r.Versions) == 0 {
			return nil, errors.Errorf("catalog: repository %q has no versions", sr.Name)
		}
		c.repos[sr.Name] = r
	}
	return c, nil
}

func writeAtomic(fs billy.Filesystem, name string, data []byte) error {
	dir := path.Dir(name)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "write %s: mkdir", name)
	}
	tmp, err := fs.TempFile(dir, ".tmp-catalog-")
	if err != nil {
		return errors.Wrapf(err, "write %s: tmpfile", name)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return errors.Wrapf(err, "write %s", name)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return errors.Wrapf(err, "write %s: close", name)
	}
	if err := fs.Rename(tmpName, name); err != nil {
		fs.Remove(tmpName)
		return errors.Wrapf(err, "write %s: rename", name)
	}
	return nil
}

func sortedUnitIDs(units map[ID]Unit) []ID {
	set := make(map[ID]struct{}, len(units))
	for id := range units {
		set[id] = struct{}{}
	}
	return sortedIDs(set)
}

func sortedRepoNames(repos map[string]*Repository) []string {
	names := make([]string, 0, len(repos))
	for name := range repos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
