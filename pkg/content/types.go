// Package content holds the typed content records produced by imports and
// the immutable repository versions that reference them.
package content

import (
	"github.com/google/uuid"
	"github.com/odvcencio/ostsync/pkg/ostree"
)

// ID identifies a content record.
type ID string

// NewID returns a fresh random ID.
func NewID() ID { return ID(uuid.NewString()) }

// Digest identifies a stored artifact by content digest.
type Digest string

// Variant tags the closed set of content kinds.
type Variant uint8

const (
	VariantCommit Variant = iota + 1
	VariantObject
	VariantRef
	VariantConfig
	VariantSummary
)

func (v Variant) String() string {
	switch v {
	case VariantCommit:
		return "commit"
	case VariantObject:
		return "object"
	case VariantRef:
		return "ref"
	case VariantConfig:
		return "config"
	case VariantSummary:
		return "summary"
	default:
		return "unknown"
	}
}

// Unit is one content record: Commit, Object, Ref, Config or Summary. The
// set is closed; switch on the concrete type or on Variant().
type Unit interface {
	UnitID() ID
	Variant() Variant
	// Key is the natural uniqueness key of the record.
	Key() Key
	// Path is the relative path the unit is published under.
	Path() string
	// ArtifactDigest is the digest of the backing bytes.
	ArtifactDigest() Digest
	withID(ID) Unit
}

// Key is the natural key of a record. Fields not used by a variant are left
// empty.
type Key struct {
	Variant      Variant
	Checksum     string
	RelativePath string
	Name         string
	CommitID     ID
}

// Commit is an OSTree commit. ParentID is a weak reference to the parent
// commit record and is set once by association.
type Commit struct {
	ID             ID
	Checksum       ostree.Checksum
	ParentChecksum ostree.Checksum
	ParentID       ID
	RelativePath   string
	Artifact       Digest
}

func (c Commit) UnitID() ID             { return c.ID }
func (c Commit) Variant() Variant       { return VariantCommit }
func (c Commit) Path() string           { return c.RelativePath }
func (c Commit) ArtifactDigest() Digest { return c.Artifact }
func (c Commit) withID(id ID) Unit      { c.ID = id; return c }
func (c Commit) Key() Key {
	return Key{Variant: VariantCommit, Checksum: string(c.Checksum), RelativePath: c.RelativePath}
}

// Object is any non-commit object reachable from a commit.
type Object struct {
	ID           ID
	Checksum     ostree.Checksum
	Kind         ostree.ObjectKind
	RelativePath string
	Artifact     Digest
}

func (o Object) UnitID() ID             { return o.ID }
func (o Object) Variant() Variant       { return VariantObject }
func (o Object) Path() string           { return o.RelativePath }
func (o Object) ArtifactDigest() Digest { return o.Artifact }
func (o Object) withID(id ID) Unit      { o.ID = id; return o }
func (o Object) Key() Key {
	return Key{Variant: VariantObject, Checksum: string(o.Checksum), RelativePath: o.RelativePath}
}

// Ref is a named pointer to a head commit.
type Ref struct {
	ID           ID
	Name         string
	CommitID     ID
	RelativePath string
	Artifact     Digest
}

func (r Ref) UnitID() ID             { return r.ID }
func (r Ref) Variant() Variant       { return VariantRef }
func (r Ref) Path() string           { return r.RelativePath }
func (r Ref) ArtifactDigest() Digest { return r.Artifact }
func (r Ref) withID(id ID) Unit      { r.ID = id; return r }
func (r Ref) Key() Key {
	return Key{Variant: VariantRef, Name: r.Name, CommitID: r.CommitID, RelativePath: r.RelativePath}
}

// Config is the repository config file.
type Config struct {
	ID           ID
	RelativePath string
	Artifact     Digest
}

func (c Config) UnitID() ID             { return c.ID }
func (c Config) Variant() Variant       { return VariantConfig }
func (c Config) Path() string           { return c.RelativePath }
func (c Config) ArtifactDigest() Digest { return c.Artifact }
func (c Config) withID(id ID) Unit      { c.ID = id; return c }
func (c Config) Key() Key {
	return Key{Variant: VariantConfig, Checksum: string(c.Artifact), RelativePath: c.RelativePath}
}

// Summary is the repository summary file.
type Summary struct {
	ID           ID
	RelativePath string
	Artifact     Digest
}

func (s Summary) UnitID() ID             { return s.ID }
func (s Summary) Variant() Variant       { return VariantSummary }
func (s Summary) Path() string           { return s.RelativePath }
func (s Summary) ArtifactDigest() Digest { return s.Artifact }
func (s Summary) withID(id ID) Unit      { s.ID = id; return s }
func (s Summary) Key() Key {
	return Key{Variant: VariantSummary, Checksum: string(s.Artifact), RelativePath: s.RelativePath}
}

// repoKey identifies content that can appear at most once in a version: a
// newer unit with the same repository key supersedes the older one. Commits
// and objects have none.
func repoKey(u Unit) (Key, bool) {
	switch u := u.(type) {
	case Ref:
		return Key{Variant: VariantRef, Name: u.Name}, true
	case Config:
		return Key{Variant: VariantConfig, RelativePath: u.RelativePath}, true
	case Summary:
		return Key{Variant: VariantSummary, RelativePath: u.RelativePath}, true
	default:
		return Key{}, false
	}
}
