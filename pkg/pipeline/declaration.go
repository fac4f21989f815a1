// Package pipeline imports OSTree repositories into the content catalog:
// it walks commit ancestry, deduplicates objects against stored content,
// links commits, refs and objects, and seals repository versions.
package pipeline

import (
	"context"

	"github.com/odvcencio/ostsync/pkg/content"
	"github.com/odvcencio/ostsync/pkg/ostree"
	"github.com/pkg/errors"
)

// Declaration carries one unit of content through the stages. Until the
// save stage Unit is a template without an ID; afterwards it is the stored
// record.
type Declaration struct {
	Unit content.Unit
	// Name is set for commits and objects.
	Name ostree.ObjectName
	// Data holds the backing bytes once loaded.
	Data []byte
	// Bound is set when an existing record matched the natural key.
	Bound bool

	// Parent is the parent commit checksum for commits.
	Parent ostree.Checksum
	// ExternalParent is set on the ancestor-most commit of an incremental
	// walk whose parent was not part of the source.
	ExternalParent ostree.Checksum
	// Objects are the declarations of everything reachable from a commit.
	Objects []*Declaration
	// Head is the head commit of a ref.
	Head *Declaration

	load func(ctx context.Context) ([]byte, error)
}

// Variant reports the content variant being declared.
func (d *Declaration) Variant() content.Variant { return d.Unit.Variant() }

// Bytes returns the backing bytes, loading them on first use.
func (d *Declaration) Bytes(ctx context.Context) ([]byte, error) {
	if d.Data == nil && d.load != nil {
		data, err := d.load(ctx)
		if err != nil {
			return nil, err
		}
		d.Data = data
	}
	return d.Data, nil
}

func commitDeclaration(name ostree.ObjectName, parent ostree.Checksum, src Source) *Declaration {
	rel, _ := ostree.ObjectPath(name.Checksum, ostree.KindCommit)
	return &Declaration{
		Unit:   content.Commit{Checksum: name.Checksum, ParentChecksum: parent, RelativePath: rel},
		Name:   name,
		Parent: parent,
		load:   objectLoader(src, name),
	}
}

func objectDeclaration(name ostree.ObjectName, src Source) *Declaration {
	rel, _ := ostree.LooseObjectPath(name.Checksum, name.Kind)
	return &Declaration{
		Unit: content.Object{Checksum: name.Checksum, Kind: name.Kind, RelativePath: rel},
		Name: name,
		load: objectLoader(src, name),
	}
}

func refDeclaration(name string, head *Declaration) *Declaration {
	return &Declaration{
		Unit: content.Ref{Name: name, RelativePath: ostree.RefPath(name)},
		Data: []byte(string(head.Name.Checksum) + "\n"),
		Head: head,
	}
}

func fileDeclaration(u content.Unit, data []byte) *Declaration {
	return &Declaration{Unit: u, Data: data}
}

func objectLoader(src Source, name ostree.ObjectName) func(context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		if err := src.Ensure(ctx, name.Checksum, name.Kind); err != nil {
			return nil, errors.Wrapf(err, "load %s %s", name.Kind, name.Checksum)
		}
		return src.Repo().ReadObject(name.Checksum, name.Kind)
	}
}

// withArtifact returns u with its backing artifact set.
func withArtifact(u content.Unit, d content.Digest) content.Unit {
	switch u := u.(type) {
	case content.Commit:
		u.Artifact = d
		return u
	case content.Object:
		u.Artifact = d
		return u
	case content.Ref:
		u.Artifact = d
		return u
	case content.Config:
		u.Artifact = d
		return u
	case content.Summary:
		u.Artifact = d
		return u
	}
	return u
}
