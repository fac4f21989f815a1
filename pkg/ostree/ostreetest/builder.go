// Package ostreetest builds small OSTree repositories in memory for tests.
package ostreetest

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"sort"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/odvcencio/ostsync/pkg/ostree"
)

// Builder writes objects into an in-memory archive repository. Checksums
// are the sha256 of the stored bytes.
type Builder struct {
	Repo *ostree.Repo
	t    testing.TB
	now  uint64
}

// NewBuilder creates an empty repository on a fresh memfs.
func NewBuilder(t testing.TB) *Builder {
	t.Helper()
	repo, err := ostree.Create(memfs.New(), ostree.ModeArchive)
	if err != nil {
		t.Fatalf("create repo: %v", err)
	}
	return &Builder{Repo: repo, t: t, now: 1700000000}
}

// Sum returns the checksum the builder assigns to data.
func Sum(data []byte) ostree.Checksum {
	h := sha256.Sum256(data)
	return ostree.Checksum(hex.EncodeToString(h[:]))
}

func (b *Builder) put(kind ostree.ObjectKind, data []byte) ostree.Checksum {
	b.t.Helper()
	c := Sum(data)
	if err := b.Repo.WriteObject(c, kind, data); err != nil {
		b.t.Fatalf("write %s: %v", kind, err)
	}
	return c
}

// File stores a file object with the given contents.
func (b *Builder) File(contents string) ostree.Checksum {
	return b.put(ostree.KindFile, []byte("filez:"+contents))
}

// DirMeta stores the directory metadata object shared by every directory.
func (b *Builder) DirMeta() ostree.Checksum {
	return b.put(ostree.KindDirMeta, []byte("dirmeta:0755"))
}

// Tree stores a dirtree hierarchy for files, keyed by slash separated
// path, and returns the root dirtree checksum.
func (b *Builder) Tree(files map[string]string) ostree.Checksum {
	b.t.Helper()
	return b.tree("", files)
}

func (b *Builder) tree(prefix string, files map[string]string) ostree.Checksum {
	t := &ostree.DirTree{}
	subdirs := make(map[string]bool)
	for p, contents := range files {
		rel, ok := strings.CutPrefix(p, prefix)
		if !ok {
			continue
		}
		if dir, _, nested := strings.Cut(rel, "/"); nested {
			subdirs[dir] = true
			continue
		}
		t.Files = append(t.Files, ostree.FileEntry{Name: rel, Checksum: b.File(contents)})
	}
	names := make([]string, 0, len(subdirs))
	for d := range subdirs {
		names = append(names, d)
	}
	sort.Strings(names)
	for _, d := range names {
		t.Dirs = append(t.Dirs, ostree.DirEntry{
			Name: d,
			Tree: b.tree(path.Join(prefix, d)+"/", files),
			Meta: b.DirMeta(),
		})
	}
	return b.put(ostree.KindDirTree, ostree.MarshalDirTree(t))
}

// Commit stores a commit of files on top of parent.
func (b *Builder) Commit(parent ostree.Checksum, subject string, files map[string]string) ostree.Checksum {
	b.t.Helper()
	b.now++
	c := &ostree.Commit{
		Metadata:  map[string]string{"version": subject},
		Parent:    parent,
		Subject:   subject,
		Timestamp: b.now,
		RootTree:  b.Tree(files),
		RootMeta:  b.DirMeta(),
	}
	return b.put(ostree.KindCommit, ostree.MarshalCommit(c))
}

// Chain commits n revisions of the same tree shape onto parent, each
// changing one file, and returns the checksums oldest first.
func (b *Builder) Chain(parent ostree.Checksum, n int, files map[string]string) []ostree.Checksum {
	b.t.Helper()
	out := make([]ostree.Checksum, 0, n)
	for i := 0; i < n; i++ {
		rev := make(map[string]string, len(files)+1)
		for k, v := range files {
			rev[k] = v
		}
		rev["rev"] = strings.Repeat("r", i+1)
		parent = b.Commit(parent, "rev "+strings.Repeat("I", i+1), rev)
		out = append(out, parent)
	}
	return out
}

// Ref points a branch at c.
func (b *Builder) Ref(name string, c ostree.Checksum) {
	b.t.Helper()
	if err := b.Repo.WriteRef(name, c); err != nil {
		b.t.Fatalf("write ref: %v", err)
	}
}

// Summary regenerates the summary file.
func (b *Builder) Summary() {
	b.t.Helper()
	if err := b.Repo.WriteSummary(); err != nil {
		b.t.Fatalf("write summary: %v", err)
	}
}

// Remove deletes an object, producing a partial repository.
func (b *Builder) Remove(c ostree.Checksum, kind ostree.ObjectKind) {
	b.t.Helper()
	p, _ := ostree.LooseObjectPath(c, kind)
	if err := b.Repo.FS().Remove(p); err != nil {
		b.t.Fatalf("remove %s: %v", p, err)
	}
}
