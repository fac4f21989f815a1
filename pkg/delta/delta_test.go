package delta

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"
	"github.com/odvcencio/ostsync/pkg/ostree"
	"github.com/odvcencio/ostsync/pkg/ostree/ostreetest"
)

func TestZstdGeneratorShipsOnlyNewObjects(t *testing.T) {
	b := ostreetest.NewBuilder(t)
	files := map[string]string{"etc/os-release": "v1", "usr/lib/shared": "same"}
	parent := b.Commit("", "one", files)
	files["etc/os-release"] = "v2"
	child := b.Commit(parent, "two", files)

	parts, err := ZstdGenerator{}.Generate(context.Background(), b.Repo, parent, child)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want superblock and one part", len(parts))
	}
	dir := ostree.DeltaDir(parent, child)
	if parts[0].RelativePath != dir+"/superblock" || parts[1].RelativePath != dir+"/0" {
		t.Fatalf("part paths = %q, %q", parts[0].RelativePath, parts[1].RelativePath)
	}

	var sb Superblock
	if err := json.Unmarshal(parts[0].Data, &sb); err != nil {
		t.Fatalf("decode superblock: %v", err)
	}
	if sb.From != parent || sb.To != child || len(sb.Parts) != 1 {
		t.Fatalf("superblock = %+v", sb)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(parts[1].Data, nil)
	if err != nil {
		t.Fatalf("decompress part: %v", err)
	}
	var got []string
	tr := tar.NewReader(bytes.NewReader(raw))
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, h.Name)
	}
	sort.Strings(got)

	// New: the child commit, the root and etc dirtrees, the changed file.
	childCommit, _ := b.Repo.LoadCommit(child)
	rootTree, _ := b.Repo.LoadDirTree(childCommit.RootTree)
	var etc ostree.Checksum
	for _, d := range rootTree.Dirs {
		if d.Name == "etc" {
			etc = d.Tree
		}
	}
	var want []string
	for _, n := range []ostree.ObjectName{
		{Checksum: child, Kind: ostree.KindCommit},
		{Checksum: childCommit.RootTree, Kind: ostree.KindDirTree},
		{Checksum: etc, Kind: ostree.KindDirTree},
		{Checksum: ostreetest.Sum([]byte("filez:v2")), Kind: ostree.KindFile},
	} {
		p, _ := ostree.LooseObjectPath(n.Checksum, n.Kind)
		want = append(want, p)
	}
	sort.Strings(want)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("delta objects mismatch (-want +got):\n%s", diff)
	}
	if sb.Parts[0].Objects != len(want) {
		t.Fatalf("superblock objects = %d, want %d", sb.Parts[0].Objects, len(want))
	}
}

func TestZstdGeneratorMissingCommit(t *testing.T) {
	b := ostreetest.NewBuilder(t)
	c := b.Commit("", "one", map[string]string{"a": "1"})
	missing := ostreetest.Sum([]byte("nope"))
	if _, err := (ZstdGenerator{}).Generate(context.Background(), b.Repo, missing, c); err == nil {
		t.Fatal("Generate with a missing from commit should fail")
	}
}
