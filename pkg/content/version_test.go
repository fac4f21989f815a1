package content

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/odvcencio/ostsync/pkg/ostree"
	"github.com/pkg/errors"
)

func TestEnsureRepositoryStartsEmpty(t *testing.T) {
	c := NewCatalog()
	r := c.EnsureRepository("repo")
	if len(r.Versions) != 1 || r.Latest().Number != 0 || r.Latest().Len() != 0 {
		t.Fatalf("new repository versions = %+v, want one empty version 0", r.Versions)
	}
	if again := c.EnsureRepository("repo"); again != r {
		t.Fatal("EnsureRepository should return the existing repository")
	}
	if _, err := c.Latest("nope"); !errors.Is(err, ErrNoRepository) {
		t.Fatalf("Latest(nope) err = %v, want ErrNoRepository", err)
	}
}

func TestSealSetAlgebra(t *testing.T) {
	c := NewCatalog()
	c.EnsureRepository("repo")
	a, _ := c.GetOrCreate(Object{Checksum: checksum("a"), Kind: ostree.KindFile, RelativePath: "a"})
	b, _ := c.GetOrCreate(Object{Checksum: checksum("b"), Kind: ostree.KindFile, RelativePath: "b"})
	d, _ := c.GetOrCreate(Object{Checksum: checksum("d"), Kind: ostree.KindFile, RelativePath: "d"})

	v1, created, err := c.Seal("repo", nil, []ID{a.UnitID(), b.UnitID()}, nil)
	if err != nil || !created {
		t.Fatalf("Seal v1 = (%v, %v)", created, err)
	}
	if v1.Number != 1 {
		t.Fatalf("v1.Number = %d, want 1", v1.Number)
	}

	v2, created, err := c.Seal("repo", v1, []ID{d.UnitID()}, []ID{a.UnitID()})
	if err != nil || !created {
		t.Fatalf("Seal v2 = (%v, %v)", created, err)
	}
	want := sortedIDs(map[ID]struct{}{b.UnitID(): {}, d.UnitID(): {}})
	if diff := cmp.Diff(want, v2.IDs()); diff != "" {
		t.Fatalf("v2 content mismatch (-want +got):\n%s", diff)
	}
	if !v1.Has(a.UnitID()) {
		t.Fatal("sealing must not mutate earlier versions")
	}

	same, created, err := c.Seal("repo", nil, []ID{d.UnitID()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if created || same != v2 {
		t.Fatalf("identical seal created version %d", same.Number)
	}

	if _, _, err := c.Seal("repo", nil, []ID{"missing"}, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Seal with unknown id err = %v, want ErrNotFound", err)
	}
}

func TestSealSupersedesByRepositoryKey(t *testing.T) {
	c := NewCatalog()
	c.EnsureRepository("repo")
	c1, _ := c.GetOrCreate(Commit{Checksum: checksum("1"), RelativePath: "c1"})
	c2, _ := c.GetOrCreate(Commit{Checksum: checksum("2"), RelativePath: "c2"})
	old, _ := c.GetOrCreate(Ref{Name: "main", CommitID: c1.UnitID(), RelativePath: "refs/heads/main"})
	other, _ := c.GetOrCreate(Ref{Name: "devel", CommitID: c1.UnitID(), RelativePath: "refs/heads/devel"})
	cfgA, _ := c.GetOrCreate(Config{RelativePath: "config", Artifact: "d1"})
	cfgB, _ := c.GetOrCreate(Config{RelativePath: "config", Artifact: "d2"})

	if _, _, err := c.Seal("repo", nil, []ID{c1.UnitID(), old.UnitID(), other.UnitID(), cfgA.UnitID()}, nil); err != nil {
		t.Fatal(err)
	}
	moved, _ := c.GetOrCreate(Ref{Name: "main", CommitID: c2.UnitID(), RelativePath: "refs/heads/main"})
	v, _, err := c.Seal("repo", nil, []ID{c2.UnitID(), moved.UnitID(), cfgB.UnitID()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		id   ID
		want bool
	}{
		{old.UnitID(), false},
		{moved.UnitID(), true},
		{other.UnitID(), true},
		{cfgA.UnitID(), false},
		{cfgB.UnitID(), true},
		{c1.UnitID(), true},
	} {
		if got := v.Has(tc.id); got != tc.want {
			t.Errorf("Has(%s) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestDeleteVersion(t *testing.T) {
	c := NewCatalog()
	c.EnsureRepository("repo")
	a, _ := c.GetOrCreate(Object{Checksum: checksum("a"), Kind: ostree.KindFile, RelativePath: "a"})
	b, _ := c.GetOrCreate(Object{Checksum: checksum("b"), Kind: ostree.KindFile, RelativePath: "b"})
	c.Seal("repo", nil, []ID{a.UnitID()}, nil)
	c.Seal("repo", nil, []ID{b.UnitID()}, nil)

	if err := c.DeleteVersion("repo", 0); err == nil {
		t.Fatal("deleting version 0 should fail")
	}
	if err := c.DeleteVersion("repo", 2); err == nil {
		t.Fatal("deleting the latest version should fail")
	}
	if err := c.DeleteVersion("repo", 1); err != nil {
		t.Fatalf("DeleteVersion(1): %v", err)
	}
	vs, _ := c.Versions("repo")
	var nums []int
	for _, v := range vs {
		nums = append(nums, v.Number)
	}
	if diff := cmp.Diff([]int{0, 2}, nums); diff != "" {
		t.Fatalf("versions mismatch (-want +got):\n%s", diff)
	}
	if _, err := c.Version("repo", 1); err == nil {
		t.Fatal("Version(1) should be gone")
	}
}
