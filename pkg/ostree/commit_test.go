package ostree

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sum(ch string) Checksum {
	return Checksum(strings.Repeat(ch, 64))
}

func TestCommitRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		commit Commit
	}{
		{
			name: "root commit",
			commit: Commit{
				Metadata:  map[string]string{},
				Subject:   "initial",
				Timestamp: 1700000000,
				RootTree:  sum("a"),
				RootMeta:  sum("b"),
			},
		},
		{
			name: "child with metadata",
			commit: Commit{
				Metadata:  map[string]string{"version": "38.1", "ostree.ref-binding": "fedora/x86_64"},
				Parent:    sum("c"),
				Subject:   "update",
				Body:      strings.Repeat("long body ", 40),
				Timestamp: 1 << 40,
				RootTree:  sum("d"),
				RootMeta:  sum("e"),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UnmarshalCommit(MarshalCommit(&tt.commit))
			if err != nil {
				t.Fatalf("UnmarshalCommit: %v", err)
			}
			if diff := cmp.Diff(&tt.commit, got); diff != "" {
				t.Errorf("commit mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDirTreeRoundTrip(t *testing.T) {
	tree := &DirTree{
		Files: []FileEntry{{Name: "a.txt", Checksum: sum("1")}, {Name: "b.bin", Checksum: sum("2")}},
		Dirs:  []DirEntry{{Name: "usr", Tree: sum("3"), Meta: sum("4")}},
	}
	got, err := UnmarshalDirTree(MarshalDirTree(tree))
	if err != nil {
		t.Fatalf("UnmarshalDirTree: %v", err)
	}
	if diff := cmp.Diff(tree, got); diff != "" {
		t.Errorf("dirtree mismatch (-want +got):\n%s", diff)
	}
}

func TestDirTreeLargeUsesWideOffsets(t *testing.T) {
	tree := &DirTree{}
	for i := 0; i < 400; i++ {
		tree.Files = append(tree.Files, FileEntry{Name: strings.Repeat("f", 1+i%7) + string(rune('a'+i%26)) + strings.Repeat("x", i%3), Checksum: sum("5")})
	}
	data := MarshalDirTree(tree)
	if len(data) <= 0xff {
		t.Fatalf("fixture too small: %d bytes", len(data))
	}
	got, err := UnmarshalDirTree(data)
	if err != nil {
		t.Fatalf("UnmarshalDirTree: %v", err)
	}
	if len(got.Files) != len(tree.Files) {
		t.Fatalf("files = %d, want %d", len(got.Files), len(tree.Files))
	}
}

func TestSummaryRoundTrip(t *testing.T) {
	s := &Summary{
		Refs: []SummaryRef{
			{Name: "fedora/stable", Size: 812, Checksum: sum("7")},
			{Name: "main", Size: 3, Checksum: sum("8")},
		},
		Metadata: map[string]string{"ostree.summary.mode": "archive-z2"},
	}
	got, err := UnmarshalSummary(MarshalSummary(s))
	if err != nil {
		t.Fatalf("UnmarshalSummary: %v", err)
	}
	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshalCommitRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("x"), []byte(strings.Repeat("\xff", 40))} {
		if _, err := UnmarshalCommit(data); err == nil {
			t.Errorf("UnmarshalCommit(%q) = nil error", data)
		}
	}
}
