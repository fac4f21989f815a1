package pipeline

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/odvcencio/ostsync/pkg/content"
	"github.com/odvcencio/ostsync/pkg/ostree"
	"github.com/odvcencio/ostsync/pkg/ostree/ostreetest"
	"github.com/pkg/errors"
)

func walk(t *testing.T, w *Walker, refs ...RefHead) ([]*Declaration, error) {
	t.Helper()
	out := make(chan *Declaration, 1024)
	for _, ref := range refs {
		if err := w.WalkRef(context.Background(), out, ref); err != nil {
			close(out)
			return nil, err
		}
	}
	close(out)
	var got []*Declaration
	for d := range out {
		got = append(got, d)
	}
	return got, nil
}

func TestWalkerOrder(t *testing.T) {
	b := ostreetest.NewBuilder(t)
	chain := b.Chain("", 3, baseFiles)
	w := NewWalker(NewLocalSource(b.Repo), -1, false, nil)

	got, err := walk(t, w, RefHead{Name: "os/stable", Head: chain[2]})
	if err != nil {
		t.Fatalf("WalkRef: %v", err)
	}

	pos := make(map[*Declaration]int, len(got))
	var commits []ostree.Checksum
	refAt := -1
	for i, d := range got {
		pos[d] = i
		switch d.Variant() {
		case content.VariantCommit:
			commits = append(commits, d.Name.Checksum)
		case content.VariantRef:
			refAt = i
		}
	}
	want := []ostree.Checksum{chain[2], chain[1], chain[0]}
	if len(commits) != len(want) {
		t.Fatalf("declared %d commits, want %d", len(commits), len(want))
	}
	for i := range want {
		if commits[i] != want[i] {
			t.Fatalf("commit %d = %s, want head to root order", i, commits[i].Short())
		}
	}
	head := got[refAt].Head
	if head == nil || head.Name.Checksum != chain[2] || pos[head] != refAt-1 {
		t.Fatalf("ref declared at %d, want right after its head commit", refAt)
	}
	for _, d := range got {
		for _, o := range d.Objects {
			if pos[o] > pos[d] {
				t.Fatalf("object %s declared after its commit %s", o.Name.Checksum.Short(), d.Name.Checksum.Short())
			}
		}
	}
}

func TestWalkerDeclaresEachChecksumOnce(t *testing.T) {
	b := ostreetest.NewBuilder(t)
	chain := b.Chain("", 2, baseFiles)
	w := NewWalker(NewLocalSource(b.Repo), -1, false, nil)

	got, err := walk(t, w,
		RefHead{Name: "os/stable", Head: chain[1]},
		RefHead{Name: "os/old", Head: chain[0]},
	)
	if err != nil {
		t.Fatalf("WalkRef: %v", err)
	}
	seen := make(map[ostree.ObjectName]bool)
	refs := 0
	for _, d := range got {
		if d.Variant() == content.VariantRef {
			refs++
			continue
		}
		if seen[d.Name] {
			t.Fatalf("%s %s declared twice", d.Name.Kind, d.Name.Checksum.Short())
		}
		seen[d.Name] = true
	}
	if refs != 2 {
		t.Fatalf("declared %d refs, want 2", refs)
	}
	if len(w.Commits()) != 2 {
		t.Fatalf("walker recorded %d commits, want 2", len(w.Commits()))
	}
}

func TestWalkerMissingParent(t *testing.T) {
	b := ostreetest.NewBuilder(t)
	chain := b.Chain("", 2, baseFiles)
	b.Remove(chain[0], ostree.KindCommit)

	_, err := walk(t, NewWalker(NewLocalSource(b.Repo), -1, false, nil), RefHead{Name: "os/stable", Head: chain[1]})
	if !errors.Is(err, ErrParentUnavailable) {
		t.Fatalf("full walk err = %v, want ErrParentUnavailable", err)
	}

	got, err := walk(t, NewWalker(NewLocalSource(b.Repo), -1, true, nil), RefHead{Name: "os/stable", Head: chain[1]})
	if err != nil {
		t.Fatalf("incremental walk: %v", err)
	}
	for _, d := range got {
		if d.Variant() == content.VariantCommit && d.ExternalParent != chain[0] {
			t.Fatalf("ExternalParent = %q, want %s", d.ExternalParent, chain[0])
		}
	}
}

func TestWalkerDepthPerRef(t *testing.T) {
	b := ostreetest.NewBuilder(t)
	chain := b.Chain("", 3, baseFiles)

	tests := []struct {
		name  string
		depth int
		refs  []RefHead
		want  []ostree.Checksum
	}{
		{
			name:  "shorter ref reaches further",
			depth: 1,
			refs:  []RefHead{{Name: "a", Head: chain[2]}, {Name: "b", Head: chain[1]}},
			want:  []ostree.Checksum{chain[2], chain[1], chain[0]},
		},
		{
			name:  "head only",
			depth: 0,
			refs:  []RefHead{{Name: "a", Head: chain[2]}, {Name: "b", Head: chain[1]}},
			want:  []ostree.Checksum{chain[2], chain[1]},
		},
		{
			name:  "covered by earlier walk",
			depth: -1,
			refs:  []RefHead{{Name: "a", Head: chain[2]}, {Name: "b", Head: chain[1]}},
			want:  []ostree.Checksum{chain[2], chain[1], chain[0]},
		},
		{
			name:  "same head walked deeper",
			depth: 1,
			refs:  []RefHead{{Name: "a", Head: chain[1]}, {Name: "b", Head: chain[2]}},
			want:  []ostree.Checksum{chain[1], chain[0], chain[2]},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := NewWalker(NewLocalSource(b.Repo), tc.depth, false, nil)
			got, err := walk(t, w, tc.refs...)
			if err != nil {
				t.Fatalf("WalkRef: %v", err)
			}
			var commits []ostree.Checksum
			refs := 0
			for _, d := range got {
				switch d.Variant() {
				case content.VariantCommit:
					commits = append(commits, d.Name.Checksum)
				case content.VariantRef:
					refs++
				}
			}
			if diff := cmp.Diff(tc.want, commits); diff != "" {
				t.Fatalf("declared commits mismatch (-want +got):\n%s", diff)
			}
			if refs != len(tc.refs) {
				t.Fatalf("declared %d refs, want %d", refs, len(tc.refs))
			}
		})
	}
}

func TestCovers(t *testing.T) {
	tests := []struct {
		have, want int
		covered    bool
	}{
		{have: -1, want: -1, covered: true},
		{have: -1, want: 5, covered: true},
		{have: 3, want: -1, covered: false},
		{have: 0, want: 1, covered: false},
		{have: 2, want: 1, covered: true},
		{have: 1, want: 1, covered: true},
	}
	for _, tc := range tests {
		if got := covers(tc.have, tc.want); got != tc.covered {
			t.Errorf("covers(%d, %d) = %v, want %v", tc.have, tc.want, got, tc.covered)
		}
	}
}
