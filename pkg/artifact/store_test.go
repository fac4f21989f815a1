package artifact

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/odvcencio/ostsync/pkg/content"
	"github.com/pkg/errors"
)

func TestComputeIsStable(t *testing.T) {
	a, err := Compute([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Compute([]byte("hello"))
	c, _ := Compute([]byte("world"))
	if a != b {
		t.Fatalf("Compute not deterministic: %s != %s", a, b)
	}
	if a == c {
		t.Fatal("different data produced the same digest")
	}
	if !strings.HasPrefix(string(a), "bafkrei") {
		t.Fatalf("digest %s is not a base32 CIDv1 raw sha2-256", a)
	}
	if _, err := Parse(a); err != nil {
		t.Fatalf("Parse(%s): %v", a, err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, d := range []content.Digest{"", "../../etc/passwd", "bnotacid", "zQm"} {
		if _, err := Parse(d); err == nil {
			t.Errorf("Parse(%q) succeeded", d)
		}
	}
}

func TestFSStorePutDedups(t *testing.T) {
	ctx := context.Background()
	s := NewFSStore(memfs.New())

	d, existed, err := s.Put(ctx, []byte("payload"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if existed {
		t.Fatal("first Put reported existing artifact")
	}
	again, existed, err := s.Put(ctx, []byte("payload"))
	if err != nil || !existed || again != d {
		t.Fatalf("second Put = (%s, %v, %v), want (%s, true, nil)", again, existed, err, d)
	}
	ok, err := s.Has(ctx, d)
	if err != nil || !ok {
		t.Fatalf("Has = (%v, %v), want true", ok, err)
	}
	data, err := ReadAll(ctx, s, d)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Fatalf("ReadAll = %q, want %q", data, "payload")
	}
}

func TestFSStoreMissing(t *testing.T) {
	ctx := context.Background()
	s := NewFSStore(memfs.New())
	d, _ := Compute([]byte("absent"))
	if ok, err := s.Has(ctx, d); err != nil || ok {
		t.Fatalf("Has = (%v, %v), want false", ok, err)
	}
	if _, err := s.Open(ctx, d); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Open err = %v, want ErrNotFound", err)
	}
}

func TestFSStoreConcurrentPut(t *testing.T) {
	ctx := context.Background()
	s := NewFSStore(memfs.New())
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, existed, err := s.Put(ctx, []byte("shared"))
			if err != nil {
				t.Error(err)
				return
			}
			if !existed {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if created != 1 {
		t.Fatalf("artifact written %d times, want 1", created)
	}
}
