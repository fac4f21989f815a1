package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/go-cmp/cmp"
	"github.com/odvcencio/ostsync/pkg/ostree"
	"github.com/odvcencio/ostsync/pkg/ostree/ostreetest"
	"github.com/pkg/errors"
)

// serveRepo serves the files of fs, compressing with zstd when asked.
func serveRepo(t *testing.T, fs billy.Filesystem, zstd bool) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := util.ReadFile(fs, strings.TrimPrefix(r.URL.Path, "/"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if zstd && strings.Contains(r.Header.Get("Accept-Encoding"), "zstd") {
			enc, err := compressZstd(data)
			if err != nil {
				t.Errorf("compress: %v", err)
			}
			w.Header().Set("Content-Encoding", "zstd")
			data = enc
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClientWithOptions(url, ClientOptions{Timeout: 5 * time.Second, MaxAttempts: 2, Backoff: time.Millisecond})
	if err != nil {
		t.Fatalf("NewClientWithOptions: %v", err)
	}
	return c
}

func TestNewClientValidatesURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://example.com/repo/", want: "https://example.com/repo"},
		{in: "http://user:pw@example.com/r?x=1", want: "http://example.com/r"},
		{in: "", wantErr: true},
		{in: "ftp://example.com/repo", wantErr: true},
		{in: "example.com/repo", wantErr: true},
	}
	for _, tc := range tests {
		c, err := NewClient(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NewClient(%q) succeeded, want error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("NewClient(%q): %v", tc.in, err)
			continue
		}
		if c.URL() != tc.want {
			t.Errorf("URL() = %q, want %q", c.URL(), tc.want)
		}
	}
}

func TestFetchClassifiesErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/config":
			_, _ = w.Write([]byte("[core]\n"))
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()
	c := newTestClient(t, ts.URL)
	ctx := context.Background()

	data, err := c.Fetch(ctx, "config")
	if err != nil || string(data) != "[core]\n" {
		t.Fatalf("Fetch(config) = (%q, %v)", data, err)
	}
	if _, err := c.Fetch(ctx, "missing"); !errors.Is(err, ostree.ErrObjectNotFound) {
		t.Fatalf("Fetch(missing) err = %v, want ErrObjectNotFound", err)
	}
	_, err = c.Fetch(ctx, "broken")
	if !errors.Is(err, ostree.ErrObjectUnavailable) || errors.Is(err, ostree.ErrObjectNotFound) {
		t.Fatalf("Fetch(broken) err = %v, want ErrObjectUnavailable only", err)
	}
}

func TestListRefsFromSummary(t *testing.T) {
	b := ostreetest.NewBuilder(t)
	head := b.Commit("", "one", map[string]string{"a": "1"})
	b.Ref("stable", head)
	b.Ref("devel/x86_64", head)
	b.Summary()
	ts := serveRepo(t, b.Repo.FS(), true)

	refs, err := newTestClient(t, ts.URL).ListRefs(context.Background())
	if err != nil {
		t.Fatalf("ListRefs: %v", err)
	}
	want := map[string]ostree.Checksum{"stable": head, "devel/x86_64": head}
	if diff := cmp.Diff(want, refs); diff != "" {
		t.Fatalf("refs mismatch (-want +got):\n%s", diff)
	}
}

func TestListRefsFallsBackToRefFiles(t *testing.T) {
	b := ostreetest.NewBuilder(t)
	head := b.Commit("", "one", map[string]string{"a": "1"})
	b.Ref("stable", head)
	ts := serveRepo(t, b.Repo.FS(), false)

	refs, err := newTestClient(t, ts.URL).ListRefs(context.Background(), "stable", "absent", "glob/*")
	if err != nil {
		t.Fatalf("ListRefs: %v", err)
	}
	if diff := cmp.Diff(map[string]ostree.Checksum{"stable": head}, refs); diff != "" {
		t.Fatalf("refs mismatch (-want +got):\n%s", diff)
	}
}

func TestPullerEnsure(t *testing.T) {
	b := ostreetest.NewBuilder(t)
	head := b.Commit("", "one", map[string]string{"dir/a": "1"})
	ts := serveRepo(t, b.Repo.FS(), true)

	work, err := ostree.Create(memfs.New(), ostree.ModeArchive)
	if err != nil {
		t.Fatal(err)
	}
	p := NewPuller(newTestClient(t, ts.URL), work)
	ctx := context.Background()
	if err := p.Ensure(ctx, head, ostree.KindCommit); err != nil {
		t.Fatalf("Ensure(commit): %v", err)
	}
	commit, err := work.LoadCommit(head)
	if err != nil {
		t.Fatalf("LoadCommit after pull: %v", err)
	}
	if commit.Subject != "one" {
		t.Fatalf("Subject = %q, want %q", commit.Subject, "one")
	}
	if err := p.Ensure(ctx, head, ostree.KindCommitMeta); !errors.Is(err, ostree.ErrObjectNotFound) {
		t.Fatalf("Ensure(commitmeta) err = %v, want ErrObjectNotFound", err)
	}
	if _, err := p.FetchFile(ctx, "config"); err != nil {
		t.Fatalf("FetchFile(config): %v", err)
	}
	if _, err := p.FetchFile(ctx, "summary"); !errors.Is(err, ostree.ErrObjectNotFound) {
		t.Fatalf("FetchFile(summary) err = %v, want ErrObjectNotFound", err)
	}
}

func TestPullerRejectsCorruptMetadata(t *testing.T) {
	b := ostreetest.NewBuilder(t)
	head := b.Commit("", "one", map[string]string{"a": "1"})
	p, _ := ostree.LooseObjectPath(head, ostree.KindCommit)
	if err := b.Repo.WriteFile(p, []byte("tampered")); err != nil {
		t.Fatal(err)
	}
	ts := serveRepo(t, b.Repo.FS(), false)

	work, _ := ostree.Create(memfs.New(), ostree.ModeArchive)
	err := NewPuller(newTestClient(t, ts.URL), work).Ensure(context.Background(), head, ostree.KindCommit)
	if !errors.Is(err, ostree.ErrObjectUnavailable) {
		t.Fatalf("Ensure err = %v, want ErrObjectUnavailable", err)
	}
	if work.HasObject(head, ostree.KindCommit) {
		t.Fatal("corrupt object was written to the working repo")
	}
}
