package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/odvcencio/ostsync/pkg/config"
	"github.com/odvcencio/ostsync/pkg/ostree/ostreetest"
	"github.com/odvcencio/ostsync/pkg/tarball"
	"gopkg.in/yaml.v3"
)

func execute(args ...string) (string, string, error) {
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func runCommand(t *testing.T, args ...string) string {
	t.Helper()

	out, stderr, err := execute(args...)
	if err != nil {
		t.Fatalf("ostsync %s: %v\nstderr:\n%s", strings.Join(args, " "), err, stderr)
	}
	return out
}

func writeTarball(t *testing.T, b *ostreetest.Builder) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "repo.tar.zst")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := tarball.Write(f, b.Repo.FS(), "", tarball.Zstd); err != nil {
		t.Fatalf("tarball.Write: %v", err)
	}
	return path
}

func TestUploadPublishModify(t *testing.T) {
	b := ostreetest.NewBuilder(t)
	chain := b.Chain("", 2, map[string]string{"usr/bin/sh": "sh"})
	b.Ref("os/stable", chain[1])
	b.Summary()
	archive := writeTarball(t, b)
	root := t.TempDir()

	out := runCommand(t, "--root", root, "upload", "fedora", archive)
	if !strings.Contains(out, "fedora version 1") {
		t.Fatalf("upload output = %q", out)
	}

	var report versionReport
	if err := yaml.Unmarshal([]byte(runCommand(t, "--root", root, "show", "fedora")), &report); err != nil {
		t.Fatalf("parse show output: %v", err)
	}
	if got := report.Refs["os/stable"]; got != string(chain[1]) {
		t.Fatalf("os/stable = %q, want %s", got, chain[1])
	}
	if report.Counts["commit"] != 2 {
		t.Fatalf("commit count = %d, want 2", report.Counts["commit"])
	}

	pub := filepath.Join(t.TempDir(), "pub")
	out = runCommand(t, "--root", root, "publish", "fedora", pub, "--version", "1")
	if !strings.Contains(out, "published fedora version 1") {
		t.Fatalf("publish output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(pub, "refs", "heads", "os", "stable")); err != nil {
		t.Fatalf("published ref missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(pub, "summary")); err != nil {
		t.Fatalf("published summary missing: %v", err)
	}

	out = runCommand(t, "--root", root, "modify", "fedora", "--remove", "*")
	if !strings.Contains(out, "fedora version 2 (0 units)") {
		t.Fatalf("modify output = %q", out)
	}

	runCommand(t, "--root", root, "versions", "fedora", "--delete", "1")
	out = runCommand(t, "--root", root, "versions", "fedora")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("versions output has %d lines, want header plus 0 and 2:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[1], "0 ") || !strings.HasPrefix(lines[2], "2 ") {
		t.Fatalf("unexpected versions listing:\n%s", out)
	}
}

func TestPublishTarball(t *testing.T) {
	b := ostreetest.NewBuilder(t)
	c := b.Commit("", "base", map[string]string{"etc/os-release": "fedora"})
	b.Ref("main", c)
	archive := writeTarball(t, b)
	root := t.TempDir()

	runCommand(t, "--root", root, "upload", "repo", archive)
	dst := filepath.Join(t.TempDir(), "out.tar.gz")
	runCommand(t, "--root", root, "publish", "repo", dst, "--tar", "--compress", "gzip")

	// The tarball must be importable again.
	out := runCommand(t, "--root", t.TempDir(), "upload", "copy", dst)
	if !strings.Contains(out, "copy version 1") {
		t.Fatalf("re-upload output = %q", out)
	}
}

func TestResolveRemote(t *testing.T) {
	cfg, err := config.Parse(`
[[remote]]
name = "fedora"
url = "https://ostree.example.org/repo"
depth = 3
`)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		input   string
		wantURL string
		wantErr bool
	}{
		{name: "configured", input: "fedora", wantURL: "https://ostree.example.org/repo"},
		{name: "url", input: "http://localhost:8080/repo", wantURL: "http://localhost:8080/repo"},
		{name: "unknown", input: "centos", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, err := resolveRemote(cfg, tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveRemote(%q): %v", tc.input, err)
			}
			if r.URL != tc.wantURL {
				t.Fatalf("URL = %q, want %q", r.URL, tc.wantURL)
			}
		})
	}
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]tarball.Compression{"": tarball.None, "none": tarball.None, "gzip": tarball.Gzip, "zstd": tarball.Zstd} {
		got, err := parseCompression(in)
		if err != nil || got != want {
			t.Fatalf("parseCompression(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := parseCompression("bzip2"); err == nil {
		t.Fatal("expected error for bzip2")
	}
}

func TestConcurrentInvocationsKeepEveryVersion(t *testing.T) {
	const n = 4
	archives := make([]string, n)
	for i := range archives {
		b := ostreetest.NewBuilder(t)
		b.Ref(fmt.Sprintf("os/branch%d", i), b.Commit("", fmt.Sprintf("branch %d", i), map[string]string{"etc/os-release": "fedora"}))
		archives[i] = writeTarball(t, b)
	}
	root := t.TempDir()

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, archive := range archives {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, stderr, err := execute("--root", root, "upload", "fedora", archive)
			if err != nil {
				errs[i] = fmt.Errorf("%v\nstderr:\n%s", err, stderr)
			}
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("upload %d: %v", i, err)
		}
	}

	lines := strings.Split(strings.TrimSpace(runCommand(t, "--root", root, "versions", "fedora")), "\n")
	if len(lines) != n+2 {
		t.Fatalf("versions listing has %d lines, want header plus versions 0..%d:\n%s", len(lines), n, strings.Join(lines, "\n"))
	}
	var report versionReport
	if err := yaml.Unmarshal([]byte(runCommand(t, "--root", root, "show", "fedora")), &report); err != nil {
		t.Fatalf("parse show output: %v", err)
	}
	if report.Version != n {
		t.Fatalf("latest version = %d, want %d", report.Version, n)
	}
	for i := 0; i < n; i++ {
		if _, ok := report.Refs[fmt.Sprintf("os/branch%d", i)]; !ok {
			t.Errorf("latest version lost os/branch%d: %v", i, report.Refs)
		}
	}
}

func TestLockStoreWaitsForHolder(t *testing.T) {
	root := t.TempDir()
	log := newLogger(io.Discard, false, "text")
	unlock, err := lockStore(context.Background(), root, log)
	if err != nil {
		t.Fatalf("lockStore: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := lockStore(ctx, root, log); err == nil {
		t.Fatal("second lockStore succeeded while the store was held")
	}

	unlock()
	again, err := lockStore(context.Background(), root, log)
	if err != nil {
		t.Fatalf("lockStore after release: %v", err)
	}
	again()
}
