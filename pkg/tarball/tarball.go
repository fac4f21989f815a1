// Package tarball unpacks and packs OSTree repository tarballs. Plain, gzip
// and zstd compressed archives are told apart by their magic bytes.
package tarball

import (
	"archive/tar"
	"bufio"
	"bytes"
	stderrors "errors"
	"io"
	"os"
	"path"
	"slices"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// ErrMalformed reports an archive that cannot be read or does not contain a
// repository layout.
var ErrMalformed = errors.New("malformed repository tarball")

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Compression selects the codec used by Write.
type Compression int

const (
	None Compression = iota
	Gzip
	Zstd
)

func decompress(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(4)
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, errors.Wrapf(stderrors.Join(err, ErrMalformed), "gzip")
		}
		return gr, func() { gr.Close() }, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, errors.Wrapf(stderrors.Join(err, ErrMalformed), "zstd")
		}
		return zr, zr.Close, nil
	default:
		return br, func() {}, nil
	}
}

// Extract unpacks the archive into fs. Entries escaping the destination and
// links are skipped.
func Extract(r io.Reader, fs billy.Filesystem) error {
	dr, done, err := decompress(r)
	if err != nil {
		return err
	}
	defer done()
	tr := tar.NewReader(dr)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(stderrors.Join(err, ErrMalformed), "read tar")
		}
		name := path.Clean(strings.TrimPrefix(h.Name, "/"))
		if name == "." || slices.Contains(strings.Split(name, "/"), "..") {
			continue
		}
		switch h.Typeflag {
		case tar.TypeDir:
			if err := fs.MkdirAll(name, 0o755); err != nil {
				return errors.Wrapf(err, "extract %s", name)
			}
		case tar.TypeReg:
			if err := extractFile(fs, name, tr, h.Size); err != nil {
				return err
			}
		}
	}
}

func extractFile(fs billy.Filesystem, name string, r io.Reader, size int64) error {
	if err := fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return errors.Wrapf(err, "extract %s", name)
	}
	f, err := fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "extract %s", name)
	}
	if _, err := io.CopyN(f, r, size); err != nil {
		f.Close()
		return errors.Wrapf(stderrors.Join(err, ErrMalformed), "extract %s", name)
	}
	return errors.Wrapf(f.Close(), "extract %s", name)
}

// Locate finds the repository root inside an extracted archive: the archive
// root itself, a top-level directory called name, or its only top-level
// directory.
func Locate(fs billy.Filesystem, name string) (billy.Filesystem, error) {
	if isRepoRoot(fs, ".") {
		return fs, nil
	}
	if name != "" && isRepoRoot(fs, name) {
		return chroot(fs, name)
	}
	entries, err := fs.ReadDir(".")
	if err != nil {
		return nil, errors.Wrap(err, "locate repository")
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 1 && isRepoRoot(fs, dirs[0]) {
		return chroot(fs, dirs[0])
	}
	return nil, errors.Wrap(ErrMalformed, "no refs/ or objects/ directory found")
}

func isRepoRoot(fs billy.Filesystem, dir string) bool {
	for _, sub := range []string{"objects", "refs"} {
		if info, err := fs.Stat(path.Join(dir, sub)); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

func chroot(fs billy.Filesystem, dir string) (billy.Filesystem, error) {
	sub, err := fs.Chroot(dir)
	return sub, errors.Wrapf(err, "chroot %s", dir)
}

// Write packs every regular file of fs into a tar archive under prefix.
func Write(w io.Writer, fs billy.Filesystem, prefix string, c Compression) error {
	files, err := listFiles(fs, "")
	if err != nil {
		return errors.Wrap(err, "walk repository")
	}

	out := w
	var closer io.Closer
	switch c {
	case Gzip:
		gw := gzip.NewWriter(w)
		out, closer = gw, gw
	case Zstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		out, closer = zw, zw
	}
	tw := tar.NewWriter(out)
	for _, p := range files {
		data, err := util.ReadFile(fs, p)
		if err != nil {
			return errors.Wrapf(err, "read %s", p)
		}
		h := &tar.Header{Name: path.Join(prefix, p), Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(h); err != nil {
			return errors.Wrapf(err, "write %s", p)
		}
		if _, err := tw.Write(data); err != nil {
			return errors.Wrapf(err, "write %s", p)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if closer != nil {
		return closer.Close()
	}
	return nil
}

// listFiles returns the regular files below dir in lexical order.
func listFiles(fs billy.Filesystem, dir string) ([]string, error) {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	var out []string
	for _, e := range entries {
		p := path.Join(dir, e.Name())
		switch {
		case e.IsDir():
			sub, err := listFiles(fs, p)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		case e.Mode().IsRegular():
			out = append(out, p)
		}
	}
	return out, nil
}
