// Package artifact stores the immutable bytes backing content records,
// addressed by CIDv1 digests.
package artifact

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"io/fs"
	"path"
	"sync"

	"github.com/go-git/go-billy/v5"
	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
	"github.com/odvcencio/ostsync/pkg/content"
	"github.com/pkg/errors"
)

// ErrNotFound indicates the requested artifact is not stored.
var ErrNotFound = errors.New("artifact not found")

// Store is a content-addressed blob store.
type Store interface {
	// Has reports whether an artifact with the digest is stored.
	Has(ctx context.Context, d content.Digest) (bool, error)
	// Put stores data and returns its digest. existed reports whether the
	// artifact was already present, in which case nothing is written.
	Put(ctx context.Context, data []byte) (d content.Digest, existed bool, err error)
	// Open returns a reader for the artifact.
	Open(ctx context.Context, d content.Digest) (io.ReadCloser, error)
}

// Compute returns the digest of data: a CIDv1 (raw codec, SHA2-256)
// encoded as base32.
func Compute(data []byte) (content.Digest, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", errors.Wrap(err, "multihash")
	}
	return encode(gocid.NewCidV1(gocid.Raw, mh)), nil
}

func encode(c gocid.Cid) content.Digest {
	s, _ := multibase.Encode(multibase.Base32, c.Bytes())
	return content.Digest(s)
}

// Parse validates a digest string.
func Parse(d content.Digest) (gocid.Cid, error) {
	_, raw, err := multibase.Decode(string(d))
	if err != nil {
		return gocid.Undef, errors.Wrapf(err, "digest %q", d)
	}
	c, err := gocid.Cast(raw)
	if err != nil {
		return gocid.Undef, errors.Wrapf(err, "digest %q", d)
	}
	if encode(c) != d {
		return gocid.Undef, errors.Errorf("digest %q is not canonical", d)
	}
	return c, nil
}

// ReadAll returns the bytes of an artifact.
func ReadAll(ctx context.Context, s Store, d content.Digest) ([]byte, error) {
	r, err := s.Open(ctx, d)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read artifact %s", d)
	}
	return data, nil
}

// FSStore keeps artifacts in a billy filesystem, fanned out by the last two
// characters of the digest. Probes share a read lock, writes take the
// exclusive lock.
type FSStore struct {
	fs billy.Filesystem
	mu sync.RWMutex
}

// NewFSStore returns a store rooted at fs.
func NewFSStore(fs billy.Filesystem) *FSStore {
	return &FSStore{fs: fs}
}

func (s *FSStore) path(d content.Digest) (string, error) {
	if _, err := Parse(d); err != nil {
		return "", err
	}
	name := string(d)
	return path.Join(name[len(name)-2:], name), nil
}

func (s *FSStore) Has(ctx context.Context, d content.Digest) (bool, error) {
	p, err := s.path(d)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err = s.fs.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, errors.Wrapf(err, "stat artifact %s", d)
	}
}

func (s *FSStore) Put(ctx context.Context, data []byte) (content.Digest, bool, error) {
	d, err := Compute(data)
	if err != nil {
		return "", false, err
	}
	if ok, err := s.Has(ctx, d); err != nil || ok {
		return d, ok, err
	}
	p, _ := s.path(d)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.fs.Stat(p); err == nil {
		return d, true, nil
	}
	dir := path.Dir(p)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", false, errors.Wrapf(err, "put artifact %s: mkdir", d)
	}
	tmp, err := s.fs.TempFile(dir, ".tmp-")
	if err != nil {
		return "", false, errors.Wrapf(err, "put artifact %s: tmpfile", d)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return "", false, errors.Wrapf(err, "put artifact %s", d)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return "", false, errors.Wrapf(err, "put artifact %s: close", d)
	}
	if err := s.fs.Rename(tmpName, p); err != nil {
		s.fs.Remove(tmpName)
		return "", false, errors.Wrapf(err, "put artifact %s: rename", d)
	}
	return d, false, nil
}

func (s *FSStore) Open(ctx context.Context, d content.Digest) (io.ReadCloser, error) {
	p, err := s.path(d)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, err := s.fs.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = stderrors.Join(err, ErrNotFound)
		}
		return nil, errors.Wrapf(err, "open artifact %s", d)
	}
	return f, nil
}

var _ Store = &FSStore{}
