package pipeline

import (
	"context"

	"github.com/odvcencio/ostsync/pkg/ostree"
	"github.com/pkg/errors"
)

// Source provides the objects of the repository being imported.
type Source interface {
	// Repo is the working repository objects are read from.
	Repo() *ostree.Repo
	// Ensure makes the object readable through Repo. Objects the source
	// does not have yield ostree.ErrObjectNotFound.
	Ensure(ctx context.Context, c ostree.Checksum, kind ostree.ObjectKind) error
}

// LocalSource is a repository that is already complete on disk, such as an
// extracted tarball.
type LocalSource struct {
	repo *ostree.Repo
}

// NewLocalSource wraps repo.
func NewLocalSource(repo *ostree.Repo) *LocalSource {
	return &LocalSource{repo: repo}
}

func (s *LocalSource) Repo() *ostree.Repo { return s.repo }

func (s *LocalSource) Ensure(ctx context.Context, c ostree.Checksum, kind ostree.ObjectKind) error {
	if s.repo.HasObject(c, kind) {
		return nil
	}
	return errors.Wrapf(ostree.ErrObjectNotFound, "%s %s", kind, c)
}
