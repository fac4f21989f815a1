package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/odvcencio/ostsync/pkg/ostree"
	"github.com/pkg/errors"
)

// Puller reads objects through a working repository, fetching the ones
// that are not present locally from the remote and writing them into it.
type Puller struct {
	client *Client
	repo   *ostree.Repo
}

// NewPuller returns a Puller that fills repo from c.
func NewPuller(c *Client, repo *ostree.Repo) *Puller {
	return &Puller{client: c, repo: repo}
}

// Repo returns the working repository.
func (p *Puller) Repo() *ostree.Repo { return p.repo }

// Ensure makes the object present in the working repository. Objects the
// remote does not have yield ostree.ErrObjectNotFound.
func (p *Puller) Ensure(ctx context.Context, c ostree.Checksum, kind ostree.ObjectKind) error {
	if p.repo.HasObject(c, kind) {
		return nil
	}
	rel, ok := ostree.LooseObjectPath(c, kind)
	if !ok {
		return errors.Errorf("pull %s: unsupported kind %q", c, kind)
	}
	data, err := p.client.Fetch(ctx, rel)
	if err != nil {
		return err
	}
	if err := verifyMetadata(c, kind, data); err != nil {
		return err
	}
	return p.repo.WriteObject(c, kind, data)
}

// verifyMetadata checks content-addressed metadata objects. File objects
// are checksummed over their uncompressed form and are not verified here.
func verifyMetadata(c ostree.Checksum, kind ostree.ObjectKind, data []byte) error {
	switch kind {
	case ostree.KindCommit, ostree.KindDirTree, ostree.KindDirMeta:
	default:
		return nil
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != string(c) {
		return errors.Wrapf(ostree.ErrObjectUnavailable, "pull %s %s: checksum mismatch (got %s)", kind, c, got)
	}
	return nil
}

// FetchFile fetches a repository-level file such as config or summary
// without writing it into the working repository, whose own config carries
// the remote definition. Absent files yield ostree.ErrObjectNotFound.
func (p *Puller) FetchFile(ctx context.Context, rel string) ([]byte, error) {
	return p.client.Fetch(ctx, rel)
}
