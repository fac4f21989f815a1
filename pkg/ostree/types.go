package ostree

import (
	"encoding/hex"

	"github.com/pkg/errors"
)

// Checksum is a 64-character lowercase hex SHA-256 object checksum.
type Checksum string

// ObjectKind identifies the kind of a loose object in an OSTree repository.
type ObjectKind string

const (
	KindFile            ObjectKind = "file"
	KindDirTree         ObjectKind = "dirtree"
	KindDirMeta         ObjectKind = "dirmeta"
	KindCommit          ObjectKind = "commit"
	KindTombstoneCommit ObjectKind = "tombstone-commit"
	KindCommitMeta      ObjectKind = "commitmeta"
	KindPayloadLink     ObjectKind = "payload-link"
	// KindDeltaPart is a static delta artifact stored under deltas/.
	KindDeltaPart ObjectKind = "delta-part"
)

// ChecksumLen is the length of a hex encoded checksum.
const ChecksumLen = 64

var (
	// ErrObjectNotFound reports an object that is legitimately absent, for
	// example because the ancestry of a partial repository stops here.
	ErrObjectNotFound = errors.New("object not found")
	// ErrObjectUnavailable reports a required object that could not be
	// loaded or fetched.
	ErrObjectUnavailable = errors.New("object unavailable")
	// ErrInvalidChecksum reports a malformed checksum string.
	ErrInvalidChecksum = errors.New("invalid checksum")
)

// ValidateChecksum checks that c is 64 lowercase hex characters.
func ValidateChecksum(c Checksum) error {
	if len(c) != ChecksumLen {
		return errors.Wrapf(ErrInvalidChecksum, "%q: length %d", c, len(c))
	}
	for i := 0; i < len(c); i++ {
		ch := c[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return errors.Wrapf(ErrInvalidChecksum, "%q", c)
		}
	}
	return nil
}

// ChecksumFromBytes hex encodes a binary checksum as found inside GVariant
// records. An empty slice yields the empty checksum.
func ChecksumFromBytes(b []byte) (Checksum, error) {
	if len(b) == 0 {
		return "", nil
	}
	if len(b) != ChecksumLen/2 {
		return "", errors.Wrapf(ErrInvalidChecksum, "binary checksum of %d bytes", len(b))
	}
	return Checksum(hex.EncodeToString(b)), nil
}

// Bytes decodes c into its 32-byte binary form.
func (c Checksum) Bytes() []byte {
	if c == "" {
		return nil
	}
	b, err := hex.DecodeString(string(c))
	if err != nil {
		return nil
	}
	return b
}

// Short returns an abbreviated checksum for log output.
func (c Checksum) Short() string {
	if len(c) <= 12 {
		return string(c)
	}
	return string(c[:12])
}

// ObjectName identifies one loose object.
type ObjectName struct {
	Checksum Checksum
	Kind     ObjectKind
}
