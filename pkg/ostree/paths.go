package ostree

import (
	"path"
	"strings"
)

var objectExt = map[ObjectKind]string{
	KindFile:    "filez",
	KindDirTree: "dirtree",
	KindDirMeta: "dirmeta",
	KindCommit:  "commit",
}

// looseExt additionally covers the kinds that are stored on disk but have
// no canonical content path of their own.
var looseExt = map[ObjectKind]string{
	KindFile:            "filez",
	KindDirTree:         "dirtree",
	KindDirMeta:         "dirmeta",
	KindCommit:          "commit",
	KindTombstoneCommit: "commit-tombstone",
	KindCommitMeta:      "commitmeta",
	KindPayloadLink:     "payload-link",
}

// ObjectPath maps a checksum and kind to the canonical relative storage path
// objects/<c[0:2]>/<c[2:]>.<ext>. It reports false for kinds that are stored
// under their declared relative path instead.
func ObjectPath(c Checksum, kind ObjectKind) (string, bool) {
	ext, ok := objectExt[kind]
	if !ok || len(c) < 3 {
		return "", false
	}
	return "objects/" + string(c[:2]) + "/" + string(c[2:]) + "." + ext, true
}

// LooseObjectPath is ObjectPath extended to every kind a repository keeps
// under objects/.
func LooseObjectPath(c Checksum, kind ObjectKind) (string, bool) {
	ext, ok := looseExt[kind]
	if !ok || len(c) < 3 {
		return "", false
	}
	return "objects/" + string(c[:2]) + "/" + string(c[2:]) + "." + ext, true
}

// ParseObjectPath is the inverse of LooseObjectPath.
func ParseObjectPath(p string) (ObjectName, bool) {
	p = path.Clean(strings.TrimPrefix(p, "./"))
	dir, file := path.Split(p)
	prefix := strings.TrimSuffix(strings.TrimPrefix(dir, "objects/"), "/")
	if !strings.HasPrefix(dir, "objects/") || len(prefix) != 2 {
		return ObjectName{}, false
	}
	rest, ext, ok := strings.Cut(file, ".")
	if !ok {
		return ObjectName{}, false
	}
	c := Checksum(prefix + rest)
	if ValidateChecksum(c) != nil {
		return ObjectName{}, false
	}
	for kind, e := range looseExt {
		if e == ext {
			return ObjectName{Checksum: c, Kind: kind}, true
		}
	}
	return ObjectName{}, false
}

// RefPath returns the relative path of a branch ref file.
func RefPath(name string) string {
	return "refs/heads/" + strings.TrimPrefix(name, "/")
}

// DeltaDir returns the directory holding the static delta from one commit to
// another. An empty from denotes a delta against nothing.
func DeltaDir(from, to Checksum) string {
	if from == "" {
		return "deltas/" + string(to[:2]) + "/" + string(to[2:])
	}
	return "deltas/" + string(from[:2]) + "/" + string(from[2:]) + "-" + string(to)
}
