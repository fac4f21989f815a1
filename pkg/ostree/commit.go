package ostree

import (
	"sort"

	"github.com/pkg/errors"
)

// Commit is the decoded form of a .commit object,
// GVariant type (a{sv}aya(say)sstayay).
type Commit struct {
	Metadata  map[string]string // string-valued entries only
	Parent    Checksum
	Subject   string
	Body      string
	Timestamp uint64
	RootTree  Checksum
	RootMeta  Checksum
}

var commitFields = []field{fieldVardict, fieldBytes, {align: 1}, fieldString, fieldString, fieldUint64, fieldBytes, fieldBytes}

// UnmarshalCommit decodes a serialized commit object.
func UnmarshalCommit(data []byte) (*Commit, error) {
	parts, err := splitTuple(data, commitFields)
	if err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	meta, err := parseVardict(parts[0])
	if err != nil {
		return nil, errors.Wrap(err, "commit metadata")
	}
	c := &Commit{Metadata: meta, Timestamp: parseUint64BE(parts[5])}
	if c.Parent, err = ChecksumFromBytes(parts[1]); err != nil {
		return nil, errors.Wrap(err, "commit parent")
	}
	if c.Subject, err = parseString(parts[3]); err != nil {
		return nil, errors.Wrap(err, "commit subject")
	}
	if c.Body, err = parseString(parts[4]); err != nil {
		return nil, errors.Wrap(err, "commit body")
	}
	if c.RootTree, err = ChecksumFromBytes(parts[6]); err != nil {
		return nil, errors.Wrap(err, "commit root tree")
	}
	if c.RootMeta, err = ChecksumFromBytes(parts[7]); err != nil {
		return nil, errors.Wrap(err, "commit root meta")
	}
	if c.RootTree == "" || c.RootMeta == "" {
		return nil, errors.Wrap(errMalformed, "commit without root tree")
	}
	return c, nil
}

// MarshalCommit serializes c. Related objects are always written empty.
func MarshalCommit(c *Commit) []byte {
	return encodeTuple([]member{
		{align: 8, data: encodeVardict(c.Metadata)},
		{align: 1, data: c.Parent.Bytes()},
		{align: 1, data: nil},
		{align: 1, data: encodeString(c.Subject)},
		{align: 1, data: encodeString(c.Body)},
		{align: 8, fixed: true, data: encodeUint64BE(c.Timestamp)},
		{align: 1, data: c.RootTree.Bytes()},
		{align: 1, data: c.RootMeta.Bytes()},
	})
}

// FileEntry is one regular file of a dirtree.
type FileEntry struct {
	Name     string
	Checksum Checksum
}

// DirEntry is one subdirectory of a dirtree.
type DirEntry struct {
	Name string
	Tree Checksum
	Meta Checksum
}

// DirTree is the decoded form of a .dirtree object,
// GVariant type (a(say)a(sayay)).
type DirTree struct {
	Files []FileEntry
	Dirs  []DirEntry
}

// UnmarshalDirTree decodes a serialized dirtree object.
func UnmarshalDirTree(data []byte) (*DirTree, error) {
	parts, err := splitTuple(data, []field{{align: 1}, {align: 1}})
	if err != nil {
		return nil, errors.Wrap(err, "dirtree")
	}
	files, err := splitArray(parts[0], 1)
	if err != nil {
		return nil, errors.Wrap(err, "dirtree files")
	}
	dirs, err := splitArray(parts[1], 1)
	if err != nil {
		return nil, errors.Wrap(err, "dirtree dirs")
	}
	t := &DirTree{
		Files: make([]FileEntry, 0, len(files)),
		Dirs:  make([]DirEntry, 0, len(dirs)),
	}
	for _, f := range files {
		fp, err := splitTuple(f, []field{fieldString, fieldBytes})
		if err != nil {
			return nil, errors.Wrap(err, "dirtree file entry")
		}
		name, err := parseString(fp[0])
		if err != nil {
			return nil, err
		}
		sum, err := ChecksumFromBytes(fp[1])
		if err != nil {
			return nil, errors.Wrapf(err, "dirtree file %q", name)
		}
		t.Files = append(t.Files, FileEntry{Name: name, Checksum: sum})
	}
	for _, d := range dirs {
		dp, err := splitTuple(d, []field{fieldString, fieldBytes, fieldBytes})
		if err != nil {
			return nil, errors.Wrap(err, "dirtree dir entry")
		}
		name, err := parseString(dp[0])
		if err != nil {
			return nil, err
		}
		tree, err := ChecksumFromBytes(dp[1])
		if err != nil {
			return nil, errors.Wrapf(err, "dirtree dir %q", name)
		}
		meta, err := ChecksumFromBytes(dp[2])
		if err != nil {
			return nil, errors.Wrapf(err, "dirtree dir %q", name)
		}
		t.Dirs = append(t.Dirs, DirEntry{Name: name, Tree: tree, Meta: meta})
	}
	return t, nil
}

// MarshalDirTree serializes t with entries sorted by name.
func MarshalDirTree(t *DirTree) []byte {
	files := append([]FileEntry(nil), t.Files...)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	dirs := append([]DirEntry(nil), t.Dirs...)
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })

	fileElems := make([][]byte, 0, len(files))
	for _, f := range files {
		fileElems = append(fileElems, encodeTuple([]member{
			{align: 1, data: encodeString(f.Name)},
			{align: 1, data: f.Checksum.Bytes()},
		}))
	}
	dirElems := make([][]byte, 0, len(dirs))
	for _, d := range dirs {
		dirElems = append(dirElems, encodeTuple([]member{
			{align: 1, data: encodeString(d.Name)},
			{align: 1, data: d.Tree.Bytes()},
			{align: 1, data: d.Meta.Bytes()},
		}))
	}
	return encodeTuple([]member{
		{align: 1, data: encodeArray(fileElems, 1)},
		{align: 1, data: encodeArray(dirElems, 1)},
	})
}

// SummaryRef is one ref advertised by a summary file.
type SummaryRef struct {
	Name     string
	Size     uint64
	Checksum Checksum
}

// Summary is the decoded form of a repository summary file,
// GVariant type (a(s(taya{sv}))a{sv}).
type Summary struct {
	Refs     []SummaryRef
	Metadata map[string]string
}

// UnmarshalSummary decodes a summary file.
func UnmarshalSummary(data []byte) (*Summary, error) {
	parts, err := splitTuple(data, []field{{align: 8}, fieldVardict})
	if err != nil {
		return nil, errors.Wrap(err, "summary")
	}
	elems, err := splitArray(parts[0], 8)
	if err != nil {
		return nil, errors.Wrap(err, "summary refs")
	}
	s := &Summary{Refs: make([]SummaryRef, 0, len(elems))}
	for _, e := range elems {
		ep, err := splitTuple(e, []field{fieldString, {align: 8}})
		if err != nil {
			return nil, errors.Wrap(err, "summary ref")
		}
		name, err := parseString(ep[0])
		if err != nil {
			return nil, err
		}
		inner, err := splitTuple(ep[1], []field{fieldUint64, fieldBytes, fieldVardict})
		if err != nil {
			return nil, errors.Wrapf(err, "summary ref %q", name)
		}
		sum, err := ChecksumFromBytes(inner[1])
		if err != nil {
			return nil, errors.Wrapf(err, "summary ref %q", name)
		}
		// Summary integers are little-endian, unlike commit timestamps.
		var size uint64
		for i := 7; i >= 0; i-- {
			size = size<<8 | uint64(inner[0][i])
		}
		s.Refs = append(s.Refs, SummaryRef{Name: name, Size: size, Checksum: sum})
	}
	if s.Metadata, err = parseVardict(parts[1]); err != nil {
		return nil, errors.Wrap(err, "summary metadata")
	}
	return s, nil
}

// MarshalSummary serializes s with refs sorted by name.
func MarshalSummary(s *Summary) []byte {
	refs := append([]SummaryRef(nil), s.Refs...)
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	elems := make([][]byte, 0, len(refs))
	for _, r := range refs {
		size := make([]byte, 8)
		for i := 0; i < 8; i++ {
			size[i] = byte(r.Size >> (8 * i))
		}
		inner := encodeTuple([]member{
			{align: 8, fixed: true, data: size},
			{align: 1, data: r.Checksum.Bytes()},
			{align: 8, data: nil},
		})
		elems = append(elems, encodeTuple([]member{
			{align: 1, data: encodeString(r.Name)},
			{align: 8, data: inner},
		}))
	}
	return encodeTuple([]member{
		{align: 8, data: encodeArray(elems, 8)},
		{align: 8, data: encodeVardict(s.Metadata)},
	})
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
