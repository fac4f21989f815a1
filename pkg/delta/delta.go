// Package delta generates static deltas between two adjacent commits.
package delta

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path"

	"github.com/klauspost/compress/zstd"
	"github.com/odvcencio/ostsync/pkg/ostree"
	"github.com/pkg/errors"
)

// SuperblockName is the file describing a delta's parts.
const SuperblockName = "superblock"

// Part is one file of a generated delta.
type Part struct {
	RelativePath string
	Data         []byte
}

// Generator produces the files of a static delta from one commit to its
// child. Both commits and everything they reach must be in repo.
type Generator interface {
	Generate(ctx context.Context, repo *ostree.Repo, from, to ostree.Checksum) ([]Part, error)
}

// Superblock describes a delta.
type Superblock struct {
	From  ostree.Checksum `json:"from"`
	To    ostree.Checksum `json:"to"`
	Parts []PartInfo      `json:"parts"`
}

// PartInfo describes one compressed part.
type PartInfo struct {
	Name             string `json:"name"`
	Objects          int    `json:"objects"`
	Size             int64  `json:"size"`
	UncompressedSize int64  `json:"uncompressed_size"`
	SHA256           string `json:"sha256"`
}

// ZstdGenerator writes every object reachable from the new commit and not
// from the old one into a single zstd compressed tar part.
type ZstdGenerator struct {
	Level zstd.EncoderLevel
}

func (g ZstdGenerator) Generate(ctx context.Context, repo *ostree.Repo, from, to ostree.Checksum) ([]Part, error) {
	old, err := repo.Reachable(from)
	if err != nil {
		return nil, errors.Wrapf(err, "delta %s-%s", from.Short(), to.Short())
	}
	have := make(map[ostree.ObjectName]struct{}, len(old))
	for _, o := range old {
		have[o] = struct{}{}
	}
	want, err := repo.Reachable(to)
	if err != nil {
		return nil, errors.Wrapf(err, "delta %s-%s", from.Short(), to.Short())
	}

	var raw bytes.Buffer
	tw := tar.NewWriter(&raw)
	n := 0
	for _, o := range want {
		if _, ok := have[o]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, ok := ostree.LooseObjectPath(o.Checksum, o.Kind)
		if !ok {
			continue
		}
		data, err := repo.ReadObject(o.Checksum, o.Kind)
		if err != nil {
			return nil, errors.Wrapf(err, "delta %s-%s", from.Short(), to.Short())
		}
		if err := tw.WriteHeader(&tar.Header{Name: p, Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg}); err != nil {
			return nil, err
		}
		if _, err := tw.Write(data); err != nil {
			return nil, err
		}
		n++
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	level := g.Level
	if level == 0 {
		level = zstd.SpeedDefault
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	part := enc.EncodeAll(raw.Bytes(), nil)
	sum := sha256.Sum256(part)

	dir := ostree.DeltaDir(from, to)
	sb := Superblock{From: from, To: to, Parts: []PartInfo{{
		Name:             "0",
		Objects:          n,
		Size:             int64(len(part)),
		UncompressedSize: int64(raw.Len()),
		SHA256:           hex.EncodeToString(sum[:]),
	}}}
	meta, err := json.MarshalIndent(sb, "", "  ")
	if err != nil {
		return nil, err
	}
	return []Part{
		{RelativePath: path.Join(dir, SuperblockName), Data: meta},
		{RelativePath: path.Join(dir, "0"), Data: part},
	}, nil
}

var _ Generator = ZstdGenerator{}
