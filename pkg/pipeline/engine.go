package pipeline

import (
	"context"
	"io"
	"log/slog"
	"path"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
	"github.com/odvcencio/ostsync/pkg/artifact"
	"github.com/odvcencio/ostsync/pkg/config"
	"github.com/odvcencio/ostsync/pkg/content"
	"github.com/odvcencio/ostsync/pkg/delta"
	"github.com/odvcencio/ostsync/pkg/modify"
	"github.com/odvcencio/ostsync/pkg/ostree"
	"github.com/odvcencio/ostsync/pkg/remote"
	"github.com/odvcencio/ostsync/pkg/tarball"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Latest selects the newest version as the base of Modify.
const Latest = -1

// RemoteOptions selects what Sync pulls from a remote.
type RemoteOptions struct {
	config.Remote
	// Mirror makes the new version hold exactly the synced content instead
	// of adding it to the latest version.
	Mirror bool
	HTTP   remote.ClientOptions
}

// Engine runs the entry operations. Every operation on a repository holds
// that repository's lock, works in a private directory under scratch and
// either seals one version or fails with nothing sealed.
type Engine struct {
	catalog   *content.Catalog
	artifacts artifact.Store
	scratch   billy.Filesystem
	opts      config.Pipeline
	delta     delta.Generator
	log       *slog.Logger
}

// NewEngine creates an engine. A nil generator disables static deltas.
func NewEngine(cat *content.Catalog, store artifact.Store, scratch billy.Filesystem, opts config.Pipeline, gen delta.Generator, logger *slog.Logger) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.FetchWorkers <= 0 {
		opts.FetchWorkers = 4
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		catalog:   cat,
		artifacts: store,
		scratch:   scratch,
		opts:      opts,
		delta:     gen,
		log:       logger,
	}
}

// Sync pulls the selected refs of a remote and seals a version holding
// them: on top of the latest version, or alone when mirroring.
func (e *Engine) Sync(ctx context.Context, repository string, opts RemoteOptions) (*content.Version, error) {
	unlock := e.catalog.Lock(repository)
	defer unlock()
	e.catalog.EnsureRepository(repository)
	log := e.log.With("repository", repository, "remote", opts.URL)

	client, err := remote.NewClientWithOptions(opts.URL, opts.HTTP)
	if err != nil {
		return nil, err
	}
	wfs, cleanup, err := e.workdir()
	if err != nil {
		return nil, err
	}
	defer cleanup()
	work, err := ostree.Create(wfs, ostree.ModeArchive)
	if err != nil {
		return nil, err
	}
	name := opts.Name
	if name == "" {
		name = "origin"
	}
	if err := work.AddRemote(name, client.URL(), opts.VerifySignatures); err != nil {
		return nil, err
	}
	puller := remote.NewPuller(client, work)

	advertised, err := client.ListRefs(ctx, opts.IncludeRefs...)
	if err != nil {
		return nil, errors.Wrap(err, "list remote refs")
	}
	refs := selectRefs(advertised, opts.Wants)
	if len(refs) == 0 {
		log.Warn("no remote refs selected", "advertised", len(advertised))
	}
	files, err := repoFiles(func(rel string) ([]byte, error) { return puller.FetchFile(ctx, rel) })
	if err != nil {
		return nil, err
	}
	log.Info("syncing", "refs", len(refs), "depth", opts.Depth, "mirror", opts.Mirror)

	res, err := e.run(ctx, job{repository: repository, src: puller, refs: refs, files: files, depth: opts.Depth})
	if err != nil {
		return nil, err
	}
	add, err := e.withDeltas(ctx, work, res)
	if err != nil {
		return nil, err
	}
	var base *content.Version
	if opts.Mirror {
		if base, err = e.catalog.Version(repository, 0); err != nil {
			return nil, err
		}
	}
	return e.seal(repository, base, add, nil)
}

// ImportAll imports every ref of the tarball stored as artifact d, with
// full history, on top of the latest version.
func (e *Engine) ImportAll(ctx context.Context, repository string, d content.Digest, repositoryName string) (*content.Version, error) {
	unlock := e.catalog.Lock(repository)
	defer unlock()
	e.catalog.EnsureRepository(repository)
	return e.importAll(ctx, repository, d, repositoryName)
}

func (e *Engine) importAll(ctx context.Context, repository string, d content.Digest, repositoryName string) (*content.Version, error) {
	wfs, cleanup, err := e.workdir()
	if err != nil {
		return nil, err
	}
	defer cleanup()
	repo, err := e.extract(ctx, wfs, d, repositoryName)
	if err != nil {
		return nil, err
	}
	heads, err := repo.ListRefs()
	if err != nil {
		return nil, err
	}
	files, err := repoFiles(repo.ReadFile)
	if err != nil {
		return nil, err
	}
	refs := selectRefs(heads, nil)
	e.log.Info("importing tarball", "repository", repository, "artifact", d, "refs", len(refs))

	res, err := e.run(ctx, job{repository: repository, src: NewLocalSource(repo), refs: refs, files: files, depth: -1})
	if err != nil {
		return nil, err
	}
	add, err := e.withDeltas(ctx, repo, res)
	if err != nil {
		return nil, err
	}
	return e.seal(repository, nil, add, nil)
}

// ImportCommits appends the commits of one ref from the tarball stored as
// artifact d. History the tarball does not carry is expected to be stored
// already; objects missing from the tarball are taken from the store.
func (e *Engine) ImportCommits(ctx context.Context, repository string, d content.Digest, repositoryName, ref string) (*content.Version, error) {
	unlock := e.catalog.Lock(repository)
	defer unlock()
	e.catalog.EnsureRepository(repository)

	wfs, cleanup, err := e.workdir()
	if err != nil {
		return nil, err
	}
	defer cleanup()
	repo, err := e.extract(ctx, wfs, d, repositoryName)
	if err != nil {
		return nil, err
	}
	heads, err := repo.ListRefs()
	if err != nil {
		return nil, err
	}
	head, ok := heads[ref]
	if !ok {
		return nil, errors.Wrapf(ErrRefNotFound, "ref %s in artifact %s", ref, d)
	}
	e.log.Info("importing commits", "repository", repository, "artifact", d, "ref", ref, "head", head)

	src := &storeSource{Source: NewLocalSource(repo), catalog: e.catalog, artifacts: e.artifacts}
	res, err := e.run(ctx, job{
		repository:  repository,
		src:         src,
		refs:        []RefHead{{Name: ref, Head: head}},
		depth:       -1,
		incremental: true,
	})
	if err != nil {
		return nil, err
	}
	add, err := e.withDeltas(ctx, repo, res)
	if err != nil {
		return nil, err
	}
	return e.seal(repository, nil, add, nil)
}

// Upload stores a tarball as an artifact and imports all of it.
func (e *Engine) Upload(ctx context.Context, repository string, r io.Reader, repositoryName string) (*content.Version, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read upload")
	}
	d, existed, err := e.artifacts.Put(ctx, data)
	if err != nil {
		return nil, errors.Wrap(err, "store upload")
	}
	e.log.Info("stored upload", "repository", repository, "artifact", d, "existed", existed, "bytes", len(data))

	unlock := e.catalog.Lock(repository)
	defer unlock()
	e.catalog.EnsureRepository(repository)
	return e.importAll(ctx, repository, d, repositoryName)
}

// Modify seals a version derived from base (or the latest version) by
// adding and removing content while keeping it self-consistent.
func (e *Engine) Modify(ctx context.Context, repository string, add, remove []content.ID, base int) (*content.Version, error) {
	unlock := e.catalog.Lock(repository)
	defer unlock()

	var (
		from *content.Version
		err  error
	)
	if base == Latest {
		from, err = e.catalog.Latest(repository)
	} else {
		from, err = e.catalog.Version(repository, base)
	}
	if err != nil {
		return nil, err
	}
	change, err := modify.Plan(e.catalog, from, add, remove)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.log.Debug("modify plan", "repository", repository, "base", from.Number, "added", len(change.Add), "removed", len(change.Remove))
	return e.seal(repository, from, change.Add, change.Remove)
}

type job struct {
	repository  string
	src         Source
	refs        []RefHead
	files       []*Declaration
	depth       int
	incremental bool
}

type result struct {
	ids     []content.ID
	commits []*Declaration
}

// run pushes the declarations of a job through the stages.
func (e *Engine) run(ctx context.Context, j job) (*result, error) {
	log := e.log.With("repository", j.repository)
	w := NewWalker(j.src, j.depth, j.incremental, log)
	a := newAssociator(e.catalog, e.opts.BatchSize, log)

	declared := make(chan *Declaration, e.opts.QueueSize)
	queried := make(chan *Declaration, e.opts.QueueSize)
	stored := make(chan *Declaration, e.opts.QueueSize)
	saved := make(chan *Declaration, e.opts.QueueSize)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(declared)
		for _, f := range j.files {
			if err := send(ctx, declared, f); err != nil {
				return err
			}
		}
		for _, ref := range j.refs {
			if err := w.WalkRef(ctx, declared, ref); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		defer close(queried)
		return e.queryStage(ctx, declared, queried)
	})
	g.Go(func() error {
		defer close(stored)
		return e.artifactStage(ctx, queried, stored)
	})
	g.Go(func() error {
		defer close(saved)
		return e.saveStage(ctx, stored, saved)
	})
	g.Go(func() error {
		return a.run(ctx, saved)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := a.finish(); err != nil {
		return nil, err
	}
	log.Debug("pipeline finished", "content", len(a.ids), "commits", len(w.Commits()))
	return &result{ids: a.ids, commits: w.Commits()}, nil
}

// withDeltas returns the run's content plus its static delta parts: parts
// generated now for a single new commit pair, and parts generated earlier
// for commits the run saw again.
func (e *Engine) withDeltas(ctx context.Context, work *ostree.Repo, res *result) ([]content.ID, error) {
	add := append([]content.ID(nil), res.ids...)
	for _, d := range res.commits {
		if !d.Bound {
			continue
		}
		for _, u := range e.catalog.Units(e.catalog.CommitObjects(d.Unit.UnitID())) {
			if o, ok := u.(content.Object); ok && o.Kind == ostree.KindDeltaPart {
				add = append(add, o.ID)
			}
		}
	}
	parts, err := e.generateDelta(ctx, work, res.commits)
	if err != nil {
		return nil, err
	}
	return append(add, parts...), nil
}

// generateDelta runs the delta generator when the run produced exactly
// one new commit pair: two new adjacent commits, or one new commit whose
// parent is already stored. Both commits are materialized into work first.
func (e *Engine) generateDelta(ctx context.Context, work *ostree.Repo, commits []*Declaration) ([]content.ID, error) {
	if !e.opts.GenerateDeltas || e.delta == nil {
		return nil, nil
	}
	var fresh []*Declaration
	for _, d := range commits {
		if !d.Bound {
			fresh = append(fresh, d)
		}
	}
	var from ostree.Checksum
	var to *Declaration
	switch len(fresh) {
	case 1:
		to, from = fresh[0], fresh[0].Parent
		if from == "" || len(e.catalog.CommitsByChecksum(from)) == 0 {
			return nil, nil
		}
	case 2:
		for i, d := range fresh {
			if other := fresh[1-i]; d.Parent == other.Name.Checksum {
				to, from = d, other.Name.Checksum
			}
		}
		if to == nil {
			return nil, nil
		}
	default:
		return nil, nil
	}

	for _, c := range []ostree.Checksum{from, to.Name.Checksum} {
		if err := MaterializeCommit(ctx, e.catalog, e.artifacts, work, c); err != nil {
			return nil, errors.Wrap(err, "materialize for delta")
		}
	}
	parts, err := e.delta.Generate(ctx, work, from, to.Name.Checksum)
	if err != nil {
		return nil, err
	}
	ids := make([]content.ID, 0, len(parts))
	for _, p := range parts {
		digest, _, err := e.artifacts.Put(ctx, p.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "store delta part %s", p.RelativePath)
		}
		u, _ := e.catalog.GetOrCreate(content.Object{
			Checksum:     to.Name.Checksum,
			Kind:         ostree.KindDeltaPart,
			RelativePath: p.RelativePath,
			Artifact:     digest,
		})
		e.catalog.AddCommitObjects(to.Unit.UnitID(), u.UnitID())
		ids = append(ids, u.UnitID())
	}
	e.log.Info("generated static delta", "from", from.Short(), "to", to.Name.Checksum.Short(), "parts", len(parts))
	return ids, nil
}

func (e *Engine) seal(repository string, base *content.Version, add, remove []content.ID) (*content.Version, error) {
	v, created, err := e.catalog.Seal(repository, base, add, remove)
	if err != nil {
		return nil, err
	}
	if !created {
		e.log.Info("content unchanged", "repository", repository, "version", v.Number)
		return v, nil
	}
	e.log.Info("sealed version", "repository", repository, "version", v.Number, "added", len(add), "removed", len(remove), "content", v.Len())
	return v, nil
}

// workdir creates a private working directory and returns it with its
// cleanup function.
func (e *Engine) workdir() (billy.Filesystem, func(), error) {
	dir := path.Join("work", uuid.NewString())
	if err := e.scratch.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, errors.Wrap(err, "create working directory")
	}
	fs, err := e.scratch.Chroot(dir)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create working directory")
	}
	cleanup := func() {
		if err := util.RemoveAll(e.scratch, dir); err != nil {
			e.log.Warn("remove working directory", "dir", dir, "error", err)
		}
	}
	return fs, cleanup, nil
}

func (e *Engine) extract(ctx context.Context, wfs billy.Filesystem, d content.Digest, repositoryName string) (*ostree.Repo, error) {
	rc, err := e.artifacts.Open(ctx, d)
	if err != nil {
		return nil, errors.Wrapf(err, "open artifact %s", d)
	}
	defer rc.Close()
	if err := tarball.Extract(rc, wfs); err != nil {
		return nil, errors.Wrapf(err, "extract artifact %s", d)
	}
	root, err := tarball.Locate(wfs, repositoryName)
	if err != nil {
		return nil, errors.Wrapf(err, "artifact %s", d)
	}
	return ostree.Open(root)
}

// repoFiles declares the repository config and summary that read finds.
func repoFiles(read func(rel string) ([]byte, error)) ([]*Declaration, error) {
	var out []*Declaration
	for _, u := range []content.Unit{
		content.Config{RelativePath: "config"},
		content.Summary{RelativePath: "summary"},
	} {
		data, err := read(u.Path())
		if errors.Is(err, ostree.ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", u.Path())
		}
		out = append(out, fileDeclaration(u, data))
	}
	return out, nil
}

// selectRefs returns the refs want accepts, sorted by name. A nil want
// accepts all of them.
func selectRefs(refs map[string]ostree.Checksum, want func(string) bool) []RefHead {
	out := make([]RefHead, 0, len(refs))
	for name, head := range refs {
		if want == nil || want(name) {
			out = append(out, RefHead{Name: name, Head: head})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
