package pipeline

import (
	"context"

	"github.com/odvcencio/ostsync/pkg/artifact"
	"github.com/odvcencio/ostsync/pkg/content"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// queryStage binds declarations to records that already exist with the
// same natural key. Bound declarations skip downloading entirely.
func (e *Engine) queryStage(ctx context.Context, in <-chan *Declaration, out chan<- *Declaration) error {
	for d := range in {
		switch d.Variant() {
		case content.VariantRef:
			// Ref keys include the head commit id, known after save.
			if err := send(ctx, out, d); err != nil {
				return err
			}
			continue
		case content.VariantConfig, content.VariantSummary:
			// Keyed by digest, so hash before the lookup.
			digest, err := artifact.Compute(d.Data)
			if err != nil {
				return err
			}
			d.Unit = withArtifact(d.Unit, digest)
		}
		if u, ok := e.catalog.Lookup(d.Unit.Key()); ok {
			d.Unit, d.Bound = u, true
		}
		if err := send(ctx, out, d); err != nil {
			return err
		}
	}
	return nil
}

type pendingArtifact struct {
	d    *Declaration
	done chan error
}

// artifactStage loads the bytes of unbound declarations and stores them as
// artifacts. Up to FetchWorkers loads run at once; output order matches
// input order.
func (e *Engine) artifactStage(ctx context.Context, in <-chan *Declaration, out chan<- *Declaration) error {
	sem := semaphore.NewWeighted(int64(e.opts.FetchWorkers))
	queue := make(chan pendingArtifact, e.opts.QueueSize)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(queue)
		for d := range in {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			p := pendingArtifact{d: d, done: make(chan error, 1)}
			go func() {
				defer sem.Release(1)
				p.done <- e.storeArtifact(ctx, p.d)
			}()
			select {
			case queue <- p:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	g.Go(func() error {
		for p := range queue {
			if err := <-p.done; err != nil {
				return err
			}
			if err := send(ctx, out, p.d); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

func (e *Engine) storeArtifact(ctx context.Context, d *Declaration) error {
	if d.Bound {
		return nil
	}
	data, err := d.Bytes(ctx)
	if err != nil {
		return err
	}
	digest, existed, err := e.artifacts.Put(ctx, data)
	if err != nil {
		return errors.Wrapf(err, "store %s %s", d.Variant(), d.Unit.Path())
	}
	if existed {
		e.log.Debug("reusing artifact", "path", d.Unit.Path(), "artifact", digest)
	}
	d.Unit = withArtifact(d.Unit, digest)
	if d.load != nil {
		d.Data = nil
	}
	return nil
}

// saveStage creates the typed records of unbound declarations in batches.
// Refs pass through untouched; association creates them.
func (e *Engine) saveStage(ctx context.Context, in <-chan *Declaration, out chan<- *Declaration) error {
	batch := make([]*Declaration, 0, e.opts.BatchSize)
	flush := func() error {
		for _, d := range batch {
			if _, isRef := d.Unit.(content.Ref); !isRef && !d.Bound {
				u, created := e.catalog.GetOrCreate(d.Unit)
				d.Unit, d.Bound = u, !created
			}
		}
		for _, d := range batch {
			if err := send(ctx, out, d); err != nil {
				return err
			}
		}
		batch = batch[:0]
		return nil
	}
	for d := range in {
		batch = append(batch, d)
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}
