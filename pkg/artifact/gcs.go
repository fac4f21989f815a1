package artifact

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/odvcencio/ostsync/pkg/content"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSStore keeps artifacts in a Cloud Storage bucket under a prefix.
type GCSStore struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCSStore creates a store for a gs://bucket/prefix location.
func NewGCSStore(ctx context.Context, location string, opts ...option.ClientOption) (*GCSStore, error) {
	if !strings.HasPrefix(location, "gs://") {
		return nil, errors.Errorf("unsupported artifact location %q", location)
	}
	bucket, prefix, _ := strings.Cut(strings.TrimPrefix(location, "gs://"), "/")
	if bucket == "" {
		return nil, errors.Errorf("artifact location %q has no bucket", location)
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating GCS client")
	}
	return &GCSStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error { return s.client.Close() }

func (s *GCSStore) object(d content.Digest) (*gcs.ObjectHandle, error) {
	if _, err := Parse(d); err != nil {
		return nil, err
	}
	return s.client.Bucket(s.bucket).Object(path.Join(s.prefix, string(d))), nil
}

func (s *GCSStore) Has(ctx context.Context, d content.Digest) (bool, error) {
	obj, err := s.object(d)
	if err != nil {
		return false, err
	}
	_, err = obj.Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gcs.ErrObjectNotExist):
		return false, nil
	default:
		return false, errors.Wrapf(err, "stat artifact %s", d)
	}
}

func (s *GCSStore) Put(ctx context.Context, data []byte) (content.Digest, bool, error) {
	d, err := Compute(data)
	if err != nil {
		return "", false, err
	}
	obj, _ := s.object(d)
	// Create only: an existing object fails the precondition.
	w := obj.If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", false, errors.Wrapf(err, "put artifact %s", d)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return d, true, nil
		}
		return "", false, errors.Wrapf(err, "put artifact %s", d)
	}
	return d, false, nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return stderrors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}

func (s *GCSStore) Open(ctx context.Context, d content.Digest) (io.ReadCloser, error) {
	obj, err := s.object(d)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			err = stderrors.Join(err, ErrNotFound)
		}
		return nil, errors.Wrapf(err, "creating GCS reader for %s", d)
	}
	return r, nil
}

var _ Store = &GCSStore{}
