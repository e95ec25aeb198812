package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"google.golang.org/api/googleapi"
)

// GCSStore keeps objects in a Google Cloud Storage bucket. An object only
// becomes visible when its writer is closed, so uploads are atomic.
type GCSStore struct {
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSStore wraps a bucket. prefix is prepended to every key.
func NewGCSStore(client *storage.Client, bucket, prefix string) (*GCSStore, error) {
	if client == nil {
		return nil, eris.New("blob: storage client is required")
	}
	if bucket == "" {
		return nil, eris.New("blob: bucket name is required")
	}
	return &GCSStore{bucket: client.Bucket(bucket), prefix: prefix}, nil
}

func (s *GCSStore) Create(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	obj := s.bucket.Object(s.prefix + key).If(storage.Conditions{DoesNotExist: true})
	err := s.write(ctx, obj, data)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return eris.Wrapf(ErrExists, "key %s", key)
	}
	if err != nil {
		return eris.Wrapf(err, "blob: create %s", key)
	}
	return nil
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.write(ctx, s.bucket.Object(s.prefix+key), data); err != nil {
		return eris.Wrapf(err, "blob: put %s", key)
	}
	return nil
}

func (s *GCSStore) write(ctx context.Context, obj *storage.ObjectHandle, data []byte) error {
	w := obj.NewWriter(ctx)
	w.ContentType = "application/pdf"
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	r, err := s.bucket.Object(s.prefix + key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "key %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "blob: open %s", key)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: read %s", key)
	}
	return data, nil
}
