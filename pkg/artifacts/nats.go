package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go/jetstream"
)

// ObjectStore keeps artifacts in a JetStream object store bucket.
type ObjectStore struct {
	bucket string
	store  jetstream.ObjectStore
	// Remove local files once they have been uploaded.
	removeLocal bool
}

type ObjectStoreOptions struct {
	Bucket string
	// Remove the local copy of each artifact after it has been uploaded.
	RemoveLocal bool
}

// NewObjectStore creates the bucket, or binds to it if it already exists.
func NewObjectStore(ctx context.Context, js jetstream.JetStream, opts ObjectStoreOptions) (*ObjectStore, error) {
	store, err := js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      opts.Bucket,
		Description: "Audio artifacts produced by voicebox tasks.",
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("failed to create object store bucket %q: %w", opts.Bucket, err)
		}
		store, err = js.ObjectStore(ctx, opts.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket %q: %w", opts.Bucket, err)
		}
	}
	return &ObjectStore{
		bucket:      opts.Bucket,
		store:       store,
		removeLocal: opts.RemoveLocal,
	}, nil
}

// Publish implements supervisor.ArtifactStore.
func (o *ObjectStore) Publish(ctx context.Context, path string) (string, error) {
	name := filepath.Base(path)
	if err := checkName(name); err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("artifact was not written: %w", err)
	}
	defer f.Close()
	if _, err := o.store.Put(ctx, jetstream.ObjectMeta{Name: name}, f); err != nil {
		return "", fmt.Errorf("failed to put object %q to bucket %q: %w", name, o.bucket, err)
	}
	if o.removeLocal {
		if err := os.Remove(path); err != nil {
			slog.Warn("failed to remove uploaded artifact", "path", path, "error", err)
		}
	}
	return name, nil
}

// Open returns the contents of a published artifact. A missing artifact
// yields an error matching fs.ErrNotExist.
func (o *ObjectStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	obj, err := o.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %q in bucket %q", fs.ErrNotExist, name, o.bucket)
		}
		return nil, fmt.Errorf("failed to get object %q from bucket %q: %w", name, o.bucket, err)
	}
	return obj, nil
}
