// Package objectstore keeps export archives in a NATS JetStream object bucket.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// ErrNotFound is returned when a key does not exist in the bucket.
var ErrNotFound = errors.New("object not found")

// NatsObjectStore stores objects in a JetStream object bucket.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket if needed and binds to it.
func New(js nats.JetStreamContext, bucket string) (*NatsObjectStore, error) {
	store, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: fmt.Sprintf("vocabvoice %s bucket", bucket),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		// The bucket may already exist with a different config
		var bindErr error
		store, bindErr = js.ObjectStore(bucket)
		if bindErr != nil {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucket, err)
		}
		slog.Debug("ObjectStore: bound to existing bucket", "bucket", bucket)
	}
	return &NatsObjectStore{bucket: bucket, store: store}, nil
}

// Connect dials url and opens a bucket. The returned close function drains the connection.
func Connect(url, bucket string) (*NatsObjectStore, func(), error) {
	nc, err := nats.Connect(url, nats.Name("vocabvoice"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to open jetstream: %w", err)
	}
	s, err := New(js, bucket)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return s, func() {
		if err := nc.Drain(); err != nil {
			slog.Warn("ObjectStore: drain failed", "error", err)
		}
	}, nil
}

// Upload saves data under key, replacing any previous object.
func (n *NatsObjectStore) Upload(_ context.Context, key string, data []byte) error {
	_, err := n.store.Put(&nats.ObjectMeta{Name: key}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}
	return nil
}

// Download retrieves the object stored under key.
func (n *NatsObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key)
	if errors.Is(err, nats.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()
	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}
	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}
	return data, nil
}
