package segment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// OpenBucket creates the object store bucket or binds to it if it exists.
func OpenBucket(js nats.JetStreamContext, bucket string) (nats.ObjectStore, error) {
	store, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: fmt.Sprintf("Intermediate TTS segments (%s).", bucket),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err == nil {
		return store, nil
	}

	existing, bindErr := js.ObjectStore(bucket)
	if bindErr != nil {
		return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucket, errors.Join(err, bindErr))
	}
	return existing, nil
}

// NATSStore keeps segments in a JetStream object store bucket under
// <prefix>.<index>.pcm. Several sessions may share one bucket.
type NATSStore struct {
	store  nats.ObjectStore
	prefix string

	mu    sync.Mutex
	names []string
}

// NewNATSStore returns a store writing into an opened bucket.
func NewNATSStore(store nats.ObjectStore, prefix string) *NATSStore {
	return &NATSStore{store: store, prefix: prefix}
}

// NATSAllocator allocates a NATSStore per session on a shared bucket.
func NATSAllocator(store nats.ObjectStore) Allocator {
	return func(sessionID string) (Store, error) {
		return NewNATSStore(store, sessionID), nil
	}
}

func (n *NATSStore) objectName(index int) string {
	return fmt.Sprintf("%s.%d.pcm", n.prefix, index)
}

func (n *NATSStore) Put(_ context.Context, seg *Segment) error {
	name := n.objectName(seg.Index)
	_, err := n.store.Put(&nats.ObjectMeta{Name: name}, bytes.NewReader(seg.Data))
	if err != nil {
		return fmt.Errorf("failed to put segment '%s': %w", name, err)
	}
	n.mu.Lock()
	n.names = append(n.names, name)
	n.mu.Unlock()
	return nil
}

func (n *NATSStore) Load(ctx context.Context) ([][]byte, error) {
	n.mu.Lock()
	names := append([]string(nil), n.names...)
	n.mu.Unlock()

	out := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := n.store.GetBytes(name, nats.Context(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to get segment '%s': %w", name, err)
		}
		out = append(out, data)
	}
	return out, nil
}

func (n *NATSStore) Cleanup(_ context.Context) error {
	n.mu.Lock()
	names := n.names
	n.names = nil
	n.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := n.store.Delete(name); err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
			errs = append(errs, fmt.Errorf("delete segment '%s': %w", name, err))
		}
	}
	return errors.Join(errs...)
}
