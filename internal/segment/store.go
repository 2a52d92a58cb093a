package segment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store holds closed segments for one session until they are merged.
// Segments are loaded back in the order they were put.
type Store interface {
	Put(ctx context.Context, seg *Segment) error
	Load(ctx context.Context) ([][]byte, error)
	// Cleanup releases everything the store allocated.
	Cleanup(ctx context.Context) error
}

// Allocator creates the Store for a new session.
type Allocator func(sessionID string) (Store, error)

// MemoryStore keeps segments in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	data [][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// MemoryAllocator allocates a MemoryStore per session.
func MemoryAllocator() Allocator {
	return func(string) (Store, error) { return NewMemoryStore(), nil }
}

func (m *MemoryStore) Put(_ context.Context, seg *Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append(m.data, seg.Data)
	return nil
}

func (m *MemoryStore) Load(_ context.Context) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

func (m *MemoryStore) Cleanup(_ context.Context) error {
	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()
	return nil
}

// DirStore writes each segment to <dir>/<prefix>.<index>.pcm.
type DirStore struct {
	dir    string
	prefix string

	mu    sync.Mutex
	paths []string
}

// NewDirStore prepares a directory-backed store. Files left over from an
// earlier session with the same prefix are removed first.
func NewDirStore(dir, prefix string) (*DirStore, error) {
	if prefix == "" {
		return nil, errors.New("segment: empty file prefix")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create segment dir %s: %w", dir, err)
	}
	s := &DirStore{dir: dir, prefix: prefix}
	if err := s.removeByPrefix(); err != nil {
		return nil, err
	}
	return s, nil
}

// DirAllocator allocates a DirStore under dir, prefixed with the session id.
func DirAllocator(dir string) Allocator {
	return func(sessionID string) (Store, error) {
		return NewDirStore(dir, sessionID)
	}
}

// SegmentPath returns the file that holds segment index.
func (s *DirStore) SegmentPath(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.%d.pcm", s.prefix, index))
}

func (s *DirStore) Put(_ context.Context, seg *Segment) error {
	path := s.SegmentPath(seg.Index)
	if err := os.WriteFile(path, seg.Data, 0o644); err != nil {
		return fmt.Errorf("write segment %d: %w", seg.Index, err)
	}
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
	return nil
}

func (s *DirStore) Load(_ context.Context) ([][]byte, error) {
	s.mu.Lock()
	paths := append([]string(nil), s.paths...)
	s.mu.Unlock()

	out := make([][]byte, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read segment %s: %w", p, err)
		}
		out = append(out, data)
	}
	return out, nil
}

// Cleanup removes the segment files this store wrote. Other files sharing
// the prefix, such as a merged artifact, are left alone.
func (s *DirStore) Cleanup(_ context.Context) error {
	s.mu.Lock()
	paths := s.paths
	s.paths = nil
	s.mu.Unlock()
	return removeFiles(paths)
}

func (s *DirStore) removeByPrefix() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, s.prefix+".*.pcm"))
	if err != nil {
		return fmt.Errorf("glob segment files: %w", err)
	}
	return removeFiles(matches)
}

func removeFiles(paths []string) error {
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
