package treestore

import (
	"context"
	"sync"
)

// MemoryStore keeps the whole tree in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	root any
	reg  *registry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.reg = newRegistry(s.fetch)
	return s
}

var _ Gateway = (*MemoryStore)(nil)

func (s *MemoryStore) fetch(_ context.Context, segs []string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(lookup(s.root, segs)), nil
}

// Get returns a copy of the value at path.
func (s *MemoryStore) Get(ctx context.Context, path string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.fetch(ctx, SplitPath(path))
}

// Keys returns the child keys at path in stable order.
func (s *MemoryStore) Keys(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(children(lookup(s.root, SplitPath(path)))), nil
}

// Set replaces the value at path.
func (s *MemoryStore) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	segs := SplitPath(path)
	if len(segs) == 0 {
		return ErrInvalidPath
	}
	normalized, err := normalize(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	root, err := assign(s.root, segs, normalized)
	if err == nil {
		s.root = root
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.reg.changed(ctx, segs)
	return nil
}

// Update merges fields into the value at path.
func (s *MemoryStore) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	segs := SplitPath(path)
	normalized := make(map[string]any, len(fields))
	for key, value := range fields {
		v, err := normalize(value)
		if err != nil {
			return err
		}
		normalized[key] = v
	}

	s.mu.Lock()
	root := clone(s.root)
	var err error
	for _, key := range sortedKeys(normalized) {
		childSegs := append(append([]string{}, segs...), SplitPath(key)...)
		if len(childSegs) == 0 {
			err = ErrInvalidPath
			break
		}
		root, err = assign(root, childSegs, normalized[key])
		if err != nil {
			break
		}
	}
	if err == nil {
		s.root = root
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.reg.changed(ctx, segs)
	return nil
}

// Remove deletes the subtree at path.
func (s *MemoryStore) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// ChildByAutoID allocates a new key. The path is not written.
func (s *MemoryStore) ChildByAutoID(path string) string {
	return newAutoID()
}

// Observe registers a child listener at path.
func (s *MemoryStore) Observe(ctx context.Context, path string, kind EventKind, fn func(Event)) (*Subscription, error) {
	return s.reg.observe(ctx, path, kind, fn)
}
