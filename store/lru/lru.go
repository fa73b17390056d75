// Package lru implements a blob store that acts as a least-recently-used cache for a nested blob store.
package lru

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/habs"
	"github.com/bobg/habs/store"
)

var _ habs.Store = &Store{}

// Store implements a memory-based least-recently-used cache for a blob store.
// Writes pass through to the underlying blob store.
// Misses are not cached.
type Store struct {
	c *lru.Cache // Ref->[]byte
	s habs.Store
}

// New produces a new Store backed by `s` and caching up to `size` blobs.
func New(s habs.Store, size int) (*Store, error) {
	c, err := lru.New(size)
	return &Store{s: s, c: c}, err
}

// GetBlob gets the blob with hash `ref`.
func (s *Store) GetBlob(ctx context.Context, ref habs.Ref) ([]byte, error) {
	if got, ok := s.c.Get(ref); ok {
		return got.([]byte), nil
	}
	blob, err := s.s.GetBlob(ctx, ref)
	if err != nil {
		return nil, err
	}
	s.c.Add(ref, blob)
	return blob, nil
}

// HasBlob tells whether the store has a blob for ref.
func (s *Store) HasBlob(ctx context.Context, ref habs.Ref) (bool, error) {
	if s.c.Contains(ref) {
		return true, nil
	}
	return s.s.HasBlob(ctx, ref)
}

// SetBlob adds a blob to the nested store and, on success, to the cache.
func (s *Store) SetBlob(ctx context.Context, ref habs.Ref, b []byte) error {
	if err := s.s.SetBlob(ctx, ref, b); err != nil {
		return err
	}
	s.c.Add(ref, b)
	return nil
}

// ListRefs produces all blob refs in the nested store, in lexicographic order.
// It is an error if the nested store is not a habs.Lister.
func (s *Store) ListRefs(ctx context.Context, start habs.Ref, f func(habs.Ref) error) error {
	l, ok := s.s.(habs.Lister)
	if !ok {
		return errors.Wrapf(store.ErrNotLister, "nested store %s", store.Describe(s.s))
	}
	return l.ListRefs(ctx, start, f)
}

func init() {
	store.Register("lru", func(ctx context.Context, conf map[string]interface{}) (habs.Store, error) {
		size, err := store.Int(conf, "size", 0)
		if err != nil {
			return nil, err
		}
		if size <= 0 {
			return nil, errors.New(`missing or invalid "size" parameter`)
		}
		nestedStore, err := store.Nested(ctx, conf, "nested")
		if err != nil {
			return nil, err
		}
		return New(nestedStore, size)
	})
}
