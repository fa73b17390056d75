// Package mem implements an in-memory blob store.
package mem

import (
	"context"
	"sort"
	"sync"

	"github.com/bobg/habs"
	"github.com/bobg/habs/store"
)

var (
	_ habs.Store  = &Store{}
	_ habs.Lister = &Store{}
)

// Store is a memory-based implementation of a blob store.
type Store struct {
	mu    sync.Mutex
	blobs map[habs.Ref][]byte
}

// New produces a new Store.
func New() *Store {
	return &Store{blobs: make(map[habs.Ref][]byte)}
}

// GetBlob gets the blob with hash `ref`.
func (s *Store) GetBlob(_ context.Context, ref habs.Ref) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.blobs[ref]; ok {
		return b, nil
	}
	return nil, habs.ErrNotFound
}

// HasBlob tells whether the store has a blob for ref.
func (s *Store) HasBlob(_ context.Context, ref habs.Ref) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.blobs[ref]
	return ok, nil
}

// SetBlob stores b under ref.
// The bytes are copied.
func (s *Store) SetBlob(_ context.Context, ref habs.Ref, b []byte) error {
	cp := make([]byte, len(b))
	copy(cp, b)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[ref]; !ok {
		s.blobs[ref] = cp
	}
	return nil
}

// Len tells how many blobs are in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

// ListRefs produces all blob refs in the store, in lexicographic order.
func (s *Store) ListRefs(ctx context.Context, start habs.Ref, f func(habs.Ref) error) error {
	s.mu.Lock()
	refs := make([]habs.Ref, 0, len(s.blobs))
	for ref := range s.blobs {
		refs = append(refs, ref)
	}
	s.mu.Unlock()

	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
	index := sort.Search(len(refs), func(n int) bool {
		return start.Less(refs[n])
	})

	for i := index; i < len(refs); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := f(refs[i])
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) String() string { return "mem" }

func init() {
	store.Register("mem", func(context.Context, map[string]interface{}) (habs.Store, error) {
		return New(), nil
	})
}
