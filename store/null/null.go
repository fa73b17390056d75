// Package null implements a blob store that does nothing.
// Writes are discarded and every blob is reported missing.
// It is useful for disabling replication or for testing.
package null

import (
	"context"

	"github.com/bobg/habs"
	"github.com/bobg/habs/store"
)

var _ habs.Store = Store{}

// Store is the null blob store.
type Store struct{}

// GetBlob always reports habs.ErrNotFound.
func (Store) GetBlob(context.Context, habs.Ref) ([]byte, error) {
	return nil, habs.ErrNotFound
}

// SetBlob discards its input.
func (Store) SetBlob(context.Context, habs.Ref, []byte) error {
	return nil
}

// HasBlob always reports false.
func (Store) HasBlob(context.Context, habs.Ref) (bool, error) {
	return false, nil
}

func (Store) String() string { return "null" }

func init() {
	store.Register("null", func(context.Context, map[string]interface{}) (habs.Store, error) {
		return Store{}, nil
	})
}
