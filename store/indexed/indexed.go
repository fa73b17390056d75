// Package indexed implements a store that records every blob it stores
// in a hash-group tree.
package indexed

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/habs"
	"github.com/bobg/habs/hashgroup"
	"github.com/bobg/habs/store"
)

var _ habs.Store = &Store{}

// Store delegates to a nested store
// and inserts each blob it successfully stores into a tree.
type Store struct {
	s    habs.Store
	tree *hashgroup.Tree
}

// New produces a new Store.
func New(s habs.Store, tree *hashgroup.Tree) *Store {
	return &Store{s: s, tree: tree}
}

// Tree returns the store's tree.
func (s *Store) Tree() *hashgroup.Tree {
	return s.tree
}

func (s *Store) GetBlob(ctx context.Context, ref habs.Ref) ([]byte, error) {
	return s.s.GetBlob(ctx, ref)
}

func (s *Store) HasBlob(ctx context.Context, ref habs.Ref) (bool, error) {
	return s.s.HasBlob(ctx, ref)
}

// SetBlob stores the blob in the nested store, then inserts it in the tree.
// If the insert fails the blob remains stored but unindexed;
// Reindex repairs that.
func (s *Store) SetBlob(ctx context.Context, ref habs.Ref, b []byte) error {
	if err := s.s.SetBlob(ctx, ref, b); err != nil {
		return err
	}
	return errors.Wrapf(s.tree.Insert(ctx, ref), "indexing blob %s", ref)
}

func (s *Store) ListRefs(ctx context.Context, start habs.Ref, f func(habs.Ref) error) error {
	l, ok := s.s.(habs.Lister)
	if !ok {
		return store.ErrNotLister
	}
	return l.ListRefs(ctx, start, f)
}

// Reindex inserts every ref of the nested store into the tree.
// The nested store must be a habs.Lister.
// It returns the number of refs inserted.
func (s *Store) Reindex(ctx context.Context) (int, error) {
	return Reindex(ctx, s.s, s.tree)
}

// Reindex inserts every ref listed by s into tree.
// The store must be a habs.Lister.
// It returns the number of refs inserted.
func Reindex(ctx context.Context, s habs.Store, tree *hashgroup.Tree) (int, error) {
	l, ok := s.(habs.Lister)
	if !ok {
		return 0, store.ErrNotLister
	}
	var n int
	err := l.ListRefs(ctx, habs.Zero, func(ref habs.Ref) error {
		if err := tree.Insert(ctx, ref); err != nil {
			return errors.Wrapf(err, "indexing blob %s", ref)
		}
		n++
		return nil
	})
	return n, err
}

// Close closes the tree's index.
func (s *Store) Close() error {
	return s.tree.Close()
}

func (s *Store) String() string {
	return "indexed:" + store.Describe(s.s)
}

func init() {
	store.Register("indexed", func(ctx context.Context, conf map[string]interface{}) (habs.Store, error) {
		nestedStore, err := store.Nested(ctx, conf, "nested")
		if err != nil {
			return nil, err
		}
		indexConf, ok := conf["index"].(map[string]interface{})
		if !ok {
			return nil, errors.New(`missing "index" parameter`)
		}
		tree, err := hashgroup.TreeFromConfig(ctx, indexConf, hashgroup.WithLogger(zap.L().Named("hashgroup")))
		if err != nil {
			return nil, errors.Wrap(err, "creating index")
		}
		return New(nestedStore, tree), nil
	})
}
