// Package transform implements a blob store that can transform blobs into and out of a nested store.
//
// The nested store holds each transformed blob under the ref of the untransformed blob,
// so it cannot check its own contents against their refs.
// Put validation (e.g. in an HA store) outside the transform store, not inside it.
package transform

import (
	"compress/lzw"
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/habs"
	"github.com/bobg/habs/store"
)

var _ habs.Store = &Store{}

// Store is a blob store wrapping a nested store and a Transformer.
// Blobs are transformed according to the Transformer on their way in and out of the nested store.
type Store struct {
	s habs.Store
	x Transformer
}

// Transformer tells how to transform a blob on its way into and out of a Store.
// Out should be the inverse of In.
type Transformer interface {
	// In transforms a blob on its way into the store.
	In(context.Context, []byte) ([]byte, error)

	// Out transforms a blob on its way out of the store.
	Out(context.Context, []byte) ([]byte, error)
}

// New produces a new Store.
func New(s habs.Store, x Transformer) *Store {
	return &Store{s: s, x: x}
}

func (s *Store) GetBlob(ctx context.Context, ref habs.Ref) ([]byte, error) {
	b, err := s.s.GetBlob(ctx, ref)
	if err != nil {
		return nil, err
	}
	b, err = s.x.Out(ctx, b)
	return b, errors.Wrapf(err, "untransforming blob %s", ref)
}

func (s *Store) HasBlob(ctx context.Context, ref habs.Ref) (bool, error) {
	return s.s.HasBlob(ctx, ref)
}

func (s *Store) SetBlob(ctx context.Context, ref habs.Ref, b []byte) error {
	tb, err := s.x.In(ctx, b)
	if err != nil {
		return errors.Wrapf(err, "transforming blob %s", ref)
	}
	return s.s.SetBlob(ctx, ref, tb)
}

func (s *Store) ListRefs(ctx context.Context, start habs.Ref, f func(habs.Ref) error) error {
	l, ok := s.s.(habs.Lister)
	if !ok {
		return store.ErrNotLister
	}
	return l.ListRefs(ctx, start, f)
}

func (s *Store) String() string {
	return "transform:" + store.Describe(s.s)
}

func init() {
	store.Register("transform", func(ctx context.Context, conf map[string]interface{}) (habs.Store, error) {
		nestedStore, err := store.Nested(ctx, conf, "nested")
		if err != nil {
			return nil, err
		}
		transformer, ok := conf["transformer"].(string)
		if !ok {
			return nil, errors.New(`missing "transformer" parameter`)
		}
		switch transformer {
		case "lzw":
			order, err := store.Int(conf, "order", int(lzw.LSB))
			if err != nil {
				return nil, err
			}
			return New(nestedStore, LZW{Order: lzw.Order(order)}), nil

		case "flate":
			level, err := store.Int(conf, "level", -1)
			if err != nil {
				return nil, err
			}
			return New(nestedStore, Flate{Level: level}), nil

		default:
			return nil, fmt.Errorf(`unknown transformer "%s"`, transformer)
		}
	})
}
