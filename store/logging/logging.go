// Package logging implements a store that delegates everything to a nested store,
// logging operations as they happen.
package logging

import (
	"context"

	"go.uber.org/zap"

	"github.com/bobg/habs"
	"github.com/bobg/habs/store"
)

var _ habs.Store = &Store{}

// Store logs each call to its nested store.
type Store struct {
	s      habs.Store
	logger *zap.Logger
}

// New produces a new Store logging calls to s on logger.
func New(s habs.Store, logger *zap.Logger) *Store {
	return &Store{s: s, logger: logger}
}

func (s *Store) GetBlob(ctx context.Context, ref habs.Ref) ([]byte, error) {
	b, err := s.s.GetBlob(ctx, ref)
	if err != nil {
		s.logger.Info("GetBlob", zap.Stringer("ref", ref), zap.Error(err))
	} else {
		s.logger.Debug("GetBlob", zap.Stringer("ref", ref), zap.Int("size", len(b)))
	}
	return b, err
}

func (s *Store) HasBlob(ctx context.Context, ref habs.Ref) (bool, error) {
	has, err := s.s.HasBlob(ctx, ref)
	if err != nil {
		s.logger.Info("HasBlob", zap.Stringer("ref", ref), zap.Error(err))
	} else {
		s.logger.Debug("HasBlob", zap.Stringer("ref", ref), zap.Bool("has", has))
	}
	return has, err
}

func (s *Store) SetBlob(ctx context.Context, ref habs.Ref, b []byte) error {
	err := s.s.SetBlob(ctx, ref, b)
	if err != nil {
		s.logger.Info("SetBlob", zap.Stringer("ref", ref), zap.Int("size", len(b)), zap.Error(err))
	} else {
		s.logger.Debug("SetBlob", zap.Stringer("ref", ref), zap.Int("size", len(b)))
	}
	return err
}

func (s *Store) ListRefs(ctx context.Context, start habs.Ref, f func(habs.Ref) error) error {
	l, ok := s.s.(habs.Lister)
	if !ok {
		s.logger.Info("ListRefs: nested store cannot list refs", zap.Stringer("start", start))
		return store.ErrNotLister
	}
	s.logger.Debug("ListRefs", zap.Stringer("start", start))
	return l.ListRefs(ctx, start, f)
}

func (s *Store) String() string {
	return "logging:" + store.Describe(s.s)
}

func init() {
	store.Register("logging", func(ctx context.Context, conf map[string]interface{}) (habs.Store, error) {
		nestedStore, err := store.Nested(ctx, conf, "nested")
		if err != nil {
			return nil, err
		}
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		return New(nestedStore, logger.Named(store.Describe(nestedStore))), nil
	})
}
