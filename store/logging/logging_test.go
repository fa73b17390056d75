package logging

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bobg/habs"
	"github.com/bobg/habs/store"
	"github.com/bobg/habs/store/mem"
	"github.com/bobg/habs/store/null"
	"github.com/bobg/habs/testutil"
)

func TestStore(t *testing.T) {
	testutil.ReadWrite(context.Background(), t, New(mem.New(), zap.NewNop()))
}

func TestLogs(t *testing.T) {
	var (
		ctx        = context.Background()
		core, logs = observer.New(zap.DebugLevel)
		s          = New(mem.New(), zap.New(core))
		data       = []byte("yubnub")
		ref        = habs.RefOf(data)
	)

	if err := s.SetBlob(ctx, ref, data); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetBlob(ctx, ref); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetBlob(ctx, habs.RefOf([]byte("missing"))); !errors.Is(err, habs.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	if n := logs.FilterMessage("SetBlob").Len(); n != 1 {
		t.Errorf("got %d SetBlob entries, want 1", n)
	}
	if n := logs.FilterMessage("GetBlob").FilterField(zap.Stringer("ref", ref)).Len(); n != 1 {
		t.Errorf("got %d GetBlob entries for %s, want 1", n, ref)
	}
	if n := logs.FilterMessage("GetBlob").FilterLevelExact(zap.InfoLevel).Len(); n != 1 {
		t.Errorf("got %d failed GetBlob entries, want 1", n)
	}
}

func TestListRefsUnsupported(t *testing.T) {
	s := New(null.Store{}, zap.NewNop())
	err := s.ListRefs(context.Background(), habs.Zero, func(habs.Ref) error { return nil })
	if !errors.Is(err, store.ErrNotLister) {
		t.Errorf("got %v, want ErrNotLister", err)
	}
}
