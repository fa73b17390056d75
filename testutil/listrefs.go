package testutil

import (
	"context"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/habs"
)

// ListerStore is a Store that can list its refs.
type ListerStore interface {
	habs.Store
	habs.Lister
}

// ListRefs tests the ListRefs method of a store,
// including its handling of a nonzero starting ref.
func ListRefs(ctx context.Context, t *testing.T, s ListerStore) {
	t.Helper()

	var want []habs.Ref
	for _, b := range Blobs(10) {
		ref := habs.RefOf(b)
		if err := s.SetBlob(ctx, ref, b); err != nil {
			t.Fatal(err)
		}
		want = append(want, ref)
	}
	sort.Slice(want, func(i, j int) bool { return want[i].Less(want[j]) })

	var got []habs.Ref
	err := s.ListRefs(ctx, habs.Zero, func(ref habs.Ref) error {
		got = append(got, ref)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	got = nil
	err = s.ListRefs(ctx, want[4], func(ref habs.Ref) error {
		got = append(got, ref)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want[5:], got); diff != "" {
		t.Errorf("mismatch after %s (-want +got):\n%s", want[4], diff)
	}
}
