package store_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/habs"
	. "github.com/bobg/habs/store"
	"github.com/bobg/habs/store/mem"
)

func TestSync(t *testing.T) {
	const text = `abc def ghi jkl mno pqr stu`

	var (
		ctx    = context.Background()
		words  = strings.Fields(text)
		stores = make([]habs.Store, 0, len(words))
	)
	for i := range words {
		s := mem.New()
		stores = append(stores, s)
		for j, word := range words {
			if i == j {
				continue
			}
			if err := s.SetBlob(ctx, habs.RefOf([]byte(word)), []byte(word)); err != nil {
				t.Fatal(err)
			}
		}
	}

	err := Sync(ctx, stores)
	if err != nil {
		t.Fatal(err)
	}

	want := listRefs(ctx, t, stores[0].(*mem.Store))
	if len(want) != len(words) {
		t.Fatalf("got %d refs in first store, want %d", len(want), len(words))
	}
	for i := 1; i < len(stores); i++ {
		got := listRefs(ctx, t, stores[i].(*mem.Store))
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("store %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func listRefs(ctx context.Context, t *testing.T, l habs.Lister) []habs.Ref {
	t.Helper()

	var refs []habs.Ref
	err := l.ListRefs(ctx, habs.Zero, func(ref habs.Ref) error {
		refs = append(refs, ref)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return refs
}
