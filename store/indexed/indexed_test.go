package indexed

import (
	"context"
	"errors"
	"testing"

	"github.com/bobg/habs"
	"github.com/bobg/habs/hashgroup"
	"github.com/bobg/habs/store"
	"github.com/bobg/habs/store/mem"
	"github.com/bobg/habs/testutil"
)

func newTree(t *testing.T) *hashgroup.Tree {
	t.Helper()

	tree, err := hashgroup.New(hashgroup.NewMemIndex(), hashgroup.Config{PrefixLen: 2})
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

func rootHash(ctx context.Context, t *testing.T, tree *hashgroup.Tree) string {
	t.Helper()

	if _, err := tree.Recompute(ctx); err != nil {
		t.Fatal(err)
	}
	hash, _, err := tree.GetGroup(ctx, hashgroup.RootName)
	if err != nil {
		t.Fatal(err)
	}
	return hash
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := New(mem.New(), newTree(t))
	testutil.ReadWrite(ctx, t, s)

	// ReadWrite stored 20 blobs.
	want := newTree(t)
	for _, b := range testutil.Blobs(20) {
		if err := want.Insert(ctx, habs.RefOf(b)); err != nil {
			t.Fatal(err)
		}
	}
	if got, w := rootHash(ctx, t, s.Tree()), rootHash(ctx, t, want); got != w {
		t.Errorf("got root hash %s, want %s", got, w)
	}
}

func TestListRefs(t *testing.T) {
	testutil.ListRefs(context.Background(), t, New(mem.New(), newTree(t)))
}

func TestFailedSetIsNotIndexed(t *testing.T) {
	ctx := context.Background()

	faulty := testutil.NewFaulty("faulty", mem.New())
	faulty.FailSets(true)
	s := New(faulty, newTree(t))

	if err := s.SetBlob(ctx, habs.RefOf([]byte("x")), []byte("x")); !errors.Is(err, testutil.ErrInjected) {
		t.Fatalf("got %v, want ErrInjected", err)
	}
	if _, _, err := s.Tree().GetGroup(ctx, hashgroup.RootName); !errors.Is(err, habs.ErrNotFound) {
		t.Errorf("got %v for root of tree after failed write, want ErrNotFound", err)
	}
}

func TestReindex(t *testing.T) {
	ctx := context.Background()

	nested := mem.New()
	blobs := testutil.Blobs(10)
	for _, b := range blobs {
		if err := nested.SetBlob(ctx, habs.RefOf(b), b); err != nil {
			t.Fatal(err)
		}
	}

	s := New(nested, newTree(t))
	n, err := s.Reindex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(blobs) {
		t.Errorf("reindexed %d blobs, want %d", n, len(blobs))
	}

	viaSet := New(mem.New(), newTree(t))
	for _, b := range blobs {
		if err = viaSet.SetBlob(ctx, habs.RefOf(b), b); err != nil {
			t.Fatal(err)
		}
	}
	if got, want := rootHash(ctx, t, s.Tree()), rootHash(ctx, t, viaSet.Tree()); got != want {
		t.Errorf("got root hash %s after reindex, want %s", got, want)
	}

	if _, err = Reindex(ctx, testutil.NewFaulty("faulty", mem.New()), newTree(t)); !errors.Is(err, store.ErrNotLister) {
		t.Errorf("got %v for a non-lister, want ErrNotLister", err)
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	s, err := store.FromConfig(ctx, map[string]interface{}{
		"type":   "indexed",
		"nested": map[string]interface{}{"type": "mem"},
		"index":  map[string]interface{}{"type": "mem", "prefix_len": 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := store.Describe(s); got != "indexed:mem" {
		t.Errorf("got %q, want indexed:mem", got)
	}
}
