package sqlindex

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bobg/habs"
	"github.com/bobg/habs/hashgroup"
	"github.com/bobg/habs/testutil"
)

func testIndex(ctx context.Context, t *testing.T) *Index {
	t.Helper()

	conn := filepath.Join(t.TempDir(), "index.db") + "?_txlock=immediate&_busy_timeout=10000"
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	idx, err := New(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestIndex(t *testing.T) {
	ctx := context.Background()
	testutil.Index(ctx, t, testIndex(ctx, t))
}

func TestTree(t *testing.T) {
	ctx := context.Background()
	testutil.Tree(ctx, t, testIndex(ctx, t))
}

func TestConcurrentUpdate(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(ctx, t)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := idx.Update(ctx, "ab", func(g *hashgroup.Group) (*hashgroup.Group, error) {
				if g == nil {
					g = &hashgroup.Group{Name: "ab", Parent: hashgroup.RootName}
				}
				g.Status = hashgroup.Invalid
				g.Version++
				return g, nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	g, err := idx.Group(ctx, "ab")
	if err != nil {
		t.Fatal(err)
	}
	if g.Version != n {
		t.Errorf("got version %d after %d concurrent updates, want %d", g.Version, n, n)
	}
}

func TestLeafRefs(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(ctx, t)

	ref := habs.RefOf([]byte("leaf"))
	if err := idx.PutLeaf(ctx, "ab", ref); err != nil {
		t.Fatal(err)
	}
	var got []habs.Ref
	err := idx.Leaves(ctx, "ab", func(r habs.Ref) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != ref {
		t.Errorf("got %v, want [%s]", got, ref)
	}
}
