package pg

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/bobg/habs/testutil"
)

// These tests need a live database.
// Set HABS_PG_CONN to a connection string to run them.

func TestStore(t *testing.T) {
	ctx := context.Background()
	testutil.ReadWrite(ctx, t, testStore(ctx, t))
}

func TestListRefs(t *testing.T) {
	ctx := context.Background()
	testutil.ListRefs(ctx, t, testStore(ctx, t))
}

func testStore(ctx context.Context, t *testing.T) *Store {
	t.Helper()

	conn := os.Getenv("HABS_PG_CONN")
	if conn == "" {
		t.Skip("HABS_PG_CONN not set")
	}
	db, err := sql.Open("postgres", conn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := New(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = db.ExecContext(ctx, `DELETE FROM blobs`); err != nil {
		t.Fatal(err)
	}
	return s
}
