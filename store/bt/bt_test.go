package bt

import (
	"context"
	"testing"

	"cloud.google.com/go/bigtable"
	"cloud.google.com/go/bigtable/bttest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/bobg/habs"
	"github.com/bobg/habs/testutil"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	testutil.ReadWrite(ctx, t, testStore(ctx, t))
}

func TestListRefs(t *testing.T) {
	ctx := context.Background()
	testutil.ListRefs(ctx, t, testStore(ctx, t))
}

func TestKeys(t *testing.T) {
	ref := habs.RefOf([]byte("foo"))
	key := blobKey(ref)
	if key != "b:"+ref.String() {
		t.Errorf("got key %s", key)
	}
	got, err := refFromKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if got != ref {
		t.Errorf("got %s, want %s", got, ref)
	}
	if _, err = refFromKey("a:xyz"); err == nil {
		t.Error("got no error for malformed key")
	}
}

// testStore makes a Store in an in-memory Bigtable emulator.
func testStore(ctx context.Context, t *testing.T) *Store {
	t.Helper()

	srv, err := bttest.NewServer("localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Close)

	dial := func() option.ClientOption {
		conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			t.Fatal(err)
		}
		return option.WithGRPCConn(conn)
	}

	const (
		project  = "project"
		instance = "instance"
		table    = "blobs"
	)

	adm, err := bigtable.NewAdminClient(ctx, project, instance, dial())
	if err != nil {
		t.Fatal(err)
	}
	defer adm.Close()
	if err = adm.CreateTable(ctx, table); err != nil {
		t.Fatal(err)
	}
	if err = adm.CreateColumnFamily(ctx, table, Family); err != nil {
		t.Fatal(err)
	}

	client, err := bigtable.NewClient(ctx, project, instance, dial())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })

	return New(client.Open(table))
}
