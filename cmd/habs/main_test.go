package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/bobg/habs"
	"github.com/bobg/habs/hashgroup"
	"github.com/bobg/habs/hashgroup/badgerindex"
	"github.com/bobg/habs/hashgroup/sqlindex"
	"github.com/bobg/habs/store/file"
)

func run(ctx context.Context, t *testing.T, config string, args ...string) {
	t.Helper()

	a := &app{v: viper.New()}
	cmd := a.rootCmd()
	cmd.SetArgs(append([]string{"--config", config}, args...))
	err := cmd.ExecuteContext(ctx)
	require.NoError(t, multierr.Append(err, a.close()), "%v", args)
}

func TestIngestAndSync(t *testing.T) {
	ctx := context.Background()

	var (
		dir       = t.TempDir()
		primary   = filepath.Join(dir, "primary")
		secondary = filepath.Join(dir, "secondary")
		indexConn = filepath.Join(dir, "index.db") + "?_txlock=immediate&_busy_timeout=10000"
		peerRoot  = filepath.Join(dir, "peer")
		peerIndex = filepath.Join(dir, "peer-index")
		config    = filepath.Join(dir, "habs.json")
		input     = filepath.Join(dir, "input")
	)

	conf := map[string]interface{}{
		"store": map[string]interface{}{
			"type":      "ha",
			"primary":   map[string]interface{}{"type": "file", "root": primary},
			"secondary": map[string]interface{}{"type": "file", "root": secondary},
		},
		"index": map[string]interface{}{"type": "sqlite3", "conn": indexConn, "prefix_len": 2},
		"peer": map[string]interface{}{
			"store": map[string]interface{}{"type": "file", "root": peerRoot},
			"index": map[string]interface{}{"type": "badger", "dir": peerIndex, "prefix_len": 2},
		},
		"log": map[string]interface{}{"level": "error"},
	}
	b, err := json.Marshal(conf)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(config, b, 0644))

	inp := make([]byte, 100*1024)
	rand.New(rand.NewSource(1)).Read(inp)
	require.NoError(t, os.WriteFile(input, inp, 0644))

	run(ctx, t, config, "ingest", "--min-size", "512", "--bits", "12", input)
	run(ctx, t, config, "recompute")
	run(ctx, t, config, "group", "--children")
	run(ctx, t, config, "sync", "--push")
	run(ctx, t, config, "diff")

	// Every blob reached the secondary and the peer.
	var refs []habs.Ref
	err = file.New(primary).ListRefs(ctx, habs.Zero, func(ref habs.Ref) error {
		refs = append(refs, ref)
		return nil
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(refs), 2, "want chunks plus a manifest")
	for _, root := range []string{secondary, peerRoot} {
		s := file.New(root)
		for _, ref := range refs {
			has, err := s.HasBlob(ctx, ref)
			require.NoError(t, err)
			assert.True(t, has, "%s lacks blob %s", root, ref)
		}
	}

	// Both indexes agree.
	db, err := sql.Open("sqlite3", indexConn)
	require.NoError(t, err)
	defer db.Close()
	sidx, err := sqlindex.New(ctx, db)
	require.NoError(t, err)
	bidx, err := badgerindex.Open(peerIndex)
	require.NoError(t, err)
	defer bidx.Close()

	var hashes []string
	for _, idx := range []hashgroup.Index{sidx, bidx} {
		g, err := idx.Group(ctx, hashgroup.RootName)
		require.NoError(t, err)
		assert.Equal(t, hashgroup.Valid, g.Status)
		hashes = append(hashes, g.ContentHash)
	}
	assert.Equal(t, hashes[0], hashes[1], "root hashes differ")
}

func TestMetricsServer(t *testing.T) {
	var (
		ctx    = context.Background()
		dir    = t.TempDir()
		config = filepath.Join(dir, "habs.yaml")
	)
	conf := "store:\n  type: mem\nlog:\n  level: error\nmetrics:\n  addr: localhost:0\n"
	require.NoError(t, os.WriteFile(config, []byte(conf), 0644))

	run(ctx, t, config, "has", habs.RefOf([]byte("x")).String())
}

func TestRepair(t *testing.T) {
	var (
		ctx       = context.Background()
		dir       = t.TempDir()
		primary   = filepath.Join(dir, "primary")
		secondary = filepath.Join(dir, "secondary")
		config    = filepath.Join(dir, "habs.json")
	)

	conf := map[string]interface{}{
		"store": map[string]interface{}{
			"type":      "ha",
			"primary":   map[string]interface{}{"type": "file", "root": primary},
			"secondary": map[string]interface{}{"type": "file", "root": secondary},
		},
		"log": map[string]interface{}{"level": "error"},
	}
	b, err := json.Marshal(conf)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(config, b, 0644))

	// Blobs written behind the ha store's back, some to each side.
	var (
		ps   = file.New(primary)
		ss   = file.New(secondary)
		refs []habs.Ref
	)
	for i := 0; i < 10; i++ {
		blob := []byte{byte(i)}
		ref := habs.RefOf(blob)
		target := ps
		if i%3 == 0 {
			target = ss
		}
		require.NoError(t, target.SetBlob(ctx, ref, blob))
		refs = append(refs, ref)
	}

	run(ctx, t, config, "repair")

	for _, s := range []*file.Store{ps, ss} {
		for _, ref := range refs {
			has, err := s.HasBlob(ctx, ref)
			require.NoError(t, err)
			assert.True(t, has, "%s lacks %s", s, ref)
		}
	}
}
