package transform

import (
	"bytes"
	"compress/lzw"
	"context"
	"testing"

	"github.com/bobg/habs"
	"github.com/bobg/habs/store"
	"github.com/bobg/habs/store/mem"
	"github.com/bobg/habs/testutil"
)

func TestTransform(t *testing.T) {
	ctx := context.Background()

	t.Run("lzw", func(t *testing.T) {
		t.Run("lsb", func(t *testing.T) {
			testutil.ReadWrite(ctx, t, New(mem.New(), LZW{Order: lzw.LSB}))
		})
		t.Run("msb", func(t *testing.T) {
			testutil.ReadWrite(ctx, t, New(mem.New(), LZW{Order: lzw.MSB}))
		})
	})
	t.Run("flate", func(t *testing.T) {
		for i := -2; i <= 9; i++ {
			testutil.ReadWrite(ctx, t, New(mem.New(), Flate{Level: i}))
		}
	})
}

func TestCompresses(t *testing.T) {
	ctx := context.Background()

	var (
		nested = mem.New()
		s      = New(nested, Flate{Level: 9})
		blob   = bytes.Repeat([]byte("all work and no play makes jack a dull boy. "), 100)
		ref    = habs.RefOf(blob)
	)
	if err := s.SetBlob(ctx, ref, blob); err != nil {
		t.Fatal(err)
	}
	stored, err := nested.GetBlob(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) >= len(blob) {
		t.Errorf("stored %d bytes for a %d-byte blob", len(stored), len(blob))
	}
	if err = habs.SHA256.VerifyHash(bytes.NewReader(stored), ref); err == nil {
		t.Error("nested store holds the untransformed blob")
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	for _, transformer := range []string{"lzw", "flate"} {
		s, err := store.FromConfig(ctx, map[string]interface{}{
			"type":        "transform",
			"transformer": transformer,
			"nested":      map[string]interface{}{"type": "mem"},
		})
		if err != nil {
			t.Fatalf("%s: %s", transformer, err)
		}
		testutil.ReadWrite(ctx, t, s)
	}

	_, err := store.FromConfig(ctx, map[string]interface{}{
		"type":        "transform",
		"transformer": "rot13",
		"nested":      map[string]interface{}{"type": "mem"},
	})
	if err == nil {
		t.Error("got no error for unknown transformer")
	}
}
