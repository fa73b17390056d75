// Package testutil holds helpers shared by the tests of blob-store implementations.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bobg/habs"
)

// ReadWrite permits testing a Store implementation
// by writing some blobs to it,
// then reading them back out to make sure they're the same.
func ReadWrite(ctx context.Context, t *testing.T, s habs.Store) {
	t.Helper()

	blobs := Blobs(20)
	for _, b := range blobs {
		if err := s.SetBlob(ctx, habs.RefOf(b), b); err != nil {
			t.Fatal(err)
		}
	}

	// Writes are idempotent.
	if err := s.SetBlob(ctx, habs.RefOf(blobs[0]), blobs[0]); err != nil {
		t.Fatalf("rewriting blob: %s", err)
	}

	for i, b := range blobs {
		ref := habs.RefOf(b)
		got, err := s.GetBlob(ctx, ref)
		if err != nil {
			t.Fatalf("getting blob %d (%s): %s", i, ref, err)
		}
		if !bytes.Equal(got, b) {
			t.Errorf("blob %d: got %q, want %q", i, got, b)
		}
		has, err := s.HasBlob(ctx, ref)
		if err != nil {
			t.Fatal(err)
		}
		if !has {
			t.Errorf("blob %d: HasBlob is false", i)
		}
	}

	missing := habs.RefOf([]byte("missing"))
	if _, err := s.GetBlob(ctx, missing); !errors.Is(err, habs.ErrNotFound) {
		t.Errorf("got %v for missing blob, want ErrNotFound", err)
	}
	has, err := s.HasBlob(ctx, missing)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("HasBlob is true for missing blob")
	}
}

// Blobs produces n distinct blobs.
func Blobs(n int) [][]byte {
	result := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		result = append(result, []byte(fmt.Sprintf("blob number %d", i)))
	}
	return result
}
