package split

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/bobg/habs"
	"github.com/bobg/habs/store/mem"
)

func TestSplitEmpty(t *testing.T) {
	m := mem.New()
	w := NewWriter(context.Background(), m)
	err := w.Close()
	if err != nil {
		t.Fatal(err)
	}
	if w.Root != habs.Zero {
		t.Errorf("got Root of %s, want %s", w.Root, habs.Zero)
	}
	if m.Len() != 0 {
		t.Errorf("got %d blobs for empty input, want 0", m.Len())
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()

	inp := make([]byte, 256*1024)
	rand.New(rand.NewSource(1)).Read(inp)

	m := mem.New()
	w := NewWriter(ctx, m, MinSize(512), Bits(12))
	if _, err := w.Write(inp); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	chunks := w.Chunks()
	if len(chunks) < 2 {
		t.Errorf("got %d chunks, want several", len(chunks))
	}
	// The chunks plus the manifest, less any duplicate chunks.
	if m.Len() > len(chunks)+1 {
		t.Errorf("store has %d blobs, want at most %d", m.Len(), len(chunks)+1)
	}

	var buf bytes.Buffer
	if err := Read(ctx, m, w.Root, &buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), inp) {
		t.Error("reassembled output differs from input")
	}

	// Splitting is deterministic.
	root, err := Write(ctx, mem.New(), bytes.NewReader(inp), MinSize(512), Bits(12))
	if err != nil {
		t.Fatal(err)
	}
	if root != w.Root {
		t.Errorf("got root %s on second split, want %s", root, w.Root)
	}
}
