// Package split stores large inputs in a blob store as content-defined chunks.
// See github.com/bobg/hashsplit for more information.
//
// Each chunk is a separate blob.
// A manifest blob lists the chunks in order,
// and its ref stands for the whole input.
package split

import (
	"context"
	"io"

	"github.com/bobg/hashsplit"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/bobg/habs"
)

// Manifest is the content of a manifest blob.
type Manifest struct {
	Size   uint64   `msgpack:"size"`
	Chunks [][]byte `msgpack:"chunks"`
}

// Writer is an io.WriteCloser that splits its input with a hashsplit.Splitter,
// writing the chunks to a habs.Store as separate blobs.
// Close writes the manifest.
// Its ref is available as Writer.Root after Close.
type Writer struct {
	Ctx  context.Context
	Root habs.Ref // populated by Close

	st       habs.Store
	spl      *hashsplit.Splitter
	manifest Manifest
	closed   bool
}

// NewWriter produces a new Writer writing to the given blob store.
// The given context object is stored in the Writer and used in subsequent calls to Write and Close.
// This is an antipattern but acceptable when an object must adhere to a context-free stdlib interface
// (https://github.com/golang/go/wiki/CodeReviewComments#contexts).
// Callers may replace the context object during the lifetime of the Writer as needed.
func NewWriter(ctx context.Context, st habs.Store, opts ...Option) *Writer {
	w := &Writer{
		Ctx: ctx,
		st:  st,
	}
	spl := hashsplit.NewSplitter(func(bytes []byte, _ uint) error {
		chunk := append([]byte(nil), bytes...)
		ref := habs.RefOf(chunk)
		if err := st.SetBlob(w.Ctx, ref, chunk); err != nil {
			return errors.Wrapf(err, "writing chunk %s", ref)
		}
		w.manifest.Size += uint64(len(chunk))
		w.manifest.Chunks = append(w.manifest.Chunks, ref[:])
		return nil
	})
	spl.MinSize = 1024
	spl.SplitBits = 14
	w.spl = spl
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write implements io.Writer.
func (w *Writer) Write(inp []byte) (int, error) {
	return w.spl.Write(inp)
}

// Close implements io.Closer.
// An empty input produces no manifest,
// and Root remains the zero ref.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.spl.Close(); err != nil {
		return err
	}
	if len(w.manifest.Chunks) == 0 {
		return nil
	}
	b, err := msgpack.Marshal(&w.manifest)
	if err != nil {
		return errors.Wrap(err, "encoding manifest")
	}
	ref := habs.RefOf(b)
	if err = w.st.SetBlob(w.Ctx, ref, b); err != nil {
		return errors.Wrapf(err, "writing manifest %s", ref)
	}
	w.Root = ref
	return nil
}

// Chunks returns the refs of the chunks written so far.
func (w *Writer) Chunks() []habs.Ref {
	refs := make([]habs.Ref, 0, len(w.manifest.Chunks))
	for _, c := range w.manifest.Chunks {
		refs = append(refs, habs.RefFromBytes(c))
	}
	return refs
}

// Option configures a Writer.
type Option func(*Writer)

// Bits sets the number of trailing zero bits in the rolling checksum that mark a chunk boundary.
func Bits(n uint) Option {
	return func(w *Writer) {
		w.spl.SplitBits = n
	}
}

// MinSize sets the minimum chunk size.
func MinSize(n int) Option {
	return func(w *Writer) {
		w.spl.MinSize = n
	}
}

// Write copies r into st with a new Writer and returns the manifest ref.
func Write(ctx context.Context, st habs.Store, r io.Reader, opts ...Option) (habs.Ref, error) {
	w := NewWriter(ctx, st, opts...)
	if _, err := io.Copy(w, r); err != nil {
		return habs.Zero, errors.Wrap(err, "splitting input")
	}
	if err := w.Close(); err != nil {
		return habs.Zero, err
	}
	return w.Root, nil
}

// GetManifest reads the manifest blob with the given ref.
func GetManifest(ctx context.Context, g habs.Getter, ref habs.Ref) (*Manifest, error) {
	b, err := g.GetBlob(ctx, ref)
	if err != nil {
		return nil, errors.Wrapf(err, "getting manifest %s", ref)
	}
	var m Manifest
	if err = msgpack.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrapf(err, "decoding manifest %s", ref)
	}
	return &m, nil
}

// readAhead is how many chunks Read fetches at once.
const readAhead = 8

// Read reads blobs from g,
// reassembling the input whose manifest has the given ref
// and writing it to w.
// Chunks are fetched a few at a time, concurrently.
func Read(ctx context.Context, g habs.Getter, ref habs.Ref, w io.Writer) error {
	m, err := GetManifest(ctx, g, ref)
	if err != nil {
		return err
	}
	var n uint64
	for len(m.Chunks) > 0 {
		k := readAhead
		if k > len(m.Chunks) {
			k = len(m.Chunks)
		}
		refs := make([]habs.Ref, k)
		for i, c := range m.Chunks[:k] {
			refs[i] = habs.RefFromBytes(c)
		}
		m.Chunks = m.Chunks[k:]

		blobs, err := habs.GetMulti(ctx, g, refs, readAhead)
		if err != nil {
			return errors.Wrapf(err, "getting chunks of %s", ref)
		}
		for _, chunkRef := range refs {
			b := blobs[chunkRef]
			if _, err = w.Write(b); err != nil {
				return errors.Wrap(err, "writing chunk")
			}
			n += uint64(len(b))
		}
	}
	if n != m.Size {
		return errors.Errorf("manifest %s: read %d bytes, want %d", ref, n, m.Size)
	}
	return nil
}
