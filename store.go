package habs

import "context"

// Getter is a read-only Store (qv).
type Getter interface {
	// GetBlob gets a blob by its ref.
	// A missing blob is reported as ErrNotFound.
	// Any other error means the backend could not answer.
	GetBlob(context.Context, Ref) ([]byte, error)
}

// Store is a blob store.
// It stores byte sequences - "blobs" - of arbitrary length,
// each under the ref of its content.
//
// Because refs are computed from content,
// writing the same blob twice is harmless,
// and so is retrying a failed write.
type Store interface {
	Getter

	// SetBlob stores b under ref.
	// Implementations need not verify that ref is the hash of b.
	SetBlob(ctx context.Context, ref Ref, b []byte) error

	// HasBlob tells whether the store has a blob for ref.
	HasBlob(context.Context, Ref) (bool, error)
}

// Lister is implemented by stores that can enumerate their refs.
type Lister interface {
	// ListRefs calls a function for each blob ref in the store in lexicographic order,
	// beginning with the first ref _after_ the specified one.
	//
	// If the callback function returns an error,
	// ListRefs exits with that error.
	ListRefs(context.Context, Ref, func(Ref) error) error
}
