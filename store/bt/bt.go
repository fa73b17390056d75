// Package bt implements a blob store on Google Cloud Bigtable.
package bt

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigtable"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"github.com/bobg/habs"
	"github.com/bobg/habs/store"
)

var (
	_ habs.Store  = &Store{}
	_ habs.Lister = &Store{}
)

// Store is a Google Cloud Bigtable-backed implementation of habs.Store.
type Store struct {
	t *bigtable.Table
}

const (
	blobcol = "blob"

	// Family is the column family holding blobs.
	// It must exist in the table.
	Family = "blob"
)

// New produces a new Store.
func New(t *bigtable.Table) *Store {
	return &Store{t: t}
}

// GetBlob gets the blob with hash ref.
func (s *Store) GetBlob(ctx context.Context, ref habs.Ref) ([]byte, error) {
	row, err := s.t.ReadRow(ctx, blobKey(ref), bigtable.RowFilter(bigtable.LatestNFilter(1)))
	if err != nil {
		return nil, errors.Wrapf(err, "reading row %s", ref)
	}
	items := row[Family]
	if len(items) == 0 {
		return nil, habs.ErrNotFound
	}
	return items[0].Value, nil
}

// HasBlob tells whether the store has a blob for ref.
func (s *Store) HasBlob(ctx context.Context, ref habs.Ref) (bool, error) {
	filter := bigtable.ChainFilters(bigtable.LatestNFilter(1), bigtable.StripValueFilter())
	row, err := s.t.ReadRow(ctx, blobKey(ref), bigtable.RowFilter(filter))
	if err != nil {
		return false, errors.Wrapf(err, "reading row %s", ref)
	}
	return len(row[Family]) > 0, nil
}

// SetBlob stores b under ref unless a blob is already there.
func (s *Store) SetBlob(ctx context.Context, ref habs.Ref, b []byte) error {
	mut := bigtable.NewMutation()
	mut.Set(Family, blobcol, bigtable.Now(), b)

	// Apply mut only when the row is empty.
	cmut := bigtable.NewCondMutation(bigtable.LatestNFilter(1), nil, mut)

	err := s.t.Apply(ctx, blobKey(ref), cmut)
	return errors.Wrapf(err, "writing row %s", ref)
}

// ListRefs produces all blob refs in the store, in lexicographic order.
func (s *Store) ListRefs(ctx context.Context, start habs.Ref, f func(habs.Ref) error) error {
	var innerErr error
	rowFn := func(row bigtable.Row) bool {
		key := row.Key()
		ref, err := refFromKey(key)
		if err != nil {
			innerErr = errors.Wrapf(err, "extracting ref from key %s", key)
			return false
		}
		if err = f(ref); err != nil {
			innerErr = err
			return false
		}
		return true
	}

	// All keys have the same length,
	// so the first one after start is at least start's key plus a character.
	// The range ends before "b;", the successor of the "b:" prefix.
	rng := bigtable.NewRange(blobKey(start)+"0", "b;")
	filter := bigtable.ChainFilters(bigtable.LatestNFilter(1), bigtable.StripValueFilter())
	if err := s.t.ReadRows(ctx, rng, rowFn, bigtable.RowFilter(filter)); err != nil {
		return errors.Wrap(err, "reading rows")
	}
	return innerErr
}

func (s *Store) String() string { return "bt" }

func blobKey(ref habs.Ref) string {
	return fmt.Sprintf("b:%x", ref[:])
}

func refFromKey(key string) (habs.Ref, error) {
	if len(key) < 2 || key[:2] != "b:" {
		return habs.Zero, fmt.Errorf("malformed key %s", key)
	}
	return habs.RefFromHex(key[2:])
}

func init() {
	store.Register("bt", func(ctx context.Context, conf map[string]interface{}) (habs.Store, error) {
		project, ok := conf["project"].(string)
		if !ok {
			return nil, errors.New(`missing "project" parameter`)
		}
		instance, ok := conf["instance"].(string)
		if !ok {
			return nil, errors.New(`missing "instance" parameter`)
		}
		table, ok := conf["table"].(string)
		if !ok {
			return nil, errors.New(`missing "table" parameter`)
		}

		var options []option.ClientOption
		if creds, ok := conf["creds"].(string); ok {
			options = append(options, option.WithCredentialsFile(creds))
		}
		c, err := bigtable.NewClient(ctx, project, instance, options...)
		if err != nil {
			return nil, errors.Wrap(err, "creating bigtable client")
		}
		return New(c.Open(table)), nil
	})
}
