// Package pg implements a blob store in a Postgresql database.
package pg

import (
	"context"
	"database/sql"
	stderrs "errors"

	_ "github.com/lib/pq" // register the postgres type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/habs"
	"github.com/bobg/habs/store"
)

var (
	_ habs.Store  = &Store{}
	_ habs.Lister = &Store{}
)

// Store is a Postgresql-based blob store.
type Store struct {
	db *sql.DB
}

// Schema is the SQL that New executes.
// It creates the `blobs` table if it does not exist.
// (If it does exist, it must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS blobs (
  ref BYTEA PRIMARY KEY NOT NULL,
  data BYTEA NOT NULL
);
`

// New produces a new Store using `db` for storage.
// It expects to create table `blobs`,
// or for that table already to exist with the correct schema.
// (See variable Schema.)
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(ctx, Schema)
	return &Store{db: db}, errors.Wrap(err, "creating schema")
}

// GetBlob gets the blob with hash `ref`.
func (s *Store) GetBlob(ctx context.Context, ref habs.Ref) ([]byte, error) {
	const q = `SELECT data FROM blobs WHERE ref = $1`

	var result []byte
	err := s.db.QueryRowContext(ctx, q, ref).Scan(&result)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil, habs.ErrNotFound
	}
	return result, errors.Wrapf(err, "querying blob %s", ref)
}

// HasBlob tells whether the store has a blob for ref.
func (s *Store) HasBlob(ctx context.Context, ref habs.Ref) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM blobs WHERE ref = $1)`

	var result bool
	err := s.db.QueryRowContext(ctx, q, ref).Scan(&result)
	return result, errors.Wrapf(err, "checking blob %s", ref)
}

// SetBlob adds a blob to the store if it wasn't already present.
func (s *Store) SetBlob(ctx context.Context, ref habs.Ref, b []byte) error {
	const q = `INSERT INTO blobs (ref, data) VALUES ($1, $2) ON CONFLICT DO NOTHING`

	_, err := s.db.ExecContext(ctx, q, ref, b)
	return errors.Wrapf(err, "inserting blob %s", ref)
}

// ListRefs produces all blob refs in the store, in lexical order.
func (s *Store) ListRefs(ctx context.Context, start habs.Ref, f func(habs.Ref) error) error {
	const q = `SELECT ref FROM blobs WHERE ref > $1 ORDER BY ref`
	rows, err := s.db.QueryContext(ctx, q, start)
	if err != nil {
		return errors.Wrap(err, "querying starting position")
	}
	defer rows.Close()

	for rows.Next() {
		var ref habs.Ref
		err := rows.Scan(&ref)
		if err != nil {
			return errors.Wrap(err, "scanning query result")
		}
		if err = f(ref); err != nil {
			return err
		}
	}
	return errors.Wrap(rows.Err(), "iterating over result rows")
}

func (s *Store) String() string { return "pg" }

func init() {
	store.Register("pg", func(ctx context.Context, conf map[string]interface{}) (habs.Store, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		db, err := sql.Open("postgres", conn)
		if err != nil {
			return nil, errors.Wrap(err, "opening db")
		}
		return New(ctx, db)
	})
}
