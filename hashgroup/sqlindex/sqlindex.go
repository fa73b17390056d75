// Package sqlindex implements hashgroup.Index in a Sqlite database.
package sqlindex

import (
	"context"
	"database/sql"
	stderrs "errors"

	"github.com/bobg/sqlutil"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/habs"
	"github.com/bobg/habs/hashgroup"
)

var _ hashgroup.Index = &Index{}

// Schema is the SQL that New executes.
// It creates the `hash_groups` and `hash_group_leaves` tables if they do not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS hash_groups (
  name TEXT PRIMARY KEY NOT NULL,
  parent TEXT NOT NULL,
  content_hash TEXT NOT NULL,
  status TEXT NOT NULL,
  version INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS hash_groups_status ON hash_groups (status);
CREATE INDEX IF NOT EXISTS hash_groups_parent ON hash_groups (parent);

CREATE TABLE IF NOT EXISTS hash_group_leaves (
  parent TEXT NOT NULL,
  ref BLOB NOT NULL,
  PRIMARY KEY (parent, ref)
);
`

// Index is a hashgroup.Index stored in Sqlite.
type Index struct {
	db *sql.DB
}

// New produces a new Index using db for storage,
// creating its tables if needed.
//
// Update reads and then writes a group in one transaction.
// For that to be safe against concurrent writers
// the database should be opened with _txlock=immediate
// (and a _busy_timeout).
func New(ctx context.Context, db *sql.DB) (*Index, error) {
	_, err := db.ExecContext(ctx, Schema)
	return &Index{db: db}, errors.Wrap(err, "creating schema")
}

// Close closes the underlying database.
func (x *Index) Close() error {
	return x.db.Close()
}

const groupCols = `name, parent, content_hash, status, version`

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getGroup(ctx context.Context, db queryRower, name string) (*hashgroup.Group, error) {
	const q = `SELECT ` + groupCols + ` FROM hash_groups WHERE name = $1`

	var g hashgroup.Group
	err := db.QueryRowContext(ctx, q, name).Scan(&g.Name, &g.Parent, &g.ContentHash, &g.Status, &g.Version)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil, habs.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "querying group %s", name)
	}
	return &g, nil
}

func (x *Index) Group(ctx context.Context, name string) (*hashgroup.Group, error) {
	return getGroup(ctx, x.db, name)
}

func (x *Index) Update(ctx context.Context, name string, f func(*hashgroup.Group) (*hashgroup.Group, error)) (err error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	cur, err := getGroup(ctx, tx, name)
	if stderrs.Is(err, habs.ErrNotFound) {
		cur, err = nil, nil
	}
	if err != nil {
		return err
	}
	next, err := f(cur)
	if err != nil {
		return err
	}
	if next == nil {
		return tx.Rollback()
	}

	const q = `INSERT INTO hash_groups (` + groupCols + `) VALUES ($1, $2, $3, $4, $5)
    ON CONFLICT (name) DO UPDATE SET parent = excluded.parent, content_hash = excluded.content_hash, status = excluded.status, version = excluded.version`
	_, err = tx.ExecContext(ctx, q, name, next.Parent, next.ContentHash, string(next.Status), int64(next.Version))
	if err != nil {
		return errors.Wrapf(err, "storing group %s", name)
	}
	return errors.Wrap(tx.Commit(), "committing")
}

func (x *Index) GroupsByStatus(ctx context.Context, status hashgroup.Status, f func(*hashgroup.Group) error) error {
	const q = `SELECT ` + groupCols + ` FROM hash_groups WHERE status = $1 ORDER BY name`
	return x.eachGroup(ctx, q, string(status), f)
}

func (x *Index) ChildGroups(ctx context.Context, parent string, f func(*hashgroup.Group) error) error {
	const q = `SELECT ` + groupCols + ` FROM hash_groups WHERE parent = $1 ORDER BY name`
	return x.eachGroup(ctx, q, parent, f)
}

// eachGroup reads all the rows of the query before calling f on any of them,
// so f may update the index.
func (x *Index) eachGroup(ctx context.Context, q string, arg string, f func(*hashgroup.Group) error) error {
	var groups []*hashgroup.Group
	err := sqlutil.ForQueryRows(ctx, x.db, q, arg, func(name, parent, hash, status string, version int64) {
		groups = append(groups, &hashgroup.Group{
			Name:        name,
			Parent:      parent,
			ContentHash: hash,
			Status:      hashgroup.Status(status),
			Version:     uint64(version),
		})
	})
	if err != nil {
		return errors.Wrap(err, "querying groups")
	}
	for _, g := range groups {
		if err = f(g); err != nil {
			return err
		}
	}
	return nil
}

func (x *Index) PutLeaf(ctx context.Context, parent string, ref habs.Ref) error {
	const q = `INSERT INTO hash_group_leaves (parent, ref) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	_, err := x.db.ExecContext(ctx, q, parent, ref)
	return errors.Wrapf(err, "inserting leaf %s", ref)
}

func (x *Index) DeleteLeaf(ctx context.Context, parent string, ref habs.Ref) error {
	const q = `DELETE FROM hash_group_leaves WHERE parent = $1 AND ref = $2`
	_, err := x.db.ExecContext(ctx, q, parent, ref)
	return errors.Wrapf(err, "deleting leaf %s", ref)
}

func (x *Index) Leaves(ctx context.Context, parent string, f func(habs.Ref) error) error {
	const q = `SELECT ref FROM hash_group_leaves WHERE parent = $1 ORDER BY ref`

	var refs []habs.Ref
	err := sqlutil.ForQueryRows(ctx, x.db, q, parent, func(ref habs.Ref) {
		refs = append(refs, ref)
	})
	if err != nil {
		return errors.Wrapf(err, "querying leaves of %s", parent)
	}
	for _, ref := range refs {
		if err = f(ref); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	hashgroup.RegisterIndex("sqlite3", func(ctx context.Context, conf map[string]interface{}) (hashgroup.Index, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		db, err := sql.Open("sqlite3", conn)
		if err != nil {
			return nil, errors.Wrap(err, "opening db")
		}
		return New(ctx, db)
	})
}
