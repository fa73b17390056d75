// Package badgerindex implements hashgroup.Index in a Badger key-value store.
//
// Groups are msgpack-encoded under "g/<name>".
// The status and parent lookups are empty-valued keys
// "s/<status>/<name>" and "c/<parent>/<name>",
// and leaves are "l/<parent>/<ref hex>".
// Group names never contain a slash.
package badgerindex

import (
	"context"
	stderrs "errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/bobg/habs"
	"github.com/bobg/habs/hashgroup"
	"github.com/bobg/habs/store"
)

var _ hashgroup.Index = &Index{}

// maxConflicts bounds the retries of a transaction that lost a race with another writer.
const maxConflicts = 32

// Index is a hashgroup.Index backed by Badger.
type Index struct {
	db     *badger.DB
	logger *zap.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	inMemory bool
	logger   *zap.Logger
}

// InMemory keeps the index in memory only.
// The directory passed to Open is ignored.
func InMemory() Option {
	return func(o *options) { o.inMemory = true }
}

// WithLogger sets the logger for the index and for Badger itself.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Open opens (or creates) a Badger database in dir.
func Open(dir string, opts ...Option) (*Index, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	bopts := badger.DefaultOptions(dir)
	if o.inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.Logger = badgerLogger{s: o.logger.Named("badger").Sugar()}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger db in %s", dir)
	}
	return New(db, o.logger), nil
}

// New produces an Index using an already-open database.
func New(db *badger.DB, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{db: db, logger: logger}
}

// Close closes the underlying database.
func (x *Index) Close() error {
	return x.db.Close()
}

func groupKey(name string) []byte {
	return []byte("g/" + name)
}

func statusPrefix(status hashgroup.Status) []byte {
	return []byte("s/" + string(status) + "/")
}

func childPrefix(parent string) []byte {
	return []byte("c/" + parent + "/")
}

func leafPrefix(parent string) []byte {
	return []byte("l/" + parent + "/")
}

func withName(prefix []byte, name string) []byte {
	return append(append([]byte{}, prefix...), name...)
}

func (x *Index) Group(ctx context.Context, name string) (*hashgroup.Group, error) {
	var g *hashgroup.Group
	err := x.db.View(func(txn *badger.Txn) error {
		var err error
		g, err = getGroup(txn, name)
		return err
	})
	return g, err
}

func getGroup(txn *badger.Txn, name string) (*hashgroup.Group, error) {
	item, err := txn.Get(groupKey(name))
	if stderrs.Is(err, badger.ErrKeyNotFound) {
		return nil, habs.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting group %s", name)
	}
	g := new(hashgroup.Group)
	err = item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, g)
	})
	return g, errors.Wrapf(err, "decoding group %s", name)
}

// update runs fn in a read-write transaction,
// retrying when it conflicts with a concurrent one.
func (x *Index) update(ctx context.Context, fn func(*badger.Txn) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := x.db.Update(fn)
		if !stderrs.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt == maxConflicts {
			return errors.Wrapf(err, "after %d attempts", attempt)
		}
		x.logger.Debug("transaction conflict, retrying", zap.Int("attempt", attempt))
	}
}

// Update may call f more than once if the transaction conflicts with another.
func (x *Index) Update(ctx context.Context, name string, f func(*hashgroup.Group) (*hashgroup.Group, error)) error {
	return x.update(ctx, func(txn *badger.Txn) error {
		cur, err := getGroup(txn, name)
		if stderrs.Is(err, habs.ErrNotFound) {
			cur, err = nil, nil
		}
		if err != nil {
			return err
		}

		var old hashgroup.Group
		if cur != nil {
			old = *cur
		}
		next, err := f(cur)
		if err != nil || next == nil {
			return err
		}

		if cur != nil {
			if err = txn.Delete(withName(statusPrefix(old.Status), name)); err != nil {
				return errors.Wrap(err, "deleting status key")
			}
			if err = txn.Delete(withName(childPrefix(old.Parent), name)); err != nil {
				return errors.Wrap(err, "deleting parent key")
			}
		}

		val, err := msgpack.Marshal(next)
		if err != nil {
			return errors.Wrapf(err, "encoding group %s", name)
		}
		if err = txn.Set(groupKey(name), val); err != nil {
			return errors.Wrapf(err, "storing group %s", name)
		}
		if err = txn.Set(withName(statusPrefix(next.Status), name), nil); err != nil {
			return errors.Wrap(err, "storing status key")
		}
		return errors.Wrap(txn.Set(withName(childPrefix(next.Parent), name), nil), "storing parent key")
	})
}

func (x *Index) GroupsByStatus(ctx context.Context, status hashgroup.Status, f func(*hashgroup.Group) error) error {
	return x.eachGroup(ctx, statusPrefix(status), f)
}

func (x *Index) ChildGroups(ctx context.Context, parent string, f func(*hashgroup.Group) error) error {
	return x.eachGroup(ctx, childPrefix(parent), f)
}

// eachGroup reads the groups named by the keys under prefix in one transaction,
// then calls f on each outside it.
func (x *Index) eachGroup(ctx context.Context, prefix []byte, f func(*hashgroup.Group) error) error {
	var groups []*hashgroup.Group
	err := x.db.View(func(txn *badger.Txn) error {
		names, err := keysWithPrefix(ctx, txn, prefix)
		if err != nil {
			return err
		}
		for _, name := range names {
			g, err := getGroup(txn, name)
			if err != nil {
				return err
			}
			groups = append(groups, g)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f(g); err != nil {
			return err
		}
	}
	return nil
}

// keysWithPrefix returns the suffixes of the keys beginning with prefix, in order.
func keysWithPrefix(ctx context.Context, txn *badger.Txn, prefix []byte) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()

	var result []string
	for it.Rewind(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := it.Item().Key()
		result = append(result, string(key[len(prefix):]))
	}
	return result, nil
}

func (x *Index) PutLeaf(ctx context.Context, parent string, ref habs.Ref) error {
	return x.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(withName(leafPrefix(parent), ref.String()), nil)
	})
}

func (x *Index) DeleteLeaf(ctx context.Context, parent string, ref habs.Ref) error {
	return x.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(withName(leafPrefix(parent), ref.String()))
	})
}

func (x *Index) Leaves(ctx context.Context, parent string, f func(habs.Ref) error) error {
	var names []string
	err := x.db.View(func(txn *badger.Txn) error {
		var err error
		names, err = keysWithPrefix(ctx, txn, leafPrefix(parent))
		return err
	})
	if err != nil {
		return err
	}

	for _, name := range names {
		ref, err := habs.RefFromHex(name)
		if err != nil {
			return errors.Wrapf(err, "decoding leaf key %s", name)
		}
		if err = f(ref); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.s.Infof(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }

func init() {
	hashgroup.RegisterIndex("badger", func(_ context.Context, conf map[string]interface{}) (hashgroup.Index, error) {
		inMemory, err := store.Bool(conf, "in_memory", false)
		if err != nil {
			return nil, err
		}
		if inMemory {
			return Open("", InMemory(), WithLogger(zap.L().Named("index")))
		}
		dir, ok := conf["dir"].(string)
		if !ok {
			return nil, errors.New(`missing "dir" parameter`)
		}
		return Open(dir, WithLogger(zap.L().Named("index")))
	})
}
