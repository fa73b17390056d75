package hashgroup

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/habs"
)

// DefaultDepth is the number of group levels below the root when Config.Depth is zero.
const DefaultDepth = 2

// maxAttempts bounds the retries of a single group's recompute
// when its children keep changing underneath it.
// A group that exhausts them stays invalid until the next Recompute.
const maxAttempts = 16

var (
	// ErrStale is returned when a group's hash is needed but the group is invalid.
	ErrStale = errors.New("group hash is stale")

	errChanged = errors.New("group changed during recompute")
)

// Config is the layout of a tree.
// Two trees can be compared efficiently only if they have the same layout.
type Config struct {
	// PrefixLen is the number of hex digits each level adds to a group name.
	// It must be positive.
	PrefixLen int

	// Depth is the number of group levels below the root.
	// Zero means DefaultDepth.
	Depth int
}

// Tree is a hash-group tree stored in an Index.
// It is safe for concurrent use.
type Tree struct {
	idx    Index
	conf   Config
	logger *zap.Logger
}

// Option configures a Tree.
type Option func(*Tree)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tree) { t.logger = logger }
}

// New produces a Tree with the given layout over the given index.
func New(idx Index, conf Config, opts ...Option) (*Tree, error) {
	if conf.PrefixLen <= 0 {
		return nil, errors.Errorf("prefix length %d must be positive", conf.PrefixLen)
	}
	if conf.Depth == 0 {
		conf.Depth = DefaultDepth
	}
	if conf.Depth < 0 || conf.PrefixLen*conf.Depth >= 2*len(habs.Zero) {
		return nil, errors.Errorf("prefix length %d and depth %d do not fit in a ref", conf.PrefixLen, conf.Depth)
	}
	t := &Tree{idx: idx, conf: conf, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Config returns the tree's layout.
func (t *Tree) Config() Config {
	return t.conf
}

// Ancestors returns the names of the groups containing ref,
// deepest first, ending with the root.
func (t *Tree) Ancestors(ref habs.Ref) []string {
	h := ref.String()
	names := make([]string, 0, t.conf.Depth+1)
	for d := t.conf.Depth; d > 0; d-- {
		names = append(names, h[:d*t.conf.PrefixLen])
	}
	return append(names, RootName)
}

func (t *Tree) depth(name string) int {
	if name == RootName {
		return 0
	}
	return len(name) / t.conf.PrefixLen
}

func (t *Tree) parent(name string) string {
	d := t.depth(name)
	if d <= 1 {
		return RootName
	}
	return name[:(d-1)*t.conf.PrefixLen]
}

// Insert records ref as a member of the collection
// and invalidates its ancestors.
func (t *Tree) Insert(ctx context.Context, ref habs.Ref) error {
	leafParent := t.Ancestors(ref)[0]
	if err := t.idx.PutLeaf(ctx, leafParent, ref); err != nil {
		return errors.Wrapf(err, "recording leaf %s", ref)
	}
	return t.Invalidate(ctx, ref)
}

// Remove removes ref from the collection
// and invalidates its ancestors.
func (t *Tree) Remove(ctx context.Context, ref habs.Ref) error {
	leafParent := t.Ancestors(ref)[0]
	if err := t.idx.DeleteLeaf(ctx, leafParent, ref); err != nil {
		return errors.Wrapf(err, "removing leaf %s", ref)
	}
	return t.Invalidate(ctx, ref)
}

// Invalidate marks every ancestor group of ref invalid,
// creating any that do not exist yet.
// It leaves content hashes alone.
//
// Invalidations commute,
// so concurrent calls need no coordination beyond the Index's per-group atomicity.
func (t *Tree) Invalidate(ctx context.Context, ref habs.Ref) error {
	for _, name := range t.Ancestors(ref) {
		parent := ""
		if name != RootName {
			parent = t.parent(name)
		}
		err := t.idx.Update(ctx, name, func(g *Group) (*Group, error) {
			if g == nil {
				g = &Group{Name: name, Parent: parent}
			}
			g.Status = Invalid
			g.Version++
			return g, nil
		})
		if err != nil {
			return errors.Wrapf(err, "invalidating group %s", name)
		}
	}
	return nil
}

// GetGroup returns the content hash and status of the named group.
// The hash of an invalid group is stale.
func (t *Tree) GetGroup(ctx context.Context, name string) (string, Status, error) {
	g, err := t.idx.Group(ctx, name)
	if err != nil {
		return "", "", err
	}
	return g.ContentHash, g.Status, nil
}

// Children returns the entries that make up the named group's hash,
// sorted by name.
// It returns ErrStale if any child group is invalid.
func (t *Tree) Children(ctx context.Context, name string) ([]Entry, error) {
	entries, stale, err := t.snapshot(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		return nil, errors.Wrapf(ErrStale, "child %s of group %s", stale[0], name)
	}
	return entries, nil
}

// snapshot reads the children of a group,
// also reporting the names of any invalid child groups.
func (t *Tree) snapshot(ctx context.Context, name string) (entries []Entry, stale []string, err error) {
	err = t.idx.ChildGroups(ctx, name, func(g *Group) error {
		switch {
		case g.Status != Valid:
			stale = append(stale, g.Name)
		case g.ContentHash == emptyHash:
			// A group whose blobs were all removed contributes nothing,
			// so the root hash depends only on the set of blobs.
			return nil
		}
		entries = append(entries, Entry{Name: g.Name, Hash: g.ContentHash})
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading child groups of %s", name)
	}
	err = t.idx.Leaves(ctx, name, func(ref habs.Ref) error {
		entries = append(entries, leafEntry(ref))
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading leaves of %s", name)
	}
	sortEntries(entries)
	return entries, stale, nil
}

// Recompute rehashes every invalid group, deepest first,
// and marks it valid.
// It returns the number of groups rehashed.
//
// Recompute can take a long time on a large tree.
// It is never called implicitly.
func (t *Tree) Recompute(ctx context.Context) (int, error) {
	var invalid []*Group
	err := t.idx.GroupsByStatus(ctx, Invalid, func(g *Group) error {
		invalid = append(invalid, g)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "querying invalid groups")
	}

	sort.Slice(invalid, func(i, j int) bool {
		di, dj := t.depth(invalid[i].Name), t.depth(invalid[j].Name)
		if di != dj {
			return di > dj
		}
		return invalid[i].Name < invalid[j].Name
	})

	var n int
	for _, g := range invalid {
		k, err := t.recompute(ctx, g.Name)
		if err != nil {
			return n, err
		}
		n += k
	}

	t.logger.Info("recomputed hash groups", zap.Int("invalid", len(invalid)), zap.Int("rehashed", n))
	return n, nil
}

// recompute makes the named group valid,
// first recomputing any invalid child groups.
// It returns the number of groups rehashed.
func (t *Tree) recompute(ctx context.Context, name string) (int, error) {
	var n int
	for attempt := 0; attempt < maxAttempts; attempt++ {
		g, err := t.idx.Group(ctx, name)
		if err != nil {
			return n, errors.Wrapf(err, "reading group %s", name)
		}
		if g.Status == Valid {
			return n, nil
		}

		entries, stale, err := t.snapshot(ctx, name)
		if err != nil {
			return n, err
		}
		if len(stale) > 0 {
			for _, child := range stale {
				k, err := t.recompute(ctx, child)
				n += k
				if err != nil {
					return n, err
				}
			}
			continue
		}

		hash := ContentHash(entries)
		err = t.idx.Update(ctx, name, func(cur *Group) (*Group, error) {
			if cur == nil || cur.Version != g.Version {
				return nil, errChanged
			}
			cur.ContentHash = hash
			cur.Status = Valid
			return cur, nil
		})
		if errors.Is(err, errChanged) {
			t.logger.Debug("group changed during recompute, retrying", zap.String("group", name), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return n, errors.Wrapf(err, "storing hash of group %s", name)
		}
		t.logger.Debug("rehashed group", zap.String("group", name), zap.String("hash", hash), zap.Int("children", len(entries)))
		return n + 1, nil
	}
	t.logger.Warn("group kept changing during recompute, leaving it invalid", zap.String("group", name), zap.Int("attempts", maxAttempts))
	return n, nil
}

// RecomputeEvery calls Recompute at the given interval until ctx is canceled.
// Errors are logged and do not stop the loop.
func (t *Tree) RecomputeEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := t.Recompute(ctx); err != nil && ctx.Err() == nil {
				t.logger.Error("periodic recompute failed", zap.Error(err))
			}
		}
	}
}
