package hashgroup

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/habs"
)

// Reader is the read side of a tree,
// as needed to compare it with another.
// A Tree is a Reader.
// So could be a client for a tree held elsewhere.
type Reader interface {
	GetGroup(ctx context.Context, name string) (hash string, status Status, err error)
	Children(ctx context.Context, name string) ([]Entry, error)
}

var _ Reader = (*Tree)(nil)

// Diff compares two trees with the same layout
// and calls f for each leaf ref present in only one of them.
// The boolean tells whether the ref is in a (true) or in b (false).
//
// Only groups whose hashes differ are visited.
// Both trees must be fully recomputed;
// Diff returns ErrStale otherwise.
func Diff(ctx context.Context, a, b Reader, f func(ref habs.Ref, inA bool) error) error {
	ha, err := rootHash(ctx, a)
	if err != nil {
		return errors.Wrap(err, "reading first root")
	}
	hb, err := rootHash(ctx, b)
	if err != nil {
		return errors.Wrap(err, "reading second root")
	}
	if ha == hb {
		return nil
	}
	return diff(ctx, a, b, RootName, f)
}

func rootHash(ctx context.Context, r Reader) (string, error) {
	hash, status, err := r.GetGroup(ctx, RootName)
	if errors.Is(err, habs.ErrNotFound) {
		// An empty tree.
		return ContentHash(nil), nil
	}
	if err != nil {
		return "", err
	}
	if status != Valid {
		return "", errors.Wrap(ErrStale, "root")
	}
	return hash, nil
}

func diff(ctx context.Context, a, b Reader, name string, f func(habs.Ref, bool) error) error {
	ea, err := children(ctx, a, name)
	if err != nil {
		return err
	}
	eb, err := children(ctx, b, name)
	if err != nil {
		return err
	}

	// Both lists are sorted by name.
	var i, j int
	for i < len(ea) || j < len(eb) {
		switch {
		case j == len(eb) || (i < len(ea) && ea[i].Name < eb[j].Name):
			if err = oneSided(ctx, a, ea[i], true, f); err != nil {
				return err
			}
			i++

		case i == len(ea) || eb[j].Name < ea[i].Name:
			if err = oneSided(ctx, b, eb[j], false, f); err != nil {
				return err
			}
			j++

		default:
			if ea[i].Hash != eb[j].Hash && !ea[i].Leaf {
				if err = diff(ctx, a, b, ea[i].Name, f); err != nil {
					return err
				}
			}
			i++
			j++
		}
	}
	return nil
}

func children(ctx context.Context, r Reader, name string) ([]Entry, error) {
	entries, err := r.Children(ctx, name)
	if errors.Is(err, habs.ErrNotFound) {
		return nil, nil
	}
	return entries, errors.Wrapf(err, "reading children of %s", name)
}

// oneSided reports every leaf under e,
// which exists in only one tree.
func oneSided(ctx context.Context, r Reader, e Entry, inA bool, f func(habs.Ref, bool) error) error {
	if e.Leaf {
		ref, err := habs.RefFromHex(e.Name)
		if err != nil {
			return errors.Wrapf(err, "decoding leaf %s", e.Name)
		}
		return f(ref, inA)
	}
	entries, err := children(ctx, r, e.Name)
	if err != nil {
		return err
	}
	for _, child := range entries {
		if err = oneSided(ctx, r, child, inA, f); err != nil {
			return err
		}
	}
	return nil
}

// syncConcurrency is the number of blobs Sync copies at once.
const syncConcurrency = 8

// Sync copies the blobs that src has and dst lacks
// from srcStore to dstStore,
// inserting them into dst.
// It returns the number of blobs copied.
//
// Both trees must be fully recomputed beforehand.
// Afterwards dst has invalid groups and needs recomputing again.
// To synchronize in both directions,
// call Sync twice with the roles exchanged.
func Sync(ctx context.Context, src Reader, srcStore habs.Getter, dst *Tree, dstStore habs.Store) (int, error) {
	var missing []habs.Ref
	err := Diff(ctx, src, dst, func(ref habs.Ref, inSrc bool) error {
		if inSrc {
			missing = append(missing, ref)
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "comparing trees")
	}

	var (
		n       atomic.Int64
		g, gctx = errgroup.WithContext(ctx)
	)
	g.SetLimit(syncConcurrency)
	for _, ref := range missing {
		ref := ref
		g.Go(func() error {
			b, err := srcStore.GetBlob(gctx, ref)
			if err != nil {
				return errors.Wrapf(err, "getting blob %s", ref)
			}
			if err = dstStore.SetBlob(gctx, ref, b); err != nil {
				return errors.Wrapf(err, "storing blob %s", ref)
			}
			if err = dst.Insert(gctx, ref); err != nil {
				return errors.Wrapf(err, "indexing blob %s", ref)
			}
			n.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(n.Load()), err
}
