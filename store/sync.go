package store

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/habs"
)

// Sync synchronizes two or more stores by brute force.
// It runs ListRefs on all input stores,
// each of which must implement habs.Lister.
// When a ref is found to be in some but not all stores,
// its blob is added to the stores where it's missing.
//
// This transfers the full ref list of every store.
// For large collections see hashgroup.Sync,
// which exchanges only the aggregate hashes of differing subtrees.
func Sync(ctx context.Context, stores []habs.Store) error {
	if len(stores) < 2 {
		return nil
	}

	type tuple struct {
		s   habs.Store
		ch  <-chan habs.Ref
		ref *habs.Ref
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, ctx2 := errgroup.WithContext(ctx)

	tuples := make([]*tuple, 0, len(stores))
	for _, s := range stores {
		l, ok := s.(habs.Lister)
		if !ok {
			return errors.Wrapf(ErrNotLister, "store %s", Describe(s))
		}
		ch := make(chan habs.Ref)
		eg.Go(func() error {
			defer close(ch)
			return l.ListRefs(ctx2, habs.Zero, func(ref habs.Ref) error {
				select {
				case <-ctx2.Done():
					return ctx2.Err()
				case ch <- ref:
				}
				return nil
			})
		})
		tuples = append(tuples, &tuple{s: s, ch: ch})
	}

	errch := make(chan error, 1)
	go func() {
		errch <- eg.Wait()
		close(errch)
	}()

	havers := tuples
	for {
		// Advance every store that produced the last-handled ref.
		for _, tup := range havers {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ref, ok := <-tup.ch:
				if ok {
					tup.ref = &ref
				} else {
					tup.ref = nil
				}
			}
		}

		sort.Slice(tuples, func(i, j int) bool {
			ri, rj := tuples[i].ref, tuples[j].ref
			if ri != nil {
				if rj != nil {
					return ri.Less(*rj)
				}
				return true
			}
			return false
		})

		if tuples[0].ref == nil {
			// We've reached the end of input on all channels.
			return <-errch
		}

		ref := *(tuples[0].ref)

		havers = []*tuple{tuples[0]}
		i := 1
		for i < len(tuples) && tuples[i].ref != nil && *(tuples[i].ref) == ref {
			havers = append(havers, tuples[i])
			i++
		}

		if i == len(tuples) {
			continue
		}

		blob, err := havers[0].s.GetBlob(ctx, ref)
		if err != nil {
			return errors.Wrapf(err, "getting blob for %s", ref)
		}
		for _, tup := range tuples[i:] {
			if err = tup.s.SetBlob(ctx, ref, blob); err != nil {
				return errors.Wrapf(err, "storing blob for %s", ref)
			}
		}
	}
}
