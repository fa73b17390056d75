package habs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// GetMulti gets several blobs concurrently,
// with at most limit calls in flight (no limit if limit <= 0).
// The result maps refs to the blobs found.
// If any lookups fail, the error is a MultiErr,
// and each input ref is in either the result or the MultiErr.
func GetMulti(ctx context.Context, g Getter, refs []Ref, limit int) (map[Ref][]byte, error) {
	var (
		mu     sync.Mutex
		res    = make(map[Ref][]byte)
		errmap MultiErr
	)

	eg, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		eg.SetLimit(limit)
	}
	for _, ref := range refs {
		ref := ref
		eg.Go(func() error {
			blob, err := g.GetBlob(ctx, ref)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if errmap == nil {
					errmap = make(MultiErr)
				}
				errmap[ref] = err
				return nil
			}
			res[ref] = blob
			return nil
		})
	}
	eg.Wait()

	if errmap != nil {
		return res, errmap
	}
	return res, nil
}

// MultiErr is the error returned by GetMulti.
// It maps individual refs to the errors encountered getting them.
type MultiErr map[Ref]error

func (e MultiErr) Error() string {
	var strs []string
	for ref, err := range e {
		strs = append(strs, fmt.Sprintf("%s: %s", ref, err))
	}
	sort.Strings(strs)
	return "error(s): " + strings.Join(strs, "; ")
}

// Unwrap lets errors.Is and errors.As see the individual errors.
func (e MultiErr) Unwrap() []error {
	errs := make([]error, 0, len(e))
	for _, err := range e {
		errs = append(errs, err)
	}
	return errs
}
