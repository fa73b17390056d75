package store

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/habs"
)

// ErrNotLister is returned when a wrapper store is asked to list refs
// but its nested store is not a habs.Lister.
var ErrNotLister = errors.New("store cannot list refs")

// Describe names a store for logs and error messages.
// Stores with a String method are described by it.
func Describe(s habs.Store) string {
	if s == nil {
		return "<none>"
	}
	if st, ok := s.(fmt.Stringer); ok {
		return st.String()
	}
	return fmt.Sprintf("%T", s)
}
