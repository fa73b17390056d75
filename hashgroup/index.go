package hashgroup

import (
	"context"

	"github.com/bobg/habs"
)

// Index is the persistent storage of a tree.
// It stores groups by name,
// with secondary lookups by status and by parent,
// and the leaf refs of each group.
//
// A missing group is reported as habs.ErrNotFound.
type Index interface {
	// Group gets the named group.
	Group(ctx context.Context, name string) (*Group, error)

	// Update atomically reads the named group,
	// passes it to f (nil if the group does not exist),
	// and stores the group f returns.
	// If f returns an error, nothing is stored and Update returns that error.
	Update(ctx context.Context, name string, f func(*Group) (*Group, error)) error

	// GroupsByStatus calls f for each group with the given status.
	GroupsByStatus(ctx context.Context, status Status, f func(*Group) error) error

	// ChildGroups calls f for each group whose parent is the named group.
	ChildGroups(ctx context.Context, parent string, f func(*Group) error) error

	// PutLeaf records ref as a child of the named group.
	PutLeaf(ctx context.Context, parent string, ref habs.Ref) error

	// DeleteLeaf removes ref from the children of the named group.
	DeleteLeaf(ctx context.Context, parent string, ref habs.Ref) error

	// Leaves calls f for each leaf ref of the named group.
	Leaves(ctx context.Context, parent string, f func(habs.Ref) error) error
}
