package hashgroup

import (
	"context"
	"sort"
	"sync"

	"github.com/bobg/habs"
)

var _ Index = &MemIndex{}

// MemIndex is an in-memory Index.
type MemIndex struct {
	mu       sync.Mutex
	groups   map[string]Group
	byStatus map[Status]map[string]struct{}
	children map[string]map[string]struct{}
	leaves   map[string]map[habs.Ref]struct{}
}

// NewMemIndex produces a new, empty MemIndex.
func NewMemIndex() *MemIndex {
	return &MemIndex{
		groups:   make(map[string]Group),
		byStatus: make(map[Status]map[string]struct{}),
		children: make(map[string]map[string]struct{}),
		leaves:   make(map[string]map[habs.Ref]struct{}),
	}
}

func (m *MemIndex) Group(_ context.Context, name string) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[name]
	if !ok {
		return nil, habs.ErrNotFound
	}
	return &g, nil
}

func (m *MemIndex) Update(_ context.Context, name string, f func(*Group) (*Group, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cur *Group
	old, ok := m.groups[name]
	if ok {
		cp := old
		cur = &cp
	}
	next, err := f(cur)
	if err != nil || next == nil {
		return err
	}

	if ok {
		delete(m.byStatus[old.Status], name)
		delete(m.children[old.Parent], name)
	}
	m.groups[name] = *next
	addKey(m.byStatus, next.Status, name)
	addKey(m.children, next.Parent, name)
	return nil
}

func addKey[K comparable](m map[K]map[string]struct{}, k K, name string) {
	set, ok := m[k]
	if !ok {
		set = make(map[string]struct{})
		m[k] = set
	}
	set[name] = struct{}{}
}

func (m *MemIndex) GroupsByStatus(ctx context.Context, status Status, f func(*Group) error) error {
	return m.eachGroup(ctx, func() map[string]struct{} { return m.byStatus[status] }, f)
}

func (m *MemIndex) ChildGroups(ctx context.Context, parent string, f func(*Group) error) error {
	return m.eachGroup(ctx, func() map[string]struct{} { return m.children[parent] }, f)
}

// eachGroup calls f on a snapshot of the groups named in the set returned by names,
// in name order, without holding the lock.
func (m *MemIndex) eachGroup(ctx context.Context, names func() map[string]struct{}, f func(*Group) error) error {
	m.mu.Lock()
	set := names()
	groups := make([]Group, 0, len(set))
	for name := range set {
		groups = append(groups, m.groups[name])
	}
	m.mu.Unlock()

	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	for i := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f(&groups[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemIndex) PutLeaf(_ context.Context, parent string, ref habs.Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.leaves[parent]
	if !ok {
		set = make(map[habs.Ref]struct{})
		m.leaves[parent] = set
	}
	set[ref] = struct{}{}
	return nil
}

func (m *MemIndex) DeleteLeaf(_ context.Context, parent string, ref habs.Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.leaves[parent], ref)
	return nil
}

func (m *MemIndex) Leaves(ctx context.Context, parent string, f func(habs.Ref) error) error {
	m.mu.Lock()
	refs := make([]habs.Ref, 0, len(m.leaves[parent]))
	for ref := range m.leaves[parent] {
		refs = append(refs, ref)
	}
	m.mu.Unlock()

	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f(ref); err != nil {
			return err
		}
	}
	return nil
}
