package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/habs"
	"github.com/bobg/habs/hashgroup"
)

// RefWithPrefix makes a ref whose hex form begins with prefix.
// The remaining digits encode n.
func RefWithPrefix(prefix string, n int) habs.Ref {
	s := prefix + fmt.Sprintf("%x", n)
	s += strings.Repeat("0", 64-len(s))
	ref, err := habs.RefFromHex(s)
	if err != nil {
		panic(err)
	}
	return ref
}

// Index tests an implementation of hashgroup.Index.
// The index must be empty.
func Index(ctx context.Context, t *testing.T, idx hashgroup.Index) {
	t.Helper()

	if _, err := idx.Group(ctx, "abc"); !errors.Is(err, habs.ErrNotFound) {
		t.Errorf("got %v for missing group, want ErrNotFound", err)
	}

	put := func(name, parent string, status hashgroup.Status, hash string) {
		t.Helper()
		err := idx.Update(ctx, name, func(g *hashgroup.Group) (*hashgroup.Group, error) {
			if g == nil {
				g = &hashgroup.Group{Name: name, Parent: parent}
			}
			g.Status = status
			g.ContentHash = hash
			g.Version++
			return g, nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	put(hashgroup.RootName, "", hashgroup.Invalid, "")
	put("abc", hashgroup.RootName, hashgroup.Invalid, "")
	put("abd", hashgroup.RootName, hashgroup.Valid, "h1")
	put("abcdef", "abc", hashgroup.Invalid, "")

	g, err := idx.Group(ctx, "abd")
	if err != nil {
		t.Fatal(err)
	}
	want := &hashgroup.Group{Name: "abd", Parent: hashgroup.RootName, ContentHash: "h1", Status: hashgroup.Valid, Version: 1}
	if diff := cmp.Diff(want, g); diff != "" {
		t.Errorf("group mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"abc", "abcdef", hashgroup.RootName}, byStatus(ctx, t, idx, hashgroup.Invalid)); diff != "" {
		t.Errorf("invalid groups mismatch (-want +got):\n%s", diff)
	}

	// Changing status moves a group between index entries.
	put("abc", hashgroup.RootName, hashgroup.Valid, "h2")
	if diff := cmp.Diff([]string{"abcdef", hashgroup.RootName}, byStatus(ctx, t, idx, hashgroup.Invalid)); diff != "" {
		t.Errorf("invalid groups mismatch after update (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"abc", "abd"}, byStatus(ctx, t, idx, hashgroup.Valid)); diff != "" {
		t.Errorf("valid groups mismatch (-want +got):\n%s", diff)
	}
	g, err = idx.Group(ctx, "abc")
	if err != nil {
		t.Fatal(err)
	}
	if g.Version != 2 || g.ContentHash != "h2" {
		t.Errorf("got version %d hash %q, want 2 and h2", g.Version, g.ContentHash)
	}

	var children []string
	err = idx.ChildGroups(ctx, hashgroup.RootName, func(g *hashgroup.Group) error {
		children = append(children, g.Name)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(children)
	if diff := cmp.Diff([]string{"abc", "abd"}, children); diff != "" {
		t.Errorf("child groups mismatch (-want +got):\n%s", diff)
	}

	// A failed update stores nothing.
	boom := errors.New("boom")
	err = idx.Update(ctx, "abd", func(g *hashgroup.Group) (*hashgroup.Group, error) {
		g.Status = hashgroup.Invalid
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want the update function's error", err)
	}
	if g, err = idx.Group(ctx, "abd"); err != nil || g.Status != hashgroup.Valid {
		t.Errorf("failed update changed the group: %+v, %v", g, err)
	}

	var (
		r1 = RefWithPrefix("abcdef", 1)
		r2 = RefWithPrefix("abcdef", 2)
	)
	for _, ref := range []habs.Ref{r2, r1, r2} {
		if err = idx.PutLeaf(ctx, "abcdef", ref); err != nil {
			t.Fatal(err)
		}
	}
	if diff := cmp.Diff([]habs.Ref{r1, r2}, leaves(ctx, t, idx, "abcdef")); diff != "" {
		t.Errorf("leaves mismatch (-want +got):\n%s", diff)
	}
	if err = idx.DeleteLeaf(ctx, "abcdef", r1); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]habs.Ref{r2}, leaves(ctx, t, idx, "abcdef")); diff != "" {
		t.Errorf("leaves mismatch after delete (-want +got):\n%s", diff)
	}
	if got := leaves(ctx, t, idx, "abc"); len(got) != 0 {
		t.Errorf("got %d leaves for group without leaves", len(got))
	}
}

func byStatus(ctx context.Context, t *testing.T, idx hashgroup.Index, status hashgroup.Status) []string {
	t.Helper()

	var names []string
	err := idx.GroupsByStatus(ctx, status, func(g *hashgroup.Group) error {
		if g.Status != status {
			t.Errorf("group %s has status %s in the %s index", g.Name, g.Status, status)
		}
		names = append(names, g.Name)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(names)
	return names
}

func leaves(ctx context.Context, t *testing.T, idx hashgroup.Index, parent string) []habs.Ref {
	t.Helper()

	var refs []habs.Ref
	err := idx.Leaves(ctx, parent, func(ref habs.Ref) error {
		refs = append(refs, ref)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
	return refs
}

// Tree tests a hashgroup.Tree over the given index,
// which must be empty.
func Tree(ctx context.Context, t *testing.T, idx hashgroup.Index) {
	t.Helper()

	tree, err := hashgroup.New(idx, hashgroup.Config{PrefixLen: 3})
	if err != nil {
		t.Fatal(err)
	}

	var (
		a = RefWithPrefix("012345", 1)
		b = RefWithPrefix("012345", 2)
		c = RefWithPrefix("012543", 1)
		d = RefWithPrefix("cce234", 1)
	)

	if err = tree.Insert(ctx, d); err != nil {
		t.Fatal(err)
	}
	if _, err = tree.Recompute(ctx); err != nil {
		t.Fatal(err)
	}
	dHash, _, err := tree.GetGroup(ctx, "cce234")
	if err != nil {
		t.Fatal(err)
	}

	for _, ref := range []habs.Ref{a, b, c} {
		if err = tree.Insert(ctx, ref); err != nil {
			t.Fatal(err)
		}
	}

	wantStatus := map[string]hashgroup.Status{
		hashgroup.RootName: hashgroup.Invalid,
		"012":              hashgroup.Invalid,
		"012345":           hashgroup.Invalid,
		"012543":           hashgroup.Invalid,
		"cce":              hashgroup.Valid,
		"cce234":           hashgroup.Valid,
	}
	for name, want := range wantStatus {
		_, got, err := tree.GetGroup(ctx, name)
		if err != nil {
			t.Fatalf("getting group %s: %s", name, err)
		}
		if got != want {
			t.Errorf("group %s is %s, want %s", name, got, want)
		}
	}

	n, err := tree.Recompute(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("rehashed %d groups, want 4", n)
	}
	if got := byStatus(ctx, t, idx, hashgroup.Invalid); len(got) != 0 {
		t.Errorf("groups still invalid after recompute: %v", got)
	}

	// Hashes computed by hand from the canonical form.
	hash := func(lines ...string) string {
		return habs.RefOf([]byte(strings.Join(lines, "\n"))).String()
	}
	leaf := func(ref habs.Ref) string {
		return ref.String() + "," + ref.String()
	}
	var (
		h012345 = hash(leaf(a), leaf(b))
		h012543 = hash(leaf(c))
		h012    = hash("012345,"+h012345, "012543,"+h012543)
		hcce    = hash("cce234," + dHash)
		hroot   = hash("012,"+h012, "cce,"+hcce)
	)
	if dHash != hash(leaf(d)) {
		t.Errorf("got hash %s for cce234, want %s", dHash, hash(leaf(d)))
	}
	for name, want := range map[string]string{
		"012345":           h012345,
		"012543":           h012543,
		"012":              h012,
		"cce":              hcce,
		hashgroup.RootName: hroot,
	} {
		got, _, err := tree.GetGroup(ctx, name)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("group %s: got hash %s, want %s", name, got, want)
		}
	}

	// Invalidation leaves the hash in place.
	if err = tree.Invalidate(ctx, a); err != nil {
		t.Fatal(err)
	}
	got, status, err := tree.GetGroup(ctx, "012")
	if err != nil {
		t.Fatal(err)
	}
	if got != h012 || status != hashgroup.Invalid {
		t.Errorf("after invalidation got %s %s, want %s INVALID", got, status, h012)
	}
	if _, err = tree.Recompute(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _, _ = tree.GetGroup(ctx, hashgroup.RootName); got != hroot {
		t.Errorf("root hash changed to %s after recomputing an unchanged tree", got)
	}

	// Removing a blob and putting it back restores the hash.
	if err = tree.Remove(ctx, c); err != nil {
		t.Fatal(err)
	}
	if _, err = tree.Recompute(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _, _ = tree.GetGroup(ctx, hashgroup.RootName); got == hroot {
		t.Error("root hash unchanged after removing a blob")
	}
	if err = tree.Insert(ctx, c); err != nil {
		t.Fatal(err)
	}
	if _, err = tree.Recompute(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _, _ = tree.GetGroup(ctx, hashgroup.RootName); got != hroot {
		t.Errorf("got root hash %s after restoring blob, want %s", got, hroot)
	}
}
