// Package hashgroup maintains a tree of aggregate hashes over a blob collection.
//
// Each group covers the blobs whose hex refs share a prefix.
// With a prefix length of n and a depth of 2,
// the root's children are the groups named by the first n hex digits of some ref,
// their children are the groups named by the first 2n digits,
// and the children of those are the refs themselves (the leaves).
// For example, with n=3,
// the refs 0123456…, 012345c…, 0125432… and cce2345…
// give first-level groups 012 and cce,
// and 012 has children 012345 and 012543.
//
// A group's content hash is the hash of its children,
// each rendered as "name,hash",
// sorted by name and joined by newlines.
// A leaf's hash is its ref.
//
// Content hashes are maintained lazily.
// Adding or removing a blob only marks its ancestor groups invalid.
// Recompute later rehashes the invalid groups, deepest first.
// Two trees with the same layout can then be compared with Diff,
// which descends only into groups whose hashes differ.
package hashgroup

import (
	"sort"
	"strings"

	"github.com/bobg/habs"
)

// RootName is the name of the root group.
// It cannot collide with a hex prefix.
const RootName = "root"

// Status is the validity of a group's content hash.
type Status string

const (
	// Invalid means the group's children changed since its hash was computed.
	Invalid Status = "INVALID"

	// Valid means the group's hash matches its children.
	Valid Status = "VALID"
)

// Group is a node in the tree.
type Group struct {
	Name        string `msgpack:"name"`
	Parent      string `msgpack:"parent"`
	ContentHash string `msgpack:"hash"`
	Status      Status `msgpack:"status"`

	// Version increases with every invalidation.
	// Recompute commits a hash only if Version is unchanged since it read the children.
	Version uint64 `msgpack:"version"`
}

// Entry is a child of a group as it contributes to the group's hash.
type Entry struct {
	Name string
	Hash string
	Leaf bool
}

func (e Entry) line() string {
	return e.Name + "," + e.Hash
}

// ContentHash computes the hash of a set of child entries.
// The result does not depend on the order of the entries.
func ContentHash(entries []Entry) string {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sortEntries(sorted)

	lines := make([]string, 0, len(sorted))
	for _, e := range sorted {
		lines = append(lines, e.line())
	}
	return habs.RefOf([]byte(strings.Join(lines, "\n"))).String()
}

// emptyHash is the content hash of a group with no children.
var emptyHash = ContentHash(nil)

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}

func leafEntry(ref habs.Ref) Entry {
	s := ref.String()
	return Entry{Name: s, Hash: s, Leaf: true}
}
