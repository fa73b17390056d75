// Package habs is a content-addressable blob store
// made resilient by pairing two backends.
//
// A blob store stores arbitrarily sized sequences of bytes,
// or _blobs_,
// and indexes them by their hash,
// which is used as a unique key.
// This key is called the blob’s reference, or _ref_.
// This module uses sha2-256.
//
// The store/ha subpackage fronts two interchangeable backends.
// Writes go to whichever backend is currently primary
// and are copied to the other in the background.
// Reads fall back to the other backend when the primary fails,
// and a failing primary is demoted so that later calls avoid it.
//
// The hashgroup subpackage maintains a tree of aggregate hashes over the ref namespace.
// Two collections with the same tree layout can be compared
// by exchanging a handful of hashes,
// descending only into subtrees whose hashes differ.
// Adding a blob marks its ancestors invalid,
// which is cheap;
// the expensive rehashing is deferred to an explicit Recompute.
//
// Concrete backends live under store/:
// memory, files, sqlite, postgresql, and Google Cloud Storage,
// plus wrappers for caching, logging, and indexing.
package habs
