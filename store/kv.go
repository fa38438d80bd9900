// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store provides the persistent, collection-keyed storage
// collaborator used by every component above it: devices, pairs, the file
// index, Merkle nodes, index roots, the CAS index, relay state, sync
// history, and pending conflicts. These are typed collections, and a
// transaction may span any set of them; KV models that with a byte-keyed,
// byte-valued store per collection plus an atomic, multi-key Batch.
package store

import (
	"errors"
	"io"
)

// ErrNotFound is returned by Get when the key does not exist in the
// collection.
var ErrNotFound = errors.New("store: key not found")

// Collection names the root packages rely on; grouping by collection keeps
// callers from having to prefix keys themselves.
type Collection string

const (
	CollDevices      Collection = "devices"
	CollPairs        Collection = "pairs"
	CollFileIndex    Collection = "fileIndex"
	CollMerkleNodes  Collection = "merkleNodes"
	CollIndexRoots   Collection = "indexRoots"
	CollCASIndex     Collection = "casIndex"
	CollRelayState   Collection = "relayState"
	CollSyncHistory  Collection = "syncHistory"
	CollConflicts    Collection = "conflicts"
)

// KV is the storage collaborator every component depends on. Implementations
// must be safe for concurrent use.
type KV interface {
	// Get fetches the value stored at key in coll. Returns ErrNotFound if
	// absent.
	Get(coll Collection, key []byte) ([]byte, error)

	// Put writes (or overwrites) the value stored at key in coll.
	Put(coll Collection, key, value []byte) error

	// Delete removes key from coll. It is not an error if the key is absent.
	Delete(coll Collection, key []byte) error

	// Has reports whether key exists in coll.
	Has(coll Collection, key []byte) (bool, error)

	// Iterate calls fn for every key/value pair in coll whose key has the
	// given prefix (prefix may be nil for "all keys"), in ascending key
	// order. Iteration stops early, without error, if fn returns false.
	Iterate(coll Collection, prefix []byte, fn func(key, value []byte) (more bool, err error)) error

	// Batch begins a set of writes applied atomically across any number of
	// collections when Commit is called.
	Batch() Batch

	io.Closer
}

// Batch accumulates writes across one or more collections for atomic commit.
// Batches are not safe for concurrent use and must not outlive their KV.
type Batch interface {
	Put(coll Collection, key, value []byte)
	Delete(coll Collection, key []byte)
	Commit() error
}
