// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package blobstore provides the content-addressable byte storage
// collaborator the cas package sits on top of: chunk bytes keyed by their
// hex-encoded hash, with no notion of reference counts, GC, or
// compression — that bookkeeping lives in the cas package.
package blobstore

import "errors"

// ErrNotFound is returned by Get when no blob is stored under the given key.
var ErrNotFound = errors.New("blobstore: blob not found")

// Blob is a content-addressable byte store keyed by hex hash string.
type Blob interface {
	// Put stores data under key, overwriting any existing blob at that key.
	Put(key string, data []byte) error

	// Get returns the bytes stored under key. Returns ErrNotFound if absent.
	Get(key string) ([]byte, error)

	// Delete removes the blob stored under key. Not an error if absent.
	Delete(key string) error

	// Has reports whether a blob is stored under key.
	Has(key string) (bool, error)

	// List calls fn for every key currently stored, in no particular order.
	// Iteration stops early, without error, if fn returns false.
	List(fn func(key string) (more bool, err error)) error
}
