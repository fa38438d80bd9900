// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package cas implements the Content-Addressable Store: chunk bytes keyed
// by their SHA-256 hash, reference-counted across the FileEntry rows that
// point at them, with an optional compression gate applied by the codec
// package before bytes ever reach the blob collaborator.
package cas

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/blobstore"
	"github.com/butterflysync/bdp/codec"
	"github.com/butterflysync/bdp/store"
)

// GCGracePeriod is how long a chunk must sit at refCount == 0 before Gc
// deletes it, giving an in-flight FileEntry write that is about to re-add a
// reference a chance to land first.
const GCGracePeriod = 10 * time.Minute

// Store is the CAS collaborator, layered over a KV collection for chunk
// metadata rows and a Blob for the chunk bytes themselves.
type Store struct {
	kv   store.KV
	blob blobstore.Blob
	mu   sync.Mutex // serializes Put's read-modify-write of a chunk row
}

// New wires a CAS on top of the given storage collaborators.
func New(kv store.KV, blob blobstore.Blob) *Store {
	return &Store{kv: kv, blob: blob}
}

func (s *Store) getRow(hash bdp.Hash) (bdp.CASChunk, bool, error) {
	raw, err := s.kv.Get(store.CollCASIndex, hash[:])
	if errors.Is(err, store.ErrNotFound) {
		return bdp.CASChunk{}, false, nil
	}
	if err != nil {
		return bdp.CASChunk{}, false, errors.Wrap(err, "cas: reading chunk row")
	}
	var row bdp.CASChunk
	if err := json.Unmarshal(raw, &row); err != nil {
		return bdp.CASChunk{}, false, errors.Wrap(err, "cas: decoding chunk row")
	}
	return row, true, nil
}

func (s *Store) putRow(row bdp.CASChunk) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return errors.Wrap(err, "cas: encoding chunk row")
	}
	if err := s.kv.Put(store.CollCASIndex, row.Hash[:], raw); err != nil {
		return errors.Wrap(err, "cas: writing chunk row")
	}
	return nil
}

// Put hashes chunkBytes, writes them via the blob collaborator if absent
// (applying the Codec's compression gate), and atomically inserts or
// increments the CASChunk row. Concurrent Put of identical bytes is
// idempotent: the bytes are content-addressed so the second writer's blob
// write is a no-op, and only the refCount row changes.
func (s *Store) Put(chunkBytes []byte) (bdp.Hash, error) {
	hash := bdp.SumHash(chunkBytes)

	s.mu.Lock()
	defer s.mu.Unlock()

	row, exists, err := s.getRow(hash)
	if err != nil {
		return bdp.Hash{}, err
	}

	now := time.Now()
	if !exists {
		stored, compressed, err := codec.Compress(chunkBytes)
		if err != nil {
			return bdp.Hash{}, errors.Wrap(err, "cas: compressing chunk")
		}
		if err := s.blob.Put(hash.String(), stored); err != nil {
			return bdp.Hash{}, errors.Wrap(err, "cas: writing chunk bytes")
		}
		row = bdp.CASChunk{
			Hash:             hash,
			StoredCompressed: compressed,
			OriginalSize:     int64(len(chunkBytes)),
			StoredSize:       int64(len(stored)),
			RefCount:         0,
			CreatedAt:        now,
			LastTouchedAt:    now,
		}
	}
	row.RefCount++
	row.LastTouchedAt = now
	if err := s.putRow(row); err != nil {
		return bdp.Hash{}, err
	}
	return hash, nil
}

// Get returns the original (decompressed) bytes for hash, verifying the
// result still hashes to hash (invariant C1). A mismatch is treated as
// corruption: the row and stored bytes are removed so the chunk is
// re-requested from a peer on next need.
func (s *Store) Get(hash bdp.Hash) ([]byte, error) {
	row, exists, err := s.getRow(hash)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, bdp.ErrChunkNotFound
	}

	raw, err := s.blob.Get(hash.String())
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, bdp.ErrChunkNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "cas: reading chunk bytes")
	}

	data := raw
	if row.StoredCompressed {
		data, err = codec.Decompress(raw)
		if err != nil {
			return nil, errors.Wrap(err, "cas: decompressing chunk")
		}
	}

	if bdp.SumHash(data) != hash {
		_ = s.blob.Delete(hash.String())
		_ = s.kv.Delete(store.CollCASIndex, hash[:])
		return nil, bdp.ErrHashMismatch
	}
	return data, nil
}

// GetRaw returns the bytes exactly as stored (possibly still gzip-compressed)
// along with whether they are compressed, so a sender can forward them on
// the wire without a redundant decompress/recompress round trip.
func (s *Store) GetRaw(hash bdp.Hash) (data []byte, compressed bool, err error) {
	row, exists, err := s.getRow(hash)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, bdp.ErrChunkNotFound
	}
	raw, err := s.blob.Get(hash.String())
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, false, bdp.ErrChunkNotFound
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "cas: reading chunk bytes")
	}
	return raw, row.StoredCompressed, nil
}

// Has reports whether a chunk is stored under hash.
func (s *Store) Has(hash bdp.Hash) (bool, error) {
	_, exists, err := s.getRow(hash)
	return exists, err
}

// IncRef increments hash's reference count; used when a new FileEntry
// version adds a reference to a chunk that was already stored (e.g. by
// applyRemote rather than a fresh Put).
func (s *Store) IncRef(hash bdp.Hash) error {
	row, exists, err := s.getRow(hash)
	if err != nil {
		return err
	}
	if !exists {
		return bdp.ErrChunkNotFound
	}
	row.RefCount++
	row.LastTouchedAt = time.Now()
	return s.putRow(row)
}

// DecRef decrements hash's reference count; called for every chunk a
// replaced or tombstoned FileEntry version referenced. It does not delete
// the bytes immediately — Gc reclaims zero-refCount chunks after
// GCGracePeriod.
func (s *Store) DecRef(hash bdp.Hash) error {
	row, exists, err := s.getRow(hash)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if row.RefCount > 0 {
		row.RefCount--
	}
	row.LastTouchedAt = time.Now()
	return s.putRow(row)
}

// Gc scans for refCount == 0 chunks older than GCGracePeriod and deletes
// their bytes and row. It returns the number of chunks reclaimed.
func (s *Store) Gc() (int, error) {
	cutoff := time.Now().Add(-GCGracePeriod)
	var toDelete [][32]byte

	err := s.kv.Iterate(store.CollCASIndex, nil, func(key, value []byte) (bool, error) {
		var row bdp.CASChunk
		if err := json.Unmarshal(value, &row); err != nil {
			return false, errors.Wrap(err, "cas: decoding chunk row during gc")
		}
		if row.RefCount == 0 && row.LastTouchedAt.Before(cutoff) {
			toDelete = append(toDelete, row.Hash)
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}

	for _, h := range toDelete {
		hash := bdp.Hash(h)
		if err := s.blob.Delete(hash.String()); err != nil {
			return 0, errors.Wrap(err, "cas: deleting chunk bytes during gc")
		}
		if err := s.kv.Delete(store.CollCASIndex, hash[:]); err != nil {
			return 0, errors.Wrap(err, "cas: deleting chunk row during gc")
		}
	}
	return len(toDelete), nil
}
