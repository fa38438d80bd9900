// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package index

import (
	"crypto/rand"

	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/store"
)

// Root summarizes this pair's index as of now: the Merkle root hash, the
// count of persisted entries (live and tombstoned), deviceID's own high-water
// seq, and this replica's indexId — generated once and stable until the
// index is rebuilt from scratch, per bdp.IndexRoot's doc comment. It is what
// a Hello frame's PairHello carries and what the Session Engine compares
// against a peer's reported root to pick idle/delta_sync/full_sync.
func (idx *Index) Root(deviceID bdp.DeviceID) (bdp.IndexRoot, error) {
	rootHash, err := idx.merkle.RootHash()
	if err != nil {
		return bdp.IndexRoot{}, err
	}
	maxSeq, err := idx.MaxSeq(deviceID)
	if err != nil {
		return bdp.IndexRoot{}, err
	}
	count, err := idx.countEntries()
	if err != nil {
		return bdp.IndexRoot{}, err
	}
	indexID, err := idx.getOrCreateIndexID()
	if err != nil {
		return bdp.IndexRoot{}, err
	}
	return bdp.IndexRoot{RootHash: rootHash, EntryCount: count, MaxSeq: maxSeq, IndexID: indexID}, nil
}

func (idx *Index) countEntries() (int, error) {
	n := 0
	prefix := []byte(idx.pairID.String() + ":")
	err := idx.kv.Iterate(store.CollFileIndex, prefix, func(key, value []byte) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

func (idx *Index) indexIDKey() []byte {
	return []byte(idx.pairID.String())
}

func (idx *Index) getOrCreateIndexID() (bdp.Hash, error) {
	raw, err := idx.kv.Get(store.CollIndexRoots, idx.indexIDKey())
	if err == nil {
		return bdp.HashFromString(string(raw))
	}
	if !errors.Is(err, store.ErrNotFound) {
		return bdp.Hash{}, errors.Wrap(err, "index: reading index id")
	}

	var id bdp.Hash
	if _, err := rand.Read(id[:]); err != nil {
		return bdp.Hash{}, errors.Wrap(err, "index: generating index id")
	}
	if err := idx.kv.Put(store.CollIndexRoots, idx.indexIDKey(), []byte(id.String())); err != nil {
		return bdp.Hash{}, errors.Wrap(err, "index: persisting index id")
	}
	return id, nil
}
