// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package index

import (
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/store"
)

// ApplyRemote compares remote's vector clock against the local entry at the
// same path and applies the standard CRDT resolution:
//   - identical    -> no-op
//   - local wins   -> ignore remote
//   - remote wins  -> replace, adjusting CAS refs
//   - concurrent   -> persist a Conflict for the caller to resolve; the
//     index stores neither version as winner until ResolveConflict is called.
//
// It is idempotent by construction: applying the same payload twice always
// re-derives the same vector-clock comparison and so the second call is a
// no-op.
func (idx *Index) ApplyRemote(remote bdp.FileEntry) (bdp.ClockOrder, error) {
	local, exists, err := idx.Get(remote.Path)
	if err != nil {
		return 0, err
	}
	if !exists {
		if err := idx.replace(remote); err != nil {
			return 0, err
		}
		return bdp.ClockBWins, nil
	}

	order := local.VectorClock.Compare(remote.VectorClock)
	switch order {
	case bdp.ClockIdentical, bdp.ClockAWins:
		return order, nil
	case bdp.ClockBWins:
		if err := idx.replace(remote); err != nil {
			return 0, err
		}
		return order, nil
	default: // ClockConcurrent
		if err := idx.saveConflict(bdp.Conflict{Path: remote.Path, Local: local, Remote: remote}); err != nil {
			return 0, err
		}
		return order, nil
	}
}

// replace overwrites the local entry at remote.Path with remote, releasing
// the superseded version's CAS references.
func (idx *Index) replace(remote bdp.FileEntry) error {
	prev, hadPrev, err := idx.Get(remote.Path)
	if err != nil {
		return err
	}
	if err := idx.put(remote); err != nil {
		return err
	}
	if hadPrev && !prev.Tombstone {
		if err := idx.releaseChunks(prev); err != nil {
			return err
		}
	}
	leafHash := remote.Hash
	if remote.Tombstone {
		leafHash = tombstoneLeafHash
	}
	if err := idx.merkle.OnLeafChanged(remote.Path, leafHash); err != nil {
		return errors.Wrap(err, "index: refreshing merkle index")
	}
	return nil
}

func (idx *Index) conflictKey(path string) []byte {
	return []byte(idx.pairID.String() + ":" + path)
}

func (idx *Index) saveConflict(c bdp.Conflict) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "index: encoding conflict")
	}
	if err := idx.kv.Put(store.CollConflicts, idx.conflictKey(c.Path), raw); err != nil {
		return errors.Wrap(err, "index: persisting conflict")
	}
	return nil
}

// PendingConflict returns the unresolved conflict at path, if any.
func (idx *Index) PendingConflict(path string) (bdp.Conflict, bool, error) {
	raw, err := idx.kv.Get(store.CollConflicts, idx.conflictKey(path))
	if errors.Is(err, store.ErrNotFound) {
		return bdp.Conflict{}, false, nil
	}
	if err != nil {
		return bdp.Conflict{}, false, errors.Wrap(err, "index: reading conflict")
	}
	var c bdp.Conflict
	if err := json.Unmarshal(raw, &c); err != nil {
		return bdp.Conflict{}, false, errors.Wrap(err, "index: decoding conflict")
	}
	return c, true, nil
}

// ResolveConflict applies winner (the caller-supplied resolution for a
// pending conflict, or the LWW/local-wins/remote-wins outcome the Sync
// Planner already computed) and clears the pending conflict row.
func (idx *Index) ResolveConflict(path string, winner bdp.FileEntry) error {
	if err := idx.replace(winner); err != nil {
		return err
	}
	if err := idx.kv.Delete(store.CollConflicts, idx.conflictKey(path)); err != nil {
		return errors.Wrap(err, "index: clearing resolved conflict")
	}
	return nil
}
