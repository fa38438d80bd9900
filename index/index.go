// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package index implements the File Index + Vector Clocks component: the
// per-(pair, path) record of file state, including tombstones and the
// monotonic authoring sequence, kept consistent with the Merkle Index and
// the CAS's reference counts on every write.
package index

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/cas"
	"github.com/butterflysync/bdp/merkle"
	"github.com/butterflysync/bdp/store"
)

// ChunkSize is the fixed chunk size upsertLocal splits file content into.
const ChunkSize = 256 * 1024

// tombstoneLeafHash is the Merkle leaf value recorded for a deleted path,
// distinct from bdp.EmptyHash so the diff-walk's tie-break ("missing child =
// hash 0") does not confuse "deleted here" with "never seen".
var tombstoneLeafHash = bdp.SumHash([]byte("bdp:tombstone"))

// SeqIncrementer is the slice of device.Service this package depends on: bumping
// and persisting the device's monotonic local sequence number.
type SeqIncrementer interface {
	IncrementLocalSeq() (uint64, error)
}

// Index is the File Index collaborator for one pair.
type Index struct {
	kv     store.KV
	pairID bdp.PairID
	cas    *cas.Store
	merkle *merkle.Index
}

// New wires a File Index for pairID over the given storage collaborators.
func New(kv store.KV, pairID bdp.PairID, casStore *cas.Store, merkleIdx *merkle.Index) *Index {
	return &Index{kv: kv, pairID: pairID, cas: casStore, merkle: merkleIdx}
}

func (idx *Index) key(path string) []byte {
	return []byte(idx.pairID.String() + ":" + path)
}

// Get returns the current entry at path, if any.
func (idx *Index) Get(path string) (bdp.FileEntry, bool, error) {
	raw, err := idx.kv.Get(store.CollFileIndex, idx.key(path))
	if errors.Is(err, store.ErrNotFound) {
		return bdp.FileEntry{}, false, nil
	}
	if err != nil {
		return bdp.FileEntry{}, false, errors.Wrap(err, "index: reading entry")
	}
	var entry bdp.FileEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return bdp.FileEntry{}, false, errors.Wrap(err, "index: decoding entry")
	}
	return entry, true, nil
}

func (idx *Index) put(entry bdp.FileEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "index: encoding entry")
	}
	if err := idx.kv.Put(store.CollFileIndex, idx.key(entry.Path), raw); err != nil {
		return errors.Wrap(err, "index: writing entry")
	}
	return nil
}

// chunkContent splits content into ChunkSize pieces, per invariant I2
// (chunkHashes.length == ceil(size / chunkSize)).
func chunkContent(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}
	var chunks [][]byte
	for off := 0; off < len(content); off += ChunkSize {
		end := off + ChunkSize
		if end > len(content) {
			end = len(content)
		}
		chunks = append(chunks, content[off:end])
	}
	return chunks
}

// releaseChunks decrements CAS references for every chunk a replaced or
// tombstoned entry version held.
func (idx *Index) releaseChunks(entry bdp.FileEntry) error {
	for _, h := range entry.ChunkHashes {
		if err := idx.cas.DecRef(h); err != nil {
			return errors.Wrap(err, "index: releasing chunk reference")
		}
	}
	return nil
}

// UpsertLocal chunks content (fixed 256 KiB), computes the overall hash,
// increments the device's localSeq, bumps the authoring component of the
// path's vector clock, writes the new FileEntry, and refreshes CAS refs and
// the Merkle Index (invariant Ci2).
func (idx *Index) UpsertLocal(deviceID bdp.DeviceID, seqer SeqIncrementer, path string, mode uint32, content []byte) (bdp.FileEntry, error) {
	prev, hadPrev, err := idx.Get(path)
	if err != nil {
		return bdp.FileEntry{}, err
	}

	chunks := chunkContent(content)
	chunkHashes := make([]bdp.Hash, 0, len(chunks))
	for _, c := range chunks {
		h, err := idx.cas.Put(c)
		if err != nil {
			return bdp.FileEntry{}, errors.Wrap(err, "index: storing chunk")
		}
		chunkHashes = append(chunkHashes, h)
	}

	seq, err := seqer.IncrementLocalSeq()
	if err != nil {
		return bdp.FileEntry{}, err
	}

	clock := bdp.VectorClock{}
	if hadPrev {
		clock = prev.VectorClock.Clone()
	}
	clock[deviceID] = seq

	entry := bdp.FileEntry{
		Path:        path,
		Hash:        bdp.SumHash(content),
		Size:        int64(len(content)),
		Mode:        mode,
		ModTime:     time.Now(),
		ChunkHashes: chunkHashes,
		ChunkSize:   ChunkSize,
		VectorClock: clock,
		DeviceID:    deviceID,
		Seq:         seq,
	}

	if err := idx.put(entry); err != nil {
		return bdp.FileEntry{}, err
	}
	if hadPrev && !prev.Tombstone {
		if err := idx.releaseChunks(prev); err != nil {
			return bdp.FileEntry{}, err
		}
	}
	if err := idx.merkle.OnLeafChanged(path, entry.Hash); err != nil {
		return bdp.FileEntry{}, errors.Wrap(err, "index: refreshing merkle index")
	}
	return entry, nil
}

// MarkDeleted tombstones path: the row remains with tombstone = true and the
// full vector clock, so the delete still propagates like any other entry.
func (idx *Index) MarkDeleted(deviceID bdp.DeviceID, seqer SeqIncrementer, path string) (bdp.FileEntry, error) {
	prev, exists, err := idx.Get(path)
	if err != nil {
		return bdp.FileEntry{}, err
	}
	if !exists {
		return bdp.FileEntry{}, errors.Wrapf(bdp.ErrIndexCorrupt, "index: cannot delete unknown path %q", path)
	}

	seq, err := seqer.IncrementLocalSeq()
	if err != nil {
		return bdp.FileEntry{}, err
	}
	clock := prev.VectorClock.Clone()
	clock[deviceID] = seq

	now := time.Now()
	entry := bdp.FileEntry{
		Path:        path,
		VectorClock: clock,
		DeviceID:    deviceID,
		Seq:         seq,
		Tombstone:   true,
		TombstoneAt: now,
	}

	if err := idx.put(entry); err != nil {
		return bdp.FileEntry{}, err
	}
	if !prev.Tombstone {
		if err := idx.releaseChunks(prev); err != nil {
			return bdp.FileEntry{}, err
		}
	}
	if err := idx.merkle.OnLeafChanged(path, tombstoneLeafHash); err != nil {
		return bdp.FileEntry{}, errors.Wrap(err, "index: refreshing merkle index")
	}
	return entry, nil
}

// EntriesSince returns every entry (across all paths) whose authoring seq
// exceeds sinceSeq, for a delta_sync exchange.
func (idx *Index) EntriesSince(sinceSeq uint64) ([]bdp.FileEntry, error) {
	var out []bdp.FileEntry
	prefix := []byte(idx.pairID.String() + ":")
	err := idx.kv.Iterate(store.CollFileIndex, prefix, func(key, value []byte) (bool, error) {
		var entry bdp.FileEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return false, errors.Wrap(err, "index: decoding entry during scan")
		}
		if entry.Seq > sinceSeq {
			out = append(out, entry)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EntriesFromAuthorSince returns every entry authored by authorID whose
// authoring seq exceeds sinceSeq. A delta_sync request asks a peer for
// exactly this: "what have you personally written since the last time I saw
// your local seq at sinceSeq". It is only a complete picture of a pair's
// divergence for a two-device pair; a third device's edits the peer merely
// relayed would carry that third device's own seq, not the peer's, so a
// pair with more than two members always falls back to full_sync instead of
// relying on this method (see the Session Engine's diffing transition).
func (idx *Index) EntriesFromAuthorSince(authorID bdp.DeviceID, sinceSeq uint64) ([]bdp.FileEntry, error) {
	var out []bdp.FileEntry
	prefix := []byte(idx.pairID.String() + ":")
	err := idx.kv.Iterate(store.CollFileIndex, prefix, func(key, value []byte) (bool, error) {
		var entry bdp.FileEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return false, errors.Wrap(err, "index: decoding entry during scan")
		}
		if entry.DeviceID == authorID && entry.Seq > sinceSeq {
			out = append(out, entry)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MaxSeq returns the highest authoring seq this device has assigned to any
// entry in this pair's index, i.e. "how many local changes I have made to
// this pair so far" — the value advertised as PairHello.maxSeq.
func (idx *Index) MaxSeq(deviceID bdp.DeviceID) (uint64, error) {
	var max uint64
	prefix := []byte(idx.pairID.String() + ":")
	err := idx.kv.Iterate(store.CollFileIndex, prefix, func(key, value []byte) (bool, error) {
		var entry bdp.FileEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return false, errors.Wrap(err, "index: decoding entry during scan")
		}
		if entry.DeviceID == deviceID && entry.Seq > max {
			max = entry.Seq
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return max, nil
}
