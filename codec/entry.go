// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/wire"
)

// ToWireFileEntry converts a FileEntry to its wire representation: hex
// strings and unix-millis instead of bdp's byte-array types, so no other
// package needs to know how bdp.Hash/bdp.DeviceID render on the wire.
func ToWireFileEntry(e bdp.FileEntry) wire.WireFileEntry {
	chunkHashes := make([]string, len(e.ChunkHashes))
	for i, h := range e.ChunkHashes {
		chunkHashes[i] = h.String()
	}
	clock := make(map[string]uint64, len(e.VectorClock))
	for id, seq := range e.VectorClock {
		clock[id.String()] = seq
	}

	w := wire.WireFileEntry{
		Path:             e.Path,
		Hash:             e.Hash.String(),
		Size:             e.Size,
		Mode:             e.Mode,
		ModTimeUnixMilli: e.ModTime.UnixMilli(),
		ChunkHashes:      chunkHashes,
		ChunkSize:        e.ChunkSize,
		VectorClock:      clock,
		DeviceID:         e.DeviceID.String(),
		Seq:              e.Seq,
		Tombstone:        e.Tombstone,
	}
	if e.Tombstone {
		w.TombstoneAtUnixMilli = e.TombstoneAt.UnixMilli()
	}
	return w
}

// FromWireFileEntry is ToWireFileEntry's inverse.
func FromWireFileEntry(w wire.WireFileEntry) (bdp.FileEntry, error) {
	hash, err := bdp.HashFromString(w.Hash)
	if err != nil {
		return bdp.FileEntry{}, errors.Wrap(err, "codec: decoding file entry hash")
	}
	chunkHashes := make([]bdp.Hash, len(w.ChunkHashes))
	for i, s := range w.ChunkHashes {
		h, err := bdp.HashFromString(s)
		if err != nil {
			return bdp.FileEntry{}, errors.Wrapf(err, "codec: decoding chunk hash %d", i)
		}
		chunkHashes[i] = h
	}
	deviceID, err := deviceIDFromHex(w.DeviceID)
	if err != nil {
		return bdp.FileEntry{}, errors.Wrap(err, "codec: decoding file entry device id")
	}
	clock := make(bdp.VectorClock, len(w.VectorClock))
	for idHex, seq := range w.VectorClock {
		id, err := deviceIDFromHex(idHex)
		if err != nil {
			return bdp.FileEntry{}, errors.Wrap(err, "codec: decoding vector clock device id")
		}
		clock[id] = seq
	}

	e := bdp.FileEntry{
		Path:        w.Path,
		Hash:        hash,
		Size:        w.Size,
		Mode:        w.Mode,
		ModTime:     time.UnixMilli(w.ModTimeUnixMilli),
		ChunkHashes: chunkHashes,
		ChunkSize:   w.ChunkSize,
		VectorClock: clock,
		DeviceID:    deviceID,
		Seq:         w.Seq,
		Tombstone:   w.Tombstone,
	}
	if w.Tombstone {
		e.TombstoneAt = time.UnixMilli(w.TombstoneAtUnixMilli)
	}
	return e, nil
}

// ToMerkleNodeHash converts one Merkle node's reported hash/children into its
// wire representation.
func ToMerkleNodeHash(path string, hash bdp.Hash, children map[string]bdp.Hash) wire.MerkleNodeHash {
	var wireChildren map[string]string
	if len(children) > 0 {
		wireChildren = make(map[string]string, len(children))
		for name, h := range children {
			wireChildren[name] = h.String()
		}
	}
	return wire.MerkleNodeHash{Path: path, Hash: hash.String(), Children: wireChildren}
}

// FromMerkleNodeHash is ToMerkleNodeHash's inverse.
func FromMerkleNodeHash(n wire.MerkleNodeHash) (hash bdp.Hash, children map[string]bdp.Hash, err error) {
	hash, err = bdp.HashFromString(n.Hash)
	if err != nil {
		return bdp.Hash{}, nil, errors.Wrap(err, "codec: decoding merkle node hash")
	}
	if len(n.Children) > 0 {
		children = make(map[string]bdp.Hash, len(n.Children))
		for name, s := range n.Children {
			h, err := bdp.HashFromString(s)
			if err != nil {
				return bdp.Hash{}, nil, errors.Wrapf(err, "codec: decoding merkle child hash %q", name)
			}
			children[name] = h
		}
	}
	return hash, children, nil
}

func deviceIDFromHex(s string) (bdp.DeviceID, error) {
	var id bdp.DeviceID
	if err := id.UnmarshalText([]byte(s)); err != nil {
		return bdp.DeviceID{}, err
	}
	return id, nil
}
