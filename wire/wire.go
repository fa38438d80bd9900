// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wire defines the BDP frame types exchanged over the message
// channel, represented as a tagged union: one Go struct per BDP_* type,
// sharing a common Header. Text frames are UTF-8 JSON; the Chunk frame is
// binary with its own small length-prefixed header, handled separately by
// the codec.
package wire

import "time"

// FrameType discriminates the union. The header fields cp/v stay for
// wire compatibility with the source protocol even though Type is now the
// actual discriminator.
type FrameType string

const (
	TypeHello              FrameType = "BDP_HELLO"
	TypeMerkleRequest      FrameType = "BDP_MERKLE_REQUEST"
	TypeMerkleResponse     FrameType = "BDP_MERKLE_RESPONSE"
	TypeIndexRequest       FrameType = "BDP_INDEX_REQUEST"
	TypeIndexEntries       FrameType = "BDP_INDEX_ENTRIES"
	TypeChunkRequest       FrameType = "BDP_CHUNK_REQUEST"
	TypeAck                FrameType = "BDP_ACK"
	TypeConflictResolution FrameType = "BDP_CONFLICT_RESOLUTION"
	TypePing               FrameType = "BDP_PING"
	TypePong               FrameType = "BDP_PONG"
)

// ProtocolVersion is the wire format's v:1 header field.
const ProtocolVersion = 1

// Header is common to every text frame.
type Header struct {
	CP           bool      `json:"cp"`
	V            int       `json:"v"`
	Type         FrameType `json:"type"`
	PairID       string    `json:"pairId"`
	MsgID        string    `json:"msgId"`
	FromDeviceID string    `json:"fromDeviceId"`
	TS           int64     `json:"ts"`
}

// NewHeader builds a Header stamped with the current time and protocol
// version. now is passed in rather than read from time.Now so callers
// driving deterministic tests/simulations control it.
func NewHeader(typ FrameType, pairID, msgID, fromDeviceID string, now time.Time) Header {
	return Header{
		CP:           true,
		V:            ProtocolVersion,
		Type:         typ,
		PairID:       pairID,
		MsgID:        msgID,
		FromDeviceID: fromDeviceID,
		TS:           now.UnixMilli(),
	}
}

// PairHello is one entry in a Hello frame's pairs list: this device's view of
// one locally known pair, offered so the peer can find a shared pairId
// without leaking folder contents.
type PairHello struct {
	PairID     string `json:"pairId"`
	MerkleRoot string `json:"merkleRoot"`
	MaxSeq     uint64 `json:"maxSeq"`
	IndexID    string `json:"indexId"`
}

// Hello is the first frame sent on channel open.
type Hello struct {
	Header
	DeviceID  string      `json:"deviceId"`
	Name      string      `json:"name"`
	PublicKey string      `json:"publicKey"` // base64 raw X25519 public key
	Pairs     []PairHello `json:"pairs"`
}

// MerkleRequest asks the peer for the hashes of the nodes at Paths — one
// round of the diff-walk's breadth-first batching. The peer answers a
// directory path with its hash and its direct children's hashes, a leaf path
// with the leaf hash alone, and omits paths it does not have.
type MerkleRequest struct {
	Header
	Paths []string `json:"paths"`
}

// MerkleNodeHash is one node's reported hash in a MerkleResponse.
type MerkleNodeHash struct {
	Path     string            `json:"path"`
	Hash     string            `json:"hash"`
	Children map[string]string `json:"children,omitempty"`
}

type MerkleResponse struct {
	Header
	Nodes []MerkleNodeHash `json:"nodes"`
}

// IndexRequest asks for full entries at the given paths (leaves the
// diff-walk identified as divergent), or for everything since a seq for a
// delta sync.
type IndexRequest struct {
	Header
	Paths     []string `json:"paths,omitempty"`
	SinceSeq  *uint64  `json:"sinceSeq,omitempty"`
}

// WireFileEntry is FileEntry's wire representation (hex/strings instead of
// bdp's byte-array types, so the codec package is the only place that knows
// about bdp.Hash/bdp.DeviceID at all).
type WireFileEntry struct {
	Path        string            `json:"path"`
	Hash        string            `json:"hash"`
	Size        int64             `json:"size"`
	Mode        uint32            `json:"mode"`
	ModTimeUnixMilli int64        `json:"mtime"`
	ChunkHashes []string          `json:"chunkHashes"`
	ChunkSize   int64             `json:"chunkSize"`
	VectorClock map[string]uint64 `json:"vectorClock"`
	DeviceID    string            `json:"deviceId"`
	Seq         uint64            `json:"seq"`
	Tombstone   bool              `json:"tombstone"`
	TombstoneAtUnixMilli int64    `json:"tombstoneAt,omitempty"`
}

type IndexEntries struct {
	Header
	Entries []WireFileEntry `json:"entries"`
}

// ChunkRequest is the receiver's offer: it already inspected its CAS, so it
// tells the sender what it has (dedup) and what it still needs.
type ChunkRequest struct {
	Header
	TransferID   string   `json:"transferId"`
	Path         string   `json:"path"`
	HaveIndexes  []int    `json:"have"`  // chunk indexes already in the receiver's CAS
	NeedIndexes  []int    `json:"need"`  // chunk indexes to stream, in order
	TotalChunks  int      `json:"totalChunks"`
}

// ChunkHeader precedes the raw (possibly compressed) chunk bytes in a binary
// Chunk frame: [u16 headerLength][header JSON][data bytes].
type ChunkHeader struct {
	TransferID   string `json:"transferId"`
	ChunkHash    string `json:"chunkHash"`
	Index        int    `json:"index"`
	IsLast       bool   `json:"isLast"`
	Compressed   bool   `json:"compressed"`
	OriginalSize int64  `json:"originalSize"`
}

// AckStatus is the outcome a receiver reports for a chunk or a whole transfer.
type AckStatus string

const (
	AckOK           AckStatus = "ok"
	AckHashMismatch AckStatus = "hash_mismatch"
	AckDone         AckStatus = "done"
)

type Ack struct {
	Header
	TransferID   string    `json:"transferId"`
	Status       AckStatus `json:"status"`
	ChunkIndex   int       `json:"chunkIndex,omitempty"`
	ReceivedHash string    `json:"receivedHash,omitempty"`
}

// ConflictResolution carries the caller-supplied winner for one pending
// conflict back into the session so it can leave resolving_conflict.
type ConflictResolution struct {
	Header
	Path        string `json:"path"`
	WinnerIsLocal bool `json:"winnerIsLocal"`
}

type Ping struct{ Header }
type Pong struct{ Header }
