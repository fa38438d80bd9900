// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package bdp

import "time"

// SyncDirection constrains which way a pair's files flow.
type SyncDirection int

const (
	Bidirectional SyncDirection = iota
	UploadOnly
	DownloadOnly
)

// ConflictStrategy picks the automatic resolution a pair applies when two
// vector clocks are incomparable.
type ConflictStrategy int

const (
	LastWriteWins ConflictStrategy = iota
	Manual
	LocalWins
	RemoteWins
)

// PeerDevice is what a Pair remembers about one other member: enough to
// address it and to derive a shared key, without assuming its identity was
// known in advance.
type PeerDevice struct {
	DeviceID  DeviceID
	Name      string
	PublicKey []byte // raw X25519 public key bytes
}

// Device is the one-per-process identity record.
type Device struct {
	DeviceID  DeviceID
	Label     string
	LocalSeq  uint64 // monotonic, incremented on every locally observed change
	PublicKey []byte // raw X25519 public key bytes
}

// Pair is one sync relationship this device participates in.
type Pair struct {
	PairID  PairID
	Label   string
	Peers   []PeerDevice
	Folder  string // local folder binding
	Direction SyncDirection
	Conflict  ConflictStrategy

	IncludeGlobs []string
	ExcludeGlobs []string
	MaxFileSize  int64

	// LastKnownRemoteRoots maps a peer DeviceID to the last Merkle root (and
	// its maxSeq/indexId) this device observed for them, used by the Session
	// Engine to decide delta_sync vs full_sync without a round trip.
	LastKnownRemoteRoots map[DeviceID]IndexRoot

	LastSyncedAt time.Time
	PairedAt     time.Time
}

// VectorClock maps an authoring DeviceID to the highest seq that device has
// contributed to a given path. Comparable by the standard partial order: A
// dominates B iff A[k] >= B[k] for every key k in the union, strictly greater
// for at least one.
type VectorClock map[DeviceID]uint64

// Clone returns an independent copy.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// ClockOrder is the result of comparing two vector clocks.
type ClockOrder int

const (
	ClockIdentical ClockOrder = iota
	ClockAWins
	ClockBWins
	ClockConcurrent
)

// Compare implements a partial order over vector clocks: for the union of
// keys, A dominates B iff A[k] >= B[k] for all k and strictly greater for
// at least one; otherwise identical or concurrent.
func (a VectorClock) Compare(b VectorClock) ClockOrder {
	aGreater, bGreater := false, false

	seen := make(map[DeviceID]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}

	for k := range seen {
		av, bv := a[k], b[k]
		switch {
		case av > bv:
			aGreater = true
		case bv > av:
			bGreater = true
		}
	}

	switch {
	case !aGreater && !bGreater:
		return ClockIdentical
	case aGreater && !bGreater:
		return ClockAWins
	case bGreater && !aGreater:
		return ClockBWins
	default:
		return ClockConcurrent
	}
}

// FileEntry is one (pairId, path) row in the file index.
type FileEntry struct {
	Path        string // relative, '/'-separated, UTF-8 NFC
	Hash        Hash
	Size        int64
	Mode        uint32 // platform file permission bits, carried through transfer
	ModTime     time.Time
	ChunkHashes []Hash
	ChunkSize   int64

	VectorClock VectorClock
	DeviceID    DeviceID // authoring device
	Seq         uint64   // authoring seq; must equal VectorClock[DeviceID] (I3)

	Tombstone   bool
	TombstoneAt time.Time
}

// MerkleNode is one node of the Merkle index over a pair's file set.
type MerkleNode struct {
	NodePath string // "" = root
	Hash     Hash
	Children map[string]Hash // child name -> child hash; hashed in sorted name order
	UpdatedAt time.Time
}

// IndexRoot summarizes a pair's whole file index.
type IndexRoot struct {
	RootHash  Hash
	EntryCount int
	MaxSeq     uint64
	// IndexID is fresh random whenever the index is rebuilt from scratch; it
	// signals the peer to do a full index exchange rather than a delta.
	IndexID Hash
}

// CASChunk is the reference-counted metadata row for one stored chunk. The
// bytes themselves live in the blob store collaborator, keyed by Hash.
type CASChunk struct {
	Hash             Hash
	StoredCompressed bool
	OriginalSize     int64
	StoredSize       int64
	RefCount         int64
	CreatedAt        time.Time
	LastTouchedAt     time.Time
}

// Conflict pairs the local and remote entries at a path whose vector clocks
// are incomparable.
type Conflict struct {
	Path   string
	Local  FileEntry
	Remote FileEntry
}

// SyncPlan is the ephemeral output of comparing two indexes.
type SyncPlan struct {
	Upload   []FileEntry // entries this device should send to the peer
	Download []FileEntry // entries this device should fetch from the peer
	Conflicts []Conflict
	Unchanged int
	Skipped   []SkippedAction
}

// SkippedAction records a bucket the pair's direction discarded (e.g. an
// upload-only pair discarding a would-be download), so the caller can warn.
type SkippedAction struct {
	Path   string
	Reason string
}

// RelayPayload is the decrypted contents of a RelayEnvelope.
type RelayPayload struct {
	Type           string // "INDEX_DELTA"
	FromDeviceID   DeviceID
	DeltaEntries   []FileEntry
	AffectedPaths  []string
	NewRoot        Hash
	FromSeq        uint64
	ToSeq          uint64
	PushedAt       time.Time
}

// RelayEnvelope is one encrypted relay message carrying an index delta.
type RelayEnvelope struct {
	ID           string
	PairID       PairID
	FromDeviceID DeviceID
	Nonce        [12]byte
	Ciphertext   []byte
	AuthTag      [16]byte
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// RelayState is the per-pair bookkeeping the Relay Client keeps.
type RelayState struct {
	LastPushSeq    uint64
	LastFetchedAt  time.Time
	PendingPush    bool
	AppliedEnvelopeIDs []string // bounded to <= 200 newest, oldest evicted
}

// SyncHistory is the shape of one session's telemetry record; no invariant
// depends on it. The Session Engine does not write it and no command reads
// it.
type SyncHistory struct {
	PairID                PairID
	StartedAt             time.Time
	EndedAt               time.Time
	BytesUploaded         int64
	BytesDownloaded       int64
	BytesSavedDedup       int64
	BytesSavedCompression int64
	ConflictCount         int
	Outcome               string
}
