// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/blobstore"
	"github.com/butterflysync/bdp/cas"
	"github.com/butterflysync/bdp/merkle"
	"github.com/butterflysync/bdp/store"
)

type fakeSeqer struct{ seq uint64 }

func (f *fakeSeqer) IncrementLocalSeq() (uint64, error) {
	f.seq++
	return f.seq, nil
}

func newTestIndex(t *testing.T) (*Index, bdp.DeviceID) {
	t.Helper()
	kv := store.NewMemKV()
	blob, err := blobstore.NewFSBlob(t.TempDir())
	require.NoError(t, err)
	casStore := cas.New(kv, blob)
	pairID, err := bdp.NewPairID()
	require.NoError(t, err)
	merkleIdx := merkle.New(kv, pairID)
	deviceID, err := bdp.NewDeviceID()
	require.NoError(t, err)
	return New(kv, pairID, casStore, merkleIdx), deviceID
}

func TestUpsertLocalSatisfiesInvariantsI1I2I3(t *testing.T) {
	idx, deviceID := newTestIndex(t)
	seqer := &fakeSeqer{}

	content := make([]byte, ChunkSize*2+10)
	for i := range content {
		content[i] = byte(i)
	}

	entry, err := idx.UpsertLocal(deviceID, seqer, "big.bin", 0o644, content)
	require.NoError(t, err)

	require.Equal(t, bdp.SumHash(content), entry.Hash) // I1
	require.Equal(t, 3, len(entry.ChunkHashes))          // I2: ceil(size/chunkSize)
	require.Equal(t, entry.Seq, entry.VectorClock[deviceID]) // I3
	require.False(t, entry.Tombstone)
}

func TestUpsertLocalBumpsVectorClockMonotonicallyP2(t *testing.T) {
	idx, deviceID := newTestIndex(t)
	seqer := &fakeSeqer{}

	e1, err := idx.UpsertLocal(deviceID, seqer, "f.txt", 0o644, []byte("v1"))
	require.NoError(t, err)
	e2, err := idx.UpsertLocal(deviceID, seqer, "f.txt", 0o644, []byte("v2 longer"))
	require.NoError(t, err)

	require.Greater(t, e2.VectorClock[deviceID], e1.VectorClock[deviceID])
	require.Greater(t, e2.Seq, e1.Seq)
}

func TestMarkDeletedProducesEmptyTombstone(t *testing.T) {
	idx, deviceID := newTestIndex(t)
	seqer := &fakeSeqer{}

	_, err := idx.UpsertLocal(deviceID, seqer, "f.txt", 0o644, []byte("content"))
	require.NoError(t, err)

	deleted, err := idx.MarkDeleted(deviceID, seqer, "f.txt")
	require.NoError(t, err)
	require.True(t, deleted.Tombstone)
	require.Empty(t, deleted.ChunkHashes)
	require.Zero(t, deleted.Size)

	got, exists, err := idx.Get("f.txt")
	require.NoError(t, err)
	require.True(t, exists)
	require.True(t, got.Tombstone)
}

func TestMarkDeletedUnknownPathErrors(t *testing.T) {
	idx, deviceID := newTestIndex(t)
	seqer := &fakeSeqer{}
	_, err := idx.MarkDeleted(deviceID, seqer, "missing.txt")
	require.ErrorIs(t, err, bdp.ErrIndexCorrupt)
}

func TestApplyRemoteCRDTResolution(t *testing.T) {
	idx, localDevice := newTestIndex(t)
	seqer := &fakeSeqer{}
	remoteDevice, err := bdp.NewDeviceID()
	require.NoError(t, err)

	local, err := idx.UpsertLocal(localDevice, seqer, "f.txt", 0o644, []byte("local"))
	require.NoError(t, err)

	t.Run("b_wins replaces local", func(t *testing.T) {
		remote := local
		remote.VectorClock = local.VectorClock.Clone()
		remote.VectorClock[remoteDevice] = 1
		remote.DeviceID = remoteDevice
		remote.Hash = bdp.SumHash([]byte("remote wins"))

		order, err := idx.ApplyRemote(remote)
		require.NoError(t, err)
		require.Equal(t, bdp.ClockBWins, order)

		got, exists, err := idx.Get("f.txt")
		require.NoError(t, err)
		require.True(t, exists)
		require.Equal(t, remote.Hash, got.Hash)
	})

	t.Run("identical is a no-op", func(t *testing.T) {
		current, _, err := idx.Get("f.txt")
		require.NoError(t, err)

		order, err := idx.ApplyRemote(current)
		require.NoError(t, err)
		require.Equal(t, bdp.ClockIdentical, order)
	})

	t.Run("concurrent raises a conflict", func(t *testing.T) {
		current, _, err := idx.Get("f.txt")
		require.NoError(t, err)

		concurrent := current
		concurrent.VectorClock = bdp.VectorClock{remoteDevice: current.VectorClock[remoteDevice] + 1}
		concurrent.Hash = bdp.SumHash([]byte("concurrent edit"))

		order, err := idx.ApplyRemote(concurrent)
		require.NoError(t, err)
		require.Equal(t, bdp.ClockConcurrent, order)

		conflict, exists, err := idx.PendingConflict("f.txt")
		require.NoError(t, err)
		require.True(t, exists)
		require.Equal(t, concurrent.Hash, conflict.Remote.Hash)

		// index itself is unchanged until resolution
		unchanged, _, err := idx.Get("f.txt")
		require.NoError(t, err)
		require.Equal(t, current.Hash, unchanged.Hash)
	})
}

func TestApplyRemoteIsIdempotentP4(t *testing.T) {
	idx, localDevice := newTestIndex(t)
	seqer := &fakeSeqer{}
	_, err := idx.UpsertLocal(localDevice, seqer, "f.txt", 0o644, []byte("local"))
	require.NoError(t, err)

	remoteDevice, err := bdp.NewDeviceID()
	require.NoError(t, err)
	remote := bdp.FileEntry{
		Path:        "f.txt",
		Hash:        bdp.SumHash([]byte("remote")),
		VectorClock: bdp.VectorClock{remoteDevice: 5, localDevice: 1},
		DeviceID:    remoteDevice,
		Seq:         5,
	}

	_, err = idx.ApplyRemote(remote)
	require.NoError(t, err)
	first, _, err := idx.Get("f.txt")
	require.NoError(t, err)

	_, err = idx.ApplyRemote(remote)
	require.NoError(t, err)
	second, _, err := idx.Get("f.txt")
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestEntriesSinceReturnsOnlyNewerSeqs(t *testing.T) {
	idx, deviceID := newTestIndex(t)
	seqer := &fakeSeqer{}

	e1, err := idx.UpsertLocal(deviceID, seqer, "a.txt", 0o644, []byte("a"))
	require.NoError(t, err)
	e2, err := idx.UpsertLocal(deviceID, seqer, "b.txt", 0o644, []byte("b"))
	require.NoError(t, err)

	entries, err := idx.EntriesSince(e1.Seq)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, e2.Path, entries[0].Path)
}
