// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/butterflysync/bdp"
)

func TestRootIndexIDIsStableAcrossCalls(t *testing.T) {
	idx, deviceID := newTestIndex(t)
	seqer := &fakeSeqer{}

	first, err := idx.Root(deviceID)
	require.NoError(t, err)
	require.False(t, first.IndexID.IsZero())

	_, err = idx.UpsertLocal(deviceID, seqer, "a.txt", 0o644, []byte("hello"))
	require.NoError(t, err)

	second, err := idx.Root(deviceID)
	require.NoError(t, err)
	require.Equal(t, first.IndexID, second.IndexID)
	require.NotEqual(t, first.RootHash, second.RootHash)
	require.Equal(t, 1, second.EntryCount)
}

func TestRootMaxSeqTracksOnlyGivenDevice(t *testing.T) {
	idx, deviceID := newTestIndex(t)
	seqer := &fakeSeqer{}
	otherDevice, err := bdp.NewDeviceID()
	require.NoError(t, err)

	_, err = idx.UpsertLocal(deviceID, seqer, "a.txt", 0o644, []byte("hello"))
	require.NoError(t, err)

	root, err := idx.Root(deviceID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), root.MaxSeq)

	otherRoot, err := idx.Root(otherDevice)
	require.NoError(t, err)
	require.Equal(t, uint64(0), otherRoot.MaxSeq)
}
