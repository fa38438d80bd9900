// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/butterflysync/bdp"
)

func newDeviceID(t *testing.T, seed byte) bdp.DeviceID {
	t.Helper()
	var d bdp.DeviceID
	for i := range d {
		d[i] = seed
	}
	return d
}

func TestPlanOnlyOnOneSideSync(t *testing.T) {
	pair := bdp.Pair{Direction: bdp.Bidirectional, Conflict: bdp.LastWriteWins}
	local := []bdp.FileEntry{{Path: "local-only.txt"}}
	remote := []bdp.FileEntry{{Path: "remote-only.txt"}}

	plan := Plan(pair, local, remote)
	require.Len(t, plan.Upload, 1)
	require.Equal(t, "local-only.txt", plan.Upload[0].Path)
	require.Len(t, plan.Download, 1)
	require.Equal(t, "remote-only.txt", plan.Download[0].Path)
}

func TestPlanDirectionDiscardsOppositeBucket(t *testing.T) {
	uploadOnly := bdp.Pair{Direction: bdp.UploadOnly}
	plan := Plan(uploadOnly, nil, []bdp.FileEntry{{Path: "remote-only.txt"}})
	require.Empty(t, plan.Download)
	require.Len(t, plan.Skipped, 1)

	downloadOnly := bdp.Pair{Direction: bdp.DownloadOnly}
	plan = Plan(downloadOnly, []bdp.FileEntry{{Path: "local-only.txt"}}, nil)
	require.Empty(t, plan.Upload)
	require.Len(t, plan.Skipped, 1)
}

func TestPlanVectorClockOutcomes(t *testing.T) {
	a := newDeviceID(t, 0xAA)
	b := newDeviceID(t, 0xBB)
	pair := bdp.Pair{Direction: bdp.Bidirectional, Conflict: bdp.Manual}

	identical := bdp.FileEntry{Path: "same.txt", VectorClock: bdp.VectorClock{a: 1}}
	plan := Plan(pair, []bdp.FileEntry{identical}, []bdp.FileEntry{identical})
	require.Equal(t, 1, plan.Unchanged)

	localNewer := bdp.FileEntry{Path: "x.txt", VectorClock: bdp.VectorClock{a: 2}}
	remoteOlder := bdp.FileEntry{Path: "x.txt", VectorClock: bdp.VectorClock{a: 1}}
	plan = Plan(pair, []bdp.FileEntry{localNewer}, []bdp.FileEntry{remoteOlder})
	require.Len(t, plan.Upload, 1)

	remoteNewer := bdp.FileEntry{Path: "y.txt", VectorClock: bdp.VectorClock{a: 2}}
	localOlder := bdp.FileEntry{Path: "y.txt", VectorClock: bdp.VectorClock{a: 1}}
	plan = Plan(pair, []bdp.FileEntry{localOlder}, []bdp.FileEntry{remoteNewer})
	require.Len(t, plan.Download, 1)

	concurrentLocal := bdp.FileEntry{Path: "z.txt", VectorClock: bdp.VectorClock{a: 1}}
	concurrentRemote := bdp.FileEntry{Path: "z.txt", VectorClock: bdp.VectorClock{b: 1}}
	plan = Plan(pair, []bdp.FileEntry{concurrentLocal}, []bdp.FileEntry{concurrentRemote})
	require.Len(t, plan.Conflicts, 1)
}

func TestAutoResolveLastWriteWinsByModTimeThenDeviceID(t *testing.T) {
	a := newDeviceID(t, 0xAA)
	b := newDeviceID(t, 0xBB)
	now := time.Now()

	l := bdp.FileEntry{Path: "f.txt", DeviceID: a, ModTime: now, VectorClock: bdp.VectorClock{a: 1}}
	r := bdp.FileEntry{Path: "f.txt", DeviceID: b, ModTime: now.Add(time.Hour), VectorClock: bdp.VectorClock{b: 1}}

	pair := bdp.Pair{Direction: bdp.Bidirectional, Conflict: bdp.LastWriteWins}
	plan := Plan(pair, []bdp.FileEntry{l}, []bdp.FileEntry{r})
	require.Empty(t, plan.Conflicts)
	require.Len(t, plan.Download, 1) // r (remote) has the later mtime

	// equal mtimes: tie-break by greater deviceId picks b.
	r.ModTime = now
	plan = Plan(pair, []bdp.FileEntry{l}, []bdp.FileEntry{r})
	require.Len(t, plan.Download, 1)
}

func TestAutoResolveLocalWinsAndRemoteWins(t *testing.T) {
	a := newDeviceID(t, 0xAA)
	b := newDeviceID(t, 0xBB)
	l := bdp.FileEntry{Path: "f.txt", DeviceID: a, VectorClock: bdp.VectorClock{a: 1}}
	r := bdp.FileEntry{Path: "f.txt", DeviceID: b, VectorClock: bdp.VectorClock{b: 1}}

	localWins := bdp.Pair{Direction: bdp.Bidirectional, Conflict: bdp.LocalWins}
	plan := Plan(localWins, []bdp.FileEntry{l}, []bdp.FileEntry{r})
	require.Len(t, plan.Upload, 1)
	require.Empty(t, plan.Conflicts)

	remoteWins := bdp.Pair{Direction: bdp.Bidirectional, Conflict: bdp.RemoteWins}
	plan = Plan(remoteWins, []bdp.FileEntry{l}, []bdp.FileEntry{r})
	require.Len(t, plan.Download, 1)
	require.Empty(t, plan.Conflicts)
}
