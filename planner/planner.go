// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package planner implements the Sync Planner: it compares two FileEntry
// lists for the same pair and produces a SyncPlan with upload, download,
// conflict, and skip buckets, respecting the pair's configured direction
// and conflict strategy.
package planner

import (
	"github.com/butterflysync/bdp"
)

// Plan compares local and remote entries (keyed by path; a missing path on
// either side means "absent there") and produces a SyncPlan honoring the
// pair's direction and conflict strategy.
func Plan(pair bdp.Pair, local, remote []bdp.FileEntry) bdp.SyncPlan {
	localByPath := indexByPath(local)
	remoteByPath := indexByPath(remote)

	paths := make(map[string]struct{}, len(localByPath)+len(remoteByPath))
	for p := range localByPath {
		paths[p] = struct{}{}
	}
	for p := range remoteByPath {
		paths[p] = struct{}{}
	}

	var plan bdp.SyncPlan
	for path := range paths {
		l, hasLocal := localByPath[path]
		r, hasRemote := remoteByPath[path]

		switch {
		case hasLocal && !hasRemote:
			planOnlyLocal(&plan, pair, l)
		case !hasLocal && hasRemote:
			planOnlyRemote(&plan, pair, r)
		default:
			planBoth(&plan, pair, l, r)
		}
	}
	return plan
}

func indexByPath(entries []bdp.FileEntry) map[string]bdp.FileEntry {
	out := make(map[string]bdp.FileEntry, len(entries))
	for _, e := range entries {
		out[e.Path] = e
	}
	return out
}

// planOnlyLocal handles a path present only on the local side: it is
// propagated to the peer as an upload, whether it is live content or a
// tombstone the peer has not yet learned about.
func planOnlyLocal(plan *bdp.SyncPlan, pair bdp.Pair, l bdp.FileEntry) {
	addUpload(plan, pair, l)
}

// planOnlyRemote handles a path present only on the remote side: it is
// pulled down, whether it is live content or a tombstone the peer applied
// that the local device has not yet learned about.
func planOnlyRemote(plan *bdp.SyncPlan, pair bdp.Pair, r bdp.FileEntry) {
	addDownload(plan, pair, r)
}

func planBoth(plan *bdp.SyncPlan, pair bdp.Pair, l, r bdp.FileEntry) {
	switch l.VectorClock.Compare(r.VectorClock) {
	case bdp.ClockIdentical:
		plan.Unchanged++
	case bdp.ClockAWins:
		addUpload(plan, pair, l)
	case bdp.ClockBWins:
		addDownload(plan, pair, r)
	default: // ClockConcurrent
		winner, resolved := autoResolve(pair.Conflict, l, r)
		if !resolved {
			plan.Conflicts = append(plan.Conflicts, bdp.Conflict{Path: l.Path, Local: l, Remote: r})
			return
		}
		if winner.DeviceID == l.DeviceID && winner.Seq == l.Seq {
			addUpload(plan, pair, winner)
		} else {
			addDownload(plan, pair, winner)
		}
	}
}

// autoResolve applies the pair's conflict strategy to two concurrent
// entries. Manual resolution is left to the caller (resolved = false).
func autoResolve(strategy bdp.ConflictStrategy, l, r bdp.FileEntry) (winner bdp.FileEntry, resolved bool) {
	switch strategy {
	case bdp.LastWriteWins:
		if l.ModTime.After(r.ModTime) {
			return l, true
		}
		if r.ModTime.After(l.ModTime) {
			return r, true
		}
		// tie-break by greater deviceId
		if greaterDeviceID(l.DeviceID, r.DeviceID) {
			return l, true
		}
		return r, true
	case bdp.LocalWins:
		return l, true
	case bdp.RemoteWins:
		return r, true
	default: // Manual
		return bdp.FileEntry{}, false
	}
}

func greaterDeviceID(a, b bdp.DeviceID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

func addUpload(plan *bdp.SyncPlan, pair bdp.Pair, e bdp.FileEntry) {
	if pair.Direction == bdp.DownloadOnly {
		plan.Skipped = append(plan.Skipped, bdp.SkippedAction{Path: e.Path, Reason: "upload discarded: pair is download-only"})
		return
	}
	plan.Upload = append(plan.Upload, e)
}

func addDownload(plan *bdp.SyncPlan, pair bdp.Pair, e bdp.FileEntry) {
	if pair.Direction == bdp.UploadOnly {
		plan.Skipped = append(plan.Skipped, bdp.SkippedAction{Path: e.Path, Reason: "download discarded: pair is upload-only"})
		return
	}
	plan.Download = append(plan.Download, e)
}
