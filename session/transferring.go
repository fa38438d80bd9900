// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/transfer"
)

// taggedEntry pairs a plan entry with which direction it moves.
type taggedEntry struct {
	entry  bdp.FileEntry
	upload bool
}

// applyTombstones handles deletes before any wire-level transferring starts:
// a tombstone download carries no chunk content, so there is nothing to
// stream — its metadata already traveled in the diffing/sync exchange, and
// applying it locally plus removing the file is the whole job.
func (e *Engine) applyTombstones(plan bdp.SyncPlan) error {
	for _, entry := range plan.Download {
		if !entry.Tombstone {
			continue
		}
		if _, err := e.idx.ApplyRemote(entry); err != nil {
			return err
		}
		if err := removeEntryFromFolder(e.pair.Folder, entry); err != nil {
			return err
		}
	}
	return nil
}

// transferAll executes the plan's content-bearing uploads and downloads.
// True wire-level concurrency isn't possible over one shared ordered
// Channel without a correlation layer the session doesn't have, so transfers
// run sequentially, in a deterministic path order both peers compute
// independently from the same mirrored plan — transfer.Scheduler's own
// concurrency bound is exercised in isolation (see its tests), not here.
func (e *Engine) transferAll(ctx context.Context, plan bdp.SyncPlan) error {
	e.setPhase(ctx, PhaseTransferring)

	var combined []taggedEntry
	for _, entry := range plan.Upload {
		if entry.Tombstone {
			continue
		}
		combined = append(combined, taggedEntry{entry: entry, upload: true})
	}
	for _, entry := range plan.Download {
		if entry.Tombstone {
			continue
		}
		combined = append(combined, taggedEntry{entry: entry, upload: false})
	}
	sort.Slice(combined, func(i, j int) bool { return combined[i].entry.Path < combined[j].entry.Path })

	for _, t := range combined {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.transferOne(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) transferOne(ctx context.Context, t taggedEntry) error {
	transferID := newMsgID()
	e.addActiveTransfer(t.entry.Path, t.upload, t.entry.Size)
	defer e.removeActiveTransfer(t.entry.Path)

	started := time.Now()
	if t.upload {
		res, err := transfer.SendFile(ctx, e.ch, e.casStore, transferID, t.entry)
		e.recordTransferResult(res, started)
		if err != nil {
			return errors.Wrapf(err, "session: uploading %q", t.entry.Path)
		}
		return nil
	}

	content, res, err := transfer.ReceiveFile(ctx, e.ch, e.casStore, transferID, t.entry)
	e.recordTransferResult(res, started)
	if err != nil {
		return errors.Wrapf(err, "session: downloading %q", t.entry.Path)
	}
	if _, err := e.idx.ApplyRemote(t.entry); err != nil {
		return err
	}
	return writeEntryToFolder(e.pair.Folder, t.entry, content)
}

func (e *Engine) recordTransferResult(res transfer.Result, started time.Time) {
	e.sched.Estimator().Observe(res.BytesTransferred, time.Since(started))
	if e.metrics == nil {
		return
	}
	e.metrics.BytesSavedDedup.Add(float64(res.BytesSavedDedup))
	e.metrics.BytesSavedCompression.Add(float64(res.BytesSavedCompression))
}

func (e *Engine) addActiveTransfer(path string, upload bool, totalBytes int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot.ActiveTransfers = append(e.snapshot.ActiveTransfers, TransferProgress{
		Path:       path,
		Upload:     upload,
		TotalBytes: totalBytes,
		Speed:      e.sched.Estimator().SpeedString(),
		ETA:        e.sched.Estimator().ETA(totalBytes),
	})
	if e.metrics != nil {
		e.metrics.ActiveTransfers.Inc()
	}
}

func (e *Engine) removeActiveTransfer(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, t := range e.snapshot.ActiveTransfers {
		if t.Path == path {
			e.snapshot.ActiveTransfers = append(e.snapshot.ActiveTransfers[:i], e.snapshot.ActiveTransfers[i+1:]...)
			break
		}
	}
	if e.metrics != nil {
		e.metrics.ActiveTransfers.Dec()
	}
}

// transferResolvedRemoteWinners exchanges chunk content for every resolved
// conflict: resolution only carries metadata (the Local/Remote FileEntry
// pair was already known from the diffing exchange), so the winner's bytes
// still need to move. Both peers apply the same winner (resolveConflicts'
// whole point), so both independently compute the same sorted path order
// and the same send/receive role per path — whichever side authored the
// winner sends, the other receives — keeping the two sides in lockstep over
// the shared Channel exactly as the ordinary upload/download loop does.
func (e *Engine) transferResolvedRemoteWinners(ctx context.Context, conflicts []bdp.Conflict) error {
	paths := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		paths = append(paths, c.Path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		winner, ok, err := e.idx.Get(path)
		if err != nil {
			return err
		}
		if !ok || winner.Tombstone {
			continue
		}
		if err := e.transferOne(ctx, taggedEntry{entry: winner, upload: winner.DeviceID == e.selfID}); err != nil {
			return err
		}
	}
	return nil
}
