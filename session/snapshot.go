// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import "time"

// TransferProgress is one in-flight file transfer's entry in the state
// snapshot: bytes transferred, speed, and an ETA.
type TransferProgress struct {
	Path             string
	Upload           bool
	BytesTransferred int64
	TotalBytes       int64
	Speed            string
	ETA              time.Duration
}

// PlanSummary is the current SyncPlan's bucket sizes, for display without
// exposing the full FileEntry lists.
type PlanSummary struct {
	Uploads   int
	Downloads int
	Conflicts int
	Unchanged int
	Skipped   int
}

// Snapshot is the engine's read-only, UI-facing state: phase, last error,
// retry count, peer name, plan summary, and active transfers with
// bytes/speed/eta. UI components render this verbatim.
type Snapshot struct {
	Phase           Phase
	PeerName        string
	PeerDeviceID    string
	LastError       string
	RetryCount      int
	Plan            PlanSummary
	ActiveTransfers []TransferProgress
	UpdatedAt       time.Time
}
