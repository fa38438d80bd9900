// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package session implements the Session Engine: the phase state machine
// that drives one sync session with a peer over a single Channel,
// orchestrating the Device & Key Service, CAS, File Index, Merkle Index,
// Sync Planner, and Transfer Scheduler collaborators through the wire
// protocol.
package session

// Phase is one state of the session state machine.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseGreeting           Phase = "greeting"
	PhaseDiffing            Phase = "diffing"
	PhaseDeltaSync          Phase = "delta_sync"
	PhaseFullSync           Phase = "full_sync"
	PhaseTransferring       Phase = "transferring"
	PhaseResolvingConflict  Phase = "resolving_conflict"
	PhaseFinalizing         Phase = "finalizing"
	PhaseRetrying           Phase = "retrying"
	PhaseError              Phase = "error"
)
