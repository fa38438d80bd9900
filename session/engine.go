// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/cas"
	"github.com/butterflysync/bdp/channel"
	"github.com/butterflysync/bdp/device"
	"github.com/butterflysync/bdp/index"
	"github.com/butterflysync/bdp/merkle"
	"github.com/butterflysync/bdp/metrics"
	"github.com/butterflysync/bdp/planner"
	"github.com/butterflysync/bdp/store"
	"github.com/butterflysync/bdp/transfer"
	"github.com/butterflysync/bdp/wire"
)

// MaxSessionRetries bounds how many times runOnce is retried on a
// recoverable error before the session gives up and settles in PhaseError.
const MaxSessionRetries = 5

// BaseRetryDelay seeds the retrying phase's exponential backoff.
const BaseRetryDelay = 2 * time.Second

// RelayPusher is implemented by the relay client; finalize calls it with the
// entries this sync authored locally, if one is wired in. A nil RelayPusher
// leaves finalization purely local (no H component running yet).
type RelayPusher interface {
	PushDelta(pairID bdp.PairID, changed []bdp.FileEntry, newRoot bdp.Hash) error
}

// Config wires one Engine's collaborators together; the zero value of
// optional fields (Metrics, Relay, Tracer) disables that piece of
// bookkeeping rather than panicking.
type Config struct {
	Pair      bdp.Pair
	Device    *device.Service
	CAS       *cas.Store
	Index     *index.Index
	Merkle    *merkle.Index
	Channel   channel.Channel
	Scheduler *transfer.Scheduler
	KV        store.KV
	Metrics   *metrics.Metrics
	Relay     RelayPusher
	Logger    *zap.Logger
	Tracer    trace.Tracer
}

// Engine drives one sync session's phase state machine, orchestrating the
// Device & Key Service, CAS, File Index, Merkle Index, Sync Planner, and
// Transfer Scheduler collaborators over a single Channel.
type Engine struct {
	pair    bdp.Pair
	selfID  bdp.DeviceID
	device  *device.Service
	casStore *cas.Store
	idx     *index.Index
	merkleIdx *merkle.Index
	ch      channel.Channel
	sched   *transfer.Scheduler
	kv      store.KV
	metrics *metrics.Metrics
	relay   RelayPusher
	log     *zap.Logger
	tracer  trace.Tracer

	isActive     bool
	peerDeviceID bdp.DeviceID
	peerPairHello wire.PairHello

	localResolutions chan wire.ConflictResolution

	mu             sync.Mutex
	snapshot       Snapshot
	phaseStartedAt time.Time
	activeSpanEnd  func()
}

// NewEngine builds an Engine ready to Run a single session over cfg.Channel.
func NewEngine(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("bdp/session")
	}
	return &Engine{
		pair:             cfg.Pair,
		selfID:           cfg.Device.Record().DeviceID,
		device:           cfg.Device,
		casStore:         cfg.CAS,
		idx:              cfg.Index,
		merkleIdx:        cfg.Merkle,
		ch:               cfg.Channel,
		sched:            cfg.Scheduler,
		kv:               cfg.KV,
		metrics:          cfg.Metrics,
		relay:            cfg.Relay,
		log:              log,
		tracer:           tracer,
		localResolutions: make(chan wire.ConflictResolution, 16),
		snapshot:         Snapshot{Phase: PhaseIdle, UpdatedAt: time.Now()},
		phaseStartedAt:   time.Now(),
	}
}

// Pair returns the engine's current view of the pair, including any
// LastKnownRemoteRoots bookkeeping updated by a successful finalize; callers
// persist it through bdpconfig after Run returns.
func (e *Engine) Pair() bdp.Pair {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pair
}

// Snapshot returns the engine's current read-only state: UI components
// render this verbatim.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.snapshot
	out.ActiveTransfers = append([]TransferProgress(nil), e.snapshot.ActiveTransfers...)
	return out
}

// ResolveConflict supplies the caller's resolution for one pending conflict;
// it is safe to call concurrently with Run, any time the engine is in
// PhaseResolvingConflict. A resolution for an unknown or already-resolved
// path is silently ignored.
func (e *Engine) ResolveConflict(path string, winnerIsLocal bool) error {
	select {
	case e.localResolutions <- wire.ConflictResolution{Path: path, WinnerIsLocal: winnerIsLocal}:
		return nil
	default:
		return errors.New("session: conflict resolution queue full")
	}
}

// Run executes the session state machine to completion: idle through
// greeting, diffing, delta_sync/full_sync, transferring, an optional
// resolving_conflict, and finalizing back to idle — retrying recoverable
// errors with exponential backoff up to MaxSessionRetries before settling
// in PhaseError.
func (e *Engine) Run(ctx context.Context) error {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.SessionDuration.Observe(time.Since(start).Seconds())
		}
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = BaseRetryDelay
	retrier := backoff.WithMaxRetries(bo, MaxSessionRetries)

	for {
		err := e.runOnce(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !bdp.Recoverable(err) {
			e.setLastError(err)
			e.setPhase(ctx, PhaseError)
			return err
		}

		next := retrier.NextBackOff()
		if next == backoff.Stop {
			e.setLastError(err)
			e.setPhase(ctx, PhaseError)
			return errors.Wrap(err, "session: retries exhausted")
		}

		e.mu.Lock()
		e.snapshot.RetryCount++
		e.mu.Unlock()
		e.setLastError(err)
		e.setPhase(ctx, PhaseRetrying)
		e.log.Warn("session retrying after recoverable error",
			zap.String("pairId", e.pair.PairID.String()), zap.Error(err), zap.Duration("backoff", next))

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// runOnce runs exactly one attempt of greeting through finalizing/idle.
func (e *Engine) runOnce(ctx context.Context) error {
	peerHello, err := e.greet(ctx)
	if err != nil {
		return err
	}

	peerDeviceID, err := parseDeviceIDHex(peerHello.DeviceID)
	if err != nil {
		return errors.Wrap(err, "session: decoding peer device id")
	}
	e.peerDeviceID = peerDeviceID
	e.setPeer(peerDeviceID, peerHello.Name)
	e.isActive = e.selfID.String() < peerHello.DeviceID

	var peerPairHello *wire.PairHello
	for i := range peerHello.Pairs {
		if peerHello.Pairs[i].PairID == e.pair.PairID.String() {
			peerPairHello = &peerHello.Pairs[i]
			break
		}
	}
	if peerPairHello == nil {
		e.setPhase(ctx, PhaseIdle)
		return nil
	}
	e.peerPairHello = *peerPairHello

	e.setPhase(ctx, PhaseDiffing)
	var localEntries, remoteEntries []bdp.FileEntry
	if e.isActive {
		localEntries, remoteEntries, err = e.driveDiffAndSync(ctx, *peerPairHello)
	} else {
		localEntries, remoteEntries, err = e.respondToDiffAndSync(ctx)
	}
	if err != nil {
		return err
	}
	if localEntries == nil && remoteEntries == nil {
		e.setPhase(ctx, PhaseIdle)
		return nil
	}

	plan := planner.Plan(e.pair, localEntries, remoteEntries)
	e.setPlan(plan)

	if err := e.applyTombstones(plan); err != nil {
		return err
	}
	if err := e.transferAll(ctx, plan); err != nil {
		return err
	}
	if len(plan.Conflicts) > 0 {
		e.setPhase(ctx, PhaseResolvingConflict)
		if err := e.resolveConflicts(ctx, plan.Conflicts); err != nil {
			return err
		}
	}
	if err := e.transferResolvedRemoteWinners(ctx, plan.Conflicts); err != nil {
		return err
	}

	return e.finalize(ctx, plan)
}

func (e *Engine) setPeer(deviceID bdp.DeviceID, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot.PeerDeviceID = deviceID.String()
	e.snapshot.PeerName = name
}

func (e *Engine) setLastError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot.LastError = err.Error()
}

func (e *Engine) setPlan(plan bdp.SyncPlan) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot.Plan = PlanSummary{
		Uploads:   len(plan.Upload),
		Downloads: len(plan.Download),
		Conflicts: len(plan.Conflicts),
		Unchanged: plan.Unchanged,
		Skipped:   len(plan.Skipped),
	}
}

// setPhase records the phase transition, closes out the previous phase's
// trace span and duration metric, and opens a new span for phase — named
// "bdp.session.<phase>" per the tracing convention the rest of the engine
// follows.
func (e *Engine) setPhase(ctx context.Context, phase Phase) {
	e.mu.Lock()
	prev := e.snapshot.Phase
	prevStarted := e.phaseStartedAt
	e.snapshot.Phase = phase
	e.snapshot.UpdatedAt = time.Now()
	e.phaseStartedAt = time.Now()
	endPrevSpan := e.activeSpanEnd
	e.mu.Unlock()

	if endPrevSpan != nil {
		endPrevSpan()
	}
	if e.metrics != nil && prev != "" {
		e.metrics.PhaseDuration.WithLabelValues(string(prev)).Observe(time.Since(prevStarted).Seconds())
	}

	_, span := e.tracer.Start(ctx, "bdp.session."+string(phase))
	e.mu.Lock()
	e.activeSpanEnd = func() { span.End() }
	e.mu.Unlock()

	e.log.Info("session phase transition",
		zap.String("pairId", e.pair.PairID.String()), zap.String("from", string(prev)), zap.String("to", string(phase)))
}
