// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/codec"
	"github.com/butterflysync/bdp/wire"
)

// resolveConflicts records each conflict's two candidate versions, then waits
// for a winner per path — either supplied locally through ResolveConflict or
// relayed by the peer's own ConflictResolution frame. Whichever side resolves
// first relays its choice so both peers apply the same winner; a conflict
// resolved only locally on one side would leave the pair permanently
// diverged on that path.
func (e *Engine) resolveConflicts(ctx context.Context, conflicts []bdp.Conflict) error {
	pending := make(map[string]bdp.Conflict, len(conflicts))
	for _, c := range conflicts {
		pending[c.Path] = c
		if _, err := e.idx.ApplyRemote(c.Remote); err != nil {
			return err
		}
	}
	if e.metrics != nil {
		e.metrics.ConflictsDetected.Add(float64(len(conflicts)))
	}

	peerResolutions := make(chan wire.ConflictResolution)
	recvErrs := make(chan error, 1)
	recvCtx, cancelRecv := context.WithCancel(ctx)
	defer cancelRecv()
	go e.receivePeerResolutions(recvCtx, peerResolutions, recvErrs)

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-recvErrs:
			return err
		case res := <-e.localResolutions:
			c, ok := pending[res.Path]
			if !ok {
				continue
			}
			if err := e.applyResolution(c, res.WinnerIsLocal); err != nil {
				return err
			}
			delete(pending, res.Path)
			if err := e.sendFrame(ctx, wire.ConflictResolution{
				Header:        e.newHeader(wire.TypeConflictResolution),
				Path:          res.Path,
				WinnerIsLocal: !res.WinnerIsLocal,
			}); err != nil {
				return err
			}
		case res := <-peerResolutions:
			c, ok := pending[res.Path]
			if !ok {
				continue
			}
			if err := e.applyResolution(c, res.WinnerIsLocal); err != nil {
				return err
			}
			delete(pending, res.Path)
		}
	}
	return nil
}

func (e *Engine) applyResolution(c bdp.Conflict, winnerIsLocal bool) error {
	winner := c.Remote
	if winnerIsLocal {
		winner = c.Local
	}
	if err := e.idx.ResolveConflict(c.Path, winner); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.ConflictsResolved.WithLabelValues("manual").Inc()
	}
	return nil
}

// receivePeerResolutions forwards the peer's ConflictResolution frames onto
// out until ctx is done; it shares receiveRaw with every other exchange so
// Ping/Pong keepalive still runs while the user is deciding a winner.
func (e *Engine) receivePeerResolutions(ctx context.Context, out chan<- wire.ConflictResolution, errs chan<- error) {
	for {
		data, err := e.receiveRaw(ctx)
		if err != nil {
			if ctx.Err() == nil {
				errs <- err
			}
			return
		}
		typ, err := codec.TypeOf(data)
		if err != nil {
			errs <- errors.Wrap(err, "session: peeking conflict resolution frame")
			return
		}
		if typ != wire.TypeConflictResolution {
			errs <- errors.Newf("session: expected conflict resolution, got %s", typ)
			return
		}
		var res wire.ConflictResolution
		if err := codec.DecodeText(data, &res); err != nil {
			errs <- errors.Wrap(err, "session: decoding conflict resolution")
			return
		}
		select {
		case out <- res:
		case <-ctx.Done():
			return
		}
	}
}
