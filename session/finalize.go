// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/wire"
)

// finalize records what this session learned about the peer's index so a
// future session can attempt delta_sync instead of a full Merkle walk, pushes
// this device's authored changes to the relay if one is configured, and
// settles the engine back in PhaseIdle.
func (e *Engine) finalize(ctx context.Context, plan bdp.SyncPlan) error {
	e.setPhase(ctx, PhaseFinalizing)

	peerRoot, err := peerHelloToIndexRoot(e.peerPairHello)
	if err != nil {
		return errors.Wrap(err, "session: recording peer's index root")
	}

	e.mu.Lock()
	if e.pair.LastKnownRemoteRoots == nil {
		e.pair.LastKnownRemoteRoots = make(map[bdp.DeviceID]bdp.IndexRoot)
	}
	e.pair.LastKnownRemoteRoots[e.peerDeviceID] = peerRoot
	e.pair.LastSyncedAt = time.Now()
	pair := e.pair
	e.mu.Unlock()

	if e.relay != nil && len(plan.Upload) > 0 {
		localRoot, err := e.idx.Root(e.selfID)
		if err != nil {
			return err
		}
		if err := e.relay.PushDelta(pair.PairID, plan.Upload, localRoot.RootHash); err != nil {
			return errors.Wrap(err, "session: pushing delta to relay")
		}
	}

	e.setPhase(ctx, PhaseIdle)
	return nil
}

func peerHelloToIndexRoot(p wire.PairHello) (bdp.IndexRoot, error) {
	rootHash, err := bdp.HashFromString(p.MerkleRoot)
	if err != nil {
		return bdp.IndexRoot{}, errors.Wrap(err, "session: decoding peer merkle root")
	}
	indexID, err := bdp.HashFromString(p.IndexID)
	if err != nil {
		return bdp.IndexRoot{}, errors.Wrap(err, "session: decoding peer index id")
	}
	return bdp.IndexRoot{
		RootHash: rootHash,
		MaxSeq:   p.MaxSeq,
		IndexID:  indexID,
	}, nil
}
