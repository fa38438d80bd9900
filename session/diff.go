// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"context"
	"encoding/base64"

	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/codec"
	"github.com/butterflysync/bdp/merkle"
	"github.com/butterflysync/bdp/wire"
)

// greet sends this device's Hello and concurrently awaits the peer's. Per
// net.Conn's documented concurrency guarantee (carried through to any
// Channel implementation built on it), one goroutine may safely Send while
// another Receives on the same connection, so neither side needs to agree
// in advance on who speaks first.
func (e *Engine) greet(ctx context.Context) (wire.Hello, error) {
	e.setPhase(ctx, PhaseGreeting)

	localRoot, err := e.idx.Root(e.selfID)
	if err != nil {
		return wire.Hello{}, err
	}
	rec := e.device.Record()
	hello := wire.Hello{
		Header:    e.newHeader(wire.TypeHello),
		DeviceID:  e.selfID.String(),
		Name:      rec.Label,
		PublicKey: base64.StdEncoding.EncodeToString(rec.PublicKey),
		Pairs: []wire.PairHello{{
			PairID:     e.pair.PairID.String(),
			MerkleRoot: localRoot.RootHash.String(),
			MaxSeq:     localRoot.MaxSeq,
			IndexID:    localRoot.IndexID.String(),
		}},
	}

	data, err := codec.EncodeText(hello)
	if err != nil {
		return wire.Hello{}, errors.Wrap(err, "session: encoding hello")
	}

	sendDone := make(chan error, 1)
	go func() { sendDone <- e.ch.Send(ctx, data) }()

	frame, recvErr := e.receiveRaw(ctx)
	if sendErr := <-sendDone; sendErr != nil {
		return wire.Hello{}, errors.Wrap(sendErr, "session: sending hello")
	}
	if recvErr != nil {
		return wire.Hello{}, errors.Wrap(recvErr, "session: awaiting peer hello")
	}

	var peerHello wire.Hello
	if err := codec.DecodeText(frame, &peerHello); err != nil {
		return wire.Hello{}, errors.Wrap(err, "session: decoding peer hello")
	}
	return peerHello, nil
}

// driveDiffAndSync is the active side's diffing logic: it alone decides
// idle/delta_sync/full_sync, using only information already in hand from
// the Hello exchange and its own local bookkeeping, then drives the chosen
// protocol. The passive side never needs to make this decision; it reacts
// to whichever frames the active side sends (see respondToDiffAndSync).
func (e *Engine) driveDiffAndSync(ctx context.Context, peerPair wire.PairHello) (local, remote []bdp.FileEntry, err error) {
	localRoot, err := e.idx.Root(e.selfID)
	if err != nil {
		return nil, nil, err
	}
	peerRootHash, err := bdp.HashFromString(peerPair.MerkleRoot)
	if err != nil {
		return nil, nil, errors.Wrap(err, "session: decoding peer root hash")
	}
	if localRoot.RootHash == peerRootHash {
		if err := e.sendAck(ctx, wire.AckDone); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}

	if e.canDeltaSync(peerPair) {
		e.setPhase(ctx, PhaseDeltaSync)
		return e.deltaSyncActive(ctx, peerPair)
	}
	e.setPhase(ctx, PhaseFullSync)
	return e.fullSyncActive(ctx)
}

// canDeltaSync decides whether a seq-range delta suffices instead of a full
// Merkle diff walk. Restricted to exactly two-member pairs: FileEntry.Seq is
// a per-authoring-device counter, not globally comparable across more than
// one peer's view, so a larger pair always falls back to full_sync for
// correctness.
func (e *Engine) canDeltaSync(peerPair wire.PairHello) bool {
	if len(e.pair.Peers) != 2 {
		return false
	}
	last, known := e.pair.LastKnownRemoteRoots[e.peerDeviceID]
	if !known {
		return false
	}
	peerIndexID, err := bdp.HashFromString(peerPair.IndexID)
	if err != nil {
		return false
	}
	return last.IndexID == peerIndexID
}

// fullSyncActive drives the Merkle diff-walk, then exchanges full FileEntry
// records for every divergent path: it asks for the peer's entries, then
// proactively pushes its own (the divergent path set is symmetric, so
// nothing further needs to be negotiated), then closes the phase with an
// explicit Ack.
func (e *Engine) fullSyncActive(ctx context.Context) (local, remote []bdp.FileEntry, err error) {
	divergent, err := e.merkleIdx.DiffWalk(e.remoteFetch(ctx))
	if err != nil {
		return nil, nil, err
	}
	if len(divergent) == 0 {
		if err := e.sendAck(ctx, wire.AckDone); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}

	if err := e.sendFrame(ctx, wire.IndexRequest{Header: e.newHeader(wire.TypeIndexRequest), Paths: divergent}); err != nil {
		return nil, nil, err
	}

	var resp wire.IndexEntries
	if err := e.receiveFrame(ctx, &resp); err != nil {
		return nil, nil, err
	}
	remote, err = decodeEntries(resp.Entries)
	if err != nil {
		return nil, nil, err
	}

	local, err = e.entriesAtPaths(divergent)
	if err != nil {
		return nil, nil, err
	}
	if err := e.sendFrame(ctx, wire.IndexEntries{Header: e.newHeader(wire.TypeIndexEntries), Entries: encodeEntries(local)}); err != nil {
		return nil, nil, err
	}
	if err := e.sendAck(ctx, wire.AckDone); err != nil {
		return nil, nil, err
	}
	return local, remote, nil
}

// remoteFetch adapts the channel into a merkle.RemoteFetchFunc: one
// MerkleRequest/MerkleResponse round trip per diff-walk frontier.
func (e *Engine) remoteFetch(ctx context.Context) merkle.RemoteFetchFunc {
	return func(paths []string) (map[string]merkle.RemoteNode, error) {
		if err := e.sendFrame(ctx, wire.MerkleRequest{Header: e.newHeader(wire.TypeMerkleRequest), Paths: paths}); err != nil {
			return nil, err
		}
		var resp wire.MerkleResponse
		if err := e.receiveFrame(ctx, &resp); err != nil {
			return nil, err
		}
		out := make(map[string]merkle.RemoteNode, len(resp.Nodes))
		for _, n := range resp.Nodes {
			hash, children, err := codec.FromMerkleNodeHash(n)
			if err != nil {
				return nil, err
			}
			out[n.Path] = merkle.RemoteNode{Hash: hash, Children: children}
		}
		return out, nil
	}
}

// deltaSyncActive runs the fixed, four-frame seq-range exchange: ask for the
// peer's entries since the last root we recorded for them, then (since the
// peer independently knows, purely from our just-sent Hello plus its own
// bookkeeping, how much of *our* history it is missing) answer its mirrored
// pull request with our own entries.
func (e *Engine) deltaSyncActive(ctx context.Context, peerPair wire.PairHello) (local, remote []bdp.FileEntry, err error) {
	last := e.pair.LastKnownRemoteRoots[e.peerDeviceID]
	sinceSeq := last.MaxSeq
	if err := e.sendFrame(ctx, wire.IndexRequest{Header: e.newHeader(wire.TypeIndexRequest), SinceSeq: &sinceSeq}); err != nil {
		return nil, nil, err
	}

	var resp wire.IndexEntries
	if err := e.receiveFrame(ctx, &resp); err != nil {
		return nil, nil, err
	}
	remote, err = decodeEntries(resp.Entries)
	if err != nil {
		return nil, nil, err
	}

	var pull wire.IndexRequest
	if err := e.receiveFrame(ctx, &pull); err != nil {
		return nil, nil, err
	}
	if pull.SinceSeq == nil {
		return nil, nil, errors.New("session: peer's delta_sync pull request is missing sinceSeq")
	}
	local, err = e.idx.EntriesFromAuthorSince(e.selfID, *pull.SinceSeq)
	if err != nil {
		return nil, nil, err
	}
	if err := e.sendFrame(ctx, wire.IndexEntries{Header: e.newHeader(wire.TypeIndexEntries), Entries: encodeEntries(local)}); err != nil {
		return nil, nil, err
	}
	if err := e.sendAck(ctx, wire.AckDone); err != nil {
		return nil, nil, err
	}
	return local, remote, nil
}

// respondToDiffAndSync is the passive side's whole diffing/sync behavior: a
// single dispatch loop reacting to whatever the active side sends, without
// ever having to independently decide idle/delta_sync/full_sync. A
// MerkleRequest implies full_sync; an IndexRequest carrying SinceSeq implies
// delta_sync, in which case this side also proactively sends its own pull
// request (computed entirely from its own bookkeeping plus the peer's
// just-received Hello, per deltaSyncActive's doc comment) before waiting for
// the closing Ack.
func (e *Engine) respondToDiffAndSync(ctx context.Context) (local, remote []bdp.FileEntry, err error) {
	deltaPullSent := false
	for {
		frame, err := e.receiveRaw(ctx)
		if err != nil {
			return nil, nil, err
		}
		typ, err := codec.TypeOf(frame)
		if err != nil {
			return nil, nil, errors.Wrap(err, "session: decoding frame type while awaiting peer's diff")
		}

		switch typ {
		case wire.TypeAck:
			var ack wire.Ack
			if err := codec.DecodeText(frame, &ack); err != nil {
				return nil, nil, err
			}
			if ack.Status == wire.AckDone {
				return local, remote, nil
			}

		case wire.TypeMerkleRequest:
			var req wire.MerkleRequest
			if err := codec.DecodeText(frame, &req); err != nil {
				return nil, nil, err
			}
			e.setPhase(ctx, PhaseFullSync)
			if err := e.respondMerkleRequest(ctx, req); err != nil {
				return nil, nil, err
			}

		case wire.TypeIndexRequest:
			var req wire.IndexRequest
			if err := codec.DecodeText(frame, &req); err != nil {
				return nil, nil, err
			}
			var ownEntries []bdp.FileEntry
			if req.SinceSeq != nil {
				e.setPhase(ctx, PhaseDeltaSync)
				ownEntries, err = e.idx.EntriesFromAuthorSince(e.selfID, *req.SinceSeq)
			} else {
				ownEntries, err = e.entriesAtPaths(req.Paths)
			}
			if err != nil {
				return nil, nil, err
			}
			local = ownEntries
			if err := e.sendFrame(ctx, wire.IndexEntries{Header: e.newHeader(wire.TypeIndexEntries), Entries: encodeEntries(ownEntries)}); err != nil {
				return nil, nil, err
			}
			if req.SinceSeq != nil && !deltaPullSent {
				deltaPullSent = true
				pullSince := e.deltaPullSinceSeq()
				if err := e.sendFrame(ctx, wire.IndexRequest{Header: e.newHeader(wire.TypeIndexRequest), SinceSeq: &pullSince}); err != nil {
					return nil, nil, err
				}
			}

		case wire.TypeIndexEntries:
			var ie wire.IndexEntries
			if err := codec.DecodeText(frame, &ie); err != nil {
				return nil, nil, err
			}
			remote, err = decodeEntries(ie.Entries)
			if err != nil {
				return nil, nil, err
			}

		case wire.TypePing:
			if err := e.sendFrame(ctx, wire.Pong{Header: e.newHeader(wire.TypePong)}); err != nil {
				return nil, nil, err
			}

		default:
			return nil, nil, errors.Newf("session: unexpected frame %q while awaiting peer's diff", typ)
		}
	}
}

func (e *Engine) deltaPullSinceSeq() uint64 {
	last, known := e.pair.LastKnownRemoteRoots[e.peerDeviceID]
	if !known {
		return 0
	}
	return last.MaxSeq
}

// respondMerkleRequest answers one round of the peer's diff-walk: internal
// (directory) node paths are answered from the Merkle Index directly; a
// path with no Merkle node is either a leaf file (answered with its content
// hash, or the tombstone sentinel) or genuinely absent, in which case it is
// simply omitted from the response.
func (e *Engine) respondMerkleRequest(ctx context.Context, req wire.MerkleRequest) error {
	nodes := make([]wire.MerkleNodeHash, 0, len(req.Paths))
	for _, path := range req.Paths {
		node, exists, err := e.merkleIdx.NodeAt(path)
		if err != nil {
			return err
		}
		if exists {
			nodes = append(nodes, codec.ToMerkleNodeHash(path, node.Hash, node.Children))
			continue
		}

		entry, hasEntry, err := e.idx.Get(path)
		if err != nil {
			return err
		}
		if !hasEntry {
			continue
		}
		leafHash := entry.Hash
		if entry.Tombstone {
			leafHash = tombstoneLeafHash
		}
		nodes = append(nodes, codec.ToMerkleNodeHash(path, leafHash, nil))
	}
	return e.sendFrame(ctx, wire.MerkleResponse{Header: e.newHeader(wire.TypeMerkleResponse), Nodes: nodes})
}
