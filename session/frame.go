// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/codec"
	"github.com/butterflysync/bdp/wire"
)

// tombstoneLeafHash is the Merkle leaf sentinel for a deleted path, matching
// the one the index package's replace() feeds OnLeafChanged with so a
// locally reported leaf hash and a peer-reported one compare equal.
var tombstoneLeafHash = bdp.SumHash([]byte("bdp:tombstone"))

func newMsgID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func (e *Engine) newHeader(typ wire.FrameType) wire.Header {
	return wire.NewHeader(typ, e.pair.PairID.String(), newMsgID(), e.selfID.String(), time.Now())
}

func (e *Engine) sendFrame(ctx context.Context, frame any) error {
	data, err := codec.EncodeText(frame)
	if err != nil {
		return errors.Wrap(err, "session: encoding frame")
	}
	if err := e.ch.Send(ctx, data); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.BytesSent.Add(float64(len(data)))
	}
	return nil
}

func (e *Engine) receiveFrame(ctx context.Context, dst any) error {
	data, err := e.receiveRaw(ctx)
	if err != nil {
		return err
	}
	return codec.DecodeText(data, dst)
}

func (e *Engine) sendAck(ctx context.Context, status wire.AckStatus) error {
	return e.sendFrame(ctx, wire.Ack{Header: e.newHeader(wire.TypeAck), Status: status})
}

func parseDeviceIDHex(s string) (bdp.DeviceID, error) {
	var id bdp.DeviceID
	if err := id.UnmarshalText([]byte(s)); err != nil {
		return bdp.DeviceID{}, err
	}
	return id, nil
}

func encodeEntries(entries []bdp.FileEntry) []wire.WireFileEntry {
	out := make([]wire.WireFileEntry, len(entries))
	for i, e := range entries {
		out[i] = codec.ToWireFileEntry(e)
	}
	return out
}

func decodeEntries(entries []wire.WireFileEntry) ([]bdp.FileEntry, error) {
	out := make([]bdp.FileEntry, len(entries))
	for i, w := range entries {
		decoded, err := codec.FromWireFileEntry(w)
		if err != nil {
			return nil, errors.Wrapf(err, "session: decoding entry %d", i)
		}
		out[i] = decoded
	}
	return out, nil
}

func (e *Engine) entriesAtPaths(paths []string) ([]bdp.FileEntry, error) {
	out := make([]bdp.FileEntry, 0, len(paths))
	for _, path := range paths {
		entry, ok, err := e.idx.Get(path)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, entry)
		}
	}
	return out, nil
}
