// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transfer implements the Transfer Scheduler: it executes a
// SyncPlan over the message channel, streaming chunk content through the CAS
// and the codec's compression gate with bounded concurrency, per-chunk
// timeouts, and retry on hash mismatch.
package transfer

import (
	"context"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/cas"
	"github.com/butterflysync/bdp/channel"
	"github.com/butterflysync/bdp/codec"
	"github.com/butterflysync/bdp/wire"
)

// MaxConcurrentTransfers bounds in-flight file transfers, uploads and
// downloads counted together.
const MaxConcurrentTransfers = 3

// ChunkTimeout bounds how long a single chunk's round trip may take before
// the transfer fails with ErrTransferFailed.
const ChunkTimeout = 30 * time.Second

// MaxRetries bounds how many times a single mismatched chunk is re-sent
// before the whole file transfer gives up.
const MaxRetries = 3

// Result summarizes one completed (or failed) file transfer, feeding the
// byte-savings and ETA bookkeeping in the session snapshot.
type Result struct {
	Path                  string
	BytesTransferred      int64
	BytesSavedDedup       int64
	BytesSavedCompression int64
	Err                   error
}

// buildHaveNeed inspects the receiver's CAS for entry's ordered chunk list,
// returning have/need as bitsets over chunk index (wire-compact — position,
// not hash, travels on ChunkRequest).
func buildHaveNeed(store *cas.Store, chunkHashes []bdp.Hash) (have, need *bitset.BitSet, err error) {
	have = bitset.New(uint(len(chunkHashes)))
	need = bitset.New(uint(len(chunkHashes)))
	for i, h := range chunkHashes {
		ok, err := store.Has(h)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			have.Set(uint(i))
		} else {
			need.Set(uint(i))
		}
	}
	return have, need, nil
}

func bitsetIndexes(b *bitset.BitSet) []int {
	var out []int
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		out = append(out, int(i))
	}
	return out
}

func indexSet(indexes []int) map[int]struct{} {
	out := make(map[int]struct{}, len(indexes))
	for _, i := range indexes {
		out[i] = struct{}{}
	}
	return out
}

func sendFrame(ctx context.Context, ch channel.Channel, frame any) error {
	data, err := codec.EncodeText(frame)
	if err != nil {
		return err
	}
	return ch.Send(ctx, data)
}

func receiveFrame(ctx context.Context, ch channel.Channel, dst any) error {
	data, err := ch.Receive(ctx)
	if err != nil {
		return err
	}
	return codec.DecodeText(data, dst)
}

var errRetriesExhausted = errors.New("transfer: max retries exhausted for chunk")
