// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package transfer

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/cas"
	"github.com/butterflysync/bdp/channel"
	"github.com/butterflysync/bdp/codec"
	"github.com/butterflysync/bdp/wire"
)

// SendFile streams entry's content to the peer: it waits for the receiver's
// ChunkRequest (which tells it what it still needs, given the receiver's own
// CAS), then streams those chunks, retrying any the receiver reports as
// mismatched, up to MaxRetries.
func SendFile(ctx context.Context, ch channel.Channel, store *cas.Store, transferID string, entry bdp.FileEntry) (Result, error) {
	var req wire.ChunkRequest
	if err := receiveFrame(ctx, ch, &req); err != nil {
		return Result{Path: entry.Path}, errors.Wrap(err, "transfer: awaiting chunk request")
	}
	if req.TransferID != transferID || req.Path != entry.Path {
		return Result{Path: entry.Path}, errors.Newf("transfer: chunk request for unexpected transfer/path %q/%q", req.TransferID, req.Path)
	}

	result := Result{Path: entry.Path}
	for _, idx := range req.NeedIndexes {
		if idx < 0 || idx >= len(entry.ChunkHashes) {
			return result, errors.Newf("transfer: chunk index %d out of range for %q", idx, entry.Path)
		}
		sent, err := sendChunkWithRetry(ctx, ch, store, transferID, entry, idx)
		if err != nil {
			result.Err = err
			return result, err
		}
		result.BytesTransferred += sent.originalSize
		if sent.compressed {
			result.BytesSavedCompression += sent.originalSize - sent.storedSize
		}
	}
	result.BytesSavedDedup = dedupSavings(entry, req)
	return result, nil
}

type sentChunk struct {
	originalSize int64
	storedSize   int64
	compressed   bool
}

func sendChunkWithRetry(ctx context.Context, ch channel.Channel, store *cas.Store, transferID string, entry bdp.FileEntry, idx int) (sentChunk, error) {
	hash := entry.ChunkHashes[idx]

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		raw, compressed, err := store.GetRaw(hash)
		if err != nil {
			return sentChunk{}, errors.Wrap(err, "transfer: reading chunk for send")
		}

		header := wire.ChunkHeader{
			TransferID:   transferID,
			ChunkHash:    hash.String(),
			Index:        idx,
			IsLast:       idx == len(entry.ChunkHashes)-1,
			Compressed:   compressed,
			OriginalSize: entry.Size,
		}
		frame, err := codec.EncodeChunkFrame(header, raw)
		if err != nil {
			return sentChunk{}, err
		}
		if err := ch.Send(ctx, frame); err != nil {
			return sentChunk{}, errors.Wrap(err, "transfer: sending chunk")
		}

		ackCtx, cancel := context.WithTimeout(ctx, ChunkTimeout)
		var ack wire.Ack
		err = receiveFrame(ackCtx, ch, &ack)
		cancel()
		if err != nil {
			return sentChunk{}, fmt.Errorf("%w: awaiting ack for chunk %d: %v", bdp.ErrTransferFailed, idx, err)
		}

		if ack.Status == wire.AckOK {
			return sentChunk{originalSize: int64(len(raw)), storedSize: int64(len(raw)), compressed: compressed}, nil
		}
		// AckHashMismatch: loop and retry, up to MaxRetries.
	}
	return sentChunk{}, fmt.Errorf("%w: %v", bdp.ErrTransferFailed, errRetriesExhausted)
}

// dedupSavings is the bytes the receiver already had (chunks it reported as
// "have" rather than "need"), i.e. bytes this transfer did not have to push.
func dedupSavings(entry bdp.FileEntry, req wire.ChunkRequest) int64 {
	var saved int64
	need := indexSet(req.NeedIndexes)
	for _, idx := range req.HaveIndexes {
		if _, stillNeeded := need[idx]; stillNeeded {
			continue
		}
		if idx >= 0 && idx < len(entry.ChunkHashes) {
			saved += entry.ChunkSize
		}
	}
	return saved
}
