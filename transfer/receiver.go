// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package transfer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/cas"
	"github.com/butterflysync/bdp/channel"
	"github.com/butterflysync/bdp/codec"
	"github.com/butterflysync/bdp/wire"
)

// ReceiveFile inspects its own CAS for entry's chunk list, tells the sender
// what it still needs, streams the incoming chunks into the CAS (verifying
// each one's hash before accepting it), then assembles and returns the whole
// file's bytes once every chunk has arrived, verifying the overall hash.
func ReceiveFile(ctx context.Context, ch channel.Channel, store *cas.Store, transferID string, entry bdp.FileEntry) ([]byte, Result, error) {
	result := Result{Path: entry.Path}

	have, need, err := buildHaveNeed(store, entry.ChunkHashes)
	if err != nil {
		return nil, result, err
	}
	needIndexes := bitsetIndexes(need)

	req := wire.ChunkRequest{
		TransferID:  transferID,
		Path:        entry.Path,
		HaveIndexes: bitsetIndexes(have),
		NeedIndexes: needIndexes,
		TotalChunks: len(entry.ChunkHashes),
	}
	result.BytesSavedDedup = dedupSavings(entry, req)
	if err := sendFrame(ctx, ch, req); err != nil {
		return nil, result, errors.Wrap(err, "transfer: sending chunk request")
	}

	remaining := indexSet(needIndexes)
	for len(remaining) > 0 {
		chunkCtx, cancel := context.WithTimeout(ctx, ChunkTimeout)
		frame, err := ch.Receive(chunkCtx)
		cancel()
		if err != nil {
			return nil, result, fmt.Errorf("%w: awaiting chunk: %v", bdp.ErrTransferFailed, err)
		}

		header, raw, err := codec.DecodeChunkFrame(frame)
		if err != nil {
			return nil, result, errors.Wrap(err, "transfer: decoding chunk frame")
		}

		data := raw
		if header.Compressed {
			data, err = codec.Decompress(raw)
			if err != nil {
				return nil, result, errors.Wrap(err, "transfer: decompressing chunk")
			}
		}

		wantHash := entry.ChunkHashes[header.Index]
		if bdp.SumHash(data) != wantHash || header.ChunkHash != wantHash.String() {
			if err := sendFrame(ctx, ch, wire.Ack{
				TransferID:   transferID,
				Status:       wire.AckHashMismatch,
				ChunkIndex:   header.Index,
				ReceivedHash: bdp.SumHash(data).String(),
			}); err != nil {
				return nil, result, errors.Wrap(err, "transfer: sending mismatch ack")
			}
			continue
		}

		if _, err := store.Put(data); err != nil {
			return nil, result, errors.Wrap(err, "transfer: storing received chunk")
		}
		if err := sendFrame(ctx, ch, wire.Ack{TransferID: transferID, Status: wire.AckOK, ChunkIndex: header.Index}); err != nil {
			return nil, result, errors.Wrap(err, "transfer: sending ok ack")
		}

		result.BytesTransferred += int64(len(raw))
		if header.Compressed {
			result.BytesSavedCompression += int64(len(data)) - int64(len(raw))
		}
		delete(remaining, header.Index)
	}

	content, err := assemble(store, entry)
	if err != nil {
		return nil, result, err
	}
	if bdp.SumHash(content) != entry.Hash {
		return nil, result, fmt.Errorf("%w: assembled file %q", bdp.ErrHashMismatch, entry.Path)
	}
	return content, result, nil
}

// assemble reads every chunk of entry from the CAS, in order, and
// concatenates them into the full file content.
func assemble(store *cas.Store, entry bdp.FileEntry) ([]byte, error) {
	var buf bytes.Buffer
	for _, h := range entry.ChunkHashes {
		data, err := store.Get(h)
		if err != nil {
			return nil, errors.Wrapf(err, "transfer: assembling chunk %s", h)
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}
