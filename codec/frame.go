// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package codec encodes and decodes BDP wire frames: UTF-8 JSON for every
// text frame, and a small binary format for the Chunk frame
// ([u16 headerLength][header JSON][data bytes]). It also implements the
// compression gate that decides whether a chunk ships compressed.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/butterflysync/bdp/wire"
)

// MaxChunkHeaderLen bounds the u16 header-length prefix (65535); in practice
// a ChunkHeader is well under 1KiB.
const MaxChunkHeaderLen = 1<<16 - 1

// TypeOf peeks at a text frame's discriminator without fully decoding it.
func TypeOf(data []byte) (wire.FrameType, error) {
	var h wire.Header
	if err := json.Unmarshal(data, &h); err != nil {
		return "", fmt.Errorf("codec: peeking frame header: %w", err)
	}
	return h.Type, nil
}

// EncodeText marshals any text-frame struct (Hello, MerkleRequest, ...) to
// its UTF-8 JSON wire form.
func EncodeText(frame any) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("codec: encoding text frame: %w", err)
	}
	return data, nil
}

// DecodeText unmarshals a UTF-8 JSON text frame into dst (a pointer to one of
// the wire package's frame structs).
func DecodeText(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("codec: decoding text frame: %w", err)
	}
	return nil
}

// EncodeChunkFrame produces the binary Chunk frame:
// [u16 headerLength][header JSON][data bytes].
func EncodeChunkFrame(header wire.ChunkHeader, data []byte) ([]byte, error) {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("codec: encoding chunk header: %w", err)
	}
	if len(headerJSON) > MaxChunkHeaderLen {
		return nil, fmt.Errorf("codec: chunk header too large: %d bytes", len(headerJSON))
	}

	buf := bytes.NewBuffer(make([]byte, 0, 2+len(headerJSON)+len(data)))
	if err := binary.Write(buf, binary.BigEndian, uint16(len(headerJSON))); err != nil {
		return nil, fmt.Errorf("codec: writing chunk header length: %w", err)
	}
	buf.Write(headerJSON)
	buf.Write(data)
	return buf.Bytes(), nil
}

// DecodeChunkFrame splits a binary Chunk frame back into its header and raw
// payload bytes.
func DecodeChunkFrame(frame []byte) (wire.ChunkHeader, []byte, error) {
	if len(frame) < 2 {
		return wire.ChunkHeader{}, nil, fmt.Errorf("codec: chunk frame too short: %d bytes", len(frame))
	}
	headerLen := binary.BigEndian.Uint16(frame[:2])
	if int(headerLen)+2 > len(frame) {
		return wire.ChunkHeader{}, nil, fmt.Errorf("codec: chunk frame truncated: header length %d exceeds frame size %d", headerLen, len(frame))
	}

	var header wire.ChunkHeader
	if err := json.Unmarshal(frame[2:2+int(headerLen)], &header); err != nil {
		return wire.ChunkHeader{}, nil, fmt.Errorf("codec: decoding chunk header: %w", err)
	}
	return header, frame[2+int(headerLen):], nil
}

// ReadChunkFrame reads one length-delimited binary Chunk frame from r. The
// caller is responsible for framing at the transport level (e.g. netchannel
// prefixes every message, text or binary, with its own length).
func ReadChunkFrame(r io.Reader) (wire.ChunkHeader, []byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return wire.ChunkHeader{}, nil, fmt.Errorf("codec: reading chunk header length: %w", err)
	}
	headerLen := binary.BigEndian.Uint16(lenBuf[:])

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return wire.ChunkHeader{}, nil, fmt.Errorf("codec: reading chunk header: %w", err)
	}
	var header wire.ChunkHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return wire.ChunkHeader{}, nil, fmt.Errorf("codec: decoding chunk header: %w", err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return wire.ChunkHeader{}, nil, fmt.Errorf("codec: reading chunk data: %w", err)
	}
	return header, data, nil
}
