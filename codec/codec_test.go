// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/butterflysync/bdp/wire"
)

func TestEncodeDecodeTextFrame(t *testing.T) {
	hello := wire.Hello{
		Header:    wire.NewHeader(wire.TypeHello, "", "msg-1", "device-1", time.Unix(0, 0)),
		DeviceID:  "device-1",
		Name:      "laptop",
		PublicKey: "cHVia2V5",
		Pairs: []wire.PairHello{
			{PairID: "pair-1", MerkleRoot: "deadbeef", MaxSeq: 3, IndexID: "idx-1"},
		},
	}

	data, err := EncodeText(hello)
	require.NoError(t, err)

	typ, err := TypeOf(data)
	require.NoError(t, err)
	require.Equal(t, wire.TypeHello, typ)

	var out wire.Hello
	require.NoError(t, DecodeText(data, &out))
	require.Equal(t, hello, out)
}

func TestChunkFrameRoundTrip(t *testing.T) {
	header := wire.ChunkHeader{
		TransferID:   "t1",
		ChunkHash:    strings.Repeat("ab", 32),
		Index:        2,
		IsLast:       true,
		Compressed:   false,
		OriginalSize: 5,
	}
	data := []byte("hello")

	frame, err := EncodeChunkFrame(header, data)
	require.NoError(t, err)

	gotHeader, gotData, err := DecodeChunkFrame(frame)
	require.NoError(t, err)
	require.Equal(t, header, gotHeader)
	require.Equal(t, data, gotData)
}

func TestDecodeChunkFrameTruncated(t *testing.T) {
	_, _, err := DecodeChunkFrame([]byte{0, 1})
	require.Error(t, err)
}

func TestCompressionGateKeepsCompressedWhenItSaves(t *testing.T) {
	data := []byte(strings.Repeat("a", 10_000))
	out, compressed, err := Compress(data)
	require.NoError(t, err)
	require.True(t, compressed)
	require.Less(t, len(out), len(data))

	back, err := Decompress(out)
	require.NoError(t, err)
	require.Equal(t, data, back)
}

func TestCompressionGateKeepsRawWhenItDoesNotSave(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i * 37)
	}
	out, compressed, err := Compress(data)
	require.NoError(t, err)
	if compressed {
		require.Less(t, len(out), int(float64(len(data))*MinCompressionSavingsRatio))
	} else {
		require.Equal(t, data, out)
	}
}

func TestShouldAttemptSkipsAlreadyCompressedExtensions(t *testing.T) {
	require.False(t, ShouldAttempt("movie.mp4"))
	require.False(t, ShouldAttempt("archive.ZIP"))
	require.True(t, ShouldAttempt("notes.txt"))
	require.True(t, ShouldAttempt("no-extension"))
}
