// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package bdp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeviceIDRoundTrip(t *testing.T) {
	id, err := NewDeviceID()
	require.NoError(t, err)
	require.False(t, id.IsEmpty())

	text, err := id.MarshalText()
	require.NoError(t, err)
	require.Len(t, text, 42) // 21 bytes -> 42 hex chars

	var out DeviceID
	require.NoError(t, out.UnmarshalText(text))
	require.Equal(t, id, out)
}

func TestDeviceIDEmpty(t *testing.T) {
	var id DeviceID
	require.True(t, id.IsEmpty())
	require.Equal(t, EmptyDeviceID, id)
}

func TestPairIDRoundTrip(t *testing.T) {
	id, err := NewPairID()
	require.NoError(t, err)

	s := id.String()
	require.Len(t, s, 64) // 32 bytes -> 64 hex chars

	out, err := PairIDFromString(s)
	require.NoError(t, err)
	require.Equal(t, id, out)
}

func TestPairIDFromStringRejectsWrongLength(t *testing.T) {
	_, err := PairIDFromString("deadbeef")
	require.Error(t, err)
}

func TestSumHashMatchesPresentation(t *testing.T) {
	h := SumHash([]byte("hello\n"))
	require.Len(t, h.String(), 64)
	require.False(t, h.IsZero())

	out, err := HashFromString(h.String())
	require.NoError(t, err)
	require.Equal(t, h, out)
}

func TestHashJSONRoundTrip(t *testing.T) {
	h := SumHash([]byte("payload"))
	data, err := h.MarshalJSON()
	require.NoError(t, err)

	var out Hash
	require.NoError(t, out.UnmarshalJSON(data))
	require.Equal(t, h, out)
}
