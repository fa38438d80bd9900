// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package device

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/store"
)

func TestGetOrCreateDevicePersistsAcrossReopen(t *testing.T) {
	kv := store.NewMemKV()

	first, err := GetOrCreateDevice(kv, "laptop")
	require.NoError(t, err)
	require.False(t, first.Record().DeviceID.IsEmpty())

	second, err := GetOrCreateDevice(kv, "ignored on reopen")
	require.NoError(t, err)
	require.Equal(t, first.Record().DeviceID, second.Record().DeviceID)
	require.Equal(t, first.Record().PublicKey, second.Record().PublicKey)
	require.Equal(t, "laptop", second.Record().Label)
}

func TestIncrementLocalSeqIsMonotonicAndPersisted(t *testing.T) {
	kv := store.NewMemKV()
	svc, err := GetOrCreateDevice(kv, "laptop")
	require.NoError(t, err)

	seq1, err := svc.IncrementLocalSeq()
	require.NoError(t, err)
	seq2, err := svc.IncrementLocalSeq()
	require.NoError(t, err)
	require.Equal(t, seq1+1, seq2)

	reopened, err := GetOrCreateDevice(kv, "laptop")
	require.NoError(t, err)
	require.Equal(t, seq2, reopened.Record().LocalSeq)
}

func TestDeriveSharedKeyIsSymmetricBetweenTwoDevices(t *testing.T) {
	alice, err := GetOrCreateDevice(store.NewMemKV(), "alice")
	require.NoError(t, err)
	bob, err := GetOrCreateDevice(store.NewMemKV(), "bob")
	require.NoError(t, err)

	aliceAEAD, err := alice.DeriveSharedKey(bob.Record().PublicKey)
	require.NoError(t, err)
	bobAEAD, err := bob.DeriveSharedKey(alice.Record().PublicKey)
	require.NoError(t, err)

	nonce := make([]byte, aliceAEAD.NonceSize())
	plaintext := []byte("hello over the wire")
	ciphertext := aliceAEAD.Seal(nil, nonce, plaintext, nil)

	got, err := bobAEAD.Open(nil, nonce, ciphertext, nil)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDeriveSharedKeyRejectsMalformedPeerKey(t *testing.T) {
	alice, err := GetOrCreateDevice(store.NewMemKV(), "alice")
	require.NoError(t, err)

	_, err = alice.DeriveSharedKey([]byte("too short"))
	require.ErrorIs(t, err, bdp.ErrCrypto)
}

func TestDeriveGroupKeyIsDeterministicForSamePair(t *testing.T) {
	alice, err := GetOrCreateDevice(store.NewMemKV(), "alice")
	require.NoError(t, err)
	bob, err := GetOrCreateDevice(store.NewMemKV(), "bob")
	require.NoError(t, err)

	pairID, err := bdp.NewPairID()
	require.NoError(t, err)

	aliceAEAD, err := alice.DeriveGroupKey(pairID)
	require.NoError(t, err)
	bobAEAD, err := bob.DeriveGroupKey(pairID)
	require.NoError(t, err)

	nonce := make([]byte, aliceAEAD.NonceSize())
	ciphertext := aliceAEAD.Seal(nil, nonce, []byte("delta"), nil)
	got, err := bobAEAD.Open(nil, nonce, ciphertext, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("delta"), got)

	otherPairID, err := bdp.NewPairID()
	require.NoError(t, err)
	otherAEAD, err := alice.DeriveGroupKey(otherPairID)
	require.NoError(t, err)
	_, err = otherAEAD.Open(nil, nonce, ciphertext, nil)
	require.Error(t, err)
}
