// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package blobstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFSBlobPutGetDelete(t *testing.T) {
	b, err := NewFSBlob(t.TempDir())
	require.NoError(t, err)

	key := "abcdef0123456789"
	_, err = b.Get(key)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Put(key, []byte("chunk bytes")))

	has, err := b.Has(key)
	require.NoError(t, err)
	require.True(t, has)

	data, err := b.Get(key)
	require.NoError(t, err)
	require.Equal(t, []byte("chunk bytes"), data)

	require.NoError(t, b.Delete(key))
	has, err = b.Has(key)
	require.NoError(t, err)
	require.False(t, has)
}

func TestFSBlobList(t *testing.T) {
	b, err := NewFSBlob(t.TempDir())
	require.NoError(t, err)

	keys := []string{"aaaa1111", "bbbb2222", "aaaa3333"}
	for _, k := range keys {
		require.NoError(t, b.Put(k, []byte(k)))
	}

	var seen []string
	require.NoError(t, b.List(func(key string) (bool, error) {
		seen = append(seen, key)
		return true, nil
	}))
	require.ElementsMatch(t, keys, seen)
}

func TestFSBlobRejectsShortKeys(t *testing.T) {
	b, err := NewFSBlob(t.TempDir())
	require.NoError(t, err)
	require.Error(t, b.Put("ab", []byte("x")))
}
