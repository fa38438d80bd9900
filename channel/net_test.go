// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNetChannelSendReceiveRoundTrip(t *testing.T) {
	a, b := NewInMemoryPair()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- a.Send(ctx, []byte("hello"))
	}()

	got, err := b.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
	require.NoError(t, <-done)
}

func TestNetChannelReceiveAfterCloseErrors(t *testing.T) {
	a, b := NewInMemoryPair()
	defer b.Close()
	require.NoError(t, a.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := b.Receive(ctx)
	require.Error(t, err)
}

func TestNetChannelMultipleFramesPreserveOrder(t *testing.T) {
	a, b := NewInMemoryPair()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgs := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	go func() {
		for _, m := range msgs {
			_ = a.Send(ctx, m)
		}
	}()

	for _, want := range msgs {
		got, err := b.Receive(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}
