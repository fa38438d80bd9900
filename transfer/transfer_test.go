// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package transfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/blobstore"
	"github.com/butterflysync/bdp/cas"
	"github.com/butterflysync/bdp/channel"
	"github.com/butterflysync/bdp/store"
)

func newTestCAS(t *testing.T) *cas.Store {
	t.Helper()
	blob, err := blobstore.NewFSBlob(t.TempDir())
	require.NoError(t, err)
	return cas.New(store.NewMemKV(), blob)
}

func chunkAndStore(t *testing.T, store *cas.Store, content []byte, chunkSize int) bdp.FileEntry {
	t.Helper()
	var hashes []bdp.Hash
	for off := 0; off < len(content); off += chunkSize {
		end := off + chunkSize
		if end > len(content) {
			end = len(content)
		}
		h, err := store.Put(content[off:end])
		require.NoError(t, err)
		hashes = append(hashes, h)
	}
	return bdp.FileEntry{
		Path:        "f.bin",
		Hash:        bdp.SumHash(content),
		Size:        int64(len(content)),
		ChunkHashes: hashes,
		ChunkSize:   int64(chunkSize),
	}
}

func TestSendReceiveFileRoundTrip(t *testing.T) {
	senderCAS := newTestCAS(t)
	receiverCAS := newTestCAS(t)

	content := []byte("the quick brown fox jumps over the lazy dog, repeated many times to span chunks. ")
	for len(content) < 30 {
		content = append(content, content...)
	}
	entry := chunkAndStore(t, senderCAS, content, 16)

	senderCh, receiverCh := channel.NewInMemoryPair()
	defer senderCh.Close()
	defer receiverCh.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type sendOutcome struct {
		res Result
		err error
	}
	sendDone := make(chan sendOutcome, 1)
	go func() {
		res, err := SendFile(ctx, senderCh, senderCAS, "t1", entry)
		sendDone <- sendOutcome{res, err}
	}()

	gotContent, recvResult, err := ReceiveFile(ctx, receiverCh, receiverCAS, "t1", entry)
	require.NoError(t, err)
	require.Equal(t, content, gotContent)
	require.Equal(t, entry.Path, recvResult.Path)

	outcome := <-sendDone
	require.NoError(t, outcome.err)
	require.Equal(t, entry.Path, outcome.res.Path)
}

func TestReceiveFileSkipsChunksAlreadyInCAS(t *testing.T) {
	senderCAS := newTestCAS(t)
	receiverCAS := newTestCAS(t)

	content := []byte("0123456789abcdef0123456789abcdef0123456789abcdef")
	entry := chunkAndStore(t, senderCAS, content, 10)

	// Receiver already has the first chunk (e.g. from a prior dedup'd file).
	firstChunk := content[:10]
	_, err := receiverCAS.Put(firstChunk)
	require.NoError(t, err)

	senderCh, receiverCh := channel.NewInMemoryPair()
	defer senderCh.Close()
	defer receiverCh.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sendDone := make(chan error, 1)
	go func() {
		_, err := SendFile(ctx, senderCh, senderCAS, "t2", entry)
		sendDone <- err
	}()

	content2, recvResult, err := ReceiveFile(ctx, receiverCh, receiverCAS, "t2", entry)
	require.NoError(t, err)
	require.Equal(t, content, content2)
	require.Greater(t, recvResult.BytesSavedDedup, int64(0))

	require.NoError(t, <-sendDone)
}

func TestThroughputEstimatorReportsZeroBeforeAnyObservation(t *testing.T) {
	est := NewThroughputEstimator(8)
	require.Equal(t, time.Duration(0), est.ETA(1000))
	require.Equal(t, "0 B/s", est.SpeedString())
}

func TestThroughputEstimatorComputesMovingAverage(t *testing.T) {
	est := NewThroughputEstimator(8)
	est.Observe(1_000_000, time.Second)
	est.Observe(1_000_000, time.Second)
	require.InDelta(t, 1_000_000, est.MeanBytesPerSec(), 1)

	eta := est.ETA(2_000_000)
	require.InDelta(t, 2*time.Second, eta, float64(100*time.Millisecond))
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	sched := NewScheduler()
	jobs := make([]Job, 10)
	for i := range jobs {
		jobs[i] = Job{Entry: bdp.FileEntry{Path: "f"}}
	}

	var mu sync.Mutex
	active, maxActive := 0, 0

	results, err := sched.Run(context.Background(), jobs, func(ctx context.Context, job Job) Result {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return Result{Path: job.Entry.Path, BytesTransferred: 100}
	})
	require.NoError(t, err)
	require.Len(t, results, 10)
	require.LessOrEqual(t, maxActive, MaxConcurrentTransfers)
}
