// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package transfer

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/montanaflynn/stats"
)

// ThroughputEstimator tracks the bytes/sec of the last N completed chunk (or
// whole-file) transfers and turns that moving average into a human-readable
// speed and a remaining-bytes ETA for the session's state snapshot.
type ThroughputEstimator struct {
	mu      sync.Mutex
	samples []float64 // bytes/sec, most recent last
	window  int
}

// NewThroughputEstimator keeps the last window samples.
func NewThroughputEstimator(window int) *ThroughputEstimator {
	return &ThroughputEstimator{window: window}
}

// Observe records one completed transfer's throughput.
func (e *ThroughputEstimator) Observe(bytesTransferred int64, elapsed time.Duration) {
	if elapsed <= 0 || bytesTransferred <= 0 {
		return
	}
	bytesPerSec := float64(bytesTransferred) / elapsed.Seconds()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples = append(e.samples, bytesPerSec)
	if len(e.samples) > e.window {
		e.samples = e.samples[len(e.samples)-e.window:]
	}
}

// MeanBytesPerSec returns the moving average throughput, or 0 if no samples
// have been observed yet.
func (e *ThroughputEstimator) MeanBytesPerSec() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.samples) == 0 {
		return 0
	}
	mean, err := stats.Mean(stats.Float64Data(e.samples))
	if err != nil {
		return 0
	}
	return mean
}

// ETA estimates the remaining time to transfer remainingBytes at the current
// moving-average throughput. Returns 0 if throughput is unknown.
func (e *ThroughputEstimator) ETA(remainingBytes int64) time.Duration {
	mean := e.MeanBytesPerSec()
	if mean <= 0 {
		return 0
	}
	return time.Duration(float64(remainingBytes) / mean * float64(time.Second))
}

// SpeedString renders the current moving-average throughput as a
// human-readable rate, e.g. "4.2 MB/s".
func (e *ThroughputEstimator) SpeedString() string {
	mean := e.MeanBytesPerSec()
	if mean <= 0 {
		return "0 B/s"
	}
	return humanize.Bytes(uint64(mean)) + "/s"
}
