// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package transfer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/butterflysync/bdp"
)

// Direction discriminates an upload from a download inside the scheduler's
// bounded pool; both count against MaxConcurrentTransfers together.
type Direction int

const (
	Upload Direction = iota
	Download
)

// Job is one file transfer the Scheduler will run against a channel.
type Job struct {
	Entry     bdp.FileEntry
	Direction Direction
}

// RunFunc executes a single Job and returns its Result; the session package
// supplies this as a closure over its Channel/CAS/transfer id allocation so
// Scheduler stays decoupled from wire and storage concerns.
type RunFunc func(ctx context.Context, job Job) Result

// Scheduler runs up to MaxConcurrentTransfers jobs concurrently,
// interleaving by path rather than by chunk so one large file cannot starve
// the others.
type Scheduler struct {
	sem *semaphore.Weighted
	eta *ThroughputEstimator
}

// NewScheduler returns a Scheduler bounded at MaxConcurrentTransfers
// concurrent file transfers.
func NewScheduler() *Scheduler {
	return &Scheduler{
		sem: semaphore.NewWeighted(MaxConcurrentTransfers),
		eta: NewThroughputEstimator(64),
	}
}

// Run executes every job, respecting the concurrency bound, and returns all
// results once every job has finished or ctx is canceled.
func (s *Scheduler) Run(ctx context.Context, jobs []Job, run RunFunc) ([]Result, error) {
	results := make([]Result, len(jobs))
	var wg sync.WaitGroup
	var firstAcquireErr error
	var mu sync.Mutex

	for i, job := range jobs {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			if firstAcquireErr == nil {
				firstAcquireErr = err
			}
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			defer s.sem.Release(1)
			start := time.Now()
			res := run(ctx, job)
			s.eta.Observe(res.BytesTransferred, time.Since(start))
			results[i] = res
		}(i, job)
	}
	wg.Wait()

	if firstAcquireErr != nil {
		return results, firstAcquireErr
	}
	return results, nil
}

// Estimator exposes the scheduler's rolling throughput estimator for the
// session snapshot's ETA field.
func (s *Scheduler) Estimator() *ThroughputEstimator { return s.eta }
