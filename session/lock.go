// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/store"
)

// keyedLocks is the package-level readers-writer lock set, one *sync.RWMutex
// per pairId, handed out by lockFor. Nothing in this module calls lockFor:
// entriesSince/nodeAt-style lookups and upsertLocal/applyRemote/
// onEntryChanged mutations do not take this lock.
var keyedLocks sync.Map // bdp.PairID -> *sync.RWMutex

func lockFor(pairID bdp.PairID) *sync.RWMutex {
	v, _ := keyedLocks.LoadOrStore(pairID, &sync.RWMutex{})
	return v.(*sync.RWMutex)
}

// leaseTTL bounds how long a cross-tab lease is valid without renewal; a
// crashed owner's lease expires on its own rather than wedging every other
// instance out permanently.
const leaseTTL = 30 * time.Second

// crossTabLease is the on-disk row backing CrossTabLease: which owner holds
// the lease and when that claim expires.
type crossTabLease struct {
	OwnerID   string    `json:"ownerId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CrossTabLease is a renewable, store.KV-backed mutual-exclusion lease for
// one pair, held by at most one process instance at a time. Nothing in this
// module acquires one: the engine and the CLI mutate without it, and no
// instance switches to a read-only mode when another owner holds the lease.
type CrossTabLease struct {
	kv       store.KV
	pairID   bdp.PairID
	ownerID  string
	acquired bool
}

// NewCrossTabLease returns a lease handle for pairID; ownerID should be
// unique per process instance (e.g. a random id generated at startup).
func NewCrossTabLease(kv store.KV, pairID bdp.PairID, ownerID string) *CrossTabLease {
	return &CrossTabLease{kv: kv, pairID: pairID, ownerID: ownerID}
}

func (l *CrossTabLease) key() []byte { return []byte(l.pairID.String()) }

// TryAcquire claims the lease if it is unheld or expired, or already held by
// this owner (idempotent re-acquire/renew). Returns false if another live
// owner holds it.
func (l *CrossTabLease) TryAcquire() (bool, error) {
	raw, err := l.kv.Get(store.CollRelayState, l.leaseKey())
	now := time.Now()
	if err == nil {
		var existing crossTabLease
		if jsonErr := json.Unmarshal(raw, &existing); jsonErr == nil {
			if existing.OwnerID != l.ownerID && existing.ExpiresAt.After(now) {
				return false, nil
			}
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, errors.Wrap(err, "session: reading cross-tab lease")
	}

	lease := crossTabLease{OwnerID: l.ownerID, ExpiresAt: now.Add(leaseTTL)}
	data, err := json.Marshal(lease)
	if err != nil {
		return false, errors.Wrap(err, "session: encoding cross-tab lease")
	}
	if err := l.kv.Put(store.CollRelayState, l.leaseKey(), data); err != nil {
		return false, errors.Wrap(err, "session: writing cross-tab lease")
	}
	l.acquired = true
	return true, nil
}

// Renew extends an already-acquired lease's expiry; callers should call this
// on a heartbeat well inside leaseTTL.
func (l *CrossTabLease) Renew() error {
	if !l.acquired {
		ok, err := l.TryAcquire()
		if err != nil {
			return err
		}
		if !ok {
			return errors.Newf("session: cannot renew lease for pair %s: held by another owner", l.pairID)
		}
		return nil
	}
	_, err := l.TryAcquire()
	return err
}

// Release gives up the lease if this owner currently holds it.
func (l *CrossTabLease) Release() error {
	if !l.acquired {
		return nil
	}
	raw, err := l.kv.Get(store.CollRelayState, l.leaseKey())
	if errors.Is(err, store.ErrNotFound) {
		l.acquired = false
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "session: reading cross-tab lease before release")
	}
	var existing crossTabLease
	if err := json.Unmarshal(raw, &existing); err == nil && existing.OwnerID != l.ownerID {
		// Someone else's lease now; nothing to release.
		l.acquired = false
		return nil
	}
	l.acquired = false
	return l.kv.Delete(store.CollRelayState, l.leaseKey())
}

func (l *CrossTabLease) leaseKey() []byte {
	return []byte("lease:" + l.pairID.String())
}
