// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package relay implements the Relay Client: encrypting local index deltas
// into envelopes for asynchronous delivery through an untrusted relay
// server, and decrypting/applying whatever envelopes a peer pushed while
// this device was offline.
package relay

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/index"
	"github.com/butterflysync/bdp/metrics"
	"github.com/butterflysync/bdp/set"
	"github.com/butterflysync/bdp/store"
)

// MaxAppliedEnvelopeIDs bounds RelayState.AppliedEnvelopeIDs: the oldest
// id is evicted once the set would otherwise grow past this.
const MaxAppliedEnvelopeIDs = 200

// KeyDeriver is the slice of device.Service the client depends on.
type KeyDeriver interface {
	DeriveGroupKey(pairID bdp.PairID) (cipher.AEAD, error)
}

// Transport is the HTTP seam to the relay server; Client never talks
// net/http directly so tests can substitute an in-process fake.
type Transport interface {
	Push(env bdp.RelayEnvelope) (expiresAt time.Time, err error)
	Pull(pairID bdp.PairID, since time.Time) (envelopes []bdp.RelayEnvelope, serverTime time.Time, err error)
	Clear(pairID bdp.PairID, upTo time.Time) (deleted int, err error)
}

// Client is the Relay Client collaborator for one device across all of its
// pairs. It satisfies session.RelayPusher, so a Session Engine's finalize
// step can push a delta through it directly.
type Client struct {
	selfID    bdp.DeviceID
	kv        store.KV
	keys      KeyDeriver
	transport Transport
	metrics   *metrics.Metrics
}

// New wires a Relay Client over the given collaborators. metrics may be nil.
func New(selfID bdp.DeviceID, kv store.KV, keys KeyDeriver, transport Transport, m *metrics.Metrics) *Client {
	return &Client{selfID: selfID, kv: kv, keys: keys, transport: transport, metrics: m}
}

func (c *Client) stateKey(pairID bdp.PairID) []byte { return []byte(pairID.String()) }

func (c *Client) loadState(pairID bdp.PairID) (bdp.RelayState, error) {
	raw, err := c.kv.Get(store.CollRelayState, c.stateKey(pairID))
	if errors.Is(err, store.ErrNotFound) {
		return bdp.RelayState{}, nil
	}
	if err != nil {
		return bdp.RelayState{}, errors.Wrap(err, "relay: reading relay state")
	}
	var state bdp.RelayState
	if err := json.Unmarshal(raw, &state); err != nil {
		return bdp.RelayState{}, errors.Wrap(err, "relay: decoding relay state")
	}
	return state, nil
}

func (c *Client) saveState(pairID bdp.PairID, state bdp.RelayState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "relay: encoding relay state")
	}
	if err := c.kv.Put(store.CollRelayState, c.stateKey(pairID), raw); err != nil {
		return errors.Wrap(err, "relay: writing relay state")
	}
	return nil
}

// PushDelta encrypts changed/newRoot into a RelayPayload and sends it to the
// relay server, for a peer that may be offline right now to pick up later.
// It implements session.RelayPusher.
func (c *Client) PushDelta(pairID bdp.PairID, changed []bdp.FileEntry, newRoot bdp.Hash) error {
	aead, err := c.keys.DeriveGroupKey(pairID)
	if err != nil {
		return errors.Wrap(err, "relay: deriving group key")
	}

	affectedPaths := make([]string, len(changed))
	var fromSeq, toSeq uint64
	for i, entry := range changed {
		affectedPaths[i] = entry.Path
		if fromSeq == 0 || entry.Seq < fromSeq {
			fromSeq = entry.Seq
		}
		if entry.Seq > toSeq {
			toSeq = entry.Seq
		}
	}

	payload := bdp.RelayPayload{
		Type:          "INDEX_DELTA",
		FromDeviceID:  c.selfID,
		DeltaEntries:  changed,
		AffectedPaths: affectedPaths,
		NewRoot:       newRoot,
		FromSeq:       fromSeq,
		ToSeq:         toSeq,
		PushedAt:      time.Now(),
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "relay: encoding payload")
	}

	var nonce [12]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return errors.Wrap(err, "relay: generating nonce")
	}

	sealed := aead.Seal(nil, nonce[:], plaintext, nil)
	if len(sealed) < 16 {
		return errors.New("relay: sealed output shorter than the AEAD tag")
	}
	ciphertext := sealed[:len(sealed)-16]
	var authTag [16]byte
	copy(authTag[:], sealed[len(sealed)-16:])

	env := bdp.RelayEnvelope{
		PairID:       pairID,
		FromDeviceID: c.selfID,
		Nonce:        nonce,
		Ciphertext:   ciphertext,
		AuthTag:      authTag,
		CreatedAt:    time.Now(),
	}

	expiresAt, err := c.transport.Push(env)
	if err != nil {
		return errors.Wrap(err, "relay: pushing envelope")
	}
	_ = expiresAt

	state, err := c.loadState(pairID)
	if err != nil {
		return err
	}
	state.LastPushSeq = toSeq
	state.PendingPush = false
	if c.metrics != nil {
		c.metrics.RelayPushes.Inc()
	}
	return c.saveState(pairID, state)
}

// PullDeltas fetches every envelope pushed for pairID since this device's
// RelayState.LastFetchedAt, applying each not-already-seen one's decrypted
// entries via idx.ApplyRemote. Decryption failures (an envelope meant for
// a different pair sharing a relay, or corruption in transit) are silently
// dropped — there is no way to distinguish "not for us" from "tampered"
// without the key, and either way the envelope carries nothing this
// device can act on.
func (c *Client) PullDeltas(pairID bdp.PairID, idx *index.Index) error {
	aead, err := c.keys.DeriveGroupKey(pairID)
	if err != nil {
		return errors.Wrap(err, "relay: deriving group key")
	}

	state, err := c.loadState(pairID)
	if err != nil {
		return err
	}

	envelopes, serverTime, err := c.transport.Pull(pairID, state.LastFetchedAt)
	if err != nil {
		return errors.Wrap(err, "relay: pulling envelopes")
	}
	if c.metrics != nil {
		c.metrics.RelayPulls.Inc()
	}

	seen := set.Of(state.AppliedEnvelopeIDs...)

	for _, env := range envelopes {
		if seen.Contains(env.ID) {
			continue
		}

		sealed := append(append([]byte{}, env.Ciphertext...), env.AuthTag[:]...)
		plaintext, err := aead.Open(nil, env.Nonce[:], sealed, nil)
		if err != nil {
			continue
		}
		var payload bdp.RelayPayload
		if err := json.Unmarshal(plaintext, &payload); err != nil {
			continue
		}

		for _, entry := range payload.DeltaEntries {
			if _, err := idx.ApplyRemote(entry); err != nil {
				return errors.Wrapf(err, "relay: applying delta entry %q", entry.Path)
			}
		}

		state.AppliedEnvelopeIDs = append(state.AppliedEnvelopeIDs, env.ID)
		if len(state.AppliedEnvelopeIDs) > MaxAppliedEnvelopeIDs {
			state.AppliedEnvelopeIDs = state.AppliedEnvelopeIDs[len(state.AppliedEnvelopeIDs)-MaxAppliedEnvelopeIDs:]
		}
	}

	state.LastFetchedAt = serverTime
	return c.saveState(pairID, state)
}

// ClearOld best-effort deletes envelopes both peers have already applied;
// a failure here never fails the caller's sync session, only the log.
func (c *Client) ClearOld(pairID bdp.PairID, upTo time.Time) (int, error) {
	deleted, err := c.transport.Clear(pairID, upTo)
	if err != nil {
		return 0, errors.Wrap(err, "relay: clearing old envelopes")
	}
	return deleted, nil
}
