// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package bdp

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

// DeviceID is an opaque 21-byte identifier, chosen once at first launch and
// never changed. Presented on the wire and in logs as lowercase hex.
type DeviceID [21]byte

// EmptyDeviceID is the zero value, used to mean "peer device id unknown" —
// e.g. before first contact, when a pairId must not be conflated with an
// unlearned peer device id.
var EmptyDeviceID DeviceID

// NewDeviceID generates a fresh random DeviceID using a CSPRNG.
func NewDeviceID() (DeviceID, error) {
	var id DeviceID
	if _, err := rand.Read(id[:]); err != nil {
		return DeviceID{}, fmt.Errorf("%w: generating device id: %w", ErrCrypto, err)
	}
	return id, nil
}

func (d DeviceID) String() string { return hex.EncodeToString(d[:]) }

// ShortCode renders d as base58, the form a human reads aloud or types in
// when pairing two devices out of band; the wire and on-disk form stays the
// lowercase hex of String/MarshalText.
func (d DeviceID) ShortCode() string { return base58.Encode(d[:]) }

// IsEmpty reports whether d is the zero value.
func (d DeviceID) IsEmpty() bool { return d == EmptyDeviceID }

func (d DeviceID) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *DeviceID) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("bdp: invalid device id %q: %w", text, err)
	}
	if len(b) != len(d) {
		return fmt.Errorf("bdp: device id must be %d bytes, got %d", len(d), len(b))
	}
	copy(d[:], b)
	return nil
}

// PairID is an opaque 32-byte shared secret identifying a sync pair. It
// doubles as the relay routing key and the HKDF input for the group key.
// Knowing a PairID is itself a capability: it authorizes membership, so it
// must be treated with the same care as a password.
type PairID [32]byte

// NewPairID generates a fresh random PairID suitable for bootstrapping a pair.
func NewPairID() (PairID, error) {
	var id PairID
	if _, err := rand.Read(id[:]); err != nil {
		return PairID{}, fmt.Errorf("%w: generating pair id: %w", ErrCrypto, err)
	}
	return id, nil
}

func (p PairID) String() string { return hex.EncodeToString(p[:]) }

func PairIDFromString(s string) (PairID, error) {
	var p PairID
	b, err := hex.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("bdp: invalid pair id %q: %w", s, err)
	}
	if len(b) != len(p) {
		return p, fmt.Errorf("bdp: pair id must be %d bytes, got %d", len(p), len(b))
	}
	copy(p[:], b)
	return p, nil
}

func (p PairID) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PairID) UnmarshalText(text []byte) error {
	v, err := PairIDFromString(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Hash is a 32-byte SHA-256 digest, presented on the wire as 64 lowercase hex
// characters. It is used both for per-file content hashes and chunk hashes.
type Hash [32]byte

// EmptyHash is the zero hash, used by the Merkle diff-walk's tie-break rule:
// a child missing from one side is treated as hash = 0.
var EmptyHash Hash

// SumHash returns the SHA-256 hash of data.
func SumHash(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == EmptyHash }

func HashFromString(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("bdp: invalid hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("bdp: hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := HashFromString(s)
	if err != nil {
		return err
	}
	*h = v
	return nil
}
