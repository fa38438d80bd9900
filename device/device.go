// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package device implements the Device & Key Service: it issues and
// persists this process's identity and derives the pairwise and group AEAD
// keys the rest of the system uses to protect frames and relay envelopes.
// The private scalar never leaves this package; callers only ever see
// derived symmetric keys or the exported public key bytes.
package device

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/hkdf"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/store"
)

// groupKeyInfo is the fixed HKDF application-info string for deriving a
// pair's group key: two devices sharing the same pair secret deterministically
// derive the same key without ever exchanging material.
const groupKeyInfo = "butterfly-delta-protocol/group-key/v1"

const deviceRecordKey = "self"

// KeyHandle is the non-extractable private-key handle for a Device: the
// X25519 scalar lives only inside this struct, which this package never
// exposes outside of Service.
type KeyHandle struct {
	private *ecdh.PrivateKey
}

// Service is the Device & Key Service collaborator. One Service exists per
// running agent process.
type Service struct {
	kv  store.KV
	key *KeyHandle
	rec bdp.Device
}

// persistedKeypair is the on-disk form of a device's keypair; the private
// scalar is stored in the same KV record, which is as close to "OS/runtime
// key store" as a portable reference implementation can get without a
// platform-specific keychain binding.
type persistedKeypair struct {
	Device     bdp.Device `json:"device"`
	PrivateKey []byte     `json:"privateKey"`
}

// GetOrCreateDevice returns the process's persisted device record, generating
// a fresh X25519 identity on first launch.
func GetOrCreateDevice(kv store.KV, label string) (*Service, error) {
	raw, err := kv.Get(store.CollDevices, []byte(deviceRecordKey))
	if err == nil {
		var pk persistedKeypair
		if jsonErr := json.Unmarshal(raw, &pk); jsonErr != nil {
			return nil, errors.Wrap(jsonErr, "device: decoding persisted device record")
		}
		priv, curveErr := ecdh.X25519().NewPrivateKey(pk.PrivateKey)
		if curveErr != nil {
			return nil, fmt.Errorf("%w: decoding persisted private key: %v", bdp.ErrCrypto, curveErr)
		}
		return &Service{kv: kv, key: &KeyHandle{private: priv}, rec: pk.Device}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrap(err, "device: reading persisted device record")
	}

	deviceID, err := bdp.NewDeviceID()
	if err != nil {
		return nil, err
	}
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: generating x25519 keypair: %v", bdp.ErrCrypto, err)
	}

	rec := bdp.Device{
		DeviceID:  deviceID,
		Label:     label,
		LocalSeq:  0,
		PublicKey: priv.PublicKey().Bytes(),
	}
	svc := &Service{kv: kv, key: &KeyHandle{private: priv}, rec: rec}
	if err := svc.persist(); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *Service) persist() error {
	pk := persistedKeypair{Device: s.rec, PrivateKey: s.key.private.Bytes()}
	raw, err := json.Marshal(pk)
	if err != nil {
		return errors.Wrap(err, "device: encoding device record")
	}
	if err := s.kv.Put(store.CollDevices, []byte(deviceRecordKey), raw); err != nil {
		return errors.Wrap(err, "device: persisting device record")
	}
	return nil
}

// Record returns a copy of this process's device record.
func (s *Service) Record() bdp.Device { return s.rec }

// IncrementLocalSeq bumps and persists the device's monotonic local sequence,
// returning the new value. Every locally observed change calls this exactly
// once.
func (s *Service) IncrementLocalSeq() (uint64, error) {
	s.rec.LocalSeq++
	if err := s.persist(); err != nil {
		return 0, err
	}
	return s.rec.LocalSeq, nil
}

// DeriveSharedKey performs X25519 ECDH with our private key and the peer's
// raw public key bytes, then derives an AES-256-GCM AEAD via HKDF-SHA-256
// over the ECDH shared secret. The session engine does not call it: direct
// P2P frames are sent as the Channel carries them, without this AEAD.
func (s *Service) DeriveSharedKey(peerPublicKey []byte) (cipher.AEAD, error) {
	peerKey, err := ecdh.X25519().NewPublicKey(peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed peer public key: %v", bdp.ErrCrypto, err)
	}
	secret, err := s.key.private.ECDH(peerKey)
	if err != nil {
		return nil, fmt.Errorf("%w: ecdh exchange: %v", bdp.ErrCrypto, err)
	}
	return aeadFromIKM(secret, "butterfly-delta-protocol/shared-key/v1")
}

// DeriveGroupKey uses HKDF-SHA-256 with zero salt, the pair secret as input
// key material, and a fixed application info string to produce an
// AES-256-GCM key. Two devices sharing the same pair secret deterministically
// derive the same group key. Used for the relay.
func (s *Service) DeriveGroupKey(pairID bdp.PairID) (cipher.AEAD, error) {
	return aeadFromIKM(pairID[:], groupKeyInfo)
}

func aeadFromIKM(ikm []byte, info string) (cipher.AEAD, error) {
	h := hkdf.New(sha256.New, ikm, nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("%w: hkdf expand: %v", bdp.ErrCrypto, err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: building aes cipher: %v", bdp.ErrCrypto, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: building gcm aead: %v", bdp.ErrCrypto, err)
	}
	return aead, nil
}
