// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package bdp

import "errors"

// Error kinds a component may report, per the propagation policy: the lowest
// component that can meaningfully recover does so locally; everything else is
// surfaced to the Session Engine, which classifies it as recoverable (->
// retrying) or fatal (-> error).
var (
	ErrPairNotFound      = errors.New("bdp: pair not found")
	ErrCrypto            = errors.New("bdp: cryptographic operation failed")
	ErrIndexCorrupt      = errors.New("bdp: file index corrupt")
	ErrStorageFull       = errors.New("bdp: storage full")
	ErrPermissionDenied  = errors.New("bdp: permission denied")
	ErrTransferFailed    = errors.New("bdp: transfer failed")
	ErrConflictUnresolved = errors.New("bdp: conflict unresolved")
	ErrVersionMismatch   = errors.New("bdp: version mismatch")
	ErrRateLimited       = errors.New("bdp: rate limited")
	ErrTimeout           = errors.New("bdp: timeout")
	ErrHashMismatch      = errors.New("bdp: hash mismatch")
	ErrChunkNotFound     = errors.New("bdp: chunk not found")
)

// Recoverable reports whether err's kind is one the Session Engine should
// retry with exponential backoff rather than terminate the session over.
// Timeout, TransferFailed, and RateLimited are recoverable. Every other error
// is fatal, including VersionMismatch, PairNotFound, CryptoError,
// StorageFull, PermissionDenied, and errors from the KV or blob store; no
// storage error is classified as transient.
func Recoverable(err error) bool {
	switch {
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrTransferFailed),
		errors.Is(err, ErrRateLimited):
		return true
	case errors.Is(err, ErrVersionMismatch),
		errors.Is(err, ErrPairNotFound),
		errors.Is(err, ErrCrypto),
		errors.Is(err, ErrStorageFull),
		errors.Is(err, ErrPermissionDenied):
		return false
	default:
		return false
	}
}
