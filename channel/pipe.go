// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package channel

import (
	"net"
)

// NewInMemoryPair returns two Channels wired together with net.Pipe, for
// tests and local simulations of a two-device sync that never touch a real
// network.
func NewInMemoryPair() (Channel, Channel) {
	a, b := net.Pipe()
	return NewNetChannel(a), NewNetChannel(b)
}
