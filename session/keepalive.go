// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/codec"
	"github.com/butterflysync/bdp/wire"
)

// PingInterval bounds how long the engine waits for the next frame before
// probing liveness with an idle-session ping.
const PingInterval = 90 * time.Second

// MaxMissedPings is how many consecutive unanswered pings kill the session.
// This is a simplified liveness inference: a Pong arriving at all resets
// the counter, rather than matching it back to the specific Ping that
// triggered it.
const MaxMissedPings = 2

// receiveRaw waits for the next application frame, transparently sending
// keepalive Pings on idle timeout and swallowing the resulting Pongs. It
// returns bdp.ErrTimeout once MaxMissedPings consecutive probes go
// unanswered.
func (e *Engine) receiveRaw(ctx context.Context) ([]byte, error) {
	missed := 0
	for {
		frameCtx, cancel := context.WithTimeout(ctx, PingInterval)
		data, err := e.ch.Receive(frameCtx)
		cancel()

		if err == nil {
			if e.metrics != nil {
				e.metrics.BytesReceived.Add(float64(len(data)))
			}
			if typ, terr := codec.TypeOf(data); terr == nil && typ == wire.TypePong {
				missed = 0
				continue
			}
			return data, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		missed++
		if missed > MaxMissedPings {
			return nil, errors.Wrap(bdp.ErrTimeout, "session: peer missed too many pings")
		}
		if err := e.sendFrame(ctx, wire.Ping{Header: e.newHeader(wire.TypePing)}); err != nil {
			return nil, err
		}
	}
}
