// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package channel

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
)

// maxFrameLen bounds a single length-prefixed frame at 64MiB; large enough
// for any text frame and for a Chunk frame carrying a full 256KiB piece plus
// header, small enough to stop a malformed length prefix from allocating the
// whole address space.
const maxFrameLen = 64 << 20

// NetChannel is a Channel over any net.Conn, framing each message with a
// u32 big-endian length prefix. It works equally over a real TCP/TLS
// connection and over net.Pipe (see NewInMemoryPair). Send and Receive
// observe ctx only through its deadline, reported as
// context.DeadlineExceeded; cancelling a ctx that has no deadline does not
// interrupt a call already blocked on the connection.
type NetChannel struct {
	conn net.Conn

	closeOnce sync.Once
	closeErr  error
}

// NewNetChannel wraps an already-established connection.
func NewNetChannel(conn net.Conn) *NetChannel {
	return &NetChannel{conn: conn}
}

func (c *NetChannel) Send(ctx context.Context, frame []byte) error {
	if len(frame) > maxFrameLen {
		return fmt.Errorf("channel: frame of %d bytes exceeds max %d", len(frame), maxFrameLen)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	if _, err := c.conn.Write(lenBuf[:]); err != nil {
		return c.translateErr(err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		return c.translateErr(err)
	}
	return nil
}

func (c *NetChannel) Receive(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(dl)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(c.conn, lenBuf[:]); err != nil {
		return nil, c.translateErr(err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("channel: peer advertised frame of %d bytes exceeding max %d", n, maxFrameLen)
	}

	frame := make([]byte, n)
	if _, err := io.ReadFull(c.conn, frame); err != nil {
		return nil, c.translateErr(err)
	}
	return frame, nil
}

func (c *NetChannel) translateErr(err error) error {
	if err == io.EOF {
		return ErrClosed
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return err
}

func (c *NetChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
