// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/butterflysync/bdp/channel"
	"github.com/butterflysync/bdp/index"
	"github.com/butterflysync/bdp/merkle"
	"github.com/butterflysync/bdp/metrics"
	"github.com/butterflysync/bdp/relay"
	"github.com/butterflysync/bdp/session"
	"github.com/butterflysync/bdp/transfer"
)

func syncCmd() *cobra.Command {
	var listenAddr, connectAddr string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "sync <label>",
		Short: "Run one sync session against a paired peer",
		Long: `Sync opens a Channel to the peer (by listening or dialing, per whichever
side initiates) and drives the session state machine to completion: greeting,
diffing, a delta or full index exchange, transferring, any conflict
resolution, and finalizing. It exits once the session settles back to idle
or fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			label := args[0]
			if listenAddr == "" && connectAddr == "" {
				return errors.New("bdp-agent: one of --listen or --connect is required")
			}

			a, err := openApp(dataDirFlag, deviceLabelFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			i, ok := a.findPair(label)
			if !ok {
				return errors.Newf("bdp-agent: no pair named %q", label)
			}
			pc := a.cfg.Pairs[i]
			pair, err := pc.ToPair()
			if err != nil {
				return err
			}

			conn, err := dialOrListen(cmd.Context(), listenAddr, connectAddr)
			if err != nil {
				return err
			}
			defer conn.Close()

			merkleIdx := merkle.New(a.kv, pair.PairID)
			idx := index.New(a.kv, pair.PairID, a.cas, merkleIdx)
			sched := transfer.NewScheduler()
			m := metrics.New(nil)

			var pusher session.RelayPusher
			if pc.RelayURL != "" {
				transport := relay.NewHTTPTransport(pc.RelayURL)
				client := relay.New(a.device.Record().DeviceID, a.kv, a.device, transport, m)
				if err := client.PullDeltas(pair.PairID, idx); err != nil {
					a.logger.Warn("pulling relay deltas before sync", zap.Error(err))
				}
				pusher = client
			}

			engine := session.NewEngine(session.Config{
				Pair:      pair,
				Device:    a.device,
				CAS:       a.cas,
				Index:     idx,
				Merkle:    merkleIdx,
				Channel:   channel.NewNetChannel(conn),
				Scheduler: sched,
				KV:        a.kv,
				Metrics:   m,
				Relay:     pusher,
				Logger:    a.logger,
			})

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			runErr := engine.Run(ctx)

			a.cfg.Pairs[i].LastSyncedAt = engine.Pair().LastSyncedAt
			if saveErr := a.saveConfig(); saveErr != nil && runErr == nil {
				return saveErr
			}
			if runErr != nil {
				return errors.Wrap(runErr, "bdp-agent: sync session")
			}
			fmt.Printf("sync with %q settled in phase %s\n", label, engine.Snapshot().Phase)
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "TCP address to accept the peer's connection on")
	cmd.Flags().StringVar(&connectAddr, "connect", "", "TCP address of the peer to dial")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the session after this long (0 disables)")
	return cmd
}

// dialOrListen opens exactly one TCP connection, either by dialing connectAddr
// or by accepting a single inbound connection on listenAddr.
func dialOrListen(ctx context.Context, listenAddr, connectAddr string) (net.Conn, error) {
	if connectAddr != "" {
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", connectAddr)
		if err != nil {
			return nil, errors.Wrapf(err, "bdp-agent: dialing %q", connectAddr)
		}
		return conn, nil
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "bdp-agent: listening on %q", listenAddr)
	}
	defer ln.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	results := make(chan acceptResult, 1)
	go func() {
		conn, err := ln.Accept()
		results <- acceptResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-results:
		if r.err != nil {
			return nil, errors.Wrapf(r.err, "bdp-agent: accepting on %q", listenAddr)
		}
		return r.conn, nil
	}
}
