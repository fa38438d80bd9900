// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Command bdp-relay serves the reference relay HTTP routes that let two
// devices exchange encrypted index deltas without ever being online at
// the same time.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/butterflysync/bdp/relayserver"
)

func main() {
	var addr string

	root := &cobra.Command{
		Use:   "bdp-relay",
		Short: "Reference Butterfly Delta Protocol relay server",
		Long: `bdp-relay serves the three relay HTTP routes devices use to push and pull
end-to-end encrypted index deltas while a peer is offline. The server never
sees plaintext: it only stores and forwards opaque envelopes, enforcing
per-pair size, count, age, and rate limits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := relayserver.New()
			httpServer := &http.Server{
				Addr:         addr,
				Handler:      srv.Mux(),
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			fmt.Printf("bdp-relay listening on %s\n", addr)
			return httpServer.ListenAndServe()
		},
	}

	root.Flags().StringVar(&addr, "addr", ":8443", "address to listen on")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
