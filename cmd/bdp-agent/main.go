// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Command bdp-agent is the reference Butterfly Delta Protocol peer: it
// holds one device identity, a set of folder pairs, and drives a session
// against a peer for each `sync` invocation.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	dataDirFlag     string
	deviceLabelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "bdp-agent",
	Short: "Butterfly Delta Protocol sync agent",
	Long: `bdp-agent is a peer-to-peer folder sync agent: pair two devices over a
folder, then run sync sessions between them that exchange only the changed
chunks over a plain TCP connection (only relay deltas are encrypted), with
deterministic conflict resolution when
both sides touch the same file concurrently.`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", defaultDataDir(), "directory holding this device's config, index, and chunk store")
	rootCmd.PersistentFlags().StringVar(&deviceLabelFlag, "device-label", hostnameOrDefault(), "label for this device, used only on first run")

	rootCmd.AddCommand(
		pairCmd(),
		syncCmd(),
		statusCmd(),
		gcCmd(),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "bdp-device"
	}
	return h
}
