// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func gcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Reclaim chunks with no remaining FileEntry references",
		Long: `Gc walks the shared content-addressable store and deletes any chunk
whose reference count has sat at zero past the grace period, across every
pair this device participates in (the CAS store is not partitioned by
pair).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(dataDirFlag, deviceLabelFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.cas.Gc()
			if err != nil {
				return err
			}
			fmt.Printf("reclaimed %d chunk(s)\n", n)
			return nil
		},
	}
}
