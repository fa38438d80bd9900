// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// statusOut wraps stdout through go-colorable (needed for ANSI on Windows
// consoles) when it's attached to a terminal, so "never synced" can stand
// out in red without garbling output piped to a file or another process.
func statusOut() (w io.Writer, color bool) {
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return colorable.NewColorableStdout(), true
	}
	return os.Stdout, false
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List configured pairs and when each last synced",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(dataDirFlag, deviceLabelFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			out, color := statusOut()
			fmt.Fprintf(out, "device: %s (%s)\n", a.cfg.DeviceLabel, a.device.Record().DeviceID.String())
			if len(a.cfg.Pairs) == 0 {
				fmt.Fprintln(out, "no pairs configured; see `bdp-agent pair --help`")
				return nil
			}
			for _, pc := range a.cfg.Pairs {
				lastSynced := "never"
				if !pc.LastSyncedAt.IsZero() {
					lastSynced = pc.LastSyncedAt.Format("2006-01-02T15:04:05Z07:00")
				} else if color {
					lastSynced = "\x1b[31mnever\x1b[0m"
				}
				fmt.Fprintf(out, "- %s  pair=%s  folder=%s  peers=%d  lastSynced=%s\n",
					pc.Label, pc.PairID, pc.Folder, len(pc.Peers), lastSynced)
			}
			return nil
		},
	}
}
