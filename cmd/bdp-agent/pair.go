// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/bdpconfig"
)

func pairCmd() *cobra.Command {
	var folder, peerDeviceID, peerName, relayURL string

	cmd := &cobra.Command{
		Use:   "pair <label>",
		Short: "Register a new folder pair with a peer device",
		Long: `Pair creates a fresh PairID bound to a local folder and one peer
device, and writes it into this device's configuration. Run sync against
the same label once the peer has registered the matching pair on its side.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			label := args[0]
			a, err := openApp(dataDirFlag, deviceLabelFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, exists := a.findPair(label); exists {
				return errors.Newf("bdp-agent: pair %q already exists", label)
			}
			if folder == "" {
				return errors.New("bdp-agent: --folder is required")
			}

			pairID, err := bdp.NewPairID()
			if err != nil {
				return err
			}

			peer := bdpconfig.PeerConfig{Name: peerName}
			if peerDeviceID != "" {
				var id bdp.DeviceID
				if err := id.UnmarshalText([]byte(peerDeviceID)); err != nil {
					return errors.Wrap(err, "bdp-agent: decoding --peer-device-id")
				}
				peer.DeviceID = id.String()
			}

			pc := bdpconfig.PairConfig{
				Label:    label,
				PairID:   pairID.String(),
				Folder:   folder,
				Peers:    []bdpconfig.PeerConfig{peer},
				RelayURL: relayURL,
			}
			if err := pc.Valid(); err != nil {
				return err
			}

			a.cfg.Pairs = append(a.cfg.Pairs, pc)
			if err := a.saveConfig(); err != nil {
				return err
			}

			fmt.Printf("paired %q as %s (folder %s)\n", label, pairID.String(), folder)
			fmt.Printf("this device's id: %s (share code: %s)\n",
				a.device.Record().DeviceID.String(), a.device.Record().DeviceID.ShortCode())
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "absolute path to the folder this pair syncs")
	cmd.Flags().StringVar(&peerDeviceID, "peer-device-id", "", "the peer's device id, once known")
	cmd.Flags().StringVar(&peerName, "peer-name", "", "a human label for the peer")
	cmd.Flags().StringVar(&relayURL, "relay-url", "", "relay server base URL for offline delta delivery")
	return cmd
}
