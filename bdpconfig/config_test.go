// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package bdpconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/butterflysync/bdp"
)

func validPairConfig() PairConfig {
	var pairID bdp.PairID
	var deviceID bdp.DeviceID
	return PairConfig{
		Label:  "photos",
		PairID: pairID.String(),
		Folder: "/home/user/photos",
		Peers:  []PeerConfig{{DeviceID: deviceID.String(), Name: "laptop"}},
	}
}

func TestValidRejectsEmptyDeviceLabel(t *testing.T) {
	cfg := Default("")
	require.ErrorIs(t, cfg.Valid(), ErrMissingDeviceLabel)
}

func TestValidAcceptsMinimalConfig(t *testing.T) {
	cfg := Default("my-laptop")
	require.NoError(t, cfg.Valid())
}

func TestValidRejectsRelativeFolder(t *testing.T) {
	pc := validPairConfig()
	pc.Folder = "relative/path"
	require.ErrorIs(t, pc.Valid(), ErrRelativeFolder)
}

func TestValidRejectsNoPeers(t *testing.T) {
	pc := validPairConfig()
	pc.Peers = nil
	require.ErrorIs(t, pc.Valid(), ErrTooFewPeers)
}

func TestValidRejectsNegativeMaxFileSize(t *testing.T) {
	pc := validPairConfig()
	pc.MaxFileSize = -1
	require.ErrorIs(t, pc.Valid(), ErrInvalidMaxFileSize)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := Default("my-laptop")
	cfg.Pairs = []PairConfig{validPairConfig()}

	path := filepath.Join(t.TempDir(), "bdp.yaml")
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.DeviceLabel, loaded.DeviceLabel)
	require.Len(t, loaded.Pairs, 1)
	require.Equal(t, cfg.Pairs[0].Folder, loaded.Pairs[0].Folder)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cfg := Default("my-laptop")
	cfg.Pairs = []PairConfig{{Folder: "relative", Peers: []PeerConfig{{DeviceID: (bdp.DeviceID{}).String()}}}}

	path := filepath.Join(t.TempDir(), "bdp.yaml")
	raw, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, err = Load(path)
	require.ErrorIs(t, err, ErrRelativeFolder)
}

func TestToPairDecodesIdentifiers(t *testing.T) {
	pc := validPairConfig()
	pair, err := pc.ToPair()
	require.NoError(t, err)
	require.Equal(t, pc.Label, pair.Label)
	require.Len(t, pair.Peers, 1)
}
