// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bdpconfig is the on-disk configuration for one bdp-agent process:
// this device's label and every pair it participates in, persisted as YAML
// and validated the way consensus parameters are validated elsewhere in this
// codebase — a Valid() method returning a sentinel error per violated rule.
package bdpconfig

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/butterflysync/bdp"
)

var (
	ErrMissingDeviceLabel = errors.New("bdpconfig: device label must not be empty")
	ErrMissingFolder      = errors.New("bdpconfig: pair folder must not be empty")
	ErrTooFewPeers        = errors.New("bdpconfig: pair must have at least one peer")
	ErrRelativeFolder     = errors.New("bdpconfig: pair folder must be an absolute path")
	ErrInvalidMaxFileSize = errors.New("bdpconfig: maxFileSize must be non-negative")
)

// PairConfig is one pair entry's on-disk form.
type PairConfig struct {
	Label        string            `yaml:"label"`
	PairID       string            `yaml:"pairId"`
	Folder       string            `yaml:"folder"`
	Direction    string            `yaml:"direction,omitempty"` // "bidirectional" (default), "uploadOnly", "downloadOnly"
	Conflict     string            `yaml:"conflict,omitempty"`  // "lastWriteWins" (default), "manual", "localWins", "remoteWins"
	IncludeGlobs []string          `yaml:"includeGlobs,omitempty"`
	ExcludeGlobs []string          `yaml:"excludeGlobs,omitempty"`
	MaxFileSize  int64             `yaml:"maxFileSize,omitempty"`
	Peers        []PeerConfig      `yaml:"peers"`
	RelayURL     string            `yaml:"relayUrl,omitempty"`
	LastSyncedAt time.Time         `yaml:"lastSyncedAt,omitempty"`
}

// PeerConfig identifies one other device sharing a pair.
type PeerConfig struct {
	DeviceID  string `yaml:"deviceId"`
	Name      string `yaml:"name,omitempty"`
	PublicKey string `yaml:"publicKey,omitempty"` // base64
}

// Config is the whole on-disk agent configuration.
type Config struct {
	DeviceLabel string       `yaml:"deviceLabel"`
	DataDir     string       `yaml:"dataDir,omitempty"`
	Pairs       []PairConfig `yaml:"pairs"`
}

// Default returns a minimal, valid starting configuration for label.
func Default(label string) Config {
	return Config{DeviceLabel: label}
}

// Valid checks every invariant Load/Save depend on, returning the first
// violated sentinel.
func (c Config) Valid() error {
	if c.DeviceLabel == "" {
		return ErrMissingDeviceLabel
	}
	for i := range c.Pairs {
		if err := c.Pairs[i].Valid(); err != nil {
			return errors.Wrapf(err, "bdpconfig: pair %d", i)
		}
	}
	return nil
}

// Valid checks one pair entry.
func (p PairConfig) Valid() error {
	if p.Folder == "" {
		return ErrMissingFolder
	}
	if !filepath.IsAbs(p.Folder) {
		return ErrRelativeFolder
	}
	if len(p.Peers) < 1 {
		return ErrTooFewPeers
	}
	if p.MaxFileSize < 0 {
		return ErrInvalidMaxFileSize
	}
	return nil
}

// Load reads and validates the YAML config at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "bdpconfig: reading config file")
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "bdpconfig: decoding config file")
	}
	if err := cfg.Valid(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save validates cfg and writes it to path as YAML, creating parent
// directories as needed.
func Save(path string, cfg Config) error {
	if err := cfg.Valid(); err != nil {
		return err
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "bdpconfig: encoding config file")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "bdpconfig: creating config directory")
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return errors.Wrap(err, "bdpconfig: writing config file")
	}
	return nil
}

// ToPair converts one PairConfig plus this device's own identity into the
// bdp.Pair the session engine runs over.
func (p PairConfig) ToPair() (bdp.Pair, error) {
	pairID, err := bdp.PairIDFromString(p.PairID)
	if err != nil {
		return bdp.Pair{}, errors.Wrap(err, "bdpconfig: decoding pairId")
	}

	peers := make([]bdp.PeerDevice, 0, len(p.Peers))
	for _, pc := range p.Peers {
		var id bdp.DeviceID
		if err := id.UnmarshalText([]byte(pc.DeviceID)); err != nil {
			return bdp.Pair{}, errors.Wrapf(err, "bdpconfig: decoding peer device id %q", pc.DeviceID)
		}
		peers = append(peers, bdp.PeerDevice{DeviceID: id, Name: pc.Name})
	}

	return bdp.Pair{
		PairID:       pairID,
		Label:        p.Label,
		Peers:        peers,
		Folder:       p.Folder,
		Direction:    parseDirection(p.Direction),
		Conflict:     parseConflict(p.Conflict),
		IncludeGlobs: p.IncludeGlobs,
		ExcludeGlobs: p.ExcludeGlobs,
		MaxFileSize:  p.MaxFileSize,
		LastSyncedAt: p.LastSyncedAt,
	}, nil
}

func parseDirection(s string) bdp.SyncDirection {
	switch s {
	case "uploadOnly":
		return bdp.UploadOnly
	case "downloadOnly":
		return bdp.DownloadOnly
	default:
		return bdp.Bidirectional
	}
}

func parseConflict(s string) bdp.ConflictStrategy {
	switch s {
	case "manual":
		return bdp.Manual
	case "localWins":
		return bdp.LocalWins
	case "remoteWins":
		return bdp.RemoteWins
	default:
		return bdp.LastWriteWins
	}
}
