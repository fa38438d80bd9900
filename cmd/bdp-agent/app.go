// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/butterflysync/bdp/bdpconfig"
	"github.com/butterflysync/bdp/blobstore"
	"github.com/butterflysync/bdp/cas"
	"github.com/butterflysync/bdp/device"
	"github.com/butterflysync/bdp/store"
)

// defaultDataDir is where a bare invocation keeps its config, KV, and blob
// store, mirroring how most single-binary sync agents default to a dotfile
// under the user's home directory absent an explicit --data-dir.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bdp"
	}
	return filepath.Join(home, ".bdp")
}

// newLogger builds a zap logger that writes JSON lines to a size-rotated
// file under dataDir/logs, alongside console output at warn level and
// above; a long-running sync agent otherwise fills a single log file
// without bound.
func newLogger(dataDir string) *zap.Logger {
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dataDir, "logs", "agent.log"),
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(rotator),
		zapcore.DebugLevel,
	)
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(os.Stderr),
		zapcore.WarnLevel,
	)
	return zap.New(zapcore.NewTee(fileCore, consoleCore))
}

// app bundles the collaborators every subcommand needs after opening this
// device's on-disk state: KV, blob, device identity, and the shared CAS.
// Subcommands close it with app.Close() once done.
type app struct {
	dataDir string
	cfg     bdpconfig.Config
	kv      *store.PebbleKV
	blob    *blobstore.FSBlob
	device  *device.Service
	cas     *cas.Store
	logger  *zap.Logger
}

func (a *app) Close() error {
	if a.kv != nil {
		return a.kv.Close()
	}
	return nil
}

func (a *app) configPath() string {
	return filepath.Join(a.dataDir, "config.yaml")
}

// openApp opens (creating on first run) the on-disk state rooted at
// dataDir, loading its config if present or seeding a default one for
// deviceLabel otherwise.
func openApp(dataDir, deviceLabel string) (*app, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "bdp-agent: creating data dir %q", dataDir)
	}
	logger := newLogger(dataDir)

	cfgPath := filepath.Join(dataDir, "config.yaml")
	cfg, err := bdpconfig.Load(cfgPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg = bdpconfig.Default(deviceLabel)
		if err := bdpconfig.Save(cfgPath, cfg); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	kv, err := store.OpenPebbleKV(filepath.Join(dataDir, "kv"))
	if err != nil {
		return nil, err
	}
	blob, err := blobstore.NewFSBlob(filepath.Join(dataDir, "blobs"))
	if err != nil {
		return nil, err
	}
	dev, err := device.GetOrCreateDevice(kv, cfg.DeviceLabel)
	if err != nil {
		return nil, err
	}

	return &app{
		dataDir: dataDir,
		cfg:     cfg,
		kv:      kv,
		blob:    blob,
		device:  dev,
		cas:     cas.New(kv, blob),
		logger:  logger,
	}, nil
}

// saveConfig persists a.cfg back to this device's config file.
func (a *app) saveConfig() error {
	return bdpconfig.Save(a.configPath(), a.cfg)
}

// findPair returns the configured pair with the given label.
func (a *app) findPair(label string) (int, bool) {
	for i := range a.cfg.Pairs {
		if a.cfg.Pairs[i].Label == label {
			return i, true
		}
	}
	return 0, false
}
