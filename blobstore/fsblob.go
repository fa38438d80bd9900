// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package blobstore

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// FSBlob is a filesystem-backed Blob. Blobs are stored under
// root/<key[:2]>/<key[2:4]>/<key>, a two-level fan-out that keeps any single
// directory from accumulating one entry per chunk in the whole folder tree.
type FSBlob struct {
	root string
}

// NewFSBlob opens (creating if absent) a filesystem blob store rooted at dir.
func NewFSBlob(dir string) (*FSBlob, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "blobstore: creating root %q", dir)
	}
	return &FSBlob{root: dir}, nil
}

func (f *FSBlob) path(key string) (string, error) {
	if len(key) < 4 {
		return "", errors.Newf("blobstore: key %q too short for fan-out", key)
	}
	return filepath.Join(f.root, key[:2], key[2:4], key), nil
}

func (f *FSBlob) Put(key string, data []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrapf(err, "blobstore: creating fan-out dir for %q", key)
	}

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "blobstore: writing temp file for %q", key)
	}
	if err := os.Rename(tmp, p); err != nil {
		return errors.Wrapf(err, "blobstore: renaming temp file for %q", key)
	}
	return nil
}

func (f *FSBlob) Get(key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "blobstore: reading %q", key)
	}
	return data, nil
}

func (f *FSBlob) Delete(key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "blobstore: deleting %q", key)
	}
	return nil
}

func (f *FSBlob) Has(key string) (bool, error) {
	p, err := f.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "blobstore: stat %q", key)
	}
	return true, nil
}

func (f *FSBlob) List(fn func(key string) (bool, error)) error {
	return filepath.WalkDir(f.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		key := filepath.Base(path)
		more, err := fn(key)
		if err != nil {
			return err
		}
		if !more {
			return filepath.SkipAll
		}
		return nil
	})
}
