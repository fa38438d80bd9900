// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
)

// resolveInFolder joins folder and entry.Path, rejecting any path that would
// escape folder (a malicious or malformed peer-supplied path).
func resolveInFolder(folder, path string) (string, error) {
	clean := filepath.Clean("/" + path)[1:] // strip any leading ../ climb-out
	full := filepath.Join(folder, clean)
	if full != folder && !strings.HasPrefix(full, folder+string(filepath.Separator)) {
		return "", errors.Newf("session: path %q escapes folder %q", path, folder)
	}
	return full, nil
}

// writeEntryToFolder persists content at entry.Path under folder, creating
// parent directories as needed and applying entry.Mode.
func writeEntryToFolder(folder string, entry bdp.FileEntry, content []byte) error {
	full, err := resolveInFolder(folder, entry.Path)
	if err != nil {
		return err
	}
	mode := os.FileMode(entry.Mode)
	if mode == 0 {
		mode = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errors.Wrap(err, "session: creating folder directories")
	}
	if err := os.WriteFile(full, content, mode); err != nil {
		return errors.Wrap(err, "session: writing synced file")
	}
	return nil
}

// removeEntryFromFolder deletes entry.Path under folder, if present; a
// tombstone for a path never locally materialized is not an error.
func removeEntryFromFolder(folder string, entry bdp.FileEntry) error {
	full, err := resolveInFolder(folder, entry.Path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "session: removing deleted file")
	}
	return nil
}
