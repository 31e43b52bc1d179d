// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package reattach

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/lib/codec"
)

// maxAge bounds how old a persisted record may be before Load treats
// it as stale and discards it, mirroring lib/watchdog.Check's staleness
// guard. A controller restart that recovers a reattach record hours
// later almost certainly means the process it names is long gone.
const maxAge = 24 * time.Hour

// Path returns the reattach record path for an instance within dir
// (typically the instance's state subdirectory).
func Path(dir string) string {
	return filepath.Join(dir, "reattach.cbor")
}

// Write atomically persists record: write to a temp file in the same
// directory, fsync, close, rename into place, then fsync the parent
// directory so the rename itself survives a crash.
func Write(path string, record domain.ReattachRecord) error {
	return writeWithTimestamp(path, record, time.Now())
}

func writeWithTimestamp(path string, record domain.ReattachRecord, persistedAt time.Time) error {
	record.PersistedAt = persistedAt

	data, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling reattach record: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary reattach file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary reattach file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary reattach file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary reattach file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming reattach file into place: %w", err)
	}

	if parent, err := os.Open(filepath.Dir(path)); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}

// Load reads and validates a reattach record. A missing file is not
// an error — it returns (zero record, false, nil), meaning "nothing to
// reattach to." A record older than maxAge is treated the same way.
func Load(path string) (domain.ReattachRecord, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ReattachRecord{}, false, nil
		}
		return domain.ReattachRecord{}, false, fmt.Errorf("reading reattach file %s: %w", path, err)
	}

	var record domain.ReattachRecord
	if err := codec.Unmarshal(data, &record); err != nil {
		return domain.ReattachRecord{}, false, fmt.Errorf("parsing reattach file %s: %w", path, err)
	}

	if time.Since(record.PersistedAt) > maxAge {
		return domain.ReattachRecord{}, false, nil
	}
	return record, true, nil
}

// Clear removes a persisted reattach record. Idempotent.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing reattach file: %w", err)
	}
	return nil
}
