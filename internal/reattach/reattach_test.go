// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package reattach

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gameward/gameward/internal/domain"
)

func TestWriteLoadRoundtrip(t *testing.T) {
	path := Path(t.TempDir())
	record := domain.ReattachRecord{
		InstanceID:              "instance-1",
		ProcessID:               4242,
		AccessIdentifierSealed:  "sealed-blob",
		BoundPort:               1337,
		IsPrimary:               true,
		Reboot:                  domain.RebootNormal,
		Security:                domain.SecuritySafe,
	}

	if err := Write(path, record); err != nil {
		t.Fatalf("Write: %v", err)
	}

	loaded, ok, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("Load reported no record present")
	}
	if loaded.ProcessID != record.ProcessID || loaded.BoundPort != record.BoundPort {
		t.Errorf("loaded = %+v, want matching ProcessID/BoundPort from %+v", loaded, record)
	}
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.cbor")
	_, ok, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("Load should report no record for a missing file")
	}
}

func TestLoad_StaleRecordDiscarded(t *testing.T) {
	path := Path(t.TempDir())
	record := domain.ReattachRecord{InstanceID: "instance-1", ProcessID: 1}
	if err := Write(path, record); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Simulate staleness by writing a record already 48 hours old
	// through the same atomic path, then re-reading it.
	if err := writeWithTimestamp(path, record, time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("writeWithTimestamp: %v", err)
	}

	_, ok, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("Load should discard a record older than maxAge")
	}
}

func TestClear_Idempotent(t *testing.T) {
	path := Path(t.TempDir())
	if err := Clear(path); err != nil {
		t.Errorf("Clear on missing file should be a no-op: %v", err)
	}

	if err := Write(path, domain.ReattachRecord{InstanceID: "instance-1"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := Load(path); ok {
		t.Error("record should be gone after Clear")
	}
}
