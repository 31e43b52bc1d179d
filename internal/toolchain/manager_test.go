// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func fakeInstaller(t *testing.T, installed map[string]bool) Installer {
	return func(ctx context.Context, version, dir string) error {
		installed[version] = true
		return os.WriteFile(filepath.Join(dir, "marker"), []byte(version), 0644)
	}
}

func TestInstallAndAcquire(t *testing.T) {
	cacheDir := t.TempDir()
	installed := map[string]bool{}
	m := New(cacheDir, filepath.Join(cacheDir, "pins.yaml"), fakeInstaller(t, installed))

	if err := m.Install(context.Background(), "515.1635"); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !installed["515.1635"] {
		t.Error("installer was not invoked")
	}

	release, err := m.Acquire("515.1635")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	if _, err := m.Acquire("does-not-exist"); err == nil {
		t.Error("Acquire on an uninstalled version should fail")
	}
}

func TestInstall_BlockedWhileInUse(t *testing.T) {
	cacheDir := t.TempDir()
	installed := map[string]bool{}
	m := New(cacheDir, filepath.Join(cacheDir, "pins.yaml"), fakeInstaller(t, installed))

	if err := m.Install(context.Background(), "515.1635"); err != nil {
		t.Fatalf("Install: %v", err)
	}
	release, err := m.Acquire("515.1635")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	if err := m.Install(context.Background(), "515.1635"); err == nil {
		t.Error("re-installing an in-use version should fail")
	}
}

func TestCleanCache_EvictsUnpinnedUnused(t *testing.T) {
	cacheDir := t.TempDir()
	installed := map[string]bool{}
	pinPath := filepath.Join(cacheDir, "pins.yaml")
	if err := os.WriteFile(pinPath, []byte("pinned:\n  - \"515.1635\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	m := New(cacheDir, pinPath, fakeInstaller(t, installed))

	for _, v := range []string{"515.1635", "514.1589"} {
		if err := m.Install(context.Background(), v); err != nil {
			t.Fatalf("Install(%s): %v", v, err)
		}
	}

	release, err := m.Acquire("514.1589")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	evicted, err := m.CleanCache(context.Background())
	if err != nil {
		t.Fatalf("CleanCache: %v", err)
	}
	if len(evicted) != 0 {
		t.Errorf("CleanCache evicted %v while 514.1589 held a shared lock and 515.1635 is pinned", evicted)
	}

	release()
	evicted, err = m.CleanCache(context.Background())
	if err != nil {
		t.Fatalf("CleanCache: %v", err)
	}
	if len(evicted) != 1 || evicted[0] != "514.1589" {
		t.Errorf("CleanCache = %v, want exactly [514.1589]", evicted)
	}
	if _, err := os.Stat(filepath.Join(cacheDir, "514.1589")); !os.IsNotExist(err) {
		t.Error("evicted version directory should be removed")
	}
	if _, err := os.Stat(filepath.Join(cacheDir, "515.1635")); err != nil {
		t.Error("pinned version directory should survive")
	}
}
