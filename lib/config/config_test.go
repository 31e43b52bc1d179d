// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gameward.json")
	writeFile(t, path, `{
		// comments are tolerated
		"Database": {"Path": "`+filepath.Join(dir, "gw.db")+`"},
		"General": {"InstallDirectory": "`+filepath.Join(dir, "opt")+`"},
		"ControlPanel": {"Address": ":9000"}
	}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.ControlPanel.Address != ":9000" {
		t.Errorf("Address = %q, want :9000", cfg.ControlPanel.Address)
	}
	if cfg.General.MinimumPasswordLength != 15 {
		t.Errorf("MinimumPasswordLength = %d, want default 15", cfg.General.MinimumPasswordLength)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(*Config) {}, false},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, true},
		{"bad logging format", func(c *Config) { c.FileLogging.Format = "xml" }, true},
		{"bad logging level", func(c *Config) { c.FileLogging.Level = "verbose" }, true},
		{"zero min password length", func(c *Config) { c.General.MinimumPasswordLength = 0 }, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			err := cfg.Validate()
			if test.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !test.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
