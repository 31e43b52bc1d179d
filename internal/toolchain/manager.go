// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/gameward/gameward/internal/apperror"
	"github.com/gameward/gameward/internal/contenthash"
)

// PinList is the operator-editable YAML file naming versions that
// CleanCache must never evict, regardless of reference count.
type PinList struct {
	Pinned []string `yaml:"pinned"`
}

// LoadPinList reads and parses the pin list at path. A missing file is
// treated as an empty pin list, not an error — most installs never
// pin anything.
func LoadPinList(path string) (PinList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return PinList{}, nil
		}
		return PinList{}, fmt.Errorf("reading pin list %s: %w", path, err)
	}
	var list PinList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return PinList{}, fmt.Errorf("parsing pin list %s: %w", path, err)
	}
	return list, nil
}

func (l PinList) contains(version string) bool {
	for _, v := range l.Pinned {
		if v == version {
			return true
		}
	}
	return false
}

// Installer fetches and extracts one compiler version into dir. The
// extractor/downloader itself is an external collaborator — spec.md
// §1 scopes it out; Manager only sequences install against the lock
// and records the content digest of whatever the installer produced.
type Installer func(ctx context.Context, version, dir string) error

// versionState tracks the lock state for one cached version.
type versionState struct {
	installed    bool
	contentDigest string
	sharedCount  int
	exclusive    bool
}

// Manager owns the on-disk cache directory and in-memory lock table
// for every known compiler version.
type Manager struct {
	cacheDir  string
	pinPath   string
	installer Installer

	mu       sync.Mutex
	versions map[string]*versionState
}

// New returns a Manager rooted at cacheDir, with pin list pinPath and
// the given Installer used by Install.
func New(cacheDir, pinPath string, installer Installer) *Manager {
	return &Manager{
		cacheDir:  cacheDir,
		pinPath:   pinPath,
		installer: installer,
		versions:  make(map[string]*versionState),
	}
}

func (m *Manager) versionDir(version string) string {
	return filepath.Join(m.cacheDir, version)
}

// CacheDir returns the root directory holding every installed
// version's subdirectory, so a caller that needs to resolve a binary
// inside an installed version (the compile job's compiler invocation)
// can do so without Manager exposing its per-version layout as its
// own method.
func (m *Manager) CacheDir() string {
	return m.cacheDir
}

// Installed reports whether version has a successful Install on
// record. Used by callers that want to skip a redundant reinstall
// rather than relying on Install's own idempotence.
func (m *Manager) Installed(version string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.versions[version]
	return ok && state.installed
}

// Install downloads and extracts version, taking the exclusive lock
// for the duration. Fails if the version is currently in use by a
// shared lock holder (a running session) or already being installed.
func (m *Manager) Install(ctx context.Context, version string) error {
	m.mu.Lock()
	state, ok := m.versions[version]
	if !ok {
		state = &versionState{}
		m.versions[version] = state
	}
	if state.exclusive || state.sharedCount > 0 {
		m.mu.Unlock()
		return apperror.Conflict(apperror.CodeNone,
			fmt.Sprintf("toolchain version %s is in use", version))
	}
	state.exclusive = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		state.exclusive = false
		m.mu.Unlock()
	}()

	dir := m.versionDir(version)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating toolchain directory %s: %w", dir, err)
	}
	if err := m.installer(ctx, version, dir); err != nil {
		return fmt.Errorf("installing toolchain %s: %w", version, err)
	}

	m.mu.Lock()
	state.installed = true
	m.mu.Unlock()

	return nil
}

// Acquire takes a shared lock on version for the duration a
// SessionController runs with it. Fails if the version is mid-install
// (exclusively locked) or not installed.
func (m *Manager) Acquire(version string) (release func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.versions[version]
	if !ok || !state.installed {
		return nil, apperror.Validation(apperror.CodeNone,
			fmt.Sprintf("toolchain version %s is not installed", version))
	}
	if state.exclusive {
		return nil, apperror.Conflict(apperror.CodeNone,
			fmt.Sprintf("toolchain version %s is being installed", version))
	}

	state.sharedCount++
	released := false
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if released {
			return
		}
		released = true
		state.sharedCount--
	}, nil
}

// CleanCache evicts every installed version that is neither pinned
// nor currently held by a shared lock. Runs at daemon start per
// spec.md §4.7.
func (m *Manager) CleanCache(ctx context.Context) ([]string, error) {
	pins, err := LoadPinList(m.pinPath)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	var evict []string
	for version, state := range m.versions {
		if !state.installed || state.exclusive || state.sharedCount > 0 {
			continue
		}
		if pins.contains(version) {
			continue
		}
		evict = append(evict, version)
	}
	m.mu.Unlock()

	var evicted []string
	for _, version := range evict {
		if err := os.RemoveAll(m.versionDir(version)); err != nil {
			return evicted, fmt.Errorf("evicting toolchain %s: %w", version, err)
		}
		m.mu.Lock()
		delete(m.versions, version)
		m.mu.Unlock()
		evicted = append(evicted, version)
	}
	return evicted, nil
}

// ContentDigest hashes the installed archive for version at path,
// recording it for dedup/integrity checks against future installs.
func (m *Manager) ContentDigest(version, archivePath string) (string, error) {
	digest, err := contenthash.HashFile(archivePath)
	if err != nil {
		return "", err
	}
	formatted := contenthash.Format(digest)

	m.mu.Lock()
	if state, ok := m.versions[version]; ok {
		state.contentDigest = formatted
	}
	m.mu.Unlock()

	return formatted, nil
}
