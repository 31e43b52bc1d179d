// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gameward/gameward/internal/deployment"
	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/internal/reattach"
	"github.com/gameward/gameward/internal/toolchain"
	"github.com/gameward/gameward/lib/clock"
	"github.com/gameward/gameward/lib/sealed"
)

func newTestManager(t *testing.T) (*Manager, *sealed.Keypair) {
	t.Helper()
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })

	cfg := Config{
		BridgeURL:              "http://127.0.0.1:5000/Bridge",
		BridgeAPIVersion:       "5",
		StartupTimeout:         time.Second,
		HeartbeatMissedRetries: 3,
	}
	m := New(deployment.New(t.TempDir()), nil, keypair.PublicKey, keypair.PrivateKey, cfg, clock.Fake(time.Now()), nil)
	return m, keypair
}

func testInstance(t *testing.T) *domain.Instance {
	t.Helper()
	return &domain.Instance{
		ID:    "inst-1",
		Name:  "box",
		Path:  t.TempDir(),
		State: domain.InstanceOffline,
	}
}

func TestGoOnline_FailsWithNoDeployment(t *testing.T) {
	m, _ := newTestManager(t)
	inst := testInstance(t)

	if err := m.GoOnline(context.Background(), inst); err == nil {
		t.Fatal("expected an error with no deployment to launch from")
	}
}

func TestGoOffline_NoRuntimeIsNoop(t *testing.T) {
	m, _ := newTestManager(t)
	inst := testInstance(t)

	if err := m.GoOffline(context.Background(), inst); err != nil {
		t.Fatalf("GoOffline on an instance never started: %v", err)
	}
}

func TestClearReattachRecords_RemovesFile(t *testing.T) {
	m, _ := newTestManager(t)
	inst := testInstance(t)

	if err := os.MkdirAll(stateDir(inst), 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	path := reattachPath(inst)
	if err := os.WriteFile(path, []byte("not a real record"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := m.ClearReattachRecords(inst); err != nil {
		t.Fatalf("ClearReattachRecords: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected reattach file to be removed, stat err = %v", err)
	}
}

func TestResume_NonOnlineInstanceIsNoop(t *testing.T) {
	m, _ := newTestManager(t)
	inst := testInstance(t)
	inst.State = domain.InstanceOffline

	if err := m.Resume(context.Background(), inst); err != nil {
		t.Fatalf("Resume: %v", err)
	}
}

func TestResume_DeadProcessClearsRecord(t *testing.T) {
	m, keypair := newTestManager(t)
	inst := testInstance(t)
	inst.State = domain.InstanceOnline

	if err := os.MkdirAll(stateDir(inst), 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	sealedIdentifier, err := sealed.Encrypt([]byte("deadbeef"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	record := domain.ReattachRecord{
		InstanceID:             inst.ID,
		ProcessID:              999999999, // never a live PID
		AccessIdentifierSealed: sealedIdentifier,
		BoundPort:              1337,
	}
	path := reattachPath(inst)
	if err := reattach.Write(path, record); err != nil {
		t.Fatalf("reattach.Write: %v", err)
	}

	if err := m.Resume(context.Background(), inst); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Errorf("expected the dead-process reattach record to be cleared, stat err = %v", statErr)
	}
}

func TestChatFactory_UnknownProviderErrors(t *testing.T) {
	m, _ := newTestManager(t)
	factory := m.chatFactory()

	if _, err := factory(domain.ChatSettings{ID: "c1", Provider: "carrier-pigeon", Enabled: true}); err == nil {
		t.Fatal("expected an error for an unknown chat provider")
	}
}

// writeSleepScript writes an executable shell script that sleeps,
// standing in for a game-server binary that stays up long enough to
// observe GoOnline succeeding.
func writeSleepScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-server.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nsleep 30\n"), 0o755); err != nil {
		t.Fatalf("writing fake server script: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving a free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// toolchainInstance returns a test instance pinned to version, with a
// real sleep-script deployment committed and ready to launch.
func toolchainInstance(t *testing.T, deployments *deployment.Store, version string) *domain.Instance {
	t.Helper()
	inst := testInstance(t)
	inst.Toolchain.Version = version
	inst.Launch = domain.LaunchParameters{PrimaryPort: freePort(t), SecondaryPort: freePort(t)}

	script := writeSleepScript(t)
	dep := &domain.Deployment{
		ID:                    "dep-1",
		InstanceID:            inst.ID,
		MinimumSecurityLevel:  domain.SecuritySafe,
		ArtifactName:          filepath.Base(script),
		PrimaryDir:            filepath.Dir(script),
		CreatedAt:             time.Now(),
	}
	deployments.Commit(dep)
	return inst
}

func TestGoOnline_RefusesPinnedUninstalledToolchain(t *testing.T) {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })

	deployments := deployment.New(t.TempDir())
	toolchains := toolchain.New(t.TempDir(), filepath.Join(t.TempDir(), "pins.yaml"), nil)

	m := New(deployments, toolchains, keypair.PublicKey, keypair.PrivateKey, Config{
		BridgeURL: "http://127.0.0.1:5000/Bridge", BridgeAPIVersion: "5",
		StartupTimeout: time.Second, HeartbeatMissedRetries: 3,
	}, clock.Real(), nil)

	inst := toolchainInstance(t, deployments, "516.1659")
	if err := m.GoOnline(context.Background(), inst); err == nil {
		t.Fatal("expected GoOnline to fail for an uninstalled pinned toolchain version")
	}
}

func TestGoOnline_AcquiresInstalledToolchainAndGoOfflineReleasesIt(t *testing.T) {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })

	deployments := deployment.New(t.TempDir())
	toolchains := toolchain.New(t.TempDir(), filepath.Join(t.TempDir(), "pins.yaml"),
		func(ctx context.Context, version, dir string) error { return nil })

	const version = "516.1659"
	if err := toolchains.Install(context.Background(), version); err != nil {
		t.Fatalf("Install: %v", err)
	}

	m := New(deployments, toolchains, keypair.PublicKey, keypair.PrivateKey, Config{
		BridgeURL: "http://127.0.0.1:5000/Bridge", BridgeAPIVersion: "5",
		StartupTimeout: time.Second, HeartbeatMissedRetries: 3,
	}, clock.Real(), nil)

	inst := toolchainInstance(t, deployments, version)
	if err := m.GoOnline(context.Background(), inst); err != nil {
		t.Fatalf("GoOnline: %v", err)
	}

	// Held under a shared lock by the running session: Install needs
	// the exclusive lock, so a second Install for the same version
	// must be refused while it is acquired.
	if err := toolchains.Install(context.Background(), version); err == nil {
		t.Fatal("expected Install to conflict while the version is held by a running session")
	}

	// The sleep-script stand-in never reacts to the reboot-shutdown
	// signal Terminate sends for a graceful stop, so give it a short
	// deadline rather than waiting out its full sleep before the
	// force-kill fallback kicks in.
	offlineCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := m.GoOffline(offlineCtx, inst); err != nil {
		t.Fatalf("GoOffline: %v", err)
	}

	// Released once the session ends: Install may proceed again.
	if err := toolchains.Install(context.Background(), version); err != nil {
		t.Fatalf("Install after GoOffline: %v", err)
	}
}

func TestStateDir_IsInsideInstancePath(t *testing.T) {
	inst := &domain.Instance{Path: "/srv/gameward/box"}
	if got, want := stateDir(inst), filepath.Join("/srv/gameward/box", ".gameward"); got != want {
		t.Errorf("stateDir = %q, want %q", got, want)
	}
}
