// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gameward/gameward/internal/chat"
	"github.com/gameward/gameward/internal/chat/gateway"
	"github.com/gameward/gameward/internal/chat/webhook"
	"github.com/gameward/gameward/internal/deployment"
	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/internal/reattach"
	"github.com/gameward/gameward/internal/session"
	"github.com/gameward/gameward/internal/toolchain"
	"github.com/gameward/gameward/internal/watchdog"
	"github.com/gameward/gameward/lib/clock"
	"github.com/gameward/gameward/lib/sealed"
	"github.com/gameward/gameward/lib/secret"
)

// Config bundles the fleet-wide settings every instance's runtime
// shares.
type Config struct {
	BridgeURL              string
	BridgeAPIVersion       string
	StartupTimeout         time.Duration
	HeartbeatMissedRetries int
}

// Manager wires together, per instance, the watchdog that supervises
// its game-server process and the chat bridge that reports on it. It
// implements instance.Lifecycle and instance.ReattachCleaner.
type Manager struct {
	deployments *deployment.Store
	toolchains  *toolchain.Manager
	publicKey   string
	privateKey  *secret.Buffer
	cfg         Config
	clock       clock.Clock
	logger      *slog.Logger

	mu       sync.Mutex
	runtimes map[string]*runtime
}

type runtime struct {
	watchdog *watchdog.Watchdog
	bridge   *chat.Bridge
}

// New returns a Manager. publicKey/privateKey are the controller's own
// age keypair, used to seal and unseal the per-instance reattach
// record's access identifier and to decrypt chat provider credentials.
// toolchains may be nil, in which case no instance in this process may
// pin a compiler version — launcher refuses any Toolchain.Version it
// cannot check against a nil Manager rather than silently skipping the
// pre-check.
func New(deployments *deployment.Store, toolchains *toolchain.Manager, publicKey string, privateKey *secret.Buffer,
	cfg Config, c clock.Clock, logger *slog.Logger) *Manager {

	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		deployments: deployments,
		toolchains:  toolchains,
		publicKey:   publicKey,
		privateKey:  privateKey,
		cfg:         cfg,
		clock:       c,
		logger:      logger,
		runtimes:    make(map[string]*runtime),
	}
}

// stateDir is the controller-owned runtime metadata directory inside
// an instance's own directory, analogous to a .git directory: it
// never collides with anything the game server or its repository
// checkout would create.
func stateDir(inst *domain.Instance) string {
	return filepath.Join(inst.Path, ".gameward")
}

func reattachPath(inst *domain.Instance) string {
	return reattach.Path(stateDir(inst))
}

// runtimeFor returns the instance's runtime, building it on first use.
func (m *Manager) runtimeFor(inst *domain.Instance) *runtime {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rt, ok := m.runtimes[inst.ID]; ok {
		return rt
	}

	rt := &runtime{bridge: chat.New(inst.ID, m.chatFactory(), m.clock, m.logger)}
	rt.watchdog = watchdog.New(inst.ID, m.launcher(inst, rt), m.clock, m.sink(rt), m.cfg.HeartbeatMissedRetries)
	m.runtimes[inst.ID] = rt
	return rt
}

// chatFactory dispatches a ChatSettings entry to the concrete provider
// adapter named by its Provider field.
func (m *Manager) chatFactory() chat.ProviderFactory {
	return func(settings domain.ChatSettings) (chat.Provider, error) {
		switch settings.Provider {
		case "webhook":
			return webhook.New(settings, m.privateKey, nil)
		case "gateway":
			return gateway.Dial(context.Background(), settings, m.privateKey)
		default:
			return nil, fmt.Errorf("controller: unknown chat provider %q", settings.Provider)
		}
	}
}

// sink relays watchdog events to the instance's chat bridge under the
// watchdog role.
func (m *Manager) sink(rt *runtime) watchdog.Sink {
	return func(e watchdog.Event) {
		rt.bridge.Dispatch(context.Background(), chat.Event{
			Role: chat.RoleWatchdog,
			Kind: e.Kind,
			Args: e.Args,
			At:   m.clock.Now(),
		})
	}
}

// launcher builds a watchdog.Launcher that starts a session.Controller
// for the given instance and persists a reattach record once the
// process is up, so a controller restart can recover it.
func (m *Manager) launcher(inst *domain.Instance, rt *runtime) watchdog.Launcher {
	return func(ctx context.Context, dep *domain.Deployment, slot domain.StagingSlot) (watchdog.Session, error) {
		release, err := m.acquireToolchain(inst)
		if err != nil {
			return nil, err
		}

		ctrl := session.New(inst.ID, dep.ArtifactName, nil, m.clock)
		opts := session.LaunchOptions{
			ArtifactPath: filepath.Join(dep.Dir(slot), dep.ArtifactName),
			ArtifactDir:  dep.Dir(slot),
			BridgeURL:    m.cfg.BridgeURL,
			APIVersion:   m.cfg.BridgeAPIVersion,
			Release:      release,
		}
		// ctrl.Launch releases the toolchain lock itself on every
		// failure path (it owns opts.Release from here on), including
		// ones that occur before a process is even spawned.
		if err := ctrl.Launch(ctx, inst.Launch, dep.MinimumSecurityLevel, opts); err != nil {
			return nil, err
		}

		if err := m.persistReattach(inst, ctrl, slot); err != nil {
			m.logger.Warn("persisting reattach record failed", "instance_id", inst.ID, "error", err)
		}
		return ctrl, nil
	}
}

// acquireToolchain takes a shared lock on the instance's pinned
// compiler version for the lifetime of the session about to launch,
// per spec.md §4.5's "toolchain not in use by a different incompatible
// session" launch pre-check. An instance that pins no version skips
// the check entirely — most instances never pin one.
func (m *Manager) acquireToolchain(inst *domain.Instance) (release func(), err error) {
	version := inst.Toolchain.Version
	if version == "" {
		return nil, nil
	}
	if m.toolchains == nil {
		return nil, fmt.Errorf("controller: instance %s pins toolchain version %q but no toolchain manager is configured", inst.ID, version)
	}
	return m.toolchains.Acquire(version)
}

func (m *Manager) persistReattach(inst *domain.Instance, ctrl *session.Controller, slot domain.StagingSlot) error {
	if err := os.MkdirAll(stateDir(inst), 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	sealedIdentifier, err := sealed.Encrypt([]byte(ctrl.AccessIdentifier()), []string{m.publicKey})
	if err != nil {
		return fmt.Errorf("sealing access identifier: %w", err)
	}

	record := domain.ReattachRecord{
		InstanceID:             inst.ID,
		ProcessID:              ctrl.ProcessID(),
		AccessIdentifierSealed: sealedIdentifier,
		BoundPort:              ctrl.BoundPort(),
		IsPrimary:              slot == domain.SlotPrimary,
		Reboot:                 ctrl.RebootState(),
		Security:               ctrl.SecurityLevel(),
	}
	return reattach.Write(reattachPath(inst), record)
}

// GoOnline implements instance.Lifecycle. It re-materializes the
// instance's chat providers and starts its watchdog from its active
// (or, absent one, latest) deployment.
func (m *Manager) GoOnline(ctx context.Context, inst *domain.Instance) error {
	rt := m.runtimeFor(inst)
	if err := rt.bridge.SetProviders(inst.ChatSettings); err != nil {
		return fmt.Errorf("configuring chat providers: %w", err)
	}

	dep := m.deployments.Active(inst.ID)
	if dep == nil {
		dep = m.deployments.Latest(inst.ID)
	}
	return rt.watchdog.Start(ctx, dep, inst.Launch, m.cfg.StartupTimeout)
}

// GoOffline implements instance.Lifecycle. A GoOffline for an instance
// whose runtime was never built (it was never started this process
// lifetime) is a no-op.
func (m *Manager) GoOffline(ctx context.Context, inst *domain.Instance) error {
	m.mu.Lock()
	rt, ok := m.runtimes[inst.ID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := rt.watchdog.Terminate(ctx); err != nil {
		return err
	}
	return reattach.Clear(reattachPath(inst))
}

// ClearReattachRecords implements instance.ReattachCleaner, invoked on
// detach.
func (m *Manager) ClearReattachRecords(inst *domain.Instance) error {
	return reattach.Clear(reattachPath(inst))
}

// Resume recovers inst's session across a controller restart from its
// persisted reattach record. A non-online instance, or one with no
// record, is left offline. A record naming a process that is no
// longer alive is cleared.
func (m *Manager) Resume(ctx context.Context, inst *domain.Instance) error {
	if inst.State != domain.InstanceOnline {
		return nil
	}

	record, ok, err := reattach.Load(reattachPath(inst))
	if err != nil {
		return fmt.Errorf("loading reattach record: %w", err)
	}

	rt := m.runtimeFor(inst)
	if err := rt.bridge.SetProviders(inst.ChatSettings); err != nil {
		return fmt.Errorf("configuring chat providers: %w", err)
	}
	dep := m.deployments.Active(inst.ID)

	if !ok {
		rt.watchdog.Reattach(dep, domain.ReattachRecord{}, nil, false)
		return nil
	}

	identifier, err := sealed.Decrypt(record.AccessIdentifierSealed, m.privateKey)
	if err != nil {
		return fmt.Errorf("decrypting access identifier: %w", err)
	}
	defer identifier.Close()

	ctrl := session.New(inst.ID, "", nil, m.clock)
	live, err := ctrl.Reattach(record, identifier.String())
	if err != nil {
		return fmt.Errorf("reattaching session: %w", err)
	}
	rt.watchdog.Reattach(dep, record, ctrl, live)
	if !live {
		return reattach.Clear(reattachPath(inst))
	}
	return nil
}

// ResumeAll calls Resume for every instance, logging (rather than
// failing the whole startup on) any individual error.
func (m *Manager) ResumeAll(ctx context.Context, instances []*domain.Instance) {
	for _, inst := range instances {
		if err := m.Resume(ctx, inst); err != nil {
			m.logger.Error("resuming instance failed", "instance_id", inst.ID, "error", err)
		}
	}
}
