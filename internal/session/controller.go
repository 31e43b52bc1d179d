// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"runtime"
	"sync"
	"time"

	"github.com/gameward/gameward/internal/apperror"
	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/internal/procexec"
	"github.com/gameward/gameward/lib/clock"
	"github.com/gameward/gameward/lib/secret"
)

// accessIdentifierBytes is the entropy of a freshly minted access
// identifier: 16 bytes = 128 bits, matching the contract's "≥128 bits
// of entropy" requirement.
const accessIdentifierBytes = 16

// Registrar routes an inbound bridge request to the session whose
// access identifier matches. No package in this module implements it,
// and internal/controller passes a nil Registrar to New; a test double
// is enough for unit tests of Controller itself.
type Registrar interface {
	Register(accessIdentifier string, controller *Controller)
	Deregister(accessIdentifier string)
}

// BridgeEventHandler is invoked when the bridge reports an event for
// this session (init complete, topic response, reboot notification).
type BridgeEventHandler func(event string, payload map[string]string)

// Controller owns one running game-server process: its launch
// parameters, bound port, bridge access identifier, and reboot state.
type Controller struct {
	instanceID string
	artifact   string
	registrar  Registrar
	clock      clock.Clock

	mu                sync.Mutex
	handle            *procexec.Handle
	accessIdentifier  *secret.Buffer
	launch            domain.LaunchParameters
	reboot            domain.RebootState
	effectiveSecurity domain.SecurityLevel
	running           bool
	launchedAt        time.Time
	eventHandler      BridgeEventHandler
	release           func()
	released          bool
}

// runRelease calls the session's held-resource release hook at most
// once, regardless of which of abortLaunch/Terminate triggers it.
func (c *Controller) runRelease() {
	c.mu.Lock()
	release := c.release
	already := c.released
	c.released = true
	c.mu.Unlock()
	if !already && release != nil {
		release()
	}
}

// New returns a Controller for one instance's game-server process.
func New(instanceID, artifact string, registrar Registrar, c clock.Clock) *Controller {
	if c == nil {
		c = clock.Real()
	}
	return &Controller{instanceID: instanceID, artifact: artifact, registrar: registrar, clock: c}
}

// OnBridgeEvent registers the handler invoked for bridge-reported
// events for this session.
func (c *Controller) OnBridgeEvent(handler BridgeEventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventHandler = handler
}

// checkPortAvailable bind-tests port on loopback. The OS is the
// authoritative registry for port usage per spec.md §9 — no parallel
// in-process reservation table is kept.
func checkPortAvailable(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return apperror.ErrDreamDaemonPortInUse
	}
	return listener.Close()
}

// LaunchOptions carries everything Launch needs beyond the launch
// parameters themselves: where the artifact lives, the controller's
// own bridge URL, and whether a different interactive instance of the
// game binary is already running for this OS user (checked by the
// caller via an OS-specific lookup — out of scope here per spec.md §1).
type LaunchOptions struct {
	ArtifactPath       string
	ArtifactDir        string
	BridgeURL          string
	APIVersion         string
	Validate           bool
	AnotherPagerActive bool
	Env                []string

	// Release, if set, is called exactly once when this session ends,
	// by whichever of abortLaunch or Terminate ends it first. It
	// returns a held resource — a toolchain.Manager.Acquire shared
	// lock, in practice — that must outlive the process it was
	// acquired for, not just the Launch call that started it.
	Release func()
}

// launchConfirmWindow is how long Launch watches the freshly spawned
// process before declaring the launch started. Without a real inbound
// bridge handshake to wait on (internal/controller passes a nil
// Registrar, so no bridge request ever reaches a Controller), this is the closest
// honest signal available: the process didn't exit on its own in the
// first moment after spawn. It is short enough that a normal launch
// still resolves quickly, and long enough to give ctx cancellation
// (an explicit job cancel, or the watchdog's startup timeout) a real
// window to land and abort the launch instead of racing an Launch
// call that already returned.
const launchConfirmWindow = 200 * time.Millisecond

// Launch starts the game-server process with the given parameters,
// registering its access identifier with the bridge before the process
// exists so a very fast first bridge handshake is never dropped. It
// blocks for up to launchConfirmWindow watching for an early crash or
// ctx cancellation before returning; cancelling ctx during that window
// kills the process and leaves none running.
func (c *Controller) Launch(ctx context.Context, params domain.LaunchParameters,
	deploymentMinimum domain.SecurityLevel, opts LaunchOptions) (err error) {

	c.mu.Lock()
	c.release = opts.Release
	c.released = false
	c.mu.Unlock()
	defer func() {
		if err != nil {
			c.runRelease()
		}
	}()

	if err := params.Validate(); err != nil {
		return err
	}
	if opts.AnotherPagerActive && runtime.GOOS != "windows" {
		return apperror.ErrDeploymentPagerRunning
	}
	if err := checkPortAvailable(params.PrimaryPort); err != nil {
		return err
	}
	if err := checkPortAvailable(params.SecondaryPort); err != nil {
		return err
	}

	identifierBytes := make([]byte, accessIdentifierBytes)
	if _, err := rand.Read(identifierBytes); err != nil {
		return fmt.Errorf("generating access identifier: %w", err)
	}
	identifierHex := hex.EncodeToString(identifierBytes)

	buffer, err := secret.NewFromBytes([]byte(identifierHex))
	if err != nil {
		return fmt.Errorf("securing access identifier: %w", err)
	}

	effectiveSecurity := domain.EffectiveSecurityLevel(params.SecurityLevel, deploymentMinimum)

	if c.registrar != nil {
		c.registrar.Register(identifierHex, c)
	}

	args := commandLineArgs(opts.ArtifactPath, params, effectiveSecurity, opts.Validate,
		opts.BridgeURL, opts.APIVersion, identifierHex)

	handle, err := procexec.Start(procexec.Spec{
		Path: opts.ArtifactPath,
		Args: args,
		Dir:  opts.ArtifactDir,
		Env:  opts.Env,
	})
	if err != nil {
		if c.registrar != nil {
			c.registrar.Deregister(identifierHex)
		}
		buffer.Close()
		return fmt.Errorf("launching game server: %w", err)
	}

	c.mu.Lock()
	c.handle = handle
	c.accessIdentifier = buffer
	c.launch = params
	c.effectiveSecurity = effectiveSecurity
	c.reboot = domain.RebootNormal
	c.running = true
	c.launchedAt = c.clock.Now()
	c.mu.Unlock()

	exited := make(chan error, 1)
	go func() { exited <- handle.Wait(context.Background()) }()

	select {
	case <-ctx.Done():
		c.abortLaunch(handle, buffer, identifierHex)
		return ctx.Err()
	case err := <-exited:
		c.abortLaunch(handle, buffer, identifierHex)
		return fmt.Errorf("game server exited during startup: %w", err)
	case <-c.clock.After(launchConfirmWindow):
		return nil
	}
}

// abortLaunch kills handle (a no-op if it already exited on its own),
// waits for it to be reaped, and clears the controller's state so no
// process and no stale access identifier remain.
func (c *Controller) abortLaunch(handle *procexec.Handle, buffer *secret.Buffer, identifierHex string) {
	_ = handle.Kill(context.Background())

	c.mu.Lock()
	if c.handle == handle {
		c.handle = nil
		c.running = false
		c.accessIdentifier = nil
	}
	c.mu.Unlock()

	if c.registrar != nil {
		c.registrar.Deregister(identifierHex)
	}
	buffer.Close()
	c.runRelease()
}

// commandLineArgs composes the process command line per spec.md §6's
// illustrative template.
func commandLineArgs(artifactPath string, params domain.LaunchParameters,
	security domain.SecurityLevel, validate bool, bridgeURL, apiVersion, accessIdentifier string) []string {

	visibility := "public"
	if validate {
		visibility = "invisible"
	}

	paramValues := url.Values{}
	paramValues.Set("api-version", apiVersion)
	paramValues.Set("bridge-url", bridgeURL)
	paramValues.Set("access-identifier", accessIdentifier)

	args := []string{
		artifactPath,
		"-port", fmt.Sprint(params.PrimaryPort),
		"-ports", "1-65535",
	}
	if params.AllowWebClient {
		args = append(args, "-webclient")
	}
	args = append(args,
		"-close",
		"-"+string(security),
		"-"+visibility,
		"-params", paramValues.Encode(),
	)
	return args
}

// Reattach resumes supervision of a process already running under a
// persisted reattach record. Returns ok=false if the named process no
// longer exists — the caller should treat this as a dead session and
// clear the record.
func (c *Controller) Reattach(record domain.ReattachRecord, accessIdentifier string) (ok bool, err error) {
	if !procexec.IsAlive(record.ProcessID) {
		return false, nil
	}

	buffer, err := secret.NewFromBytes([]byte(accessIdentifier))
	if err != nil {
		return false, fmt.Errorf("securing access identifier: %w", err)
	}

	if c.registrar != nil {
		c.registrar.Register(accessIdentifier, c)
	}

	c.mu.Lock()
	c.accessIdentifier = buffer
	c.launch.PrimaryPort = record.BoundPort
	c.effectiveSecurity = record.Security
	c.reboot = record.Reboot
	c.running = true
	c.mu.Unlock()

	return true, nil
}

// Terminate stops the process. If graceful, it signals the reboot
// state and waits for the process to exit on its own before the
// context's deadline; otherwise it kills immediately.
func (c *Controller) Terminate(ctx context.Context, graceful bool) error {
	c.mu.Lock()
	handle := c.handle
	identifier := c.accessIdentifier
	c.mu.Unlock()

	if handle == nil {
		return nil
	}

	if graceful {
		c.SetRebootState(domain.RebootShutdown)
		if err := handle.Wait(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("waiting for graceful shutdown: %w", err)
		}
		if ctx.Err() != nil {
			if err := handle.Kill(context.Background()); err != nil {
				return fmt.Errorf("force-killing after graceful timeout: %w", err)
			}
		}
	} else if err := handle.Kill(ctx); err != nil {
		return fmt.Errorf("killing session: %w", err)
	}

	if c.registrar != nil && identifier != nil {
		c.registrar.Deregister(identifier.String())
	}

	c.mu.Lock()
	c.running = false
	if identifier != nil {
		identifier.Close()
	}
	c.accessIdentifier = nil
	c.handle = nil
	c.mu.Unlock()

	c.runRelease()
	return nil
}

// SetRebootState records the reboot state to apply at the process's
// next natural reboot notification from the bridge.
func (c *Controller) SetRebootState(state domain.RebootState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reboot = state
}

// HandleBridgeEvent is invoked by the bridge listener when this
// session's access identifier is used to authenticate an inbound
// event. A "reboot" event applies and clears the pending reboot state.
func (c *Controller) HandleBridgeEvent(event string, payload map[string]string) {
	c.mu.Lock()
	handler := c.eventHandler
	if event == "reboot" {
		c.reboot = domain.RebootNormal
	}
	c.mu.Unlock()

	if handler != nil {
		handler(event, payload)
	}
}

// BoundPort returns the primary port this session is bound to.
func (c *Controller) BoundPort() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.launch.PrimaryPort
}

// ProcessID returns the OS process id of the running game server, or 0
// if none is running. Recorded into a domain.ReattachRecord so a
// controller restart can recover the process by PID.
func (c *Controller) ProcessID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return 0
	}
	return c.handle.PID
}

// AccessIdentifier returns the session's current bridge access
// identifier in hex, or "" if none is set. Sealed and written into a
// domain.ReattachRecord so a controller restart can re-register the
// bridge without generating a new identifier.
func (c *Controller) AccessIdentifier() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessIdentifier == nil {
		return ""
	}
	return c.accessIdentifier.String()
}

// SecurityLevel returns the effective security level this session
// launched with.
func (c *Controller) SecurityLevel() domain.SecurityLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effectiveSecurity
}

// RebootState returns the pending reboot state.
func (c *Controller) RebootState() domain.RebootState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reboot
}

// Running reports whether this controller currently owns a live
// process.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SendTopic sends a request over the bridge's out-of-band channel and
// waits for a response, or ctx's deadline. The bridge wire format
// itself is an external collaborator (spec.md §9 Open Questions); this
// method only enforces the symmetric timeout around whatever transport
// the bridge listener provides.
func (c *Controller) SendTopic(ctx context.Context, send func(ctx context.Context) (map[string]string, error)) (map[string]string, error) {
	if !c.Running() {
		return nil, apperror.Gone("session is not running")
	}
	return send(ctx)
}

// Snapshot returns the observable Session state.
func (c *Controller) Snapshot(deploymentID string) domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Session{
		BoundPort:    c.launch.PrimaryPort,
		Reboot:       c.reboot,
		DeploymentID: deploymentID,
		Launch:       c.launch,
		Running:      c.running,
		LaunchedAt:   c.launchedAt,
	}
}
