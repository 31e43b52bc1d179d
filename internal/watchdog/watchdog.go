// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gameward/gameward/internal/apperror"
	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/lib/clock"
)

// State is one node of the watchdog's state machine.
type State string

const (
	StateOffline         State = "offline"
	StateStarting        State = "starting"
	StateOnline          State = "online"
	StateReplacingOnline State = "replacing_online"
	StateTerminating     State = "terminating"
	StateReattaching     State = "reattaching"
)

// DefaultHeartbeatMissedRetries is the fallback missed-heartbeat
// tolerance when New is given a zero value, resolving spec.md §9's
// open question ("pick a small bounded constant") with a value the
// daemon config (GeneralConfig.HeartbeatMissedRetries) can still
// override per deployment.
const DefaultHeartbeatMissedRetries = 3

// Session is the subset of internal/session.Controller's surface the
// watchdog needs. Kept as an interface so the state machine's tests
// don't need a real game-server process.
type Session interface {
	Terminate(ctx context.Context, graceful bool) error
	Running() bool
	BoundPort() int
	SetRebootState(state domain.RebootState)
	RebootState() domain.RebootState
}

// Launcher starts a new Session bound to the given deployment and
// staging slot. Start calls it with a context bounded by the startup
// timeout and treats a launch still unfinished at that deadline as a
// failed start.
type Launcher func(ctx context.Context, dep *domain.Deployment, slot domain.StagingSlot) (Session, error)

// Event is one notable watchdog occurrence, surfaced to the chat
// bridge and operation log.
type Event struct {
	Kind string
	Args []string
}

// Sink receives watchdog Events. A nil Sink discards them.
type Sink func(Event)

func (s Sink) emit(e Event) {
	if s != nil {
		s(e)
	}
}

// Watchdog supervises 0–2 sessions for one instance.
type Watchdog struct {
	instanceID             string
	launch                 Launcher
	clock                  clock.Clock
	sink                   Sink
	heartbeatMissedRetries int

	mu              sync.Mutex
	state           State
	activeSession   Session
	stagedSession   Session
	activeSlot      domain.StagingSlot
	activeDeployment *domain.Deployment
	missedHeartbeats int
}

// New returns an Offline Watchdog for one instance. heartbeatMissedRetries
// is the number of consecutive missed heartbeats tolerated before
// unexpected-exit handling fires; zero selects DefaultHeartbeatMissedRetries.
func New(instanceID string, launch Launcher, c clock.Clock, sink Sink, heartbeatMissedRetries int) *Watchdog {
	if c == nil {
		c = clock.Real()
	}
	if heartbeatMissedRetries <= 0 {
		heartbeatMissedRetries = DefaultHeartbeatMissedRetries
	}
	return &Watchdog{
		instanceID:             instanceID,
		launch:                 launch,
		clock:                  c,
		sink:                   sink,
		heartbeatMissedRetries: heartbeatMissedRetries,
		state:                  StateOffline,
		activeSlot:             domain.SlotPrimary,
	}
}

// State returns the current state under lock.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start reserves a deployment and transitions Offline -> Starting ->
// Online, or back to Offline on failure (startup timeout or launch
// error).
func (w *Watchdog) Start(ctx context.Context, dep *domain.Deployment, params domain.LaunchParameters,
	startupTimeout time.Duration) error {

	w.mu.Lock()
	if w.state != StateOffline {
		w.mu.Unlock()
		return apperror.Conflict(apperror.CodeNone, fmt.Sprintf("cannot start from state %s", w.state))
	}
	if dep == nil {
		w.mu.Unlock()
		return apperror.Gone("no deployment available to start from")
	}
	w.state = StateStarting
	w.mu.Unlock()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	sess, err := w.launch(startCtx, dep, domain.SlotPrimary)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil || startCtx.Err() != nil {
		w.state = StateOffline
		if err == nil {
			err = fmt.Errorf("watchdog: session did not initialize within %s", startupTimeout)
		}
		w.sink.emit(Event{Kind: "WatchdogLaunchFailed", Args: []string{w.instanceID, err.Error()}})
		return err
	}

	w.activeSession = sess
	w.activeDeployment = dep
	w.activeSlot = domain.SlotPrimary
	w.missedHeartbeats = 0
	w.state = StateOnline
	w.sink.emit(Event{Kind: "WatchdogLaunch", Args: []string{w.instanceID, dep.ID}})
	return nil
}

// Heartbeat records a received heartbeat, resetting the missed count.
func (w *Watchdog) Heartbeat() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.missedHeartbeats = 0
}

// HeartbeatMissed records a missed heartbeat. Once
// heartbeatMissedRetries consecutive misses accumulate with no
// pending graceful reboot, it triggers unexpected-exit handling: the
// unresponsive session is force-terminated and the active deployment
// is relaunched through Start, which always launches into the primary
// slot, whichever slot the terminated session ran from.
func (w *Watchdog) HeartbeatMissed(ctx context.Context, startupTimeout time.Duration) error {
	w.mu.Lock()
	if w.state != StateOnline {
		w.mu.Unlock()
		return nil
	}
	if w.activeSession != nil && w.activeSession.RebootState() != domain.RebootNormal {
		// A graceful reboot is already pending; a missed heartbeat
		// here is expected, not an unexpected exit.
		w.mu.Unlock()
		return nil
	}
	w.missedHeartbeats++
	missed := w.missedHeartbeats
	dep := w.activeDeployment
	w.mu.Unlock()

	if missed < w.heartbeatMissedRetries {
		return nil
	}

	w.sink.emit(Event{Kind: "WatchdogUnexpectedExit", Args: []string{w.instanceID}})

	w.mu.Lock()
	unresponsive := w.activeSession
	w.activeSession = nil
	w.state = StateOffline
	w.mu.Unlock()

	if unresponsive != nil {
		_ = unresponsive.Terminate(ctx, false)
	}

	return w.Start(ctx, dep, domain.LaunchParameters{}, startupTimeout)
}

// BeginReplace launches a second session in the staged slot bound to a
// new deployment, then performs the graceful hot-swap: wait for the
// new session's init, signal graceful-reboot to the original, and swap
// slot designations once the original exits.
func (w *Watchdog) BeginReplace(ctx context.Context, dep *domain.Deployment,
	startupTimeout time.Duration) error {

	w.mu.Lock()
	if w.state != StateOnline {
		w.mu.Unlock()
		return apperror.Conflict(apperror.CodeNone, fmt.Sprintf("cannot replace from state %s", w.state))
	}
	oldSession := w.activeSession
	oldSlot := w.activeSlot
	newSlot := domain.SlotSecondary
	if oldSlot == domain.SlotSecondary {
		newSlot = domain.SlotPrimary
	}
	w.state = StateReplacingOnline
	w.mu.Unlock()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	newSession, err := w.launch(startCtx, dep, newSlot)

	w.mu.Lock()
	if err != nil || startCtx.Err() != nil {
		w.state = StateOnline
		w.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("watchdog: replacement session did not initialize within %s", startupTimeout)
		}
		return err
	}
	w.stagedSession = newSession
	w.mu.Unlock()

	if oldSession != nil {
		oldSession.SetRebootState(domain.RebootRestart)
		if err := oldSession.Terminate(ctx, true); err != nil {
			return fmt.Errorf("watchdog: terminating replaced session: %w", err)
		}
	}

	w.mu.Lock()
	w.activeSession = newSession
	w.stagedSession = nil
	w.activeDeployment = dep
	w.activeSlot = newSlot
	w.state = StateOnline
	w.mu.Unlock()

	w.sink.emit(Event{Kind: "WatchdogSwap", Args: []string{w.instanceID, dep.ID}})
	return nil
}

// SoftRestart and SoftShutdown set the active session's reboot state;
// they take effect at the process's next natural reboot notification.
func (w *Watchdog) SoftRestart() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.activeSession != nil {
		w.activeSession.SetRebootState(domain.RebootRestart)
	}
}

func (w *Watchdog) SoftShutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.activeSession != nil {
		w.activeSession.SetRebootState(domain.RebootShutdown)
	}
}

// Terminate stops the active (and, if present, staged) session and
// returns the watchdog to Offline. Waits for process exit with bounded
// grace via ctx's deadline, then force-kills.
func (w *Watchdog) Terminate(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateOffline {
		w.mu.Unlock()
		return nil
	}
	w.state = StateTerminating
	active := w.activeSession
	staged := w.stagedSession
	w.mu.Unlock()

	var firstErr error
	if active != nil {
		if err := active.Terminate(ctx, true); err != nil {
			firstErr = err
		}
	}
	if staged != nil {
		if err := staged.Terminate(ctx, false); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	w.mu.Lock()
	w.activeSession = nil
	w.stagedSession = nil
	w.activeDeployment = nil
	w.state = StateOffline
	w.mu.Unlock()

	return firstErr
}

// Reattach restores supervision after a controller restart, given a
// session already re-bound by internal/session.Controller.Reattach.
// ok=false (no error) means the persisted record's process is gone;
// the caller should clear the record and the watchdog settles at
// Offline.
func (w *Watchdog) Reattach(dep *domain.Deployment, record domain.ReattachRecord, sess Session, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.state = StateReattaching
	if !ok {
		w.state = StateOffline
		return
	}

	w.activeSession = sess
	w.activeDeployment = dep
	if record.IsPrimary {
		w.activeSlot = domain.SlotPrimary
	} else {
		w.activeSlot = domain.SlotSecondary
	}
	w.missedHeartbeats = 0
	w.state = StateOnline
}

// ActiveSlot reports which staging slot is currently live.
func (w *Watchdog) ActiveSlot() domain.StagingSlot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeSlot
}

// ActiveDeployment returns the deployment currently bound to the
// active session, or nil.
func (w *Watchdog) ActiveDeployment() *domain.Deployment {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeDeployment
}
