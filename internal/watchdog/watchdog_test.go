// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/lib/clock"
)

type fakeSession struct {
	boundPort int
	running   bool
	reboot    domain.RebootState
}

func (f *fakeSession) Terminate(ctx context.Context, graceful bool) error {
	f.running = false
	return nil
}
func (f *fakeSession) Running() bool                        { return f.running }
func (f *fakeSession) BoundPort() int                        { return f.boundPort }
func (f *fakeSession) SetRebootState(state domain.RebootState) { f.reboot = state }
func (f *fakeSession) RebootState() domain.RebootState        { return f.reboot }

func alwaysLaunches(port int) Launcher {
	return func(ctx context.Context, dep *domain.Deployment, slot domain.StagingSlot) (Session, error) {
		return &fakeSession{boundPort: port, running: true}, nil
	}
}

func TestStart_OfflineToOnline(t *testing.T) {
	var events []Event
	w := New("instance-1", alwaysLaunches(1337), clock.Fake(time.Now()), func(e Event) { events = append(events, e) }, 0)

	dep := &domain.Deployment{ID: "d1"}
	if err := w.Start(context.Background(), dep, domain.LaunchParameters{}, time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if w.State() != StateOnline {
		t.Errorf("state = %s, want online", w.State())
	}
	if w.ActiveDeployment() != dep {
		t.Error("ActiveDeployment should be the started deployment")
	}

	found := false
	for _, e := range events {
		if e.Kind == "WatchdogLaunch" {
			found = true
		}
	}
	if !found {
		t.Error("expected a WatchdogLaunch event")
	}
}

func TestStart_FailsFromNonOfflineState(t *testing.T) {
	w := New("instance-1", alwaysLaunches(1337), clock.Fake(time.Now()), nil, 0)
	dep := &domain.Deployment{ID: "d1"}
	if err := w.Start(context.Background(), dep, domain.LaunchParameters{}, time.Second); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := w.Start(context.Background(), dep, domain.LaunchParameters{}, time.Second); err == nil {
		t.Error("second Start from Online should fail")
	}
}

func TestStart_LaunchErrorReturnsToOffline(t *testing.T) {
	failing := func(ctx context.Context, dep *domain.Deployment, slot domain.StagingSlot) (Session, error) {
		return nil, errors.New("boom")
	}
	w := New("instance-1", failing, clock.Fake(time.Now()), nil, 0)
	dep := &domain.Deployment{ID: "d1"}
	if err := w.Start(context.Background(), dep, domain.LaunchParameters{}, time.Second); err == nil {
		t.Fatal("expected an error")
	}
	if w.State() != StateOffline {
		t.Errorf("state = %s, want offline after failed start", w.State())
	}
}

func TestHeartbeatMissed_TriggersRelaunchAfterBound(t *testing.T) {
	w := New("instance-1", alwaysLaunches(1337), clock.Fake(time.Now()), nil, 0)
	dep := &domain.Deployment{ID: "d1"}
	if err := w.Start(context.Background(), dep, domain.LaunchParameters{}, time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < DefaultHeartbeatMissedRetries-1; i++ {
		if err := w.HeartbeatMissed(context.Background(), time.Second); err != nil {
			t.Fatalf("HeartbeatMissed %d: %v", i, err)
		}
		if w.State() != StateOnline {
			t.Fatalf("state should remain online before the bound is reached, got %s", w.State())
		}
	}

	if err := w.HeartbeatMissed(context.Background(), time.Second); err != nil {
		t.Fatalf("HeartbeatMissed at bound: %v", err)
	}
	if w.State() != StateOnline {
		t.Errorf("state = %s, want online after successful relaunch", w.State())
	}
}

func TestHeartbeatMissed_NoOpDuringPendingGracefulReboot(t *testing.T) {
	w := New("instance-1", alwaysLaunches(1337), clock.Fake(time.Now()), nil, 0)
	dep := &domain.Deployment{ID: "d1"}
	if err := w.Start(context.Background(), dep, domain.LaunchParameters{}, time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.SoftRestart()

	for i := 0; i < DefaultHeartbeatMissedRetries+1; i++ {
		if err := w.HeartbeatMissed(context.Background(), time.Second); err != nil {
			t.Fatalf("HeartbeatMissed: %v", err)
		}
	}
	if w.State() != StateOnline {
		t.Errorf("state = %s, want online: a pending graceful reboot should suppress unexpected-exit handling", w.State())
	}
}

func TestTerminate_ReturnsToOffline(t *testing.T) {
	w := New("instance-1", alwaysLaunches(1337), clock.Fake(time.Now()), nil, 0)
	dep := &domain.Deployment{ID: "d1"}
	if err := w.Start(context.Background(), dep, domain.LaunchParameters{}, time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Terminate(context.Background()); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if w.State() != StateOffline {
		t.Errorf("state = %s, want offline", w.State())
	}
	if w.ActiveDeployment() != nil {
		t.Error("ActiveDeployment should be nil after Terminate")
	}
}

func TestReattach_DeadProcessGoesOffline(t *testing.T) {
	w := New("instance-1", alwaysLaunches(1337), clock.Fake(time.Now()), nil, 0)
	w.Reattach(&domain.Deployment{ID: "d1"}, domain.ReattachRecord{}, nil, false)
	if w.State() != StateOffline {
		t.Errorf("state = %s, want offline when the reattach target is gone", w.State())
	}
}

func TestReattach_LiveProcessGoesOnline(t *testing.T) {
	w := New("instance-1", alwaysLaunches(1337), clock.Fake(time.Now()), nil, 0)
	sess := &fakeSession{boundPort: 1337, running: true}
	w.Reattach(&domain.Deployment{ID: "d1"}, domain.ReattachRecord{IsPrimary: true}, sess, true)
	if w.State() != StateOnline {
		t.Errorf("state = %s, want online", w.State())
	}
	if w.ActiveSlot() != domain.SlotPrimary {
		t.Errorf("ActiveSlot = %s, want primary", w.ActiveSlot())
	}
}
