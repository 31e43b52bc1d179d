// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/lib/clock"
)

type fakeProvider struct {
	mu         sync.Mutex
	failTimes  int
	calls      int
	delivered  []Event
	commands   []Command
	commandErr error
}

func (p *fakeProvider) Deliver(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failTimes {
		return fmt.Errorf("simulated failure %d", p.calls)
	}
	p.delivered = append(p.delivered, event)
	return nil
}

func (p *fakeProvider) Commands(ctx context.Context) ([]Command, error) {
	if p.commandErr != nil {
		return nil, p.commandErr
	}
	return p.commands, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) deliveredCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.delivered)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBridge_DispatchDeliversToEveryProvider(t *testing.T) {
	providerA := &fakeProvider{}
	providerB := &fakeProvider{}

	settingsA := domain.ChatSettings{ID: "a", Enabled: true}
	settingsB := domain.ChatSettings{ID: "b", Enabled: true}

	factory := func(s domain.ChatSettings) (Provider, error) {
		if s.ID == "a" {
			return providerA, nil
		}
		return providerB, nil
	}

	bridge := New("inst-1", factory, clock.Fake(time.Now()), nil)
	if err := bridge.SetProviders([]domain.ChatSettings{settingsA, settingsB}); err != nil {
		t.Fatalf("SetProviders: %v", err)
	}

	bridge.Dispatch(context.Background(), Event{Kind: "launch", Role: RoleWatchdog})

	waitUntil(t, time.Second, func() bool {
		return providerA.deliveredCount() == 1 && providerB.deliveredCount() == 1
	})

	if providerA.delivered[0].InstanceID != "inst-1" {
		t.Errorf("InstanceID = %q, want inst-1", providerA.delivered[0].InstanceID)
	}
}

func TestBridge_FailingProviderIsIsolated(t *testing.T) {
	failing := &fakeProvider{failTimes: maxRetryAttempts} // never succeeds
	healthy := &fakeProvider{}

	factory := func(s domain.ChatSettings) (Provider, error) {
		if s.ID == "failing" {
			return failing, nil
		}
		return healthy, nil
	}

	fake := clock.Fake(time.Now())
	bridge := New("inst-1", factory, fake, nil)
	if err := bridge.SetProviders([]domain.ChatSettings{
		{ID: "failing", Enabled: true},
		{ID: "healthy", Enabled: true},
	}); err != nil {
		t.Fatalf("SetProviders: %v", err)
	}

	bridge.Dispatch(context.Background(), Event{Kind: "launch"})

	waitUntil(t, time.Second, func() bool { return healthy.deliveredCount() == 1 })

	// The last attempt does not wait on a backoff timer, so only
	// maxRetryAttempts-1 waiters are ever registered.
	for i := 0; i < maxRetryAttempts-1; i++ {
		fake.WaitForTimers(1)
		fake.Advance(time.Minute)
	}

	waitUntil(t, time.Second, func() bool { return failing.callCount() == maxRetryAttempts })
	if failing.deliveredCount() != 0 {
		t.Errorf("failing provider should never have delivered, got %d", failing.deliveredCount())
	}
}

func TestBridge_SetProvidersDropsDisabledEntries(t *testing.T) {
	provider := &fakeProvider{}
	factory := func(s domain.ChatSettings) (Provider, error) { return provider, nil }

	bridge := New("inst-1", factory, clock.Fake(time.Now()), nil)
	if err := bridge.SetProviders([]domain.ChatSettings{{ID: "a", Enabled: false}}); err != nil {
		t.Fatalf("SetProviders: %v", err)
	}

	bridge.Dispatch(context.Background(), Event{Kind: "launch"})
	time.Sleep(10 * time.Millisecond)

	if provider.callCount() != 0 {
		t.Errorf("disabled provider should not be dispatched to, got %d calls", provider.callCount())
	}
}

func TestBridge_CommandsMergesAcrossProviders(t *testing.T) {
	providerA := &fakeProvider{commands: []Command{{Name: "restart"}}}
	providerB := &fakeProvider{commands: []Command{{Name: "status"}}}

	factory := func(s domain.ChatSettings) (Provider, error) {
		if s.ID == "a" {
			return providerA, nil
		}
		return providerB, nil
	}

	bridge := New("inst-1", factory, clock.Fake(time.Now()), nil)
	if err := bridge.SetProviders([]domain.ChatSettings{
		{ID: "a", Enabled: true}, {ID: "b", Enabled: true},
	}); err != nil {
		t.Fatalf("SetProviders: %v", err)
	}

	commands := bridge.Commands(context.Background())
	if len(commands) != 2 {
		t.Fatalf("commands = %+v, want 2", commands)
	}
}

func TestBridge_CommandsSkipsErroringProvider(t *testing.T) {
	providerA := &fakeProvider{commandErr: fmt.Errorf("boom")}
	providerB := &fakeProvider{commands: []Command{{Name: "status"}}}

	factory := func(s domain.ChatSettings) (Provider, error) {
		if s.ID == "a" {
			return providerA, nil
		}
		return providerB, nil
	}

	bridge := New("inst-1", factory, clock.Fake(time.Now()), nil)
	if err := bridge.SetProviders([]domain.ChatSettings{
		{ID: "a", Enabled: true}, {ID: "b", Enabled: true},
	}); err != nil {
		t.Fatalf("SetProviders: %v", err)
	}

	commands := bridge.Commands(context.Background())
	if len(commands) != 1 || commands[0].Name != "status" {
		t.Errorf("commands = %+v, want only status", commands)
	}
}
