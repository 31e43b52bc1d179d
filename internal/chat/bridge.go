// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/lib/clock"
)

// Role classifies which channel an event belongs to. Providers map
// roles to their own channel identifiers; the bridge only carries the
// classification.
type Role string

const (
	RoleWatchdog Role = "watchdog"
	RoleDev      Role = "dev"
	RoleAdmin    Role = "admin"
	RoleGame     Role = "game"
)

// Event is one notable occurrence delivered to chat: a repository
// fetch/merge/conflict, a deployment start/success/failure, a watchdog
// launch/crash.
type Event struct {
	InstanceID string
	Role       Role
	Kind       string
	Args       []string
	At         time.Time
}

// Command is a custom command reported by a provider that implements
// CommandSource, exposed to chat users as a slash-command-like shortcut.
type Command struct {
	Name        string
	Description string
}

// Provider is one chat backend adapter (webhook, gateway, ...).
// Implementations live in internal/chat/webhook and
// internal/chat/gateway.
type Provider interface {
	Deliver(ctx context.Context, event Event) error
}

// CommandSource is implemented by providers that can also receive
// inbound custom commands (the gateway's duplex channel; the webhook
// adapter is send-only and does not implement this).
type CommandSource interface {
	Commands(ctx context.Context) ([]Command, error)
}

// ProviderFactory builds the concrete Provider for one ChatSettings
// entry.
type ProviderFactory func(settings domain.ChatSettings) (Provider, error)

const (
	maxRetryAttempts  = 5
	defaultBackoffMin = time.Second
	defaultBackoffMax = time.Minute
	deliverTimeout    = 15 * time.Second
)

type boundProvider struct {
	settings domain.ChatSettings
	provider Provider
}

// Bridge fans out events to one instance's configured chat providers.
// Re-materializing the provider set (SetProviders) replaces adapters
// whose settings changed and tears down ones that were removed.
type Bridge struct {
	instanceID string
	factory    ProviderFactory
	clock      clock.Clock
	logger     *slog.Logger

	mu        sync.Mutex
	providers map[string]boundProvider // ChatSettings.ID -> bound provider
}

// New returns a Bridge with no providers configured.
func New(instanceID string, factory ProviderFactory, c clock.Clock, logger *slog.Logger) *Bridge {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bridge{
		instanceID: instanceID,
		factory:    factory,
		clock:      c,
		logger:     logger,
		providers:  make(map[string]boundProvider),
	}
}

// SetProviders re-materializes the provider set from the instance's
// current chat settings. Disabled entries and removed entries are torn
// down; new and changed entries are rebuilt via the factory.
func (b *Bridge) SetProviders(settings []domain.ChatSettings) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make(map[string]boundProvider, len(settings))
	for _, s := range settings {
		if !s.Enabled {
			continue
		}
		if existing, ok := b.providers[s.ID]; ok && reflect.DeepEqual(existing.settings, s) {
			next[s.ID] = existing
			continue
		}
		provider, err := b.factory(s)
		if err != nil {
			return err
		}
		next[s.ID] = boundProvider{settings: s, provider: provider}
	}
	for id, old := range b.providers {
		if kept, ok := next[id]; ok && kept.provider == old.provider {
			continue
		}
		if closer, ok := old.provider.(interface{ Close() error }); ok {
			closer.Close()
		}
	}
	b.providers = next
	return nil
}

// Dispatch delivers event to every configured provider concurrently.
// Each provider's delivery is isolated: a failing provider is retried
// in its own goroutine with bounded exponential backoff and never
// blocks or fails delivery to the others.
func (b *Bridge) Dispatch(ctx context.Context, event Event) {
	event.InstanceID = b.instanceID

	b.mu.Lock()
	providers := make([]boundProvider, 0, len(b.providers))
	for _, p := range b.providers {
		providers = append(providers, p)
	}
	b.mu.Unlock()

	for _, p := range providers {
		go b.deliverWithRetry(ctx, p, event)
	}
}

func (b *Bridge) deliverWithRetry(ctx context.Context, p boundProvider, event Event) {
	backoff := NewBackoff(defaultBackoffMin, defaultBackoffMax)

	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		deliverCtx, cancel := context.WithTimeout(ctx, deliverTimeout)
		err := p.provider.Deliver(deliverCtx, event)
		cancel()
		if err == nil {
			return
		}

		b.logger.Warn("chat provider delivery failed",
			"instance_id", b.instanceID,
			"provider_id", p.settings.ID,
			"event_kind", event.Kind,
			"attempt", attempt+1,
			"error", err,
		)

		if attempt == maxRetryAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-b.clock.After(backoff.Next()):
		}
	}

	b.logger.Error("chat provider delivery abandoned after bounded retries",
		"instance_id", b.instanceID,
		"provider_id", p.settings.ID,
		"event_kind", event.Kind,
	)
}

// Commands returns the custom commands sourced from every provider
// that implements CommandSource, merged into one list. A provider that
// errors is skipped; it does not fail the others.
func (b *Bridge) Commands(ctx context.Context) []Command {
	b.mu.Lock()
	providers := make([]boundProvider, 0, len(b.providers))
	for _, p := range b.providers {
		providers = append(providers, p)
	}
	b.mu.Unlock()

	var commands []Command
	for _, p := range providers {
		source, ok := p.provider.(CommandSource)
		if !ok {
			continue
		}
		found, err := source.Commands(ctx)
		if err != nil {
			b.logger.Warn("chat provider command source failed",
				"instance_id", b.instanceID,
				"provider_id", p.settings.ID,
				"error", err,
			)
			continue
		}
		commands = append(commands, found...)
	}
	return commands
}
