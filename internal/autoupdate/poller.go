// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package autoupdate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/internal/job"
	"github.com/gameward/gameward/internal/repo"
	"github.com/gameward/gameward/lib/clock"
	"github.com/gameward/gameward/lib/cron"
)

// startedBy is the synthetic caller ID recorded on auto-update jobs.
// It never matches a real caller, so cancellation still requires the
// RightSetAutoUpdate right rather than job-ownership.
const startedBy = "autoupdate-poller"

// Lister returns the current set of instances to evaluate. Satisfied
// by internal/instance.Manager's List method.
type Lister interface {
	List() []*domain.Instance
}

// EngineFor returns the repository engine for inst. Engines are
// expected to be cached by the caller; the poller calls this once per
// tick per instance.
type EngineFor func(inst *domain.Instance) *repo.Engine

// Poller evaluates every instance's AutoUpdateCron expression once per
// tick and registers an auto-update job for any instance whose
// schedule is due.
type Poller struct {
	instances Lister
	engineFor EngineFor
	jobs      *job.Manager
	clock     clock.Clock
	logger    *slog.Logger

	mu        sync.Mutex
	schedules map[string]cron.Schedule // instance ID -> parsed AutoUpdateCron
	rawExprs  map[string]string        // instance ID -> expression the Schedule was parsed from
	nextRun   map[string]time.Time     // instance ID -> next due time
}

// New returns a Poller. instances and engineFor are consulted fresh on
// every tick, so configuration changes (editing AutoUpdateCron,
// attaching/detaching instances) take effect on the next tick without
// restarting the poller.
func New(instances Lister, engineFor EngineFor, jobs *job.Manager, c clock.Clock, logger *slog.Logger) *Poller {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Poller{
		instances: instances,
		engineFor: engineFor,
		jobs:      jobs,
		clock:     c,
		logger:    logger,
		schedules: make(map[string]cron.Schedule),
		rawExprs:  make(map[string]string),
		nextRun:   make(map[string]time.Time),
	}
}

// Run ticks every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick evaluates every instance's schedule once. Unexported; the
// package's tests call it directly for deterministic single-step
// control instead of Run's ticker.
func (p *Poller) tick(ctx context.Context) {
	now := p.clock.Now()

	p.mu.Lock()
	live := make(map[string]bool)
	for _, inst := range p.instances.List() {
		live[inst.ID] = true
		expression := inst.Repository.AutoUpdateCron

		if expression == "" {
			delete(p.schedules, inst.ID)
			delete(p.rawExprs, inst.ID)
			delete(p.nextRun, inst.ID)
			continue
		}

		schedule, ok := p.schedules[inst.ID]
		if !ok || p.rawExprs[inst.ID] != expression {
			parsed, err := cron.Parse(expression)
			if err != nil {
				p.logger.Warn("invalid auto-update cron expression", "instance_id", inst.ID, "expression", expression, "error", err)
				delete(p.schedules, inst.ID)
				delete(p.rawExprs, inst.ID)
				delete(p.nextRun, inst.ID)
				continue
			}
			schedule = parsed
			p.schedules[inst.ID] = schedule
			p.rawExprs[inst.ID] = expression
			// Arm the schedule from now rather than firing immediately
			// on the first tick after a cron expression is set.
			if next, err := schedule.Next(now); err == nil {
				p.nextRun[inst.ID] = next
			}
			continue
		}

		due, ok := p.nextRun[inst.ID]
		if !ok || now.Before(due) {
			continue
		}

		next, err := schedule.Next(now)
		if err != nil {
			p.logger.Warn("computing next auto-update time", "instance_id", inst.ID, "error", err)
		} else {
			p.nextRun[inst.ID] = next
		}

		p.register(ctx, inst)
	}

	for id := range p.schedules {
		if !live[id] {
			delete(p.schedules, id)
			delete(p.rawExprs, id)
			delete(p.nextRun, id)
		}
	}
	p.mu.Unlock()
}

func (p *Poller) register(ctx context.Context, inst *domain.Instance) {
	engine := p.engineFor(inst)
	if engine == nil {
		return
	}

	autoUpdateJob := &domain.Job{
		ID:              uuid.NewString(),
		InstanceID:      inst.ID,
		Description:     "scheduled repository auto-update for " + inst.Name,
		StartedBy:       startedBy,
		CancelRightType: domain.CancelRightInstance,
		CancelRight:     domain.RightSetAutoUpdate,
	}

	operation := func(ctx context.Context, progress *job.Progress) error {
		return engine.UpdateToOrigin(ctx, progress.Report, nil)
	}

	if err := p.jobs.Register(ctx, autoUpdateJob, operation); err != nil {
		p.logger.Error("registering auto-update job", "instance_id", inst.ID, "error", err)
	}
}
