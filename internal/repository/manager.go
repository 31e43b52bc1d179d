// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package repository exposes an instance's repo.Engine operations —
// clone, fetch, test-merge, and merge-origin — as on-demand,
// cancellable jobs, the same way internal/autoupdate exposes
// UpdateToOrigin on a schedule.
package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/gameward/gameward/internal/apperror"
	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/internal/job"
	"github.com/gameward/gameward/internal/repo"
)

// Manager schedules repository jobs against an instance's repo.Engine.
type Manager struct {
	engineFor func(inst *domain.Instance) *repo.Engine
	jobs      *job.Manager
	logger    *slog.Logger
}

// New returns a Manager.
func New(engineFor func(inst *domain.Instance) *repo.Engine, jobs *job.Manager, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{engineFor: engineFor, jobs: jobs, logger: logger}
}

func (m *Manager) register(ctx context.Context, inst *domain.Instance, callerID, description string, operation job.Operation) (string, error) {
	repoJob := &domain.Job{
		ID:              uuid.NewString(),
		InstanceID:      inst.ID,
		Description:     description,
		StartedBy:       callerID,
		CancelRightType: domain.CancelRightInstance,
		CancelRight:     domain.RightRepository,
	}

	// Detached from ctx for the same reason instance.Manager's
	// scheduleLaunch and scheduleRelocate are: the operation must
	// outlive the HTTP request that started it.
	if err := m.jobs.Register(context.Background(), repoJob, operation); err != nil {
		return "", apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "registering repository job", err)
	}
	return repoJob.ID, nil
}

// Clone schedules the instance's initial repository clone.
func (m *Manager) Clone(ctx context.Context, inst *domain.Instance, callerID string) (string, error) {
	if inst.Repository.OriginURL == "" {
		return "", apperror.Validation(apperror.CodeNone, "instance has no repository origin configured")
	}
	engine := m.engineFor(inst)
	if engine == nil {
		return "", apperror.Internal(fmt.Errorf("repository: no engine for instance %s", inst.ID))
	}

	operation := func(opCtx context.Context, progress *job.Progress) error {
		return engine.Clone(opCtx, inst.Repository.OriginURL, progress.Report)
	}
	return m.register(ctx, inst, callerID, fmt.Sprintf("clone repository for instance %s", inst.Name), operation)
}

// Fetch schedules a fetch of every ref from the configured origin.
func (m *Manager) Fetch(ctx context.Context, inst *domain.Instance, callerID string) (string, error) {
	engine := m.engineFor(inst)
	if engine == nil {
		return "", apperror.Internal(fmt.Errorf("repository: no engine for instance %s", inst.ID))
	}

	operation := func(opCtx context.Context, progress *job.Progress) error {
		return engine.FetchOrigin(opCtx, progress.Report)
	}
	return m.register(ctx, inst, callerID, fmt.Sprintf("fetch origin for instance %s", inst.Name), operation)
}

// MergeTestRevision schedules a test-merge of pull/<number>/head onto
// the current head.
func (m *Manager) MergeTestRevision(ctx context.Context, inst *domain.Instance, number int, targetSHA, callerID string) (string, error) {
	engine := m.engineFor(inst)
	if engine == nil {
		return "", apperror.Internal(fmt.Errorf("repository: no engine for instance %s", inst.ID))
	}

	operation := func(opCtx context.Context, progress *job.Progress) error {
		_, err := engine.MergeTestRevision(opCtx, number, targetSHA,
			inst.Repository.CommitterName, inst.Repository.CommitterEmail, progress.Report, nil)
		return err
	}
	return m.register(ctx, inst, callerID,
		fmt.Sprintf("test-merge pull request #%d for instance %s", number, inst.Name), operation)
}

// MergeOrigin schedules a fast-forward or merge of the tracked origin
// branch onto the current head.
func (m *Manager) MergeOrigin(ctx context.Context, inst *domain.Instance, branch, callerID string) (string, error) {
	engine := m.engineFor(inst)
	if engine == nil {
		return "", apperror.Internal(fmt.Errorf("repository: no engine for instance %s", inst.ID))
	}

	operation := func(opCtx context.Context, progress *job.Progress) error {
		_, err := engine.MergeOrigin(opCtx, branch, inst.Repository.CommitterName, inst.Repository.CommitterEmail,
			progress.Report, nil)
		return err
	}
	return m.register(ctx, inst, callerID, fmt.Sprintf("merge origin/%s for instance %s", branch, inst.Name), operation)
}
