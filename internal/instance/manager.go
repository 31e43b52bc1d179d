// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package instance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/gameward/gameward/internal/apperror"
	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/internal/job"
	"github.com/gameward/gameward/lib/clock"
)

// Store persists Instance records and their per-instance users.
type Store interface {
	CreateInstance(inst *domain.Instance) error
	SaveInstance(inst *domain.Instance) error
	DeleteInstance(id string) error
	GetInstance(id string) (*domain.Instance, bool)
	GetInstanceByPath(path string) (*domain.Instance, bool)
	ListInstances() []*domain.Instance
	GrantFullRights(instanceID, userID string) error
}

// Lifecycle starts and stops an instance's dependent services (the
// watchdog and everything it supervises) as part of the synchronous
// online/offline handoff.
type Lifecycle interface {
	GoOnline(ctx context.Context, inst *domain.Instance) error
	GoOffline(ctx context.Context, inst *domain.Instance) error
}

// ReattachCleaner removes an instance's persisted reattach record,
// invoked on detach.
type ReattachCleaner interface {
	ClearReattachRecords(inst *domain.Instance) error
}

// CreateOrAttachRequest are the inputs to CreateOrAttach.
type CreateOrAttachRequest struct {
	Name     string
	Path     string
	CallerID string
}

// ConfigUpdate carries the optional settings sub-objects an Update call
// may replace. A nil field leaves the corresponding setting unchanged.
type ConfigUpdate struct {
	Repository   *domain.RepositorySettings
	Toolchain    *domain.ToolchainSettings
	Launch       *domain.LaunchParameters
	Compile      *domain.CompileSettings
	ChatSettings []domain.ChatSettings
}

// UpdateRequest is the per-field update contract: each non-nil field
// demands the matching Rights bit in CallerRights.
type UpdateRequest struct {
	Rename        *string
	Relocate      *string
	SetOnline     *bool
	SetConfig     *ConfigUpdate
	SetAutoUpdate *bool

	CallerID     string
	CallerRights domain.Rights
}

// Manager implements create-or-attach, detach, update, list, and
// get-by-id over Instance records.
type Manager struct {
	store      Store
	installDir string
	jobs       *job.Manager
	lifecycle  Lifecycle
	reattach   ReattachCleaner
	clock      clock.Clock

	mu         sync.Mutex
	moveJobs   map[string]string // instanceID -> pending move job ID
	launchJobs map[string]string // instanceID -> pending launch job ID
}

// New returns a Manager. installDir is the controller's own install
// directory, validated against in CreateOrAttach's path-conflict check.
func New(store Store, installDir string, jobs *job.Manager, lifecycle Lifecycle,
	reattach ReattachCleaner, c clock.Clock) *Manager {

	if c == nil {
		c = clock.Real()
	}
	return &Manager{
		store:      store,
		installDir: filepath.Clean(installDir),
		jobs:       jobs,
		lifecycle:  lifecycle,
		reattach:   reattach,
		clock:      c,
		moveJobs:   make(map[string]string),
		launchJobs: make(map[string]string),
	}
}

// isWithin reports whether a equals b, a is under b, or b is under
// a — a bidirectional containment check used
// both for the install-directory whitelist and existing-instance
// conflict checks.
func isWithin(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b+string(filepath.Separator)) ||
		strings.HasPrefix(b, a+string(filepath.Separator))
}

// GetByID returns the instance with the given ID.
func (m *Manager) GetByID(id string) (*domain.Instance, bool) {
	return m.store.GetInstance(id)
}

// List returns every known instance.
func (m *Manager) List() []*domain.Instance {
	return m.store.ListInstances()
}

// CreateOrAttach validates and creates a new instance, or attaches to
// an existing directory left with the attach sentinel. isAttach reports
// which occurred.
func (m *Manager) CreateOrAttach(ctx context.Context, req CreateOrAttachRequest) (inst *domain.Instance, isAttach bool, err error) {
	if req.Name == "" {
		return nil, false, apperror.Validation(apperror.CodeNone, "instance name must not be empty")
	}
	if req.Path == "" {
		return nil, false, apperror.Validation(apperror.CodeNone, "instance path must not be empty")
	}

	path, err := filepath.Abs(req.Path)
	if err != nil {
		return nil, false, apperror.Wrap(apperror.KindValidation, apperror.CodeNone, "resolving instance path", err)
	}
	path = filepath.Clean(path)

	if isWithin(path, m.installDir) {
		return nil, false, apperror.ErrInstanceNotAtWhitelistedPath
	}

	for _, existing := range m.store.ListInstances() {
		if isWithin(path, filepath.Clean(existing.Path)) {
			return nil, false, apperror.ErrInstanceAtConflictingPath
		}
	}

	sentinelPath := filepath.Join(path, domain.AttachSentinel)
	entries, statErr := os.ReadDir(path)
	switch {
	case os.IsNotExist(statErr):
		// Fresh directory: create.
	case statErr != nil:
		return nil, false, apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "reading instance directory", statErr)
	case len(entries) == 0:
		// Empty existing directory: create.
	default:
		if _, sentinelErr := os.Stat(sentinelPath); sentinelErr != nil {
			return nil, false, apperror.ErrInstanceAtExistingPath
		}
		isAttach = true
	}

	now := m.clock.Now()
	inst = &domain.Instance{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Path:      path,
		State:     domain.InstanceOffline,
		AutoStart: true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "creating instance directory", err)
	}
	if isAttach {
		if err := os.Remove(sentinelPath); err != nil && !os.IsNotExist(err) {
			return nil, false, apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "removing attach sentinel", err)
		}
	}

	if err := m.store.CreateInstance(inst); err != nil {
		return nil, false, apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "persisting instance", err)
	}
	if err := m.store.GrantFullRights(inst.ID, req.CallerID); err != nil {
		return nil, false, apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "granting caller rights", err)
	}

	return inst, isAttach, nil
}

// Detach removes the instance record and marks its directory for
// future re-attachment. Fails if the instance is online.
func (m *Manager) Detach(ctx context.Context, instanceID string) error {
	inst, ok := m.store.GetInstance(instanceID)
	if !ok {
		return apperror.Gone(fmt.Sprintf("instance %s not found", instanceID))
	}
	if inst.State == domain.InstanceOnline {
		return apperror.ErrInstanceDetachOnline
	}

	sentinelPath := filepath.Join(inst.Path, domain.AttachSentinel)
	if err := os.WriteFile(sentinelPath, nil, 0o644); err != nil {
		return apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "writing attach sentinel", err)
	}

	if m.reattach != nil {
		if err := m.reattach.ClearReattachRecords(inst); err != nil {
			return apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "clearing reattach records", err)
		}
	}

	if err := m.store.DeleteInstance(instanceID); err != nil {
		return apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "deleting instance record", err)
	}
	return nil
}

// Update applies the per-field changes in req, checking the matching
// Rights bit for each one. Relocate and SetOnline(true) each schedule
// a background job and return immediately, leaving the affected state
// unchanged until their job completes; the returned launchJobID is set
// only when this call started a launch job, so the caller can surface
// it (202 + job id) instead of the instance's (as yet unstarted) new
// state. SetOnline(false) still performs a synchronous lifecycle
// handoff.
func (m *Manager) Update(ctx context.Context, instanceID string, req UpdateRequest) (inst *domain.Instance, launchJobID string, err error) {
	inst, ok := m.store.GetInstance(instanceID)
	if !ok {
		return nil, "", apperror.Gone(fmt.Sprintf("instance %s not found", instanceID))
	}

	if req.Rename != nil {
		if !req.CallerRights.Has(domain.RightRename) {
			return nil, "", apperror.Forbidden("caller lacks the rename right")
		}
		inst.Name = *req.Rename
	}

	if req.SetConfig != nil {
		if !req.CallerRights.Has(domain.RightSetConfig) {
			return nil, "", apperror.Forbidden("caller lacks the set-config right")
		}
		applyConfigUpdate(inst, req.SetConfig)
	}

	if req.SetAutoUpdate != nil {
		if !req.CallerRights.Has(domain.RightSetAutoUpdate) {
			return nil, "", apperror.Forbidden("caller lacks the set-autoupdate right")
		}
		inst.Repository.AutoUpdatesKeepTest = *req.SetAutoUpdate
	}

	if req.Relocate != nil {
		if !req.CallerRights.Has(domain.RightRelocate) {
			return nil, "", apperror.Forbidden("caller lacks the relocate right")
		}
		if err := m.scheduleRelocate(ctx, inst, *req.Relocate, req.CallerID); err != nil {
			return nil, "", err
		}
	}

	if req.SetOnline != nil {
		if !req.CallerRights.Has(domain.RightSetOnline) {
			return nil, "", apperror.Forbidden("caller lacks the set-online right")
		}
		if *req.SetOnline {
			jobID, err := m.scheduleLaunch(ctx, inst, req.CallerID)
			if err != nil {
				return nil, "", err
			}
			launchJobID = jobID
		} else if err := m.toggleOffline(ctx, inst); err != nil {
			return nil, "", err
		}
	}

	inst.UpdatedAt = m.clock.Now()
	if err := m.store.SaveInstance(inst); err != nil {
		return nil, "", apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "persisting instance update", err)
	}
	return inst, launchJobID, nil
}

func applyConfigUpdate(inst *domain.Instance, update *ConfigUpdate) {
	if update.Repository != nil {
		inst.Repository = *update.Repository
	}
	if update.Toolchain != nil {
		inst.Toolchain = *update.Toolchain
	}
	if update.Launch != nil {
		inst.Launch = *update.Launch
	}
	if update.Compile != nil {
		inst.Compile = *update.Compile
	}
	if update.ChatSettings != nil {
		inst.ChatSettings = update.ChatSettings
	}
}

// toggleOffline performs the synchronous shutdown handoff on the
// caller's context. The watchdog's Terminate asks the game server to
// stop gracefully and force-kills it only once ctx is done, so ctx
// bounds how long this blocks. Unlike launch it is not run as a
// cancellable job.
func (m *Manager) toggleOffline(ctx context.Context, inst *domain.Instance) error {
	if inst.State != domain.InstanceOnline {
		return nil
	}
	if m.lifecycle != nil {
		if err := m.lifecycle.GoOffline(ctx, inst); err != nil {
			return apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "stopping instance", err)
		}
	}
	inst.State = domain.InstanceOffline
	return nil
}

// scheduleLaunch registers a cancellable job that runs the online
// lifecycle handoff, per spec.md's Job-cancel scenario: cancelling the
// job before startup completes must return the instance to Offline
// with no process left running, rather than merely abandoning an
// in-flight synchronous call. A pending launch job for this instance
// is cancelled first, enforcing at most one in-flight launch per
// instance (mirroring scheduleRelocate's move-job bookkeeping).
func (m *Manager) scheduleLaunch(ctx context.Context, inst *domain.Instance, callerID string) (string, error) {
	if inst.State == domain.InstanceOnline {
		return "", nil
	}

	m.mu.Lock()
	if existingJobID, ok := m.launchJobs[inst.ID]; ok {
		if existing, found := m.jobs.Get(existingJobID); found && !existing.State.IsTerminal() {
			m.mu.Unlock()
			if _, err := m.jobs.Cancel(existingJobID, callerID, nil); err != nil {
				return "", apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "cancelling pending launch job", err)
			}
			m.mu.Lock()
		}
	}
	defer m.mu.Unlock()

	launchJob := &domain.Job{
		ID:              uuid.NewString(),
		InstanceID:      inst.ID,
		Description:     fmt.Sprintf("launch instance %s", inst.Name),
		StartedBy:       callerID,
		CancelRightType: domain.CancelRightInstance,
		CancelRight:     domain.RightLaunchSession,
	}

	operation := func(opCtx context.Context, progress *job.Progress) error {
		originalAutoStart := inst.AutoStart
		inst.AutoStart = false
		if m.lifecycle != nil {
			if err := m.lifecycle.GoOnline(opCtx, inst); err != nil {
				inst.AutoStart = originalAutoStart
				return apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "starting instance", err)
			}
		}
		inst.AutoStart = originalAutoStart
		inst.State = domain.InstanceOnline
		inst.UpdatedAt = m.clock.Now()
		progress.Report(100)
		return m.store.SaveInstance(inst)
	}

	// Registered against a detached context rather than the caller's
	// request context: the job's goroutine must outlive the HTTP
	// handler that started it, and net/http cancels a request's
	// context the moment ServeHTTP returns. Cancellation is still
	// caller-controlled, through Job.Manager.Cancel's own per-job
	// context.
	if err := m.jobs.Register(context.Background(), launchJob, operation); err != nil {
		return "", apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "registering launch job", err)
	}
	m.launchJobs[inst.ID] = launchJob.ID
	return launchJob.ID, nil
}

// scheduleRelocate validates the relocate preconditions and registers
// a move job. A pending move job for this instance is cancelled first,
// enforcing the at-most-one-move-job-per-instance invariant.
func (m *Manager) scheduleRelocate(ctx context.Context, inst *domain.Instance, newPath, callerID string) error {
	if inst.State == domain.InstanceOnline {
		return apperror.ErrInstanceRelocateOnline
	}

	newPath, err := filepath.Abs(newPath)
	if err != nil {
		return apperror.Wrap(apperror.KindValidation, apperror.CodeNone, "resolving relocation target", err)
	}
	newPath = filepath.Clean(newPath)

	if _, statErr := os.Stat(newPath); statErr == nil {
		entries, readErr := os.ReadDir(newPath)
		if readErr != nil || len(entries) != 0 {
			return apperror.ErrInstanceAtExistingPath
		}
	} else if !os.IsNotExist(statErr) {
		return apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "checking relocation target", statErr)
	}

	m.mu.Lock()
	if existingJobID, ok := m.moveJobs[inst.ID]; ok {
		if existing, found := m.jobs.Get(existingJobID); found && !existing.State.IsTerminal() {
			m.mu.Unlock()
			if _, err := m.jobs.Cancel(existingJobID, callerID, nil); err != nil {
				return apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "cancelling pending move job", err)
			}
			m.mu.Lock()
		}
	}
	defer m.mu.Unlock()

	oldPath := inst.Path
	moveJob := &domain.Job{
		ID:              uuid.NewString(),
		InstanceID:      inst.ID,
		Description:     fmt.Sprintf("relocate instance %s to %s", inst.Name, newPath),
		StartedBy:       callerID,
		CancelRightType: domain.CancelRightInstance,
		CancelRight:     domain.RightRelocate,
	}

	operation := func(ctx context.Context, progress *job.Progress) error {
		if err := os.Rename(oldPath, newPath); err != nil {
			return apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "moving instance directory", err)
		}
		progress.Report(100)
		inst.Path = newPath
		return m.store.SaveInstance(inst)
	}

	// Detached from ctx for the same reason scheduleLaunch is: the
	// request context that reached us here dies with the HTTP handler,
	// long before a directory move finishes.
	if err := m.jobs.Register(context.Background(), moveJob, operation); err != nil {
		return apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "registering move job", err)
	}
	m.moveJobs[inst.ID] = moveJob.ID
	return nil
}
