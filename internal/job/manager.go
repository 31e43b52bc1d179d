// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package job

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gameward/gameward/internal/apperror"
	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/lib/clock"
)

// Operation is the long-running work a job runs. It receives a
// Progress handle for reporting and polling cancellation, and must
// return promptly once ctx is cancelled or Progress.Cancelled() is
// true, rolling back partial effects where its own component defines
// rollback.
type Operation func(ctx context.Context, progress *Progress) error

// Progress is the cooperative-cancellation and progress-reporting
// handle an Operation receives.
type Progress struct {
	job *domain.Job
	mu  *sync.Mutex
	ctx context.Context
}

// Report sets the job's progress to value, clamped to be monotonic
// non-decreasing and at most 100.
func (p *Progress) Report(value int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.job.Progress = p.job.Clamp(value)
}

// Cancelled reports whether cancellation has been requested. Operations
// should poll this (or ctx.Done()) at network callback boundaries and
// before/after file-system batches, per spec.md §5.
func (p *Progress) Cancelled() bool {
	select {
	case <-p.ctx.Done():
		return true
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.job.CancellationRequested
}

// Store persists jobs before they start and on terminal transitions.
// internal/store implements this over SQLite; tests can use an
// in-memory fake.
type Store interface {
	SaveJob(job *domain.Job) error
}

// defaultAbandonTimeout bounds how long Cancel waits for a cooperative
// operation to actually stop before marking the job abandoned and
// releasing its slot, per spec.md §4.2.
const defaultAbandonTimeout = 30 * time.Second

// Manager schedules, tracks, and cancels jobs.
type Manager struct {
	store         Store
	clock         clock.Clock
	abandonAfter  time.Duration

	mu      sync.Mutex
	jobs    map[string]*domain.Job
	cancels map[string]context.CancelFunc
	nextID  atomic.Int64
}

// New returns an empty Manager.
func New(store Store, c clock.Clock) *Manager {
	if c == nil {
		c = clock.Real()
	}
	return &Manager{
		store:        store,
		clock:        c,
		abandonAfter: defaultAbandonTimeout,
		jobs:         make(map[string]*domain.Job),
		cancels:      make(map[string]context.CancelFunc),
	}
}

// Register persists job in the Registered/Running state and starts
// operation asynchronously. Registration itself is synchronous; the
// operation runs in its own goroutine.
func (m *Manager) Register(ctx context.Context, job *domain.Job, operation Operation) error {
	job.State = domain.JobRegistered
	job.StartedAt = m.clock.Now()

	if err := m.store.SaveJob(job); err != nil {
		return fmt.Errorf("persisting job %s: %w", job.ID, err)
	}

	jobCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.cancels[job.ID] = cancel
	job.State = domain.JobRunning
	m.mu.Unlock()

	go m.run(jobCtx, job, operation)

	return nil
}

func (m *Manager) run(ctx context.Context, job *domain.Job, operation Operation) {
	var mu sync.Mutex
	progress := &Progress{job: job, mu: &mu, ctx: ctx}

	err := operation(ctx, progress)

	m.mu.Lock()
	defer m.mu.Unlock()

	stoppedAt := m.clock.Now()
	job.StoppedAt = &stoppedAt
	delete(m.cancels, job.ID)

	switch {
	case job.CancellationRequested && ctx.Err() != nil:
		job.State = domain.JobCancelled
	case err != nil:
		job.State = domain.JobErrored
		job.ErrorMessage = err.Error()
		if appErr, ok := asAppError(err); ok {
			job.ErrorKind = string(appErr.Kind)
		} else {
			job.ErrorKind = "Internal"
		}
	default:
		job.State = domain.JobCompleted
		job.Progress = 100
	}

	if saveErr := m.store.SaveJob(job); saveErr != nil {
		// The in-memory record still reflects the true terminal
		// state; only the persisted copy may lag until next save.
		_ = saveErr
	}
}

func asAppError(err error) (*apperror.Error, bool) {
	appErr, ok := err.(*apperror.Error)
	return appErr, ok
}

// Authorizer checks whether a caller may cancel a job, per spec.md
// §4.2: caller holds cancel-right-type ∋ cancel-right, or caller is
// started-by.
type Authorizer interface {
	HasRight(callerID string, rightType domain.CancelRightType, right domain.Rights) bool
}

// Cancel requests cancellation of jobID. If the job is already
// terminal, Cancel is a no-op returning the terminal record (per
// spec.md §8's idempotence property). If the operation does not stop
// within the abandon timeout, the job is marked abandoned and its slot
// released — but the underlying goroutine keeps running to whatever
// conclusion it reaches on its own.
func (m *Manager) Cancel(jobID, callerID string, authorizer Authorizer) (*domain.Job, error) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return nil, apperror.Gone(fmt.Sprintf("job %s not found", jobID))
	}
	if job.State.IsTerminal() {
		m.mu.Unlock()
		return job, nil
	}

	authorized := job.StartedBy == callerID
	if !authorized && authorizer != nil {
		authorized = authorizer.HasRight(callerID, job.CancelRightType, job.CancelRight)
	}
	if !authorized {
		m.mu.Unlock()
		return nil, apperror.Forbidden("caller does not hold the job's cancel right")
	}

	job.CancellationRequested = true
	cancel := m.cancels[jobID]
	abandonAfter := m.abandonAfter
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	deadline := time.NewTimer(abandonAfter)
	defer deadline.Stop()
	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-deadline.C:
			m.mu.Lock()
			if !job.State.IsTerminal() {
				job.State = domain.JobAbandoned
				delete(m.cancels, jobID)
			}
			result := job
			m.mu.Unlock()
			return result, nil
		case <-poll.C:
			m.mu.Lock()
			terminal := job.State.IsTerminal()
			result := job
			m.mu.Unlock()
			if terminal {
				return result, nil
			}
		}
	}
}

// Get returns a job by ID.
func (m *Manager) Get(jobID string) (*domain.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	return job, ok
}

// List returns every job matching filter. A nil filter matches all.
func (m *Manager) List(filter func(*domain.Job) bool) []*domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*domain.Job
	for _, job := range m.jobs {
		if filter == nil || filter(job) {
			result = append(result, job)
		}
	}
	return result
}

// MarkOrphansCancelled transitions every job still Running at daemon
// start (whose owning component cannot resume it) to Errored with
// ErrorKind "Cancelled", per spec.md §4.2's restart-recovery rule.
// Call once during startup after loading persisted jobs into the
// manager via a store-specific path, before any new Register calls.
func (m *Manager) MarkOrphansCancelled(jobs []*domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for _, job := range jobs {
		if job.State.IsTerminal() {
			continue
		}
		job.State = domain.JobErrored
		job.ErrorKind = "Cancelled"
		job.StoppedAt = &now
		m.jobs[job.ID] = job
		m.store.SaveJob(job) //nolint:errcheck
	}
}
