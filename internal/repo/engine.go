// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gameward/gameward/internal/apperror"
	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/lib/git"
)

// Reporter receives monotonic progress in [0, 100]. Callers typically
// pass a closure over an internal/job progress handle.
type Reporter func(percent int)

func noopReporter(int) {}

// Event is one notable occurrence an operation wants surfaced to the
// chat bridge or the operation log, independent of its return value.
type Event struct {
	Kind string
	Args []string
}

// Sink receives Events as they occur. A nil Sink is valid and discards
// events.
type Sink func(Event)

func (s Sink) emit(event Event) {
	if s != nil {
		s(event)
	}
}

// Engine wraps one instance's working copy. All mutating operations
// are serialised by mu; IsSHA takes the same lock so it never reads a
// half-finished checkout.
type Engine struct {
	repo *git.Repository
	mu   sync.Mutex
}

// New returns an Engine over the working copy at dir.
func New(dir string) *Engine {
	return &Engine{repo: git.NewRepository(dir)}
}

// Dir returns the working copy directory.
func (e *Engine) Dir() string { return e.repo.Dir() }

// Clone performs the initial clone of originURL into the engine's
// directory. The directory must already exist and be empty; git
// handles that validation itself.
func (e *Engine) Clone(ctx context.Context, originURL string, report Reporter) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if report == nil {
		report = noopReporter
	}

	report(0)
	if _, err := e.repo.Run(ctx, "clone", "--progress", originURL, "."); err != nil {
		return fmt.Errorf("cloning %s: %w", originURL, err)
	}
	report(100)
	return nil
}

// FetchOrigin fetches all refs from the configured origin remote.
func (e *Engine) FetchOrigin(ctx context.Context, report Reporter) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if report == nil {
		report = noopReporter
	}

	report(0)
	if _, err := e.repo.Run(ctx, "fetch", "--progress", "origin"); err != nil {
		return fmt.Errorf("fetching origin: %w", err)
	}
	report(100)
	return nil
}

// Checkout checks out committish, detaching HEAD unless committish
// names a local branch.
func (e *Engine) Checkout(ctx context.Context, committish string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.repo.Run(ctx, "checkout", "--force", committish); err != nil {
		return fmt.Errorf("checking out %s: %w", committish, err)
	}
	return e.cleanUntracked(ctx)
}

// ResetToSHA hard-resets the working tree to sha and removes untracked
// files, leaving a clean tree per the repository snapshot invariant.
func (e *Engine) ResetToSHA(ctx context.Context, sha string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resetHardLocked(ctx, sha)
}

// ResetToOrigin hard-resets to the tip of the tracked origin branch.
func (e *Engine) ResetToOrigin(ctx context.Context, branch string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resetHardLocked(ctx, "origin/"+branch)
}

func (e *Engine) resetHardLocked(ctx context.Context, committish string) error {
	if _, err := e.repo.Run(ctx, "reset", "--hard", committish); err != nil {
		return fmt.Errorf("resetting to %s: %w", committish, err)
	}
	return e.cleanUntracked(ctx)
}

func (e *Engine) cleanUntracked(ctx context.Context) error {
	if _, err := e.repo.Run(ctx, "clean", "-fdx"); err != nil {
		return fmt.Errorf("cleaning untracked files: %w", err)
	}
	return nil
}

// headSHA returns the current HEAD commit SHA.
func (e *Engine) headSHA(ctx context.Context) (string, error) {
	out, err := e.repo.Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (e *Engine) headRef(ctx context.Context) (string, error) {
	out, err := e.repo.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving HEAD ref: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// MergeResult is the outcome of MergeTestRevision, matching the
// three-valued semantic the contract specifies: nil pointer means
// conflict (reverted), FastForward true/false otherwise.
type MergeResult struct {
	FastForward bool
}

// MergeTestRevision fetches pull/<number>/head, merges it onto the
// current head without allowing a fast-forward, and rolls the working
// tree back to the pre-merge head on conflict.
//
// Returns (nil, nil) on conflict (semantic: conflict, Sink receives a
// "RepoMergeConflict" event), (*MergeResult, nil) on success.
func (e *Engine) MergeTestRevision(ctx context.Context, number int, targetSHA string,
	committerName, committerEmail string, report Reporter, sink Sink) (*MergeResult, error) {

	e.mu.Lock()
	defer e.mu.Unlock()
	if report == nil {
		report = noopReporter
	}

	if err := e.cleanUntracked(ctx); err != nil {
		return nil, fmt.Errorf("cleaning untracked files before merge: %w", err)
	}

	preMergeSHA, err := e.headSHA(ctx)
	if err != nil {
		return nil, err
	}
	preMergeRef, err := e.headRef(ctx)
	if err != nil {
		return nil, err
	}

	branchName := fmt.Sprintf("pr-%d", number)
	defer e.repo.Run(ctx, "branch", "-D", branchName) //nolint:errcheck

	refspec := fmt.Sprintf("pull/%d/head:%s", number, branchName)
	if _, err := e.repo.Run(ctx, "fetch", "--progress", "origin", refspec); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", refspec, err)
	}
	report(50)

	resolved := targetSHA
	if resolved == "" {
		resolved, err = e.headSHAOf(ctx, branchName)
		if err != nil {
			return nil, err
		}
	}

	if _, err := e.repo.Run(ctx, "-c", "user.name="+committerName, "-c", "user.email="+committerEmail,
		"merge", "--no-ff", "--no-commit", "-X", "no-renames", resolved); err != nil {
		// Conflict: reset hard to the recorded pre-merge head and
		// report the semantic-conflict outcome rather than bubbling
		// git's error text.
		if resetErr := e.resetHardLocked(ctx, preMergeSHA); resetErr != nil {
			return nil, fmt.Errorf("rolling back after merge conflict: %w", resetErr)
		}
		sink.emit(Event{Kind: "RepoMergeConflict",
			Args: []string{preMergeSHA, resolved, preMergeRef, branchName}})
		return nil, nil
	}
	report(75)

	mergeHeadBefore, err := e.headSHA(ctx)
	if err != nil {
		return nil, err
	}

	fastForward := mergeHeadBefore == resolved
	if !fastForward {
		if _, err := e.repo.Run(ctx, "-c", "user.name="+committerName, "-c", "user.email="+committerEmail,
			"commit", "-m", fmt.Sprintf("Test merge pull request #%d", number)); err != nil {
			return nil, fmt.Errorf("committing merge: %w", err)
		}
	}

	if err := e.cleanUntracked(ctx); err != nil {
		return nil, err
	}
	report(100)

	sink.emit(Event{Kind: "RepoMergePullRequest", Args: []string{fmt.Sprint(number), resolved}})
	return &MergeResult{FastForward: fastForward}, nil
}

func (e *Engine) headSHAOf(ctx context.Context, ref string) (string, error) {
	out, err := e.repo.Run(ctx, "rev-parse", ref)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", ref, err)
	}
	return strings.TrimSpace(out), nil
}

// MergeOrigin fast-forwards or merges the tracked origin branch onto
// the current head, using the same conflict-rollback discipline as
// MergeTestRevision.
func (e *Engine) MergeOrigin(ctx context.Context, branch, committerName, committerEmail string,
	report Reporter, sink Sink) (*MergeResult, error) {
	return e.MergeTestRevision(ctx, 0, "origin/"+branch, committerName, committerEmail, report, sink)
}

// SynchronizeBack pushes the current head back to origin. Returns
// false (never an error to the caller) when there are no credentials,
// the push is a non-fast-forward, or git reports any other failure —
// synchronize failures are logged by the caller, not raised.
func (e *Engine) SynchronizeBack(ctx context.Context, hasCredentials bool,
	committerName, committerEmail string, veto func() bool) bool {

	e.mu.Lock()
	defer e.mu.Unlock()

	if !hasCredentials {
		return false
	}

	if committerName != "" {
		e.repo.Run(ctx, "config", "user.name", committerName)   //nolint:errcheck
		e.repo.Run(ctx, "config", "user.email", committerEmail) //nolint:errcheck
	}

	if veto != nil && veto() {
		if preMergeSHA, err := e.headSHA(ctx); err == nil {
			e.resetHardLocked(ctx, preMergeSHA) //nolint:errcheck
		}
		return false
	}

	if _, err := e.repo.Run(ctx, "push", "origin", "HEAD"); err != nil {
		return false
	}
	return true
}

// SynchronizeBackTemporary pushes the current working-tree state to a
// throwaway branch on origin and deletes it immediately afterward, so
// origin observes the exact tree without moving the tracked branch.
func (e *Engine) SynchronizeBackTemporary(ctx context.Context, tempBranch string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.repo.Run(ctx, "push", "origin", "HEAD:refs/heads/"+tempBranch, "--force"); err != nil {
		return false
	}
	_, _ = e.repo.Run(ctx, "push", "origin", "--delete", tempBranch)
	return true
}

// UpdateToOrigin fetches origin and hard-resets the current tracked
// branch to origin's tip, per the repository auto-update operation;
// local commits not on origin are discarded. HEAD must be on a
// tracked local branch, not detached.
func (e *Engine) UpdateToOrigin(ctx context.Context, report Reporter, sink Sink) error {
	if err := e.FetchOrigin(ctx, noopReporter); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if report == nil {
		report = noopReporter
	}

	branch, err := e.headRef(ctx)
	if err != nil {
		return err
	}
	if branch == "HEAD" {
		return apperror.Internal(fmt.Errorf("auto-update: HEAD is detached, no tracked branch to update"))
	}

	before, err := e.headSHA(ctx)
	if err != nil {
		return err
	}
	report(50)

	if err := e.resetHardLocked(ctx, "origin/"+branch); err != nil {
		return err
	}

	after, err := e.headSHA(ctx)
	if err != nil {
		return err
	}
	if after != before {
		sink.emit(Event{Kind: "RepoAutoUpdated", Args: []string{before, after, branch}})
	}
	report(100)
	return nil
}

// IsSHA reports whether committish resolves to a commit and only a
// commit — not a tag or branch name that happens to also be a valid
// SHA prefix.
func (e *Engine) IsSHA(ctx context.Context, committish string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.repo.Run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+committish); err == nil {
		return false, nil
	}
	if _, err := e.repo.Run(ctx, "show-ref", "--verify", "--quiet", "refs/tags/"+committish); err == nil {
		return false, nil
	}
	out, err := e.repo.Run(ctx, "cat-file", "-t", committish)
	if err != nil {
		return false, fmt.Errorf("resolving object type of %s: %w", committish, err)
	}
	return strings.TrimSpace(out) == "commit", nil
}

// Snapshot reads the repository's current observable state.
func (e *Engine) Snapshot(ctx context.Context, originURL string) (domain.RepositorySnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sha, err := e.headSHA(ctx)
	if err != nil {
		return domain.RepositorySnapshot{}, err
	}
	ref, err := e.headRef(ctx)
	if err != nil {
		return domain.RepositorySnapshot{}, err
	}

	isTracking := ref != "HEAD"
	return domain.RepositorySnapshot{
		OriginURL:         originURL,
		HeadSHA:           sha,
		ReferenceFriendly: ref,
		IsTrackingBranch:  isTracking,
	}, nil
}

// ensureClean is called by tests that want to assert the §8 testable
// property directly: after any mutating op completes, no untracked
// files remain.
func (e *Engine) ensureClean(ctx context.Context) error {
	out, err := e.repo.Run(ctx, "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("checking working tree status: %w", err)
	}
	if strings.TrimSpace(out) != "" {
		return apperror.Internal(fmt.Errorf("working tree not clean after operation: %q", out))
	}
	return nil
}
