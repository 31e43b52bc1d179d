// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package compile runs compile jobs: taking an instance's repository
// working copy as it stands at its current head (no checkout is
// performed), invoking the instance's pinned
// compiler toolchain against its configured project, and committing
// the resulting artifact as a new deployment.
package compile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/gameward/gameward/internal/apperror"
	"github.com/gameward/gameward/internal/archive"
	"github.com/gameward/gameward/internal/contenthash"
	"github.com/gameward/gameward/internal/deployment"
	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/internal/job"
	"github.com/gameward/gameward/internal/procexec"
	"github.com/gameward/gameward/internal/repo"
	"github.com/gameward/gameward/internal/toolchain"
	"github.com/gameward/gameward/lib/clock"
)

// CompilerCommand invokes the compiler against one project, writing
// the artifact into outputDir. The compiler binary itself is an
// external collaborator: spec.md §1 scopes out the compiler toolchain
// internals, the same way toolchain.Installer scopes out the
// installer/extractor.
type CompilerCommand func(ctx context.Context, toolchainDir, repoDir, projectName, outputDir string) (artifactPath string, err error)

// CommandCompiler returns a CompilerCommand that shells out to the
// named program inside a toolchain version's installed directory
// (e.g. "DreamMaker"), passing it the project's .dme path and the
// output directory as arguments, via internal/procexec the same way
// internal/session.Controller launches the game-server binary itself.
func CommandCompiler(binaryName string) CompilerCommand {
	return func(ctx context.Context, toolchainDir, repoDir, projectName, outputDir string) (string, error) {
		if binaryName == "" {
			return "", apperror.Validation(apperror.CodeNone, "no compiler binary is configured")
		}

		handle, err := procexec.Start(procexec.Spec{
			Path: filepath.Join(toolchainDir, binaryName),
			Args: []string{filepath.Join(repoDir, projectName+".dme"), outputDir},
			Dir:  repoDir,
		})
		if err != nil {
			return "", fmt.Errorf("starting compiler: %w", err)
		}
		if err := handle.Wait(ctx); err != nil {
			return "", apperror.Wrap(apperror.KindInternal, apperror.CodeNone,
				"compiler exited with an error: "+string(handle.Output()), err)
		}
		return filepath.Join(outputDir, filepath.Base(projectName)+".dmb"), nil
	}
}

// Manager schedules compile jobs.
type Manager struct {
	engineFor   func(inst *domain.Instance) *repo.Engine
	toolchains  *toolchain.Manager
	deployments *deployment.Store
	jobs        *job.Manager
	compiler    CompilerCommand
	clock       clock.Clock
	logger      *slog.Logger
}

// New returns a Manager. toolchains must be non-nil: every compile
// job pins a compiler version by construction (unlike a launch, which
// may run unpinned).
func New(engineFor func(inst *domain.Instance) *repo.Engine, toolchains *toolchain.Manager,
	deployments *deployment.Store, jobs *job.Manager, compiler CompilerCommand, c clock.Clock, logger *slog.Logger) *Manager {

	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		engineFor:   engineFor,
		toolchains:  toolchains,
		deployments: deployments,
		jobs:        jobs,
		compiler:    compiler,
		clock:       c,
		logger:      logger,
	}
}

// Schedule registers a cancellable compile job for inst and returns its
// job ID, per spec.md §8's treatment of compile as a long-running
// operation reported the same way launch and move are.
func (m *Manager) Schedule(ctx context.Context, inst *domain.Instance, callerID string) (string, error) {
	if inst.Compile.ProjectName == "" {
		return "", apperror.Validation(apperror.CodeNone, "instance has no compile project configured")
	}
	if inst.Toolchain.Version == "" {
		return "", apperror.Validation(apperror.CodeNone, "instance has no pinned toolchain version to compile with")
	}
	engine := m.engineFor(inst)
	if engine == nil {
		return "", apperror.Internal(fmt.Errorf("compile: no repository engine for instance %s", inst.ID))
	}

	compileJob := &domain.Job{
		ID:              uuid.NewString(),
		InstanceID:      inst.ID,
		Description:     fmt.Sprintf("compile instance %s", inst.Name),
		StartedBy:       callerID,
		CancelRightType: domain.CancelRightInstance,
		CancelRight:     domain.RightCompile,
	}

	operation := func(opCtx context.Context, progress *job.Progress) error {
		dep, err := m.run(opCtx, inst, engine, progress)
		if err != nil {
			return err
		}
		m.deployments.Commit(dep)
		progress.Report(100)
		return nil
	}

	if err := m.jobs.Register(context.Background(), compileJob, operation); err != nil {
		return "", apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "registering compile job", err)
	}
	return compileJob.ID, nil
}

// run does the actual snapshot-acquire-invoke-archive sequence,
// returning the deployment to commit on success.
func (m *Manager) run(ctx context.Context, inst *domain.Instance, engine *repo.Engine, progress *job.Progress) (*domain.Deployment, error) {
	version := inst.Toolchain.Version

	if !m.toolchains.Installed(version) {
		if err := m.toolchains.Install(ctx, version); err != nil {
			return nil, fmt.Errorf("installing toolchain %s: %w", version, err)
		}
	}
	progress.Report(20)

	release, err := m.toolchains.Acquire(version)
	if err != nil {
		return nil, fmt.Errorf("acquiring toolchain %s: %w", version, err)
	}
	defer release()

	snapshot, err := engine.Snapshot(ctx, inst.Repository.OriginURL)
	if err != nil {
		return nil, fmt.Errorf("reading repository snapshot: %w", err)
	}
	progress.Report(30)

	depID := uuid.NewString()
	primaryDir, secondaryDir := m.deployments.StagingDirs(inst.ID, depID)
	if err := os.MkdirAll(primaryDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating primary staging directory: %w", err)
	}
	if err := os.MkdirAll(secondaryDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating secondary staging directory: %w", err)
	}

	artifactPath, err := m.compiler(ctx, m.toolchainDir(version), engine.Dir(), inst.Compile.ProjectName, primaryDir)
	if err != nil {
		return nil, fmt.Errorf("running compiler: %w", err)
	}
	progress.Report(80)

	minimumSecurity := inst.Compile.MinimumSecurityLevel
	if minimumSecurity == "" {
		minimumSecurity = domain.SecuritySafe
	}

	contentDigest, err := m.archiveArtifact(artifactPath, secondaryDir)
	if err != nil {
		return nil, err
	}
	progress.Report(95)

	return &domain.Deployment{
		ID:                   depID,
		InstanceID:           inst.ID,
		RevisionSHA:          snapshot.HeadSHA,
		OriginSHA:            snapshot.HeadSHA,
		MinimumSecurityLevel: minimumSecurity,
		CompilerVersion:      version,
		ArtifactName:         filepath.Base(artifactPath),
		ContentDigest:        contentDigest,
		PrimaryDir:           primaryDir,
		SecondaryDir:         secondaryDir,
		CreatedAt:            m.clock.Now(),
	}, nil
}

// toolchainDir mirrors toolchain.Manager's own cache layout so the
// compiler command can be resolved inside the installed version's
// directory without Manager needing to export its internals.
func (m *Manager) toolchainDir(version string) string {
	return filepath.Join(m.toolchains.CacheDir(), version)
}

// archiveArtifact packs the compiled artifact into the two tagged
// copies §4.8 describes: a zstd-compressed durable copy alongside the
// raw artifact (kept once promoted), and an lz4-compressed snapshot in
// the secondary staging directory (the fast pre-swap copy a hot-swap
// restores from). Returns the artifact's content digest.
func (m *Manager) archiveArtifact(artifactPath, secondaryDir string) (string, error) {
	raw, err := os.ReadFile(artifactPath)
	if err != nil {
		return "", fmt.Errorf("reading compiled artifact: %w", err)
	}

	promoted, err := archive.Compress(raw, deployment.ArchiveTagForPromotion)
	if err != nil {
		return "", fmt.Errorf("archiving promoted artifact: %w", err)
	}
	if err := os.WriteFile(artifactPath+".zst", promoted, 0o644); err != nil {
		return "", fmt.Errorf("writing promoted archive: %w", err)
	}

	staged, stagedTag, err := archive.CompressBest(raw, deployment.ArchiveTagForStaging)
	if err != nil {
		return "", fmt.Errorf("archiving staging snapshot: %w", err)
	}
	stagingName := filepath.Base(artifactPath) + "." + stagedTag.String()
	if err := os.WriteFile(filepath.Join(secondaryDir, stagingName), staged, 0o644); err != nil {
		return "", fmt.Errorf("writing staging archive: %w", err)
	}

	digest := contenthash.HashBytes(raw)
	return contenthash.Format(digest), nil
}
