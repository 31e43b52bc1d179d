// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package compile

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/gameward/gameward/internal/deployment"
	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/internal/job"
	"github.com/gameward/gameward/internal/repo"
	"github.com/gameward/gameward/internal/toolchain"
	"github.com/gameward/gameward/lib/clock"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available in PATH")
	}
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

// seedProjectRepo creates an origin repository containing a single
// trivial project file, the way a DreamMaker project's .dme would sit
// at the root of a real codebase checkout.
func seedProjectRepo(t *testing.T, projectName string) string {
	t.Helper()
	origin := t.TempDir()
	runGit(t, origin, "init", "-b", "main")
	if err := os.WriteFile(filepath.Join(origin, projectName+".dme"), []byte("// project"), 0o644); err != nil {
		t.Fatal(err)
	}
	runGit(t, origin, "add", projectName+".dme")
	runGit(t, origin, "commit", "-m", "seed project")
	return origin
}

// noopInstaller treats every version as already fetched without doing
// any real network I/O, mirroring how internal/controller's launch
// tests stand in for the real installer.
func noopInstaller(ctx context.Context, version, dir string) error {
	return nil
}

// fakeCompiler writes a trivial non-empty artifact into outputDir,
// standing in for a real DreamMaker invocation the way
// internal/controller/manager_test.go's writeSleepScript stands in for
// the real game-server binary.
func fakeCompiler(t *testing.T, content string) CompilerCommand {
	return func(ctx context.Context, toolchainDir, repoDir, projectName, outputDir string) (string, error) {
		artifactPath := filepath.Join(outputDir, filepath.Base(projectName)+".dmb")
		if err := os.WriteFile(artifactPath, []byte(content), 0o644); err != nil {
			t.Fatalf("fakeCompiler: %v", err)
		}
		return artifactPath, nil
	}
}

type fakeJobStore struct{}

func (fakeJobStore) SaveJob(*domain.Job) error { return nil }

func newTestManager(t *testing.T, compilerContent string) (*Manager, *job.Manager, *deployment.Store, *domain.Instance) {
	t.Helper()

	projectName := "project"
	origin := seedProjectRepo(t, projectName)

	engine := repo.New(t.TempDir())
	if err := engine.Clone(context.Background(), origin, nil); err != nil {
		t.Fatalf("cloning seed project: %v", err)
	}
	engineFor := func(*domain.Instance) *repo.Engine { return engine }

	toolchains := toolchain.New(t.TempDir(), filepath.Join(t.TempDir(), "pins.yaml"), noopInstaller)
	deployments := deployment.New(t.TempDir())
	jobs := job.New(fakeJobStore{}, clock.Real())

	inst := &domain.Instance{
		ID:   "inst-1",
		Name: "box",
		Repository: domain.RepositorySettings{
			OriginURL: origin,
		},
		Toolchain: domain.ToolchainSettings{
			Version: "515.1635",
		},
		Compile: domain.CompileSettings{
			ProjectName: projectName,
		},
	}

	m := New(engineFor, toolchains, deployments, jobs, fakeCompiler(t, compilerContent), nil, nil)
	return m, jobs, deployments, inst
}

func waitForTerminal(t *testing.T, jobs *job.Manager, jobID string) *domain.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if j, ok := jobs.Get(jobID); ok && j.State.IsTerminal() {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("compile job did not reach a terminal state in time")
	return nil
}

func TestSchedule_CommitsDeploymentAndArchivesArtifact(t *testing.T) {
	requireGit(t)
	m, jobs, deployments, inst := newTestManager(t, "compiled artifact bytes")

	jobID, err := m.Schedule(context.Background(), inst, "caller-1")
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	j := waitForTerminal(t, jobs, jobID)
	if j.State != domain.JobCompleted {
		t.Fatalf("compile job state = %s, error = %s", j.State, j.ErrorMessage)
	}

	dep := deployments.Latest(inst.ID)
	if dep == nil {
		t.Fatal("expected a committed deployment after a successful compile job")
	}
	if !dep.IsLatest {
		t.Error("committed deployment is not marked latest")
	}
	if dep.MinimumSecurityLevel != domain.SecuritySafe {
		t.Errorf("MinimumSecurityLevel = %q, want default %q", dep.MinimumSecurityLevel, domain.SecuritySafe)
	}
	if dep.CompilerVersion != inst.Toolchain.Version {
		t.Errorf("CompilerVersion = %q, want %q", dep.CompilerVersion, inst.Toolchain.Version)
	}
	if dep.ContentDigest == "" {
		t.Error("expected a non-empty content digest")
	}

	artifactPath := filepath.Join(dep.PrimaryDir, "project.dmb")
	if _, err := os.Stat(artifactPath + ".zst"); err != nil {
		t.Errorf("expected promoted zstd archive alongside the artifact: %v", err)
	}

	entries, err := os.ReadDir(dep.SecondaryDir)
	if err != nil {
		t.Fatalf("reading secondary staging dir: %v", err)
	}
	if len(entries) == 0 {
		t.Error("expected a staged archive snapshot in the secondary directory")
	}
}

func TestSchedule_RefusesWithoutProjectName(t *testing.T) {
	m, _, _, inst := newTestManager(t, "ignored")
	inst.Compile.ProjectName = ""

	if _, err := m.Schedule(context.Background(), inst, "caller-1"); err == nil {
		t.Fatal("expected an error for an instance with no compile project configured")
	}
}

func TestSchedule_RefusesWithoutToolchainVersion(t *testing.T) {
	m, _, _, inst := newTestManager(t, "ignored")
	inst.Toolchain.Version = ""

	if _, err := m.Schedule(context.Background(), inst, "caller-1"); err == nil {
		t.Fatal("expected an error for an instance with no pinned toolchain version")
	}
}
