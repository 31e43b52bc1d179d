// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available in PATH")
	}
}

func initBareRemote(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "init", "--bare", "-b", "main")
	return dir
}

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return string(out)
}

func seedCommit(t *testing.T, dir, file, content string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	run(t, dir, "add", file)
	run(t, dir, "commit", "-m", "commit "+file)
	return run(t, dir, "rev-parse", "HEAD")
}

func TestClone_CleanWorkingTree(t *testing.T) {
	requireGit(t)

	origin := t.TempDir()
	run(t, origin, "init", "-b", "main")
	seedCommit(t, origin, "a.txt", "hello")

	workDir := t.TempDir()
	engine := New(workDir)

	var progressValues []int
	err := engine.Clone(context.Background(), origin, func(p int) { progressValues = append(progressValues, p) })
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if err := engine.ensureClean(context.Background()); err != nil {
		t.Errorf("working tree not clean after clone: %v", err)
	}
	if len(progressValues) == 0 || progressValues[len(progressValues)-1] != 100 {
		t.Errorf("progress values = %v, want final 100", progressValues)
	}
}

func TestResetToSHA_RemovesUntrackedFiles(t *testing.T) {
	requireGit(t)

	origin := t.TempDir()
	run(t, origin, "init", "-b", "main")
	firstSHA := seedCommit(t, origin, "a.txt", "hello")
	seedCommit(t, origin, "b.txt", "world")

	workDir := t.TempDir()
	engine := New(workDir)
	if err := engine.Clone(context.Background(), origin, nil); err != nil {
		t.Fatalf("Clone: %v", err)
	}

	if err := os.WriteFile(filepath.Join(workDir, "untracked.txt"), []byte("junk"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := engine.ResetToSHA(context.Background(), trimNewline(firstSHA)); err != nil {
		t.Fatalf("ResetToSHA: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workDir, "untracked.txt")); !os.IsNotExist(err) {
		t.Errorf("untracked.txt survived reset: err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(workDir, "b.txt")); !os.IsNotExist(err) {
		t.Errorf("b.txt should be gone after reset to first commit")
	}
}

func TestMergeTestRevision_ConflictRollsBack(t *testing.T) {
	requireGit(t)

	origin := t.TempDir()
	run(t, origin, "init", "-b", "main")
	seedCommit(t, origin, "shared.txt", "base\n")

	// Create a divergent PR ref that conflicts with main's next commit.
	run(t, origin, "branch", "pr-7")
	run(t, origin, "checkout", "pr-7")
	seedCommit(t, origin, "shared.txt", "pr-version\n")
	run(t, origin, "update-ref", "refs/pull/7/head", "pr-7")
	run(t, origin, "checkout", "main")
	mainHead := seedCommit(t, origin, "shared.txt", "main-version\n")
	run(t, origin, "branch", "-D", "pr-7")

	workDir := t.TempDir()
	engine := New(workDir)
	if err := engine.Clone(context.Background(), origin, nil); err != nil {
		t.Fatalf("Clone: %v", err)
	}

	var events []Event
	sink := Sink(func(e Event) { events = append(events, e) })

	result, err := engine.MergeTestRevision(context.Background(), 7, "",
		"test", "test@example.com", nil, sink)
	if err != nil {
		t.Fatalf("MergeTestRevision: %v", err)
	}
	if result != nil {
		t.Fatalf("expected conflict (nil result), got %+v", result)
	}

	head, err := engine.headSHA(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if head != trimNewline(mainHead) {
		t.Errorf("head = %s, want pre-merge head %s", head, trimNewline(mainHead))
	}
	if err := engine.ensureClean(context.Background()); err != nil {
		t.Errorf("working tree not clean after conflict rollback: %v", err)
	}

	if len(events) != 1 || events[0].Kind != "RepoMergeConflict" {
		t.Errorf("events = %+v, want exactly one RepoMergeConflict", events)
	}
}

func TestIsSHA(t *testing.T) {
	requireGit(t)

	origin := t.TempDir()
	run(t, origin, "init", "-b", "main")
	sha := seedCommit(t, origin, "a.txt", "hello")

	workDir := t.TempDir()
	engine := New(workDir)
	if err := engine.Clone(context.Background(), origin, nil); err != nil {
		t.Fatalf("Clone: %v", err)
	}

	isSHA, err := engine.IsSHA(context.Background(), trimNewline(sha))
	if err != nil {
		t.Fatalf("IsSHA(sha): %v", err)
	}
	if !isSHA {
		t.Error("IsSHA(sha) = false, want true")
	}

	isSHA, err = engine.IsSHA(context.Background(), "main")
	if err != nil {
		t.Fatalf("IsSHA(main): %v", err)
	}
	if isSHA {
		t.Error("IsSHA(main) = true, want false")
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
