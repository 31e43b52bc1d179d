// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gameward/gameward/lib/watchdog"
)

// controllerWatchdogMaxAge bounds how old a watchdog file on disk may
// be before checkControllerWatchdog treats it as stale (left behind by
// an unrelated restart) rather than the outcome of the exec() that
// just happened.
const controllerWatchdogMaxAge = 5 * time.Minute

func controllerWatchdogPath(installDir string) string {
	return filepath.Join(installDir, "controller-watchdog.json")
}

// mustExecutablePath resolves the running binary's own path for
// comparison against a watchdog file's recorded transition. Returns
// "" if the OS cannot report it, which checkControllerWatchdog treats
// as "matches neither" — a stale watchdog gets cleared, never acted
// on.
func mustExecutablePath() string {
	path, err := os.Executable()
	if err != nil {
		return ""
	}
	return path
}

// checkControllerWatchdog reads the controller watchdog file on
// startup and reports whether a previous self-restart's exec()
// transition succeeded or failed, per lib/watchdog's binary-transition
// contract. Always clears whatever it finds; a no-op when no watchdog
// file exists.
func checkControllerWatchdog(path, currentBinaryPath string, logger *slog.Logger) {
	state, found, err := watchdog.Check(path, controllerWatchdogMaxAge)
	if err != nil {
		logger.Error("reading controller watchdog", "path", path, "error", err)
		return
	}
	if !found {
		return
	}

	switch currentBinaryPath {
	case state.NewBinary:
		logger.Info("controller self-restart succeeded", "previous", state.PreviousBinary, "new", state.NewBinary)
	case state.PreviousBinary:
		logger.Error("controller self-restart failed, running the previous binary", "attempted", state.NewBinary, "current", state.PreviousBinary)
	default:
		logger.Info("clearing stale controller watchdog", "current", currentBinaryPath)
	}

	if err := watchdog.Clear(path); err != nil {
		logger.Error("clearing controller watchdog", "path", path, "error", err)
	}
}

// restartController writes a watchdog state file and exec()'s the
// current binary in place, with the same arguments and environment.
// Used on SIGHUP, so an operator who has replaced the controller
// binary on disk can have the running process pick it up without a
// full service restart. On success this does not return. On failure
// it clears the watchdog and returns the error; the caller keeps
// running the current binary.
func restartController(installDir string, logger *slog.Logger) error {
	binaryPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving controller binary path: %w", err)
	}

	path := controllerWatchdogPath(installDir)
	state := watchdog.State{
		Component:      "gameward-controller",
		PreviousBinary: binaryPath,
		NewBinary:      binaryPath,
		Timestamp:      time.Now(),
	}
	if err := watchdog.Write(path, state); err != nil {
		return fmt.Errorf("writing controller watchdog: %w", err)
	}

	logger.Info("controller self-restart: exec()'ing current binary", "binary", binaryPath)
	argv := append([]string{binaryPath}, os.Args[1:]...)
	execErr := syscall.Exec(binaryPath, argv, os.Environ())

	// Only reached if exec() itself failed; the process was not replaced.
	if clearErr := watchdog.Clear(path); clearErr != nil {
		logger.Error("clearing controller watchdog after failed exec", "path", path, "error", clearErr)
	}
	return fmt.Errorf("exec %s: %w", binaryPath, execErr)
}
