// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the controller's JSON configuration file.
//
// Configuration is loaded from a single file specified by either the
// GAMEWARD_CONFIG environment variable (via [Load]) or an explicit path
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery, and
// no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// The file is plain JSON with "//" comments tolerated (stripped before
// parsing), organized into the sections a host-controller needs:
// Database, General, FileLogging, ControlPanel, Bridge, Toolchain, and
// an optional Kestrel block accepted for forward compatibility with deployments that also
// run a reverse proxy in front of the control surface.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded. No other
// environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Database, General, FileLogging,
//     ControlPanel, Bridge, Toolchain and Kestrel sections
//   - [Default] -- returns a Config with development-friendly defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other gameward package.
package config
