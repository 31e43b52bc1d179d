// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the SessionController: one supervised
// game-server process, its launch parameters, its bridge access
// identifier, and its reboot state. Process lifecycle is delegated to
// internal/procexec; the access identifier lives only in a
// lib/secret.Buffer for the session's lifetime and is never logged or
// serialized — only its opaque wire value is handed to the launched
// process via the command line's urlencoded parameter string.
package session
