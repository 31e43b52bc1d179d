// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package controller implements instance.Lifecycle and
// instance.ReattachCleaner: it is the glue between one instance's
// configuration and the concrete watchdog, game-server session, and
// chat bridge that serve it. Going online builds (or reuses) that
// instance's runtime, re-materializes its chat providers from its
// current ChatSettings, and starts the watchdog from its active
// deployment. Going offline terminates the watchdog and clears the
// persisted reattach record. Resume recovers a still-running session
// across a controller restart from that same record.
package controller
