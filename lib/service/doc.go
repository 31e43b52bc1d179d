// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides shared HTTP server infrastructure for
// gameward's control panel REST surface.
//
// [HTTPServer] manages TCP listener lifecycle and graceful shutdown
// for the control panel's HTTP adapter, run by cmd/gameward-controller.
// The caller supplies the http.Handler; this package handles binding,
// readiness signaling, and a bounded-timeout shutdown that drains
// in-flight requests before returning.
//
// The control surface's own HTTP routing and authentication live in
// internal/api, which composes HTTPServer rather than extending it.
// Outbound chat webhook delivery (internal/chat/webhook) signs its own
// requests directly and does not use this package; gameward has no
// inbound webhook receiver.
package service
