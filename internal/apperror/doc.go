// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package apperror defines the controller's error taxonomy: a small
// closed Kind enum (Validation/Conflict/Gone/Auth/Forbidden/
// NotSupported/Transient/Internal) plus a stable numeric Code, matching
// the error-code table operators depend on for scripting against the
// control surface.
//
// Domain operations construct a *Error via [New] or one of the named
// constructors (e.g. [Conflict]) rather than returning bare errors or
// panicking. internal/api is the single place that translates a Kind
// into an HTTP status code; everywhere else, code should compare
// against the named sentinel errors with errors.Is, or the Kind/Code
// fields via errors.As, never against error message text.
package apperror
