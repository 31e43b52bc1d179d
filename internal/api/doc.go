// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package api implements the controller's HTTP control surface: the
// route table, request/response JSON shapes, and the single point
// that translates an internal/apperror.Error into an HTTP status
// code. It is a thin adapter over internal/instance, internal/job,
// internal/compile and internal/repository — routing and marshaling
// only, no business logic.
package api
