// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package apperror

import "fmt"

// Kind is the small closed taxonomy of error categories. internal/api
// maps each Kind to exactly one HTTP status family.
type Kind string

const (
	KindValidation   Kind = "validation"   // 400
	KindConflict     Kind = "conflict"     // 409
	KindGone         Kind = "gone"         // 410
	KindAuth         Kind = "auth"         // 401
	KindForbidden    Kind = "forbidden"    // 403
	KindNotSupported Kind = "not_supported" // 422
	KindTransient    Kind = "transient"    // 503/504/429
	KindInternal     Kind = "internal"     // 500
)

// Code is a stable small integer identifying a specific failure, for
// callers that script against the control surface and need to branch
// on more than the HTTP status.
type Code int

const (
	CodeNone Code = 0

	CodeInstanceAtConflictingPath    Code = 1001
	CodeInstanceAtExistingPath       Code = 1002
	CodeInstanceNotAtWhitelistedPath Code = 1003
	CodeInstanceDetachOnline         Code = 1004
	CodeInstanceRelocateOnline       Code = 1005

	CodeDreamDaemonPortInUse       Code = 1101
	CodeDreamDaemonDuplicatePorts  Code = 1102
	CodePortOutOfRange             Code = 1103
	CodeDeploymentPagerRunning     Code = 1104

	CodeRepoMergeConflict Code = 1201

	CodePasswordTooShort Code = 1301

	CodeMoveJobAlreadyRunning Code = 1401
)

// Error is the controller's error type. Domain code constructs one via
// [New] or a named constructor; internal/api is the single place that
// reads Kind to pick an HTTP status.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error. Most callers use a named constructor below
// instead of calling New directly.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap constructs an Error that attributes its message to an
// underlying cause, e.g. an I/O or database failure classified as
// Internal.
func Wrap(kind Kind, code Code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

func Validation(code Code, message string) *Error {
	return New(KindValidation, code, message)
}

func Conflict(code Code, message string) *Error {
	return New(KindConflict, code, message)
}

func Gone(message string) *Error {
	return New(KindGone, CodeNone, message)
}

func Auth(message string) *Error {
	return New(KindAuth, CodeNone, message)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, CodeNone, message)
}

func NotSupported(message string) *Error {
	return New(KindNotSupported, CodeNone, message)
}

func Transient(message string) *Error {
	return New(KindTransient, CodeNone, message)
}

func Internal(cause error) *Error {
	return Wrap(KindInternal, CodeNone, "internal error", cause)
}

// Sentinel errors for the conditions spec.md names explicitly.
// Callers return these values directly (not wrapped) so errors.Is
// comparisons at call sites work by identity.
var (
	ErrInstanceAtConflictingPath = Conflict(CodeInstanceAtConflictingPath,
		"path conflicts with the install directory or an existing instance")
	ErrInstanceAtExistingPath = Conflict(CodeInstanceAtExistingPath,
		"path exists and is neither empty nor attach-sentineled")
	ErrInstanceNotAtWhitelistedPath = Conflict(CodeInstanceNotAtWhitelistedPath,
		"path failed whitelist validation")
	ErrInstanceDetachOnline = Conflict(CodeInstanceDetachOnline,
		"instance must be offline before it can be detached")
	ErrInstanceRelocateOnline = Conflict(CodeInstanceRelocateOnline,
		"instance must be offline at both paths before it can be relocated")

	ErrDreamDaemonPortInUse = Conflict(CodeDreamDaemonPortInUse,
		"requested port is already bound")
	ErrDuplicatePorts = Validation(CodeDreamDaemonDuplicatePorts,
		"primary and secondary ports must be distinct")
	ErrPortOutOfRange = Validation(CodePortOutOfRange,
		"port must be in [1, 65535]")
	ErrDeploymentPagerRunning = Conflict(CodeDeploymentPagerRunning,
		"another interactive instance of the game binary is already running for this OS user")

	ErrRepoMergeConflict = Conflict(CodeRepoMergeConflict,
		"merge produced conflicts; working tree reset to the pre-merge head")

	ErrPasswordTooShort = Validation(CodePasswordTooShort,
		"password is shorter than the configured minimum length")

	ErrMoveJobAlreadyRunning = Conflict(CodeMoveJobAlreadyRunning,
		"a move job is already running for this instance")
)
