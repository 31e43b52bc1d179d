// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gameward/gameward/internal/apperror"
)

// errorBody is the JSON shape returned for every non-2xx response.
type errorBody struct {
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// statusForKind is the single place internal/api converts an
// apperror.Kind into an HTTP status family, per spec's error handling
// design.
func statusForKind(kind apperror.Kind) int {
	switch kind {
	case apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindConflict:
		return http.StatusConflict
	case apperror.KindGone:
		return http.StatusGone
	case apperror.KindAuth:
		return http.StatusUnauthorized
	case apperror.KindForbidden:
		return http.StatusForbidden
	case apperror.KindNotSupported:
		return http.StatusUnprocessableEntity
	case apperror.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError is the single conversion point from an internal error to
// an HTTP response. Errors that are not *apperror.Error are treated as
// Internal and logged with full context; *apperror.Error values carry
// their own stable code and a message safe to return verbatim.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		appErr = apperror.Internal(err)
	}

	if appErr.Kind == apperror.KindInternal {
		slog.Default().Error("internal server error", "error", appErr.Unwrap())
	}

	writeJSON(w, statusForKind(appErr.Kind), errorBody{
		ErrorCode:    int(appErr.Code),
		ErrorMessage: appErr.Message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error("encoding response body", "error", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperror.Validation(apperror.CodeNone, "malformed request body: "+err.Error())
	}
	return nil
}
