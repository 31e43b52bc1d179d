// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gameward/gameward/internal/apperror"
	"github.com/gameward/gameward/lib/servicetoken"
)

type principalKey struct{}

// principal is the authenticated caller attached to a request's
// context after bearerMiddleware succeeds.
type principal struct {
	userID string
	grants []servicetoken.Grant
}

func principalFromContext(ctx context.Context) (principal, bool) {
	p, ok := ctx.Value(principalKey{}).(principal)
	return p, ok
}

// bearerToken extracts the hex-free raw token bytes from an
// "Authorization: Bearer <token>" header. Returns an Auth error if the
// header is missing or malformed.
func bearerToken(r *http.Request) ([]byte, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil, apperror.Auth("missing bearer token")
	}
	return []byte(strings.TrimPrefix(header, prefix)), nil
}

// basicCredentials extracts a username/password pair from an
// "Authorization: Basic ..." header, used only on the login route.
func basicCredentials(r *http.Request) (username, password string, err error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return "", "", apperror.Auth("missing basic auth credentials")
	}
	return username, password, nil
}

// requireAuth wraps handler so it only runs after the bearer token in
// the request has been verified. The resulting principal is attached
// to the request context.
func (s *Server) requireAuth(handler func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wire, err := bearerToken(r)
		if err != nil {
			writeError(w, err)
			return
		}

		token, err := s.tokens.Verify(wire)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey{}, principal{
			userID: token.Subject,
			grants: token.Grants,
		})
		handler(w, r.WithContext(ctx))
	}
}

// requireInstanceRight reports whether the request's principal holds
// action against targetInstanceID, per the token's embedded grants.
func requireInstanceRight(r *http.Request, action, targetInstanceID string) error {
	p, ok := principalFromContext(r.Context())
	if !ok {
		return apperror.Auth("no authenticated principal")
	}
	if !servicetoken.GrantsAllow(p.grants, action, targetInstanceID) {
		return apperror.Forbidden("caller lacks " + action + " on this instance")
	}
	return nil
}
