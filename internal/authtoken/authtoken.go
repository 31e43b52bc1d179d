// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package authtoken

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gameward/gameward/internal/apperror"
	"github.com/gameward/gameward/lib/clock"
	"github.com/gameward/gameward/lib/servicetoken"
)

// ControlSurfaceAudience is the Token.Audience value for bearer tokens
// issued to operator/InstanceUser logins. It is the only audience
// gameward mints tokens for.
const ControlSurfaceAudience = "control-surface"

// Service mints and verifies control-surface bearer tokens and hashes
// InstanceUser passwords.
type Service struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	clock      clock.Clock
	ttl        time.Duration
	blacklist  *servicetoken.Blacklist
}

// New returns a Service signing with keyPair and issuing tokens valid
// for ttl.
func New(privateKey ed25519.PrivateKey, publicKey ed25519.PublicKey, ttl time.Duration, c clock.Clock) *Service {
	if c == nil {
		c = clock.Real()
	}
	return &Service{
		privateKey: privateKey,
		publicKey:  publicKey,
		clock:      c,
		ttl:        ttl,
		blacklist:  servicetoken.NewBlacklist(),
	}
}

// Mint issues a bearer token for userID scoped to the given grants.
func (s *Service) Mint(userID string, grants []servicetoken.Grant) ([]byte, error) {
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("authtoken: generating token id: %w", err)
	}

	now := s.clock.Now()
	token := &servicetoken.Token{
		Subject:   userID,
		Instance:  "",
		Audience:  ControlSurfaceAudience,
		Grants:    grants,
		ID:        hex.EncodeToString(id),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
	}

	wire, err := servicetoken.Mint(s.privateKey, token)
	if err != nil {
		return nil, fmt.Errorf("authtoken: minting: %w", err)
	}
	return wire, nil
}

// Verify checks a bearer token presented by a caller, consulting the
// revocation blacklist.
func (s *Service) Verify(wire []byte) (*servicetoken.Token, error) {
	token, err := servicetoken.VerifyForServiceAt(s.publicKey, wire, ControlSurfaceAudience, s.clock.Now())
	if err != nil {
		return nil, apperror.Auth(err.Error())
	}
	if s.blacklist.IsRevoked(token.ID) {
		return nil, apperror.Auth("token has been revoked")
	}
	return token, nil
}

// Revoke blacklists a token ID immediately, e.g. on explicit logout or
// password change. Each call also drops entries whose tokens have
// already expired.
func (s *Service) Revoke(tokenID string, expiresAt time.Time) {
	s.blacklist.Revoke(tokenID, expiresAt)
	s.blacklist.Cleanup(s.clock.Now())
}

// HashPassword hashes a plaintext InstanceUser password for storage.
// Length enforcement against Config.General.MinimumPasswordLength
// happens at the caller, since the minimum is operator-configured.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("authtoken: hashing password: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassword reports whether password matches the stored bcrypt
// hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
