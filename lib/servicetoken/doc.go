// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package servicetoken implements Ed25519-signed bearer tokens. In
// gameward its only consumer is internal/authtoken, which mints a
// token at each control-surface login with Audience "control-surface"
// and verifies it cryptographically on each API request without a
// database round-trip. The token carries the holder's identity and
// pre-resolved grants.
//
// # Wire format
//
// A token is raw bytes: CBOR-encoded payload followed by a 64-byte
// Ed25519 signature over the payload bytes.
//
//	[CBOR payload bytes] [64-byte Ed25519 signature]
//
// The split point is always len(token) - 64. No header, no length
// prefix, no base64 — the algorithm is fixed and the signature size
// is constant.
//
// # Token lifecycle
//
//   - internal/authtoken mints a token at login, valid for a fixed TTL.
//   - Tokens are not refreshed.
//   - Verification rejects expired tokens unconditionally.
//   - Emergency revocation via [Blacklist] (token ID set with
//     TTL-based cleanup).
//
// # Revocation
//
// A revoked token ID is held in an in-process [Blacklist] until the
// token's natural expiry. The package also defines a signed revocation
// message for pushing revocations to another process: CBOR-encoded
// [RevocationRequest] followed by a 64-byte Ed25519 signature, the
// same layout as a token. Nothing in gameward sends one.
//
// # Dependencies
//
// This package depends on crypto/ed25519 for signing, lib/codec for
// CBOR encoding, and standard library packages. It does not depend on
// internal/session, internal/instance, or any other gameward package
// besides lib/codec.
package servicetoken
