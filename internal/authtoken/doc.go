// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package authtoken mints and verifies the bearer tokens the control
// surface issues at InstanceUser login, and hashes/verifies the
// passwords those logins are checked against. Tokens are minted with
// lib/servicetoken's Ed25519-signed CBOR scheme with Audience set to
// "control-surface", and Verify rejects a token minted for any other
// audience.
package authtoken
