// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption and decryption for
// credentials stored at rest in the controller's database: chat
// provider bot tokens, webhook shared secrets, and repository access
// tokens. It wraps filippo.io/age for the specific operations the
// controller needs: generate x25519 keypairs, encrypt to multiple
// recipients, and decrypt with a private key.
//
// Ciphertext is base64-encoded for storage in database text columns.
// Callers pass plaintext []byte to [Encrypt] and receive a base64
// string; [Decrypt] accepts a base64 string and returns plaintext.
// Private keys and decrypted plaintext are returned as [secret.Buffer]
// values backed by mmap memory outside the Go heap (locked against
// swap, excluded from core dumps, zeroed on Close).
//
// Key exports:
//
//   - [GenerateKeypair] -- new age x25519 keypair in a secret.Buffer
//   - [Encrypt] / [EncryptJSON] -- encrypt to age public key recipients
//   - [Decrypt] / [DecryptJSON] -- decrypt with a secret.Buffer key
//   - [ParsePublicKey] / [ParsePrivateKey] -- key validation
//
// The controller generates one keypair at first boot (held in the
// state directory, private half secured by [lib/secret]). It seals
// session access identifiers to it, and the chat providers decrypt
// their stored credentials with its private half; no code in the
// controller encrypts provider credentials before they are stored.
//
// Depends on lib/secret for secure memory allocation.
package sealed
