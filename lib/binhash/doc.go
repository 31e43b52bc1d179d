// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash provides BLAKE3 content hashing for deployment
// artifacts and toolchain installations.
//
// The deployment store and toolchain manager use content hashes to
// determine whether a freshly built compile output, or a downloaded
// toolchain archive, actually differs from what is already on disk
// under a given content-addressed name, and to detect corruption in
// the toolchain cache. Comparing BLAKE3 digests of the actual files
// avoids unnecessary archive re-extraction and re-deployment when the
// bytes are identical.
//
// The API surface is three functions:
//
//   - [HashFile] -- streams a file through BLAKE3, returning a [32]byte
//     digest with constant memory usage regardless of file size
//   - [FormatDigest] -- converts a [32]byte digest to its canonical
//     hex-encoded string representation, used in deployment manifests,
//     toolchain pin lists, and log output
//   - [ParseDigest] -- parses a hex-encoded digest string back to a
//     [32]byte array, validating length and encoding
//
// This package has no dependencies on other gameward packages.
package binhash
