// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package contenthash content-addresses toolchain archives and
// deployment artifacts so the toolchain manager and deployment store
// can tell whether a freshly downloaded or built file actually differs
// from what is already cached on disk, skipping redundant extraction
// or re-deployment. It is a thin domain-facing wrapper over
// lib/binhash's BLAKE3 digest — callers outside lib/ use this package's
// vocabulary (Digest, HashFile, HashBytes) rather than reaching into
// lib/binhash directly, so the cache-key format stays a single
// decision point.
package contenthash

import (
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/gameward/gameward/lib/binhash"
)

// Digest is a BLAKE3 content digest, formatted as lowercase hex when
// used as a cache key or directory name.
type Digest = [32]byte

// HashFile returns the content digest of the file at path.
func HashFile(path string) (Digest, error) {
	return binhash.HashFile(path)
}

// HashBytes returns the content digest of data, for archives built in
// memory before being written to the cache.
func HashBytes(data []byte) Digest {
	return blake3.Sum256(data)
}

// Format renders a digest as the lowercase hex string used for cache
// directory names and deployment ContentDigest fields.
func Format(digest Digest) string {
	return binhash.FormatDigest(digest)
}

// Parse reverses Format, validating length.
func Parse(hexDigest string) (Digest, error) {
	digest, err := binhash.ParseDigest(hexDigest)
	if err != nil {
		return Digest{}, fmt.Errorf("contenthash: %w", err)
	}
	return digest, nil
}
