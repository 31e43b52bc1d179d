// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides gameward's standard CBOR encoding configuration.
//
// The controller uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: the HTTP control surface, CLI
//     output, and the operator-facing configuration file.
//   - CBOR for internal state: job and reattach-record snapshots
//     persisted to disk, and signed bearer tokens.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every internal package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes — important for reattach records and job snapshots, which are
// compared and re-read across controller restarts.
//
// For buffer-oriented operations (files, tokens):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR — on-disk
//     state files (reattach records, job snapshots), signed tokens.
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor` tags
//     are absent, so a single `json` tag controls field naming and
//     omitempty for both formats. Examples: types shared between the
//     HTTP control surface (JSON) and an internal CBOR snapshot.
//
// Never use both `cbor` and `json` tags on the same field. The tag
// choice documents the contract — doubling up is noise that obscures
// whether a type participates in JSON serialization.
package codec
