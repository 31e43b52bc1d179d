// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive packs and unpacks deployment staging-directory
// snapshots with a selectable tagged codec, adapted from the
// deployment store's chunk-compression pattern: zstd for the durable
// artifact kept after promotion (better ratio, the cost is paid once),
// lz4 for the fast primary/secondary staging snapshot taken
// immediately before a hot swap (lower latency matters more than ratio
// on that path).
package archive

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the compression algorithm used for one archived
// blob. Stored alongside the blob so the reader knows how to
// decompress it without external context.
type Tag uint8

const (
	// TagNone stores data uncompressed. Used when a blob is already
	// compressed (e.g. re-archiving a zstd-compressed artifact).
	TagNone Tag = 0

	// TagLZ4 is fast block compression, used for staging snapshots.
	TagLZ4 Tag = 1

	// TagZstd is used for durable promoted artifacts.
	TagZstd Tag = 2
)

func (tag Tag) String() string {
	switch tag {
	case TagNone:
		return "none"
	case TagLZ4:
		return "lz4"
	case TagZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

var errIncompressible = errors.New("archive: data did not shrink under compression")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("archive: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress compresses data with the algorithm named by tag. For
// TagNone, returns data unchanged.
func Compress(data []byte, tag Tag) ([]byte, error) {
	switch tag {
	case TagNone:
		return data, nil
	case TagLZ4:
		return compressLZ4(data)
	case TagZstd:
		return compressZstd(data)
	default:
		return nil, fmt.Errorf("archive: unsupported tag %d", tag)
	}
}

// Decompress reverses Compress. uncompressedSize must match the
// original input length exactly; a mismatch is an error, not a
// truncated read.
func Decompress(compressed []byte, tag Tag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case TagNone:
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("archive: uncompressed blob is %d bytes, want %d",
				len(compressed), uncompressedSize)
		}
		return compressed, nil
	case TagLZ4:
		return decompressLZ4(compressed, uncompressedSize)
	case TagZstd:
		return decompressZstd(compressed, uncompressedSize)
	default:
		return nil, fmt.Errorf("archive: unsupported tag %d", tag)
	}
}

// CompressBest tries tag and falls back to TagNone when the data does
// not actually shrink, returning the tag actually used.
func CompressBest(data []byte, tag Tag) ([]byte, Tag, error) {
	compressed, err := Compress(data, tag)
	if errors.Is(err, errIncompressible) {
		return data, TagNone, nil
	}
	if err != nil {
		return nil, TagNone, err
	}
	return compressed, tag, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, want %d", read, uncompressedSize)
	}
	return destination, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, uncompressedSize int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != uncompressedSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, want %d", len(result), uncompressedSize)
	}
	return result, nil
}
