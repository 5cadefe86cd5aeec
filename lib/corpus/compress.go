// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

package corpus

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression applied to a preserved
// artifact. The tag determines the file name suffix, so a store
// written under one setting stays readable after the setting changes:
// Open probes every suffix.
type CompressionTag uint8

const (
	// CompressionNone stores artifacts verbatim. Right choice when
	// the mutated inputs are already compressed (PNG, zip, video).
	CompressionNone CompressionTag = 0

	// CompressionLZ4 stores artifacts as LZ4 frames. Fast default
	// for binary inputs of unknown shape.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd stores artifacts as zstd frames at the default
	// level. Better ratios for text-like inputs; mutated text mostly
	// still compresses like text.
	CompressionZstd CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses a compression tag from its string
// representation.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// suffix returns the artifact file name suffix for the tag.
func (tag CompressionTag) suffix() string {
	switch tag {
	case CompressionLZ4:
		return ".lz4"
	case CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

// allTags is the probe order for locating stored artifacts. It only
// matters for stores written under more than one compression setting.
var allTags = []CompressionTag{CompressionNone, CompressionZstd, CompressionLZ4}

// nopWriteCloser adapts a plain writer for the CompressionNone path.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// newCompressor wraps destination with a streaming compressor for the
// tag. Closing the returned writer flushes the frame; it does not
// close destination.
func newCompressor(destination io.Writer, tag CompressionTag) (io.WriteCloser, error) {
	switch tag {
	case CompressionNone:
		return nopWriteCloser{destination}, nil

	case CompressionLZ4:
		return lz4.NewWriter(destination), nil

	case CompressionZstd:
		writer, err := zstd.NewWriter(destination,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
		)
		if err != nil {
			return nil, fmt.Errorf("zstd compress: %w", err)
		}
		return writer, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// newDecompressor wraps source with a streaming decompressor for the
// tag. The returned closer releases decoder state only; the caller
// still owns source.
func newDecompressor(source io.Reader, tag CompressionTag) (io.Reader, func(), error) {
	switch tag {
	case CompressionNone:
		return source, func() {}, nil

	case CompressionLZ4:
		return lz4.NewReader(source), func() {}, nil

	case CompressionZstd:
		// Single-goroutine decode: artifacts are small and readers
		// are short-lived, decode concurrency buys nothing here.
		reader, err := zstd.NewReader(source, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return reader, reader.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}
