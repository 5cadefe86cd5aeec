// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

package corpus

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/deepsight/FATS/lib/mutator"
)

// Options configures a Store.
type Options struct {
	// Dir is the preservation directory. Created if missing.
	// Required.
	Dir string

	// Compression selects how newly preserved artifacts are stored.
	// The zero value stores them verbatim.
	Compression CompressionTag

	// Logger receives diagnostic messages. If nil, a logger that
	// writes errors to stderr is used.
	Logger *slog.Logger
}

// Store is a content-addressed archive of served artifacts. Each
// artifact is stored once under its BLAKE3 digest; the release path
// of the filesystem feeds it, and triage tooling reads it back when
// a crash needs its reproducer.
type Store struct {
	dir    string
	tag    CompressionTag
	logger *slog.Logger
}

// NewStore validates options and opens the store, creating the
// directory if needed.
func NewStore(options Options) (*Store, error) {
	if options.Dir == "" {
		return nil, fmt.Errorf("corpus directory is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}
	if err := os.MkdirAll(options.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating corpus directory: %w", err)
	}
	return &Store{
		dir:    options.Dir,
		tag:    options.Compression,
		logger: options.Logger,
	}, nil
}

// Dir returns the preservation directory.
func (s *Store) Dir() string {
	return s.dir
}

// locate finds the stored file for digest under any suffix, so a
// store written under an earlier compression setting stays readable.
func (s *Store) locate(digest mutator.Digest) (string, CompressionTag, bool) {
	name := mutator.FormatDigest(digest)
	for _, tag := range allTags {
		path := filepath.Join(s.dir, name+tag.suffix())
		if _, err := os.Lstat(path); err == nil {
			return path, tag, true
		}
	}
	return "", 0, false
}

// Preserve archives the artifact at artifactPath under its digest and
// returns the stored path. The artifact file itself is left in place;
// the caller still owns it. Preserving a digest the store already
// holds is a no-op: content-addressed names make the bytes identical
// by construction.
func (s *Store) Preserve(artifactPath string, digest mutator.Digest) (path string, err error) {
	if existing, _, ok := s.locate(digest); ok {
		return existing, nil
	}

	source, err := os.Open(artifactPath)
	if err != nil {
		return "", fmt.Errorf("opening artifact %s: %w", artifactPath, err)
	}
	defer source.Close()

	name := mutator.FormatDigest(digest) + s.tag.suffix()
	destination := filepath.Join(s.dir, name)

	// Write to a temp file and rename into place, so a reader never
	// observes a half-written artifact and a crash mid-preserve
	// leaves no entry under the digest name.
	partial, err := os.CreateTemp(s.dir, name+".partial-*")
	if err != nil {
		return "", fmt.Errorf("creating partial file: %w", err)
	}
	defer func() {
		if err != nil {
			partial.Close()
			os.Remove(partial.Name())
		}
	}()

	compressor, err := newCompressor(partial, s.tag)
	if err != nil {
		return "", err
	}
	if _, err = io.Copy(compressor, source); err != nil {
		return "", fmt.Errorf("preserving artifact %s: %w", artifactPath, err)
	}
	if err = compressor.Close(); err != nil {
		return "", fmt.Errorf("finishing %s frame: %w", s.tag, err)
	}
	if err = partial.Close(); err != nil {
		return "", fmt.Errorf("closing partial file: %w", err)
	}
	if err = os.Rename(partial.Name(), destination); err != nil {
		os.Remove(partial.Name())
		return "", fmt.Errorf("publishing preserved artifact: %w", err)
	}

	s.logger.Debug("artifact preserved",
		"digest", mutator.FormatDigest(digest),
		"path", destination,
		"compression", s.tag,
	)
	return destination, nil
}

// Open returns a reader over the original bytes of the preserved
// artifact with the given digest, transparently decompressing.
// Returns an error wrapping fs.ErrNotExist when the store has no such
// artifact.
func (s *Store) Open(digest mutator.Digest) (io.ReadCloser, error) {
	path, tag, ok := s.locate(digest)
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", mutator.FormatDigest(digest), fs.ErrNotExist)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening preserved artifact %s: %w", path, err)
	}
	reader, release, err := newDecompressor(file, tag)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &artifactReader{Reader: reader, release: release, file: file}, nil
}

// artifactReader couples the decompressor's state with the underlying
// file so one Close tears down both.
type artifactReader struct {
	io.Reader
	release func()
	file    *os.File
}

func (r *artifactReader) Close() error {
	r.release()
	return r.file.Close()
}
