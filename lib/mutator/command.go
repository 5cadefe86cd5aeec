// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

package mutator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// scratchPattern names scratch artifacts so leaked files are
// attributable (and countable in tests).
const scratchPattern = "fats-*"

// Options configure a Command mutator.
type Options struct {
	// Tool is the mutation executable. Resolved via PATH when not an
	// absolute path. Required.
	Tool string

	// Args are extra arguments placed before the source path. The
	// absolute source path is always appended as the final argument.
	Args []string

	// ScratchDir is where mutated artifacts are written. Defaults to
	// os.TempDir().
	ScratchDir string

	// Timeout bounds a single mutation run. Zero means unbounded: a
	// hung tool blocks only the open that invoked it.
	Timeout time.Duration
}

// Command runs an external mutation tool (radamsa by convention) and
// captures its stdout as the mutated artifact. The tool is invoked
// once per Mutate call with the source path as its only positional
// argument, so repeated opens of the same file yield independent
// mutations.
type Command struct {
	tool       string
	args       []string
	scratchDir string
	timeout    time.Duration
}

var _ Mutator = (*Command)(nil)

// NewCommand validates options and returns a Command mutator.
func NewCommand(options Options) (*Command, error) {
	if options.Tool == "" {
		return nil, fmt.Errorf("mutator: Tool is required")
	}
	if options.ScratchDir == "" {
		options.ScratchDir = os.TempDir()
	}
	if options.Timeout < 0 {
		return nil, fmt.Errorf("mutator: Timeout must not be negative")
	}
	return &Command{
		tool:       options.Tool,
		args:       options.Args,
		scratchDir: options.ScratchDir,
		timeout:    options.Timeout,
	}, nil
}

// Mutate runs the tool against sourcePath and streams its stdout into
// a fresh scratch file, hashing the bytes as they pass. On any failure
// the scratch file is removed before the error returns; the caller
// owns the artifact only on success.
func (m *Command) Mutate(ctx context.Context, sourcePath string) (result *Result, err error) {
	scratch, err := os.CreateTemp(m.scratchDir, scratchPattern)
	if err != nil {
		return nil, fmt.Errorf("creating scratch file in %s: %w", m.scratchDir, err)
	}
	scratchPath := scratch.Name()
	defer func() {
		if err != nil {
			scratch.Close()
			os.Remove(scratchPath)
		}
	}()

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	args := make([]string, 0, len(m.args)+1)
	args = append(args, m.args...)
	args = append(args, sourcePath)

	hasher := blake3.New()
	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, m.tool, args...)
	cmd.Stdout = io.MultiWriter(scratch, hasher)
	cmd.Stderr = &stderr

	if runErr := cmd.Run(); runErr != nil {
		// exec.ErrNotFound covers PATH lookup failures; fs.ErrNotExist
		// covers absolute tool paths that do not exist.
		if errors.Is(runErr, exec.ErrNotFound) || errors.Is(runErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrToolNotFound, m.tool)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("mutating %s: timed out after %v: %w",
				sourcePath, m.timeout, context.DeadlineExceeded)
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, &ExitError{
				Code:   exitErr.ExitCode(),
				Stderr: strings.TrimSpace(stderr.String()),
			}
		}
		return nil, fmt.Errorf("running %s: %w (stderr: %s)",
			m.tool, runErr, strings.TrimSpace(stderr.String()))
	}

	info, err := scratch.Stat()
	if err != nil {
		return nil, fmt.Errorf("statting scratch file: %w", err)
	}
	if err := scratch.Close(); err != nil {
		return nil, fmt.Errorf("closing scratch file: %w", err)
	}

	var digest Digest
	copy(digest[:], hasher.Sum(nil))

	return &Result{
		ArtifactPath: scratchPath,
		Digest:       digest,
		Size:         info.Size(),
	}, nil
}
