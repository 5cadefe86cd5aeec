// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

package mutator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zeebo/blake3"
)

// writeStubTool writes an executable shell script to dir and returns
// its path. Tests use stub tools instead of a real radamsa so outputs
// are deterministic.
func writeStubTool(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("writing stub tool: %v", err)
	}
	return path
}

// countScratch returns the number of scratch artifacts in dir.
func countScratch(t *testing.T, dir string) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "fats-*"))
	if err != nil {
		t.Fatalf("globbing scratch dir: %v", err)
	}
	return len(matches)
}

func newTestCommand(t *testing.T, script string, timeout time.Duration) (*Command, string) {
	t.Helper()
	dir := t.TempDir()
	scratch := t.TempDir()
	tool := writeStubTool(t, dir, "stub-mutator", script)
	command, err := NewCommand(Options{
		Tool:       tool,
		ScratchDir: scratch,
		Timeout:    timeout,
	})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	return command, scratch
}

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.bin")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing source: %v", err)
	}
	return path
}

func TestCommandMutate(t *testing.T) {
	// The stub copies its input and appends one byte, so the mutated
	// content is predictable.
	command, scratch := newTestCommand(t, `cat "$1"; printf '!'`, 0)
	source := writeSource(t, "hello")

	result, err := command.Mutate(context.Background(), source)
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	defer os.Remove(result.ArtifactPath)

	content, err := os.ReadFile(result.ArtifactPath)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	if string(content) != "hello!" {
		t.Errorf("artifact content = %q, want %q", content, "hello!")
	}

	if result.Size != int64(len("hello!")) {
		t.Errorf("Size = %d, want %d", result.Size, len("hello!"))
	}

	if want := Digest(blake3.Sum256([]byte("hello!"))); result.Digest != want {
		t.Errorf("Digest = %s, want %s", FormatDigest(result.Digest), FormatDigest(want))
	}

	if filepath.Dir(result.ArtifactPath) != scratch {
		t.Errorf("artifact %s not in scratch dir %s", result.ArtifactPath, scratch)
	}

	// The source file is untouched.
	original, err := os.ReadFile(source)
	if err != nil {
		t.Fatal(err)
	}
	if string(original) != "hello" {
		t.Errorf("source changed to %q", original)
	}
}

func TestCommandMutateIndependentArtifacts(t *testing.T) {
	command, scratch := newTestCommand(t, `cat "$1"`, 0)
	source := writeSource(t, "data")

	first, err := command.Mutate(context.Background(), source)
	if err != nil {
		t.Fatalf("first Mutate: %v", err)
	}
	defer os.Remove(first.ArtifactPath)

	second, err := command.Mutate(context.Background(), source)
	if err != nil {
		t.Fatalf("second Mutate: %v", err)
	}
	defer os.Remove(second.ArtifactPath)

	if first.ArtifactPath == second.ArtifactPath {
		t.Errorf("both mutations produced the same artifact %s", first.ArtifactPath)
	}
	if got := countScratch(t, scratch); got != 2 {
		t.Errorf("scratch dir holds %d artifacts, want 2", got)
	}
}

func TestCommandMutateExtraArgs(t *testing.T) {
	dir := t.TempDir()
	scratch := t.TempDir()
	// Echo all arguments so the test can verify ordering: extra args
	// first, source path last.
	tool := writeStubTool(t, dir, "stub-mutator", `printf '%s\n' "$@"`)
	command, err := NewCommand(Options{
		Tool:       tool,
		Args:       []string{"--seed", "7"},
		ScratchDir: scratch,
	})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}

	source := writeSource(t, "x")
	result, err := command.Mutate(context.Background(), source)
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	defer os.Remove(result.ArtifactPath)

	content, err := os.ReadFile(result.ArtifactPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	want := []string{"--seed", "7", source}
	if len(lines) != len(want) {
		t.Fatalf("tool saw %d args %v, want %v", len(lines), lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("arg %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestCommandMutateToolMissingFromPath(t *testing.T) {
	scratch := t.TempDir()
	command, err := NewCommand(Options{
		Tool:       "fats-test-no-such-tool",
		ScratchDir: scratch,
	})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}

	source := writeSource(t, "data")
	_, err = command.Mutate(context.Background(), source)
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("Mutate error = %v, want ErrToolNotFound", err)
	}

	if got := countScratch(t, scratch); got != 0 {
		t.Errorf("scratch dir holds %d artifacts after failure, want 0", got)
	}
}

func TestCommandMutateToolMissingAbsolute(t *testing.T) {
	scratch := t.TempDir()
	command, err := NewCommand(Options{
		Tool:       filepath.Join(t.TempDir(), "missing-tool"),
		ScratchDir: scratch,
	})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}

	source := writeSource(t, "data")
	_, err = command.Mutate(context.Background(), source)
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("Mutate error = %v, want ErrToolNotFound", err)
	}

	if got := countScratch(t, scratch); got != 0 {
		t.Errorf("scratch dir holds %d artifacts after failure, want 0", got)
	}
}

func TestCommandMutateNonZeroExit(t *testing.T) {
	command, scratch := newTestCommand(t, `echo "mutation backend on fire" >&2; exit 3`, 0)
	source := writeSource(t, "data")

	_, err := command.Mutate(context.Background(), source)
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}

	code, ok := IsExitError(err)
	if !ok {
		t.Fatalf("expected ExitError, got: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
	if !strings.Contains(err.Error(), "mutation backend on fire") {
		t.Errorf("error %q does not carry the tool's stderr", err)
	}

	if got := countScratch(t, scratch); got != 0 {
		t.Errorf("scratch dir holds %d artifacts after failure, want 0", got)
	}
}

func TestCommandMutateTimeout(t *testing.T) {
	// exec so the sleep is the direct child: the timeout kill must not
	// leave an orphan holding the stdout pipe open.
	command, scratch := newTestCommand(t, `exec sleep 5`, 100*time.Millisecond)
	source := writeSource(t, "data")

	start := time.Now()
	_, err := command.Mutate(context.Background(), source)
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Mutate error = %v, want DeadlineExceeded", err)
	}
	if elapsed > 3*time.Second {
		t.Errorf("Mutate took %v, timeout did not bound the run", elapsed)
	}

	if got := countScratch(t, scratch); got != 0 {
		t.Errorf("scratch dir holds %d artifacts after timeout, want 0", got)
	}
}

func TestCommandMutateEmptyOutput(t *testing.T) {
	// A tool that writes nothing still produces a valid, empty
	// artifact; serving zero mutated bytes is the tool's call.
	command, _ := newTestCommand(t, `:`, 0)
	source := writeSource(t, "data")

	result, err := command.Mutate(context.Background(), source)
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	defer os.Remove(result.ArtifactPath)

	if result.Size != 0 {
		t.Errorf("Size = %d, want 0", result.Size)
	}
	if want := Digest(blake3.Sum256(nil)); result.Digest != want {
		t.Errorf("Digest = %s, want digest of empty input", FormatDigest(result.Digest))
	}
}

func TestNewCommandValidation(t *testing.T) {
	if _, err := NewCommand(Options{}); err == nil {
		t.Error("NewCommand should reject empty Tool")
	}
	if _, err := NewCommand(Options{Tool: "radamsa", Timeout: -time.Second}); err == nil {
		t.Error("NewCommand should reject negative Timeout")
	}
}

func TestMutatorFunc(t *testing.T) {
	called := false
	var m Mutator = MutatorFunc(func(ctx context.Context, sourcePath string) (*Result, error) {
		called = true
		return &Result{ArtifactPath: "/tmp/x"}, nil
	})

	result, err := m.Mutate(context.Background(), "/src")
	if err != nil {
		t.Fatal(err)
	}
	if !called || result.ArtifactPath != "/tmp/x" {
		t.Error("MutatorFunc did not forward the call")
	}
}

func TestFormatParseDigest(t *testing.T) {
	digest := Digest(blake3.Sum256([]byte("sample")))

	formatted := FormatDigest(digest)
	if len(formatted) != 64 {
		t.Fatalf("formatted digest length = %d, want 64", len(formatted))
	}

	parsed, err := ParseDigest(formatted)
	if err != nil {
		t.Fatalf("ParseDigest: %v", err)
	}
	if parsed != digest {
		t.Error("digest roundtrip mismatch")
	}

	if _, err := ParseDigest("zz"); err == nil {
		t.Error("ParseDigest should reject non-hex input")
	}
	if _, err := ParseDigest("00ff"); err == nil {
		t.Error("ParseDigest should reject short input")
	}
}
