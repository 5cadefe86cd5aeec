// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzfs

// End-to-end tests through a real kernel mount. Everything here needs
// /dev/fuse and skips without it; the kernel-independent lifecycle
// coverage lives in intercept_test.go.

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/deepsight/FATS/lib/mutator"
	"github.com/deepsight/FATS/lib/policy"
	"github.com/deepsight/FATS/lib/testutil"
)

// fuseAvailable checks whether /dev/fuse is accessible. Tests that
// need a real mount call this and skip if the device is absent.
func fuseAvailable(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

// stubCommand builds a Command mutator around a small shell script,
// so mount tests exercise the real subprocess pipeline with
// deterministic output.
func stubCommand(t *testing.T, scratch, script string) *mutator.Command {
	t.Helper()
	tool := filepath.Join(t.TempDir(), "stub-mutator")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("writing stub tool: %v", err)
	}
	command, err := mutator.NewCommand(mutator.Options{
		Tool:       tool,
		ScratchDir: scratch,
	})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	return command
}

// mountFixture is a live mount over a fresh source tree.
type mountFixture struct {
	Source     string
	Mountpoint string
	Scratch    string
	Server     *Server
}

// newMountFixture mounts an empty source directory with an appending
// stub mutator. configure may override options before the mount; a
// nil Mutator after configure gets the default `cat "$1"; printf '!'`
// stub.
func newMountFixture(t *testing.T, configure func(*Options)) *mountFixture {
	t.Helper()
	fuseAvailable(t)

	root := t.TempDir()
	fixture := &mountFixture{
		Source:     filepath.Join(root, "source"),
		Mountpoint: filepath.Join(root, "mount"),
		Scratch:    filepath.Join(root, "scratch"),
	}
	for _, dir := range []string{fixture.Source, fixture.Mountpoint, fixture.Scratch} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatalf("Mkdir: %v", err)
		}
	}

	options := Options{
		SourceDir:  fixture.Source,
		Mountpoint: fixture.Mountpoint,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if configure != nil {
		configure(&options)
	}
	if options.Mutator == nil {
		options.Mutator = stubCommand(t, fixture.Scratch, `cat "$1"; printf '!'`)
	}

	server, err := Mount(options)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	fixture.Server = server
	t.Cleanup(func() {
		if err := server.Unmount(); err != nil {
			t.Errorf("Unmount: %v", err)
		}
	})
	return fixture
}

// waitForCleanScratch polls until every scratch artifact is gone.
// Release arrives asynchronously after close(2), so artifact disposal
// is eventually-visible from the test's point of view.
func waitForCleanScratch(t *testing.T, scratch string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		entries, err := os.ReadDir(scratch)
		if err != nil {
			t.Fatalf("reading scratch dir: %v", err)
		}
		if len(entries) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("scratch still holds %d artifacts", len(entries))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMountServesMutatedBytes(t *testing.T) {
	fixture := newMountFixture(t, nil)
	writeSource(t, fixture.Source, "a.txt", "hello")

	got, err := os.ReadFile(filepath.Join(fixture.Mountpoint, "a.txt"))
	if err != nil {
		t.Fatalf("ReadFile through mount: %v", err)
	}
	if string(got) != "hello!" {
		t.Errorf("mounted content = %q, want %q", got, "hello!")
	}

	// The source tree is untouched by serving a mutated copy.
	original, err := os.ReadFile(filepath.Join(fixture.Source, "a.txt"))
	if err != nil {
		t.Fatalf("ReadFile source: %v", err)
	}
	if string(original) != "hello" {
		t.Errorf("source content = %q after fuzzed read", original)
	}

	waitForCleanScratch(t, fixture.Scratch)

	stats := fixture.Server.Stats()
	if stats.FuzzedOpens != 1 {
		t.Errorf("FuzzedOpens = %d, want 1", stats.FuzzedOpens)
	}
}

func TestMountEachOpenFreshlyMutated(t *testing.T) {
	fixture := newMountFixture(t, func(options *Options) {
		// Append the tool's PID: distinct per invocation, the way a
		// real mutator's output differs run to run.
		options.Mutator = stubCommand(t, t.TempDir(), `cat "$1"; printf '%d' "$$"`)
	})
	writeSource(t, fixture.Source, "seed.bin", "base-")

	mounted := filepath.Join(fixture.Mountpoint, "seed.bin")
	first, err := os.ReadFile(mounted)
	if err != nil {
		t.Fatalf("first ReadFile: %v", err)
	}
	second, err := os.ReadFile(mounted)
	if err != nil {
		t.Fatalf("second ReadFile: %v", err)
	}
	if string(first) == string(second) {
		t.Errorf("two opens served identical bytes %q", first)
	}
}

func TestMountToolAbsent(t *testing.T) {
	scratch := t.TempDir()
	fixture := newMountFixture(t, func(options *Options) {
		command, err := mutator.NewCommand(mutator.Options{
			Tool:       "fats-mount-test-no-such-tool",
			ScratchDir: scratch,
		})
		if err != nil {
			t.Fatalf("NewCommand: %v", err)
		}
		options.Mutator = command
	})
	writeSource(t, fixture.Source, "a.txt", "hello")

	_, err := os.ReadFile(filepath.Join(fixture.Mountpoint, "a.txt"))
	if !errors.Is(err, syscall.EIO) {
		t.Fatalf("ReadFile error = %v, want EIO", err)
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatalf("reading scratch dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("failed open left %d scratch files", len(entries))
	}
	if got := fixture.Server.Stats().MutationFailures; got != 1 {
		t.Errorf("MutationFailures = %d, want 1", got)
	}
}

func TestMountPolicySkipPassesThrough(t *testing.T) {
	fixture := newMountFixture(t, func(options *Options) {
		options.Policy = &policy.Policy{Skip: []string{"*.so"}}
	})
	writeSource(t, fixture.Source, "libc.so", "machine code")
	writeSource(t, fixture.Source, "input.txt", "hello")

	skipped, err := os.ReadFile(filepath.Join(fixture.Mountpoint, "libc.so"))
	if err != nil {
		t.Fatalf("ReadFile skipped file: %v", err)
	}
	if string(skipped) != "machine code" {
		t.Errorf("skipped file content = %q, want the original", skipped)
	}

	fuzzed, err := os.ReadFile(filepath.Join(fixture.Mountpoint, "input.txt"))
	if err != nil {
		t.Fatalf("ReadFile fuzzed file: %v", err)
	}
	if string(fuzzed) != "hello!" {
		t.Errorf("fuzzed file content = %q, want %q", fuzzed, "hello!")
	}
}

func TestMountPassthroughWriteBack(t *testing.T) {
	fixture := newMountFixture(t, func(options *Options) {
		options.Policy = &policy.Policy{Skip: []string{"*.log"}}
	})
	writeSource(t, fixture.Source, "app.log", "old contents")

	// A policy-skipped open is a plain passthrough handle: writes
	// land in the real file.
	file, err := os.OpenFile(filepath.Join(fixture.Mountpoint, "app.log"), os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := file.WriteAt([]byte("new"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	real, err := os.ReadFile(filepath.Join(fixture.Source, "app.log"))
	if err != nil {
		t.Fatalf("ReadFile source: %v", err)
	}
	if string(real) != "new contents" {
		t.Errorf("source after passthrough write = %q", real)
	}
}

func TestMountFstatSeesMutatedSize(t *testing.T) {
	fixture := newMountFixture(t, nil)
	writeSource(t, fixture.Source, "a.txt", "hello")

	file, err := os.Open(filepath.Join(fixture.Mountpoint, "a.txt"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != int64(len("hello!")) {
		t.Errorf("fstat size = %d, want %d (the artifact's)", info.Size(), len("hello!"))
	}
}

func TestMountGetattrSubset(t *testing.T) {
	fixture := newMountFixture(t, nil)
	writeSource(t, fixture.Source, "a.txt", "hello")

	var st syscall.Stat_t
	if err := syscall.Stat(filepath.Join(fixture.Mountpoint, "a.txt"), &st); err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Size != int64(len("hello")) {
		t.Errorf("path stat size = %d, want the original's %d", st.Size, len("hello"))
	}
	if st.Mode&syscall.S_IFMT != syscall.S_IFREG {
		t.Errorf("mode = %o, not a regular file", st.Mode)
	}
	if st.Nlink != 1 {
		t.Errorf("nlink = %d, want 1", st.Nlink)
	}

	var source syscall.Stat_t
	if err := syscall.Stat(filepath.Join(fixture.Source, "a.txt"), &source); err != nil {
		t.Fatalf("Stat source: %v", err)
	}
	if st.Uid != source.Uid || st.Gid != source.Gid {
		t.Errorf("owner = %d:%d, want %d:%d", st.Uid, st.Gid, source.Uid, source.Gid)
	}
	if st.Mtim != source.Mtim {
		t.Errorf("mtime = %v, want %v", st.Mtim, source.Mtim)
	}
}

func TestMountReaddir(t *testing.T) {
	fixture := newMountFixture(t, nil)
	writeSource(t, fixture.Source, "one", "1")
	writeSource(t, fixture.Source, "two", "2")
	if err := os.Mkdir(filepath.Join(fixture.Source, "sub"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	entries, err := os.ReadDir(fixture.Mountpoint)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := map[string]bool{}
	for _, entry := range entries {
		names[entry.Name()] = true
	}
	if len(entries) != 3 || !names["one"] || !names["two"] || !names["sub"] {
		t.Errorf("ReadDir = %v", names)
	}
}

func TestMountReadlinkRewrite(t *testing.T) {
	fixture := newMountFixture(t, nil)
	writeSource(t, fixture.Source, "target.txt", "data")

	// Absolute target inside the mirror: rewritten relative to the
	// mirror root, so it resolves inside the mount.
	if err := os.Symlink(filepath.Join(fixture.Source, "target.txt"),
		filepath.Join(fixture.Source, "absolute-link")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	got, err := os.Readlink(filepath.Join(fixture.Mountpoint, "absolute-link"))
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if got != "target.txt" {
		t.Errorf("absolute link target = %q, want %q", got, "target.txt")
	}

	// Relative targets pass through unchanged.
	if err := os.Symlink("target.txt",
		filepath.Join(fixture.Source, "relative-link")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	got, err = os.Readlink(filepath.Join(fixture.Mountpoint, "relative-link"))
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if got != "target.txt" {
		t.Errorf("relative link target = %q, want %q", got, "target.txt")
	}
}

func TestMountCreateNotFuzzed(t *testing.T) {
	fixture := newMountFixture(t, nil)

	// Create writes a brand-new real file; nothing about the create
	// handle goes through the mutation pipeline.
	path := filepath.Join(fixture.Mountpoint, "fresh.txt")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := file.Write([]byte("fresh")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Read back through the same handle: the create handle serves the
	// real bytes, not a mutation.
	back := make([]byte, 16)
	n, err := file.ReadAt(back, 0)
	if err != nil && err != io.EOF {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(back[:n]) != "fresh" {
		t.Errorf("create handle read = %q, want %q", back[:n], "fresh")
	}
	if err := file.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	real, err := os.ReadFile(filepath.Join(fixture.Source, "fresh.txt"))
	if err != nil {
		t.Fatalf("ReadFile source: %v", err)
	}
	if string(real) != "fresh" {
		t.Errorf("created file in source = %q, want %q", real, "fresh")
	}
	if got := fixture.Server.Stats().FuzzedOpens; got != 0 {
		t.Errorf("FuzzedOpens = %d after create, want 0", got)
	}
}

func TestMountNamespaceOps(t *testing.T) {
	fixture := newMountFixture(t, nil)
	writeSource(t, fixture.Source, "old-name", "content")

	// Mkdir, rename, link, unlink, rmdir all forward to the source
	// tree.
	if err := os.Mkdir(filepath.Join(fixture.Mountpoint, "dir"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(fixture.Source, "dir")); err != nil {
		t.Errorf("mkdir did not reach the source: %v", err)
	}

	if err := os.Rename(filepath.Join(fixture.Mountpoint, "old-name"),
		filepath.Join(fixture.Mountpoint, "dir", "new-name")); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := os.Stat(filepath.Join(fixture.Source, "dir", "new-name")); err != nil {
		t.Errorf("rename did not reach the source: %v", err)
	}

	if err := os.Link(filepath.Join(fixture.Mountpoint, "dir", "new-name"),
		filepath.Join(fixture.Mountpoint, "hard-link")); err != nil {
		t.Fatalf("Link: %v", err)
	}
	var st syscall.Stat_t
	if err := syscall.Stat(filepath.Join(fixture.Source, "hard-link"), &st); err != nil {
		t.Fatalf("Stat link: %v", err)
	}
	if st.Nlink != 2 {
		t.Errorf("nlink = %d after link, want 2", st.Nlink)
	}

	if err := os.Remove(filepath.Join(fixture.Mountpoint, "hard-link")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := os.Remove(filepath.Join(fixture.Mountpoint, "dir", "new-name")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := os.Remove(filepath.Join(fixture.Mountpoint, "dir")); err != nil {
		t.Fatalf("Rmdir: %v", err)
	}
	entries, err := os.ReadDir(fixture.Source)
	if err != nil {
		t.Fatalf("ReadDir source: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("source not empty after cleanup: %v", entries)
	}
}

func TestMountStatfs(t *testing.T) {
	fixture := newMountFixture(t, nil)

	var st syscall.Statfs_t
	if err := syscall.Statfs(fixture.Mountpoint, &st); err != nil {
		t.Fatalf("Statfs: %v", err)
	}
	if st.Bsize == 0 || st.Blocks == 0 {
		t.Errorf("statfs not forwarded: bsize=%d blocks=%d", st.Bsize, st.Blocks)
	}
}

func TestMountUnmountEndsWait(t *testing.T) {
	fuseAvailable(t)

	root := t.TempDir()
	source := filepath.Join(root, "source")
	mountpoint := filepath.Join(root, "mount")
	if err := os.Mkdir(source, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	server, err := Mount(Options{
		SourceDir:  source,
		Mountpoint: mountpoint,
		Mutator:    stubCommand(t, t.TempDir(), `cat "$1"`),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	done := make(chan struct{})
	go func() {
		server.Wait()
		close(done)
	}()

	if err := server.Unmount(); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
	testutil.RequireClosed(t, done, 5*time.Second, "Wait should return once the mount is gone")
}
