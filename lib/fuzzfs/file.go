// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzfs

import (
	"context"
	"os"
	"sync"
	"syscall"
	"unsafe"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/deepsight/FATS/lib/mutator"
)

// fileHandle serves I/O for one open descriptor. The same type backs
// all three kinds of open — fuzzed (descriptor on the scratch
// artifact, registered in the handle table), policy passthrough, and
// freshly created files — because the descriptor-level operations are
// identical. Only the release path distinguishes them: a handle table
// hit means there is an artifact to dispose of.
type fileHandle struct {
	mount   *mountState
	virtual string

	// digest identifies the artifact content of a fuzzed handle.
	// Zero otherwise.
	digest mutator.Digest
	fuzzed bool

	// mu orders descriptor operations against Release, which
	// invalidates fd. go-fuse issues operations for one handle
	// concurrently.
	mu sync.Mutex
	fd int
}

var _ fs.FileReader = (*fileHandle)(nil)
var _ fs.FileWriter = (*fileHandle)(nil)
var _ fs.FileGetattrer = (*fileHandle)(nil)
var _ fs.FileSetattrer = (*fileHandle)(nil)
var _ fs.FileLseeker = (*fileHandle)(nil)
var _ fs.FileFlusher = (*fileHandle)(nil)
var _ fs.FileFsyncer = (*fileHandle)(nil)
var _ fs.FileReleaser = (*fileHandle)(nil)

// newFileHandle wraps a descriptor on a real (unmutated) file.
func newFileHandle(fd int, mount *mountState, virtual string) *fileHandle {
	return &fileHandle{fd: fd, mount: mount, virtual: virtual}
}

// newFuzzedFileHandle wraps a descriptor on a scratch artifact.
func newFuzzedFileHandle(fd int, mount *mountState, virtual string, digest mutator.Digest) *fileHandle {
	return &fileHandle{fd: fd, mount: mount, virtual: virtual, digest: digest, fuzzed: true}
}

// Read fills dest from the backing descriptor at off. For a fuzzed
// handle that descriptor is the scratch artifact: the original file
// is never read again after open.
func (f *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count, err := syscall.Pread(f.fd, dest, off)
	if err != nil {
		return nil, fs.ToErrno(err)
	}
	return fuse.ReadResultData(dest[:count]), 0
}

// Write stores data at off in the backing file. Writes through a
// fuzzed handle land in the artifact and die with it on release.
func (f *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count, err := syscall.Pwrite(f.fd, data, off)
	if err != nil {
		return 0, fs.ToErrno(err)
	}
	return uint32(count), 0
}

func (f *fileHandle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	f.mu.Lock()
	defer f.mu.Unlock()
	var st syscall.Stat_t
	if err := syscall.Fstat(f.fd, &st); err != nil {
		return fs.ToErrno(err)
	}
	fillAttr(&st, &out.Attr)
	return 0
}

// Setattr applies chmod, chown, utimens, and truncate to the backing
// file. Truncating a fuzzed handle truncates the scratch artifact;
// the mirrored file is never altered through a handle.
func (f *fileHandle) Setattr(ctx context.Context, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	f.mu.Lock()
	defer f.mu.Unlock()

	if mode, ok := in.GetMode(); ok {
		if err := syscall.Fchmod(f.fd, mode); err != nil {
			return fs.ToErrno(err)
		}
	}
	if uid, gid, ok := chownIDs(in); ok {
		if err := syscall.Fchown(f.fd, uid, gid); err != nil {
			return fs.ToErrno(err)
		}
	}
	if times, ok := timesFromSetAttr(in); ok {
		if err := futimens(f.fd, &times); err != nil {
			return fs.ToErrno(err)
		}
	}
	if size, ok := in.GetSize(); ok {
		if err := syscall.Ftruncate(f.fd, int64(size)); err != nil {
			return fs.ToErrno(err)
		}
	}

	var st syscall.Stat_t
	if err := syscall.Fstat(f.fd, &st); err != nil {
		return fs.ToErrno(err)
	}
	fillAttr(&st, &out.Attr)
	return 0
}

func (f *fileHandle) Lseek(ctx context.Context, off uint64, whence uint32) (uint64, syscall.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()
	offset, err := unix.Seek(f.fd, int64(off), int(whence))
	if err != nil {
		return 0, fs.ToErrno(err)
	}
	return uint64(offset), 0
}

// Flush is called on every close of a descriptor referring to this
// handle. The backing file is private to the handle, so there is no
// dup-and-close dance; syncing data down is all that is useful.
func (f *fileHandle) Flush(ctx context.Context) syscall.Errno {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fs.ToErrno(syscall.Fsync(f.fd))
}

func (f *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fs.ToErrno(syscall.Fsync(f.fd))
}

// Release closes the descriptor and disposes of the scratch artifact
// exactly once. The handle table entry is consumed atomically and fd
// is invalidated under the lock, so a duplicate release neither
// deletes twice nor closes a reused descriptor number.
func (f *fileHandle) Release(ctx context.Context) syscall.Errno {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fd < 0 {
		return 0
	}

	state := f.mount
	if artifactPath, ok := state.handles.Take(f.fd); ok {
		f.disposeArtifact(artifactPath)
		state.journalRelease(f.virtual, mutator.FormatDigest(f.digest))
	}
	state.stats.Releases.Add(1)

	// Take before close: once the descriptor number is released to
	// the kernel it can back a new open, and the entry under that
	// number would belong to someone else.
	err := syscall.Close(f.fd)
	f.fd = -1
	return fs.ToErrno(err)
}

// disposeArtifact archives the artifact when a corpus store is
// configured, then removes it from the scratch directory. Disposal
// failures are logged, never surfaced: the release must succeed so
// the application's close does.
func (f *fileHandle) disposeArtifact(artifactPath string) {
	state := f.mount
	if state.options.Corpus != nil {
		if _, err := state.options.Corpus.Preserve(artifactPath, f.digest); err != nil {
			state.options.Logger.Warn("preserving artifact failed",
				"path", f.virtual,
				"artifact", artifactPath,
				"error", err,
			)
		} else {
			state.stats.Preserved.Add(1)
		}
	}
	if err := os.Remove(artifactPath); err != nil {
		state.options.Logger.Warn("removing artifact failed",
			"artifact", artifactPath,
			"error", err,
		)
	}
}

// futimens calls utimensat(2) with a null pathname, applying the
// times to the open descriptor itself.
func futimens(fd int, times *[2]syscall.Timespec) error {
	_, _, errno := syscall.Syscall6(
		syscall.SYS_UTIMENSAT,
		uintptr(fd),
		0,
		uintptr(unsafe.Pointer(times)),
		0, 0, 0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}
