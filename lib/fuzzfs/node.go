// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzfs

import (
	"context"
	"os"
	"path/filepath"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"
)

// node is one entry in the mirrored tree. A single type serves files,
// directories, and symlinks; the kernel routes operations by the mode
// in the stable attributes. Every operation except Open and Create is
// a direct forward to the host filesystem.
type node struct {
	fs.Inode
	mount *mountState
}

var _ fs.InodeEmbedder = (*node)(nil)
var _ fs.NodeLookuper = (*node)(nil)
var _ fs.NodeAccesser = (*node)(nil)
var _ fs.NodeGetattrer = (*node)(nil)
var _ fs.NodeSetattrer = (*node)(nil)
var _ fs.NodeReaddirer = (*node)(nil)
var _ fs.NodeReadlinker = (*node)(nil)
var _ fs.NodeOpener = (*node)(nil)
var _ fs.NodeCreater = (*node)(nil)
var _ fs.NodeMknoder = (*node)(nil)
var _ fs.NodeMkdirer = (*node)(nil)
var _ fs.NodeRmdirer = (*node)(nil)
var _ fs.NodeUnlinker = (*node)(nil)
var _ fs.NodeSymlinker = (*node)(nil)
var _ fs.NodeRenamer = (*node)(nil)
var _ fs.NodeLinker = (*node)(nil)
var _ fs.NodeStatfser = (*node)(nil)

// virtualPath is the mount-relative path of this node with a leading
// slash; "/" for the root. This is the form the policy matches and
// the journal records.
func (n *node) virtualPath() string {
	return "/" + n.Path(n.Root())
}

// realPath resolves this node against the mirror root.
func (n *node) realPath() string {
	return n.mount.mapper.Resolve(n.Path(n.Root()))
}

// realChildPath resolves a child of this node.
func (n *node) realChildPath(name string) string {
	return n.mount.mapper.Resolve(filepath.Join(n.Path(n.Root()), name))
}

// newChildNode wraps a stat result into an inode for a child entry.
func (n *node) newChildNode(ctx context.Context, st *syscall.Stat_t) *fs.Inode {
	return n.NewInode(ctx, &node{mount: n.mount}, idFromStat(n.mount.rootDev, st))
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	var st syscall.Stat_t
	if err := syscall.Lstat(n.realChildPath(name), &st); err != nil {
		return nil, fs.ToErrno(err)
	}
	fillAttr(&st, &out.Attr)
	return n.newChildNode(ctx, &st), 0
}

// Access forwards the kernel's permission probe to the host
// filesystem, evaluated with this process's credentials: the mount
// serves exactly what the daemon itself can reach.
func (n *node) Access(ctx context.Context, mask uint32) syscall.Errno {
	return fs.ToErrno(syscall.Access(n.realPath(), mask))
}

func (n *node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	// Through an open handle the attributes come from the backing
	// file — for a fuzzed handle that is the artifact, whose size has
	// nothing to do with the original's.
	if handle, ok := fh.(*fileHandle); ok {
		return handle.Getattr(ctx, out)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(n.realPath(), &st); err != nil {
		return fs.ToErrno(err)
	}
	fillAttr(&st, &out.Attr)
	return 0
}

// Setattr handles chmod, chown, utimens, and truncate. Requests that
// arrive through an open handle apply to the handle's backing file;
// handle-less requests apply to the mirrored path.
func (n *node) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if handle, ok := fh.(*fileHandle); ok {
		return handle.Setattr(ctx, in, out)
	}

	real := n.realPath()

	if mode, ok := in.GetMode(); ok {
		if err := syscall.Chmod(real, mode); err != nil {
			return fs.ToErrno(err)
		}
	}
	if uid, gid, ok := chownIDs(in); ok {
		if err := syscall.Chown(real, uid, gid); err != nil {
			return fs.ToErrno(err)
		}
	}
	if times, ok := timesFromSetAttr(in); ok {
		ts := []unix.Timespec{
			{Sec: times[0].Sec, Nsec: times[0].Nsec},
			{Sec: times[1].Sec, Nsec: times[1].Nsec},
		}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, real, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return fs.ToErrno(err)
		}
	}
	if size, ok := in.GetSize(); ok {
		if err := syscall.Truncate(real, int64(size)); err != nil {
			return fs.ToErrno(err)
		}
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(real, &st); err != nil {
		return fs.ToErrno(err)
	}
	fillAttr(&st, &out.Attr)
	return 0
}

// Open is the interception point. A mutating policy decision routes
// through the mutation pipeline and returns a handle backed by a
// fresh scratch artifact; a skip decision opens the real file. The
// artifact's size differs from any attributes the kernel has seen, so
// fuzzed handles force direct I/O to keep reads honest.
func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	state := n.mount
	virtual := n.virtualPath()
	real := n.realPath()

	// The kernel supplies explicit offsets for every write; an
	// O_APPEND descriptor would silently override them.
	flags = flags &^ syscall.O_APPEND

	var st syscall.Stat_t
	if err := syscall.Lstat(real, &st); err != nil {
		return nil, 0, fs.ToErrno(err)
	}

	if decision := state.options.Policy.Decide(virtual, st.Size); !decision.Mutate {
		state.options.Logger.Debug("open passed through",
			"path", virtual,
			"reason", decision.Reason,
		)
		handle, errno := state.openPassthrough(virtual, real, flags)
		if errno != 0 {
			return nil, 0, errno
		}
		return handle, 0, 0
	}

	handle, errno := state.openFuzzed(ctx, virtual, real, flags)
	if errno != 0 {
		return nil, 0, errno
	}
	return handle, fuse.FOPEN_DIRECT_IO, 0
}

// Create makes a brand-new file in the mirror and opens it directly.
// A just-created file has no content to mutate, so creation is never
// a fuzzing event and the handle owns no table entry.
func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	real := n.realChildPath(name)

	flags = flags &^ syscall.O_APPEND
	fd, err := syscall.Open(real, int(flags)|os.O_CREATE, mode)
	if err != nil {
		return nil, nil, 0, fs.ToErrno(err)
	}
	n.preserveOwner(ctx, real)

	var st syscall.Stat_t
	if err := syscall.Fstat(fd, &st); err != nil {
		syscall.Close(fd)
		return nil, nil, 0, fs.ToErrno(err)
	}
	fillAttr(&st, &out.Attr)

	child := n.newChildNode(ctx, &st)
	handle := newFileHandle(fd, n.mount, "/"+filepath.Join(n.Path(n.Root()), name))
	return child, handle, 0, 0
}

func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	return openDirStream(n.realPath())
}

// Readlink reads the target of a mirrored symlink.
func (n *node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := os.Readlink(n.realPath())
	if err != nil {
		return nil, fs.ToErrno(err)
	}
	rewritten, ok := rewriteLinkTarget(n.mount.mapper.Root(), target)
	if !ok {
		return nil, syscall.EIO
	}
	return []byte(rewritten), 0
}

// rewriteLinkTarget maps an absolute symlink target to a path
// relative to the mirror root, so a link pointing inside the tree
// resolves inside the mount instead of escaping to the host path.
// Relative targets pass through unchanged.
func rewriteLinkTarget(root, target string) (string, bool) {
	if !filepath.IsAbs(target) {
		return target, true
	}
	relative, err := filepath.Rel(root, target)
	if err != nil {
		return "", false
	}
	return relative, true
}

func (n *node) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	real := n.realChildPath(name)
	if err := syscall.Mknod(real, mode, int(dev)); err != nil {
		return nil, fs.ToErrno(err)
	}
	n.preserveOwner(ctx, real)

	var st syscall.Stat_t
	if err := syscall.Lstat(real, &st); err != nil {
		syscall.Unlink(real)
		return nil, fs.ToErrno(err)
	}
	fillAttr(&st, &out.Attr)
	return n.newChildNode(ctx, &st), 0
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	real := n.realChildPath(name)
	if err := os.Mkdir(real, os.FileMode(mode)); err != nil {
		return nil, fs.ToErrno(err)
	}
	n.preserveOwner(ctx, real)

	var st syscall.Stat_t
	if err := syscall.Lstat(real, &st); err != nil {
		syscall.Rmdir(real)
		return nil, fs.ToErrno(err)
	}
	fillAttr(&st, &out.Attr)
	return n.newChildNode(ctx, &st), 0
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return fs.ToErrno(syscall.Rmdir(n.realChildPath(name)))
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return fs.ToErrno(syscall.Unlink(n.realChildPath(name)))
}

func (n *node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	real := n.realChildPath(name)
	if err := syscall.Symlink(target, real); err != nil {
		return nil, fs.ToErrno(err)
	}
	n.preserveOwner(ctx, real)

	var st syscall.Stat_t
	if err := syscall.Lstat(real, &st); err != nil {
		syscall.Unlink(real)
		return nil, fs.ToErrno(err)
	}
	fillAttr(&st, &out.Attr)
	return n.newChildNode(ctx, &st), 0
}

// Rename moves name under this node to newName under newParent.
// Exchange and noreplace flags forward to renameat2.
func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	oldReal := n.realChildPath(name)
	newReal := n.mount.mapper.Resolve(filepath.Join(newParent.EmbeddedInode().Path(nil), newName))

	if flags != 0 {
		return fs.ToErrno(unix.Renameat2(unix.AT_FDCWD, oldReal, unix.AT_FDCWD, newReal, uint(flags)))
	}
	return fs.ToErrno(syscall.Rename(oldReal, newReal))
}

func (n *node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	real := n.realChildPath(name)
	targetReal := n.mount.mapper.Resolve(target.EmbeddedInode().Path(nil))
	if err := syscall.Link(targetReal, real); err != nil {
		return nil, fs.ToErrno(err)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(real, &st); err != nil {
		syscall.Unlink(real)
		return nil, fs.ToErrno(err)
	}
	fillAttr(&st, &out.Attr)
	return n.newChildNode(ctx, &st), 0
}

func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	var st syscall.Statfs_t
	if err := syscall.Statfs(n.realPath(), &st); err != nil {
		return fs.ToErrno(err)
	}
	out.FromStatfsT(&st)
	return 0
}

// preserveOwner mirrors the calling process's uid/gid onto a freshly
// created entry when the daemon runs as root, so files made through
// the mount do not all come out root-owned.
func (n *node) preserveOwner(ctx context.Context, realPath string) {
	if os.Getuid() != 0 {
		return
	}
	caller, ok := fuse.FromContext(ctx)
	if !ok {
		return
	}
	syscall.Lchown(realPath, int(caller.Uid), int(caller.Gid))
}

// idFromStat derives the stable kernel-visible identity from a stat
// result. The device bits are folded into the inode number so a
// mirror spanning filesystems cannot collide two files that share an
// inode number.
func idFromStat(rootDev uint64, st *syscall.Stat_t) fs.StableAttr {
	swapped := (uint64(st.Dev) << 32) | (uint64(st.Dev) >> 32)
	swappedRoot := (rootDev << 32) | (rootDev >> 32)
	return fs.StableAttr{
		Mode: uint32(st.Mode),
		Gen:  1,
		Ino:  (swapped ^ swappedRoot) ^ st.Ino,
	}
}

// fillAttr copies the served attribute subset out of a stat result:
// timestamps, owner, mode, link count, size. Device and block fields
// stay zero.
func fillAttr(st *syscall.Stat_t, out *fuse.Attr) {
	out.Mode = uint32(st.Mode)
	out.Nlink = uint32(st.Nlink)
	out.Size = uint64(st.Size)
	out.Owner = fuse.Owner{Uid: st.Uid, Gid: st.Gid}
	out.Atime = uint64(st.Atim.Sec)
	out.Atimensec = uint32(st.Atim.Nsec)
	out.Mtime = uint64(st.Mtim.Sec)
	out.Mtimensec = uint32(st.Mtim.Nsec)
	out.Ctime = uint64(st.Ctim.Sec)
	out.Ctimensec = uint32(st.Ctim.Nsec)
}

// chownIDs extracts the chown payload from a SETATTR request; -1
// leaves that ID unchanged, matching chown(2).
func chownIDs(in *fuse.SetAttrIn) (uid, gid int, ok bool) {
	newUID, hasUID := in.GetUID()
	newGID, hasGID := in.GetGID()
	if !hasUID && !hasGID {
		return 0, 0, false
	}
	uid, gid = -1, -1
	if hasUID {
		uid = int(newUID)
	}
	if hasGID {
		gid = int(newGID)
	}
	return uid, gid, true
}

// timesFromSetAttr extracts the utimens payload from a SETATTR
// request. An omitted side becomes UTIME_OMIT. Returns false when the
// request carries no time change.
func timesFromSetAttr(in *fuse.SetAttrIn) ([2]syscall.Timespec, bool) {
	atime, hasAtime := in.GetATime()
	mtime, hasMtime := in.GetMTime()
	if !hasAtime && !hasMtime {
		return [2]syscall.Timespec{}, false
	}
	atimePointer, mtimePointer := &atime, &mtime
	if !hasAtime {
		atimePointer = nil
	}
	if !hasMtime {
		mtimePointer = nil
	}
	return [2]syscall.Timespec{
		fuse.UtimeToTimespec(atimePointer),
		fuse.UtimeToTimespec(mtimePointer),
	}, true
}
