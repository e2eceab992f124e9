// Package wfsfs is the operation surface: a fuseutil.FileSystem that
// translates each kernel op into a resolver query or a mutator append
// against a single *wfsimage.Image. It holds no state of its own beyond
// open directory/file handles; every answer is derived fresh from the
// log, so "last write wins" falls out of always resolving against the
// current head rather than out of any cache this package maintains.
package wfsfs

import (
	"os"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"

	"github.com/eyunku/wfs/internal/wfsdebug"
	"github.com/eyunku/wfs/internal/wfserrors"
	"github.com/eyunku/wfs/internal/wfsfmt"
	"github.com/eyunku/wfs/internal/wfsimage"
	"github.com/eyunku/wfs/internal/wfslog"
	"github.com/eyunku/wfs/internal/wfsmutate"
	"github.com/eyunku/wfs/internal/wfsresolve"
)

// FileSystem implements fuseutil.FileSystem over a WFS image. The kernel
// guarantees ops it expects to happen in order are serialized by the
// caller (fuse-devel's "FUSE guarantees on concurrent requests" thread),
// but separate logical operations can still race each other, so every
// method that reads the image or the handle table takes mu for its
// duration. Init, ForgetInode and ReleaseFileHandle touch neither and
// take no lock.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	mu syncutil.InvariantMutex

	img     *wfsimage.Image
	clock   timeutil.Clock
	mutator *wfsmutate.Mutator

	uid uint32
	gid uint32

	nextHandle fuseops.HandleID
	dirHandles map[fuseops.HandleID][]fuseops.Dirent
}

// New builds a FileSystem over an already-open image. uid/gid are stamped
// onto inodes created through this mount; a single-user mount stamps the
// mounting user's own ids, matching memfs's convention of taking them
// from MountConfig at mount time.
func New(img *wfsimage.Image, clock timeutil.Clock, uid, gid uint32) *FileSystem {
	fs := &FileSystem{
		img:        img,
		clock:      clock,
		mutator:    wfsmutate.New(img, clock),
		uid:        uid,
		gid:        gid,
		dirHandles: make(map[fuseops.HandleID][]fuseops.Dirent),
	}
	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)
	return fs
}

// checkInvariants re-scans the log on every unlock. It's the same check
// wfslog.Build already performs to find the root record; running it here
// too turns a corrupted append into an immediate panic instead of a
// silent wrong answer three ops later.
func (fs *FileSystem) checkInvariants() {
	if _, err := wfslog.Build(fs.img); err != nil {
		wfsdebug.Component("wfsfs").Printf("invariant check failed: %v", err)
		panic(err)
	}
}

// responder is satisfied by every *fuseops.XxxOp; used so respond can be
// shared by every handler below instead of repeating the nil-vs-errno
// dance at each call site.
type responder interface {
	Respond(error)
}

func respond(op responder, err error) {
	if err != nil {
		op.Respond(wfserrors.AsErrno(err))
		return
	}
	op.Respond(nil)
}

// toInternal and toFuse convert between the 32-bit inode numbers this
// on-disk format uses and fuseops.InodeID, which reserves 1 for the root
// (fuseops.RootInodeID) and treats 0 as invalid. The root inode number in
// this format is 0, so the mapping is a plain off-by-one.
func toInternal(id fuseops.InodeID) uint32 { return uint32(id) - 1 }
func toFuse(n uint32) fuseops.InodeID      { return fuseops.InodeID(n) + 1 }

func attrsFromHeader(h wfsfmt.InodeHeader) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  uint64(h.Size),
		Nlink: h.Links,
		Mode:  os.FileMode(h.Mode),
		Atime: time.Unix(int64(h.Atime), 0),
		Mtime: time.Unix(int64(h.Mtime), 0),
		Ctime: time.Unix(int64(h.Ctime), 0),
		Uid:   h.Uid,
		Gid:   h.Gid,
	}
}

func (fs *FileSystem) issueHandle() fuseops.HandleID {
	fs.nextHandle++
	return fs.nextHandle
}

func (fs *FileSystem) Init(op *fuseops.InitOp) {
	respond(op, nil)
}

func (fs *FileSystem) LookUpInode(op *fuseops.LookUpInodeOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	idx, err := wfslog.Build(fs.img)
	if err != nil {
		respond(op, err)
		return
	}
	r := wfsresolve.New(idx)

	child, err := r.LookUp(toInternal(op.Parent), op.Name)
	if err != nil {
		respond(op, err)
		return
	}

	rec, err := r.Live(child)
	if err != nil {
		respond(op, err)
		return
	}

	op.Entry = fuseops.ChildInodeEntry{
		Child:      toFuse(child),
		Attributes: attrsFromHeader(rec.Header),
	}
	respond(op, nil)
}

func (fs *FileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	idx, err := wfslog.Build(fs.img)
	if err != nil {
		respond(op, err)
		return
	}

	rec, err := wfsresolve.New(idx).Live(toInternal(op.Inode))
	if err != nil {
		respond(op, err)
		return
	}

	op.Attributes = attrsFromHeader(rec.Header)
	respond(op, nil)
}

func (fs *FileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	h, err := fs.mutator.SetAttributes(toInternal(op.Inode), op.Size, op.Mode, op.Mtime)
	if err != nil {
		respond(op, err)
		return
	}

	op.Attributes = attrsFromHeader(h)
	respond(op, nil)
}

// ForgetInode is a no-op: nothing here is reference-counted in memory,
// every answer is re-derived from the log on each call.
func (fs *FileSystem) ForgetInode(op *fuseops.ForgetInodeOp) {
	respond(op, nil)
}

func (fs *FileSystem) MkDir(op *fuseops.MkDirOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.mutator.Create(toInternal(op.Parent), op.Name, wfsmutate.KindDir, op.Mode, fs.uid, fs.gid)
	if err != nil {
		respond(op, err)
		return
	}

	idx, err := wfslog.Build(fs.img)
	if err != nil {
		respond(op, err)
		return
	}
	rec, _ := idx.LatestLive(n)

	op.Entry = fuseops.ChildInodeEntry{
		Child:      toFuse(n),
		Attributes: attrsFromHeader(rec.Header),
	}
	respond(op, nil)
}

func (fs *FileSystem) CreateFile(op *fuseops.CreateFileOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.mutator.Create(toInternal(op.Parent), op.Name, wfsmutate.KindFile, op.Mode, fs.uid, fs.gid)
	if err != nil {
		respond(op, err)
		return
	}

	idx, err := wfslog.Build(fs.img)
	if err != nil {
		respond(op, err)
		return
	}
	rec, _ := idx.LatestLive(n)

	op.Entry = fuseops.ChildInodeEntry{
		Child:      toFuse(n),
		Attributes: attrsFromHeader(rec.Header),
	}
	op.Handle = fs.issueHandle()
	respond(op, nil)
}

func (fs *FileSystem) RmDir(op *fuseops.RmDirOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	respond(op, fs.mutator.Rmdir(toInternal(op.Parent), op.Name))
}

func (fs *FileSystem) Unlink(op *fuseops.UnlinkOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	respond(op, fs.mutator.Unlink(toInternal(op.Parent), op.Name))
}

func (fs *FileSystem) OpenDir(op *fuseops.OpenDirOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	idx, err := wfslog.Build(fs.img)
	if err != nil {
		respond(op, err)
		return
	}
	r := wfsresolve.New(idx)

	raw, err := r.Entries(toInternal(op.Inode))
	if err != nil {
		respond(op, err)
		return
	}

	dirents := make([]fuseops.Dirent, 0, len(raw))
	for i, e := range raw {
		dt := fuseops.DT_File
		if childRec, ok := idx.LatestLive(e.Inode); ok && childRec.Header.IsDir() {
			dt = fuseops.DT_Dir
		}
		dirents = append(dirents, fuseops.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  toFuse(e.Inode),
			Name:   e.Name,
			Type:   dt,
		})
	}

	h := fs.issueHandle()
	fs.dirHandles[h] = dirents
	op.Handle = h
	respond(op, nil)
}

func (fs *FileSystem) ReadDir(op *fuseops.ReadDirOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dirents, ok := fs.dirHandles[op.Handle]
	if !ok {
		respond(op, wfserrors.BadHandle("unknown directory handle"))
		return
	}

	buf := make([]byte, op.Size)
	var written int
	for i := int(op.Offset); i < len(dirents); i++ {
		n := fuseutil.WriteDirent(buf[written:], dirents[i])
		if n == 0 {
			break
		}
		written += n
	}
	op.Data = buf[:written]
	respond(op, nil)
}

func (fs *FileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	delete(fs.dirHandles, op.Handle)
	respond(op, nil)
}

func (fs *FileSystem) OpenFile(op *fuseops.OpenFileOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	idx, err := wfslog.Build(fs.img)
	if err != nil {
		respond(op, err)
		return
	}

	rec, err := wfsresolve.New(idx).Live(toInternal(op.Inode))
	if err != nil {
		respond(op, err)
		return
	}
	if rec.Header.IsDir() {
		respond(op, wfserrors.IsADirectory("cannot open a directory as a file"))
		return
	}

	op.Handle = fs.issueHandle()
	respond(op, nil)
}

func (fs *FileSystem) ReadFile(op *fuseops.ReadFileOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	idx, err := wfslog.Build(fs.img)
	if err != nil {
		respond(op, err)
		return
	}

	rec, err := wfsresolve.New(idx).Live(toInternal(op.Inode))
	if err != nil {
		respond(op, err)
		return
	}
	if rec.Header.IsDir() {
		respond(op, wfserrors.IsADirectory("cannot read a directory as a file"))
		return
	}

	start := int(op.Offset)
	if start >= len(rec.Payload) {
		op.Data = nil
		respond(op, nil)
		return
	}

	end := start + op.Size
	if end > len(rec.Payload) {
		end = len(rec.Payload)
	}
	op.Data = append([]byte(nil), rec.Payload[start:end]...)
	respond(op, nil)
}

func (fs *FileSystem) WriteFile(op *fuseops.WriteFileOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	_, err := fs.mutator.Write(toInternal(op.Inode), op.Offset, op.Data)
	respond(op, err)
}

// SyncFile and FlushFile both msync the mapping, writing any dirty mapped
// pages back to the image file. Every mutation is already visible in the
// mapping once its head publish returns; this package keeps no
// write-behind buffer of its own, so the msync is the only work done.
func (fs *FileSystem) SyncFile(op *fuseops.SyncFileOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	respond(op, fs.img.Sync())
}

func (fs *FileSystem) FlushFile(op *fuseops.FlushFileOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	respond(op, fs.img.Sync())
}

func (fs *FileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) {
	respond(op, nil)
}

// Rename applies a rename mutation directly, without going through a
// kernel op. The fuseutil.FileSystem interface this module implements has
// no RenameOp (see DESIGN.md), so a real mount cannot deliver kernel
// rename(2) calls to this filesystem at all; this method exists so the
// mutation itself (fully implemented in wfsmutate) is reachable from Go
// callers and tests despite that gap in the vendored library version.
func (fs *FileSystem) Rename(oldParent uint32, oldName string, newParent uint32, newName string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.mutator.Rename(oldParent, oldName, newParent, newName)
}
