// Package wfsmutate is the mutator: it realizes create, write, rename,
// unlink, and rmdir as append-only log appends, enforcing the space and
// consistency invariants in spec.md §3-§4. Every exported method either
// appends a complete, self-consistent set of records and advances the
// log head once, or leaves the image completely untouched.
package wfsmutate

import (
	"fmt"
	"os"
	"time"

	"github.com/jacobsa/timeutil"

	"github.com/eyunku/wfs/internal/wfsdebug"
	"github.com/eyunku/wfs/internal/wfserrors"
	"github.com/eyunku/wfs/internal/wfsfmt"
	"github.com/eyunku/wfs/internal/wfsimage"
	"github.com/eyunku/wfs/internal/wfslog"
	"github.com/eyunku/wfs/internal/wfsresolve"
)

// Kind distinguishes the two inode types this filesystem supports.
type Kind int

const (
	KindFile Kind = iota
	KindDir
)

// Mutator appends new records to an image on behalf of the operation
// surface. A Mutator is not safe for concurrent use from multiple
// goroutines without external serialization; spec.md §5 assumes the FUSE
// bridge itself serializes calls into the filesystem, so the only lock a
// Mutator needs is the one its caller (internal/wfsfs) already holds.
type Mutator struct {
	img   *wfsimage.Image
	clock timeutil.Clock
}

// New builds a Mutator over img, stamping every record it appends with
// clock.Now(). Tests inject a timeutil.SimulatedClock for deterministic
// timestamps, matching the teacher's own samples.SampleTest.Clock.
func New(img *wfsimage.Image, clock timeutil.Clock) *Mutator {
	return &Mutator{img: img, clock: clock}
}

func (m *Mutator) now() uint32 {
	return uint32(m.clock.Now().Unix())
}

func (m *Mutator) resolver() (*wfslog.Index, *wfsresolve.Resolver, error) {
	idx, err := wfslog.Build(m.img)
	if err != nil {
		return nil, nil, err
	}
	return idx, wfsresolve.New(idx), nil
}

func buildRecord(h wfsfmt.InodeHeader, payload []byte) []byte {
	buf := make([]byte, wfsfmt.InodeHeaderSize+len(payload))
	wfsfmt.EncodeRecord(buf, h, payload)
	return buf
}

// appendAll writes one or more complete records at the current head as a
// single atomic-looking unit: the whole batch is space-checked against
// DISK_SIZE before a single byte is written, and the head is only
// published once every record in the batch is in place. This is what
// spec.md §4.4-§4.7 call out: each mutation is a child/target append
// plus a paired parent re-append, and both must succeed or neither does.
func (m *Mutator) appendAll(records ...[]byte) error {
	head := int(m.img.Head())
	total := 0
	for _, r := range records {
		total += len(r)
	}
	if int64(head+total) > wfsimage.DiskSize {
		return wfserrors.NoSpace(
			fmt.Sprintf("appending %d bytes at head %d would exceed DISK_SIZE=%d", total, head, wfsimage.DiskSize))
	}

	data := m.img.Bytes()
	off := head
	for _, r := range records {
		copy(data[off:off+len(r)], r)
		off += len(r)
	}
	m.img.SetHead(uint32(off))
	wfsdebug.Append("wfsmutate", uint32(head), uint32(off), len(records))
	return nil
}

func modeFor(kind Kind, perm os.FileMode) uint32 {
	mode := uint32(perm.Perm())
	if kind == KindDir {
		mode |= wfsfmt.ModeDir
	}
	return mode
}

// Create implements spec.md §4.4: appending a new child record and a
// re-appended parent record carrying one additional directory entry.
// Per the REDESIGN FLAG in spec.md §9, the stored mode's type bit is
// always set from kind, never trusted from the caller's perm bits.
func (m *Mutator) Create(parent uint32, name string, kind Kind, perm os.FileMode, uid, gid uint32) (uint32, error) {
	if name == "" || len(name) >= wfsfmt.DirentNameSize {
		return 0, fmt.Errorf("wfsmutate: invalid name %q", name)
	}

	idx, r, err := m.resolver()
	if err != nil {
		return 0, err
	}

	parentRec, err := r.Live(parent)
	if err != nil {
		return 0, err
	}
	if !parentRec.Header.IsDir() {
		return 0, wfserrors.NotADirectory("parent is not a directory")
	}

	entries, err := wfsfmt.DecodeDirents(parentRec.Payload)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Name == name {
			return 0, wfserrors.AlreadyExists("entry already exists: " + name)
		}
	}

	newInode := idx.Largest() + 1
	now := m.now()

	childHeader := wfsfmt.InodeHeader{
		InodeNumber: newInode,
		Mode:        modeFor(kind, perm),
		Uid:         uid,
		Gid:         gid,
		Size:        0,
		Atime:       now,
		Mtime:       now,
		Ctime:       now,
		Links:       1,
	}
	childRec := buildRecord(childHeader, nil)

	newEntries := append(append([]wfsfmt.Dirent{}, entries...), wfsfmt.Dirent{Name: name, Inode: newInode})
	payload, err := wfsfmt.EncodeDirents(newEntries)
	if err != nil {
		return 0, err
	}

	parentHeader := parentRec.Header
	parentHeader.Size = uint32(len(payload))
	parentHeader.Mtime = now
	parentHeader.Ctime = now
	parentRecBytes := buildRecord(parentHeader, payload)

	if err := m.appendAll(childRec, parentRecBytes); err != nil {
		return 0, err
	}
	return newInode, nil
}

// Write implements spec.md §4.5: a single new record with the old
// identity, a payload overlaying buf at offset atop the old contents
// (zero-filled in any gap), and the size grown to cover the write.
func (m *Mutator) Write(inode uint32, offset int64, buf []byte) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("wfsmutate: negative offset %d", offset)
	}

	_, r, err := m.resolver()
	if err != nil {
		return 0, err
	}

	rec, err := r.Live(inode)
	if err != nil {
		return 0, err
	}
	if rec.Header.IsDir() {
		return 0, wfserrors.IsADirectory("cannot write to a directory")
	}

	oldSize := int(rec.Header.Size)
	newSize := oldSize
	if end := int(offset) + len(buf); end > newSize {
		newSize = end
	}

	payload := make([]byte, newSize)
	copy(payload, rec.Payload)
	copy(payload[offset:], buf)

	now := m.now()
	h := rec.Header
	h.Size = uint32(newSize)
	h.Mtime = now
	h.Ctime = now
	recBytes := buildRecord(h, payload)

	if err := m.appendAll(recBytes); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// SetAttributes applies a SetInodeAttributesOp-shaped partial update
// (truncate and/or chmod and/or an explicit mtime) via the same append
// protocol as Write: a new record with the old identity and updated
// fields. A nil size or mode leaves that field untouched. ctime is always
// set to now; mtime is set to *mtime, or to now when mtime is nil.
func (m *Mutator) SetAttributes(inode uint32, size *uint64, mode *os.FileMode, mtime *time.Time) (wfsfmt.InodeHeader, error) {
	_, r, err := m.resolver()
	if err != nil {
		return wfsfmt.InodeHeader{}, err
	}

	rec, err := r.Live(inode)
	if err != nil {
		return wfsfmt.InodeHeader{}, err
	}
	if rec.Header.IsDir() && size != nil {
		return wfsfmt.InodeHeader{}, wfserrors.IsADirectory("cannot resize a directory")
	}

	payload := rec.Payload
	h := rec.Header

	if size != nil {
		newSize := int(*size)
		if newSize <= len(payload) {
			payload = payload[:newSize]
		} else {
			grown := make([]byte, newSize)
			copy(grown, payload)
			payload = grown
		}
		h.Size = uint32(newSize)
	}

	if mode != nil {
		typeBit := h.Mode & wfsfmt.ModeDir
		h.Mode = typeBit | uint32(mode.Perm())
	}

	now := m.now()
	h.Ctime = now
	if mtime != nil {
		h.Mtime = uint32(mtime.Unix())
	} else {
		h.Mtime = now
	}

	recBytes := buildRecord(h, payload)
	if err := m.appendAll(recBytes); err != nil {
		return wfsfmt.InodeHeader{}, err
	}
	return h, nil
}

// removeEntry splits entries into (remaining, removedInode, found).
func removeEntry(entries []wfsfmt.Dirent, name string) ([]wfsfmt.Dirent, uint32, bool) {
	out := make([]wfsfmt.Dirent, 0, len(entries))
	var removed uint32
	found := false
	for _, e := range entries {
		if e.Name == name {
			removed = e.Inode
			found = true
			continue
		}
		out = append(out, e)
	}
	return out, removed, found
}

// Rename implements the rename-in-directory mutation spec.md §1 names as
// one of the five core mutations: the source parent is re-appended
// without the old name, and the destination parent is re-appended with
// the new name bound to the same inode. Both append as a single
// space-checked unit. An existing destination name is rejected with
// ALREADY-EXISTS; this repo does not implement POSIX rename's optional
// silent-replace behavior (see DESIGN.md).
func (m *Mutator) Rename(oldParent uint32, oldName string, newParent uint32, newName string) error {
	if newName == "" || len(newName) >= wfsfmt.DirentNameSize {
		return fmt.Errorf("wfsmutate: invalid name %q", newName)
	}

	_, r, err := m.resolver()
	if err != nil {
		return err
	}

	oldParentRec, err := r.Live(oldParent)
	if err != nil {
		return err
	}
	if !oldParentRec.Header.IsDir() {
		return wfserrors.NotADirectory("source parent is not a directory")
	}

	oldEntries, err := wfsfmt.DecodeDirents(oldParentRec.Payload)
	if err != nil {
		return err
	}
	remaining, childInode, found := removeEntry(oldEntries, oldName)
	if !found {
		return wfserrors.NotFound("no such entry: " + oldName)
	}

	now := m.now()

	if oldParent == newParent {
		for _, e := range remaining {
			if e.Name == newName {
				return wfserrors.AlreadyExists("entry already exists: " + newName)
			}
		}
		final := append(append([]wfsfmt.Dirent{}, remaining...), wfsfmt.Dirent{Name: newName, Inode: childInode})
		payload, err := wfsfmt.EncodeDirents(final)
		if err != nil {
			return err
		}
		h := oldParentRec.Header
		h.Size = uint32(len(payload))
		h.Mtime = now
		h.Ctime = now
		return m.appendAll(buildRecord(h, payload))
	}

	newParentRec, err := r.Live(newParent)
	if err != nil {
		return err
	}
	if !newParentRec.Header.IsDir() {
		return wfserrors.NotADirectory("destination parent is not a directory")
	}

	newEntries, err := wfsfmt.DecodeDirents(newParentRec.Payload)
	if err != nil {
		return err
	}
	for _, e := range newEntries {
		if e.Name == newName {
			return wfserrors.AlreadyExists("entry already exists: " + newName)
		}
	}

	oldPayload, err := wfsfmt.EncodeDirents(remaining)
	if err != nil {
		return err
	}
	oldH := oldParentRec.Header
	oldH.Size = uint32(len(oldPayload))
	oldH.Mtime = now
	oldH.Ctime = now

	newFinal := append(append([]wfsfmt.Dirent{}, newEntries...), wfsfmt.Dirent{Name: newName, Inode: childInode})
	newPayload, err := wfsfmt.EncodeDirents(newFinal)
	if err != nil {
		return err
	}
	newH := newParentRec.Header
	newH.Size = uint32(len(newPayload))
	newH.Mtime = now
	newH.Ctime = now

	return m.appendAll(buildRecord(oldH, oldPayload), buildRecord(newH, newPayload))
}

// Unlink implements spec.md §4.6. links is always 1 in this core (no
// multi-parent hard links), so removing the sole directory entry always
// drops the link count to zero and a tombstone is always emitted
// alongside the parent re-append.
func (m *Mutator) Unlink(parent uint32, name string) error {
	_, r, err := m.resolver()
	if err != nil {
		return err
	}

	parentRec, err := r.Live(parent)
	if err != nil {
		return err
	}
	if !parentRec.Header.IsDir() {
		return wfserrors.NotADirectory("parent is not a directory")
	}

	entries, err := wfsfmt.DecodeDirents(parentRec.Payload)
	if err != nil {
		return err
	}
	remaining, targetInode, found := removeEntry(entries, name)
	if !found {
		return wfserrors.NotFound("no such entry: " + name)
	}

	targetRec, err := r.Live(targetInode)
	if err != nil {
		return err
	}
	if targetRec.Header.IsDir() {
		return wfserrors.IsADirectory("use rmdir for directories")
	}

	now := m.now()
	tomb := wfsfmt.InodeHeader{
		InodeNumber: targetInode,
		Deleted:     1,
		Mode:        targetRec.Header.Mode,
		Uid:         targetRec.Header.Uid,
		Gid:         targetRec.Header.Gid,
		Atime:       now,
		Mtime:       now,
		Ctime:       now,
		Links:       0,
	}

	payload, err := wfsfmt.EncodeDirents(remaining)
	if err != nil {
		return err
	}
	ph := parentRec.Header
	ph.Size = uint32(len(payload))
	ph.Mtime = now
	ph.Ctime = now

	return m.appendAll(buildRecord(tomb, nil), buildRecord(ph, payload))
}

// Rmdir implements spec.md §4.7: like Unlink, but only for an empty
// directory target.
func (m *Mutator) Rmdir(parent uint32, name string) error {
	_, r, err := m.resolver()
	if err != nil {
		return err
	}

	parentRec, err := r.Live(parent)
	if err != nil {
		return err
	}
	if !parentRec.Header.IsDir() {
		return wfserrors.NotADirectory("parent is not a directory")
	}

	entries, err := wfsfmt.DecodeDirents(parentRec.Payload)
	if err != nil {
		return err
	}
	remaining, targetInode, found := removeEntry(entries, name)
	if !found {
		return wfserrors.NotFound("no such entry: " + name)
	}

	targetRec, err := r.Live(targetInode)
	if err != nil {
		return err
	}
	if !targetRec.Header.IsDir() {
		return wfserrors.NotADirectory("target is not a directory")
	}
	if targetRec.Header.Size != 0 {
		return wfserrors.NotEmpty("directory is not empty")
	}

	now := m.now()
	tomb := wfsfmt.InodeHeader{
		InodeNumber: targetInode,
		Deleted:     1,
		Mode:        targetRec.Header.Mode,
		Uid:         targetRec.Header.Uid,
		Gid:         targetRec.Header.Gid,
		Atime:       now,
		Mtime:       now,
		Ctime:       now,
		Links:       0,
	}

	payload, err := wfsfmt.EncodeDirents(remaining)
	if err != nil {
		return err
	}
	ph := parentRec.Header
	ph.Size = uint32(len(payload))
	ph.Mtime = now
	ph.Ctime = now

	return m.appendAll(buildRecord(tomb, nil), buildRecord(ph, payload))
}
