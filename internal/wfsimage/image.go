// Package wfsimage provides the fixed-size, memory-mapped byte container
// that backs a WFS volume: a superblock followed by an append-only log,
// exactly as laid out in the on-disk format. Every other package in this
// module operates on the byte slice an *Image exposes; this package owns
// only the mapping, the fixed size, and the append-then-publish discipline
// for the superblock's head field.
package wfsimage

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/eyunku/wfs/internal/wfsfmt"
)

// DiskSize is the compile-time image size shared by the image creator,
// the mounter, and the compactor. Mirroring spec.md §3's DISK_SIZE, this
// must be identical across all three or they will disagree about where
// the log ends.
const DiskSize int64 = 64 << 20 // 64 MiB

const headOffset = 4

// Image is a memory-mapped, fixed-size byte region: the superblock at
// offset 0 followed by the append-only log running to DiskSize. It does
// not interpret records; internal/wfsfmt and internal/wfslog do that over
// the byte slice this type exposes via Bytes.
type Image struct {
	file *os.File
	data []byte
}

// Open memory-maps an existing image file read/write. It validates the
// file is exactly DiskSize bytes and that the superblock magic matches;
// either failure is returned as an error and the image is not mapped.
func Open(path string) (*Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("wfsimage: open %s: %w", path, err)
	}

	img, err := mapFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	if img.Magic() != wfsfmt.Magic {
		img.Close()
		return nil, fmt.Errorf("wfsimage: %s: bad superblock magic", path)
	}

	return img, nil
}

func mapFile(f *os.File) (*Image, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("wfsimage: stat: %w", err)
	}
	if fi.Size() != DiskSize {
		return nil, fmt.Errorf(
			"wfsimage: image is %d bytes, want DISK_SIZE=%d", fi.Size(), DiskSize)
	}

	data, err := unix.Mmap(
		int(f.Fd()), 0, int(DiskSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("wfsimage: mmap: %w", err)
	}

	return &Image{file: f, data: data}, nil
}

// Create lays out a fresh superblock (magic set, head pointing just past
// rootRecord, i.e. one inode header's worth past the superblock for an
// empty root) and the single root record rootRecord at path, which must
// already exist as a DiskSize-byte file (callers that
// want preallocation, e.g. cmd/mkfs via go-fallocate, do that before
// calling Create). Image creation is explicitly outside the core per
// spec.md §1; this is the minimal glue cmd/mkfs needs.
func Create(path string, rootRecord []byte) (*Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("wfsimage: open %s: %w", path, err)
	}

	img, err := mapFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	binary.LittleEndian.PutUint32(img.data[0:4], wfsfmt.Magic)
	copy(img.data[wfsfmt.SuperblockSize:], rootRecord)
	img.SetHead(uint32(wfsfmt.SuperblockSize + len(rootRecord)))

	return img, nil
}

// Close unmaps and closes the backing file.
func (img *Image) Close() error {
	if err := unix.Munmap(img.data); err != nil {
		img.file.Close()
		return fmt.Errorf("wfsimage: munmap: %w", err)
	}
	return img.file.Close()
}

// Sync flushes the mapping to the backing file.
func (img *Image) Sync() error {
	return unix.Msync(img.data, unix.MS_SYNC)
}

// Bytes exposes the full mapped region, superblock included. Callers must
// treat bytes below Head() as immutable and only append at [Head(), ...).
func (img *Image) Bytes() []byte { return img.data }

// Magic returns the superblock's magic field.
func (img *Image) Magic() uint32 {
	return binary.LittleEndian.Uint32(img.data[0:4])
}

// Head returns the current log head: the byte offset of the first unused
// byte in the log. It is read with an atomic load so a scanner racing a
// concurrent append (there should be at most one writer, per spec.md §5,
// but readers may still observe the value mid-publish on weak-order
// hardware without this) always sees either the old or the new value, never
// a torn one.
func (img *Image) Head() uint32 {
	p := (*uint32)(unsafe.Pointer(&img.data[headOffset]))
	return atomic.LoadUint32(p)
}

// SetHead publishes a new head offset. Per spec.md §5, this must only be
// called after every byte of the append(s) it publishes has already been
// written into img.Bytes()[oldHead:newHead]; the atomic store acts as the
// store fence the spec calls for on weak memory-order hardware.
func (img *Image) SetHead(h uint32) {
	p := (*uint32)(unsafe.Pointer(&img.data[headOffset]))
	atomic.StoreUint32(p, h)
}
