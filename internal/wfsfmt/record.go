// Package wfsfmt is the record codec: fixed-layout encoders and decoders
// for the superblock, inode header, and directory entries described in
// spec.md §3-§4.1. Every integer is little-endian; every reader is
// bounds-checked against the log's current head before it hands back a
// view, so a corrupt or truncated record never silently aliases bytes
// past the end of the log.
package wfsfmt

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/eyunku/wfs/internal/wfserrors"
)

// Layout constants, all in bytes.
const (
	SuperblockSize  = 8
	InodeHeaderSize = 44
	DirentNameSize  = 32
	DirentSize      = DirentNameSize + 8 // name buffer + inode number
)

// Magic identifies a valid WFS image.
const Magic uint32 = 0xDEADBEEF

// RootInode is the reserved inode number for the filesystem root.
const RootInode uint32 = 0

// Mode bits. Mode is stored as the low 32 bits of an os.FileMode, exactly
// as the teacher's InodeAttributes.Mode does it, so permission bits and
// the type bit travel together in one field.
const (
	ModeDir = uint32(os.ModeDir)
)

// Superblock is the first SuperblockSize bytes of the image.
type Superblock struct {
	Magic uint32
	Head  uint32
}

// DecodeSuperblock reads the superblock from the first 8 bytes of b.
func DecodeSuperblock(b []byte) (Superblock, error) {
	if len(b) < SuperblockSize {
		return Superblock{}, wfserrors.Corruption("superblock truncated", nil)
	}
	sb := Superblock{
		Magic: binary.LittleEndian.Uint32(b[0:4]),
		Head:  binary.LittleEndian.Uint32(b[4:8]),
	}
	if sb.Magic != Magic {
		return sb, wfserrors.Corruption(
			fmt.Sprintf("bad superblock magic: %#x", sb.Magic), nil)
	}
	return sb, nil
}

// EncodeSuperblock writes sb into the first 8 bytes of b.
func EncodeSuperblock(b []byte, sb Superblock) {
	binary.LittleEndian.PutUint32(b[0:4], sb.Magic)
	binary.LittleEndian.PutUint32(b[4:8], sb.Head)
}

// InodeHeader is the fixed 44-byte header that precedes every record's
// variable-length payload.
type InodeHeader struct {
	InodeNumber uint32
	Deleted     uint32
	Mode        uint32
	Uid         uint32
	Gid         uint32
	Flags       uint32
	Size        uint32
	Atime       uint32
	Mtime       uint32
	Ctime       uint32
	Links       uint32
}

// IsDir reports whether the header's mode carries the directory type bit.
func (h InodeHeader) IsDir() bool { return h.Mode&ModeDir != 0 }

// IsLive reports whether this is not a tombstone.
func (h InodeHeader) IsLive() bool { return h.Deleted == 0 }

// TotalLen is the total on-disk length of the record this header begins:
// the header plus its payload.
func (h InodeHeader) TotalLen() int { return InodeHeaderSize + int(h.Size) }

// DecodeInodeHeader decodes a 44-byte inode header from the front of b.
func DecodeInodeHeader(b []byte) (InodeHeader, error) {
	if len(b) < InodeHeaderSize {
		return InodeHeader{}, wfserrors.Corruption("inode header truncated", nil)
	}
	u32 := binary.LittleEndian.Uint32
	return InodeHeader{
		InodeNumber: u32(b[0:4]),
		Deleted:     u32(b[4:8]),
		Mode:        u32(b[8:12]),
		Uid:         u32(b[12:16]),
		Gid:         u32(b[16:20]),
		Flags:       u32(b[20:24]),
		Size:        u32(b[24:28]),
		Atime:       u32(b[28:32]),
		Mtime:       u32(b[32:36]),
		Ctime:       u32(b[36:40]),
		Links:       u32(b[40:44]),
	}, nil
}

// EncodeInodeHeader writes h's 44 bytes to the front of b.
func EncodeInodeHeader(b []byte, h InodeHeader) {
	put := binary.LittleEndian.PutUint32
	put(b[0:4], h.InodeNumber)
	put(b[4:8], h.Deleted)
	put(b[8:12], h.Mode)
	put(b[12:16], h.Uid)
	put(b[16:20], h.Gid)
	put(b[20:24], h.Flags)
	put(b[24:28], h.Size)
	put(b[28:32], h.Atime)
	put(b[32:36], h.Mtime)
	put(b[36:40], h.Ctime)
	put(b[40:44], h.Links)
}

// Dirent is one 40-byte entry in a directory record's payload: a
// NUL-terminated name buffer followed by the child's inode number.
type Dirent struct {
	Name  string
	Inode uint32
}

// DecodeDirent decodes one 40-byte directory entry from the front of b.
func DecodeDirent(b []byte) (Dirent, error) {
	if len(b) < DirentSize {
		return Dirent{}, wfserrors.Corruption("directory entry truncated", nil)
	}
	nul := 0
	for nul < DirentNameSize && b[nul] != 0 {
		nul++
	}
	return Dirent{
		Name:  string(b[:nul]),
		Inode: uint32(binary.LittleEndian.Uint64(b[DirentNameSize : DirentNameSize+8])),
	}, nil
}

// EncodeDirent writes d into the front of b, zeroing the unused tail of
// the name buffer so byte-exact comparisons of the 32-byte field are
// well-defined. It fails if the name does not fit in 31 bytes plus a NUL
// terminator.
func EncodeDirent(b []byte, d Dirent) error {
	if len(d.Name) >= DirentNameSize {
		return fmt.Errorf("wfsfmt: name %q too long for %d-byte buffer", d.Name, DirentNameSize)
	}
	for i := 0; i < DirentNameSize; i++ {
		b[i] = 0
	}
	copy(b[:DirentNameSize], d.Name)
	binary.LittleEndian.PutUint64(b[DirentNameSize:DirentNameSize+8], uint64(d.Inode))
	return nil
}

// DecodeDirents splits a directory record's payload into its entries. The
// payload length must be a multiple of DirentSize.
func DecodeDirents(payload []byte) ([]Dirent, error) {
	if len(payload)%DirentSize != 0 {
		return nil, wfserrors.Corruption(
			fmt.Sprintf("directory size %d not a multiple of %d", len(payload), DirentSize), nil)
	}
	n := len(payload) / DirentSize
	out := make([]Dirent, 0, n)
	for i := 0; i < n; i++ {
		d, err := DecodeDirent(payload[i*DirentSize : (i+1)*DirentSize])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// EncodeDirents serializes a full entry list into a fresh payload buffer.
func EncodeDirents(entries []Dirent) ([]byte, error) {
	out := make([]byte, len(entries)*DirentSize)
	for i, d := range entries {
		if err := EncodeDirent(out[i*DirentSize:(i+1)*DirentSize], d); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Record is a decoded (header, payload) pair: the in-memory view of one
// log record, as described in spec.md §3 ("Log record = inode header
// followed by size payload bytes").
type Record struct {
	Offset  int
	Header  InodeHeader
	Payload []byte
}

// DecodeRecord decodes one record starting at b[0], validating that its
// declared size does not run past limit (the log head, or len(b) when
// scanning a whole buffer). offset is recorded for callers that need to
// remember where the record lives.
func DecodeRecord(b []byte, offset int, limit int) (Record, error) {
	h, err := DecodeInodeHeader(b)
	if err != nil {
		return Record{}, err
	}
	total := h.TotalLen()
	if offset+total > limit {
		return Record{}, wfserrors.Corruption(
			fmt.Sprintf("record at offset %d declares size %d, runs past head %d", offset, h.Size, limit), nil)
	}
	return Record{
		Offset:  offset,
		Header:  h,
		Payload: b[InodeHeaderSize:total],
	}, nil
}

// EncodeRecord writes a full record (header + payload) into b, which must
// be at least InodeHeaderSize+len(payload) bytes.
func EncodeRecord(b []byte, h InodeHeader, payload []byte) {
	EncodeInodeHeader(b, h)
	copy(b[InodeHeaderSize:InodeHeaderSize+len(payload)], payload)
}
