package wfsfmt

import (
	"errors"
	"testing"

	"github.com/kylelemons/godebug/pretty"

	"github.com/eyunku/wfs/internal/wfserrors"
)

func TestSuperblockRoundTrip(t *testing.T) {
	b := make([]byte, SuperblockSize)
	EncodeSuperblock(b, Superblock{Magic: Magic, Head: 123})

	got, err := DecodeSuperblock(b)
	if err != nil {
		t.Fatalf("DecodeSuperblock: %v", err)
	}
	if got.Magic != Magic || got.Head != 123 {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeSuperblockBadMagic(t *testing.T) {
	b := make([]byte, SuperblockSize)
	EncodeSuperblock(b, Superblock{Magic: 0xBAD, Head: 0})

	_, err := DecodeSuperblock(b)
	var werr *wfserrors.Error
	if !errors.As(err, &werr) || werr.Kind != wfserrors.KindCorruption {
		t.Fatalf("expected corruption error, got %v", err)
	}
}

func TestInodeHeaderRoundTrip(t *testing.T) {
	h := InodeHeader{
		InodeNumber: 7,
		Mode:        ModeDir | 0755,
		Uid:         1000,
		Gid:         1000,
		Size:        40,
		Atime:       111,
		Mtime:       222,
		Ctime:       333,
		Links:       1,
	}

	b := make([]byte, InodeHeaderSize)
	EncodeInodeHeader(b, h)

	got, err := DecodeInodeHeader(b)
	if err != nil {
		t.Fatalf("DecodeInodeHeader: %v", err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
	if !got.IsDir() {
		t.Fatalf("expected IsDir")
	}
	if !got.IsLive() {
		t.Fatalf("expected IsLive")
	}
}

func TestDirentRoundTrip(t *testing.T) {
	entries := []Dirent{
		{Name: "foo", Inode: 1},
		{Name: "a-much-longer-name-thirty", Inode: 2},
	}

	payload, err := EncodeDirents(entries)
	if err != nil {
		t.Fatalf("EncodeDirents: %v", err)
	}

	got, err := DecodeDirents(payload)
	if err != nil {
		t.Fatalf("DecodeDirents: %v", err)
	}
	if diff := pretty.Compare(got, entries); diff != "" {
		t.Fatalf("decoded dirents differ (-got +want):\n%s", diff)
	}
}

func TestEncodeDirentNameTooLong(t *testing.T) {
	b := make([]byte, DirentSize)
	name := make([]byte, DirentNameSize)
	for i := range name {
		name[i] = 'x'
	}
	if err := EncodeDirent(b, Dirent{Name: string(name)}); err == nil {
		t.Fatalf("expected error for oversized name")
	}
}

func TestDecodeDirentsBadLength(t *testing.T) {
	_, err := DecodeDirents(make([]byte, DirentSize+1))
	var werr *wfserrors.Error
	if !errors.As(err, &werr) || werr.Kind != wfserrors.KindCorruption {
		t.Fatalf("expected corruption error, got %v", err)
	}
}

func TestDecodeRecordRejectsOverrun(t *testing.T) {
	h := InodeHeader{InodeNumber: 1, Size: 100}
	b := make([]byte, InodeHeaderSize)
	EncodeInodeHeader(b, h)

	_, err := DecodeRecord(b, 0, InodeHeaderSize+10)
	var werr *wfserrors.Error
	if !errors.As(err, &werr) || werr.Kind != wfserrors.KindCorruption {
		t.Fatalf("expected corruption error, got %v", err)
	}
}

func TestEncodeDecodeRecord(t *testing.T) {
	h := InodeHeader{InodeNumber: 3, Mode: 0644, Size: 5}
	payload := []byte("hello")

	b := make([]byte, InodeHeaderSize+len(payload))
	EncodeRecord(b, h, payload)

	rec, err := DecodeRecord(b, 0, len(b))
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if rec.Header != h {
		t.Fatalf("got header %+v, want %+v", rec.Header, h)
	}
	if string(rec.Payload) != "hello" {
		t.Fatalf("got payload %q", rec.Payload)
	}
}
