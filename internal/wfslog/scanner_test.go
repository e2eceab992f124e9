package wfslog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/eyunku/wfs/internal/wfsfmt"
	"github.com/eyunku/wfs/internal/wfsimage"
)

func newTestImage(t *testing.T, rootRecord []byte) *wfsimage.Image {
	t.Helper()

	path := filepath.Join(t.TempDir(), "image")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.Truncate(wfsimage.DiskSize); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	img, err := wfsimage.Create(path, rootRecord)
	if err != nil {
		t.Fatalf("wfsimage.Create: %v", err)
	}
	t.Cleanup(func() { img.Close() })
	return img
}

func rootRecord(t *testing.T) []byte {
	t.Helper()
	h := wfsfmt.InodeHeader{InodeNumber: wfsfmt.RootInode, Mode: wfsfmt.ModeDir | 0755, Links: 1}
	b := make([]byte, wfsfmt.InodeHeaderSize)
	wfsfmt.EncodeInodeHeader(b, h)
	return b
}

func TestBuildIndexesRoot(t *testing.T) {
	img := newTestImage(t, rootRecord(t))

	idx, err := Build(img)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if idx.Count() != 1 {
		t.Fatalf("got count %d, want 1", idx.Count())
	}
	if idx.Largest() != wfsfmt.RootInode {
		t.Fatalf("got largest %d, want %d", idx.Largest(), wfsfmt.RootInode)
	}

	rec, ok := idx.LatestLive(wfsfmt.RootInode)
	if !ok {
		t.Fatalf("expected root to be live")
	}
	if !rec.Header.IsDir() {
		t.Fatalf("expected root to be a directory")
	}
}

func TestBuildRejectsImageMissingRoot(t *testing.T) {
	// A record for inode 1, never inode 0 (root).
	h := wfsfmt.InodeHeader{InodeNumber: 1, Mode: wfsfmt.ModeDir | 0755, Links: 1}
	rec := make([]byte, wfsfmt.InodeHeaderSize)
	wfsfmt.EncodeInodeHeader(rec, h)

	img := newTestImage(t, rec)

	if _, err := Build(img); err == nil {
		t.Fatalf("expected error for image with no root record")
	}
}

func TestLatestLiveSeesTombstone(t *testing.T) {
	img := newTestImage(t, rootRecord(t))

	// Append a tombstone for a made-up inode 1 directly onto the log.
	tomb := wfsfmt.InodeHeader{InodeNumber: 1, Deleted: 1}
	buf := make([]byte, wfsfmt.InodeHeaderSize)
	wfsfmt.EncodeInodeHeader(buf, tomb)

	head := img.Head()
	copy(img.Bytes()[head:], buf)
	img.SetHead(head + uint32(len(buf)))

	idx, err := Build(img)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := idx.LatestLive(1); ok {
		t.Fatalf("expected tombstoned inode to not be live")
	}
	if _, ok := idx.Latest(1); !ok {
		t.Fatalf("expected tombstoned inode to still appear in Latest")
	}
}
