package wfsfs

import (
	"testing"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/eyunku/wfs/internal/wfsfmt"
)

func TestInodeIDMappingRoot(t *testing.T) {
	if got := toFuse(wfsfmt.RootInode); got != fuseops.RootInodeID {
		t.Fatalf("toFuse(root) = %d, want fuseops.RootInodeID (%d)", got, fuseops.RootInodeID)
	}
	if got := toInternal(fuseops.RootInodeID); got != wfsfmt.RootInode {
		t.Fatalf("toInternal(RootInodeID) = %d, want %d", got, wfsfmt.RootInode)
	}
}

func TestInodeIDMappingRoundTrip(t *testing.T) {
	for _, n := range []uint32{0, 1, 2, 100, 1 << 20} {
		if got := toInternal(toFuse(n)); got != n {
			t.Fatalf("round trip for %d produced %d", n, got)
		}
	}
}

func TestAttrsFromHeader(t *testing.T) {
	h := wfsfmt.InodeHeader{
		Mode:  wfsfmt.ModeDir | 0755,
		Uid:   1000,
		Gid:   1000,
		Size:  42,
		Links: 1,
		Atime: 10,
		Mtime: 20,
		Ctime: 30,
	}

	attrs := attrsFromHeader(h)
	if attrs.Size != 42 {
		t.Fatalf("got size %d, want 42", attrs.Size)
	}
	if attrs.Nlink != 1 {
		t.Fatalf("got nlink %d, want 1", attrs.Nlink)
	}
	if !attrs.Mode.IsDir() {
		t.Fatalf("expected directory mode")
	}
	if attrs.Mode.Perm() != 0755 {
		t.Fatalf("got perm %o, want 0755", attrs.Mode.Perm())
	}
	if attrs.Atime.Unix() != 10 || attrs.Mtime.Unix() != 20 || attrs.Ctime.Unix() != 30 {
		t.Fatalf("got times %v/%v/%v", attrs.Atime, attrs.Mtime, attrs.Ctime)
	}
}
