// Package wfscompact implements offline compaction: rewriting an image's
// log to contain only the latest live record for each inode, in
// ascending inode-number order, per spec.md §4.9. It is not part of the
// mount-time operation surface; cmd/fsck drives it against an unmounted
// image.
package wfscompact

import (
	"fmt"
	"os"
	"sort"

	"github.com/eyunku/wfs/internal/wfsdebug"
	"github.com/eyunku/wfs/internal/wfsfmt"
	"github.com/eyunku/wfs/internal/wfsimage"
	"github.com/eyunku/wfs/internal/wfslog"
)

// Compact rewrites srcPath's log into a fresh scratch image at dstPath
// (which must already exist as a DiskSize-byte file, exactly like an
// image cmd/mkfs would produce), then atomically replaces srcPath with
// the compacted result via rename. Tombstones are dropped; every
// surviving record is re-appended in ascending inode-number order, and
// the remainder of the scratch image is left zero-filled, matching
// spec.md §4.9's description of compaction as "rebuild, don't patch".
func Compact(srcPath, dstPath string) error {
	src, err := wfsimage.Open(srcPath)
	if err != nil {
		return fmt.Errorf("wfscompact: open source: %w", err)
	}
	defer src.Close()

	idx, err := wfslog.Build(src)
	if err != nil {
		return fmt.Errorf("wfscompact: scan source: %w", err)
	}

	dst, err := wfsimage.Open(dstPath)
	if err != nil {
		return fmt.Errorf("wfscompact: open scratch: %w", err)
	}

	if err := writeCompacted(dst, idx); err != nil {
		dst.Close()
		return err
	}

	if err := dst.Sync(); err != nil {
		dst.Close()
		return fmt.Errorf("wfscompact: sync scratch: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("wfscompact: close scratch: %w", err)
	}

	if err := os.Rename(dstPath, srcPath); err != nil {
		return fmt.Errorf("wfscompact: rename scratch onto source: %w", err)
	}
	return nil
}

// liveInodes returns every inode number with a live latest record, sorted
// ascending. spec.md §4.9 asks for ascending order so the compacted log's
// layout is deterministic and reproducible across runs.
func liveInodes(idx *wfslog.Index) []uint32 {
	n := idx.Largest()
	out := make([]uint32, 0, n+1)
	for i := uint32(0); i <= n; i++ {
		if _, ok := idx.LatestLive(i); ok {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func writeCompacted(dst *wfsimage.Image, idx *wfslog.Index) error {
	inodes := liveInodes(idx)

	oldHead := dst.Head()
	data := dst.Bytes()
	off := wfsfmt.SuperblockSize

	for _, n := range inodes {
		rec, _ := idx.LatestLive(n)
		total := rec.Header.TotalLen()
		if off+total > int(wfsimage.DiskSize) {
			return fmt.Errorf("wfscompact: compacted log does not fit in DISK_SIZE=%d", wfsimage.DiskSize)
		}
		wfsfmt.EncodeRecord(data[off:off+total], rec.Header, rec.Payload)
		off += total
	}

	// Zero the remainder of the log region so a stale tail from whatever
	// scratch image cmd/fsck handed us never gets mistaken for live data
	// by a scanner that ignores head (it shouldn't, but zero-fill makes
	// the image byte-for-byte reproducible regardless).
	for i := off; i < len(data); i++ {
		data[i] = 0
	}

	dst.SetHead(uint32(off))
	wfsdebug.Append("wfscompact", oldHead, uint32(off), len(inodes))
	return nil
}
