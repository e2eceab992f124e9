// Package wfslog is the log scanner: the forward walker over an image's
// log region that yields records in order and computes the derived
// indices (largest inode number, per-inode latest record offset) every
// other component builds on.
package wfslog

import (
	"github.com/eyunku/wfs/internal/wfserrors"
	"github.com/eyunku/wfs/internal/wfsfmt"
	"github.com/eyunku/wfs/internal/wfsimage"
)

// Index is the result of one forward scan of the log: a cache of where
// each inode's latest record sits, plus the largest inode number seen.
// Building it is O(log size); once built, Latest/LatestLive/Largest are
// O(1). Nothing in this package mutates the image; mutation always
// invalidates a previously built Index, so callers rebuild after every
// append (internal/wfsmutate does this).
type Index struct {
	latest  map[uint32]wfsfmt.Record
	largest uint32
	count   int
}

// Scan walks the image's log from the first byte after the superblock up
// to the image's current head, calling visit for every record in order.
// It stops and returns a corruption error the moment a record's declared
// size would run past head.
func Scan(img *wfsimage.Image, visit func(wfsfmt.Record) error) error {
	data := img.Bytes()
	head := int(img.Head())

	for off := wfsfmt.SuperblockSize; off < head; {
		rec, err := wfsfmt.DecodeRecord(data[off:], off, head)
		if err != nil {
			return err
		}
		if err := visit(rec); err != nil {
			return err
		}
		off += rec.Header.TotalLen()
	}
	return nil
}

// Build scans the whole log once and returns the derived Index.
func Build(img *wfsimage.Image) (*Index, error) {
	idx := &Index{latest: make(map[uint32]wfsfmt.Record)}

	err := Scan(img, func(rec wfsfmt.Record) error {
		idx.latest[rec.Header.InodeNumber] = rec
		if rec.Header.InodeNumber > idx.largest {
			idx.largest = rec.Header.InodeNumber
		}
		idx.count++
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, ok := idx.latest[wfsfmt.RootInode]; !ok {
		return nil, wfserrors.Corruption("log contains no record for the root inode", nil)
	}

	return idx, nil
}

// Largest returns the maximum inode_number seen in the log, even among
// deleted records. The mutator allocates new inode numbers as Largest()+1.
func (idx *Index) Largest() uint32 { return idx.largest }

// Count returns the total number of records scanned.
func (idx *Index) Count() int { return idx.count }

// Latest returns the last record for inode n, regardless of its deleted
// flag, and whether one was found at all.
func (idx *Index) Latest(n uint32) (wfsfmt.Record, bool) {
	rec, ok := idx.latest[n]
	return rec, ok
}

// LatestLive is like Latest but reports ok=false if the latest record is
// a tombstone (deleted=1).
func (idx *Index) LatestLive(n uint32) (wfsfmt.Record, bool) {
	rec, ok := idx.latest[n]
	if !ok || !rec.Header.IsLive() {
		return wfsfmt.Record{}, false
	}
	return rec, true
}
