// Command fsck compacts a WFS image in place: it rewrites the log to
// contain only live records in ascending inode-number order, dropping
// tombstones, then atomically replaces the original image with the
// result. Run it offline, against an unmounted image.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/detailyang/go-fallocate"

	"github.com/eyunku/wfs/internal/wfscompact"
	"github.com/eyunku/wfs/internal/wfsdebug"
	"github.com/eyunku/wfs/internal/wfsfmt"
	"github.com/eyunku/wfs/internal/wfsimage"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("fsck: ")

	flag.Usage = func() {
		log.Printf("Usage: fsck <image path>")
		os.Exit(2)
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
	}
	path := flag.Arg(0)

	if err := run(path); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(path string) error {
	scratchPath := path + ".compact"
	if err := makeScratch(scratchPath); err != nil {
		return err
	}
	defer os.Remove(scratchPath)

	wfsdebug.Component("fsck").Printf("compacting %s via scratch image %s", path, scratchPath)
	if err := wfscompact.Compact(path, scratchPath); err != nil {
		return err
	}

	log.Printf("compacted %s", path)
	return nil
}

// makeScratch lays out a fresh, minimally valid image at path: a correct
// superblock magic, which writeCompacted keeps, and a placeholder root
// record and head, which writeCompacted overwrites. wfsimage.Open requires
// a well-formed image to map, so the
// scratch target needs the same bootstrap cmd/mkfs performs.
func makeScratch(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := fallocate.Fallocate(f, 0, wfsimage.DiskSize); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	img, err := wfsimage.Create(path, make([]byte, wfsfmt.InodeHeaderSize))
	if err != nil {
		return err
	}
	return img.Close()
}
