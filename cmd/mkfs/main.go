// Command mkfs creates a new, empty WFS image: a DISK_SIZE file
// preallocated on disk, superblock written, and a single empty root
// directory record appended. Image creation is explicitly outside the
// core per the filesystem's own design; this binary is the minimal glue
// a volume needs before internal/wfsfs can mount it.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/detailyang/go-fallocate"

	"github.com/eyunku/wfs/internal/wfsdebug"
	"github.com/eyunku/wfs/internal/wfsfmt"
	"github.com/eyunku/wfs/internal/wfsimage"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("mkfs: ")

	flag.Usage = func() {
		log.Printf("Usage: mkfs <image path>")
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
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	wfsdebug.Component("mkfs").Printf("preallocating %s to %d bytes", path, wfsimage.DiskSize)
	if err := fallocate.Fallocate(f, 0, wfsimage.DiskSize); err != nil {
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	rootHeader := wfsfmt.InodeHeader{
		InodeNumber: wfsfmt.RootInode,
		Mode:        wfsfmt.ModeDir | 0755,
		Links:       1,
	}
	root := make([]byte, wfsfmt.InodeHeaderSize)
	wfsfmt.EncodeInodeHeader(root, rootHeader)

	img, err := wfsimage.Create(path, root)
	if err != nil {
		os.Remove(path)
		return err
	}
	defer img.Close()

	if err := img.Sync(); err != nil {
		return err
	}

	log.Printf("created %s (%d bytes)", path, wfsimage.DiskSize)
	return nil
}
