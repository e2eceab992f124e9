// Command mount mounts a WFS image at a mount point via FUSE. It opens
// the image read/write, wires up the operation surface, and blocks until
// the mount is unmounted (by the kernel, by a user calling fusermount -u,
// or by this process catching SIGINT/SIGTERM and unmounting itself).
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"

	"github.com/eyunku/wfs/internal/wfsdebug"
	"github.com/eyunku/wfs/internal/wfsfs"
	"github.com/eyunku/wfs/internal/wfsimage"
)

var (
	fMountPoint = flag.String("mount_point", "", "Path to the mount point.")
	fImage      = flag.String("image", "", "Path to the WFS image file.")
	fDebug      = flag.Bool("debug", false, "Enable fuse debug logging.")
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("mount: ")
	flag.Parse()

	if *fMountPoint == "" || *fImage == "" {
		log.Fatalf("You must set --mount_point and --image.")
	}

	if err := run(*fMountPoint, *fImage, *fDebug); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(mountPoint, imagePath string, debug bool) error {
	img, err := wfsimage.Open(imagePath)
	if err != nil {
		return err
	}
	defer img.Close()

	uid, gid, err := currentIDs()
	if err != nil {
		return err
	}

	fs := wfsfs.New(img, timeutil.RealClock(), uid, gid)
	server := fuseutil.NewFileSystemServer(fs)

	cfg := &fuse.MountConfig{
		// Disable writeback caching so pid is always available, matching
		// the teacher's own mount_memfs.
		DisableWritebackCaching: true,
	}
	if debug {
		cfg.DebugLogger = log.New(os.Stderr, "fuse: ", 0)
	}

	mfs, err := fuse.Mount(mountPoint, server, cfg)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		wfsdebug.Component("mount").Printf("received signal, unmounting %s", mountPoint)
		if err := mfs.Unmount(); err != nil {
			log.Printf("unmount failed: %v", err)
		}
	}()

	return mfs.Join(context.Background())
}

func currentIDs() (uid, gid uint32, err error) {
	u, err := user.Current()
	if err != nil {
		return 0, 0, err
	}

	uid64, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, 0, err
	}
	gid64, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return 0, 0, err
	}
	return uint32(uid64), uint32(gid64), nil
}
