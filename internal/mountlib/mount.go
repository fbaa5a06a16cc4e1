// Package mountlib wires a supervisor and FS adapter together and drives
// jacobsa/fuse's mount/unmount lifecycle, matching the shape of the
// teacher's cmd.mountWithArgs / cmd.mountWithConf split (cmd/mount.go) but
// without any of GCS's bucket/config plumbing.
package mountlib

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/mojyack/daemonfs/internal/clock"
	"github.com/mojyack/daemonfs/internal/fsadapter"
	"github.com/mojyack/daemonfs/internal/logger"
	"github.com/mojyack/daemonfs/internal/supervisor"
)

// Config holds everything cmd/daemonfs parses off the command line.
type Config struct {
	MountPoint string
	Bootstrap  string
	Verbose    bool
}

// Run mounts the daemon filesystem at cfg.MountPoint and blocks until it is
// unmounted, either by the kernel (fusermount -u) or by a SIGINT delivered
// to this process. It matches the teacher's mountWithArgs/registerSIGINTHandler/
// mfs.Join(...) shutdown dance in cmd/legacy_main.go.
func Run(cfg Config) error {
	if cfg.Verbose {
		logger.SetLevel(logger.LevelDebug)
	}

	sup := supervisor.New(clock.Real{}, cfg.Verbose)

	go sup.Run()
	defer func() {
		_ = sup.Quit()
		<-sup.Stopped()
	}()

	fs := fsadapter.New(sup, uint32(os.Getuid()), uint32(os.Getgid()), cfg.Bootstrap)
	server := fuseutil.NewFileSystemServer(fs)

	mountCfg := &fuse.MountConfig{
		FSName:     "daemonfs",
		Subtype:    "daemonfs",
		VolumeName: "daemonfs",
	}

	logger.Infof("mounting daemonfs at %q", cfg.MountPoint)
	mfs, err := fuse.Mount(cfg.MountPoint, server, mountCfg)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	registerSIGINTHandler(mfs.Dir())

	if err := mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("waiting for unmount: %w", err)
	}

	logger.Infof("unmounted %q", cfg.MountPoint)
	return nil
}

// registerSIGINTHandler unmounts in response to Ctrl-C, mirroring the
// teacher's cmd.registerSIGINTHandler.
func registerSIGINTHandler(mountPoint string) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)

	go func() {
		for range signalChan {
			logger.Infof("received SIGINT, attempting to unmount %q...", mountPoint)
			if err := fuse.Unmount(mountPoint); err != nil {
				logger.Errorf("failed to unmount in response to SIGINT: %v", err)
			} else {
				logger.Infof("successfully unmounted %q in response to SIGINT", mountPoint)
				return
			}
		}
	}()
}
