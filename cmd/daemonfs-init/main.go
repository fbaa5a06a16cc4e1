// cmd/daemonfs-init is the companion PID-1 launcher described in
// original_source/src/init.cpp: it is architecturally independent of the
// filesystem supervisor and ships as its own binary. It runs three boot
// stages in sequence (/etc/init/1, /etc/init/2, /etc/init/3) and then
// reboots or powers off depending on which of SIGUSR1 (cancel) /
// SIGUSR2 (request) was most recently received.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/mojyack/daemonfs/internal/logger"
	"github.com/mojyack/daemonfs/internal/siginit"
)

const stageDir = "/etc/init"

func runStage(stage int) error {
	exe := fmt.Sprintf("%s/%d", stageDir, stage)
	cmd := exec.Command(exe)
	cmd.Dir = stageDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting stage %d (%s): %w", stage, exe, err)
	}
	return cmd.Wait()
}

// attachConsole redirects stdin/stdout/stderr to /dev/console, matching
// init.cpp's dup2 dance. Absence of a console (e.g. under a test harness)
// is not fatal; the original treats open() failure the same way.
func attachConsole() {
	fd, err := unix.Open("/dev/console", unix.O_RDWR, 0)
	if err != nil {
		return
	}
	for _, dst := range []int{0, 1, 2} {
		_ = unix.Dup2(fd, dst)
	}
	if fd > 2 {
		_ = unix.Close(fd)
	}
}

func run() error {
	if os.Getpid() != 1 {
		return fmt.Errorf("must be run as process 1")
	}
	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("setsid: %w", err)
	}

	siginit.Ignore(os.Interrupt, syscall.SIGTERM, syscall.SIGPIPE)

	var rebootRequested atomic.Bool
	userSignals := siginit.Notify(syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for sig := range userSignals {
			switch sig {
			case syscall.SIGUSR1:
				rebootRequested.Store(false)
			case syscall.SIGUSR2:
				rebootRequested.Store(true)
			}
		}
	}()

	attachConsole()

	if err := unix.Reboot(unix.RB_DISABLE_CAD); err != nil {
		return fmt.Errorf("disabling ctrl-alt-del: %w", err)
	}

	for stage := 1; stage <= 3; stage++ {
		logger.Infof("running boot stage %d", stage)
		if err := runStage(stage); err != nil {
			logger.Errorf("boot stage %d exited with error: %v", stage, err)
		}
	}

	logger.Infof("sending SIGKILL to all remaining processes...")
	_ = syscall.Kill(-1, syscall.SIGKILL)
	unix.Sync()

	action := unix.RB_POWER_OFF
	if rebootRequested.Load() {
		action = unix.RB_AUTOBOOT
	}
	if err := unix.Reboot(action); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}

// emergencyShell is the last resort when run returns an error: exec an
// agetty so whoever is watching the console gets a login prompt instead of
// a dead kernel, matching main()'s fallback in init.cpp.
func emergencyShell() {
	argv := []string{"/sbin/agetty", "--noclear", "tty1", "linux"}
	_ = syscall.Exec(argv[0], argv, os.Environ())
}

func main() {
	if err := run(); err != nil {
		logger.Errorf("init exited unexpectedly: %v", err)
		logger.Errorf("falling back to emergency shell")
		emergencyShell()
		os.Exit(1)
	}
}
