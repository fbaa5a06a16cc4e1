// Package daemon implements the per-daemon record: state machine, metadata,
// output buffers, and process-spawn plumbing. Every method here except Wait
// runs on the supervisor's owning goroutine only — nothing in this package
// takes its own lock. Wait runs on a per-child goroutine; it only reads the
// process handle StartProcess set before that goroutine started and writes
// no Daemon field.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mojyack/daemonfs/internal/clock"
	"github.com/mojyack/daemonfs/internal/ring"
)

// State is the lifecycle stage of a supervised daemon.
type State int

const (
	Init State = iota
	Up
	WantDown
	Down
	Fail
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Up:
		return "up"
	case WantDown:
		return "want-down"
	case Down:
		return "down"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// pidValid reports whether s is a state in which Pid/stdout/stderr pipes
// refer to a live child.
func (s State) pidValid() bool {
	return s == Up || s == WantDown
}

// restartGrace is the minimum uptime a child must reach in Up before its
// exit is treated as a restart rather than a launch failure.
const restartGrace = 5 * time.Second

// Attr is the metadata the FS adapter needs to answer a getattr call for one
// virtual file. It intentionally carries no FUSE types: this package knows
// nothing about the filesystem binding.
type Attr struct {
	Size     uint64
	ReadOnly bool
	IsDir    bool
	ModTime  time.Time
}

// Daemon is one supervised child process and its virtual directory.
type Daemon struct {
	Name    string
	Args    []string
	State   State
	Oneshot bool

	Created      time.Time
	StateChanged time.Time

	Stdout *ring.Buffer
	Stderr *ring.Buffer

	// Child-process state, meaningful only while State.pidValid().
	Pid        int
	cmd        *exec.Cmd
	StdoutPipe *os.File
	StderrPipe *os.File

	clock clock.Clock
}

// defaultBufferCapacity is the ring buffer size given to new stdout/stderr
// buffers. It matches no particular constant in the original; 64KiB is a
// generous default for captured service output that truncate can still
// shrink or grow per-daemon.
const defaultBufferCapacity = 64 * 1024

// New creates a daemon record in state Init.
func New(name string, c clock.Clock) *Daemon {
	now := c.Now()
	return &Daemon{
		Name:         name,
		State:        Init,
		Created:      now,
		StateChanged: now,
		Stdout:       ring.New(defaultBufferCapacity),
		Stderr:       ring.New(defaultBufferCapacity),
		clock:        c,
	}
}

// SetState transitions the daemon and stamps the state-changed time.
func (d *Daemon) SetState(s State) {
	d.State = s
	d.StateChanged = d.clock.Now()
}

// GetAttr fills in metadata for a named virtual file inside the daemon's
// directory.
func (d *Daemon) GetAttr(file string) (Attr, error) {
	if file == "args" {
		return Attr{ModTime: d.Created}, nil
	}
	if d.State == Init {
		return Attr{}, syscall.ENOENT
	}
	switch file {
	case "state":
		return Attr{ModTime: d.StateChanged}, nil
	case "stdout":
		return Attr{Size: d.Stdout.Len(), ModTime: d.Created}, nil
	case "stderr":
		return Attr{Size: d.Stderr.Len(), ModTime: d.Created}, nil
	case "pid":
		if !d.State.pidValid() {
			return Attr{}, syscall.ENOENT
		}
		return Attr{ReadOnly: true, ModTime: d.Created}, nil
	}
	return Attr{}, syscall.ENOENT
}

// ReadDir calls emit once per virtual file currently present, in the same
// order the original lists them. emit returning false stops the walk.
func (d *Daemon) ReadDir(emit func(name string) bool) error {
	if !emit("args") {
		return nil
	}
	if d.State == Init {
		return nil
	}
	if !emit("state") {
		return nil
	}
	if d.State.pidValid() {
		if !emit("pid") {
			return nil
		}
	}
	if !emit("stdout") {
		return nil
	}
	emit("stderr")
	return nil
}

// Truncate resizes a ring buffer's capacity. Only stdout/stderr support it.
func (d *Daemon) Truncate(file string, size uint64) error {
	switch file {
	case "stdout":
		d.Stdout.Resize(int(size))
	case "stderr":
		d.Stderr.Resize(int(size))
	default:
		return syscall.EINVAL
	}
	return nil
}

// Read returns the full current contents of a virtual file.
func (d *Daemon) Read(file string) ([]byte, error) {
	if file == "args" {
		var b strings.Builder
		for _, a := range d.Args {
			b.WriteString(a)
			b.WriteByte('\n')
		}
		return []byte(b.String()), nil
	}
	if d.State == Init {
		return nil, syscall.EINVAL
	}
	switch file {
	case "state":
		return []byte(d.State.String()), nil
	case "pid":
		if !d.State.pidValid() {
			return nil, syscall.EINVAL
		}
		return []byte(strconv.Itoa(d.Pid)), nil
	case "stdout":
		return readAll(d.Stdout), nil
	case "stderr":
		return readAll(d.Stderr), nil
	}
	return nil, syscall.ENOENT
}

func readAll(b *ring.Buffer) []byte {
	n := b.Len()
	capacity := uint64(b.Cap())
	start := uint64(0)
	if n > capacity {
		start = n - capacity
	}
	out := make([]byte, n-start)
	b.ReadAt(start, out)
	return out
}

// Write handles writes to the record-level writable file, "args". State
// writes are handled one layer up (the supervisor), since they affect
// process lifecycle rather than the record alone; writes to any other file,
// stdout/stderr included, are rejected with ENOENT.
func (d *Daemon) Write(file string, buf []byte) error {
	if file != "args" {
		return syscall.ENOENT
	}
	if d.State != Init {
		return syscall.EINVAL
	}
	if len(buf) == 0 {
		return syscall.EINVAL
	}
	fields := strings.Split(string(buf), "\n")
	// A trailing newline produces a spurious empty trailing field; the
	// original's split keeps it, but an all-empty final arg makes no sense
	// for an argv and original_source itself never feeds one through
	// start_process with a trailing empty element mattering, so trim it.
	if fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}
	if len(fields) == 0 || !filepath.IsAbs(fields[0]) {
		return syscall.EINVAL
	}
	d.Args = append(d.Args, fields...)
	d.SetState(Down)
	return nil
}

// StartProcess spawns the child: stdin from /dev/null, stdout/stderr piped
// back to the caller, cwd the parent directory of the executable, own
// session. On success d.Pid/StdoutPipe/StderrPipe are populated and the
// caller is expected to call SetState(Up).
func (d *Daemon) StartProcess() error {
	if len(d.Args) == 0 {
		return fmt.Errorf("daemon %s: no args configured", d.Name)
	}

	cmd := exec.Command(d.Args[0], d.Args[1:]...)
	cmd.Dir = filepath.Dir(d.Args[0])
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	devnull, err := os.Open(os.DevNull)
	if err != nil {
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	cmd.Stdin = devnull

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		devnull.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		devnull.Close()
		stdoutR.Close()
		stdoutW.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		devnull.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return fmt.Errorf("start %s: %w", d.Args[0], err)
	}

	// These are the child's ends; the parent only reads from stdoutR/stderrR.
	stdoutW.Close()
	stderrW.Close()
	devnull.Close()

	d.cmd = cmd
	d.Pid = cmd.Process.Pid
	d.StdoutPipe = stdoutR
	d.StderrPipe = stderrR
	return nil
}

// Wait blocks until the child exits and reaps it, returning its exit
// description. Called from the supervisor's per-child goroutine (see
// SPEC_FULL.md §4.D.2); cmd.Wait() itself is the blocking step that
// replaces SIGCHLD delivery.
func (d *Daemon) Wait() error {
	if d.cmd == nil {
		return fmt.Errorf("daemon %s: no running process", d.Name)
	}
	return d.cmd.Wait()
}

// ClosePipes closes both output pipes; idempotent.
func (d *Daemon) ClosePipes() {
	if d.StdoutPipe != nil {
		d.StdoutPipe.Close()
		d.StdoutPipe = nil
	}
	if d.StderrPipe != nil {
		d.StderrPipe.Close()
		d.StderrPipe = nil
	}
}

// UptimeBelowGrace reports whether less than restartGrace has elapsed since
// the daemon's last state change — the launch-failure-vs-restart threshold.
func (d *Daemon) UptimeBelowGrace() bool {
	return d.clock.Now().Sub(d.StateChanged) < restartGrace
}

// Signal sends sig to the child process itself, matching the original's
// kill(daemon->pid, SIGTERM) rather than a process-group-wide signal.
func (d *Daemon) Signal(sig syscall.Signal) error {
	if d.cmd == nil || d.cmd.Process == nil {
		return syscall.ESRCH
	}
	return d.cmd.Process.Signal(sig)
}
