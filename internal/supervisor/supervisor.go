// Package supervisor is the owner of all daemon state: the command
// mailbox (component C) and the single-goroutine event loop that drains
// it, multiplexes child output, reaps exited children, and enforces the
// restart policy (component D).
package supervisor

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"syscall"
	"time"

	"github.com/mojyack/daemonfs/internal/clock"
	"github.com/mojyack/daemonfs/internal/daemon"
	"github.com/mojyack/daemonfs/internal/logger"
)

// outputChunk is one read's worth of bytes from a child's stdout or
// stderr, forwarded by a per-pipe reader goroutine to the owner goroutine.
type outputChunk struct {
	d      *daemon.Daemon
	stderr bool
	data   []byte
}

// exitEvent reports that a child has been reaped; its Wait() goroutine
// already holds the *os.ProcessState via cmd.Wait(), this struct only
// carries enough for the owner goroutine to find which Daemon it was and
// log the outcome.
type exitEvent struct {
	d   *daemon.Daemon
	err error // from (*exec.Cmd).Wait; nil means clean exit code 0
}

// Supervisor owns every Daemon record and the goroutines feeding it
// events. The zero value is not usable; construct with New.
type Supervisor struct {
	clock   clock.Clock
	verbose bool

	mailbox *mailbox
	daemons []*daemon.Daemon
	created time.Time

	output  chan outputChunk
	exited  chan exitEvent
	quit    chan struct{}
	stopped chan struct{}
}

// readChunkSize mirrors the original's fixed-size read loop buffer.
const readChunkSize = 256

// New creates a Supervisor. Call Run in its own goroutine, then use the
// command methods in client.go (GetAttr, MakeDir, Write, ..., invoked from
// FS-adapter callback goroutines) to enqueue commands.
func New(c clock.Clock, verbose bool) *Supervisor {
	return &Supervisor{
		clock:   c,
		verbose: verbose,
		created: c.Now(),
		mailbox: newMailbox(),
		output:  make(chan outputChunk, 64),
		exited:  make(chan exitEvent, 8),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run is the supervisor's main loop (spec.md §4.D). It must run on its own
// goroutine and is the only goroutine that ever mutates Supervisor.daemons
// or any Daemon it owns.
func (s *Supervisor) Run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.mailbox.wake:
			s.drainRequests()
		case chunk := <-s.output:
			s.appendOutput(chunk)
		case ev := <-s.exited:
			s.reap(ev)
		case <-s.quit:
			return
		}
	}
}

// Stopped is closed once Run has returned.
func (s *Supervisor) Stopped() <-chan struct{} { return s.stopped }

func (s *Supervisor) appendOutput(chunk outputChunk) {
	buf := chunk.d.Stdout
	if chunk.stderr {
		buf = chunk.d.Stderr
	}
	buf.Write(chunk.data)
	if s.verbose {
		stream := "stdout"
		if chunk.stderr {
			stream = "stderr"
		}
		logger.Infof("%s[%s]: %s", chunk.d.Name, stream, string(chunk.data))
	}
}

// reap applies spec.md §4.D.2's restart policy once a child has actually
// been reaped by its own Wait() goroutine.
func (s *Supervisor) reap(ev exitEvent) {
	d := ev.d
	if ev.err != nil {
		logger.Infof("daemon %s exited: %v", d.Name, ev.err)
	} else {
		logger.Infof("daemon %s exited cleanly", d.Name)
	}
	d.ClosePipes()

	if d.Oneshot || d.State == daemon.WantDown {
		d.SetState(daemon.Down)
		return
	}

	if d.UptimeBelowGrace() {
		logger.Warnf("daemon %s failed to launch", d.Name)
		d.SetState(daemon.Fail)
		return
	}

	logger.Infof("restarting daemon %s", d.Name)
	if err := s.startDaemon(d); err != nil {
		logger.Errorf("restarting daemon %s: %v", d.Name, err)
		d.SetState(daemon.Fail)
	}
}

// startDaemon spawns d's process, transitions it to Up, and starts the
// goroutines that feed the owner loop (spec.md's start_daemon).
func (s *Supervisor) startDaemon(d *daemon.Daemon) error {
	if err := d.StartProcess(); err != nil {
		return err
	}
	d.SetState(daemon.Up)
	go s.pumpOutput(d, false, d.StdoutPipe)
	go s.pumpOutput(d, true, d.StderrPipe)
	go s.waitChild(d)
	return nil
}

// pumpOutput is the per-pipe reader goroutine: the Go analog of the
// owner loop's "loop-read until EAGAIN" step, except the blocking read
// itself now happens off the owner goroutine, which only ever sees
// already-read chunks via s.output.
func (s *Supervisor) pumpOutput(d *daemon.Daemon, stderr bool, r io.Reader) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.output <- outputChunk{d: d, stderr: stderr, data: chunk}
		}
		if err != nil {
			return
		}
	}
}

// waitChild blocks until the child exits, then reports it to the owner
// goroutine. See SPEC_FULL.md §4.D.2 for why this replaces a global
// SIGCHLD handler + waitpid(-1, ...).
func (s *Supervisor) waitChild(d *daemon.Daemon) {
	err := d.Wait()
	s.exited <- exitEvent{d: d, err: err}
}

func (s *Supervisor) drainRequests() {
	for _, r := range s.mailbox.drain() {
		r.result = s.dispatch(r)
		close(r.done)
	}
}

func (s *Supervisor) findDaemon(name string) *daemon.Daemon {
	for _, d := range s.daemons {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// splitPath turns a "/name/file"-shaped path into its non-empty elements.
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func (s *Supervisor) dispatch(r *request) error {
	switch r.op {
	case opGetAttr:
		return s.doGetAttr(r)
	case opMakeDir:
		return s.doMakeDir(r)
	case opRemoveDir:
		return s.doRemoveDir(r)
	case opReadDir:
		return s.doReadDir(r)
	case opTruncate:
		return s.doTruncate(r)
	case opRead:
		return s.doRead(r)
	case opWrite:
		return s.doWrite(r)
	case opBootstrap:
		return s.doBootstrap(r)
	case opQuit:
		close(s.quit)
		return nil
	default:
		return fmt.Errorf("supervisor: unknown op %d", r.op)
	}
}

func (s *Supervisor) doGetAttr(r *request) error {
	elems := splitPath(r.path)
	if len(elems) == 0 {
		r.outAttr = daemon.Attr{IsDir: true, ModTime: s.created}
		return nil
	}
	if len(elems) > 2 {
		return syscall.EINVAL
	}
	d := s.findDaemon(elems[0])
	if d == nil {
		return syscall.ENOENT
	}
	if len(elems) == 1 {
		r.outAttr = daemon.Attr{IsDir: true, ModTime: d.Created}
		return nil
	}
	attr, err := d.GetAttr(elems[1])
	r.outAttr = attr
	return err
}

func (s *Supervisor) doMakeDir(r *request) error {
	elems := splitPath(r.path)
	if len(elems) != 1 {
		return syscall.EINVAL
	}
	if s.findDaemon(elems[0]) != nil {
		return syscall.EEXIST
	}
	s.daemons = append(s.daemons, daemon.New(elems[0], s.clock))
	return nil
}

func (s *Supervisor) doRemoveDir(r *request) error {
	elems := splitPath(r.path)
	if len(elems) != 1 {
		return syscall.EINVAL
	}
	for i, d := range s.daemons {
		if d.Name != elems[0] {
			continue
		}
		if d.State == daemon.Up || d.State == daemon.WantDown {
			return syscall.EBUSY
		}
		s.daemons = append(s.daemons[:i], s.daemons[i+1:]...)
		return nil
	}
	return syscall.ENOENT
}

func (s *Supervisor) doReadDir(r *request) error {
	elems := splitPath(r.path)
	if len(elems) == 0 {
		names := make([]string, len(s.daemons))
		for i, d := range s.daemons {
			names[i] = d.Name
		}
		r.outNames = names
		return nil
	}
	if len(elems) != 1 {
		return syscall.EINVAL
	}
	d := s.findDaemon(elems[0])
	if d == nil {
		return syscall.ENOENT
	}
	var names []string
	d.ReadDir(func(name string) bool {
		names = append(names, name)
		return true
	})
	r.outNames = names
	return nil
}

func (s *Supervisor) findDaemonAndFile(path string) (*daemon.Daemon, string, error) {
	elems := splitPath(path)
	if len(elems) != 2 {
		return nil, "", syscall.EINVAL
	}
	d := s.findDaemon(elems[0])
	if d == nil {
		return nil, "", syscall.ENOENT
	}
	return d, elems[1], nil
}

func (s *Supervisor) doTruncate(r *request) error {
	d, file, err := s.findDaemonAndFile(r.path)
	if err != nil {
		return err
	}
	return d.Truncate(file, r.offset)
}

func (s *Supervisor) doRead(r *request) error {
	d, file, err := s.findDaemonAndFile(r.path)
	if err != nil {
		return err
	}
	buf, err := d.Read(file)
	r.outBuf = buf
	return err
}

// doWrite handles both the record-level "args" write (delegated to
// Daemon.Write) and the lifecycle-affecting "state" write, which the
// original keeps at the DaemonFS layer because it drives start/stop
// rather than record bookkeeping (spec.md §4.D.1).
func (s *Supervisor) doWrite(r *request) error {
	d, file, err := s.findDaemonAndFile(r.path)
	if err != nil {
		return err
	}

	if file == "state" {
		want := string(bytes.TrimRight(r.inBuf, "\n"))
		switch want {
		case "up":
			if d.State != daemon.Down && d.State != daemon.Fail {
				return syscall.EINVAL
			}
			if err := s.startDaemon(d); err != nil {
				return syscall.EIO
			}
			return nil
		case "down":
			if d.State != daemon.Up {
				return syscall.EINVAL
			}
			d.SetState(daemon.WantDown)
			if err := d.Signal(syscall.SIGTERM); err != nil {
				return syscall.EIO
			}
			return nil
		default:
			return syscall.EINVAL
		}
	}

	return d.Write(file, r.inBuf)
}

// Bootstrap implements spec.md §4.D.3: given a bootstrap executable path,
// create a oneshot "bootstrap" daemon and start it immediately. Called by
// internal/fsadapter's Init hook, which the kernel invokes once the FUSE
// connection is actually established — this goes through the mailbox
// like every other command, since by the time Init fires Run is already
// draining it on its own goroutine.
func (s *Supervisor) Bootstrap(exe string) error {
	return s.mailbox.submit(&request{op: opBootstrap, path: exe})
}

func (s *Supervisor) doBootstrap(r *request) error {
	if r.path == "" {
		return nil
	}
	d := daemon.New("bootstrap", s.clock)
	d.Oneshot = true
	d.Args = []string{r.path}
	d.SetState(daemon.Down)
	s.daemons = append(s.daemons, d)
	return s.startDaemon(d)
}
