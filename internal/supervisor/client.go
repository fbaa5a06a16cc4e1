package supervisor

import "github.com/mojyack/daemonfs/internal/daemon"

// This file is the command-queue producer side (spec.md §4.C / §4.E): the
// FS adapter calls these from its own callback goroutines, each one
// blocking until the supervisor goroutine has applied the command.

func (s *Supervisor) GetAttr(path string) (daemon.Attr, error) {
	r := &request{op: opGetAttr, path: path}
	err := s.mailbox.submit(r)
	return r.outAttr, err
}

func (s *Supervisor) MakeDir(path string) error {
	return s.mailbox.submit(&request{op: opMakeDir, path: path})
}

func (s *Supervisor) RemoveDir(path string) error {
	return s.mailbox.submit(&request{op: opRemoveDir, path: path})
}

func (s *Supervisor) ReadDir(path string) ([]string, error) {
	r := &request{op: opReadDir, path: path}
	err := s.mailbox.submit(r)
	return r.outNames, err
}

func (s *Supervisor) Truncate(path string, size uint64) error {
	return s.mailbox.submit(&request{op: opTruncate, path: path, offset: size})
}

func (s *Supervisor) Read(path string) ([]byte, error) {
	r := &request{op: opRead, path: path}
	err := s.mailbox.submit(r)
	return r.outBuf, err
}

func (s *Supervisor) Write(path string, buf []byte) error {
	return s.mailbox.submit(&request{op: opWrite, path: path, inBuf: buf})
}

// Quit asks the supervisor loop to exit after in-flight requests queued
// before it complete normally, matching spec.md §5's cancellation policy.
func (s *Supervisor) Quit() error {
	return s.mailbox.submit(&request{op: opQuit})
}
