package supervisor

import "sync"

// mailbox is the multi-producer single-consumer batch queue described in
// spec.md §4.C: producers append under a short critical section, the
// consumer swaps the pending slice for a fresh empty one and processes the
// batch outside the lock. wake is the Go analog of writing a counter to an
// eventfd: a single buffered slot is enough since the consumer only cares
// that *something* is pending, not how many wakeups arrived.
type mailbox struct {
	mu      sync.Mutex
	pending []*request
	wake    chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

// push appends r and signals the consumer. Safe for concurrent callers.
func (m *mailbox) push(r *request) {
	m.mu.Lock()
	m.pending = append(m.pending, r)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// drain atomically swaps out the pending batch. Preserves FIFO order
// within the returned batch; makes no promise across successive drains.
func (m *mailbox) drain() []*request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	batch := m.pending
	m.pending = nil
	return batch
}

// submit enqueues r and blocks the caller until the supervisor goroutine
// has processed it, then returns its result. This is the Go rendition of
// DaemonFS::remote_command: push, wake, wait on the completion event.
func (m *mailbox) submit(r *request) error {
	r.done = make(chan struct{})
	m.push(r)
	<-r.done
	return r.result
}
