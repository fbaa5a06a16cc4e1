package supervisor

import "github.com/mojyack/daemonfs/internal/daemon"

// op discriminates the kind of filesystem operation a request carries. It
// is the Go rendition of the original's Variant<GetAttr, MakeDir, ...>.
type op int

const (
	opGetAttr op = iota
	opMakeDir
	opRemoveDir
	opReadDir
	opTruncate
	opRead
	opWrite
	opBootstrap
	opQuit
)

// request is one filesystem-operation command plus its completion handle.
// The FS adapter constructs one per callback, enqueues it on the mailbox,
// and blocks on done. Only the supervisor goroutine ever writes the out*
// fields; the done channel close is the memory-ordering fence
// that lets the producer goroutine safely read them afterward.
type request struct {
	op     op
	path   string
	offset uint64
	inBuf  []byte

	outAttr  daemon.Attr
	outNames []string
	outBuf   []byte

	result error
	done   chan struct{}
}
