// Package reactor defines the readiness-polling contract shared by the
// two back-ends (SelectReactor, PollReactor) and owned by mux.Multiplexer.
package reactor

import "time"

// Kind names one of the three readiness conditions a descriptor can be
// watched for.
type Kind int

const (
	Readable Kind = iota
	Writable
	Exceptional
)

// Reactor watches a dynamic set of file descriptors for readiness. All
// methods are called from the single loop goroutine; a Reactor is never
// used concurrently.
type Reactor interface {
	// SetInterest atomically adjusts the interest flags for fd. state
	// selects set (true) or clear (false); each of read/write/except
	// says which flags the call touches.
	SetInterest(fd int, state bool, read, write, except bool)

	// PollOnce blocks up to wait for readiness on any watched
	// descriptor. It returns the number of ready descriptors and,
	// where the backend can report it, the unused portion of wait.
	// A nil error with numReady == 0 means the wait elapsed or the call
	// was interrupted (EINTR/EAGAIN); either way the loop should simply
	// continue.
	PollOnce(wait time.Duration) (numReady int, timeLeft time.Duration, err error)

	// ReadyIter returns the descriptors ready for kind after the most
	// recent PollOnce. The slice is only valid until the next PollOnce.
	ReadyIter(kind Kind) []int

	// Close releases backend resources (epoll/kqueue fd, etc).
	Close() error
}
