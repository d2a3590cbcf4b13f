// Package mux implements the Multiplexer: the owner of the handler
// table and timeout table, and the main readiness/timeout loop that
// drives them through a reactor.Reactor backend.
package mux

import (
	"sync"
	"syscall"
	"time"

	"github.com/markov2/iomux/handler"
	"github.com/markov2/iomux/internal/ioerr"
	"github.com/markov2/iomux/internal/mlog"
	"github.com/markov2/iomux/reactor"
)

// LongWait is the wait passed to the reactor when no timeout is armed.
const LongWait = 60 * time.Second

// MinWait is the floor applied to a due-or-overdue deadline, avoiding a
// busy-loop livelock on a sub-millisecond timeout.
const MinWait = time.Millisecond

var sigpipeOnce sync.Once

// ignoreSIGPIPE is the Multiplexer's one documented startup action:
// broken-pipe delivery is suppressed process-wide so write failures
// always surface as a per-call error instead of killing the process.
// Tests must tolerate this; it runs at most once.
func ignoreSIGPIPE() {
	sigpipeOnce.Do(func() {
		signalIgnore(syscall.SIGPIPE)
	})
}

// Heartbeat is invoked once per loop iteration, before any readiness
// dispatch, even when numReady is 0 — it lets callers drive wall-clock
// work off the loop without waiting for an event.
type Heartbeat func(m *Multiplexer, numReady int, timeLeft time.Duration)

// Multiplexer owns the handler table and timeout table and runs the
// single-threaded readiness loop.
type Multiplexer struct {
	reactor  reactor.Reactor
	handlers map[int]handler.Handler
	timeouts *timeoutTable
	endLoop  bool
}

// New constructs a Multiplexer over the given reactor backend (typically
// reactor.NewSelectReactor() or reactor.NewPollReactor()).
func New(r reactor.Reactor) *Multiplexer {
	ignoreSIGPIPE()
	return &Multiplexer{
		reactor:  r,
		handlers: make(map[int]handler.Handler),
		timeouts: newTimeoutTable(),
	}
}

// Len reports the number of attached handlers.
func (m *Multiplexer) Len() int { return len(m.handlers) }

// Lookup returns the handler attached at fd, if any.
func (m *Multiplexer) Lookup(fd int) (handler.Handler, bool) {
	h, ok := m.handlers[fd]
	return h, ok
}

// Attach validates and registers h, invoking its OnAttach hook to set
// its initial interest mask. A handler construction error from OnAttach
// propagates out of Attach; h is not left attached.
func (m *Multiplexer) Attach(h handler.Handler) error {
	fd := h.FD()
	if fd < 0 {
		return ioerr.Configf("mux: invalid file descriptor %d for handler %q", fd, h.Name())
	}
	if _, exists := m.handlers[fd]; exists {
		return ioerr.Configf("mux: fd %d already attached (handler %q)", fd, h.Name())
	}
	m.handlers[fd] = h
	if err := h.OnAttach(m); err != nil {
		delete(m.handlers, fd)
		return err
	}
	return nil
}

// Detach removes fd's handler from the table, clears its reactor
// interest, invokes OnDetach, and drops any armed timeout.
func (m *Multiplexer) Detach(fd int) {
	h, ok := m.handlers[fd]
	if !ok {
		return
	}
	delete(m.handlers, fd)
	m.reactor.SetInterest(fd, false, true, true, true)
	m.timeouts.Remove(fd)
	h.OnDetach()
}

// SetInterest forwards to the reactor; part of handler.Mux.
func (m *Multiplexer) SetInterest(fd int, state bool, read, write, except bool) {
	m.reactor.SetInterest(fd, state, read, write, except)
}

// ChangeTimeout updates fd's deadline in the timeout table. old is
// accepted for interface parity with handler.Mux but unused: the
// heap-backed table always holds the true current deadline, so there is
// nothing to reconcile against.
func (m *Multiplexer) ChangeTimeout(fd int, old, new float64) {
	m.timeouts.Set(fd, new)
}

// NextTimeout returns the minimum armed deadline, if any.
func (m *Multiplexer) NextTimeout() (float64, bool) {
	return m.timeouts.Min()
}

// EndLoop requests that Run stop after the current iteration.
func (m *Multiplexer) EndLoop() { m.endLoop = true }

// Run is the main loop. It returns when no handlers remain, EndLoop was
// called, or the reactor reports a fatal error.
func (m *Multiplexer) Run(hb Heartbeat) error {
	defer m.closeAll()

	for {
		if len(m.handlers) == 0 || m.endLoop {
			return nil
		}

		wait := LongWait
		if deadline, ok := m.NextTimeout(); ok {
			remaining := time.Duration((deadline - nowSeconds()) * float64(time.Second))
			if remaining < MinWait {
				remaining = MinWait
			}
			wait = remaining
		}

		numReady, timeLeft, err := m.reactor.PollOnce(wait)
		if err != nil {
			mlog.Log.WithError(err).Error("reactor fatal, ending loop")
			return err
		}

		if hb != nil {
			hb(m, numReady, timeLeft)
		}

		m.dispatchReady(reactor.Readable)
		m.dispatchReady(reactor.Writable)
		m.dispatchReady(reactor.Exceptional)

		m.expireTimeouts()
	}
}

func (m *Multiplexer) dispatchReady(kind reactor.Kind) {
	for _, fd := range m.reactor.ReadyIter(kind) {
		h, ok := m.handlers[fd]
		if !ok {
			continue // closed during this iteration
		}
		switch kind {
		case reactor.Readable:
			h.OnReadable()
		case reactor.Writable:
			h.OnWritable()
		case reactor.Exceptional:
			h.OnException()
		}
	}
}

func (m *Multiplexer) expireTimeouts() {
	now := nowSeconds()
	for _, fd := range m.timeouts.PopExpired(now) {
		h, ok := m.handlers[fd]
		if !ok {
			continue
		}
		h.OnTimeout()
	}
}

func (m *Multiplexer) closeAll() {
	for fd, h := range m.handlers {
		delete(m.handlers, fd)
		m.reactor.SetInterest(fd, false, true, true, true)
		_ = h.Close(nil)
	}
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
