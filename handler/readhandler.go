package handler

import (
	"syscall"

	"github.com/markov2/iomux/internal/ioerr"
	"github.com/markov2/iomux/internal/mlog"
)

// DefaultReadSize is the read_size used when a ReadHandler is
// constructed with size <= 0.
const DefaultReadSize = 32768

// continuation is the single-shot closure installed by ReadLine/Slurp.
// It is invoked on every chunk appended to In and once more on EOF; it
// returns true once it has delivered its result and should be cleared.
// Only one may be in flight at a time — installing a second while one
// is pending is a programming error.
type continuation func(in *InBuf, eof bool) bool

// ReadHandler is a non-blocking reader over a raw file descriptor: it
// accumulates bytes in In and offers two delivery combinators, ReadLine
// and Slurp, built on a single continuation slot.
type ReadHandler struct {
	Base
	ReadSize int
	In       InBuf

	continuation continuation

	// OnInputHook/OnEOFHook let a composite (tcp.Stream, bundle's
	// stdout/stderr routing) override what OnReadable does with fresh
	// bytes/EOF without needing virtual-method inheritance. Left nil,
	// they fall back to continuation delegation.
	OnInputHook func(in *InBuf)
	OnEOFHook   func(in *InBuf)
}

// NewReadHandler constructs a ReadHandler over fd. readSize <= 0 uses
// DefaultReadSize.
func NewReadHandler(fd int, name string, readSize int) *ReadHandler {
	if readSize <= 0 {
		readSize = DefaultReadSize
	}
	return &ReadHandler{Base: NewBase(fd, name), ReadSize: readSize}
}

// OnAttach sets read interest in addition to the base attach behavior.
func (r *ReadHandler) OnAttach(m Mux) error {
	if err := r.Base.OnAttach(m); err != nil {
		return err
	}
	m.SetInterest(r.FD(), true, true, false, false)
	return nil
}

// OnReadable performs one non-blocking read and dispatches the result:
// new bytes, EOF, a retryable error (ignored until the next tick), or a
// fatal error (closes the handler).
func (r *ReadHandler) OnReadable() {
	if r.In.EOF {
		return
	}
	size := r.ReadSize
	if size <= 0 {
		size = DefaultReadSize
	}
	buf := make([]byte, size)
	n, err := syscall.Read(r.FD(), buf)

	switch {
	case err == nil && n > 0:
		r.In.Append(buf[:n])
		r.dispatchInput()
	case err == nil && n == 0:
		r.In.EOF = true
		if m := r.Mux(); m != nil {
			m.SetInterest(r.FD(), false, true, false, false)
		}
		r.dispatchEOF()
	default:
		switch ioerr.Classify(err) {
		case ioerr.Retryable:
			// nothing to do, retry on next readiness tick
		default:
			mlog.WithHandler(r.FD(), r.Name()).WithError(err).Warn("read failed, closing")
			_ = r.Close(nil)
		}
	}
}

func (r *ReadHandler) dispatchInput() {
	if r.OnInputHook != nil {
		r.OnInputHook(&r.In)
		return
	}
	r.runContinuation(false)
}

func (r *ReadHandler) dispatchEOF() {
	if r.OnEOFHook != nil {
		r.OnEOFHook(&r.In)
		return
	}
	r.runContinuation(true)
}

func (r *ReadHandler) runContinuation(eof bool) {
	if r.continuation == nil {
		return
	}
	if r.continuation(&r.In, eof) {
		r.continuation = nil
	}
}

// ReadLine delivers the next LF/CRLF-terminated line, normalized to end
// in "\n". If EOF is already set and no terminator remains, the
// remaining bytes are delivered as the final line (possibly empty or
// unterminated). Delivery is synchronous when already satisfied,
// otherwise a continuation is installed.
func (r *ReadHandler) ReadLine(cb func(line []byte)) {
	if r.continuation != nil {
		panic("ReadHandler.ReadLine: a read-continuation is already in flight")
	}
	if r.tryDeliverLine(cb) {
		return
	}
	r.continuation = func(in *InBuf, eof bool) bool {
		return r.tryDeliverLine(cb)
	}
}

func (r *ReadHandler) tryDeliverLine(cb func(line []byte)) bool {
	if line, rest, found := extractLine(r.In.data); found {
		r.In.data = rest
		cb(line)
		return true
	}
	if r.In.EOF {
		cb(r.In.TakeAll())
		return true
	}
	return false
}

// Slurp delivers the full buffered byte vector once EOF is observed.
func (r *ReadHandler) Slurp(cb func(data []byte)) {
	if r.continuation != nil {
		panic("ReadHandler.Slurp: a read-continuation is already in flight")
	}
	if r.In.EOF {
		cb(r.In.TakeAll())
		return
	}
	r.continuation = func(in *InBuf, eof bool) bool {
		if !eof {
			return false
		}
		cb(in.TakeAll())
		return true
	}
}
