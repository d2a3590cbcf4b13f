package handler

import (
	"syscall"

	"github.com/markov2/iomux/internal/ioerr"
	"github.com/markov2/iomux/internal/mlog"
)

// DefaultWriteSize is the write_size used when a WriteEngine is
// constructed with size <= 0 — pipe-buffer sized.
const DefaultWriteSize = 4096

// WriteEngine implements the non-blocking deferred-write algorithm
// against a raw fd, independent of any particular Handler's identity.
// WriteHandler embeds it for the common one-fd case;
// tcp.Stream uses it directly alongside a ReadHandler so a single
// descriptor's read and write sides can share one Base/one identity
// without Go's embedding ambiguity from two Base fields.
type WriteEngine struct {
	FD        int
	Name      string
	WriteSize int
	Out       OutBuf
	Mux       Mux

	// OnOutbufEmptyHook lets a composite refill the pending buffer
	// instead of the default "clear write interest, fire IsClosing"
	// behavior.
	OnOutbufEmptyHook func()
	// OnFail is invoked on a non-retryable write error instead of the
	// engine closing anything itself — the owning Handler decides what
	// "closing" means (WriteHandler and tcp.Stream both close the
	// descriptor through their Base).
	OnFail func(err error)
}

func (e *WriteEngine) size() int {
	if e.WriteSize <= 0 {
		return DefaultWriteSize
	}
	return e.WriteSize
}

func (e *WriteEngine) fail(err error) {
	mlog.WithHandler(e.FD, e.Name).WithError(err).Warn("write failed, closing")
	if e.OnFail != nil {
		e.OnFail(err)
	}
}

// Write attempts an immediate non-blocking send and defers whatever
// doesn't go out to the pending buffer, arming write interest.
func (e *WriteEngine) Write(p []byte, more func()) {
	if e.Out.HasPending() {
		e.Out.Pending = append(e.Out.Pending, p...)
		e.Out.More = more
		return
	}

	limit := e.size()
	chunk := p
	if len(chunk) > limit {
		chunk = chunk[:limit]
	}
	n, err := syscall.Write(e.FD, chunk)

	switch {
	case err == nil && n == len(p):
		// the whole of p went out in one syscall (only possible when
		// len(p) <= limit, so chunk == p here)
		if more != nil {
			more()
		}
		if e.Out.IsClosing != nil {
			closing := e.Out.IsClosing
			e.Out.IsClosing = nil
			closing()
		}
		return
	case err == nil && n > 0:
		// some bytes went out: either a full chunk of a longer p, or a
		// partial chunk. Either way the unsent tail of p is pending.
		e.Out.Pending = append([]byte(nil), p[n:]...)
		e.Out.More = more
	case err != nil && ioerr.Classify(err) == ioerr.Retryable:
		e.Out.Pending = append([]byte(nil), p...)
		e.Out.More = more
	case err != nil:
		e.fail(err)
		return
	default: // err == nil && n == 0
		e.Out.Pending = append([]byte(nil), p...)
		e.Out.More = more
	}

	if e.Out.HasPending() && e.Mux != nil {
		e.Mux.SetInterest(e.FD, true, false, true, false)
	}
}

// OnWritable drains as much of the pending buffer as one syscall allows.
func (e *WriteEngine) OnWritable() {
	if !e.Out.HasPending() {
		e.onOutbufEmpty()
		return
	}

	limit := e.size()
	chunk := e.Out.Pending
	if len(chunk) > limit {
		chunk = chunk[:limit]
	}
	n, err := syscall.Write(e.FD, chunk)
	if err != nil {
		if ioerr.Classify(err) == ioerr.Retryable {
			return
		}
		e.fail(err)
		return
	}

	if n == len(chunk) && n == len(e.Out.Pending) {
		more := e.Out.More
		e.Out.Pending = nil
		e.Out.More = nil
		if more != nil {
			more()
		}
		e.onOutbufEmpty()
		return
	}
	e.Out.Pending = e.Out.Pending[n:]
}

func (e *WriteEngine) onOutbufEmpty() {
	if e.OnOutbufEmptyHook != nil {
		e.OnOutbufEmptyHook()
		return
	}
	if e.Mux != nil {
		e.Mux.SetInterest(e.FD, false, false, true, false)
	}
	if e.Out.IsClosing != nil {
		closing := e.Out.IsClosing
		e.Out.IsClosing = nil
		closing()
	}
}

// ArmClose chains cont onto IsClosing (preserving whatever was already
// armed) and reports whether a pending buffer means the close must wait.
func (e *WriteEngine) ArmClose(cont func()) (deferred bool) {
	if !e.Out.HasPending() {
		return false
	}
	prev := e.Out.IsClosing
	e.Out.IsClosing = func() {
		if prev != nil {
			prev()
		}
		cont()
	}
	return true
}

// WriteHandler is a standalone non-blocking writer Handler over a raw
// file descriptor: a WriteEngine plus the Base identity it needs to
// satisfy the Handler interface.
type WriteHandler struct {
	Base
	Engine WriteEngine
}

// NewWriteHandler constructs a WriteHandler over fd. writeSize <= 0 uses
// DefaultWriteSize. Write interest is demand-driven: attaching a
// WriteHandler sets no interest until Write or a pending buffer exists.
func NewWriteHandler(fd int, name string, writeSize int) *WriteHandler {
	w := &WriteHandler{Base: NewBase(fd, name)}
	w.Engine = WriteEngine{FD: fd, Name: name, WriteSize: writeSize}
	w.Engine.OnFail = func(error) { _ = w.Base.Close(nil) }
	return w
}

// OnAttach binds the engine's Mux alongside the Base's.
func (w *WriteHandler) OnAttach(m Mux) error {
	if err := w.Base.OnAttach(m); err != nil {
		return err
	}
	w.Engine.Mux = m
	return nil
}

func (w *WriteHandler) Write(p []byte, more func()) { w.Engine.Write(p, more) }
func (w *WriteHandler) OnWritable()                 { w.Engine.OnWritable() }

// Out exposes the pending-buffer state for tests/inspection.
func (w *WriteHandler) Out() *OutBuf { return &w.Engine.Out }

// Close defers the underlying close until the pending buffer drains.
// Idempotent via Base.Closed.
func (w *WriteHandler) Close(after func()) error {
	if w.Closed() {
		return nil
	}
	if w.Engine.ArmClose(func() { _ = w.Base.Close(after) }) {
		return nil
	}
	return w.Base.Close(after)
}
