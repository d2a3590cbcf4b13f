package tcp

import (
	"golang.org/x/sys/unix"

	"github.com/markov2/iomux/handler"
	"github.com/markov2/iomux/internal/mlog"
)

// Half-close directions, matching POSIX shutdown(2)'s how values so
// callers can pass the same constants they already know.
const (
	ShutRead  = 0
	ShutWrite = 1
	ShutBoth  = 2
)

// Stream is a bidirectional stream handler combining a ReadHandler and a
// WriteEngine over one descriptor, with half-close support. It embeds *handler.ReadHandler for the read side (In buffer, ReadLine,
// Slurp, the Base identity) and holds a WriteEngine directly rather than
// a second WriteHandler, since Go embedding would otherwise promote two
// conflicting Base/Close implementations from one fd.
type Stream struct {
	*handler.ReadHandler
	write handler.WriteEngine

	readClosed  bool
	writeClosed bool
}

// NewStream constructs a Stream over fd. readSize/writeSize <= 0 use the
// package defaults.
func NewStream(fd int, name string, readSize, writeSize int) *Stream {
	rh := handler.NewReadHandler(fd, name, readSize)
	s := &Stream{ReadHandler: rh}
	s.write = handler.WriteEngine{FD: fd, Name: name, WriteSize: writeSize}
	s.write.OnFail = func(error) { _ = s.Base().Close(nil) }
	return s
}

// Base exposes the shared identity for internal use (Close overrides
// below need to reach Base.Close directly, bypassing Stream's own
// deferred Close).
func (s *Stream) Base() *handler.Base { return &s.ReadHandler.Base }

// OnAttach sets read and exceptional interest immediately; write
// interest stays demand-driven.
func (s *Stream) OnAttach(m handler.Mux) error {
	if err := s.ReadHandler.OnAttach(m); err != nil {
		return err
	}
	m.SetInterest(s.FD(), true, false, false, true)
	s.write.Mux = m
	return nil
}

// Write queues p for non-blocking delivery (delegates to the WriteEngine).
func (s *Stream) Write(p []byte, more func()) { s.write.Write(p, more) }

// OnWritable drains the pending write buffer.
func (s *Stream) OnWritable() { s.write.OnWritable() }

// Shutdown half-closes the stream: 0 (read), 1 (write), or 2 (both).
// Read-half shutdown is immediate; write-half shutdown is
// deferred until any pending output drains. When both halves end up
// closed and no write is pending, the descriptor is fully closed.
func (s *Stream) Shutdown(how int) error {
	if how == ShutRead || how == ShutBoth {
		if !s.readClosed {
			if err := unix.Shutdown(s.FD(), unix.SHUT_RD); err != nil {
				return err
			}
			s.readClosed = true
			if m := s.Mux(); m != nil {
				m.SetInterest(s.FD(), false, true, false, false)
			}
		}
	}
	if how == ShutWrite || how == ShutBoth {
		s.shutdownWrite()
	}
	s.maybeFullClose()
	return nil
}

func (s *Stream) shutdownWrite() {
	if s.writeClosed {
		return
	}
	if s.write.Out.HasPending() {
		s.write.ArmClose(s.doShutdownWrite)
		return
	}
	s.doShutdownWrite()
}

func (s *Stream) doShutdownWrite() {
	if s.writeClosed {
		return
	}
	unix.Shutdown(s.FD(), unix.SHUT_WR)
	s.writeClosed = true
	if m := s.Mux(); m != nil {
		m.SetInterest(s.FD(), false, false, true, false)
	}
	s.maybeFullClose()
}

func (s *Stream) maybeFullClose() {
	if s.readClosed && s.writeClosed && !s.write.Out.HasPending() {
		_ = s.Base().Close(nil)
	}
}

// OnException logs and closes: an exceptional condition on a TCP
// socket (e.g. out-of-band data the kernel flags) is not something this
// stream knows how to act on beyond tearing down.
func (s *Stream) OnException() {
	mlog.WithHandler(s.FD(), s.Name()).Warn("exceptional condition on stream, closing")
	_ = s.Close(nil)
}

// OnTimeout closes the stream. Armed only if the owner calls SetTimeout;
// overrides Base's fatal default with the idle-timeout-closes behavior
// every reactor in the corpus uses for connection handlers.
func (s *Stream) OnTimeout() {
	mlog.WithHandler(s.FD(), s.Name()).Warn("timeout, closing stream")
	_ = s.Close(nil)
}

// Close closes the stream, deferring until a pending write buffer
// drains, exactly like WriteHandler.Close. Non-empty read or write
// buffers at close time are logged.
func (s *Stream) Close(after func()) error {
	if s.Closed() {
		return nil
	}
	if s.In.Len() > 0 {
		mlog.WithHandler(s.FD(), s.Name()).Warn("closing stream with non-empty read buffer")
	}
	if s.write.Out.HasPending() {
		mlog.WithHandler(s.FD(), s.Name()).Warn("closing stream with non-empty write buffer")
		s.write.ArmClose(func() { _ = s.Base().Close(after) })
		return nil
	}
	return s.Base().Close(after)
}
