// Package tcp provides the listener (Service) and duplex stream (Stream)
// handlers that sit around the core reactor/mux/handler machinery.
package tcp

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/markov2/iomux/handler"
	"github.com/markov2/iomux/internal/ioerr"
	"github.com/markov2/iomux/internal/mlog"
	"github.com/markov2/iomux/internal/rawfd"
)

// ConnFactory builds the per-connection handler for a freshly-accepted
// client descriptor. fd is already marked non-blocking.
type ConnFactory func(fd int, name string) handler.Handler

// Service is the listener handler: on readability it accepts and hands
// the new descriptor to factory, then attaches the resulting handler to
// the same Multiplexer.
type Service struct {
	handler.Base
	factory ConnFactory

	// Hostname is the advertised host for the listener; purely
	// informational here.
	Hostname string

	// addr is the bound listen address, captured before rawfd.Dup closes
	// the *net.TCPListener this Service was built from — useful when the
	// listener was opened on an ephemeral port (":0").
	addr net.Addr

	// OnConnection is an overridable hook called after a freshly accepted
	// connection's handler has been attached. Left nil, nothing extra
	// happens.
	OnConnection func(h handler.Handler)
}

// NewService wraps an already-listening *net.TCPListener. name defaults
// to a protocol-qualified string if empty.
func NewService(ln net.Listener, name string, factory ConnFactory) (*Service, error) {
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		return nil, ioerr.Config("tcp: NewService requires a *net.TCPListener")
	}
	if factory == nil {
		return nil, ioerr.Config("tcp: NewService requires a ConnFactory")
	}
	addr := tl.Addr()
	fd, err := rawfd.Dup(tl)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = fmt.Sprintf("tcp-listener:%s", addr)
	}
	return &Service{Base: handler.NewBase(fd, name), factory: factory, addr: addr}, nil
}

// Addr returns the bound listen address, even for a Service built from an
// ephemeral (":0") LocalAddr — useful for dialing back in tests.
func (s *Service) Addr() net.Addr { return s.addr }

// OnAttach sets read-interest only.
func (s *Service) OnAttach(m handler.Mux) error {
	if err := s.Base.OnAttach(m); err != nil {
		return err
	}
	m.SetInterest(s.FD(), true, true, false, false)
	return nil
}

// OnReadable drains the accept backlog, attaching one stream handler per
// accepted connection. A single failed accept does not close the
// listener — only a non-retryable error is logged, and the loop returns
// to let the next readiness tick retry.
func (s *Service) OnReadable() {
	for {
		connFD, _, err := unix.Accept(s.FD())
		if err != nil {
			if ioerr.Classify(err) != ioerr.Retryable {
				mlog.WithHandler(s.FD(), s.Name()).WithError(err).Warn("accept failed")
			}
			return
		}
		if err := unix.SetNonblock(connFD, true); err != nil {
			mlog.WithHandler(connFD, s.Name()).WithError(err).Warn("set non-blocking failed, dropping connection")
			unix.Close(connFD)
			continue
		}

		name := fmt.Sprintf("%s-client-%d", s.Name(), connFD)
		h := s.factory(connFD, name)

		m := s.Mux()
		if m == nil {
			continue
		}
		if err := m.Attach(h); err != nil {
			mlog.WithHandler(connFD, name).WithError(err).Warn("attach failed, dropping connection")
			continue
		}
		if s.OnConnection != nil {
			s.OnConnection(h)
		}
	}
}
