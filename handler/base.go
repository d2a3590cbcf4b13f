// Package handler defines the descriptor-bound event handler contract:
// identity, timeout arming, and the four raw readiness callbacks that
// mux.Multiplexer dispatches into. Concrete handlers (ReadHandler,
// WriteHandler, and their composites in tcp/, pipe/, bundle/) embed Base
// and override only the callbacks they need — a capability-set composed
// by struct embedding rather than a deep inheritance chain.
package handler

import (
	"fmt"
	"syscall"
	"time"
)

// processStart anchors the relative-vs-absolute heuristic used by
// SetTimeout: a value smaller than this is interpreted as "seconds from
// now", everything else as an absolute Unix-epoch deadline.
var processStart = nowSeconds()

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Mux is the subset of mux.Multiplexer a Handler needs, held as a weak
// back-reference: handler.Base never owns a Multiplexer and the
// reference is cleared on detach.
type Mux interface {
	SetInterest(fd int, state bool, read, write, except bool)
	ChangeTimeout(fd int, old, new float64)
	Detach(fd int)
	// Attach lets a handler that spawns other handlers (tcp.Service
	// accepting a connection, bundle.Bundle composing sub-handlers)
	// register them on the same Multiplexer without importing package
	// mux, which embeds Handler and would otherwise cycle.
	Attach(h Handler) error
}

// Handler is the contract mux.Multiplexer dispatches into. Every
// concrete handler in this module embeds Base, which supplies identity
// and fatal-by-default callbacks; concrete types override only the
// callbacks their capability set uses.
type Handler interface {
	FD() int
	Name() string
	UsesTLS() bool
	SetTimeout(value float64)
	Close(after func()) error

	OnAttach(m Mux) error
	OnDetach()
	OnReadable()
	OnWritable()
	OnException()
	OnTimeout()
}

// Base implements the identity and lifecycle portion of Handler. It is
// meant to be embedded, not used standalone: its readiness callbacks
// panic, signalling a capability the concrete handler never declared —
// missing hooks surface as a panic in tests rather than silently
// no-opping.
type Base struct {
	fd       int
	name     string
	usesTLS  bool
	mux      Mux
	deadline float64 // 0 means no timer
	closed   bool
}

// NewBase constructs the identity portion of a handler for fd/name.
func NewBase(fd int, name string) Base {
	return Base{fd: fd, name: name}
}

func (b *Base) FD() int          { return b.fd }
func (b *Base) Name() string     { return b.name }
func (b *Base) UsesTLS() bool    { return b.usesTLS }
func (b *Base) SetUsesTLS(v bool) { b.usesTLS = v }

// SetTimeout arms, rearms, or clears this handler's timer. A value that
// is zero, negative, or otherwise non-positive clears it. Values under
// 0.001s are still honored for at least one loop iteration (mux.MinWait
// floors the wait, not the deadline itself).
func (b *Base) SetTimeout(value float64) {
	old := b.deadline
	if value <= 0 {
		b.deadline = 0
	} else if value < processStart {
		b.deadline = nowSeconds() + value
	} else {
		b.deadline = value
	}
	if b.mux != nil {
		b.mux.ChangeTimeout(b.fd, old, b.deadline)
	}
}

// Deadline returns the current absolute deadline, or 0 if none is armed.
func (b *Base) Deadline() float64 { return b.deadline }

// bindMux is called by OnAttach implementations to store the weak
// back-reference.
func (b *Base) bindMux(m Mux) { b.mux = m }

// Mux exposes the current back-reference, or nil after detach.
func (b *Base) Mux() Mux { return b.mux }

// detach clears the back-reference; called once the Multiplexer has
// removed this handler from its table.
func (b *Base) detach() {
	b.mux = nil
	b.closed = true
}

// Closed reports whether Close has already run to completion.
func (b *Base) Closed() bool { return b.closed }

// Close is the default close path: detach from the mux, close the
// underlying fd, and invoke after. Handlers with a pending write buffer
// (WriteHandler and its composites) override this to defer until the
// buffer drains. Idempotent: a second call after the handler is already
// closed is a no-op.
func (b *Base) Close(after func()) error {
	if b.closed {
		return nil
	}
	if b.mux != nil {
		b.mux.Detach(b.fd)
	}
	b.closed = true
	err := syscall.Close(b.fd)
	if after != nil {
		after()
	}
	return err
}

// OnAttach is the default attach hook: it just binds the weak
// back-reference. Concrete handlers override it to additionally set
// their initial interest mask, calling Base.OnAttach first to bind the
// back-reference.
func (b *Base) OnAttach(m Mux) error {
	b.bindMux(m)
	return nil
}

// OnDetach is the default detach hook: it clears the back-reference.
func (b *Base) OnDetach() { b.detach() }

// OnReadable/OnWritable/OnException/OnTimeout default to fatal: a
// concrete handler that is dispatched a readiness kind it never
// registered interest for has a programming bug.
func (b *Base) OnReadable()  { b.panicUnimplemented("OnReadable") }
func (b *Base) OnWritable()  { b.panicUnimplemented("OnWritable") }
func (b *Base) OnException() { b.panicUnimplemented("OnException") }
func (b *Base) OnTimeout()   { b.panicUnimplemented("OnTimeout") }

func (b *Base) panicUnimplemented(hook string) {
	panic(fmt.Sprintf("handler %q (fd %d): %s not implemented", b.name, b.fd, hook))
}
