// Package ioerr classifies the I/O errors the multiplexer can observe
// into the taxonomy a handler callback needs to act on: retry, treat as
// peer-closed, log and close, or propagate as fatal.
package ioerr

import (
	"errors"
	"io"
	"syscall"

	pkgerrors "github.com/pkg/errors"
)

// Class is one bucket of the error taxonomy.
type Class int

const (
	// Retryable means the syscall was interrupted or would have blocked;
	// the operation should be attempted again on the next readiness tick.
	Retryable Class = iota
	// PeerClosed means a zero-length read was observed.
	PeerClosed
	// Transient means a one-off read/write failure; the handler should
	// log a warning and close.
	Transient
	// Configuration means bad construction input; surfaced synchronously,
	// the handler is never created.
	Configuration
	// ReactorFatal means poll_once failed in a way that is not
	// retryable; the loop must exit.
	ReactorFatal
	// Programming means a contract violation (bug), not a runtime
	// condition.
	Programming
)

func (c Class) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case PeerClosed:
		return "peer-closed"
	case Transient:
		return "transient"
	case Configuration:
		return "configuration"
	case ReactorFatal:
		return "reactor-fatal"
	case Programming:
		return "programming"
	default:
		return "unknown"
	}
}

// Classify inspects err as returned from a read or write syscall and
// buckets it. It never returns Configuration or Programming: those are
// raised directly at their call sites.
func Classify(err error) Class {
	if err == nil {
		return Retryable
	}
	if errors.Is(err, io.EOF) {
		return PeerClosed
	}
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EINTR) {
		return Retryable
	}
	return Transient
}

// Config wraps msg into a Configuration-class error.
func Config(msg string) error {
	return &classified{class: Configuration, err: pkgerrors.New(msg)}
}

// Configf wraps a formatted message into a Configuration-class error.
func Configf(format string, args ...interface{}) error {
	return &classified{class: Configuration, err: pkgerrors.Errorf(format, args...)}
}

// Wrap attaches msg as context to err and tags it Transient.
func Wrap(err error, msg string) error {
	return &classified{class: Transient, err: pkgerrors.Wrap(err, msg)}
}

// Fatal tags err as ReactorFatal.
func Fatal(err error, msg string) error {
	return &classified{class: ReactorFatal, err: pkgerrors.Wrap(err, msg)}
}

type classified struct {
	class Class
	err   error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }
func (c *classified) Class() Class  { return c.class }

// ClassOf returns the Class of err if it was produced by this package's
// constructors, else it falls back to Classify.
func ClassOf(err error) Class {
	var c *classified
	if errors.As(err, &c) {
		return c.class
	}
	return Classify(err)
}
