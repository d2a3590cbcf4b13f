package tcp

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/markov2/iomux/handler"
	"github.com/markov2/iomux/internal/ioerr"
	"github.com/markov2/iomux/internal/rawfd"
	"github.com/markov2/iomux/iomuxopt"
)

// usesTLSSetter is satisfied by every handler built in this package
// (Service, Stream both embed handler.Base); it lets the options-bag
// constructors flip the uses-TLS bit without widening handler.Handler.
type usesTLSSetter interface {
	SetUsesTLS(bool)
}

// ConnFactoryBuilder builds a ConnFactory from the ConnOpts key/value
// pairs named alongside a ConnType in a HandlerOptions bag — a named,
// registered builder standing in for passing a class or closure value
// through an option map.
type ConnFactoryBuilder func(connOpts map[string]string) ConnFactory

var connFactories = map[string]ConnFactoryBuilder{}

// RegisterConnFactory makes builder available under name for
// NewServiceFromOptions to look up via HandlerOptions.ConnType when no
// explicit factory is passed.
func RegisterConnFactory(name string, builder ConnFactoryBuilder) {
	connFactories[name] = builder
}

func resolveFactory(hopts iomuxopt.HandlerOptions, explicit ConnFactory) (ConnFactory, error) {
	if explicit != nil {
		return explicit, nil
	}
	if hopts.ConnType == "" {
		return nil, ioerr.Config("tcp: NewServiceFromOptions requires a ConnFactory or HandlerOptions.ConnType")
	}
	builder, ok := connFactories[hopts.ConnType]
	if !ok {
		return nil, ioerr.Configf("tcp: unknown ConnType %q", hopts.ConnType)
	}
	return builder(hopts.ConnOpts), nil
}

// listenerFromOptions builds a *net.TCPListener from the capitalized-key
// socket option bag: Proto selects the network (defaulting to "tcp"),
// LocalAddr falls back to Host for the bind address, and Reuse sets
// SO_REUSEADDR on the listening socket before bind.
func listenerFromOptions(opts iomuxopt.SocketOptions) (*net.TCPListener, error) {
	addr := opts.LocalAddr
	if addr == "" {
		addr = opts.Host
	}
	if addr == "" {
		return nil, ioerr.Config("tcp: SocketOptions.Listen requires Host or LocalAddr")
	}
	network := opts.Proto
	if network == "" {
		network = "tcp"
	}

	lc := net.ListenConfig{}
	if opts.Reuse {
		lc.Control = func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		}
	}

	ln, err := lc.Listen(context.Background(), network, addr)
	if err != nil {
		return nil, ioerr.Wrap(err, "tcp: listen failed")
	}
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, ioerr.Configf("tcp: %s is not a TCP network", network)
	}
	return tl, nil
}

// NewServiceFromOptions builds a listening Service directly from the
// capitalized-key SocketOptions bag and the handler option bag, instead
// of requiring the caller to construct a net.Listener itself. UseSSL
// marks the listener (and every accepted connection's handler, when its
// concrete type exposes SetUsesTLS) with the uses-TLS bit; this module
// only records that bit and leaves the handshake to the caller.
func NewServiceFromOptions(sopts iomuxopt.SocketOptions, hopts iomuxopt.HandlerOptions, factory ConnFactory) (*Service, error) {
	if !sopts.Listen {
		return nil, ioerr.Config("tcp: NewServiceFromOptions requires SocketOptions.Listen")
	}
	tl, err := listenerFromOptions(sopts)
	if err != nil {
		return nil, err
	}

	factory, err = resolveFactory(hopts, factory)
	if err != nil {
		_ = tl.Close()
		return nil, err
	}

	wrapped := factory
	if sopts.UseSSL {
		wrapped = func(fd int, name string) handler.Handler {
			h := factory(fd, name)
			if s, ok := h.(usesTLSSetter); ok {
				s.SetUsesTLS(true)
			}
			return h
		}
	}

	svc, err := NewService(tl, hopts.Name, wrapped)
	if err != nil {
		_ = tl.Close()
		return nil, err
	}
	if hopts.Hostname != "" {
		svc.Hostname = hopts.Hostname
	}
	if sopts.UseSSL {
		svc.SetUsesTLS(true)
	}
	return svc, nil
}

// DialFromOptions dials SocketOptions.PeerAddr and wraps the resulting
// connection in a Stream, the outbound counterpart of
// NewServiceFromOptions's inbound listener.
func DialFromOptions(sopts iomuxopt.SocketOptions, hopts iomuxopt.HandlerOptions) (*Stream, error) {
	if sopts.PeerAddr == "" {
		return nil, ioerr.Config("tcp: DialFromOptions requires SocketOptions.PeerAddr")
	}
	network := sopts.Proto
	if network == "" {
		network = "tcp"
	}

	conn, err := net.Dial(network, sopts.PeerAddr)
	if err != nil {
		return nil, ioerr.Wrap(err, "tcp: dial failed")
	}
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		_ = conn.Close()
		return nil, ioerr.Configf("tcp: %s is not a TCP network", network)
	}

	fd, err := rawfd.Dup(tc)
	if err != nil {
		return nil, err
	}
	name := hopts.Name
	if name == "" {
		name = fmt.Sprintf("tcp-client:%s", sopts.PeerAddr)
	}
	s := NewStream(fd, name, hopts.ReadSize, hopts.WriteSize)
	if sopts.UseSSL {
		s.SetUsesTLS(true)
	}
	return s, nil
}
