package tcp

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/markov2/iomux/handler"
	"github.com/markov2/iomux/iomuxopt"
	"github.com/markov2/iomux/mux"
	"github.com/markov2/iomux/reactor"
)

func echoFactory(fd int, name string) handler.Handler {
	s := NewStream(fd, name, 0, 0)
	s.OnInputHook = func(in *handler.InBuf) { s.Write(in.TakeAll(), nil) }
	return s
}

func TestNewServiceFromOptionsListensAndAccepts(t *testing.T) {
	svc, err := NewServiceFromOptions(
		iomuxopt.SocketOptions{Listen: true, LocalAddr: "127.0.0.1:0", Reuse: true},
		iomuxopt.HandlerOptions{Name: "echo"},
		echoFactory,
	)
	require.NoError(t, err)
	require.False(t, svc.UsesTLS())

	m := mux.New(reactor.NewPollReactor())
	require.NoError(t, m.Attach(svc))

	var done int32
	errCh := runUntilDone(m, &done)

	conn, err := DialFromOptions(iomuxopt.SocketOptions{PeerAddr: svc.Addr().String()}, iomuxopt.HandlerOptions{})
	require.NoError(t, err)
	require.False(t, conn.UsesTLS())

	_, err = unix.Write(conn.FD(), []byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	deadline := time.Now().Add(2 * time.Second)
	var n int
	for time.Now().Before(deadline) {
		n, err = unix.Read(conn.FD(), buf)
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.Greater(t, n, 0)
	require.Equal(t, "ping", string(buf[:n]))

	atomic.StoreInt32(&done, 1)
	require.NoError(t, <-errCh)
}

func TestNewServiceFromOptionsRequiresListen(t *testing.T) {
	_, err := NewServiceFromOptions(iomuxopt.SocketOptions{}, iomuxopt.HandlerOptions{}, echoFactory)
	require.Error(t, err)
}

func TestNewServiceFromOptionsUsesSSLBit(t *testing.T) {
	svc, err := NewServiceFromOptions(
		iomuxopt.SocketOptions{Listen: true, LocalAddr: "127.0.0.1:0", UseSSL: true},
		iomuxopt.HandlerOptions{},
		echoFactory,
	)
	require.NoError(t, err)
	require.True(t, svc.UsesTLS())
}

func TestDialFromOptionsRequiresPeerAddr(t *testing.T) {
	_, err := DialFromOptions(iomuxopt.SocketOptions{}, iomuxopt.HandlerOptions{})
	require.Error(t, err)
}

func TestNewServiceFromOptionsResolvesRegisteredConnType(t *testing.T) {
	RegisterConnFactory("test-echo", func(connOpts map[string]string) ConnFactory {
		return echoFactory
	})
	svc, err := NewServiceFromOptions(
		iomuxopt.SocketOptions{Listen: true, LocalAddr: "127.0.0.1:0"},
		iomuxopt.HandlerOptions{ConnType: "test-echo"},
		nil,
	)
	require.NoError(t, err)
	require.NotNil(t, svc)
}

func TestNewServiceFromOptionsUnknownConnType(t *testing.T) {
	_, err := NewServiceFromOptions(
		iomuxopt.SocketOptions{Listen: true, LocalAddr: "127.0.0.1:0"},
		iomuxopt.HandlerOptions{ConnType: "does-not-exist"},
		nil,
	)
	require.Error(t, err)
}
