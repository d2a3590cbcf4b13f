package mux

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/markov2/iomux/handler"
	"github.com/markov2/iomux/reactor"
)

// echoHandler is a minimal test Handler: it echoes whatever it reads
// back out on the same fd, and records every callback invoked on it.
type echoHandler struct {
	handler.Base
	received   []byte
	timedOut   bool
	exceptions int
}

func newEchoHandler(fd int) *echoHandler {
	return &echoHandler{Base: handler.NewBase(fd, "echo")}
}

func (h *echoHandler) OnAttach(m handler.Mux) error {
	if err := h.Base.OnAttach(m); err != nil {
		return err
	}
	m.SetInterest(h.FD(), true, true, false, false)
	return nil
}

func (h *echoHandler) OnReadable() {
	buf := make([]byte, 4096)
	n, err := unix.Read(h.FD(), buf)
	if n > 0 {
		h.received = append(h.received, buf[:n]...)
		unix.Write(h.FD(), buf[:n])
	}
	_ = err
}

func (h *echoHandler) OnWritable()  {}
func (h *echoHandler) OnException() { h.exceptions++ }
func (h *echoHandler) OnTimeout()   { h.timedOut = true; _ = h.Close(nil) }

func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() { unix.Close(fds[1]) })
	return fds[0], fds[1]
}

func TestMultiplexerAttachDetach(t *testing.T) {
	m := New(reactor.NewPollReactor())
	a, _ := socketpair(t)
	h := newEchoHandler(a)

	require.NoError(t, m.Attach(h))
	require.Equal(t, 1, m.Len())

	got, ok := m.Lookup(a)
	require.True(t, ok)
	require.Same(t, h, got)

	m.Detach(a)
	require.Equal(t, 0, m.Len())
	_, ok = m.Lookup(a)
	require.False(t, ok)
}

func TestMultiplexerAttachDuplicateFD(t *testing.T) {
	m := New(reactor.NewPollReactor())
	a, _ := socketpair(t)
	require.NoError(t, m.Attach(newEchoHandler(a)))
	err := m.Attach(newEchoHandler(a))
	require.Error(t, err)
	require.Equal(t, 1, m.Len())
}

func TestMultiplexerRunEchoesAndTimesOut(t *testing.T) {
	m := New(reactor.NewPollReactor())
	a, b := socketpair(t)
	h := newEchoHandler(a)
	require.NoError(t, m.Attach(h))
	h.SetTimeout(0.2)

	var ticks int32
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Run(func(mm *Multiplexer, numReady int, timeLeft time.Duration) {
			atomic.AddInt32(&ticks, 1)
		})
	}()

	_, err := unix.Write(b, []byte("ping"))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	buf := make([]byte, 16)
	for time.Now().Before(deadline) {
		n, rerr := unix.Read(b, buf)
		if n > 0 {
			require.Equal(t, "ping", string(buf[:n]))
			break
		}
		if rerr != nil && rerr != unix.EAGAIN {
			t.Fatalf("unexpected read error: %v", rerr)
		}
		time.Sleep(time.Millisecond)
	}

	require.NoError(t, <-errCh)
	require.True(t, h.timedOut)
	require.Equal(t, "ping", string(h.received))
	require.Greater(t, atomic.LoadInt32(&ticks), int32(0))
}
