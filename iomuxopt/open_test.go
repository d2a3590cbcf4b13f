package iomuxopt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markov2/iomux/handler"
	"github.com/markov2/iomux/pipe"
)

type noopMux struct{}

func (noopMux) SetInterest(fd int, state bool, read, write, except bool) {}
func (noopMux) ChangeTimeout(fd int, old, new float64)                   {}
func (noopMux) Detach(fd int)                                            {}
func (m noopMux) Attach(h handler.Handler) error                         { return h.OnAttach(m) }

func TestOpenModeWriteThenModeReadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")

	wh, b, err := Open(HandlerOptions{Mode: ModeWrite, File: path, Create: true})
	require.NoError(t, err)
	require.Nil(t, b)
	require.NoError(t, noopMux{}.Attach(wh))

	w := wh.(*handler.WriteHandler)
	w.Write([]byte("hello file\n"), nil)
	require.NoError(t, w.Close(nil))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello file\n", string(got))

	rh, b, err := Open(HandlerOptions{Mode: ModeRead, File: path})
	require.NoError(t, err)
	require.Nil(t, b)
	require.NoError(t, noopMux{}.Attach(rh))

	r := rh.(*handler.ReadHandler)
	r.OnReadable()
	require.Equal(t, "hello file\n", string(r.In.TakeAll()))
}

func TestOpenModeReadMissingFile(t *testing.T) {
	_, _, err := Open(HandlerOptions{Mode: ModeRead})
	require.Error(t, err)
}

func TestOpenModePipeFromSpawnsReadPipe(t *testing.T) {
	h, b, err := Open(HandlerOptions{Mode: ModePipeFrom, Command: "echo", Args: []string{"-n", "hi"}})
	require.NoError(t, err)
	require.Nil(t, b)
	require.NoError(t, noopMux{}.Attach(h))

	rp := h.(*pipe.ReadPipe)
	deadline := time.Now().Add(2 * time.Second)
	for !rp.In.EOF && time.Now().Before(deadline) {
		rp.OnReadable()
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, "hi", string(rp.In.TakeAll()))
	require.NoError(t, h.Close(nil))
}

func TestOpenModePipeBothSpawnsBundle(t *testing.T) {
	h, b, err := Open(HandlerOptions{Mode: ModePipeBoth, Command: "cat"})
	require.NoError(t, err)
	require.Nil(t, h)
	require.NotNil(t, b)

	done := make(chan struct{})
	require.NoError(t, b.Close(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bundle close never completed")
	}
}

func TestOpenModeTCPRejected(t *testing.T) {
	_, _, err := Open(HandlerOptions{Mode: ModeTCP})
	require.Error(t, err)
}
