package pipe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markov2/iomux/handler"
)

func drainUntilEOF(t *testing.T, rh *handler.ReadHandler) {
	t.Helper()
	for i := 0; i < 1000 && !rh.In.EOF; i++ {
		rh.OnReadable()
		if !rh.In.EOF {
			time.Sleep(time.Millisecond)
		}
	}
	require.True(t, rh.In.EOF, "read side never reached EOF")
}

func TestNewReadPipeCapturesStdout(t *testing.T) {
	rp, err := NewReadPipe("echo-test", 0, "echo", "-n", "hello from child")
	require.NoError(t, err)
	require.NoError(t, rp.OnAttach(&noopMux{}))

	drainUntilEOF(t, rp.ReadHandler)
	require.Equal(t, "hello from child", string(rp.In.Bytes()))

	// EOF can be seen before the background reaper has collected the
	// child; CloseWithStatus only reports an already-reaped status.
	for i := 0; i < 1000; i++ {
		if _, _, ok := rp.Poll(); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}

	state, err := rp.CloseWithStatus(nil)
	require.NoError(t, err)
	require.NotNil(t, state)
	require.True(t, state.Success())
}

func TestNewWritePipeFeedsStdin(t *testing.T) {
	// sort -u returns a unique, sorted line per input value; its output
	// goes to /dev/null, so the test covers only the write side: that
	// CloseWithStatus returns no error. The exit status is not checked,
	// since the child may not have been reaped yet when Close returns.
	wp, err := NewWritePipe("sort-test", 0, "sort", "-u")
	require.NoError(t, err)
	require.NoError(t, wp.OnAttach(&noopMux{}))

	wp.Write([]byte("banana\napple\nbanana\n"), nil)

	state, err := wp.CloseWithStatus(nil)
	require.NoError(t, err)
	_ = state
}

func TestBare(t *testing.T) {
	r, w, err := Bare()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	buf := make([]byte, 1)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

// noopMux satisfies handler.Mux for tests that only need OnAttach to
// succeed; readiness is driven manually via OnReadable/OnWritable.
type noopMux struct{}

func (noopMux) SetInterest(fd int, state bool, read, write, except bool) {}
func (noopMux) ChangeTimeout(fd int, old, new float64)                   {}
func (noopMux) Detach(fd int)                                            {}
func (noopMux) Attach(h handler.Handler) error                           { return nil }
