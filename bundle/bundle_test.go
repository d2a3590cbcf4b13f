package bundle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markov2/iomux/handler"
)

// noopMux lets tests drive OnReadable/OnWritable manually without a real
// Multiplexer loop.
type noopMux struct{}

func (noopMux) SetInterest(fd int, state bool, read, write, except bool) {}
func (noopMux) ChangeTimeout(fd int, old, new float64)                   {}
func (noopMux) Detach(fd int)                                            {}
func (m noopMux) Attach(h handler.Handler) error                         { return h.OnAttach(m) }

func pumpUntil(t *testing.T, cond func() bool, b *Bundle) {
	t.Helper()
	for i := 0; i < 2000 && !cond(); i++ {
		b.Stdout.OnReadable()
		if b.Stderr != nil {
			b.Stderr.OnReadable()
		}
		if !cond() {
			time.Sleep(time.Millisecond)
		}
	}
	require.True(t, cond(), "condition never satisfied")
}

func TestBundleCatEchoesStdinToStdout(t *testing.T) {
	b, err := New("cat-bundle", false, 0, 0, "cat")
	require.NoError(t, err)
	require.NoError(t, b.Attach(noopMux{}))

	var output []byte
	b.OnOutput = func(in *handler.InBuf) {
		output = append(output, in.TakeAll()...)
	}

	b.Write([]byte("ping\n"), nil)

	pumpUntil(t, func() bool { return len(output) > 0 }, b)
	require.Equal(t, "ping\n", string(output))

	done := make(chan struct{})
	require.NoError(t, b.Close(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bundle close never completed")
	}
}

func TestBundleRoutesStderrSeparately(t *testing.T) {
	b, err := New("sh-bundle", true, 0, 0, "sh", "-c", "read x; echo \"out:$x\"; echo \"err:$x\" 1>&2")
	require.NoError(t, err)
	require.NoError(t, b.Attach(noopMux{}))

	var stdout, stderr []byte
	b.OnOutput = func(in *handler.InBuf) { stdout = append(stdout, in.TakeAll()...) }
	b.OnError = func(in *handler.InBuf) { stderr = append(stderr, in.TakeAll()...) }

	b.Write([]byte("hi\n"), nil)

	pumpUntil(t, func() bool { return len(stdout) > 0 && len(stderr) > 0 }, b)
	require.Equal(t, "out:hi\n", string(stdout))
	require.Equal(t, "err:hi\n", string(stderr))

	done := make(chan struct{})
	require.NoError(t, b.Close(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bundle close never completed")
	}
}
