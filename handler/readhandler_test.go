package handler

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func pipeFDs(t *testing.T) (r, w int) {
	t.Helper()
	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		pr.Close()
		pw.Close()
	})
	require.NoError(t, unix.SetNonblock(int(pr.Fd()), true))
	return int(pr.Fd()), int(pw.Fd())
}

func TestReadHandlerOnReadableAppends(t *testing.T) {
	r, w := pipeFDs(t)
	rh := NewReadHandler(r, "test", 0)
	require.NoError(t, rh.OnAttach(&stubMux{}))

	_, err := unix.Write(w, []byte("hello "))
	require.NoError(t, err)
	rh.OnReadable()
	require.Equal(t, "hello ", string(rh.In.Bytes()))

	_, err = unix.Write(w, []byte("world"))
	require.NoError(t, err)
	rh.OnReadable()
	require.Equal(t, "hello world", string(rh.In.Bytes()))
}

func TestReadHandlerEOF(t *testing.T) {
	r, w := pipeFDs(t)
	rh := NewReadHandler(r, "test", 0)
	m := &stubMux{}
	require.NoError(t, rh.OnAttach(m))

	unix.Close(w)
	rh.OnReadable()
	require.True(t, rh.In.EOF)
	require.True(t, m.interestState == false && m.read)
}

func TestReadHandlerReadLineSynchronous(t *testing.T) {
	r, w := pipeFDs(t)
	rh := NewReadHandler(r, "test", 0)
	require.NoError(t, rh.OnAttach(&stubMux{}))

	_, err := unix.Write(w, []byte("line one\nline two\n"))
	require.NoError(t, err)
	rh.OnReadable()

	var got []string
	rh.ReadLine(func(line []byte) { got = append(got, string(line)) })
	require.Equal(t, []string{"line one\n"}, got)
	require.Equal(t, "line two\n", string(rh.In.Bytes()))
}

func TestReadHandlerReadLineInstallsContinuation(t *testing.T) {
	r, w := pipeFDs(t)
	rh := NewReadHandler(r, "test", 0)
	require.NoError(t, rh.OnAttach(&stubMux{}))

	var got string
	delivered := false
	rh.ReadLine(func(line []byte) {
		got = string(line)
		delivered = true
	})
	require.False(t, delivered)

	_, err := unix.Write(w, []byte("partial"))
	require.NoError(t, err)
	rh.OnReadable()
	require.False(t, delivered)

	_, err = unix.Write(w, []byte(" line\n"))
	require.NoError(t, err)
	rh.OnReadable()
	require.True(t, delivered)
	require.Equal(t, "partial line\n", got)
}

func TestReadHandlerSlurpWaitsForEOF(t *testing.T) {
	r, w := pipeFDs(t)
	rh := NewReadHandler(r, "test", 0)
	require.NoError(t, rh.OnAttach(&stubMux{}))

	var got string
	rh.Slurp(func(data []byte) { got = string(data) })

	_, err := unix.Write(w, []byte("a b c"))
	require.NoError(t, err)
	rh.OnReadable()
	require.Empty(t, got)

	unix.Close(w)
	rh.OnReadable()
	require.Equal(t, "a b c", got)
}

func TestReadHandlerSlurpPanicsWhenAlreadyInFlight(t *testing.T) {
	r, _ := pipeFDs(t)
	rh := NewReadHandler(r, "test", 0)
	require.NoError(t, rh.OnAttach(&stubMux{}))

	rh.Slurp(func([]byte) {})
	require.Panics(t, func() { rh.Slurp(func([]byte) {}) })
}
