// Package bundle composes a child process's stdin/stdout/stderr into one
// logical IPC unit: a WriteHandler for stdin, a ReadHandler for stdout,
// and an optional ReadHandler for stderr, spawned together with a single
// exec.Cmd.Start and closed together in sequence.
package bundle

import (
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/markov2/iomux/handler"
	"github.com/markov2/iomux/internal/ioerr"
	"github.com/markov2/iomux/internal/mlog"
	"github.com/markov2/iomux/pipe"
)

// Bundle owns the three sub-handlers and the child's Waiter. It is not
// itself attached to the multiplexer as a single fd — a child process
// has three independent descriptors — instead Attach registers each
// sub-handler directly. The stdout and stderr sub-handlers' OnInputHook
// hands each chunk to the Bundle's OnOutput/OnError, so input on those
// fds is mediated by Bundle's own callbacks; stdin's OnFail logs under
// the Bundle's name and closes stdin.
type Bundle struct {
	Name string

	Stdin  *handler.WriteHandler
	Stdout *handler.ReadHandler
	Stderr *handler.ReadHandler // nil unless constructed withStderr

	waiter *pipe.Waiter

	// OnOutput is called with each chunk of stdout as it arrives. Left
	// nil, bytes stay in Stdout.In; a ReadLine or Slurp continuation
	// installed on Stdout is run only at EOF, not on each chunk.
	OnOutput func(in *handler.InBuf)
	// OnError is called with each chunk of stderr as it arrives. If nil
	// and Stderr != nil, stderr bytes are logged at Warn and discarded —
	// the "forward to the process's diagnostic stream" default.
	OnError func(in *handler.InBuf)
	// OnExit is called at the end of Close with the result of a
	// non-blocking reap: state is nil if the child has not exited yet.
	OnExit func(state *os.ProcessState, err error)
}

// New spawns cmdName/args with stdin/stdout piped to the parent and
// stderr piped too when withStderr is true (otherwise redirected to
// /dev/null). The three pipes are bare (pipe.Bare) and the child is
// started once via a single exec.Cmd, coordinating all three descriptor
// handoffs through Go's Stdin/Stdout/Stderr wiring instead of manual
// dup2 calls.
func New(name string, withStderr bool, readSize, writeSize int, cmdName string, args ...string) (*Bundle, error) {
	if cmdName == "" {
		return nil, ioerr.Config("bundle: New requires a command")
	}

	stdinR, stdinW, err := pipe.Bare()
	if err != nil {
		return nil, err
	}
	stdoutR, stdoutW, err := pipe.Bare()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, err
	}

	var stderrR, stderrW *os.File
	if withStderr {
		stderrR, stderrW, err = pipe.Bare()
		if err != nil {
			stdinR.Close()
			stdinW.Close()
			stdoutR.Close()
			stdoutW.Close()
			return nil, err
		}
	}

	cmd := exec.Command(cmdName, args...)
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	if withStderr {
		cmd.Stderr = stderrW
	} else {
		devnullErr, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			stdinR.Close()
			stdinW.Close()
			stdoutR.Close()
			stdoutW.Close()
			return nil, ioerr.Wrap(err, "bundle: open /dev/null failed")
		}
		cmd.Stderr = devnullErr
		defer devnullErr.Close()
	}

	w, err := pipe.Spawn(cmd)
	stdinR.Close()
	stdoutW.Close()
	if withStderr {
		stderrW.Close()
	}
	if err != nil {
		stdinW.Close()
		stdoutR.Close()
		if withStderr {
			stderrR.Close()
		}
		return nil, err
	}

	stdinFD, err := dupNonblock(stdinW)
	if err != nil {
		return nil, err
	}
	stdoutFD, err := dupNonblock(stdoutR)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = "bundle:" + cmdName
	}

	b := &Bundle{
		Name:   name,
		Stdin:  handler.NewWriteHandler(stdinFD, name+"-stdin", writeSize),
		Stdout: handler.NewReadHandler(stdoutFD, name+"-stdout", readSize),
		waiter: w,
	}
	b.Stdin.Engine.OnFail = func(err error) {
		mlog.WithHandler(stdinFD, b.Name).WithError(err).Warn("stdin write failed")
		_ = b.Stdin.Base.Close(nil)
	}
	b.Stdout.OnInputHook = func(in *handler.InBuf) {
		if b.OnOutput != nil {
			b.OnOutput(in)
		}
	}

	if withStderr {
		stderrFD, err := dupNonblock(stderrR)
		if err != nil {
			return nil, err
		}
		b.Stderr = handler.NewReadHandler(stderrFD, name+"-stderr", readSize)
		b.Stderr.OnInputHook = func(in *handler.InBuf) {
			if b.OnError != nil {
				b.OnError(in)
				return
			}
			mlog.WithHandler(stderrFD, b.Name).Warn(string(in.TakeAll()))
		}
	}

	return b, nil
}

func dupNonblock(f *os.File) (int, error) {
	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		_ = f.Close()
		return -1, ioerr.Wrap(err, "bundle: dup failed")
	}
	_ = f.Close()
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, ioerr.Wrap(err, "bundle: set non-blocking failed")
	}
	return fd, nil
}

// Attach registers all of the bundle's live sub-handlers on m. stdin is
// attached with no interest, so OnWritable fires only once data is
// queued; stdout and stderr start with read interest armed immediately.
func (b *Bundle) Attach(m handler.Mux) error {
	if err := m.Attach(b.Stdin); err != nil {
		return err
	}
	if err := m.Attach(b.Stdout); err != nil {
		return err
	}
	if b.Stderr != nil {
		if err := m.Attach(b.Stderr); err != nil {
			return err
		}
	}
	return nil
}

// Write queues p on the child's stdin.
func (b *Bundle) Write(p []byte, more func()) { b.Stdin.Write(p, more) }

// Close closes stdin, then stdout, then stderr in sequence, chaining
// continuations so after runs only once all three have closed, then
// reaps the child and invokes OnExit.
func (b *Bundle) Close(after func()) error {
	final := func() {
		state, err, _ := b.waiter.Poll()
		if b.OnExit != nil {
			b.OnExit(state, err)
		}
		if after != nil {
			after()
		}
	}

	closeStderr := func() {
		if b.Stderr == nil {
			final()
			return
		}
		_ = b.Stderr.Close(final)
	}
	closeStdout := func() {
		_ = b.Stdout.Close(closeStderr)
	}
	return b.Stdin.Close(closeStdout)
}
