// Package pipe implements the fork/exec + pipe primitive: a child
// process wired to the parent through one non-blocking pipe end,
// surfaced as a ReadHandler (ReadPipe) or a WriteHandler (WritePipe).
package pipe

import (
	"os"
	"os/exec"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/markov2/iomux/handler"
	"github.com/markov2/iomux/internal/ioerr"
	"github.com/markov2/iomux/internal/mlog"
)

// Waiter tracks a spawned process and reaps it off the loop goroutine:
// cmd.Process.Wait blocks, so a background goroutine collects the one-
// shot result and Poll consults it non-blockingly, so reaping a child
// never blocks the reactor loop. bundle.Bundle reuses this directly for
// the single child shared by its three sub-handlers.
type Waiter struct {
	cmd *exec.Cmd

	mu    sync.Mutex
	state *os.ProcessState
	err   error
	done  bool
}

// Spawn starts cmd and begins reaping it in the background.
func Spawn(cmd *exec.Cmd) (*Waiter, error) {
	if err := cmd.Start(); err != nil {
		return nil, ioerr.Wrap(err, "pipe: exec start failed")
	}
	w := &Waiter{cmd: cmd}
	go w.reap()
	return w, nil
}

func (w *Waiter) reap() {
	state, err := w.cmd.Process.Wait()
	w.mu.Lock()
	w.state, w.err, w.done = state, err, true
	w.mu.Unlock()
}

// Poll returns the reaped state without blocking; ok is false if the
// child has not yet exited.
func (w *Waiter) Poll() (state *os.ProcessState, err error, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state, w.err, w.done
}

// Process exposes the underlying *os.Process (for Signal/Kill).
func (w *Waiter) Process() *os.Process { return w.cmd.Process }

func devNull(flag int) (*os.File, error) {
	f, err := os.OpenFile(os.DevNull, flag, 0)
	if err != nil {
		return nil, ioerr.Wrap(err, "pipe: open /dev/null failed")
	}
	return f, nil
}

func nonblockingDup(f *os.File) (int, error) {
	fd, err := dupAndClose(f)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, ioerr.Wrap(err, "pipe: set non-blocking failed")
	}
	return fd, nil
}

func dupAndClose(f *os.File) (int, error) {
	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		_ = f.Close()
		return -1, ioerr.Wrap(err, "pipe: dup failed")
	}
	_ = f.Close()
	return fd, nil
}

// ReadPipe is the "-|" primitive: fork+exec cmd, pipe from its stdout.
type ReadPipe struct {
	*handler.ReadHandler
	*Waiter
}

// NewReadPipe spawns cmd/args with stdin from /dev/null, stdout wired to
// a non-blocking pipe the parent reads, and stderr to /dev/null.
func NewReadPipe(name string, readSize int, cmdName string, args ...string) (*ReadPipe, error) {
	if cmdName == "" {
		return nil, ioerr.Config("pipe: NewReadPipe requires a command")
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, ioerr.Wrap(err, "pipe: os.Pipe failed")
	}
	devnullIn, err := devNull(os.O_RDONLY)
	if err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}
	devnullErr, err := devNull(os.O_WRONLY)
	if err != nil {
		pr.Close()
		pw.Close()
		devnullIn.Close()
		return nil, err
	}

	cmd := exec.Command(cmdName, args...)
	cmd.Stdin = devnullIn
	cmd.Stdout = pw
	cmd.Stderr = devnullErr

	w, err := Spawn(cmd)
	pw.Close()
	devnullIn.Close()
	devnullErr.Close()
	if err != nil {
		pr.Close()
		return nil, err
	}

	fd, err := nonblockingDup(pr)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "pipe-read:" + cmdName
	}
	return &ReadPipe{ReadHandler: handler.NewReadHandler(fd, name, readSize), Waiter: w}, nil
}

// Close reaps the child non-blockingly and detaches. It satisfies
// handler.Handler; use CloseWithStatus for the exit status.
func (p *ReadPipe) Close(after func()) error {
	state, _, err := p.close()
	if state != nil {
		mlog.WithHandler(p.FD(), p.Name()).WithField("exit", state.String()).Info("child exited")
	}
	if after != nil {
		after()
	}
	return err
}

// CloseWithStatus closes the pipe and returns the child's exit status if
// it has already been reaped.
func (p *ReadPipe) CloseWithStatus(after func()) (*os.ProcessState, error) {
	state, _, err := p.close()
	if after != nil {
		after()
	}
	return state, err
}

func (p *ReadPipe) close() (*os.ProcessState, error, error) {
	err := p.ReadHandler.Close(nil)
	state, waitErr, _ := p.Poll()
	return state, waitErr, err
}

// WritePipe is the "|-" primitive: fork+exec cmd, pipe to its stdin.
type WritePipe struct {
	*handler.WriteHandler
	*Waiter
}

// NewWritePipe spawns cmd/args with stdin wired to a non-blocking pipe
// the parent writes, and stdout/stderr to /dev/null.
func NewWritePipe(name string, writeSize int, cmdName string, args ...string) (*WritePipe, error) {
	if cmdName == "" {
		return nil, ioerr.Config("pipe: NewWritePipe requires a command")
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, ioerr.Wrap(err, "pipe: os.Pipe failed")
	}
	devnullOut, err := devNull(os.O_WRONLY)
	if err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}
	devnullErr, err := devNull(os.O_WRONLY)
	if err != nil {
		pr.Close()
		pw.Close()
		devnullOut.Close()
		return nil, err
	}

	cmd := exec.Command(cmdName, args...)
	cmd.Stdin = pr
	cmd.Stdout = devnullOut
	cmd.Stderr = devnullErr

	w, err := Spawn(cmd)
	pr.Close()
	devnullOut.Close()
	devnullErr.Close()
	if err != nil {
		pw.Close()
		return nil, err
	}

	fd, err := nonblockingDup(pw)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "pipe-write:" + cmdName
	}
	return &WritePipe{WriteHandler: handler.NewWriteHandler(fd, name, writeSize), Waiter: w}, nil
}

func (p *WritePipe) Close(after func()) error {
	state, _, err := p.close()
	if state != nil {
		mlog.WithHandler(p.FD(), p.Name()).WithField("exit", state.String()).Info("child exited")
	}
	if after != nil {
		after()
	}
	return err
}

func (p *WritePipe) CloseWithStatus(after func()) (*os.ProcessState, error) {
	state, _, err := p.close()
	if after != nil {
		after()
	}
	return state, err
}

func (p *WritePipe) close() (*os.ProcessState, error, error) {
	err := p.WriteHandler.Close(nil)
	state, waitErr, _ := p.Poll()
	return state, waitErr, err
}

// Bare creates only a pipe, returning both ends and deferring any fork —
// bundle.New composes three of these around a single exec.Cmd.Start.
func Bare() (r *os.File, w *os.File, err error) {
	r, w, err = os.Pipe()
	if err != nil {
		return nil, nil, ioerr.Wrap(err, "pipe: os.Pipe failed")
	}
	return r, w, nil
}
