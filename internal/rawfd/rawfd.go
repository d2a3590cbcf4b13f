// Package rawfd extracts a raw, non-blocking, dup'd file descriptor from
// a net.Conn or *os.File so the multiplexer's own reactor — not the Go
// runtime's netpoller — owns its readiness: duplicate the fd via
// SyscallConn.Control, close the original, and drive syscall.Read/Write
// directly on the duplicate so a socket can never be polled by two
// pollers at once.
package rawfd

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/markov2/iomux/internal/ioerr"
)

type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

// Dup duplicates the raw descriptor behind conn, closes conn itself, and
// marks the duplicate non-blocking. The caller owns the returned fd and
// is responsible for eventually closing it.
func Dup(conn syscallConner) (fd int, err error) {
	rc, err := conn.SyscallConn()
	if err != nil {
		return -1, ioerr.Config("rawfd: connection does not support SyscallConn")
	}

	var newfd int
	var dupErr error
	ctrlErr := rc.Control(func(sysfd uintptr) {
		newfd, dupErr = syscall.Dup(int(sysfd))
	})
	if ctrlErr != nil {
		return -1, ioerr.Wrap(ctrlErr, "rawfd: Control failed")
	}
	if dupErr != nil {
		return -1, ioerr.Wrap(dupErr, "rawfd: dup failed")
	}

	if c, ok := conn.(interface{ Close() error }); ok {
		_ = c.Close()
	}

	if err := unix.SetNonblock(newfd, true); err != nil {
		syscall.Close(newfd)
		return -1, ioerr.Wrap(err, "rawfd: set non-blocking failed")
	}
	return newfd, nil
}
