//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly
// +build linux darwin freebsd netbsd openbsd dragonfly

package reactor

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/markov2/iomux/internal/ioerr"
)

// pollReadFlags/pollWriteFlags group the poll(2) event bits the way most
// poll-based reactors do: read-or-hangup counts as readable, POLLOUT as
// writable, and a small set of error bits as exceptional.
const (
	pollReadFlags   = unix.POLLIN | unix.POLLHUP
	pollWriteFlags  = unix.POLLOUT
	pollExceptFlags = unix.POLLERR | unix.POLLPRI
)

// PollReactor implements Reactor with a mask-per-descriptor table and
// the OS poll(2) call. Set/clear is O(1) in the map but PollOnce pays an
// O(n) scan to rebuild the dense poll(2) argument slice every call.
type PollReactor struct {
	masks map[int]int16
	fds   []unix.PollFd // rebuilt from masks before each PollOnce

	readyRead, readyWrite, readyExcept []int
}

// NewPollReactor constructs an empty PollReactor.
func NewPollReactor() *PollReactor {
	return &PollReactor{masks: make(map[int]int16)}
}

func (p *PollReactor) SetInterest(fd int, state bool, read, write, except bool) {
	mask := p.masks[fd]
	if read {
		mask = toggle(mask, pollReadFlags, state)
	}
	if write {
		mask = toggle(mask, pollWriteFlags, state)
	}
	if except {
		mask = toggle(mask, pollExceptFlags, state)
	}
	if mask == 0 {
		delete(p.masks, fd)
	} else {
		p.masks[fd] = mask
	}
}

func toggle(mask int16, flags int16, set bool) int16 {
	if set {
		return mask | flags
	}
	return mask &^ flags
}

func (p *PollReactor) PollOnce(wait time.Duration) (int, time.Duration, error) {
	p.fds = p.fds[:0]
	for fd, mask := range p.masks {
		p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: mask})
	}

	timeoutMs := int(wait / time.Millisecond)
	start := time.Now()
	n, err := unix.Poll(p.fds, timeoutMs)
	elapsed := time.Since(start)
	timeLeft := wait - elapsed
	if timeLeft < 0 {
		timeLeft = 0
	}

	if err != nil {
		if ioerr.Classify(err) == ioerr.Retryable {
			return 0, timeLeft, nil
		}
		return 0, timeLeft, ioerr.Fatal(err, "poll")
	}

	p.readyRead = p.readyRead[:0]
	p.readyWrite = p.readyWrite[:0]
	p.readyExcept = p.readyExcept[:0]
	for _, pfd := range p.fds {
		if pfd.Revents&pollReadFlags != 0 {
			p.readyRead = append(p.readyRead, int(pfd.Fd))
		}
		if pfd.Revents&pollWriteFlags != 0 {
			p.readyWrite = append(p.readyWrite, int(pfd.Fd))
		}
		if pfd.Revents&pollExceptFlags != 0 {
			p.readyExcept = append(p.readyExcept, int(pfd.Fd))
		}
	}
	return n, timeLeft, nil
}

func (p *PollReactor) ReadyIter(kind Kind) []int {
	switch kind {
	case Readable:
		return p.readyRead
	case Writable:
		return p.readyWrite
	case Exceptional:
		return p.readyExcept
	default:
		return nil
	}
}

func (p *PollReactor) Close() error { return nil }
