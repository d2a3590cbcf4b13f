//go:build linux
// +build linux

// SelectReactor's bit-vector layout (64-bit words in unix.FdSet.Bits) is
// Linux-specific; other unix.FdSet layouts (e.g. darwin's 32-bit words)
// would need their own fdSet/fdClr/fdIsSet. PollReactor is the portable
// back-end for platforms where select(2) isn't worth supporting.
package reactor

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/markov2/iomux/internal/ioerr"
)

// fdSetSize mirrors FD_SETSIZE; SetInterest ignores a descriptor at or
// above it, so such a descriptor is never reported ready.
const fdSetSize = 1024

// SelectReactor implements Reactor with three bit-vectors, one per
// interest kind, and the OS select(2) call. It wastes memory proportional
// to the largest watched fd but set/clear is O(1).
type SelectReactor struct {
	read, write, except unix.FdSet
	// dirty records whether each vector has ever had a bit set; PollOnce
	// passes an all-zero set in place of a vector that never has. The
	// flags are not cleared when bits are, and PollOnce scans all three
	// result vectors regardless.
	readDirty, writeDirty, exceptDirty bool
	maxFD                              int

	readyRead, readyWrite, readyExcept []int
}

// NewSelectReactor constructs an empty SelectReactor.
func NewSelectReactor() *SelectReactor {
	return &SelectReactor{}
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdClr(set *unix.FdSet, fd int) {
	set.Bits[fd/64] &^= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}

func (s *SelectReactor) SetInterest(fd int, state bool, read, write, except bool) {
	if fd >= fdSetSize {
		// SetInterest has no error return in the Reactor contract, and
		// mux.Attach rejects only negative descriptors, so an fd at or
		// above fdSetSize is silently left unwatched.
		return
	}
	if read {
		if state {
			fdSet(&s.read, fd)
			s.readDirty = true
		} else {
			fdClr(&s.read, fd)
		}
	}
	if write {
		if state {
			fdSet(&s.write, fd)
			s.writeDirty = true
		} else {
			fdClr(&s.write, fd)
		}
	}
	if except {
		if state {
			fdSet(&s.except, fd)
			s.exceptDirty = true
		} else {
			fdClr(&s.except, fd)
		}
	}
	if state && fd+1 > s.maxFD {
		s.maxFD = fd + 1
	}
}

func (s *SelectReactor) PollOnce(wait time.Duration) (int, time.Duration, error) {
	var r, w, e unix.FdSet
	if s.readDirty {
		r = s.read
	}
	if s.writeDirty {
		w = s.write
	}
	if s.exceptDirty {
		e = s.except
	}

	tv := unix.NsecToTimeval(wait.Nanoseconds())
	start := time.Now()
	n, err := unix.Select(s.maxFD, &r, &w, &e, &tv)
	elapsed := time.Since(start)
	timeLeft := wait - elapsed
	if timeLeft < 0 {
		timeLeft = 0
	}

	if err != nil {
		if ioerr.Classify(err) == ioerr.Retryable {
			return 0, timeLeft, nil
		}
		return 0, timeLeft, ioerr.Fatal(err, "select")
	}

	s.readyRead = scanFdSet(&r, s.maxFD, s.readyRead[:0])
	s.readyWrite = scanFdSet(&w, s.maxFD, s.readyWrite[:0])
	s.readyExcept = scanFdSet(&e, s.maxFD, s.readyExcept[:0])
	return n, timeLeft, nil
}

func scanFdSet(set *unix.FdSet, maxFD int, out []int) []int {
	for fd := 0; fd < maxFD; fd++ {
		if fdIsSet(set, fd) {
			out = append(out, fd)
		}
	}
	return out
}

func (s *SelectReactor) ReadyIter(kind Kind) []int {
	switch kind {
	case Readable:
		return s.readyRead
	case Writable:
		return s.readyWrite
	case Exceptional:
		return s.readyExcept
	default:
		return nil
	}
}

func (s *SelectReactor) Close() error { return nil }
