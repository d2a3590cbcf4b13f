package iomuxopt

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/markov2/iomux/bundle"
	"github.com/markov2/iomux/handler"
	"github.com/markov2/iomux/internal/ioerr"
	"github.com/markov2/iomux/pipe"
)

// Open is the single construction entry point described by the mode
// token table: it dispatches on opts.Mode to open a file or spawn a
// child process and returns the resulting handler. Exactly one of the
// two return values is non-nil: h for every mode except ModePipeBoth
// and ModePipeBothErr, which need two or three descriptors and so
// return a *bundle.Bundle instead.
//
// ModeTCP is not handled here — a TCP stream is constructed from an
// already-accepted or already-dialed connection via tcp.NewStream, not
// from a file/command token.
func Open(opts HandlerOptions) (h handler.Handler, b *bundle.Bundle, err error) {
	switch opts.Mode {
	case ModeRead:
		if opts.File == "" {
			return nil, nil, ioerr.Config("iomuxopt: Open: mode \"<\" requires File")
		}
		flags := os.O_RDONLY
		if opts.ModeFlags != 0 {
			flags = opts.ModeFlags
		}
		fd, err := openNonblock(opts.File, flags, 0, opts.Exclusive)
		if err != nil {
			return nil, nil, err
		}
		return handler.NewReadHandler(fd, name(opts, opts.File), opts.ReadSize), nil, nil

	case ModeWrite, ModeAppend:
		flags := os.O_WRONLY
		if opts.Mode == ModeAppend || opts.Append {
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}
		if opts.Create {
			flags |= os.O_CREATE
		}
		if opts.ModeFlags != 0 {
			flags = opts.ModeFlags
		}
		if opts.File == "" {
			return nil, nil, ioerr.Config("iomuxopt: Open: mode \">\"/\">>\" requires File")
		}
		fd, err := openNonblock(opts.File, flags, 0644, opts.Exclusive)
		if err != nil {
			return nil, nil, err
		}
		return handler.NewWriteHandler(fd, name(opts, opts.File), opts.WriteSize), nil, nil

	case ModePipeFrom:
		if opts.Command == "" {
			return nil, nil, ioerr.Config("iomuxopt: Open: mode \"-|\" requires Command")
		}
		p, err := pipe.NewReadPipe(opts.Name, opts.ReadSize, opts.Command, opts.Args...)
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil

	case ModePipeTo:
		if opts.Command == "" {
			return nil, nil, ioerr.Config("iomuxopt: Open: mode \"|-\" requires Command")
		}
		p, err := pipe.NewWritePipe(opts.Name, opts.WriteSize, opts.Command, opts.Args...)
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil

	case ModePipeBoth, ModePipeBothErr:
		if opts.Command == "" {
			return nil, nil, ioerr.Config("iomuxopt: Open: mode \"|-|\"/\"|=|\" requires Command")
		}
		bn, err := bundle.New(opts.Name, opts.Mode == ModePipeBothErr, opts.ReadSize, opts.WriteSize, opts.Command, opts.Args...)
		if err != nil {
			return nil, nil, err
		}
		return nil, bn, nil

	case ModeTCP:
		return nil, nil, ioerr.Config("iomuxopt: Open: mode \"tcp\" is constructed via tcp.NewStream, not Open")

	default:
		return nil, nil, ioerr.Configf("iomuxopt: Open: unhandled mode %v", opts.Mode)
	}
}

func name(opts HandlerOptions, fallback string) string {
	if opts.Name != "" {
		return opts.Name
	}
	return fallback
}

func openNonblock(path string, flags int, perm os.FileMode, exclusive bool) (int, error) {
	if exclusive {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, perm)
	if err != nil {
		return -1, ioerr.Wrap(err, "iomuxopt: open "+path+" failed")
	}
	fd, err := unix.Dup(int(f.Fd()))
	_ = f.Close()
	if err != nil {
		return -1, ioerr.Wrap(err, "iomuxopt: dup failed")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, ioerr.Wrap(err, "iomuxopt: set non-blocking failed")
	}
	return fd, nil
}
