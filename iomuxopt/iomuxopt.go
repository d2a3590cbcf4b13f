// Package iomuxopt parses the redirection-mode tokens and construction
// option bags used to build handlers, and loads YAML-sourced defaults
// for read/write buffer sizes and reactor backend choice.
package iomuxopt

import (
	"github.com/markov2/iomux/internal/ioerr"
)

// Mode is a parsed redirection token, as used by a shell-style pipeline
// spec ("<" for a plain read, "|-|" for a bidirectional child pipe, …).
type Mode int

const (
	ModeRead        Mode = iota // "<"
	ModeWrite                   // ">"
	ModeAppend                  // ">>"
	ModePipeFrom                // "-|"
	ModePipeTo                  // "|-"
	ModePipeBoth                // "|-|"
	ModePipeBothErr             // "|=|"
	ModeTCP                     // "tcp"
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "<"
	case ModeWrite:
		return ">"
	case ModeAppend:
		return ">>"
	case ModePipeFrom:
		return "-|"
	case ModePipeTo:
		return "|-"
	case ModePipeBoth:
		return "|-|"
	case ModePipeBothErr:
		return "|=|"
	case ModeTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

var tokens = map[string]Mode{
	"<":   ModeRead,
	">":   ModeWrite,
	">>":  ModeAppend,
	"-|":  ModePipeFrom,
	"|-":  ModePipeTo,
	"|-|": ModePipeBoth,
	"|=|": ModePipeBothErr,
	"tcp": ModeTCP,
}

// ParseMode maps a redirection token to its Mode. An unrecognized token
// is a Configuration error.
func ParseMode(token string) (Mode, error) {
	m, ok := tokens[token]
	if !ok {
		return 0, ioerr.Configf("iomuxopt: unknown mode token %q", token)
	}
	return m, nil
}

// SocketOptions is the capitalized-key option bag for tcp.Service/Stream
// construction — the fields a caller sets to describe a socket.
// tcp.NewServiceFromOptions and tcp.DialFromOptions build the listener
// or connection these fields describe: LocalAddr/Host and Proto pick the
// bind address and network, Reuse sets SO_REUSEADDR, PeerAddr is the
// outbound dial target, and UseSSL flips the handler's uses-TLS bit
// (this module only records that bit; the handshake is the caller's).
type SocketOptions struct {
	Host      string
	LocalAddr string
	PeerAddr  string
	Listen    bool
	Proto     string
	Reuse     bool
	UseSSL    bool
}

// HandlerOptions is the non-capitalized-key option bag for handler
// construction — everything that shapes a handler's buffering and
// behavior rather than its transport.
type HandlerOptions struct {
	Name      string
	ReadSize  int
	WriteSize int
	// ConnType names a ConnFactoryBuilder registered via
	// tcp.RegisterConnFactory, used by tcp.NewServiceFromOptions when no
	// explicit ConnFactory is passed. ConnOpts is the key/value bag
	// handed to that builder.
	ConnType string
	ConnOpts map[string]string
	// Hostname is the advertised host set on the Service built by
	// tcp.NewServiceFromOptions.
	Hostname  string
	Mode      Mode
	Exclusive bool
	Create    bool
	Append    bool
	// ModeFlags, when non-zero, overrides the os.O_* flags Open would
	// otherwise compute from Mode/Create/Append for a file-mode open.
	ModeFlags int

	// File names the path to open for ModeRead/ModeWrite/ModeAppend.
	File string
	// Command and Args name the child process to spawn for the four
	// pipe modes (ModePipeFrom, ModePipeTo, ModePipeBoth, ModePipeBothErr).
	Command string
	Args    []string
}
