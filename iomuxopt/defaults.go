package iomuxopt

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/markov2/iomux/internal/ioerr"
)

// Backend names accepted by Defaults.Backend.
const (
	BackendSelect = "select"
	BackendPoll   = "poll"
)

// Defaults seeds construction defaults from a small YAML document. The
// zero value is itself a valid, file-free default: a ReadSize/WriteSize
// of 0 makes the handler constructors use handler.DefaultReadSize/
// DefaultWriteSize. Backend is only validated by LoadDefaults (empty is
// accepted); nothing in this module selects a reactor from it.
type Defaults struct {
	ReadSize  int    `yaml:"read_size"`
	WriteSize int    `yaml:"write_size"`
	Backend   string `yaml:"backend"`
}

// LoadDefaults reads path as YAML into a Defaults. A missing file is not
// an error — it returns the zero value, since Defaults{} is already a
// valid set of defaults.
func LoadDefaults(path string) (*Defaults, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Defaults{}, nil
	}
	if err != nil {
		return nil, ioerr.Wrap(err, "iomuxopt: reading defaults file")
	}
	var d Defaults
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, ioerr.Configf("iomuxopt: invalid defaults YAML in %s: %v", path, err)
	}
	if d.Backend != "" && d.Backend != BackendSelect && d.Backend != BackendPoll {
		return nil, ioerr.Configf("iomuxopt: unknown backend %q in %s", d.Backend, path)
	}
	return &d, nil
}
