// Package config loads the per-program launch configuration collections.
//
// Each supported electronic-structure program has one YAML file in the config
// directory (default ~/.numhess), holding an ordered list of named entries:
// a launch-environment shell fragment plus the executable path. Lookup is by
// name, first match wins; an empty name selects the first entry.
package config

import "errors"

var (
	// ErrNotFound reports a missing config file or a name with no entry.
	ErrNotFound = errors.New("program config not found")

	// ErrInvalid reports a config entry that fails eager validation.
	ErrInvalid = errors.New("invalid program config")
)

// Program is one launch configuration for an external gradient program.
type Program struct {
	// Name identifies the entry inside its collection.
	Name string `yaml:"name"`

	// Bash is the multi-line launch-environment fragment prepended to every
	// invocation script. It must not set the per-invocation resource
	// variables; those are injected by the invocation adapter.
	Bash string `yaml:"bash"`

	// Path is the program executable (or driver script) path.
	Path string `yaml:"path"`
}

// Collection is the parsed content of one program's config file.
type Collection struct {
	Configs []Program `yaml:"configs"`
}

// reservedVars are per-invocation resource variables a launch fragment must
// not set: they are injected per invocation and differ between the programs'
// scratch protocols.
var reservedVars = []string{
	"OMP_NUM_THREADS",
	"OMP_STACKSIZE",
	"BDF_TMPDIR",
}
