// Package workspace allocates the per-invocation naming scope and scratch
// directories for gradient calculations.
//
// All invocations of one Hessian computation share the caller's working
// directory; collisions are avoided purely by the uniqueness of per-invocation
// filename prefixes (task name plus zero-padded index), never by locking.
// Callers must not reuse indices.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

var (
	// ErrInvalidName reports a task or file name the shell protocol cannot
	// carry (whitespace, path separators). Checked before any file I/O.
	ErrInvalidName = errors.New("invalid name")

	// ErrWorkspace reports a filesystem failure while setting up the
	// invocation's scratch directory.
	ErrWorkspace = errors.New("workspace error")
)

// Handle names one invocation's slice of the shared working directory.
type Handle struct {
	prefix string
}

// Begin validates taskName and returns the handle for the given 1-based
// index. width is the zero-padding width; deriving it from the largest index
// the computation can issue keeps displaced and equilibrium task names
// aligned.
func Begin(taskName string, index, width int) (Handle, error) {
	if err := ValidateName(taskName); err != nil {
		return Handle{}, err
	}
	if index < 1 {
		return Handle{}, fmt.Errorf("%w: index %d is not 1-based", ErrInvalidName, index)
	}
	return Handle{prefix: fmt.Sprintf("%s_%0*d", taskName, width, index)}, nil
}

// Prefix returns the filename prefix, unique for the lifetime of the current
// Hessian computation.
func (h Handle) Prefix() string { return h.prefix }

// File returns the prefix with the given extension appended, e.g. ".inp".
func (h Handle) File(ext string) string { return h.prefix + ext }

// Scratch is a private scratch subdirectory for one invocation.
type Scratch struct {
	Dir string
}

// WithScratch creates base/{prefix} and returns it. The caller must release
// the scratch on every exit path.
func (h Handle) WithScratch(base string) (*Scratch, error) {
	if err := ValidateName(h.prefix); err != nil {
		return nil, err
	}
	if strings.TrimSpace(base) == "" {
		return nil, fmt.Errorf("%w: scratch base directory is empty", ErrWorkspace)
	}
	if containsWhitespace(base) {
		return nil, fmt.Errorf("%w: scratch base %q contains whitespace", ErrInvalidName, base)
	}
	dir := filepath.Join(base, h.prefix)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create scratch base %s: %v", ErrWorkspace, base, err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create scratch %s: %v", ErrWorkspace, dir, err)
	}
	return &Scratch{Dir: dir}, nil
}

// Release removes the scratch directory recursively. Safe to call more than
// once; the external program may already have removed its own scratch.
func (s *Scratch) Release() error {
	if s == nil || s.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		return fmt.Errorf("%w: remove scratch %s: %v", ErrWorkspace, s.Dir, err)
	}
	return nil
}

// ValidateName rejects names the unquoted shell-token file protocol cannot
// represent.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if trimmed != name {
		return fmt.Errorf("%w: %q has leading or trailing whitespace", ErrInvalidName, name)
	}
	if containsWhitespace(name) {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func containsWhitespace(s string) bool {
	return strings.IndexFunc(s, unicode.IsSpace) >= 0
}
