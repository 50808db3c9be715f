// Package qcprog turns one perturbed geometry into one gradient by driving an
// external electronic-structure program: it rewrites the user's template
// input around a per-invocation coordinate file, composes a launch script
// under the invocation's core/memory budget, runs it, and parses the
// program's gradient artifact.
//
// Two program protocols are supported. BDF runs in the working directory and
// is pointed at a private scratch directory; ORCA stages its inputs into the
// scratch directory, runs there, and copies results back. In both cases every
// artifact left in the working directory stays there for inspection; only the
// scratch directory is removed.
package qcprog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ilcpm/numhess/internal/config"
	"github.com/ilcpm/numhess/internal/geom"
	"github.com/ilcpm/numhess/internal/textenc"
	"github.com/ilcpm/numhess/internal/workspace"
)

var (
	// ErrTemplateFormat reports a template input file missing a required
	// marker (coordinate-file reference, core-count token, gradient
	// directive). A hard precondition: nothing is written or launched.
	ErrTemplateFormat = errors.New("template format error")

	// ErrExecution reports a nonzero exit or launch failure of the external
	// program. Never retried at this layer.
	ErrExecution = errors.New("program execution error")

	// ErrOutputParse reports a missing or malformed gradient artifact.
	ErrOutputParse = errors.New("output parse error")

	// ErrEncoding is re-exported for callers matching the whole taxonomy in
	// one place.
	ErrEncoding = textenc.ErrEncoding
)

// Request is one perturbation issued by the estimator: a 1-based index used
// for naming, the perturbed coordinates in bohr, and the core count assigned
// by the dispatcher. Consumed exactly once.
type Request struct {
	Index  int
	Coords []float64
	Cores  int
}

// Gradient is the parsed result of one invocation, tied to its request by
// index. Units are hartree and hartree/bohr.
type Gradient struct {
	Index  int
	Energy float64
	Grad   []float64
}

// Run holds the invariants of one Hessian computation: everything an
// invocation needs besides the perturbation itself. Resolved once, not per
// invocation.
type Run struct {
	Mol        *geom.Molecule
	Template   string // absolute path of the user's template input
	Config     config.Program
	MemPerCore string // per-core memory directive, e.g. "1G" (BDF)
	Encoding   string // template/coordinate text encoding, default UTF-8
	ScratchDir string // scratch base; one subdirectory per invocation
	TaskName   string // defaults to the template's filename stem
	IndexWidth int    // zero-padding width for task indices
	WorkDir    string // shared working directory of the computation
}

// Invoker is the program-specific invocation adapter.
type Invoker interface {
	// Name returns the program name, which doubles as the config
	// collection name.
	Name() string

	// Invoke performs one blocking gradient evaluation.
	Invoke(ctx context.Context, run *Run, req Request) (Gradient, error)
}

// IndexWidth returns the zero-padding width for a molecule of n atoms: the
// digit count of 6N, so that displaced indices (1..6N) and the equilibrium
// slot (6N) align.
func IndexWidth(n int) int {
	return len(strconv.Itoa(6 * n))
}

// Task returns the effective task name: explicit, or the template stem.
func (r *Run) Task() string {
	if r.TaskName != "" {
		return r.TaskName
	}
	base := filepath.Base(r.Template)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// workdir returns the shared working directory, defaulting to the process
// working directory.
func (r *Run) workdir() string {
	if r.WorkDir == "" {
		return "."
	}
	return r.WorkDir
}

// begin validates names and allocates the invocation's filename prefix.
func (r *Run) begin(req Request) (workspace.Handle, error) {
	width := r.IndexWidth
	if width == 0 {
		width = IndexWidth(r.Mol.NumAtoms())
	}
	return workspace.Begin(r.Task(), req.Index, width)
}

// readTemplate reads and decodes the template input file.
func (r *Run) readTemplate() (string, error) {
	data, err := os.ReadFile(r.Template)
	if err != nil {
		return "", fmt.Errorf("%w: read template %s: %v", ErrTemplateFormat, r.Template, err)
	}
	return textenc.Decode(data, r.Encoding)
}

// checkRequest verifies the perturbed geometry matches the molecule.
func (r *Run) checkRequest(req Request) error {
	if len(req.Coords) != 3*r.Mol.NumAtoms() {
		return fmt.Errorf("%w: request %d has %d coordinates, molecule has %d",
			ErrOutputParse, req.Index, len(req.Coords), 3*r.Mol.NumAtoms())
	}
	if req.Cores < 1 {
		return fmt.Errorf("%w: request %d has no cores assigned", ErrExecution, req.Index)
	}
	return nil
}

// writeScript persists the launch script with execute permission.
func writeScript(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o755)
}

// runScript executes the launch script as a blocking external process in
// dir. Stdout/stderr of the script itself are captured for diagnostics; the
// program's own output is redirected inside the script.
func runScript(ctx context.Context, dir, script string) error {
	cmd := exec.CommandContext(ctx, "bash", script)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 512 {
			detail = detail[len(detail)-512:]
		}
		if detail != "" {
			return fmt.Errorf("%w: %s: %v: %s", ErrExecution, script, err, detail)
		}
		return fmt.Errorf("%w: %s: %v", ErrExecution, script, err)
	}
	return nil
}
