// Package hessian coordinates a full numerical Hessian computation: it owns
// the molecule, sizes the resource budget, fans perturbed-geometry gradient
// requests out through the dispatch pool, and assembles the symmetric result.
//
// Three methods are available. "single" and "double" are plain one-sided and
// two-sided finite differences over all Cartesian coordinates. "o1numhess"
// delegates the reconstruction mathematics to an external Reconstructor and
// only prepares its inputs: the model Hessian, effective distances, the
// invariance displacement directions and the equilibrium gradient.
package hessian

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/ilcpm/numhess/internal/config"
	"github.com/ilcpm/numhess/internal/dispatch"
	"github.com/ilcpm/numhess/internal/geom"
	"github.com/ilcpm/numhess/internal/log"
	"github.com/ilcpm/numhess/internal/qcprog"
)

// ErrOptions reports invalid caller input caught before any invocation is
// dispatched.
var ErrOptions = errors.New("invalid compute options")

// State tracks a computation through its lifecycle. A computation that
// reaches Failed produced no Hessian; partial gradient sets are discarded.
type State int

const (
	Initialized State = iota
	Dispatching
	Refining
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Dispatching:
		return "dispatching"
	case Refining:
		return "refining"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Options selects the method and carries everything one computation needs
// besides the molecule itself.
type Options struct {
	Method   string  // single, double or o1numhess (case insensitive)
	Delta    float64 // displacement step in bohr
	Template string  // path of the program input template
	Config   config.Program
	Invoker  qcprog.Invoker

	MemPerCore string // per-core memory directive, required for BDF
	Encoding   string // text encoding of template and coordinate files
	ScratchDir string // scratch base directory, default ~/tmp
	TaskName   string // filename prefix, default template stem
	WorkDir    string // shared working directory, default process cwd

	Budget dispatch.Budget

	// Reconstructor options.
	Reconstructor Reconstructor
	DMax          float64 // displacement radius cap, default 1.0
	ThreshImag    float64 // imaginary-mode eigenvalue threshold, default 1e-8
	HasG0         bool    // read the equilibrium gradient from an existing artifact
	TransInvar    bool
	RotInvar      bool

	// discover overrides host core discovery in tests.
	discover func() int
}

// Driver orchestrates one Hessian computation for one molecule.
type Driver struct {
	mol   *geom.Molecule
	state State
	runID string
}

// New loads the molecule and prepares a driver in the Initialized state.
func New(xyzPath, unit, encoding string) (*Driver, error) {
	mol, err := geom.Load(xyzPath, unit, encoding)
	if err != nil {
		return nil, err
	}
	d := &Driver{mol: mol, state: Initialized, runID: uuid.NewString()}
	log.WithComponent("hessian").Info("molecule loaded",
		"run_id", d.runID, "path", mol.Path(), "atoms", mol.NumAtoms())
	return d, nil
}

// Molecule returns the loaded geometry.
func (d *Driver) Molecule() *geom.Molecule { return d.mol }

// State returns the current lifecycle state.
func (d *Driver) State() State { return d.state }

func (d *Driver) setState(s State) {
	log.WithComponent("hessian").Debug("state transition",
		"run_id", d.runID, "from", d.state.String(), "to", s.String())
	d.state = s
}

// Compute runs the selected method to completion and returns the symmetric
// 3N by 3N Hessian in hartree/bohr^2.
func (d *Driver) Compute(ctx context.Context, opts Options) (*mat.SymDense, error) {
	run, budget, err := d.prepare(&opts)
	if err != nil {
		d.setState(Failed)
		return nil, err
	}
	pool := dispatch.NewPool(budget)

	logger := log.WithComponent("hessian")
	logger.Info("starting computation",
		"run_id", d.runID,
		"method", opts.Method,
		"program", opts.Invoker.Name(),
		"delta", opts.Delta,
		"cores_per_invocation", budget.CoresPerInvocation,
		"total_cores", budget.TotalCores)

	var h *mat.SymDense
	switch strings.ToLower(opts.Method) {
	case "single":
		d.setState(Dispatching)
		h, err = d.singleSide(ctx, run, opts.Invoker, pool, budget, opts.Delta)
	case "double":
		d.setState(Dispatching)
		h, err = d.doubleSide(ctx, run, opts.Invoker, pool, budget, opts.Delta)
	case "o1numhess":
		h, err = d.reconstruct(ctx, run, pool, budget, opts)
	default:
		err = fmt.Errorf("%w: method %q is not supported, use 'single', 'double' or 'o1numhess'",
			ErrOptions, opts.Method)
	}
	if err != nil {
		d.setState(Failed)
		return nil, err
	}
	d.setState(Complete)
	logger.Info("computation complete", "run_id", d.runID, "dim", 3*d.mol.NumAtoms())
	return h, nil
}

// prepare validates the options, resolves the resource budget and binds the
// per-computation invocation context.
func (d *Driver) prepare(opts *Options) (*qcprog.Run, dispatch.Budget, error) {
	var zero dispatch.Budget
	if opts.Invoker == nil {
		return nil, zero, fmt.Errorf("%w: no program invoker", ErrOptions)
	}
	if opts.Delta <= 0 {
		return nil, zero, fmt.Errorf("%w: displacement step must be positive, got %g", ErrOptions, opts.Delta)
	}
	tmpl, err := expandPath(opts.Template)
	if err != nil {
		return nil, zero, fmt.Errorf("%w: template path: %v", ErrOptions, err)
	}
	info, err := os.Stat(tmpl)
	if err != nil || !info.Mode().IsRegular() {
		return nil, zero, fmt.Errorf("%w: template input file %s does not exist or is not a file", ErrOptions, tmpl)
	}
	opts.Template = tmpl
	if opts.Invoker.Name() == "BDF" && opts.MemPerCore == "" {
		return nil, zero, fmt.Errorf("%w: BDF requires a per-core memory directive", ErrOptions)
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = "~/tmp"
	}
	scratch, err := expandPath(opts.ScratchDir)
	if err != nil {
		return nil, zero, fmt.Errorf("%w: scratch path: %v", ErrOptions, err)
	}
	opts.ScratchDir = scratch
	if opts.DMax == 0 {
		opts.DMax = 1.0
	}
	if opts.ThreshImag == 0 {
		opts.ThreshImag = 1e-8
	}

	run := &qcprog.Run{
		Mol:        d.mol,
		Template:   opts.Template,
		Config:     opts.Config,
		MemPerCore: opts.MemPerCore,
		Encoding:   opts.Encoding,
		ScratchDir: opts.ScratchDir,
		TaskName:   opts.TaskName,
		IndexWidth: qcprog.IndexWidth(d.mol.NumAtoms()),
		WorkDir:    opts.WorkDir,
	}

	// ORCA declares its core count inside the template; seed the budget
	// from it when the caller gave none.
	if opts.Budget.CoresPerInvocation == 0 {
		if tc, ok := opts.Invoker.(interface {
			TemplateCores(*qcprog.Run) (int, error)
		}); ok {
			cores, err := tc.TemplateCores(run)
			if err != nil {
				return nil, zero, err
			}
			opts.Budget.CoresPerInvocation = cores
		}
	}

	discover := opts.discover
	if discover == nil {
		discover = dispatch.DiscoverCores
	}
	budget, err := opts.Budget.Resolve(discover)
	if err != nil {
		return nil, zero, err
	}
	return run, budget, nil
}

// expandPath makes a path absolute, treating a leading ~ as the user home.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}
