package hessian

import (
	"context"
	"fmt"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/ilcpm/numhess/internal/dispatch"
	"github.com/ilcpm/numhess/internal/geom"
	"github.com/ilcpm/numhess/internal/log"
	"github.com/ilcpm/numhess/internal/qcprog"
	"github.com/ilcpm/numhess/internal/swart"
)

// Problem carries everything the external reconstruction algorithm needs:
// the geometry, an initial model Hessian, known displacement directions with
// their analytic gradient derivatives, and a way to request further
// gradients.
type Problem struct {
	X0    []float64 // equilibrium coordinates, bohr
	Delta float64   // displacement step, bohr
	DMax  float64   // effective-distance radius beyond which couplings are dropped

	Cores      int // cores per gradient invocation
	TotalCores int

	DistMat *mat.SymDense // pairwise distances minus vdW radii, 3N by 3N blocks
	H0      *mat.SymDense // model Hessian seed

	// DisplDir columns are displacement directions whose gradient
	// derivatives are already known or must be evaluated first. G holds the
	// known derivative columns (nil when there are none); its columns
	// correspond to the leading columns of DisplDir.
	DisplDir *mat.Dense
	G        *mat.Dense
	G0       []float64

	// DoubleSided marks displacements requiring two-sided differentiation.
	DoubleSided []bool

	// Gradients evaluates a batch of perturbed geometries, bounded by the
	// computation's core budget. Request indices must be unique within the
	// computation.
	Gradients func(ctx context.Context, reqs []qcprog.Request) ([]qcprog.Gradient, error)
}

// Result is what a reconstruction pass returns: the Hessian plus the
// possibly extended displacement set and its gradient derivatives, so a
// refinement pass can reuse them.
type Result struct {
	Hessian  *mat.SymDense
	DisplDir *mat.Dense
	G        *mat.Dense
}

// Reconstructor is the external sparse-gradient Hessian estimation
// algorithm. Implementations decide which additional displacements to
// evaluate; this package only prepares the problem and refines the answer.
type Reconstructor interface {
	Reconstruct(ctx context.Context, p *Problem) (*Result, error)
}

// outputReader is satisfied by program adapters whose equilibrium gradient
// can be read back from an artifact of a previous run.
type outputReader interface {
	OutputExt() string
	ReadOutput(path string, nAtoms int) (qcprog.Gradient, error)
}

// reconstruct prepares the reconstruction problem, runs the external
// algorithm, and refines once when the first pass leaves imaginary modes.
func (d *Driver) reconstruct(ctx context.Context, run *qcprog.Run, pool *dispatch.Pool, budget dispatch.Budget, opts Options) (*mat.SymDense, error) {
	logger := log.WithComponent("hessian")

	if opts.Reconstructor == nil {
		return nil, fmt.Errorf("%w: method o1numhess requires a reconstructor", ErrOptions)
	}
	// Rotational invariance builds on the translational projections.
	if opts.RotInvar && !opts.TransInvar {
		return nil, fmt.Errorf("%w: rotational invariance requires translational invariance", ErrOptions)
	}

	n := d.mol.NumAtoms()
	n3 := 3 * n
	x0 := d.mol.Bohr()

	// A single translationally invariant atom has no internal degrees of
	// freedom.
	if n == 1 {
		if opts.TransInvar {
			logger.Warn("single atom, the Hessian is the zero matrix", "run_id", d.runID)
			d.setState(Dispatching)
			return mat.NewSymDense(3, nil), nil
		}
		// Without translational invariance an external field may act on
		// the atom; fall back to central differences.
		d.setState(Dispatching)
		return d.doubleSide(ctx, run, opts.Invoker, pool, budget, opts.Delta)
	}

	distmat := geom.EffectiveDistances(d.mol)
	h0 := swart.ModelHessian(x0, d.mol.AtomicNumbers())

	trRot, ntr, err := geom.TransRot(x0)
	if err != nil {
		return nil, err
	}
	if !opts.RotInvar {
		ntr = 3
	}
	if !opts.TransInvar {
		ntr = 0
	}
	breathing, err := geom.SymmetricBreathing(x0)
	if err != nil {
		return nil, err
	}
	displ := mat.NewDense(n3, ntr+1, nil)
	for j := 0; j < ntr; j++ {
		for i := 0; i < n3; i++ {
			displ.Set(i, j, trRot.At(i, j))
		}
	}
	displ.SetCol(ntr, breathing)

	d.setState(Dispatching)
	g0, err := d.equilibriumGradient(ctx, run, budget, opts, n3)
	if err != nil {
		return nil, err
	}

	// Derivatives along the invariance directions are known analytically:
	// zero for translations, and for rotations a function of g0 alone.
	var g *mat.Dense
	if ntr > 0 {
		g = mat.NewDense(n3, ntr, nil)
		if opts.RotInvar {
			rot, err := geom.RotationGradient(x0, g0, ntr-3)
			if err != nil {
				return nil, err
			}
			for j := 0; j < ntr-3; j++ {
				for i := 0; i < n3; i++ {
					g.Set(i, 3+j, rot.At(i, j))
				}
			}
		}
	}

	// Only the breathing mode is differentiated from both sides.
	doubleSided := make([]bool, n3)
	doubleSided[ntr] = true

	prob := &Problem{
		X0:          x0,
		Delta:       opts.Delta,
		DMax:        opts.DMax,
		Cores:       budget.CoresPerInvocation,
		TotalCores:  budget.TotalCores,
		DistMat:     distmat,
		H0:          h0,
		DisplDir:    displ,
		G:           g,
		G0:          g0,
		DoubleSided: doubleSided,
		Gradients: func(ctx context.Context, reqs []qcprog.Request) ([]qcprog.Gradient, error) {
			return pool.Run(ctx, reqs, invokeFn(run, opts.Invoker))
		},
	}

	logger.Info("initial reconstruction pass",
		"run_id", d.runID, "displacements", ntr+1, "invariance_directions", ntr)
	res, err := opts.Reconstructor.Reconstruct(ctx, prob)
	if err != nil {
		return nil, err
	}

	nimag, modes, err := imaginaryModes(res.Hessian, opts.ThreshImag)
	if err != nil {
		return nil, err
	}
	_, used := res.DisplDir.Dims()
	if nimag > n3-used {
		// More imaginary modes than remaining displacement slots; keep the
		// most negative ones, which sort first.
		nimag = n3 - used
	}
	if nimag == 0 {
		logger.Info("no imaginary modes, skipping refinement", "run_id", d.runID)
		return res.Hessian, nil
	}

	d.setState(Refining)
	logger.Info("refining along imaginary modes", "run_id", d.runID, "modes", nimag)
	ext := mat.NewDense(n3, used+nimag, nil)
	for j := 0; j < used; j++ {
		for i := 0; i < n3; i++ {
			ext.Set(i, j, res.DisplDir.At(i, j))
		}
	}
	for j := 0; j < nimag; j++ {
		for i := 0; i < n3; i++ {
			ext.Set(i, used+j, modes.At(i, j))
		}
	}
	prob.DisplDir = ext
	prob.G = res.G

	refined, err := opts.Reconstructor.Reconstruct(ctx, prob)
	if err != nil {
		return nil, err
	}
	return refined.Hessian, nil
}

// equilibriumGradient obtains g0: either parsed from an artifact of an
// earlier run in the working directory, or computed fresh at index 6N with
// the whole core budget.
func (d *Driver) equilibriumGradient(ctx context.Context, run *qcprog.Run, budget dispatch.Budget, opts Options, n3 int) ([]float64, error) {
	if opts.HasG0 {
		reader, ok := opts.Invoker.(outputReader)
		if !ok {
			return nil, fmt.Errorf("%w: program %s cannot read back an equilibrium gradient",
				ErrOptions, opts.Invoker.Name())
		}
		dir := run.WorkDir
		if dir == "" {
			dir = "."
		}
		path := filepath.Join(dir, run.Task()+reader.OutputExt())
		log.WithComponent("hessian").Info("reading equilibrium gradient from disk",
			"run_id", d.runID, "path", path)
		grad, err := reader.ReadOutput(path, d.mol.NumAtoms())
		if err != nil {
			return nil, err
		}
		return grad.Grad, nil
	}

	grad, err := opts.Invoker.Invoke(ctx, run, qcprog.Request{
		Index:  2 * n3,
		Coords: d.mol.Bohr(),
		Cores:  budget.TotalCores,
	})
	if err != nil {
		return nil, err
	}
	return grad.Grad, nil
}

// imaginaryModes eigendecomposes h and returns the count of eigenvalues
// below -thresh together with the eigenvector matrix, eigenvalues ascending
// so the most negative modes come first.
func imaginaryModes(h *mat.SymDense, thresh float64) (int, *mat.Dense, error) {
	var eig mat.EigenSym
	if !eig.Factorize(h, true) {
		return 0, nil, fmt.Errorf("%w: eigendecomposition of the Hessian failed", ErrOptions)
	}
	vals := eig.Values(nil)
	nimag := 0
	for _, v := range vals {
		if v < -thresh {
			nimag++
		}
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	return nimag, &vecs, nil
}
