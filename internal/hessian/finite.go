package hessian

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ilcpm/numhess/internal/dispatch"
	"github.com/ilcpm/numhess/internal/qcprog"
)

// invokeFn binds the per-computation context so the pool only sees requests.
func invokeFn(run *qcprog.Run, inv qcprog.Invoker) func(context.Context, qcprog.Request) (qcprog.Gradient, error) {
	return func(ctx context.Context, req qcprog.Request) (qcprog.Gradient, error) {
		return inv.Invoke(ctx, run, req)
	}
}

// displace copies x0 with coordinate j shifted by step.
func displace(x0 []float64, j int, step float64) []float64 {
	x := make([]float64, len(x0))
	copy(x, x0)
	x[j] += step
	return x
}

// singleSide computes the Hessian from one-sided differences: one gradient
// per displaced coordinate plus the equilibrium gradient, 3N+1 invocations
// in total. The equilibrium slot uses index 6N so its filenames never collide
// with a displaced geometry's.
func (d *Driver) singleSide(ctx context.Context, run *qcprog.Run, inv qcprog.Invoker, pool *dispatch.Pool, budget dispatch.Budget, delta float64) (*mat.SymDense, error) {
	x0 := d.mol.Bohr()
	n3 := len(x0)

	reqs := make([]qcprog.Request, 0, n3+1)
	for j := 0; j < n3; j++ {
		reqs = append(reqs, qcprog.Request{
			Index:  j + 1,
			Coords: displace(x0, j, delta),
			Cores:  budget.CoresPerInvocation,
		})
	}
	reqs = append(reqs, qcprog.Request{Index: 2 * n3, Coords: x0, Cores: budget.CoresPerInvocation})

	grads, err := pool.Run(ctx, reqs, invokeFn(run, inv))
	if err != nil {
		return nil, err
	}

	g0 := grads[n3].Grad
	h := mat.NewSymDense(n3, nil)
	for i := 0; i < n3; i++ {
		for j := i; j < n3; j++ {
			v := ((grads[j].Grad[i] - g0[i]) + (grads[i].Grad[j] - g0[j])) / (2 * delta)
			h.SetSym(i, j, v)
		}
	}
	return h, nil
}

// doubleSide computes the Hessian from central differences: gradients at +d
// and -d along every coordinate, 6N invocations, no equilibrium gradient
// needed. Column j pairs indices 2j-1 and 2j.
func (d *Driver) doubleSide(ctx context.Context, run *qcprog.Run, inv qcprog.Invoker, pool *dispatch.Pool, budget dispatch.Budget, delta float64) (*mat.SymDense, error) {
	x0 := d.mol.Bohr()
	n3 := len(x0)

	reqs := make([]qcprog.Request, 0, 2*n3)
	for j := 0; j < n3; j++ {
		reqs = append(reqs,
			qcprog.Request{Index: 2*j + 1, Coords: displace(x0, j, delta), Cores: budget.CoresPerInvocation},
			qcprog.Request{Index: 2*j + 2, Coords: displace(x0, j, -delta), Cores: budget.CoresPerInvocation},
		)
	}

	grads, err := pool.Run(ctx, reqs, invokeFn(run, inv))
	if err != nil {
		return nil, err
	}
	if len(grads) != 2*n3 {
		return nil, fmt.Errorf("%w: expected %d gradients, got %d", ErrOptions, 2*n3, len(grads))
	}

	h := mat.NewSymDense(n3, nil)
	for i := 0; i < n3; i++ {
		for j := i; j < n3; j++ {
			dj := (grads[2*j].Grad[i] - grads[2*j+1].Grad[i]) / (2 * delta)
			di := (grads[2*i].Grad[j] - grads[2*i+1].Grad[j]) / (2 * delta)
			h.SetSym(i, j, (dj+di)/2)
		}
	}
	return h, nil
}
