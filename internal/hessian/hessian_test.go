package hessian

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ilcpm/numhess/internal/dispatch"
	"github.com/ilcpm/numhess/internal/qcprog"
)

// linearInvoker pretends to be an external program whose gradient is an
// exact linear function of the coordinates, g = A x, so finite differences
// recover A without truncation error.
type linearInvoker struct {
	a *mat.SymDense

	mu      sync.Mutex
	indices []int
	cores   []int
	fail    map[int]bool
}

func (f *linearInvoker) Name() string { return "FAKE" }

func (f *linearInvoker) Invoke(ctx context.Context, run *qcprog.Run, req qcprog.Request) (qcprog.Gradient, error) {
	f.mu.Lock()
	f.indices = append(f.indices, req.Index)
	f.cores = append(f.cores, req.Cores)
	f.mu.Unlock()
	if f.fail[req.Index] {
		return qcprog.Gradient{}, fmt.Errorf("%w: synthetic failure at %d", qcprog.ErrExecution, req.Index)
	}

	n := len(req.Coords)
	g := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			g[i] += f.a.At(i, j) * req.Coords[j]
		}
	}
	return qcprog.Gradient{Index: req.Index, Grad: g}, nil
}

func (f *linearInvoker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.indices)
}

// testForceMatrix builds a deterministic symmetric matrix.
func testForceMatrix(dim int) *mat.SymDense {
	a := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			v := 0.01 * float64((i*31+j*17)%23)
			if i == j {
				v += 1.0
			}
			a.SetSym(i, j, v)
		}
	}
	return a
}

// benzeneXYZ is a 12-atom ring geometry.
const benzeneXYZ = `12
benzene
C    1.3970000    0.0000000    0.0000000
C    0.6985000    1.2098000    0.0000000
C   -0.6985000    1.2098000    0.0000000
C   -1.3970000    0.0000000    0.0000000
C   -0.6985000   -1.2098000    0.0000000
C    0.6985000   -1.2098000    0.0000000
H    2.4810000    0.0000000    0.0000000
H    1.2405000    2.1486000    0.0000000
H   -1.2405000    2.1486000    0.0000000
H   -2.4810000    0.0000000    0.0000000
H   -1.2405000   -2.1486000    0.0000000
H    1.2405000   -2.1486000    0.0000000
`

const waterXYZ = `3
water
O    0.0000000    0.0000000    0.1173000
H    0.0000000    0.7572000   -0.4692000
H    0.0000000   -0.7572000   -0.4692000
`

func newTestDriver(t *testing.T, xyz string) (*Driver, Options) {
	t.Helper()
	dir := t.TempDir()
	xyzPath := filepath.Join(dir, "mol.xyz")
	require.NoError(t, os.WriteFile(xyzPath, []byte(xyz), 0o644))
	tmplPath := filepath.Join(dir, "mol.inp")
	require.NoError(t, os.WriteFile(tmplPath, []byte("placeholder\n"), 0o644))

	d, err := New(xyzPath, "", "")
	require.NoError(t, err)

	opts := Options{
		Delta:      0.005,
		Template:   tmplPath,
		ScratchDir: filepath.Join(dir, "scratch"),
		WorkDir:    dir,
		Budget:     dispatch.Budget{CoresPerInvocation: 4},
		discover:   func() int { return 8 },
	}
	return d, opts
}

func assertMatrixEqual(t *testing.T, want *mat.SymDense, got *mat.SymDense, tol float64) {
	t.Helper()
	n := want.SymmetricDim()
	require.Equal(t, n, got.SymmetricDim())
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if math.Abs(want.At(i, j)-got.At(i, j)) > tol {
				t.Fatalf("H[%d][%d] = %v, want %v", i, j, got.At(i, j), want.At(i, j))
			}
		}
	}
}

func TestComputeSingleRecoversLinearForceField(t *testing.T) {
	d, opts := newTestDriver(t, benzeneXYZ)
	inv := &linearInvoker{a: testForceMatrix(36)}
	opts.Method = "single"
	opts.Invoker = inv

	h, err := d.Compute(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, Complete, d.State())

	// 3N displaced geometries plus the equilibrium gradient.
	assert.Equal(t, 37, inv.calls())
	assertMatrixEqual(t, inv.a, h, 1e-9)

	// The equilibrium slot uses index 6N, away from the displaced range.
	found := false
	for _, idx := range inv.indices {
		assert.LessOrEqual(t, idx, 72)
		if idx == 72 {
			found = true
		}
	}
	assert.True(t, found, "equilibrium gradient uses index 6N")
}

func TestComputeDoubleRecoversLinearForceField(t *testing.T) {
	d, opts := newTestDriver(t, benzeneXYZ)
	inv := &linearInvoker{a: testForceMatrix(36)}
	opts.Method = "double"
	opts.Invoker = inv

	h, err := d.Compute(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, Complete, d.State())
	assert.Equal(t, 72, inv.calls())
	assertMatrixEqual(t, inv.a, h, 1e-9)
}

func TestComputeFailedInvocationAbortsBatch(t *testing.T) {
	d, opts := newTestDriver(t, waterXYZ)
	inv := &linearInvoker{a: testForceMatrix(9), fail: map[int]bool{5: true}}
	opts.Method = "double"
	opts.Invoker = inv

	h, err := d.Compute(context.Background(), opts)
	assert.Nil(t, h, "no partial Hessian after a failed batch")
	assert.ErrorIs(t, err, qcprog.ErrExecution)
	assert.Equal(t, Failed, d.State())
	// Siblings were not cancelled.
	assert.Equal(t, 18, inv.calls())
}

func TestComputeRejectsBadInput(t *testing.T) {
	d, opts := newTestDriver(t, waterXYZ)
	inv := &linearInvoker{a: testForceMatrix(9)}

	bad := opts
	bad.Method = "triple"
	bad.Invoker = inv
	_, err := d.Compute(context.Background(), bad)
	assert.ErrorIs(t, err, ErrOptions)
	assert.Equal(t, Failed, d.State())

	bad = opts
	bad.Method = "double"
	bad.Invoker = inv
	bad.Delta = 0
	_, err = d.Compute(context.Background(), bad)
	assert.ErrorIs(t, err, ErrOptions)

	bad = opts
	bad.Method = "double"
	bad.Invoker = inv
	bad.Template = filepath.Join(t.TempDir(), "missing.inp")
	_, err = d.Compute(context.Background(), bad)
	assert.ErrorIs(t, err, ErrOptions)

	bad = opts
	bad.Method = "double"
	bad.Invoker = nil
	_, err = d.Compute(context.Background(), bad)
	assert.ErrorIs(t, err, ErrOptions)
}

func TestComputeBudgetErrorsSurface(t *testing.T) {
	d, opts := newTestDriver(t, waterXYZ)
	inv := &linearInvoker{a: testForceMatrix(9)}
	opts.Method = "double"
	opts.Invoker = inv

	noCores := opts
	noCores.discover = func() int { return 0 }
	noCores.Budget = dispatch.Budget{CoresPerInvocation: 4}
	_, err := d.Compute(context.Background(), noCores)
	assert.ErrorIs(t, err, dispatch.ErrResourceDiscovery)

	tooGreedy := opts
	tooGreedy.Budget = dispatch.Budget{CoresPerInvocation: 16}
	_, err = d.Compute(context.Background(), tooGreedy)
	assert.ErrorIs(t, err, dispatch.ErrBudget)
}
