package geom

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// bent three-atom geometry in bohr
var bentCoords = []float64{
	0.0, 0.0, 0.2217,
	0.0, 1.4309, -0.8867,
	0.0, -1.4309, -0.8867,
}

// collinear three-atom geometry in bohr
var linearCoords = []float64{
	0.0, 0.0, 0.0,
	0.0, 0.0, 2.2,
	0.0, 0.0, 4.4,
}

func TestIsLinear(t *testing.T) {
	linear, err := IsLinear(linearCoords)
	if err != nil {
		t.Fatalf("IsLinear() error = %v", err)
	}
	if !linear {
		t.Fatal("collinear geometry reported as nonlinear")
	}

	linear, err = IsLinear(bentCoords)
	if err != nil {
		t.Fatalf("IsLinear() error = %v", err)
	}
	if linear {
		t.Fatal("bent geometry reported as linear")
	}
}

func TestTransRotNonlinearGivesSixDirections(t *testing.T) {
	p, ntr, err := TransRot(bentCoords)
	if err != nil {
		t.Fatalf("TransRot() error = %v", err)
	}
	if ntr != 6 {
		t.Fatalf("ntr = %d, want 6", ntr)
	}

	rows, cols := p.Dims()
	if rows != 9 || cols != 6 {
		t.Fatalf("dims = %dx%d, want 9x6", rows, cols)
	}

	// Every direction is normalized.
	for j := 0; j < ntr; j++ {
		col := mat.Col(nil, j, p)
		nrm := mat.Norm(mat.NewVecDense(len(col), col), 2)
		if math.Abs(nrm-1.0) > 1e-10 {
			t.Fatalf("column %d norm = %v, want 1", j, nrm)
		}
	}

	// Rotations about barycentric axes are orthogonal to translations.
	for jt := 0; jt < 3; jt++ {
		for jr := 3; jr < ntr; jr++ {
			dot := 0.0
			for i := 0; i < rows; i++ {
				dot += p.At(i, jt) * p.At(i, jr)
			}
			if math.Abs(dot) > 1e-10 {
				t.Fatalf("translation %d not orthogonal to rotation %d: %v", jt, jr, dot)
			}
		}
	}
}

func TestTransRotLinearGivesFiveDirections(t *testing.T) {
	_, ntr, err := TransRot(linearCoords)
	if err != nil {
		t.Fatalf("TransRot() error = %v", err)
	}
	if ntr != 5 {
		t.Fatalf("ntr = %d, want 5 for a linear molecule", ntr)
	}
}

func TestSymmetricBreathingIsNormalizedAndRadial(t *testing.T) {
	p, err := SymmetricBreathing(bentCoords)
	if err != nil {
		t.Fatalf("SymmetricBreathing() error = %v", err)
	}

	var nrm float64
	for _, v := range p {
		nrm += v * v
	}
	if math.Abs(math.Sqrt(nrm)-1.0) > 1e-10 {
		t.Fatalf("norm = %v, want 1", math.Sqrt(nrm))
	}

	// Each atom moves away from the barycenter: displacement parallel to
	// its barycentric position.
	var bc [3]float64
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			bc[k] += bentCoords[3*i+k] / 3.0
		}
	}
	for i := 0; i < 3; i++ {
		var crossNorm float64
		rel := [3]float64{
			bentCoords[3*i] - bc[0],
			bentCoords[3*i+1] - bc[1],
			bentCoords[3*i+2] - bc[2],
		}
		d := [3]float64{p[3*i], p[3*i+1], p[3*i+2]}
		c := cross(rel, d)
		crossNorm = norm3(c)
		if crossNorm > 1e-10 {
			t.Fatalf("atom %d displacement not radial, cross norm = %v", i, crossNorm)
		}
	}
}

func TestRotationGradientRejectsBadAxisCount(t *testing.T) {
	g0 := make([]float64, 9)
	if _, err := RotationGradient(bentCoords, g0, 1); err == nil {
		t.Fatal("RotationGradient(nrot=1) should fail")
	}
	if _, err := RotationGradient(bentCoords, g0, 4); err == nil {
		t.Fatal("RotationGradient(nrot=4) should fail")
	}
}

func TestRotationGradientZeroForZeroGradient(t *testing.T) {
	g0 := make([]float64, 9)
	g, err := RotationGradient(bentCoords, g0, 3)
	if err != nil {
		t.Fatalf("RotationGradient() error = %v", err)
	}
	rows, cols := g.Dims()
	if rows != 9 || cols != 3 {
		t.Fatalf("dims = %dx%d, want 9x3", rows, cols)
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if g.At(i, j) != 0 {
				t.Fatalf("g[%d][%d] = %v, want 0 at equilibrium", i, j, g.At(i, j))
			}
		}
	}
}

func TestEffectiveDistancesBlocks(t *testing.T) {
	path := writeXYZFile(t, "water.xyz", waterXYZ)
	mol, err := Load(path, "", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	dist := EffectiveDistances(mol)
	n3 := 3 * mol.NumAtoms()
	if dist.SymmetricDim() != n3 {
		t.Fatalf("dim = %d, want %d", dist.SymmetricDim(), n3)
	}

	nums := mol.AtomicNumbers()
	coords := mol.Bohr()

	// Diagonal blocks hold minus twice the vdW radius.
	for i := 0; i < mol.NumAtoms(); i++ {
		want := -2 * VdwRadius(nums[i])
		if got := dist.At(3*i, 3*i); math.Abs(got-want) > 1e-12 {
			t.Fatalf("diagonal block %d = %v, want %v", i, got, want)
		}
	}

	// Off-diagonal blocks are constant within the block.
	want := Bond(coords, 0, 1) - VdwRadius(nums[0]) - VdwRadius(nums[1])
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			if got := dist.At(a, 3+b); math.Abs(got-want) > 1e-12 {
				t.Fatalf("block(0,1)[%d][%d] = %v, want %v", a, b, got, want)
			}
		}
	}
}
