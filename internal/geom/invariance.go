package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// linearThreshold is the cutoff on the smallest moment of inertia below which
// a molecule is treated as linear.
const linearThreshold = 1e-4

// Bond returns the distance between atoms a and b in bohr.
func Bond(coords []float64, a, b int) float64 {
	dx := coords[3*a] - coords[3*b]
	dy := coords[3*a+1] - coords[3*b+1]
	dz := coords[3*a+2] - coords[3*b+2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// CosAngle returns the cosine of the a-b-c angle.
func CosAngle(coords []float64, a, b, c int) float64 {
	var ba, bc [3]float64
	for k := 0; k < 3; k++ {
		ba[k] = coords[3*a+k] - coords[3*b+k]
		bc[k] = coords[3*c+k] - coords[3*b+k]
	}
	dot := ba[0]*bc[0] + ba[1]*bc[1] + ba[2]*bc[2]
	return dot / norm3(ba) / norm3(bc)
}

// Inertia computes the moments of inertia (ascending), the corresponding
// axes (columns) and the barycenter, with all atomic masses taken as 1.
func Inertia(coords []float64) (moments [3]float64, axes *mat.Dense, barycenter [3]float64, err error) {
	n := len(coords) / 3
	for i := 0; i < n; i++ {
		for k := 0; k < 3; k++ {
			barycenter[k] += coords[3*i+k]
		}
	}
	for k := 0; k < 3; k++ {
		barycenter[k] /= float64(n)
	}

	var trace float64
	for i := 0; i < n; i++ {
		for k := 0; k < 3; k++ {
			d := coords[3*i+k] - barycenter[k]
			trace += d * d
		}
	}
	tensor := mat.NewSymDense(3, nil)
	for a := 0; a < 3; a++ {
		for b := a; b < 3; b++ {
			v := 0.0
			if a == b {
				v = trace
			}
			for i := 0; i < n; i++ {
				v -= (coords[3*i+a] - barycenter[a]) * (coords[3*i+b] - barycenter[b])
			}
			tensor.SetSym(a, b, v)
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(tensor, true) {
		return moments, nil, barycenter, fmt.Errorf("inertia tensor eigendecomposition failed")
	}
	vals := eig.Values(nil)
	copy(moments[:], vals)
	axes = mat.NewDense(3, 3, nil)
	eig.VectorsTo(axes)
	return moments, axes, barycenter, nil
}

// IsLinear reports whether the molecule is linear, judged by the smallest
// moment of inertia.
func IsLinear(coords []float64) (bool, error) {
	moments, _, _, err := Inertia(coords)
	if err != nil {
		return false, err
	}
	return moments[0] < linearThreshold, nil
}

// TransRot returns the normalized projection vectors for the translational
// and rotational degrees of freedom as the first ntr columns of a 3N x 6
// matrix, plus ntr itself (5 for linear molecules, 6 otherwise). Masses are
// treated as equal, so the rotational columns differ from the rotational
// normal modes of a vibrational analysis.
func TransRot(coords []float64) (*mat.Dense, int, error) {
	n := len(coords) / 3
	moments, axes, barycenter, err := Inertia(coords)
	if err != nil {
		return nil, 0, err
	}

	p := mat.NewDense(3*n, 6, nil)
	inv := 1.0 / math.Sqrt(float64(n))
	for i := 0; i < n; i++ {
		p.Set(3*i, 0, inv)
		p.Set(3*i+1, 1, inv)
		p.Set(3*i+2, 2, inv)
	}

	ntr := 3
	for j := 0; j < 3; j++ {
		if moments[j] < linearThreshold {
			continue
		}
		axis := [3]float64{axes.At(0, j), axes.At(1, j), axes.At(2, j)}
		for i := 0; i < n; i++ {
			rel := [3]float64{
				coords[3*i] - barycenter[0],
				coords[3*i+1] - barycenter[1],
				coords[3*i+2] - barycenter[2],
			}
			c := cross(axis, rel)
			p.Set(3*i, ntr, c[0])
			p.Set(3*i+1, ntr, c[1])
			p.Set(3*i+2, ntr, c[2])
		}
		col := mat.Col(nil, ntr, p)
		nrm := mat.Norm(mat.NewVecDense(len(col), col), 2)
		for r := 0; r < 3*n; r++ {
			p.Set(r, ntr, p.At(r, ntr)/nrm)
		}
		ntr++
	}
	return p, ntr, nil
}

// SymmetricBreathing returns the normalized mode along which the molecule
// changes size without changing shape.
func SymmetricBreathing(coords []float64) ([]float64, error) {
	n := len(coords) / 3
	_, _, barycenter, err := Inertia(coords)
	if err != nil {
		return nil, err
	}
	p := make([]float64, 3*n)
	var nrm float64
	for i := 0; i < n; i++ {
		for k := 0; k < 3; k++ {
			p[3*i+k] = coords[3*i+k] - barycenter[k]
			nrm += p[3*i+k] * p[3*i+k]
		}
	}
	nrm = math.Sqrt(nrm)
	for i := range p {
		p[i] /= nrm
	}
	return p, nil
}

// RotationGradient returns the first-order change of the gradient under an
// infinitesimal rotation about each rotational axis, divided by the step
// length: a 3N x nrot matrix. Away from an equilibrium geometry these columns
// are nonzero and must be supplied to the reconstructor. nrot must be 2
// (linear molecule) or 3, and the molecule must have at least two atoms.
func RotationGradient(coords, g0 []float64, nrot int) (*mat.Dense, error) {
	if nrot != 2 && nrot != 3 {
		return nil, fmt.Errorf("rotation gradient: nrot must be 2 or 3, got %d", nrot)
	}
	n := len(coords) / 3
	_, axes, barycenter, err := Inertia(coords)
	if err != nil {
		return nil, err
	}

	// For a linear molecule drop the axis with the smallest moment; the
	// moments are sorted ascending, so that is column 0.
	axisCols := []int{0, 1, 2}
	if nrot == 2 {
		axisCols = []int{1, 2}
	}

	g := mat.NewDense(3*n, nrot, nil)
	for jc, j := range axisCols {
		axis := [3]float64{axes.At(0, j), axes.At(1, j), axes.At(2, j)}
		var nrm float64
		for i := 0; i < n; i++ {
			rel := [3]float64{
				coords[3*i] - barycenter[0],
				coords[3*i+1] - barycenter[1],
				coords[3*i+2] - barycenter[2],
			}
			c := cross(axis, rel)
			nrm += c[0]*c[0] + c[1]*c[1] + c[2]*c[2]
		}
		nrm = math.Sqrt(nrm)
		for i := 0; i < n; i++ {
			gi := [3]float64{g0[3*i], g0[3*i+1], g0[3*i+2]}
			c := cross(axis, gi)
			g.Set(3*i, jc, c[0]/nrm)
			g.Set(3*i+1, jc, c[1]/nrm)
			g.Set(3*i+2, jc, c[2]/nrm)
		}
	}
	return g, nil
}

// EffectiveDistances returns the 3N x 3N effective distance matrix: the
// block distmat[3i:3i+3, 3j:3j+3] holds the distance between atoms i and j
// minus the sum of their van der Waals radii.
func EffectiveDistances(m *Molecule) *mat.SymDense {
	n := m.NumAtoms()
	coords := m.Bohr()
	nums := m.AtomicNumbers()
	dist := mat.NewSymDense(3*n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			r := Bond(coords, i, j) - VdwRadius(nums[i]) - VdwRadius(nums[j])
			for a := 0; a < 3; a++ {
				for b := 0; b < 3; b++ {
					if 3*i+a <= 3*j+b {
						dist.SetSym(3*i+a, 3*j+b, r)
					}
				}
			}
		}
	}
	return dist
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func norm3(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}
