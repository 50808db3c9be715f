// Package swart builds a modified Swart model Hessian, used as the starting
// guess for the surrogate-based Hessian reconstruction.
//
// Reference: Swart, Bickelhaupt, IJQC, 2006, 106, 2536. Compared to the
// published model we treat all pairs of atoms as bonds, add linear angles,
// and do not penalize near-linear bonds. Some extremely loose, linear
// molecules might prove problematic, and the frequencies of loose modes tend
// to be overestimated.
package swart

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ilcpm/numhess/internal/geom"
)

// ModelHessian returns the 3N x 3N model Hessian for coords (bohr) and the
// given atomic numbers.
func ModelHessian(coords []float64, atomicNums []int) *mat.SymDense {
	n := len(atomicNums)

	covrad := make([]float64, n)
	for i, z := range atomicNums {
		covrad[i] = geom.CovalentRadius(z)
	}

	distance := make([][]float64, n)
	screen := make([][]float64, n)
	for i := range distance {
		distance[i] = make([]float64, n)
		screen[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := geom.Bond(coords, i, j)
			distance[i][j], distance[j][i] = d, d
			s := math.Exp(1.0 - d/(covrad[i]+covrad[j]))
			screen[i][j], screen[j][i] = s, s
		}
	}

	h := mat.NewSymDense(3*n, nil)

	// Bonds: every pair contributes, no matter how long.
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			k := 0.35 * math.Pow(screen[i][j], 3)
			b := bondB(coords, i, j)
			idx := []int{3 * i, 3*i + 1, 3*i + 2, 3 * j, 3*j + 1, 3*j + 2}
			addOuter(h, idx, b, k)
		}
	}

	// Angles, with regularization for linear and near-zero angles.
	const (
		wthr  = 0.3
		f     = 0.12
		tolth = 0.2
	)
	eps1 := wthr * wthr
	eps2 := wthr * wthr / math.E

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j || screen[i][j] < eps2 {
				continue
			}
			for k := i + 1; k < n; k++ {
				if k == j {
					continue
				}
				s := screen[i][j] * screen[j][k]
				if s < eps1 {
					continue
				}

				costh := geom.CosAngle(coords, i, j, k)
				sinth := math.Sqrt(math.Max(0.0, 1.0-costh*costh))
				// 0.075 works better here than the published 0.15.
				kint := 0.075 * s * s * math.Pow(f+(1-f)*sinth, 2)
				b := angleB(coords, i, j, k)

				th1 := 1.0 + costh
				if costh > 1-tolth {
					th1 = 1.0 - costh
				}

				idx := []int{
					3 * i, 3*i + 1, 3*i + 2,
					3 * j, 3*j + 1, 3*j + 2,
					3 * k, 3*k + 1, 3*k + 2,
				}

				if th1 < tolth {
					// i-j-k close to 180 or 0 degrees.
					scale := math.Pow(1.0-math.Pow(th1/tolth, 2), 2)
					if costh > 1-tolth {
						// Near-linear: blend in the linear-angle coordinate
						// and add its out-of-plane partner.
						blin := linearAngleB(coords, i, j, k)
						for c := range b {
							b[c] = scale*blin[0][c] + (1.0-scale)*b[c]
						}
						addOuter(h, idx, blin[1], kint)
					} else {
						for c := range b {
							b[c] = (1.0 - scale) * b[c]
						}
					}
				}
				addOuter(h, idx, b, kint)
			}
		}
	}

	// Dihedral and inversion terms are omitted; the Hessian is already good
	// enough without them.
	return h
}

// bondB is the Wilson B matrix row for a bond stretch between atoms i and j:
// six components, derivatives of the bond length.
func bondB(coords []float64, i, j int) []float64 {
	b := make([]float64, 6)
	var l float64
	for k := 0; k < 3; k++ {
		b[k] = coords[3*i+k] - coords[3*j+k]
		l += b[k] * b[k]
	}
	l = math.Sqrt(l)
	for k := 0; k < 3; k++ {
		b[k] /= l
		b[k+3] = -b[k]
	}
	return b
}

// angleB is the Wilson B matrix row for a nonlinear i-j-k angle bend: nine
// components. Linear angles are regularized rather than rejected.
func angleB(coords []float64, i, j, k int) []float64 {
	var vec1, vec2 [3]float64
	for c := 0; c < 3; c++ {
		vec1[c] = coords[3*i+c] - coords[3*j+c]
		vec2[c] = coords[3*k+c] - coords[3*j+c]
	}
	l1 := math.Sqrt(vec1[0]*vec1[0] + vec1[1]*vec1[1] + vec1[2]*vec1[2])
	l2 := math.Sqrt(vec2[0]*vec2[0] + vec2[1]*vec2[1] + vec2[2]*vec2[2])
	var nvec1, nvec2 [3]float64
	for c := 0; c < 3; c++ {
		nvec1[c] = vec1[c] / l1
		nvec2[c] = vec2[c] / l2
	}

	// dl[a][b] = d l_a / d b over the six coordinates of atoms i and k.
	var dl [2][6]float64
	for c := 0; c < 3; c++ {
		dl[0][c] = nvec1[c]
		dl[0][c+3] = -nvec1[c]
		dl[1][c] = nvec2[c]
		dl[1][c+3] = -nvec2[c]
	}
	// dnvec[a][b][c] = d nvec_a(b) / d c.
	var dnvec [2][3][6]float64
	for b := 0; b < 6; b++ {
		for c := 0; c < 3; c++ {
			dnvec[0][c][b] = -nvec1[c] * dl[0][b] / l1
			dnvec[1][c][b] = -nvec2[c] * dl[1][b] / l2
		}
	}
	for c := 0; c < 3; c++ {
		dnvec[0][c][c] += 1.0 / l1
		dnvec[1][c][c] += 1.0 / l2
		dnvec[0][c][c+3] -= 1.0 / l1
		dnvec[1][c][c+3] -= 1.0 / l2
	}

	dinprod := make([]float64, 9)
	for c := 0; c < 3; c++ {
		dinprod[c] = dot3(dnvec[0][0][c], dnvec[0][1][c], dnvec[0][2][c], nvec2)
		dinprod[c+3] = dot3(dnvec[0][0][c+3], dnvec[0][1][c+3], dnvec[0][2][c+3], nvec2) +
			dot3(dnvec[1][0][c+3], dnvec[1][1][c+3], dnvec[1][2][c+3], nvec1)
		dinprod[c+6] = dot3(dnvec[1][0][c], dnvec[1][1][c], dnvec[1][2][c], nvec1)
	}

	inprod := nvec1[0]*nvec2[0] + nvec1[1]*nvec2[1] + nvec1[2]*nvec2[2]
	denom := math.Sqrt(math.Max(1e-15, 1.0-inprod*inprod))
	b := make([]float64, 9)
	for c := range b {
		b[c] = -dinprod[c] / denom
	}
	return b
}

// linearAngleB is the Wilson B matrix for a linear i-j-k angle: two rows of
// nine components. Row 0 is the angle-bending mode; row 1 is the
// out-of-plane, rotational-invariance-violating mode.
func linearAngleB(coords []float64, i, j, k int) [2][]float64 {
	var vec1, vec2 [3]float64
	for c := 0; c < 3; c++ {
		vec1[c] = coords[3*i+c] - coords[3*j+c]
		vec2[c] = coords[3*k+c] - coords[3*j+c]
	}
	l1 := math.Sqrt(vec1[0]*vec1[0] + vec1[1]*vec1[1] + vec1[2]*vec1[2])
	l2 := math.Sqrt(vec2[0]*vec2[0] + vec2[1]*vec2[1] + vec2[2]*vec2[2])

	// vn: a unit vector perpendicular to both bonds.
	vn := crossV(vec1, vec2)
	nvn := normV(vn)
	if nvn < 1e-15 {
		// Bonds are collinear; project a trial axis out of the bond.
		vn = projectOut([3]float64{1, 0, 0}, vec1, l1)
		nvn = normV(vn)
		if nvn < 1e-15 {
			vn = projectOut([3]float64{0, 1, 0}, vec1, l1)
			nvn = normV(vn)
		}
	}
	for c := 0; c < 3; c++ {
		vn[c] /= nvn
	}
	var diff [3]float64
	for c := 0; c < 3; c++ {
		diff[c] = vec1[c] - vec2[c]
	}
	vn2 := crossV(diff, vn)
	nvn2 := normV(vn2)
	for c := 0; c < 3; c++ {
		vn2[c] /= nvn2
	}

	var b [2][]float64
	b[0] = make([]float64, 9)
	b[1] = make([]float64, 9)
	for c := 0; c < 3; c++ {
		b[1][c] = vn[c] / l1
		b[1][c+6] = vn[c] / l2
		b[1][c+3] = -b[1][c] - b[1][c+6]
		b[0][c] = vn2[c] / l1
		b[0][c+6] = vn2[c] / l2
		b[0][c+3] = -b[0][c] - b[0][c+6]
	}
	return b
}

// addOuter accumulates scale * outer(b, b) into h at the given index set.
func addOuter(h *mat.SymDense, idx []int, b []float64, scale float64) {
	for a := range idx {
		for c := a; c < len(idx); c++ {
			ra, rc := idx[a], idx[c]
			if ra > rc {
				ra, rc = rc, ra
			}
			h.SetSym(ra, rc, h.At(ra, rc)+scale*b[a]*b[c])
		}
	}
}

func dot3(x, y, z float64, v [3]float64) float64 {
	return x*v[0] + y*v[1] + z*v[2]
}

func crossV(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normV(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func projectOut(trial, bond [3]float64, l float64) [3]float64 {
	dot := trial[0]*bond[0] + trial[1]*bond[1] + trial[2]*bond[2]
	var out [3]float64
	for c := 0; c < 3; c++ {
		out[c] = trial[c] - dot/(l*l)*bond[c]
	}
	return out
}
