package geom

import (
	"fmt"
	"strings"
)

// Unit conversion constants. Coordinates are stored in bohr; angstrom views
// are derived.
const (
	BohrToAngstrom = 0.529177249
	AngstromToBohr = 1.0 / BohrToAngstrom
)

// periodicTable maps atomic number to element symbol; index 0 is a dummy so
// that atomic numbers can be used directly as indices.
var periodicTable = []string{"X", "H", "He", "Li", "Be", "B", "C", "N", "O",
	"F", "Ne", "Na", "Mg", "Al", "Si", "P", "S", "Cl", "Ar", "K", "Ca", "Sc", "Ti", "V", "Cr",
	"Mn", "Fe", "Co", "Ni", "Cu", "Zn", "Ga", "Ge", "As", "Se", "Br", "Kr", "Rb", "Sr", "Y",
	"Zr", "Nb", "Mo", "Tc", "Ru", "Rh", "Pd", "Ag", "Cd", "In", "Sn", "Sb", "Te", "I", "Xe",
	"Cs", "Ba", "La", "Ce", "Pr", "Nd", "Pm", "Sm", "Eu", "Gd", "Tb", "Dy", "Ho", "Er", "Tm",
	"Yb", "Lu", "Hf", "Ta", "W", "Re", "Os", "Ir", "Pt", "Au", "Hg", "Tl", "Pb", "Bi", "Po",
	"At", "Rn", "Fr", "Ra", "Ac", "Th", "Pa", "U", "Np", "Pu", "Am", "Cm", "Bk", "Cf", "Es",
	"Fm", "Md", "No", "Lr"}

// covalentRadiiAngstrom holds Pyykko's covalent radii in angstrom, indexed by
// atomic number. The radius of oxygen is known to be somewhat low; we keep the
// published value.
var covalentRadiiAngstrom = []float64{0.0, 0.32, 0.46, 1.33, 1.02, 0.85, 0.75, 0.71, 0.63, 0.64, 0.67, 1.55, 1.39, 1.26,
	1.16, 1.11, 1.03, 0.99, 0.96, 1.96, 1.71, 1.48, 1.36, 1.34, 1.22, 1.19, 1.16, 1.1,
	1.11, 1.12, 1.18, 1.24, 1.21, 1.21, 1.16, 1.14, 1.17, 2.1, 1.85, 1.63, 1.54, 1.47, 1.38,
	1.28, 1.25, 1.25, 1.2, 1.28, 1.36, 1.42, 1.4, 1.4, 1.36, 1.33, 1.31, 2.32, 1.96, 1.8,
	1.63, 1.76, 1.74, 1.73, 1.72, 1.68, 1.69, 1.68, 1.67, 1.66, 1.65, 1.64, 1.7, 1.62,
	1.52, 1.46, 1.37, 1.31, 1.29, 1.22, 1.23, 1.24, 1.33, 1.44, 1.44, 1.51, 1.45, 1.47,
	1.42, 2.23, 2.01, 1.86, 1.75, 1.69, 1.7, 1.71, 1.72, 1.66, 1.66, 1.68, 1.68, 1.65,
	1.67, 1.73, 1.76, 1.61}

// vdwRadiiAngstrom holds UFF van der Waals radii in angstrom, indexed by
// atomic number. For the effective distance matrix they are halved; for large
// conjugated systems halving only hydrogen further can help, but we keep a
// uniform treatment.
var vdwRadiiAngstrom = []float64{0.0, 2.886, 2.362, 2.451, 2.745, 4.083, 3.851, 3.66, 3.5, 3.364, 3.243, 2.983,
	3.021, 4.499, 4.295, 4.147, 4.035, 3.947, 3.868, 3.812, 3.399, 3.295, 3.175, 3.144,
	3.023, 2.961, 2.912, 2.872, 2.834, 3.495, 2.763, 4.383, 4.28, 4.23, 4.205, 4.189,
	4.141, 4.114, 3.641, 3.345, 3.124, 3.165, 3.052, 2.998, 2.963, 2.929, 2.899, 3.148,
	2.848, 4.463, 4.392, 4.42, 4.47, 4.5, 4.404, 4.517, 3.703, 3.522, 3.556, 3.606,
	3.575, 3.547, 3.52, 3.493, 3.368, 3.451, 3.428, 3.409, 3.391, 3.374, 3.355, 3.64,
	3.141, 3.17, 3.069, 2.954, 3.12, 2.84, 2.754, 3.293, 2.705, 4.347, 4.297, 4.37,
	4.709, 4.75, 4.765, 4.9, 3.677, 3.478, 3.396, 3.424, 3.395, 3.424, 3.424, 3.381,
	3.326, 3.339, 3.313, 3.299, 3.286, 3.274, 3.248, 3.236}

// CovalentRadius returns Pyykko's covalent radius in bohr for atomic number z.
func CovalentRadius(z int) float64 {
	return covalentRadiiAngstrom[z] * AngstromToBohr
}

// VdwRadius returns the halved UFF van der Waals radius in bohr for atomic
// number z, as used by the effective distance matrix.
func VdwRadius(z int) float64 {
	return vdwRadiiAngstrom[z] / 2.0 * AngstromToBohr
}

// AtomicNumber resolves an element symbol, case-insensitively, to its atomic
// number.
func AtomicNumber(symbol string) (int, error) {
	normalized := normalizeSymbol(symbol)
	for z, s := range periodicTable {
		if z == 0 {
			continue
		}
		if s == normalized {
			return z, nil
		}
	}
	return 0, fmt.Errorf("%w: unsupported element %q", ErrParse, symbol)
}

// Symbol returns the element symbol for atomic number z.
func Symbol(z int) string {
	return periodicTable[z]
}

func normalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
