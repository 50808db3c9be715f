// Package geom owns the validated molecular geometry: XYZ parsing and
// writing, unit conversion, element data, and the geometric quantities
// (inertia, invariance vectors, effective distances) the Hessian driver needs.
package geom

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ilcpm/numhess/internal/textenc"
)

var (
	// ErrParse reports a malformed XYZ file: wrong atom count, more than
	// one molecule block, or an unknown element label.
	ErrParse = errors.New("xyz parse error")

	// ErrInvalidUnit reports a unit string outside {angstrom, bohr}.
	ErrInvalidUnit = errors.New("invalid unit")
)

// Unit names accepted by Load, case-insensitively.
const (
	UnitAngstrom = "angstrom"
	UnitBohr     = "bohr"
)

// Molecule is an immutable molecular geometry. Coordinates are stored
// canonically in bohr; both unit views return fresh slices.
type Molecule struct {
	path    string
	symbols []string
	numbers []int
	bohr    []float64 // 3N, row-major per atom
}

// Load reads a single-molecule XYZ file:
//
//	<number of atoms>
//	<comment (may be empty)>
//	<symbol> <x> <y> <z>
//	...
//
// unit defaults to angstrom and is case-insensitive; encoding defaults to
// UTF-8. The file must contain exactly one molecule block.
func Load(path, unit, encoding string) (*Molecule, error) {
	inBohr, err := parseUnit(unit)
	if err != nil {
		return nil, err
	}

	abs, err := absPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrParse, abs, err)
	}
	text, err := textenc.Decode(data, encoding)
	if err != nil {
		return nil, err
	}

	// Keep the first two lines verbatim (the comment line may be empty),
	// drop blank lines after them.
	var lines []string
	for i, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if i < 2 || trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: %s: file too short", ErrParse, abs)
	}

	nAtoms, err := strconv.Atoi(lines[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: first line must contain the number of atoms", ErrParse, abs)
	}
	if nAtoms < 1 {
		return nil, fmt.Errorf("%w: %s: atom count must be at least 1, got %d", ErrParse, abs, nAtoms)
	}
	if len(lines) != nAtoms+2 {
		return nil, fmt.Errorf("%w: %s: line count does not match atom count; file is malformed or contains more than one molecule", ErrParse, abs)
	}

	m := &Molecule{
		path:    abs,
		symbols: make([]string, 0, nAtoms),
		numbers: make([]int, 0, nAtoms),
		bohr:    make([]float64, 0, 3*nAtoms),
	}
	for _, line := range lines[2:] {
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, fmt.Errorf("%w: %s: bad atom line %q", ErrParse, abs, line)
		}
		z, err := AtomicNumber(fields[0])
		if err != nil {
			return nil, err
		}
		m.symbols = append(m.symbols, fields[0])
		m.numbers = append(m.numbers, z)
		for _, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: bad coordinate %q", ErrParse, abs, f)
			}
			if !inBohr {
				v *= AngstromToBohr
			}
			m.bohr = append(m.bohr, v)
		}
	}
	return m, nil
}

// NumAtoms returns the number of atoms.
func (m *Molecule) NumAtoms() int { return len(m.symbols) }

// Path returns the absolute path of the source XYZ file.
func (m *Molecule) Path() string { return m.path }

// FileName returns the base name of the source XYZ file.
func (m *Molecule) FileName() string { return filepath.Base(m.path) }

// Symbols returns a copy of the element labels in file order.
func (m *Molecule) Symbols() []string {
	out := make([]string, len(m.symbols))
	copy(out, m.symbols)
	return out
}

// AtomicNumbers returns a copy of the atomic numbers in file order.
func (m *Molecule) AtomicNumbers() []int {
	out := make([]int, len(m.numbers))
	copy(out, m.numbers)
	return out
}

// Bohr returns the coordinates in bohr as a fresh 3N slice.
func (m *Molecule) Bohr() []float64 {
	out := make([]float64, len(m.bohr))
	copy(out, m.bohr)
	return out
}

// Angstrom returns the coordinates in angstrom as a fresh 3N slice.
func (m *Molecule) Angstrom() []float64 {
	out := make([]float64, len(m.bohr))
	for i, v := range m.bohr {
		out[i] = v * BohrToAngstrom
	}
	return out
}

// WriteXYZ writes coords (3N, bohr) for the molecule's atoms to path. When
// inBohr is false the coordinates are converted to angstrom first. The format
// matches what BDF and ORCA consume.
func (m *Molecule) WriteXYZ(path string, coords []float64, inBohr bool, comment, encoding string) error {
	if len(coords) != len(m.bohr) {
		return fmt.Errorf("%w: coordinate length %d does not match molecule size %d", ErrParse, len(coords), len(m.bohr))
	}
	scale := 1.0
	if !inBohr {
		scale = BohrToAngstrom
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d\n%s\n", m.NumAtoms(), strings.TrimSpace(comment))
	for i, sym := range m.symbols {
		fmt.Fprintf(&b, "%-3s%26.13f%26.13f%26.13f\n",
			sym, coords[3*i]*scale, coords[3*i+1]*scale, coords[3*i+2]*scale)
	}
	data, err := textenc.Encode(b.String(), encoding)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func parseUnit(unit string) (inBohr bool, err error) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "", UnitAngstrom:
		return false, nil
	case UnitBohr:
		return true, nil
	default:
		return false, fmt.Errorf("%w: unit must be %q or %q (case insensitive), got %q",
			ErrInvalidUnit, UnitAngstrom, UnitBohr, unit)
	}
}

// absPath expands a leading ~ and makes path absolute.
func absPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}
