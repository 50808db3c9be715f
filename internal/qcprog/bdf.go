package qcprog

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ilcpm/numhess/internal/log"
)

// BDF invokes the BDF program. BDF reads a .inp file that references the
// coordinate file by name inside a Geometry block; cores and per-core memory
// are passed through OMP environment variables, and a private scratch
// directory through -tmpdir. Output artifacts land in the working directory.
type BDF struct{}

// Name implements Invoker.
func (BDF) Name() string { return "BDF" }

// OutputExt returns the gradient artifact extension.
func (BDF) OutputExt() string { return ".egrad1" }

// ReadOutput parses a gradient artifact outside the invocation flow, e.g.
// one left over from an earlier equilibrium run.
func (BDF) ReadOutput(path string, nAtoms int) (Gradient, error) {
	return ReadEgrad1(path, nAtoms)
}

// Invoke implements Invoker.
func (b BDF) Invoke(ctx context.Context, run *Run, req Request) (Gradient, error) {
	if err := run.checkRequest(req); err != nil {
		return Gradient{}, err
	}
	handle, err := run.begin(req)
	if err != nil {
		return Gradient{}, err
	}
	logger := log.WithProgram(b.Name()).With("task", handle.Prefix())

	text, err := run.readTemplate()
	if err != nil {
		return Gradient{}, err
	}
	lines := stripBDFComments(text)
	useBohr := bdfWantsBohr(lines)

	// Rewrite the coordinate-file reference before anything touches disk.
	xyzName := handle.File(".xyz")
	rewritten, err := rewriteBDFGeometry(lines, run.Mol.FileName(), xyzName)
	if err != nil {
		return Gradient{}, fmt.Errorf("%w (template %s)", err, run.Template)
	}

	scratch, err := handle.WithScratch(run.ScratchDir)
	if err != nil {
		return Gradient{}, err
	}
	defer func() {
		if err := scratch.Release(); err != nil {
			logger.Warn("scratch cleanup failed", "error", err)
		}
	}()

	workdir := run.workdir()
	inpPath := filepath.Join(workdir, handle.File(".inp"))
	xyzPath := filepath.Join(workdir, xyzName)
	shPath := filepath.Join(workdir, handle.File(".sh"))

	inpData, err := encodeText(strings.Join(rewritten, "\n")+"\n", run.Encoding)
	if err != nil {
		return Gradient{}, err
	}
	if err := writeFile(inpPath, inpData); err != nil {
		return Gradient{}, err
	}
	if err := run.Mol.WriteXYZ(xyzPath, req.Coords, useBohr, "", run.Encoding); err != nil {
		return Gradient{}, err
	}

	script := run.Config.Bash + fmt.Sprintf(`
export OMP_NUM_THREADS=%d
export OMP_STACKSIZE=%s

%s -tmpdir %s -r %s > %s
rm -rf .%s.wrk
`, req.Cores, run.MemPerCore, run.Config.Path, scratch.Dir, handle.File(".inp"), handle.File(".out"), handle.Prefix())
	if err := writeScript(shPath, script); err != nil {
		return Gradient{}, fmt.Errorf("%w: write launch script: %v", ErrExecution, err)
	}

	logger.Debug("launching gradient calculation", "cores", req.Cores, "mem", run.MemPerCore)
	if err := runScript(ctx, workdir, handle.File(".sh")); err != nil {
		return Gradient{}, err
	}

	grad, err := ReadEgrad1(filepath.Join(workdir, handle.File(".egrad1")), run.Mol.NumAtoms())
	if err != nil {
		return Gradient{}, err
	}
	grad.Index = req.Index
	logger.Debug("gradient done", "energy", grad.Energy)
	return grad, nil
}

// stripBDFComments drops '#' comments and lines left empty by them, keeping
// the remaining lines right-trimmed.
func stripBDFComments(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			head := line[:i]
			if strings.TrimSpace(head) == "" {
				continue
			}
			out = append(out, strings.TrimRight(head, " \t"))
			continue
		}
		out = append(out, strings.TrimRight(line, " \t\r"))
	}
	return out
}

// bdfWantsBohr reports whether the template declares bohr coordinates:
// either a "Unit" line followed by "Bohr", or a "unit=bohr" token.
func bdfWantsBohr(lines []string) bool {
	for i := 0; i < len(lines); i++ {
		if strings.Contains(strings.ToLower(lines[i]), "unit=bohr") {
			return true
		}
		if i+1 < len(lines) &&
			strings.EqualFold(strings.TrimSpace(lines[i]), "Unit") &&
			strings.EqualFold(strings.TrimSpace(lines[i+1]), "Bohr") {
			return true
		}
	}
	return false
}

// rewriteBDFGeometry replaces the coordinate-file reference. The template
// must contain, inside a Geometry / End geometry block, a line reading
// exactly "file=<origName>"; anything else is a template format error.
func rewriteBDFGeometry(lines []string, origName, newName string) ([]string, error) {
	out := make([]string, len(lines))
	copy(out, lines)
	found := false
	for i := 1; i+1 < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.EqualFold(strings.TrimSpace(lines[i-1]), "Geometry") &&
			strings.HasPrefix(strings.ToLower(trimmed), "file=") &&
			strings.EqualFold(strings.TrimSpace(lines[i+1]), "End geometry") &&
			trimmed[len("file="):] == origName {
			out[i] = strings.Replace(lines[i], origName, newName, 1)
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: no Geometry block with 'file=%s' (the reference must match the loaded coordinate file, with no spaces or slashes)",
			ErrTemplateFormat, origName)
	}
	return out, nil
}

// ReadEgrad1 parses a BDF .egrad1 artifact: the energy on the first line and
// one gradient row per atom after the header line.
func ReadEgrad1(path string, nAtoms int) (Gradient, error) {
	text, err := readFileText(path)
	if err != nil {
		return Gradient{}, fmt.Errorf("%w: %s not found; the calculation may have failed", ErrOutputParse, path)
	}
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	if len(lines) != nAtoms+2 {
		return Gradient{}, fmt.Errorf("%w: %s has %d rows, want %d atoms", ErrOutputParse, path, len(lines), nAtoms)
	}

	fields := strings.Fields(lines[0])
	energy, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return Gradient{}, fmt.Errorf("%w: %s: bad energy line %q", ErrOutputParse, path, lines[0])
	}

	grad := make([]float64, 0, 3*nAtoms)
	for _, line := range lines[2:] {
		cols := strings.Fields(line)
		if len(cols) != 4 {
			return Gradient{}, fmt.Errorf("%w: %s: bad gradient line %q", ErrOutputParse, path, line)
		}
		for _, c := range cols[1:] {
			v, err := strconv.ParseFloat(c, 64)
			if err != nil {
				return Gradient{}, fmt.Errorf("%w: %s: bad gradient value %q", ErrOutputParse, path, c)
			}
			grad = append(grad, v)
		}
	}
	return Gradient{Energy: energy, Grad: grad}, nil
}
