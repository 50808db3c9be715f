package qcprog

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ilcpm/numhess/internal/log"
)

// ORCA invokes the ORCA program. ORCA's core count lives inside the template
// (a PAL keyword or %pal block) and is substituted with the value assigned by
// the dispatcher. ORCA writes its scratch files next to the input, so the
// staging protocol copies all per-invocation inputs (including any orbital
// .gbw files referenced by the template) into the scratch directory, executes
// there, and copies the results back to the working directory.
type ORCA struct{}

var (
	orcaPALPattern    = regexp.MustCompile(`(?im)(^\s*!.*?PAL)(\d+)`)
	orcaNprocsPattern = regexp.MustCompile(`(?im)(^\s*%\s*pal\s*nprocs\s*)(\d+)`)
	orcaEngradPattern = regexp.MustCompile(`(?im)^\s*!.*?EnGrad`)
	orcaBohrPattern   = regexp.MustCompile(`(?im)^\s*!.*?Bohrs`)
	orcaXYZPattern    = regexp.MustCompile(`(?im)(^\s*\*\s*xyzfile\s+\d+\s+\d+\s+)(\S+\.xyz)`)
	orcaBlockComment  = regexp.MustCompile(`#.*?#`)
	orcaLineComment   = regexp.MustCompile(`(?m)#.*?$`)
	orcaGbwPattern    = regexp.MustCompile(`(?im)"(.*?\.gbw)"`)
	orcaMoinpPattern  = regexp.MustCompile(`(?im)^\s*%moinp\s*"(.*?)"`)
)

// Name implements Invoker.
func (ORCA) Name() string { return "ORCA" }

// OutputExt returns the gradient artifact extension.
func (ORCA) OutputExt() string { return ".engrad" }

// ReadOutput parses a gradient artifact outside the invocation flow, e.g.
// one left over from an earlier equilibrium run.
func (ORCA) ReadOutput(path string, nAtoms int) (Gradient, error) {
	return ReadEngrad(path, nAtoms)
}

// TemplateCores extracts the core count declared in the template. The
// per-invocation value is assigned by the dispatcher, but the declared value
// seeds the resource budget.
func (ORCA) TemplateCores(run *Run) (int, error) {
	text, err := run.readTemplate()
	if err != nil {
		return 0, err
	}
	if m := orcaPALPattern.FindStringSubmatch(text); m != nil {
		return strconv.Atoi(m[2])
	}
	if m := orcaNprocsPattern.FindStringSubmatch(text); m != nil {
		return strconv.Atoi(m[2])
	}
	return 0, fmt.Errorf("%w: template %s has no 'PAL' or '%%pal nprocs' marker", ErrTemplateFormat, run.Template)
}

// Invoke implements Invoker.
func (o ORCA) Invoke(ctx context.Context, run *Run, req Request) (Gradient, error) {
	if err := run.checkRequest(req); err != nil {
		return Gradient{}, err
	}
	handle, err := run.begin(req)
	if err != nil {
		return Gradient{}, err
	}
	logger := log.WithProgram(o.Name()).With("task", handle.Prefix())

	raw, err := run.readTemplate()
	if err != nil {
		return Gradient{}, err
	}
	text := orcaBlockComment.ReplaceAllString(raw, "")
	text = orcaLineComment.ReplaceAllString(text, "")

	// All template preconditions are checked before anything touches disk.
	if !orcaEngradPattern.MatchString(text) {
		return Gradient{}, fmt.Errorf("%w: template %s has no 'EnGrad' keyword, cannot calculate a gradient", ErrTemplateFormat, run.Template)
	}
	if !orcaPALPattern.MatchString(text) && !orcaNprocsPattern.MatchString(text) {
		return Gradient{}, fmt.Errorf("%w: template %s has no 'PAL' or '%%pal nprocs' marker", ErrTemplateFormat, run.Template)
	}
	if !orcaXYZPattern.MatchString(text) {
		return Gradient{}, fmt.Errorf("%w: template %s does not reference its coordinates with 'xyzfile'", ErrTemplateFormat, run.Template)
	}

	cores := strconv.Itoa(req.Cores)
	text = orcaPALPattern.ReplaceAllString(text, "${1}"+cores)
	text = orcaNprocsPattern.ReplaceAllString(text, "${1}"+cores)
	useBohr := orcaBohrPattern.MatchString(text)

	xyzName := handle.File(".xyz")
	text = orcaXYZPattern.ReplaceAllString(text, "${1}"+xyzName)

	// Orbital files referenced by the template are staged alongside the
	// inputs. A file named after the template stem is renamed to the task
	// prefix so ORCA picks it up as the restart guess.
	staged, err := o.orbitalFiles(run, handle.Prefix(), text)
	if err != nil {
		return Gradient{}, err
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
	absWork, err := filepath.Abs(workdir)
	if err != nil {
		return Gradient{}, fmt.Errorf("%w: resolve working directory: %v", ErrExecution, err)
	}
	inpPath := filepath.Join(workdir, handle.File(".inp"))
	xyzPath := filepath.Join(workdir, xyzName)
	shPath := filepath.Join(workdir, handle.File(".sh"))

	inpData, err := encodeText(text, run.Encoding)
	if err != nil {
		return Gradient{}, err
	}
	if err := writeFile(inpPath, inpData); err != nil {
		return Gradient{}, err
	}
	if err := run.Mol.WriteXYZ(xyzPath, req.Coords, useBohr, "", run.Encoding); err != nil {
		return Gradient{}, err
	}

	var b strings.Builder
	b.WriteString(run.Config.Bash)
	fmt.Fprintf(&b, "\ncp %s %s\n", handle.File(".inp"), scratch.Dir)
	fmt.Fprintf(&b, "cp %s %s\n", xyzName, scratch.Dir)
	for _, cp := range staged {
		fmt.Fprintf(&b, "cp %s %s\n", cp.src, filepath.Join(scratch.Dir, cp.dst))
	}
	fmt.Fprintf(&b, "\ncd %s\n", scratch.Dir)
	fmt.Fprintf(&b, "%s %s > %s 2>&1\n", run.Config.Path, handle.File(".inp"), handle.File(".out"))
	// Stage out: results only, then the working copies of the inputs and
	// ORCA's own temporaries are dropped with the scratch directory.
	fmt.Fprintf(&b, "\nrm -f *.inp *.xyz *.tmp*\n")
	fmt.Fprintf(&b, "cp * %s\n", absWork)
	if err := writeScript(shPath, b.String()); err != nil {
		return Gradient{}, fmt.Errorf("%w: write launch script: %v", ErrExecution, err)
	}

	logger.Debug("launching gradient calculation", "cores", req.Cores)
	if err := runScript(ctx, workdir, handle.File(".sh")); err != nil {
		return Gradient{}, err
	}

	grad, err := ReadEngrad(filepath.Join(workdir, handle.File(".engrad")), run.Mol.NumAtoms())
	if err != nil {
		return Gradient{}, err
	}
	grad.Index = req.Index
	logger.Debug("gradient done", "energy", grad.Energy)
	return grad, nil
}

type stagedCopy struct {
	src string // absolute source path
	dst string // name inside the scratch directory
}

// orbitalFiles collects .gbw restart files to stage: one named after the
// template stem (renamed to the task prefix), plus every file referenced by
// a %moinp directive or quoted .gbw name. Referenced files must exist.
func (ORCA) orbitalFiles(run *Run, prefix, text string) ([]stagedCopy, error) {
	home := filepath.Dir(run.Template)
	stem := strings.TrimSuffix(filepath.Base(run.Template), filepath.Ext(run.Template))

	var staged []stagedCopy
	if src := filepath.Join(home, stem+".gbw"); fileExists(src) {
		staged = append(staged, stagedCopy{src: src, dst: prefix + ".gbw"})
	}

	seen := make(map[string]bool)
	for _, m := range orcaGbwPattern.FindAllStringSubmatch(text, -1) {
		seen[m[1]] = true
	}
	for _, m := range orcaMoinpPattern.FindAllStringSubmatch(text, -1) {
		seen[m[1]] = true
	}
	for name := range seen {
		src := filepath.Join(home, name)
		if !fileExists(src) {
			return nil, fmt.Errorf("%w: orbital file %s referenced by template does not exist", ErrTemplateFormat, src)
		}
		staged = append(staged, stagedCopy{src: src, dst: filepath.Base(name)})
	}
	return staged, nil
}

// ReadEngrad parses an ORCA .engrad artifact: the energy follows the line
// mentioning "energy", the gradient components follow the line mentioning
// "gradient", one value per line, comment lines starting with '#' skipped.
func ReadEngrad(path string, nAtoms int) (Gradient, error) {
	text, err := readFileText(path)
	if err != nil {
		return Gradient{}, fmt.Errorf("%w: %s not found; the calculation may have failed", ErrOutputParse, path)
	}
	lines := strings.Split(text, "\n")

	var (
		energy    float64
		haveEng   bool
		inEnergy  bool
		inGrad    bool
		grad      []float64
		gradBlock bool
	)
	for _, line := range lines {
		lower := strings.ToLower(line)
		switch {
		case inEnergy && !strings.Contains(line, "#"):
			v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
			if err != nil {
				return Gradient{}, fmt.Errorf("%w: %s: bad energy line %q", ErrOutputParse, path, line)
			}
			energy, haveEng = v, true
			inEnergy = false
		case !haveEng && strings.Contains(lower, "energy"):
			inEnergy = true
		case inGrad && strings.Contains(lower, "the"):
			inGrad = false
		case inGrad && !strings.Contains(line, "#") && strings.TrimSpace(line) != "":
			v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
			if err != nil {
				return Gradient{}, fmt.Errorf("%w: %s: bad gradient line %q", ErrOutputParse, path, line)
			}
			grad = append(grad, v)
		case !gradBlock && strings.Contains(lower, "gradient"):
			inGrad = true
			gradBlock = true
		}
	}
	if !haveEng || len(grad) != 3*nAtoms {
		return Gradient{}, fmt.Errorf("%w: %s: got %d gradient components, want %d", ErrOutputParse, path, len(grad), 3*nAtoms)
	}
	return Gradient{Energy: energy, Grad: grad}, nil
}
