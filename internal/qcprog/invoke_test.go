package qcprog

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ilcpm/numhess/internal/config"
	"github.com/ilcpm/numhess/internal/geom"
)

const h2XYZ = `2
hydrogen
H    0.0000000    0.0000000    0.0000000
H    0.0000000    0.0000000    0.7400000
`

// fixture builds a molecule, a template and an empty working directory, with
// the fake program script content installed as the config's executable path.
func fixture(t *testing.T, template, fakeProgram string) (*Run, string) {
	t.Helper()
	srcDir := t.TempDir()
	workDir := t.TempDir()
	scratchBase := filepath.Join(t.TempDir(), "scratch")

	xyzPath := filepath.Join(srcDir, "h2.xyz")
	if err := os.WriteFile(xyzPath, []byte(h2XYZ), 0o644); err != nil {
		t.Fatal(err)
	}
	mol, err := geom.Load(xyzPath, "", "")
	if err != nil {
		t.Fatal(err)
	}

	tmplPath := filepath.Join(srcDir, "h2.inp")
	if err := os.WriteFile(tmplPath, []byte(template), 0o644); err != nil {
		t.Fatal(err)
	}

	progPath := filepath.Join(srcDir, "fakeprog")
	if err := os.WriteFile(progPath, []byte(fakeProgram), 0o755); err != nil {
		t.Fatal(err)
	}

	return &Run{
		Mol:      mol,
		Template: tmplPath,
		Config: config.Program{
			Name: "fake",
			Bash: "#!/bin/bash\n",
			Path: progPath,
		},
		MemPerCore: "1G",
		ScratchDir: scratchBase,
		WorkDir:    workDir,
	}, workDir
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

const bdfTemplate = `$compass
Geometry
file=h2.xyz
End geometry
$end
`

// bdfFakeProgram imitates the driver protocol: called with
// "-tmpdir DIR -r task.inp", it checks its scratch directory exists and
// drops a gradient artifact next to the input.
const bdfFakeProgram = `#!/bin/bash
tmpdir="$2"
inp="$4"
base="${inp%.inp}"
test -d "$tmpdir" || exit 7
test -f "${base}.xyz" || exit 8
cat > "${base}.egrad1" <<'EOF'
 E_tot =  -1.1234
 Gradient
 H   0.0010   0.0020   0.0030
 H  -0.0010  -0.0020  -0.0030
EOF
`

func TestBDFInvoke(t *testing.T) {
	run, workDir := fixture(t, bdfTemplate, bdfFakeProgram)

	g, err := (BDF{}).Invoke(context.Background(), run, Request{
		Index:  1,
		Coords: run.Mol.Bohr(),
		Cores:  2,
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if g.Index != 1 {
		t.Fatalf("Index = %d, want 1", g.Index)
	}
	if math.Abs(g.Energy+1.1234) > 1e-12 {
		t.Fatalf("Energy = %v", g.Energy)
	}
	if len(g.Grad) != 6 || math.Abs(g.Grad[0]-0.001) > 1e-12 {
		t.Fatalf("Grad = %v", g.Grad)
	}

	// Working-directory artifacts stay for inspection.
	names := listDir(t, workDir)
	for _, want := range []string{"h2_01.inp", "h2_01.xyz", "h2_01.sh", "h2_01.egrad1"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("artifact %s missing from working directory %v", want, names)
		}
	}

	// The rewritten template points at the per-invocation coordinates.
	inp, err := os.ReadFile(filepath.Join(workDir, "h2_01.inp"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(inp), "file=h2_01.xyz") {
		t.Fatalf("template not rewritten:\n%s", inp)
	}

	// The scratch subdirectory is gone.
	if _, err := os.Stat(filepath.Join(run.ScratchDir, "h2_01")); !os.IsNotExist(err) {
		t.Fatal("scratch directory should be removed")
	}
}

func TestBDFInvokeTemplateErrorLeavesNoFiles(t *testing.T) {
	run, workDir := fixture(t, "$compass\nGeometry\nfile=other.xyz\nEnd geometry\n$end\n", bdfFakeProgram)

	_, err := (BDF{}).Invoke(context.Background(), run, Request{
		Index:  1,
		Coords: run.Mol.Bohr(),
		Cores:  2,
	})
	if !errors.Is(err, ErrTemplateFormat) {
		t.Fatalf("Invoke() error = %v, want ErrTemplateFormat", err)
	}

	if names := listDir(t, workDir); len(names) != 0 {
		t.Fatalf("working directory should stay clean, found %v", names)
	}
	if _, err := os.Stat(run.ScratchDir); !os.IsNotExist(err) {
		t.Fatal("no scratch should be allocated for a rejected template")
	}
}

func TestBDFInvokeExecutionFailure(t *testing.T) {
	run, _ := fixture(t, bdfTemplate, "#!/bin/bash\nexit 3\n")

	_, err := (BDF{}).Invoke(context.Background(), run, Request{
		Index:  1,
		Coords: run.Mol.Bohr(),
		Cores:  2,
	})
	// The fake program fails without producing an artifact; depending on
	// timing the failure surfaces as the missing artifact.
	if !errors.Is(err, ErrOutputParse) {
		t.Fatalf("Invoke() error = %v, want ErrOutputParse for a missing artifact", err)
	}

	// Scratch is removed on the failure path too.
	if _, err := os.Stat(filepath.Join(run.ScratchDir, "h2_01")); !os.IsNotExist(err) {
		t.Fatal("scratch directory should be removed after failure")
	}
}

const orcaTemplate = `! B3LYP def2-SVP EnGrad PAL4
%moinp "guess.gbw"
* xyzfile 0 1 h2.xyz
`

// orcaFakeProgram runs inside the scratch directory; the launch script
// copies results back to the working directory afterwards.
const orcaFakeProgram = `#!/bin/bash
inp="$1"
base="${inp%.inp}"
test -f "$inp" || exit 7
test -f "${base}.xyz" || exit 8
test -f "guess.gbw" || exit 9
cat > "${base}.engrad" <<'EOF'
#
# The current total energy in Eh
#
    -1.5
#
# The current gradient in Eh/bohr
#
   0.001
   0.002
   0.003
  -0.001
  -0.002
  -0.003
#
# The atomic numbers
#
EOF
`

func TestORCAInvoke(t *testing.T) {
	run, workDir := fixture(t, orcaTemplate, orcaFakeProgram)
	gbw := filepath.Join(filepath.Dir(run.Template), "guess.gbw")
	if err := os.WriteFile(gbw, []byte("orbitals"), 0o644); err != nil {
		t.Fatal(err)
	}

	g, err := (ORCA{}).Invoke(context.Background(), run, Request{
		Index:  1,
		Coords: run.Mol.Bohr(),
		Cores:  2,
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if math.Abs(g.Energy+1.5) > 1e-12 {
		t.Fatalf("Energy = %v", g.Energy)
	}
	if len(g.Grad) != 6 || math.Abs(g.Grad[1]-0.002) > 1e-12 {
		t.Fatalf("Grad = %v", g.Grad)
	}

	// The dispatcher-assigned core count replaces the template's.
	inp, err := os.ReadFile(filepath.Join(workDir, "h2_01.inp"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(inp), "PAL2") {
		t.Fatalf("core count not substituted:\n%s", inp)
	}
	if !strings.Contains(string(inp), "h2_01.xyz") {
		t.Fatalf("coordinate reference not rewritten:\n%s", inp)
	}

	// Results are copied back; scratch working copies are not.
	names := listDir(t, workDir)
	for _, n := range names {
		if n == "h2_01.tmp" {
			t.Fatal("temporaries should not be staged out")
		}
	}
	found := false
	for _, n := range names {
		if n == "h2_01.engrad" {
			found = true
		}
	}
	if !found {
		t.Fatalf("engrad artifact missing from %v", names)
	}

	if _, err := os.Stat(filepath.Join(run.ScratchDir, "h2_01")); !os.IsNotExist(err) {
		t.Fatal("scratch directory should be removed")
	}
}

func TestORCAInvokeMissingEnGrad(t *testing.T) {
	run, workDir := fixture(t, "! B3LYP PAL4\n* xyzfile 0 1 h2.xyz\n", orcaFakeProgram)

	_, err := (ORCA{}).Invoke(context.Background(), run, Request{
		Index:  1,
		Coords: run.Mol.Bohr(),
		Cores:  2,
	})
	if !errors.Is(err, ErrTemplateFormat) {
		t.Fatalf("Invoke() error = %v, want ErrTemplateFormat", err)
	}
	if names := listDir(t, workDir); len(names) != 0 {
		t.Fatalf("working directory should stay clean, found %v", names)
	}
}

func TestORCAInvokeMissingOrbitalFile(t *testing.T) {
	// guess.gbw referenced but never created.
	run, workDir := fixture(t, orcaTemplate, orcaFakeProgram)

	_, err := (ORCA{}).Invoke(context.Background(), run, Request{
		Index:  1,
		Coords: run.Mol.Bohr(),
		Cores:  2,
	})
	if !errors.Is(err, ErrTemplateFormat) {
		t.Fatalf("Invoke() error = %v, want ErrTemplateFormat", err)
	}
	if names := listDir(t, workDir); len(names) != 0 {
		t.Fatalf("working directory should stay clean, found %v", names)
	}
}

func TestORCATemplateCores(t *testing.T) {
	run, _ := fixture(t, orcaTemplate, orcaFakeProgram)
	cores, err := (ORCA{}).TemplateCores(run)
	if err != nil {
		t.Fatalf("TemplateCores() error = %v", err)
	}
	if cores != 4 {
		t.Fatalf("TemplateCores() = %d, want 4", cores)
	}

	run2, _ := fixture(t, "! EnGrad\n%pal nprocs 8\n* xyzfile 0 1 h2.xyz\n", orcaFakeProgram)
	cores, err = (ORCA{}).TemplateCores(run2)
	if err != nil {
		t.Fatalf("TemplateCores(nprocs) error = %v", err)
	}
	if cores != 8 {
		t.Fatalf("TemplateCores(nprocs) = %d, want 8", cores)
	}
}

func TestRunTaskDefaultsToTemplateStem(t *testing.T) {
	run := &Run{Template: "/some/where/job7.inp"}
	if got := run.Task(); got != "job7" {
		t.Fatalf("Task() = %q, want job7", got)
	}
	run.TaskName = "custom"
	if got := run.Task(); got != "custom" {
		t.Fatalf("Task() = %q, want custom", got)
	}
}
