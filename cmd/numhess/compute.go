package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/ilcpm/numhess/internal/config"
	"github.com/ilcpm/numhess/internal/dispatch"
	"github.com/ilcpm/numhess/internal/hessian"
	"github.com/ilcpm/numhess/internal/qcprog"
)

var computeFlags struct {
	xyz        string
	unit       string
	encoding   string
	program    string
	method     string
	delta      float64
	cores      int
	mem        string
	totalCores int
	template   string
	scratch    string
	task       string
	configName string
	configDir  string
	dmax       float64
	threshImag float64
	hasG0      bool
	transInvar bool
	rotInvar   bool
}

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute a numerical Hessian",
	Long: `Compute the Hessian of the molecule in --xyz by finite differences of
gradients obtained from the program named by --program, using the input
template in --inp. The matrix is printed to stdout in hartree/bohr^2.`,
	RunE: runCompute,
}

func init() {
	f := computeCmd.Flags()
	f.StringVar(&computeFlags.xyz, "xyz", "", "XYZ coordinate file (required)")
	f.StringVar(&computeFlags.unit, "unit", "angstrom", "unit of the XYZ file (angstrom or bohr)")
	f.StringVar(&computeFlags.encoding, "encoding", "", "text encoding of input files (default UTF-8)")
	f.StringVar(&computeFlags.program, "program", "BDF", "external gradient program (BDF or ORCA)")
	f.StringVar(&computeFlags.method, "method", "double", "differentiation method (single, double, o1numhess)")
	f.Float64Var(&computeFlags.delta, "delta", 0.005, "displacement step in bohr")
	f.IntVar(&computeFlags.cores, "cores", 0, "cores per gradient invocation (BDF; ORCA reads it from the template)")
	f.StringVar(&computeFlags.mem, "mem", "", "memory per core, e.g. 1G (BDF)")
	f.IntVar(&computeFlags.totalCores, "total-cores", 0, "total core budget (default: all host cores)")
	f.StringVar(&computeFlags.template, "inp", "", "program input template file (required)")
	f.StringVar(&computeFlags.scratch, "scratch", "~/tmp", "scratch base directory")
	f.StringVar(&computeFlags.task, "task", "", "task name prefix (default: template filename stem)")
	f.StringVar(&computeFlags.configName, "config-name", "", "named entry in the program config file (default: first entry)")
	f.StringVar(&computeFlags.configDir, "config-dir", "", "program config directory (default ~/.numhess)")
	f.Float64Var(&computeFlags.dmax, "dmax", 1.0, "effective-distance cutoff for the reconstruction method")
	f.Float64Var(&computeFlags.threshImag, "thresh-imag", 1e-8, "imaginary-mode eigenvalue threshold")
	f.BoolVar(&computeFlags.hasG0, "has-g0", false, "reuse an equilibrium gradient artifact from the working directory")
	f.BoolVar(&computeFlags.transInvar, "trans-invar", true, "assume translational invariance of the energy")
	f.BoolVar(&computeFlags.rotInvar, "rot-invar", true, "assume rotational invariance of the energy")
	cobra.CheckErr(computeCmd.MarkFlagRequired("xyz"))
	cobra.CheckErr(computeCmd.MarkFlagRequired("inp"))
}

func runCompute(cmd *cobra.Command, args []string) error {
	var invoker qcprog.Invoker
	switch strings.ToUpper(computeFlags.program) {
	case "BDF":
		invoker = qcprog.BDF{}
	case "ORCA":
		invoker = qcprog.ORCA{}
	default:
		return fmt.Errorf("unsupported program %q, use BDF or ORCA", computeFlags.program)
	}

	dir := computeFlags.configDir
	if dir == "" {
		var err error
		dir, err = config.DefaultDir()
		if err != nil {
			return err
		}
	}
	if err := config.VerifyChecksums(dir); err != nil {
		return err
	}
	col, err := config.Load(dir, invoker.Name())
	if err != nil {
		return err
	}
	prog, err := col.Lookup(computeFlags.configName)
	if err != nil {
		return err
	}

	driver, err := hessian.New(computeFlags.xyz, computeFlags.unit, computeFlags.encoding)
	if err != nil {
		return err
	}

	h, err := driver.Compute(cmd.Context(), hessian.Options{
		Method:     computeFlags.method,
		Delta:      computeFlags.delta,
		Template:   computeFlags.template,
		Config:     prog,
		Invoker:    invoker,
		MemPerCore: computeFlags.mem,
		Encoding:   computeFlags.encoding,
		ScratchDir: computeFlags.scratch,
		TaskName:   computeFlags.task,
		Budget: dispatch.Budget{
			CoresPerInvocation: computeFlags.cores,
			TotalCores:         computeFlags.totalCores,
		},
		DMax:       computeFlags.dmax,
		ThreshImag: computeFlags.threshImag,
		HasG0:      computeFlags.hasG0,
		TransInvar: computeFlags.transInvar,
		RotInvar:   computeFlags.rotInvar,
	})
	if err != nil {
		return err
	}

	writeHessian(os.Stdout, h)
	return nil
}

// writeHessian prints the symmetric matrix row by row in a fixed-width
// format suitable for downstream parsing.
func writeHessian(w io.Writer, h *mat.SymDense) {
	n := h.SymmetricDim()
	for i := 0; i < n; i++ {
		var sb strings.Builder
		for j := 0; j < n; j++ {
			fmt.Fprintf(&sb, "%20.12e", h.At(i, j))
		}
		fmt.Fprintln(w, sb.String())
	}
}
