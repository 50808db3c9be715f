package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// exampleConfigs are annotated starting points written by 'numhess config
// init'. They carry the "_example" suffix so re-running init never overwrites
// a live config.
var exampleConfigs = map[string]string{
	"BDF": `# Copy this file to BDF.yaml in the same directory and adjust it for your
# installation. You can list more than one entry if you run BDF in more than
# one way; entries are selected by name, the first one is the default.
configs:
  - name: BDF
    # Shell fragment sourced before every invocation. Do NOT set BDF_TMPDIR,
    # OMP_NUM_THREADS or OMP_STACKSIZE here; they are injected per invocation.
    bash: |
      #!/bin/bash
      export BDFHOME=/path/to/bdf-pkg-pro
      export USE_LIBCINT=no
      export LD_LIBRARY_PATH=$BDFHOME/extlibs:$BDFHOME/libso:$LD_LIBRARY_PATH
      ulimit -s unlimited
      ulimit -t unlimited
    path: /path/to/bdf-pkg-pro/sbin/bdfdrv.py
`,
	"ORCA": `# Copy this file to ORCA.yaml in the same directory and adjust it for your
# installation.
configs:
  - name: ORCA
    bash: |
      #!/bin/bash
      # openmpi
      MPI_HOME=/usr/local/openmpi
      export PATH=${MPI_HOME}/bin:$PATH
      export LD_LIBRARY_PATH=${MPI_HOME}/lib:$LD_LIBRARY_PATH

      export LD_LIBRARY_PATH=/path/to/orca:$LD_LIBRARY_PATH
      export PATH=/path/to/orca:$PATH
    path: /path/to/orca/orca
`,
}

// WriteExamples creates dir if needed and writes the example config files.
func WriteExamples(dir string) ([]string, error) {
	if dir == "" {
		var err error
		dir, err = DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}
	var written []string
	for program, content := range exampleConfigs {
		path := filepath.Join(dir, program+"_example.yaml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
