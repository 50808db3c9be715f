package qcprog

import (
	"fmt"
	"os"

	"github.com/ilcpm/numhess/internal/textenc"
	"github.com/ilcpm/numhess/internal/workspace"
)

func encodeText(s, encoding string) ([]byte, error) {
	return textenc.Encode(s, encoding)
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", workspace.ErrWorkspace, path, err)
	}
	return nil
}

func readFileText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
