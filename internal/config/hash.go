package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumManifest pins the BLAKE3 hashes of the program config files. The
// launch fragments are executed verbatim by every invocation script, so an
// unnoticed edit changes every result; the manifest makes edits explicit.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

const checksumFile = ".checksums"

// ComputeHash computes the BLAKE3 hash of a file.
func ComputeHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// GenerateChecksums hashes every *.yaml file in dir and writes the manifest.
func GenerateChecksums(dir string) error {
	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read config directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		h, err := ComputeHash(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("hash %s: %w", entry.Name(), err)
		}
		manifest.Hashes[entry.Name()] = h
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal checksums: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, checksumFile), data, 0o600)
}

// VerifyChecksums checks every hashed file against the manifest. A missing
// manifest is not an error; configs are then used unverified.
func VerifyChecksums(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, checksumFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}

	for name, want := range manifest.Hashes {
		got, err := ComputeHash(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("config %s is in checksums but unreadable: %w", name, err)
		}
		if got != want {
			return fmt.Errorf("config %s was modified after 'numhess config hash-update' (hash %s, expected %s)",
				name, got, want)
		}
	}
	return nil
}
