package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ilcpm/numhess/internal/log"
)

// DefaultDir returns the default config directory, ~/.numhess.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".numhess"), nil
}

// Load reads and validates the config collection for program (e.g. "BDF",
// "ORCA") from dir. An empty dir means the default directory.
func Load(dir, program string) (*Collection, error) {
	if dir == "" {
		var err error
		dir, err = DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	path := filepath.Join(dir, program+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s (run 'numhess config init' and edit the generated file)", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var col Collection
	if err := yaml.Unmarshal(data, &col); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
	}
	if err := col.validate(path); err != nil {
		return nil, err
	}
	return &col, nil
}

// Lookup returns the entry named name, or the first entry when name is empty.
func (c *Collection) Lookup(name string) (Program, error) {
	if len(c.Configs) == 0 {
		return Program{}, fmt.Errorf("%w: collection is empty", ErrNotFound)
	}
	if name == "" {
		return c.Configs[0], nil
	}
	for _, p := range c.Configs {
		if p.Name == name {
			return p, nil
		}
	}
	return Program{}, fmt.Errorf("%w: no entry named %q", ErrNotFound, name)
}

var assignPattern = regexp.MustCompile(`(?m)^\s*(?:export\s+)?([A-Za-z_][A-Za-z0-9_]*)=`)

// validate checks every entry eagerly at load time rather than at first use.
func (c *Collection) validate(path string) error {
	seen := make(map[string]bool)
	for i, p := range c.Configs {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: %s: entry %d has no name", ErrInvalid, path, i)
		}
		if strings.TrimSpace(p.Path) == "" {
			return fmt.Errorf("%w: %s: entry %q has no executable path", ErrInvalid, path, p.Name)
		}
		if seen[p.Name] {
			// First match wins on lookup; keep going but tell the user.
			log.Warn("duplicate config entry name, first match wins", "file", path, "name", p.Name)
		}
		seen[p.Name] = true

		for _, m := range assignPattern.FindAllStringSubmatch(p.Bash, -1) {
			for _, v := range reservedVars {
				if m[1] == v {
					return fmt.Errorf("%w: %s: entry %q sets %s, which is injected per invocation",
						ErrInvalid, path, p.Name, v)
				}
			}
		}
	}
	return nil
}
