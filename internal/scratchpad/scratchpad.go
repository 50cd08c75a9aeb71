// Package scratchpad manages the host directory of agent-authored scripts.
//
// The directory is exposed read-only inside every sandbox container; the
// controlling process is the only writer. Host-side mutation is not
// synchronized — concurrent writers are the caller's problem.
package scratchpad

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Dir is a scratchpad directory on the host.
type Dir struct {
	root string
}

// New ensures the directory exists and returns a handle to it.
func New(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving scratchpad path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratchpad directory: %w", err)
	}
	return &Dir{root: abs}, nil
}

// Path returns the absolute host path of the scratchpad.
func (d *Dir) Path() string {
	return d.root
}

// Write creates or overwrites a script. Parent directories are created as
// needed. Names that would escape the scratchpad are rejected.
func (d *Dir) Write(name, body string) error {
	path, err := d.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating script directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("writing script %q: %w", name, err)
	}
	return nil
}

// Read returns a script's contents.
func (d *Dir) Read(name string) (string, error) {
	path, err := d.resolve(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading script %q: %w", name, err)
	}
	return string(data), nil
}

// Delete removes a script.
func (d *Dir) Delete(name string) error {
	path, err := d.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting script %q: %w", name, err)
	}
	return nil
}

// List returns the base names of all files whose name matches the glob
// pattern, searching recursively. The result is sorted, so two consecutive
// listings with no intervening writes are identical.
func (d *Dir) List(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*.py"
	}
	var names []string
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		ok, err := filepath.Match(pattern, entry.Name())
		if err != nil {
			return fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if ok {
			names = append(names, entry.Name())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// resolve joins name onto the scratchpad root without letting it escape.
func (d *Dir) resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("script name must not be empty")
	}
	path, err := securejoin.SecureJoin(d.root, name)
	if err != nil {
		return "", fmt.Errorf("invalid script name %q: %w", name, err)
	}
	return path, nil
}
