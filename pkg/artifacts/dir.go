// Package artifacts stores the files produced by successful runs, such as
// synthesized audio, and serves them back by name.
package artifacts

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Dir keeps artifacts in a local directory. Names are confined to the
// directory: lookups that would escape it fail.
type Dir struct {
	root *os.Root
	path string
}

func OpenDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact directory: %w", err)
	}
	return &Dir{root: root, path: abs}, nil
}

func (d *Dir) Path() string { return d.path }

func (d *Dir) Close() error {
	return d.root.Close()
}

func checkName(name string) error {
	if name == "" || filepath.Base(name) != name || !filepath.IsLocal(name) {
		return &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	return nil
}

// Publish implements supervisor.ArtifactStore. Files that are already in the
// directory are published in place; others are copied into it.
func (d *Dir) Publish(_ context.Context, path string) (string, error) {
	name := filepath.Base(path)
	if err := checkName(name); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if filepath.Dir(abs) == d.path {
		if _, err := d.root.Stat(name); err != nil {
			return "", fmt.Errorf("artifact was not written: %w", err)
		}
		return name, nil
	}

	src, err := os.Open(abs)
	if err != nil {
		return "", fmt.Errorf("artifact was not written: %w", err)
	}
	defer src.Close()
	dst, err := d.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		d.root.Remove(name)
		return "", fmt.Errorf("failed to copy artifact: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return name, nil
}

// Open returns the contents of a published artifact. A missing artifact
// yields an error matching fs.ErrNotExist.
func (d *Dir) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	return d.root.Open(name)
}
