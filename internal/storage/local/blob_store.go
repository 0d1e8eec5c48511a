// Package local stores failure snapshots on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideBaseDir is returned for object paths that resolve outside the base directory.
var ErrOutsideBaseDir = errors.New("object path escapes base directory")

// Config configures the snapshot directory.
type Config struct {
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// Prefix is prepended to every object path.
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// BlobStore writes snapshots under a base directory.
type BlobStore struct {
	root string
}

// New prepares the snapshot directory, creating it when missing, and checks
// that it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("snapshot base directory is required")
	}
	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve snapshot directory: %w", err)
	}
	if info, err := os.Stat(base); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("snapshot directory %s is not a directory", base)
	}
	root := filepath.Join(base, filepath.FromSlash(strings.Trim(cfg.Prefix, "/")))
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	scratch, err := os.CreateTemp(root, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("snapshot directory not writable: %w", err)
	}
	_ = scratch.Close()
	if err := os.Remove(scratch.Name()); err != nil {
		return nil, fmt.Errorf("remove scratch file: %w", err)
	}
	return &BlobStore{root: root}, nil
}

// PutObject streams r into root/path and returns a file:// URI. The file
// appears atomically: it is written to a temp file and renamed into place.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("object path is required")
	}
	target := filepath.Join(s.root, filepath.FromSlash(path))
	rel, err := filepath.Rel(s.root, target)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", fmt.Errorf("%s: %w", path, ErrOutsideBaseDir)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("publish object: %w", err)
	}
	return "file://" + target, nil
}
