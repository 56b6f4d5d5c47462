// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Local implements Storage over a directory on the local filesystem.
//
// # Description
//
// All paths are resolved against the workspace root and validated so they
// cannot escape it. Writes create parent directories; deletes are
// idempotent.
//
// # Thread Safety
//
// Local is safe for concurrent use. Callers coordinate concurrent access
// to the same path; the transaction guarantees at most one operation per
// path within a job, and overlapping paths across jobs are a caller
// enforced invariant.
type Local struct {
	root     string
	fileMode os.FileMode
	dirMode  os.FileMode
}

// NewLocal creates a Local storage rooted at root.
//
// # Inputs
//
//   - root: Workspace root directory. Must be absolute and must exist.
//
// # Outputs
//
//   - *Local: Ready-to-use storage.
//   - error: Non-nil if root is invalid.
func NewLocal(root string) (*Local, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("workspace root must be absolute: %s", root)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root is not a directory: %s", root)
	}
	return &Local{
		root:     filepath.Clean(root),
		fileMode: 0644,
		dirMode:  0755,
	}, nil
}

// Root returns the workspace root directory.
func (l *Local) Root() string {
	return l.root
}

// Read returns the content of the file at path.
func (l *Local) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// Write stores data at path, creating parent directories as needed.
func (l *Local) Write(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), l.dirMode); err != nil {
		return fmt.Errorf("creating directories for %s: %w", path, err)
	}
	if err := os.WriteFile(full, data, l.fileMode); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Delete removes the file at path. Absent targets are not an error.
func (l *Local) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a regular file exists at path.
func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	full, err := l.resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Mode().IsRegular(), nil
}

// List walks the workspace and returns relative paths matching pattern.
func (l *Local) List(ctx context.Context, pattern string) ([]string, error) {
	matcher := NewGlobMatcher([]string{pattern}, nil)
	var paths []string

	err := filepath.WalkDir(l.root, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			// Never descend into VCS metadata.
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(l.root, full)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if matcher.Match(rel) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", pattern, err)
	}
	return paths, nil
}

// resolve joins path with the root and rejects escapes.
func (l *Local) resolve(path string) (string, error) {
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(l.root, full)
	}
	full = filepath.Clean(full)

	rel, err := filepath.Rel(l.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, path)
	}
	return full, nil
}

// Stat reports the size and modification time of the file at the given
// workspace-relative path. It returns ErrNotFound when no file exists.
//
// Stat is not part of the Storage interface; callers that can make use of
// cheap change detection type-assert for it.
func (l *Local) Stat(ctx context.Context, path string) (int64, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, err
	}
	abs, err := l.resolve(path)
	if err != nil {
		return 0, time.Time{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return 0, time.Time{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return 0, time.Time{}, fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}
	return info.Size(), info.ModTime(), nil
}

var _ Storage = (*Local)(nil)
