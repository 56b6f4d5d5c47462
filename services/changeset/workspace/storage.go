// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workspace provides the storage capability the apply engine
// depends on: read, write, delete, and glob listing over a confined
// directory tree.
//
// # Description
//
// The engine never touches the filesystem directly; it goes through the
// Storage interface so tests can substitute an in-memory implementation
// and so every path is validated against the workspace root.
package workspace

import (
	"context"
	"errors"
)

// ErrPathEscapes is returned when a path resolves outside the workspace root.
var ErrPathEscapes = errors.New("path escapes workspace root")

// ErrNotFound is returned by Read when the target file does not exist.
var ErrNotFound = errors.New("file not found")

// IsNotFound reports whether err indicates a missing file.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Storage is the capability surface for workspace file operations.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: the transaction applies
// independent per-file operations in parallel.
type Storage interface {
	// Read returns the content of the file at path.
	// Returns ErrNotFound if the file does not exist.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write stores data at path, creating parent directories as needed.
	Write(ctx context.Context, path string, data []byte) error

	// Delete removes the file at path. Deleting an absent file is not an
	// error; delete is idempotent.
	Delete(ctx context.Context, path string) error

	// List returns workspace-relative paths of regular files matching the
	// glob pattern. Patterns support *, ?, character classes, and ** for
	// recursive matching.
	List(ctx context.Context, pattern string) ([]string, error)

	// Exists reports whether a regular file exists at path.
	Exists(ctx context.Context, path string) (bool, error)
}
