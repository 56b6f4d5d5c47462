// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianApply/pkg/apperr"
	"github.com/AleutianAI/AleutianApply/services/changeset/workspace"
)

// ErrStale indicates a file changed between snapshot and apply time.
var ErrStale = errors.New("file changed since snapshot")

// Guard verifies that a file still matches its snapshot before it is
// modified.
//
// # Description
//
// Verify always recomputes the fingerprint from the current on-disk
// content; it never trusts a cached digest. On success it returns the
// current content so the caller patches exactly the bytes that were
// verified, closing the window between check and use.
type Guard struct {
	store workspace.Storage
}

// NewGuard creates a Guard over the given storage.
func NewGuard(store workspace.Storage) *Guard {
	return &Guard{store: store}
}

// Verify recomputes the checksum of the file at snap.Path and compares it
// against the snapshot. A mismatch or a missing file yields a conflict
// error wrapping ErrStale.
func (g *Guard) Verify(ctx context.Context, snap FileSnapshot) (string, error) {
	content, err := g.store.Read(ctx, snap.Path)
	if err != nil {
		if workspace.IsNotFound(err) {
			return "", apperr.Wrap(apperr.CodeConflict,
				fmt.Errorf("%w: %s was deleted", ErrStale, snap.Path))
		}
		return "", err
	}
	if current := Checksum(content); current != snap.Checksum {
		return "", apperr.Wrap(apperr.CodeConflict,
			fmt.Errorf("%w: %s", ErrStale, snap.Path))
	}
	return string(content), nil
}
