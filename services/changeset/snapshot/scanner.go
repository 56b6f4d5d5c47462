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
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/AleutianAI/AleutianApply/services/changeset/workspace"
)

// DefaultCacheSize bounds the checksum cache. Entries are small (a path
// and a digest) so the bound exists to cap growth on very large
// workspaces, not memory pressure from individual entries.
const DefaultCacheSize = 4096

// Stater is the optional storage capability the scanner uses to skip
// re-hashing files whose size and modification time have not changed.
type Stater interface {
	Stat(ctx context.Context, path string) (size int64, modTime time.Time, err error)
}

// cacheEntry pairs a checksum with the stat identity it was computed under.
type cacheEntry struct {
	size     int64
	modTime  time.Time
	checksum string
}

// Scanner reads files through a Storage and produces snapshots.
//
// # Description
//
// When the underlying storage also implements Stater, the scanner keeps an
// LRU cache of checksums keyed by path and validated against file size and
// modification time, so repeated scans of an unchanged workspace do not
// re-hash every file. Content is always read fresh; only the digest is
// reused.
//
// # Thread Safety
//
// Safe for concurrent use. The LRU cache is internally synchronized.
type Scanner struct {
	store workspace.Storage
	stat  Stater
	cache *lru.Cache[string, cacheEntry]
}

// NewScanner creates a Scanner over the given storage.
func NewScanner(store workspace.Storage) (*Scanner, error) {
	cache, err := lru.New[string, cacheEntry](DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create checksum cache: %w", err)
	}
	s := &Scanner{store: store, cache: cache}
	if st, ok := store.(Stater); ok {
		s.stat = st
	}
	return s, nil
}

// Snapshot captures the current state of a single file.
func (s *Scanner) Snapshot(ctx context.Context, path string) (FileSnapshot, error) {
	content, err := s.store.Read(ctx, path)
	if err != nil {
		return FileSnapshot{}, err
	}
	return FileSnapshot{
		Path:     path,
		Content:  string(content),
		Checksum: s.checksum(ctx, path, content),
	}, nil
}

// SnapshotAll captures every path in order. Paths that do not exist are
// skipped; any other read failure aborts the scan.
func (s *Scanner) SnapshotAll(ctx context.Context, paths []string) (map[string]FileSnapshot, error) {
	snaps := make(map[string]FileSnapshot, len(paths))
	for _, path := range paths {
		snap, err := s.Snapshot(ctx, path)
		if err != nil {
			if workspace.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		snaps[path] = snap
	}
	return snaps, nil
}

// Invalidate drops any cached checksum for the given path. Watchers call
// this when the file changes outside a scan.
func (s *Scanner) Invalidate(path string) {
	s.cache.Remove(path)
}

// checksum returns the cached digest when the file's stat identity matches,
// computing and caching a fresh one otherwise. The content passed in is the
// content that was just read, so a stale cache entry can never outlive the
// stat check that guards it.
func (s *Scanner) checksum(ctx context.Context, path string, content []byte) string {
	if s.stat == nil {
		return Checksum(content)
	}
	size, modTime, err := s.stat.Stat(ctx, path)
	if err != nil {
		return Checksum(content)
	}
	if entry, ok := s.cache.Get(path); ok {
		if entry.size == size && entry.modTime.Equal(modTime) {
			return entry.checksum
		}
	}
	sum := Checksum(content)
	s.cache.Add(path, cacheEntry{size: size, modTime: modTime, checksum: sum})
	return sum
}
