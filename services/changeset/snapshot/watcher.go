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
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// InvalidateFunc receives workspace-relative paths whose cached state is no
// longer trustworthy.
type InvalidateFunc func(path string)

// Watcher invalidates cached checksums when files change on disk.
//
// # Description
//
// Watches the workspace root recursively and, after a short debounce
// window, reports each changed path to the invalidation callback. The
// watcher is an optimization for long-running servers; correctness never
// depends on it because the guard always re-reads before applying.
//
// # Thread Safety
//
// Safe for concurrent use. The callback is invoked from a single goroutine.
type Watcher struct {
	root       string
	fsWatcher  *fsnotify.Watcher
	invalidate InvalidateFunc
	debounce   time.Duration

	events   chan string
	done     chan struct{}
	stopOnce sync.Once
}

// DefaultDebounceWindow batches rapid editor saves into one invalidation.
const DefaultDebounceWindow = 100 * time.Millisecond

// ignoredDirs are never watched; churn under these is irrelevant to
// workspace snapshots.
var ignoredDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".idea":        true,
	"__pycache__":  true,
}

// NewWatcher creates a watcher over the given workspace root. The
// invalidate callback receives slash-separated paths relative to root.
func NewWatcher(root string, invalidate InvalidateFunc) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:       root,
		fsWatcher:  fsWatcher,
		invalidate: invalidate,
		debounce:   DefaultDebounceWindow,
		events:     make(chan string, 1024),
		done:       make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the watch list is registered;
// invalidations are delivered from background goroutines until Stop is
// called or ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop shuts the watcher down. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsWatcher.Close()
	})
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if ignoredDirs[d.Name()] && path != root {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			rel, err := filepath.Rel(w.root, event.Name)
			if err != nil || ignoredDirs[firstSegment(rel)] {
				continue
			}
			select {
			case w.events <- filepath.ToSlash(rel):
			default:
				// Buffer full; the guard still re-reads, so a dropped
				// invalidation costs one redundant hash at most.
			}
			if event.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					_ = w.fsWatcher.Add(event.Name)
				}
			}
		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		for path := range pending {
			w.invalidate(path)
			delete(pending, path)
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case path := <-w.events:
			pending[path] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

func firstSegment(rel string) string {
	rel = filepath.ToSlash(rel)
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return rel
}
