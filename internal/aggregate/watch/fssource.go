// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// FSSource is the one real Source implementation: it watches real
// filesystem directories via fsnotify, standing in for a component's
// outgoing directory materializing and exposing instance subdirectories
// in an environment with no real component manager to watch instead.
type FSSource struct {
	// Root anchors the relative path segments a Walk call is given; an
	// empty Root treats segments as already absolute.
	Root string
}

var _ Source = FSSource{}

// Walk descends segments one at a time under s.Root. For a segment that
// does not exist yet, it adds an fsnotify watch on the parent directory,
// reports IDLE (via onIdle) as soon as that watch is in place, and waits
// for the segment to be created before descending further, mirroring
// "on IDLE it signals the first-idle notifier".
func (s FSSource) Walk(ctx context.Context, segments []string, onIdle func()) (string, error) {
	current := s.Root
	for _, seg := range segments {
		next := filepath.Join(current, seg)
		if err := waitForPath(ctx, current, seg, onIdle); err != nil {
			return "", err
		}
		current = next
	}
	return current, nil
}

// waitForPath blocks until name appears as a child of dir, or ctx is
// cancelled.
func waitForPath(ctx context.Context, dir, name string, onIdle func()) error {
	target := filepath.Join(dir, name)
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create inner watcher for %s: %w", dir, err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch: watch %s: %w", dir, err)
	}

	// A freshly-created watcher has no backlog to drain; report idle once
	// up front so a caller blocked on first-idle is released promptly if
	// the segment genuinely does not exist yet.
	if onIdle != nil {
		onIdle()
	}

	if _, err := os.Stat(target); err == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watch: watcher on %s closed", dir)
			}
			if filepath.Base(ev.Name) == name && (ev.Op&(fsnotify.Create|fsnotify.Write) != 0) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watch: watcher on %s closed", dir)
			}
			return fmt.Errorf("watch: watcher on %s: %w", dir, err)
		}
	}
}

// Watch lists dir's current entries as EventExisting, reports EventIdle
// once the initial listing is drained, then streams fsnotify
// create/remove events as EventAdd/EventRemove until ctx is cancelled or
// dir is removed (reported as a closed channel, the "peer-closed
// (clean)" terminal transition).
func (s FSSource) Watch(ctx context.Context, dir string) (<-chan Event, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("watch: read %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher for %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch: watch %s: %w", dir, err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer watcher.Close()

		for _, e := range entries {
			select {
			case out <- Event{Kind: EventExisting, Name: e.Name()}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- Event{Kind: EventIdle}:
		case <-ctx.Done():
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Base(ev.Name)
				switch {
				case ev.Op&fsnotify.Create != 0:
					select {
					case out <- Event{Kind: EventAdd, Name: name}:
					case <-ctx.Done():
						return
					}
				case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
					if name == filepath.Base(dir) {
						// The watched directory itself disappeared.
						return
					}
					select {
					case out <- Event{Kind: EventRemove, Name: name}:
					case <-ctx.Done():
						return
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
				return
			}
		}
	}()
	return out, nil
}
