// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package lifecycle stands in for the component-manager event stream that
// would otherwise deliver component-started/component-stopped events to
// B4's hooks: it watches a top-level filesystem directory for child
// directories appearing and disappearing, and turns each into a
// member.ComponentEvent for a configured source moniker and service name.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"go.fuchsia.dev/netmux/internal/aggregate/member"
)

// Source watches Root for child entries representing started/stopped
// components under SourceMoniker, each assumed to expose ServiceName (this
// stand-in has no real capability-routing metadata to inspect, so every
// discovered entry is treated as exposing the one service netmuxd was
// configured to aggregate).
type Source struct {
	Root          string
	SourceMoniker string
	ServiceName   string
}

// New constructs a Source.
func New(root, sourceMoniker, serviceName string) *Source {
	return &Source{Root: root, SourceMoniker: sourceMoniker, ServiceName: serviceName}
}

// Event pairs a ComponentEvent with whether it is a start or a stop.
type Event struct {
	Started bool
	ComponentEvent member.ComponentEvent
}

// Enumerate lists Root's current entries as started-component events,
// feeding Hooks.EnumerateAtConstruction's eager construction-time scan.
func (s *Source) Enumerate(ctx context.Context) ([]member.ComponentEvent, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: read %s: %w", s.Root, err)
	}
	events := make([]member.ComponentEvent, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		events = append(events, s.toEvent(e.Name()))
	}
	return events, nil
}

// Watch streams start/stop events for Root's child entries until ctx is
// cancelled, mirroring watch.FSSource.Watch's fsnotify idiom one level
// higher: here, entries ARE the components, not their instances.
func (s *Source) Watch(ctx context.Context) (<-chan Event, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("lifecycle: create watcher for %s: %w", s.Root, err)
	}
	if err := watcher.Add(s.Root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("lifecycle: watch %s: %w", s.Root, err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer watcher.Close()
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
					case out <- Event{Started: true, ComponentEvent: s.toEvent(name)}:
					case <-ctx.Done():
						return
					}
				case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
					select {
					case out <- Event{Started: false, ComponentEvent: s.toEvent(name)}:
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

// toEvent turns a bare directory name into a ComponentEvent. A name
// containing ":" (e.g. "workers:1") is a dynamic collection member; the
// part before the colon is the collection name.
func (s *Source) toEvent(name string) member.ComponentEvent {
	ev := member.ComponentEvent{
		Parent:          s.SourceMoniker,
		Leaf:            name,
		ExposedServices: []string{s.ServiceName},
	}
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		ev.Collection = name[:idx]
	}
	ev.Moniker = s.SourceMoniker + "/" + name
	return ev
}
