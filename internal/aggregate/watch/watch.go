// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package watch implements B3: the per-member instance watcher state
// machine that waits for a member's service directory to materialize,
// then watches it for instance add/remove, inserting and removing entries
// in the aggregate (B1) as they occur.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.fuchsia.dev/netmux/internal/aggregate"
	"go.fuchsia.dev/netmux/internal/pdir"
)

// InnerWatcherTimeout bounds the whole Walk, including the time spent
// waiting for each path segment to appear; Run returns Walk's error once
// it expires. Watch is not bounded by it.
const InnerWatcherTimeout = 5 * time.Second

// EventKind tags one event observed while watching a materialized
// directory.
type EventKind int

const (
	EventExisting EventKind = iota
	EventAdd
	EventRemove
	EventIdle
)

// Event is one occurrence reported by a Source's instance watch.
type Event struct {
	Kind EventKind
	Name string
}

// Source abstracts the two suspension points B3 drives against: walking a
// sequence of path segments until the terminal directory materializes,
// and then watching that directory for instance subdirectories. This is
// the concrete stand-in for "the component framework's outgoing directory
// materializes", with FSSource as the one real
// implementation, built on github.com/fsnotify/fsnotify.
type Source interface {
	// Walk descends segments one at a time, waiting for each to appear,
	// and returns the fully materialized terminal path. onIdle is called
	// (possibly repeatedly; the watcher itself enforces the once-only
	// firing) every time an intermediate segment watch reports IDLE while
	// still waiting for the next segment.
	Walk(ctx context.Context, segments []string, onIdle func()) (string, error)
	// Watch streams events for dir until ctx is cancelled or the channel
	// is closed by the source observing the directory disappear
	// (reported as a clean channel close, the socket layer's analogous
	// peer-closed terminal transition).
	Watch(ctx context.Context, dir string) (<-chan Event, error)
}

// FirstIdleNotifier fires at most once, the first time its owning
// watcher passes through the idle marker.
type FirstIdleNotifier struct {
	once sync.Once
	ch   chan struct{}
}

// NewFirstIdleNotifier creates an unfired notifier.
func NewFirstIdleNotifier() *FirstIdleNotifier {
	return &FirstIdleNotifier{ch: make(chan struct{})}
}

// Fire signals first-idle; subsequent calls are no-ops.
func (n *FirstIdleNotifier) Fire() { n.once.Do(func() { close(n.ch) }) }

// Done returns a channel closed once Fire has been called.
func (n *FirstIdleNotifier) Done() <-chan struct{} { return n.ch }

// Phase is the watcher's position in its state machine.
type Phase int

const (
	PhaseWaitingForIdle Phase = iota
	PhaseReachedIdle
)

// Watcher is one long-lived per-member task.
type Watcher struct {
	member      uuid.UUID
	source      Source
	segments    []string
	isComponent bool
	backing     pdir.Directory
	dir         *aggregate.Directory
	notifier    *FirstIdleNotifier

	mu    sync.Mutex
	phase Phase
}

// New constructs a Watcher for member, bound to dir for instance
// insert/remove. segments/isComponent come from the member's
// SourceDescriptor (member.SourceDescriptor); when isComponent is false
// (a nested-aggregate source open question) the walk is
// skipped entirely and Watch is driven directly against an empty path.
// backing is the member's own routed source directory (nil when the
// caller has none, e.g. in tests exercising the state machine alone);
// each instance's aggregate entry opens its child directory handle from
// backing, and gets an empty placeholder when backing is nil or has no
// directory under that name (see openChild).
func New(member uuid.UUID, source Source, segments []string, isComponent bool, backing pdir.Directory, dir *aggregate.Directory, notifier *FirstIdleNotifier) *Watcher {
	return &Watcher{
		member:      member,
		source:      source,
		segments:    segments,
		isComponent: isComponent,
		backing:     backing,
		dir:         dir,
		notifier:    notifier,
	}
}

// Phase reports the watcher's current state-machine phase.
func (w *Watcher) Phase() Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// Run drives the watcher until its directory disappears, ctx is
// cancelled, or an error occurs. It returns nil when the event channel
// closes or ctx is cancelled while watching. It returns Walk's error when
// the walk fails, including when ctx is cancelled or InnerWatcherTimeout
// expires before the path materializes, and Watch's error when Watch fails.
func (w *Watcher) Run(ctx context.Context) error {
	dirPath := ""
	if w.isComponent && len(w.segments) > 0 {
		walkCtx, cancel := context.WithTimeout(ctx, InnerWatcherTimeout)
		path, err := w.source.Walk(walkCtx, w.segments, w.notifier.Fire)
		cancel()
		if err != nil {
			return err
		}
		dirPath = path
	}

	events, err := w.source.Watch(ctx, dirPath)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			w.handle(ev)
		}
	}
}

func (w *Watcher) handle(ev Event) {
	switch ev.Kind {
	case EventExisting, EventAdd:
		w.dir.Add(w.member, ev.Name, w.openChild(ev.Name))
	case EventRemove:
		w.dir.Remove(w.member, ev.Name)
	case EventIdle:
		w.notifier.Fire()
		w.mu.Lock()
		w.phase = PhaseReachedIdle
		w.mu.Unlock()
	}
}

// openChild opens name's child directory handle from the member's routed
// source directory, so the synthesized aggregate entry's "member" node is
// the real instance directory rather than an empty placeholder. Falls
// back to a fresh, empty directory when backing is nil or has no node
// under name yet (the child hasn't been opened through the source's own
// directory representation).
func (w *Watcher) openChild(name string) pdir.Directory {
	if w.backing != nil {
		if n, ok := w.backing.Get(name); ok {
			if child, ok := n.(pdir.Directory); ok {
				return child
			}
		}
	}
	return pdir.New()
}
