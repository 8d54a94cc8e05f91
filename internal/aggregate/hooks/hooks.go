// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package hooks implements B4: reacting to component-started/stopped
// lifecycle events by spawning or tearing down the per-member watchers
// that feed the aggregate directory.
package hooks

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"go.fuchsia.dev/netmux/internal/aggregate"
	"go.fuchsia.dev/netmux/internal/aggregate/member"
	"go.fuchsia.dev/netmux/internal/aggregate/watch"
	"go.fuchsia.dev/netmux/internal/logging"
)

// maxConcurrentEnumeration bounds how many members are routed and walked
// at once during eager construction-time enumeration.
const maxConcurrentEnumeration = 8

// watcherEntry is what Hooks tracks per live member so a stop event can
// tear the watcher down and so restart re-creates a fresh one. done
// receives the watcher's Run result exactly once, just before its
// goroutine exits, so Close can wait for and aggregate teardown errors.
type watcherEntry struct {
	instance uuid.UUID
	cancel   context.CancelFunc
	notifier *watch.FirstIdleNotifier
	done     chan error
}

// Hooks owns the watchers map and reacts to component lifecycle events for
// one aggregate.
type Hooks struct {
	route    member.AnonymizedServiceRoute
	router   member.CapabilityRouter
	dir      *aggregate.Directory
	newSrc   func(desc member.SourceDescriptor) watch.Source
	maxEnum  int64

	mu       sync.Mutex
	watchers map[string]*watcherEntry // moniker -> entry
}

// New constructs Hooks for route, resolving members through router and
// mutating dir. newSource builds the watch.Source to drive each member's
// watcher against (ordinarily watch.FSSource, parameterized here so tests
// can substitute a fake).
func New(route member.AnonymizedServiceRoute, router member.CapabilityRouter, dir *aggregate.Directory, newSource func(member.SourceDescriptor) watch.Source) *Hooks {
	return &Hooks{
		route:    route,
		router:   router,
		dir:      dir,
		newSrc:   newSource,
		maxEnum:  maxConcurrentEnumeration,
		watchers: make(map[string]*watcherEntry),
	}
}

// SetMaxConcurrentEnumeration overrides the concurrency bound used by
// EnumerateAtConstruction; n must be positive. It has no effect once
// EnumerateAtConstruction has already started.
func (h *Hooks) SetMaxConcurrentEnumeration(n int64) {
	if n <= 0 {
		return
	}
	h.maxEnum = n
}

// OnStarted reacts to a component-started event: if ev matches the route
// and no watcher exists yet for its moniker, it routes the moniker and
// spawns a watcher task. Routing failures are logged and skipped — the
// aggregate stays usable with partial membership.
func (h *Hooks) OnStarted(ctx context.Context, ev member.ComponentEvent) {
	if !member.MatchesChildComponent(h.route, ev) || !member.MatchesExposedService(h.route, ev) {
		return
	}

	h.mu.Lock()
	if _, exists := h.watchers[ev.Moniker]; exists {
		h.mu.Unlock()
		return
	}
	h.watchers[ev.Moniker] = &watcherEntry{}
	h.mu.Unlock()

	if err := h.spawn(ctx, ev); err != nil {
		glog.Infof("aggregate: route %s failed: %s", ev.Moniker, logging.Fields("component", ev.Moniker, "service_name", h.route.ServiceName, "error", err))
		h.mu.Lock()
		delete(h.watchers, ev.Moniker)
		h.mu.Unlock()
	}
}

func (h *Hooks) spawn(ctx context.Context, ev member.ComponentEvent) error {
	backing, desc, err := h.router.Route(ctx, ev.Moniker)
	if err != nil {
		return err
	}

	instance := uuid.New()
	notifier := watch.NewFirstIdleNotifier()
	watchCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	h.mu.Lock()
	if _, exists := h.watchers[ev.Moniker]; !exists {
		h.mu.Unlock()
		cancel()
		return nil
	}
	h.watchers[ev.Moniker] = &watcherEntry{instance: instance, cancel: cancel, notifier: notifier, done: done}
	h.mu.Unlock()

	w := watch.New(instance, h.newSrc(desc), desc.PathSegments, desc.IsComponent, backing, h.dir, notifier)
	go func() {
		runErr := w.Run(watchCtx)
		if runErr != nil {
			glog.Infof("aggregate: watcher for %s exited: %s", ev.Moniker, logging.Fields("error", runErr))
		}
		h.mu.Lock()
		delete(h.watchers, ev.Moniker)
		h.mu.Unlock()
		h.dir.RemoveAllForMember(instance)
		done <- runErr
		close(done)
	}()
	return nil
}

// OnStopped implements component-stopped hook: removes every
// aggregate entry for the member and drops its watcher entry, which makes
// the watcher task's next cancellation check exit it.
func (h *Hooks) OnStopped(ev member.ComponentEvent) {
	h.mu.Lock()
	entry, ok := h.watchers[ev.Moniker]
	if ok {
		delete(h.watchers, ev.Moniker)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	h.dir.RemoveAllForMember(entry.instance)
	if entry.cancel != nil {
		entry.cancel()
	}
}

// EnumerateAtConstruction implements "eagerly enumerate all current
// members" construction-time behavior: each member is routed and watched
// concurrently (bounded by a semaphore), and the call blocks until every
// member has reached first-idle (or failed, in which case it is logged
// and skipped) so that a caller listing the aggregate immediately
// afterward sees all initially-available instances.
func (h *Hooks) EnumerateAtConstruction(ctx context.Context, members []member.ComponentEvent) error {
	sem := semaphore.NewWeighted(h.maxEnum)
	eg, egCtx := errgroup.WithContext(ctx)

	for _, ev := range members {
		ev := ev
		if !member.MatchesChildComponent(h.route, ev) || !member.MatchesExposedService(h.route, ev) {
			continue
		}
		eg.Go(func() error {
			if err := sem.Acquire(egCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			h.mu.Lock()
			if _, exists := h.watchers[ev.Moniker]; exists {
				h.mu.Unlock()
				return nil
			}
			h.watchers[ev.Moniker] = &watcherEntry{}
			h.mu.Unlock()

			if err := h.spawn(egCtx, ev); err != nil {
				glog.Infof("aggregate: enumerate %s failed: %s", ev.Moniker, logging.Fields("component", ev.Moniker, "service_name", h.route.ServiceName, "error", err))
				h.mu.Lock()
				delete(h.watchers, ev.Moniker)
				h.mu.Unlock()
				return nil
			}

			h.mu.Lock()
			entry := h.watchers[ev.Moniker]
			h.mu.Unlock()
			if entry == nil || entry.notifier == nil {
				return nil
			}
			select {
			case <-entry.notifier.Done():
			case <-egCtx.Done():
				return egCtx.Err()
			}
			return nil
		})
	}

	// Spawn failures are logged and skipped by the closure above; only a
	// cancelled context propagates as an error here.
	return eg.Wait()
}

// Close cancels every live watcher and blocks until each has actually
// torn down, combining any non-nil Run errors (Watcher.Run returns one
// when its Walk or Watch failed, including a Walk cut short by
// cancellation before its path materialized) into a single error.
func (h *Hooks) Close() error {
	h.mu.Lock()
	entries := make([]*watcherEntry, 0, len(h.watchers))
	for _, e := range h.watchers {
		entries = append(entries, e)
	}
	h.watchers = make(map[string]*watcherEntry)
	h.mu.Unlock()

	for _, e := range entries {
		if e.cancel != nil {
			e.cancel()
		}
	}

	var errs []error
	for _, e := range entries {
		if e.done == nil {
			continue
		}
		if err := <-e.done; err != nil {
			errs = append(errs, err)
		}
	}
	return multierr.Combine(errs...)
}
