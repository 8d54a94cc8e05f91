// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command netmuxd hosts a datagram socket multiplexer (Core A) alongside an
// anonymized-service aggregate directory (Core B) for one configured
// AnonymizedServiceRoute, wiring B4's lifecycle hooks to a filesystem-backed
// stand-in for the component-manager event stream.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"go.fuchsia.dev/netmux/internal/aggregate"
	"go.fuchsia.dev/netmux/internal/aggregate/hooks"
	"go.fuchsia.dev/netmux/internal/aggregate/lifecycle"
	"go.fuchsia.dev/netmux/internal/aggregate/member"
	"go.fuchsia.dev/netmux/internal/aggregate/watch"
	"go.fuchsia.dev/netmux/internal/config"
	"go.fuchsia.dev/netmux/internal/logging"
	"go.fuchsia.dev/netmux/internal/pdir"
	"go.fuchsia.dev/netmux/internal/socket"
)

func main() {
	fs := pflag.NewFlagSet("netmuxd", pflag.ExitOnError)
	logging.Init(fs)
	cfg, err := config.Parse(fs, os.Args[1:])
	if err != nil {
		glog.Exitf("netmuxd: %v", err)
	}
	defer logging.Flush()

	route := buildRoute(cfg)
	router := buildRouter(cfg)
	dir := aggregate.New()
	h := hooks.New(route, router, dir, func(member.SourceDescriptor) watch.Source {
		return watch.FSSource{Root: cfg.WatchRoot}
	})
	h.SetMaxConcurrentEnumeration(cfg.MaxConcurrentEnumeration)

	// Core A's socket multiplexer is constructed here so it is live for
	// in-process callers; exposing it over a wire protocol is out of scope.
	sockets := socket.NewTable()
	glog.V(1).Infof("netmuxd: socket table ready: %s", logging.Fields("len", sockets.Len()))

	lc := lifecycle.New(cfg.WatchRoot, cfg.SourceMoniker, cfg.ServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Parent/self are always present from process start, never started or
	// stopped as lifecycle events, so their watchers are spawned directly
	// rather than through Hooks.OnStarted/EnumerateAtConstruction, which
	// only drive the named-child/collection members.
	if cfg.IncludeParent {
		spawnStaticWatcher(ctx, router, dir, cfg.WatchRoot, "parent")
	}
	if cfg.IncludeSelf {
		spawnStaticWatcher(ctx, router, dir, cfg.WatchRoot, "self")
	}

	initial, err := lc.Enumerate(ctx)
	if err != nil {
		glog.Exitf("netmuxd: initial enumeration of %s: %v", cfg.WatchRoot, err)
	}
	if err := h.EnumerateAtConstruction(ctx, initial); err != nil {
		glog.Errorf("netmuxd: construction-time enumeration: %s", logging.Fields("error", err))
	}

	events, err := lc.Watch(ctx)
	if err != nil {
		glog.Exitf("netmuxd: watch %s: %v", cfg.WatchRoot, err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	glog.Infof("netmuxd: aggregating %s", logging.Fields("source", cfg.SourceMoniker, "service_name", cfg.ServiceName, "watch_root", cfg.WatchRoot))
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				glog.Errorf("netmuxd: lifecycle source closed unexpectedly")
				shutdown(cancel, h)
				return
			}
			if ev.Started {
				h.OnStarted(ctx, ev.ComponentEvent)
			} else {
				h.OnStopped(ev.ComponentEvent)
			}
		case <-sigs:
			glog.Infof("netmuxd: received shutdown signal")
			shutdown(cancel, h)
			return
		}
	}
}

// spawnStaticWatcher routes moniker ("parent" or "self") and runs its
// watcher for the remaining process lifetime; routing failures are logged
// since the reserved moniker was never registered (router construction
// bug, not a transient condition).
func spawnStaticWatcher(ctx context.Context, router member.CapabilityRouter, dir *aggregate.Directory, watchRoot, moniker string) {
	backing, desc, err := router.Route(ctx, moniker)
	if err != nil {
		glog.Errorf("netmuxd: route %s: %s", moniker, logging.Fields("error", err))
		return
	}
	notifier := watch.NewFirstIdleNotifier()
	w := watch.New(uuid.New(), watch.FSSource{Root: watchRoot}, desc.PathSegments, desc.IsComponent, backing, dir, notifier)
	go func() {
		if err := w.Run(ctx); err != nil {
			glog.Errorf("netmuxd: %s watcher exited: %s", moniker, logging.Fields("error", err))
		}
	}()
}

func shutdown(cancel context.CancelFunc, h *hooks.Hooks) {
	cancel()
	if err := h.Close(); err != nil {
		glog.Errorf("netmuxd: shutdown: %s", logging.Fields("error", err))
	}
}

// buildRoute turns the flag-level configuration into the static
// AnonymizedServiceRoute identity that defines the aggregate.
func buildRoute(cfg config.Config) member.AnonymizedServiceRoute {
	var members []member.Member
	if cfg.IncludeParent {
		members = append(members, member.Member{Kind: member.KindParent})
	}
	if cfg.IncludeSelf {
		members = append(members, member.Member{Kind: member.KindSelf})
	}
	for _, c := range cfg.StaticChildren {
		members = append(members, member.Member{Kind: member.KindChild, Name: c})
	}
	for _, c := range cfg.Collections {
		members = append(members, member.Member{Kind: member.KindCollection, Name: c})
	}
	return member.AnonymizedServiceRoute{
		SourceMoniker: cfg.SourceMoniker,
		Members:       members,
		ServiceName:   cfg.ServiceName,
	}
}

// buildRouter constructs the in-memory CapabilityRouter standing in for
// the real component-manager capability-routing system: every member
// resolves to an empty placeholder directory, since the watcher drives
// entirely off segments walked under cfg.WatchRoot rather than off this
// directory's contents.
func buildRouter(cfg config.Config) member.CapabilityRouter {
	p := member.NewProvider()
	if cfg.IncludeParent {
		p.RegisterParent(pdir.New(), []string{"parent"}, true)
	}
	if cfg.IncludeSelf {
		p.RegisterSelf(pdir.New(), []string{"self"}, true)
	}
	for _, c := range cfg.StaticChildren {
		moniker := cfg.SourceMoniker + "/" + c
		p.RegisterChild(moniker, pdir.New(), []string{c}, true)
	}
	// Dynamic collection members are registered as they start, keyed by
	// their own moniker; see dynamicRouter.Route.
	return dynamicRouter{Provider: p}
}

// dynamicRouter wraps member.Provider so a moniker never registered ahead
// of time (a dynamic collection member) still resolves, by deriving its
// path segments from its own leaf name on first Route call.
type dynamicRouter struct {
	*member.Provider
}

func (d dynamicRouter) Route(ctx context.Context, moniker string) (pdir.Directory, member.SourceDescriptor, error) {
	if dir, desc, err := d.Provider.Route(ctx, moniker); err == nil {
		return dir, desc, nil
	}
	leaf := moniker
	if idx := lastSlash(moniker); idx >= 0 {
		leaf = moniker[idx+1:]
	}
	d.Provider.RegisterChild(moniker, pdir.New(), []string{leaf}, true)
	return d.Provider.Route(ctx, moniker)
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
