// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package member implements B2: the route-matching predicates and
// capability-routing contract an aggregate uses to turn a started
// component into a directory handle it can watch.
package member

import (
	"context"
	"fmt"

	"go.fuchsia.dev/netmux/internal/pdir"
)

// Kind distinguishes the four ways a component can contribute to an
// aggregate.
type Kind int

const (
	KindParent Kind = iota
	KindSelf
	KindChild
	KindCollection
)

func (k Kind) String() string {
	switch k {
	case KindParent:
		return "parent"
	case KindSelf:
		return "self"
	case KindChild:
		return "child"
	case KindCollection:
		return "collection"
	default:
		return "unknown"
	}
}

// Member is one entry in an AnonymizedServiceRoute: a static identity
// naming either the parent, the aggregate's own component, a named static
// child, or a named collection.
type Member struct {
	Kind Kind
	Name string // child or collection name; empty for Parent/Self
}

// AnonymizedServiceRoute is the static identity that defines an aggregate:
// which members contribute, and under which service name.
type AnonymizedServiceRoute struct {
	SourceMoniker string
	Members       []Member
	ServiceName   string
}

// ComponentEvent describes one started/stopped component, the input to the
// two predicates below and to B4's lifecycle hooks.
type ComponentEvent struct {
	Moniker         string
	Parent          string
	Leaf            string
	Collection      string // non-empty if Leaf is a dynamic collection member
	ExposedServices []string
}

// MatchesChildComponent is true when ev's parent equals the route's source
// moniker and ev's leaf is either a named child in the route or belongs to
// a named collection in the route.
func MatchesChildComponent(route AnonymizedServiceRoute, ev ComponentEvent) bool {
	if ev.Parent != route.SourceMoniker {
		return false
	}
	for _, m := range route.Members {
		switch m.Kind {
		case KindChild:
			if m.Name == ev.Leaf {
				return true
			}
		case KindCollection:
			if ev.Collection != "" && m.Name == ev.Collection {
				return true
			}
		}
	}
	return false
}

// MatchesExposedService is true when ev exposes a service with the route's
// service_name.
func MatchesExposedService(route AnonymizedServiceRoute, ev ComponentEvent) bool {
	for _, s := range ev.ExposedServices {
		if s == route.ServiceName {
			return true
		}
	}
	return false
}

// RouteErrorKind distinguishes a moniker that never resolves from the
// at-invocation route-unavailable failure.
type RouteErrorKind int

const (
	ErrKindParentNotFound RouteErrorKind = iota
	ErrKindChildNotFound
	ErrKindSelfInvariant
	ErrKindRouteUnavailable
)

// RouteError is returned by a CapabilityRouter when resolution or
// invocation fails.
type RouteError struct {
	Kind    RouteErrorKind
	Moniker string
}

func (e *RouteError) Error() string {
	switch e.Kind {
	case ErrKindParentNotFound:
		return fmt.Sprintf("member %s: parent not found", e.Moniker)
	case ErrKindChildNotFound:
		return fmt.Sprintf("member %s: child not found", e.Moniker)
	case ErrKindSelfInvariant:
		return fmt.Sprintf("member %s: self member invariant violated", e.Moniker)
	case ErrKindRouteUnavailable:
		return fmt.Sprintf("member %s: route unavailable", e.Moniker)
	default:
		return fmt.Sprintf("member %s: unknown route error", e.Moniker)
	}
}

// SourceDescriptor describes where a routed member's service directory
// comes from: the path segments B3 walks to materialize it, and whether a
// walk applies at all (it is skipped entirely for a nested-aggregate
// source).
type SourceDescriptor struct {
	Moniker      string
	PathSegments []string
	IsComponent  bool
}

// CapabilityRouter resolves a moniker to a directory handle for its
// exposed service, plus a descriptor of where that directory came from.
// It is the only piece of B that calls into the surrounding (here,
// simulated) capability-routing system.
type CapabilityRouter interface {
	Route(ctx context.Context, moniker string) (pdir.Directory, SourceDescriptor, error)
}

// target is one registered routing destination backing Provider.
type target struct {
	dir      pdir.Directory
	segments []string
	isComp   bool
}

// Provider is a small in-memory CapabilityRouter: a registry of known
// parent/self/child/collection-member directories, keyed by moniker. It
// stands in for the real component-manager capability-routing system,
// which is explicitly out of scope.
type Provider struct {
	parent   *target
	self     *target
	children map[string]*target
}

var _ CapabilityRouter = (*Provider)(nil)

// NewProvider creates an empty Provider; call the Register* methods to
// populate it before use.
func NewProvider() *Provider {
	return &Provider{children: make(map[string]*target)}
}

// RegisterParent installs the directory routed to for Member{Kind: KindParent}.
func (p *Provider) RegisterParent(dir pdir.Directory, segments []string, isComponent bool) {
	p.parent = &target{dir: dir, segments: segments, isComp: isComponent}
}

// RegisterSelf installs the directory routed to for Member{Kind: KindSelf}.
func (p *Provider) RegisterSelf(dir pdir.Directory, segments []string, isComponent bool) {
	p.self = &target{dir: dir, segments: segments, isComp: isComponent}
}

// RegisterChild installs a static or dynamic-collection child component,
// keyed by the moniker the caller passes (cmd/netmuxd passes the full
// moniker, source moniker plus child name), the unit B4 watches
// independently.
func (p *Provider) RegisterChild(moniker string, dir pdir.Directory, segments []string, isComponent bool) {
	p.children[moniker] = &target{dir: dir, segments: segments, isComp: isComponent}
}

// Unregister drops a previously-registered child, simulating the backing
// directory disappearing when its component stops.
func (p *Provider) Unregister(moniker string) {
	delete(p.children, moniker)
}

// Route implements CapabilityRouter. "parent" and "self" are reserved
// monikers resolving to the singleton parent/self targets; any other
// moniker is looked up among registered children.
func (p *Provider) Route(ctx context.Context, moniker string) (pdir.Directory, SourceDescriptor, error) {
	switch moniker {
	case "parent":
		if p.parent == nil {
			return nil, SourceDescriptor{}, &RouteError{Kind: ErrKindParentNotFound, Moniker: moniker}
		}
		return p.parent.dir, SourceDescriptor{Moniker: moniker, PathSegments: p.parent.segments, IsComponent: p.parent.isComp}, nil
	case "self":
		if p.self == nil {
			return nil, SourceDescriptor{}, &RouteError{Kind: ErrKindSelfInvariant, Moniker: moniker}
		}
		return p.self.dir, SourceDescriptor{Moniker: moniker, PathSegments: p.self.segments, IsComponent: p.self.isComp}, nil
	default:
		t, ok := p.children[moniker]
		if !ok {
			return nil, SourceDescriptor{}, &RouteError{Kind: ErrKindChildNotFound, Moniker: moniker}
		}
		if t.dir == nil {
			return nil, SourceDescriptor{}, &RouteError{Kind: ErrKindRouteUnavailable, Moniker: moniker}
		}
		return t.dir, SourceDescriptor{Moniker: moniker, PathSegments: t.segments, IsComponent: t.isComp}, nil
	}
}
