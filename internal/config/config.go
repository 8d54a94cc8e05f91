// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config holds the immutable process configuration for netmuxd,
// parsed once at startup from command-line flags.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Config is the fully-resolved, read-only process configuration. Nothing
// downstream of Parse mutates it.
type Config struct {
	// SourceMoniker is the moniker of the component whose outgoing
	// directory subtrees are aggregated.
	SourceMoniker string
	// ServiceName is the capability name exposed under each aggregated
	// instance's directory entry.
	ServiceName string
	// StaticChildren are the named static children that contribute
	// instances, in addition to any collection members.
	StaticChildren []string
	// Collections are the named dynamic collections watched for
	// instance members.
	Collections []string
	// IncludeParent aggregates the parent's own directory as a member.
	IncludeParent bool
	// IncludeSelf aggregates the component's own directory as a member.
	IncludeSelf bool
	// WatchRoot is the filesystem directory standing in for the
	// component-manager-provided outgoing-directory tree that FSSource
	// watches.
	WatchRoot string
	// ReceiveBufferFloor is parsed and validated only; new sockets do not
	// read it and start at queue.DefaultFloor.
	ReceiveBufferFloor int
	// MaxConcurrentEnumeration bounds how many member routes are
	// resolved concurrently during eager construction-time enumeration.
	MaxConcurrentEnumeration int64
}

// Parse registers netmuxd's own flags onto fs, parses args (typically
// os.Args[1:]) into a Config, and validates it. Callers that also merge
// glog's flags onto fs (see internal/logging.Init) get a single combined
// parse; fs is otherwise unused. The returned error, if non-nil, already
// has usage text appended by pflag's own error formatting.
func Parse(fs *pflag.FlagSet, args []string) (Config, error) {
	sourceMoniker := fs.String("source-moniker", "", "moniker of the component whose directory is aggregated (required)")
	serviceName := fs.String("service-name", "", "capability name exposed under each aggregated instance (required)")
	staticChildren := fs.StringSlice("static-child", nil, "named static child to aggregate; repeatable")
	collections := fs.StringSlice("collection", nil, "named dynamic collection to aggregate; repeatable")
	includeParent := fs.Bool("include-parent", false, "aggregate the parent's own directory as a member")
	includeSelf := fs.Bool("include-self", false, "aggregate this component's own directory as a member")
	watchRoot := fs.String("watch-root", "", "filesystem directory standing in for the watched outgoing-directory tree (required)")
	recvBufferFloor := fs.Int("receive-buffer-floor", 4096, "receive-queue byte capacity floor; validated only, not applied to sockets")
	maxConcurrentEnumeration := fs.Int64("max-concurrent-enumeration", 8, "max concurrent member routes resolved during construction-time enumeration")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		SourceMoniker:            *sourceMoniker,
		ServiceName:              *serviceName,
		StaticChildren:           *staticChildren,
		Collections:              *collections,
		IncludeParent:            *includeParent,
		IncludeSelf:              *includeSelf,
		WatchRoot:                *watchRoot,
		ReceiveBufferFloor:       *recvBufferFloor,
		MaxConcurrentEnumeration: *maxConcurrentEnumeration,
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SourceMoniker == "" {
		return fmt.Errorf("config: --source-moniker is required")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("config: --service-name is required")
	}
	if c.WatchRoot == "" {
		return fmt.Errorf("config: --watch-root is required")
	}
	if len(c.StaticChildren) == 0 && len(c.Collections) == 0 && !c.IncludeParent && !c.IncludeSelf {
		return fmt.Errorf("config: at least one of --static-child, --collection, --include-parent, --include-self is required")
	}
	if c.ReceiveBufferFloor <= 0 {
		return fmt.Errorf("config: --receive-buffer-floor must be positive, got %d", c.ReceiveBufferFloor)
	}
	if c.MaxConcurrentEnumeration <= 0 {
		return fmt.Errorf("config: --max-concurrent-enumeration must be positive, got %d", c.MaxConcurrentEnumeration)
	}
	return nil
}
