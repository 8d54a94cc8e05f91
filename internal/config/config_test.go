// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
)

func TestParseMinimalValid(t *testing.T) {
	cfg, err := Parse(pflag.NewFlagSet("test", pflag.ContinueOnError), []string{
		"--source-moniker=core/foo",
		"--service-name=fuchsia.example.Echo",
		"--watch-root=/tmp/netmuxd-watch",
		"--static-child=bar",
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.SourceMoniker != "core/foo" {
		t.Errorf("SourceMoniker = %q, want %q", cfg.SourceMoniker, "core/foo")
	}
	if diff := cmp.Diff([]string{"bar"}, cfg.StaticChildren); diff != "" {
		t.Errorf("StaticChildren mismatch (-want +got):\n%s", diff)
	}
	if cfg.ReceiveBufferFloor != 4096 {
		t.Errorf("ReceiveBufferFloor = %d, want default 4096", cfg.ReceiveBufferFloor)
	}
}

func TestParseMissingSourceMoniker(t *testing.T) {
	_, err := Parse(pflag.NewFlagSet("test", pflag.ContinueOnError), []string{
		"--service-name=fuchsia.example.Echo",
		"--watch-root=/tmp/netmuxd-watch",
		"--static-child=bar",
	})
	if err == nil {
		t.Fatalf("Parse() error = nil, want missing --source-moniker error")
	}
}

func TestParseNoMembersConfigured(t *testing.T) {
	_, err := Parse(pflag.NewFlagSet("test", pflag.ContinueOnError), []string{
		"--source-moniker=core/foo",
		"--service-name=fuchsia.example.Echo",
		"--watch-root=/tmp/netmuxd-watch",
	})
	if err == nil {
		t.Fatalf("Parse() error = nil, want error for no members configured")
	}
}

func TestParseCollectionsAndFlags(t *testing.T) {
	cfg, err := Parse(pflag.NewFlagSet("test", pflag.ContinueOnError), []string{
		"--source-moniker=core/foo",
		"--service-name=fuchsia.example.Echo",
		"--watch-root=/tmp/netmuxd-watch",
		"--collection=workers",
		"--include-parent",
		"--include-self",
		"--max-concurrent-enumeration=4",
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !cfg.IncludeParent || !cfg.IncludeSelf {
		t.Errorf("IncludeParent/IncludeSelf = %v/%v, want true/true", cfg.IncludeParent, cfg.IncludeSelf)
	}
	if diff := cmp.Diff([]string{"workers"}, cfg.Collections); diff != "" {
		t.Errorf("Collections mismatch (-want +got):\n%s", diff)
	}
	if cfg.MaxConcurrentEnumeration != 4 {
		t.Errorf("MaxConcurrentEnumeration = %d, want 4", cfg.MaxConcurrentEnumeration)
	}
}
