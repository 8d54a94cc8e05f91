// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package logging wires glog's flags into the pflag-based command line and
// provides the key=value field formatting netmuxd's components use, the
// same plain-printf idiom the rest of the stack logs with.
package logging

import (
	"flag"
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
)

// Init merges glog's own flags (-v, -logtostderr, -alsologtostderr, ...)
// into fs so a single flag.Parse surface covers both netmuxd's own flags
// and glog's, then marks them hidden from --help: they're runtime knobs,
// not part of netmuxd's documented interface.
func Init(fs *pflag.FlagSet) {
	gofs := flag.NewFlagSet("glog", flag.ContinueOnError)
	glog.InitFlags(gofs)
	fs.AddGoFlagSet(gofs)
	gofs.VisitAll(func(f *flag.Flag) {
		if pf := fs.Lookup(f.Name); pf != nil {
			pf.Hidden = true
		}
	})
}

// Flush flushes any buffered log entries. Call it once at process exit,
// after the last glog call.
func Flush() { glog.Flush() }

// Fields renders a sequence of key=value pairs for glog's plain-printf
// idiom, e.g. Fields("component", ev.Moniker, "error", err) ->
// "component=foo error=<nil>". kvs must have an even length; an odd
// trailing key is dropped silently since this only ever formats
// fixed call-site argument lists.
func Fields(kvs ...interface{}) string {
	var b strings.Builder
	for i := 0; i+1 < len(kvs); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(formatPair(kvs[i], kvs[i+1]))
	}
	return b.String()
}

func formatPair(key, value interface{}) string {
	return toString(key) + "=" + toString(value)
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		if t == nil {
			return "<nil>"
		}
		return t.Error()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
