// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package hooks

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies no test in this package leaks a goroutine: every
// live watcher Hooks spawns in spawn() must exit once OnStopped or Close
// cancels it.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreCurrent())
}
