// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging

import (
	"errors"
	"testing"
)

func TestFieldsFormatsKeyValuePairs(t *testing.T) {
	got := Fields("component", "core/foo", "error", errors.New("boom"))
	want := "component=core/foo error=boom"
	if got != want {
		t.Errorf("Fields() = %q, want %q", got, want)
	}
}

func TestFieldsNilError(t *testing.T) {
	got := Fields("error", error(nil))
	want := "error=<nil>"
	if got != want {
		t.Errorf("Fields() = %q, want %q", got, want)
	}
}

func TestFieldsOddTrailingKeyDropped(t *testing.T) {
	got := Fields("a", "1", "dangling")
	want := "a=1"
	if got != want {
		t.Errorf("Fields() = %q, want %q", got, want)
	}
}
