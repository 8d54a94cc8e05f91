// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package pdir

import "testing"

func TestSetReportsInsertedVsReplaced(t *testing.T) {
	d := New()
	if inserted := d.Set("a", &File{Contents: "1"}); !inserted {
		t.Errorf("Set(a) first call inserted = false, want true")
	}
	if inserted := d.Set("a", &File{Contents: "2"}); inserted {
		t.Errorf("Set(a) second call inserted = true, want false")
	}
	if got, want := d.Len(), 1; got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
	n, ok := d.Get("a")
	if !ok {
		t.Fatalf("Get(a) ok = false, want true")
	}
	if got, want := n.(*File).Contents, "2"; got != want {
		t.Errorf("Get(a) Contents = %q, want %q", got, want)
	}
}

func TestGetMissingReturnsFalse(t *testing.T) {
	d := New()
	if _, ok := d.Get("missing"); ok {
		t.Errorf("Get(missing) ok = true, want false")
	}
}

func TestRemoveReportsPresence(t *testing.T) {
	d := New()
	d.Set("a", &File{})
	if removed := d.Remove("a"); !removed {
		t.Errorf("Remove(a) = false, want true")
	}
	if removed := d.Remove("a"); removed {
		t.Errorf("Remove(a) second call = true, want false")
	}
	if got, want := d.Len(), 0; got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
}

func TestForEachStableOrderIsSorted(t *testing.T) {
	d := New()
	d.Set("zeta", &File{})
	d.Set("alpha", &File{})
	d.Set("mike", &File{})

	var got []string
	err := d.ForEach(func(name string, n Node) error {
		got = append(got, name)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach() error = %v", err)
	}
	want := []string{"alpha", "mike", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("ForEach() visited %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ForEach() order[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestForEachStopsOnFirstError(t *testing.T) {
	d := New()
	d.Set("a", &File{})
	d.Set("b", &File{})
	sentinel := errStop{}

	var visited int
	err := d.ForEach(func(name string, n Node) error {
		visited++
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("ForEach() error = %v, want sentinel", err)
	}
	if visited != 1 {
		t.Errorf("ForEach() visited %d entries, want 1", visited)
	}
}

type errStop struct{}

func (errStop) Error() string { return "stop" }

func TestMutableIsDirectoryAndNode(t *testing.T) {
	var _ Directory = New()
	var _ Node = New()
	var _ Node = &File{}
}
