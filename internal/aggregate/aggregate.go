// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package aggregate implements B1: the merged directory and entry map that
// republish member-component service instances under synthesized names.
package aggregate

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"

	"go.fuchsia.dev/netmux/internal/pdir"
)

// InstanceKey names one entry by the member that contributed it and the
// instance name that member's watcher reported.
type InstanceKey struct {
	Member   uuid.UUID
	Instance string
}

// Entry is one synthesized aggregate entry.
type Entry struct {
	SyntheticName string
	BackingDir    pdir.Directory
	SourceMember  uuid.UUID
	InstanceName  string
}

// Directory hosts the merged pseudo-directory and its entry map, guarded
// by a single mutex standing in for "async mutex" (this repo
// has no cooperative scheduler to serialize against, so a plain
// sync.Mutex provides the same mutual exclusion).
type Directory struct {
	mu       sync.Mutex
	root     *pdir.Mutable
	entries  map[InstanceKey]*Entry
	byName   map[string]InstanceKey
	byMember map[uuid.UUID][]InstanceKey
}

// New creates an empty aggregate directory.
func New() *Directory {
	return &Directory{
		root:     pdir.New(),
		entries:  make(map[InstanceKey]*Entry),
		byName:   make(map[string]InstanceKey),
		byMember: make(map[uuid.UUID][]InstanceKey),
	}
}

// Root exposes the merged pseudo-directory for listing.
func (d *Directory) Root() pdir.Directory { return d.root }

// Add is idempotent on an already-present
// (member, instance) pair, otherwise generates a unique random 128-bit
// synthetic name and inserts atomically into both the entry map and the
// merged directory node.
func (d *Directory) Add(member uuid.UUID, instance string, backing pdir.Directory) (*Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := InstanceKey{Member: member, Instance: instance}
	if _, exists := d.entries[key]; exists {
		return nil, false
	}

	name := d.drawSyntheticNameLocked()
	entry := &Entry{
		SyntheticName: name,
		BackingDir:    backing,
		SourceMember:  member,
		InstanceName:  instance,
	}
	d.entries[key] = entry
	d.byName[name] = key
	d.byMember[member] = append(d.byMember[member], key)

	node := pdir.New()
	node.Set("member", backing)
	d.root.Set(name, node)

	return entry, true
}

// drawSyntheticNameLocked generates a 32-char lowercase-hex name from a
// cryptographically-uniform 128-bit source, re-drawing on the
// astronomically rare collision.
func (d *Directory) drawSyntheticNameLocked() string {
	for {
		var b [16]byte
		if _, err := rand.Read(b[:]); err != nil {
			panic("aggregate: crypto/rand unavailable: " + err.Error())
		}
		name := hex.EncodeToString(b[:])
		if _, collide := d.byName[name]; !collide {
			return name
		}
	}
}

// Remove deletes the entry keyed by (member, instance) and its directory
// node, reporting whether it was present.
func (d *Directory) Remove(member uuid.UUID, instance string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removeLocked(InstanceKey{Member: member, Instance: instance})
}

func (d *Directory) removeLocked(key InstanceKey) bool {
	entry, ok := d.entries[key]
	if !ok {
		return false
	}
	delete(d.entries, key)
	delete(d.byName, entry.SyntheticName)
	d.root.Remove(entry.SyntheticName)

	members := d.byMember[key.Member]
	for i, k := range members {
		if k == key {
			d.byMember[key.Member] = append(members[:i], members[i+1:]...)
			break
		}
	}
	if len(d.byMember[key.Member]) == 0 {
		delete(d.byMember, key.Member)
	}
	return true
}

// RemoveAllForMember atomically removes every entry whose source member
// equals member, the bulk removal a component-stopped event triggers, and
// reports how many were removed.
func (d *Directory) RemoveAllForMember(member uuid.UUID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := append([]InstanceKey(nil), d.byMember[member]...)
	for _, key := range keys {
		d.removeLocked(key)
	}
	return len(keys)
}

// Len reports the total number of live entries, used by tests asserting
// the entry counts in aggregate scenarios.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Lookup returns the entry for (member, instance), if present — chiefly
// for tests asserting synthetic-name stability/non-stability across
// restarts (scenario 6).
func (d *Directory) Lookup(member uuid.UUID, instance string) (*Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[InstanceKey{Member: member, Instance: instance}]
	return e, ok
}
