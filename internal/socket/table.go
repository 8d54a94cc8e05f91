// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package socket

import (
	"sync"

	"go.fuchsia.dev/netmux/internal/socket/transport"
)

// Table owns the ID-to-Socket mapping for one multiplexer instance. This
// table — not any Socket itself — is the sole global registry; a Socket
// knows nothing about how it was named.
type Table struct {
	mu      sync.Mutex
	next    ID
	sockets map[ID]*Socket
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{sockets: make(map[ID]*Socket)}
}

// Create allocates a new ID, constructs a Socket around t, and registers it.
func (tb *Table) Create(t transport.Transport, isV6, isDualStack bool) *Socket {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.next++
	id := tb.next
	s := New(id, t, isV6, isDualStack)
	tb.sockets[id] = s
	return s
}

// Lookup returns the Socket for id, if still registered.
func (tb *Table) Lookup(id ID) (*Socket, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	s, ok := tb.sockets[id]
	return s, ok
}

// Remove drops id from the table. It does not touch the Socket's own
// refcount; callers close the Worker first so DecRef can report whether the
// last stream just went away.
func (tb *Table) Remove(id ID) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	delete(tb.sockets, id)
}

// Len reports the number of live entries, chiefly for tests and diagnostics.
func (tb *Table) Len() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.sockets)
}
