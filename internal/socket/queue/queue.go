// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package queue implements the per-socket bounded receive FIFO (A3). It is a
// pure data structure: every method runs synchronously under the caller's
// lock and never itself blocks.
package queue

import (
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/waiter"
)

// DefaultFloor is the minimum receive-buffer size; SetMax clamps anything
// below it silently upward.
const DefaultFloor = 4096

// AvailableMessage is one queued datagram.
type AvailableMessage struct {
	InterfaceID  uint64
	SrcAddr      tcpip.Address
	SrcPort      uint16
	DstAddr      tcpip.Address
	DstPort      uint16
	Timestamp    int64 // nanoseconds since the Unix epoch
	Payload      []byte
	DSCPAndECN   uint8
	DstWasV4Mapped bool
}

func (m AvailableMessage) size() int { return len(m.Payload) }

// Queue is a bounded FIFO with a readable-signal listener. The zero value is
// not usable; construct with New.
type Queue struct {
	wq      *waiter.Queue
	max     int
	used    int
	entries []AvailableMessage
}

// New creates a Queue of the given maximum payload-byte capacity (clamped to
// DefaultFloor) whose readable transitions are signalled on wq, the same
// waiter.Queue the owning endpoint's waiter-backed readability observers
// register against.
func New(wq *waiter.Queue, max int) *Queue {
	return &Queue{wq: wq, max: clamp(max)}
}

func clamp(max int) int {
	if max < DefaultFloor {
		return DefaultFloor
	}
	return max
}

// SetMax updates the capacity. It never evicts existing messages and never
// clamps below DefaultFloor.
func (q *Queue) SetMax(max int) {
	q.max = clamp(max)
}

// Max reports the current capacity.
func (q *Queue) Max() int { return q.max }

// Empty reports whether the queue currently holds no messages.
func (q *Queue) Empty() bool { return len(q.entries) == 0 }

// Len reports the number of queued messages.
func (q *Queue) Len() int { return len(q.entries) }

// Receive inserts msg at the tail. If doing so would exceed the configured
// maximum, msg is dropped and the existing queue is left untouched: the
// oldest retained message is kept, the new one is the one that is lost.
func (q *Queue) Receive(msg AvailableMessage) (accepted bool) {
	if q.used+msg.size() > q.max {
		return false
	}
	wasEmpty := q.Empty()
	q.entries = append(q.entries, msg)
	q.used += msg.size()
	if wasEmpty {
		q.wq.Notify(waiter.ReadableEvents)
	}
	return true
}

// Peek returns the head message without removing it.
func (q *Queue) Peek() (AvailableMessage, bool) {
	if q.Empty() {
		return AvailableMessage{}, false
	}
	return q.entries[0], true
}

// Pop removes and returns the head message. Waiters are not re-notified on
// the empty transition: nothing is waiting to be woken for "not readable",
// only for "readable" (Receive's transition). Readable() reflects the
// current state for callers (the recv path) that need to distinguish
// "empty, still open for read" from "empty, shut for read".
func (q *Queue) Pop() (AvailableMessage, bool) {
	if q.Empty() {
		return AvailableMessage{}, false
	}
	msg := q.entries[0]
	q.entries = q.entries[1:]
	q.used -= msg.size()
	return msg, true
}

// Readable reports whether the queue currently holds at least one message,
// the condition the recv path checks before deciding between
// try-again and EOF.
func (q *Queue) Readable() bool { return !q.Empty() }
