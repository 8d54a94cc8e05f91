// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package opts implements the per-socket option model (A4): storage for
// options that never reach the transport adapter, dual-stack isolation
// rules, and receive-side control-message assembly.
package opts

import (
	"gvisor.dev/gvisor/pkg/tcpip"

	"go.fuchsia.dev/netmux/internal/errs"
)

// TimestampOption selects the granularity of the socket-level receive
// timestamp cmsg.
type TimestampOption int

const (
	TimestampDisabled TimestampOption = iota
	TimestampMicrosecond
	TimestampNanosecond
)

// IPv6Sub holds the IPv6-specific subconfig for a socket. IPv4 has no
// equivalent fields today.
type IPv6Sub struct {
	RecvPktInfo bool
	RecvTClass  bool
}

// Domain distinguishes the protocol family a per-domain option (e.g. mark)
// applies to.
type Domain int

const (
	DomainIPv4 Domain = iota
	DomainIPv6
)

// Membership identifies one multicast group membership.
type Membership struct {
	InterfaceIndex uint32
	MulticastAddr  tcpip.Address
}

// Options is the full per-socket option set. It does no internal locking;
// the owning socket guards it with its own mutex.
type Options struct {
	IPv6 IPv6Sub

	ReceiveOriginalDestinationAddress bool
	Timestamp                         TimestampOption
	IPv4MulticastIfAddr               tcpip.Address
	IPRecvTOS                         bool

	SendBufferSize    int32
	ReuseAddress      bool
	ReusePort         bool
	Broadcast         bool
	IPv6Only          bool
	IPTransparent     bool
	BindToDevice      string
	BindToInterfaceIndex uint32

	UnicastHopLimitV4   uint8
	UnicastHopLimitV6   uint8
	MulticastHopLimitV4 uint8
	MulticastHopLimitV6 uint8
	MulticastLoopV4     bool
	MulticastLoopV6     bool
	MulticastIfIndexV4  uint32
	TrafficClassV4      uint8 // IP_TOS for outgoing packets
	TrafficClassV6      uint8 // IPV6_TCLASS for outgoing packets

	Marks map[Domain]uint32

	Memberships map[Membership]struct{}
}

// NewOptions returns an Options with sane zero-value defaults and
// initialized maps, used by socket construction.
func NewOptions() Options {
	return Options{
		Marks:       make(map[Domain]uint32),
		Memberships: make(map[Membership]struct{}),
	}
}

// IsV6 and IsDualStack describe the socket this Options instance belongs to;
// socket construction fills them in and they never change.
type Capability struct {
	IsV6         bool
	IsDualStack  bool // true only for UDP IPv6 sockets
}

// direction distinguishes a get from a set for the purposes of the
// dual-stack isolation rule below.
type direction int

const (
	dirGet direction = iota
	dirSet
)

// checkVersion implements the isolation rule for an option that belongs
// to IP version `wantV6`. A dual-stack UDP socket mirrors set/get for
// options where the kernel historically does so (passed via mirrored=true
// by the caller, e.g. hop limits and multicast loop); all others remain
// version-isolated even on a dual-stack socket.
func (c Capability) checkVersion(wantV6 bool, mirrored bool, dir direction) errs.Code {
	if c.IsDualStack && mirrored {
		return errs.CodeOK
	}
	sameVersion := wantV6 == c.IsV6
	if sameVersion {
		return errs.CodeOK
	}
	if !c.IsDualStack {
		if dir == dirSet {
			return errs.CodeNoProtocolOption
		}
		return errs.CodeOperationNotSupported
	}
	// Dual-stack but not a mirrored option: version-isolated.
	if dir == dirSet {
		return errs.CodeNoProtocolOption
	}
	return errs.CodeOperationNotSupported
}

// CheckSetV6Only validates access to an IPv6-only option.
func (c Capability) CheckSetV6Only() errs.Code { return c.checkVersion(true, false, dirSet) }

// CheckGetV6Only validates read access to an IPv6-only option.
func (c Capability) CheckGetV6Only() errs.Code { return c.checkVersion(true, false, dirGet) }

// CheckSetV4Only validates access to an IPv4-only option.
func (c Capability) CheckSetV4Only() errs.Code { return c.checkVersion(false, false, dirSet) }

// CheckGetV4Only validates read access to an IPv4-only option.
func (c Capability) CheckGetV4Only() errs.Code { return c.checkVersion(false, false, dirGet) }

// CheckSetMirrored validates access to an option mirrored across both
// versions on dual-stack UDP sockets (hop limits, multicast loop).
func (c Capability) CheckSetMirrored(wantV6 bool) errs.Code {
	return c.checkVersion(wantV6, true, dirSet)
}

// CheckGetMirrored validates read access to a mirrored option.
func (c Capability) CheckGetMirrored(wantV6 bool) errs.Code {
	return c.checkVersion(wantV6, true, dirGet)
}
