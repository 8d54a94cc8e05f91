// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package opts

import "gvisor.dev/gvisor/pkg/tcpip"

// PktInfo carries the IPv6 PKTINFO cmsg payload.
type PktInfo struct {
	InterfaceID      uint64
	HeaderDstAddr    tcpip.Address
}

// Timestamp carries the socket-level timestamp cmsg payload.
type Timestamp struct {
	Nanoseconds         int64
	RequestedGranularity TimestampOption
}

// ControlData is the structured receive-side cmsg bundle returned alongside
// a received datagram. Every field is optional; nil/zero means "absent".
type ControlData struct {
	IPTOS                       *uint8
	IPOriginalDestinationAddress *tcpip.FullAddress
	IPv6PktInfo                 *PktInfo
	IPv6TClass                  *uint8
	SocketTimestamp              *Timestamp
}

// RecvInput is everything the cmsg assembler needs to know about one
// received datagram and the socket's configuration at recv time.
type RecvInput struct {
	Options   Options
	Cap       Capability
	DstV4Mapped bool
	DstWasV4   bool
	DstAddr   tcpip.Address
	InterfaceID uint64
	DSCPAndECN uint8
	NowNanos   int64
}

// Assemble builds the ControlData for one received datagram per the rules
// in step 4:
//
//   - IPv4 IP_TOS from the DSCP/ECN byte if ip_recv_tos and the destination
//     was IPv4 (including IPv4-mapped on dual-stack).
//   - IP_ORIGDSTADDR if requested and the destination was IPv4.
//   - IPv6 PKTINFO carrying (interface_id, header_dst_addr) if enabled.
//   - IPv6 TCLASS if enabled and the packet was not IPv4-mapped.
//   - socket-level timestamp per option.
func Assemble(in RecvInput) ControlData {
	var cd ControlData

	dstIsIPv4OrMapped := in.DstWasV4 || in.DstV4Mapped
	if in.Options.IPRecvTOS && dstIsIPv4OrMapped {
		tos := in.DSCPAndECN
		cd.IPTOS = &tos
	}
	if in.Options.ReceiveOriginalDestinationAddress && in.DstWasV4 {
		addr := tcpip.FullAddress{Addr: in.DstAddr}
		cd.IPOriginalDestinationAddress = &addr
	}
	if in.Options.IPv6.RecvPktInfo {
		cd.IPv6PktInfo = &PktInfo{InterfaceID: in.InterfaceID, HeaderDstAddr: in.DstAddr}
	}
	if in.Options.IPv6.RecvTClass && !in.DstV4Mapped {
		tclass := in.DSCPAndECN
		cd.IPv6TClass = &tclass
	}
	if in.Options.Timestamp != TimestampDisabled {
		cd.SocketTimestamp = &Timestamp{
			Nanoseconds:          in.NowNanos,
			RequestedGranularity: in.Options.Timestamp,
		}
	}
	return cd
}
