// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package transport implements the A2 transport adapters: one concrete type
// per supported datagram transport (UDP, ICMP echo), hidden behind a single
// interface consumed by the socket worker (A1). Capability differences are
// resolved with a switch on Kind rather than runtime reflection; Go does
// not check the switch for exhaustiveness, so a forgotten branch reaches
// the default case, which panics at run time.
package transport

import (
	"gvisor.dev/gvisor/pkg/tcpip"

	"go.fuchsia.dev/netmux/internal/errs"
)

// Kind tags which concrete transport a Transport value implements.
type Kind int

const (
	KindUDP Kind = iota
	KindICMPEcho
)

func (k Kind) String() string {
	switch k {
	case KindUDP:
		return "udp"
	case KindICMPEcho:
		return "icmp-echo"
	default:
		return "unknown"
	}
}

// Capabilities is the static capability matrix describing what a transport
// Kind supports.
type Capabilities struct {
	DualStack                bool
	ReuseAddrPortUnboundOnly bool
	Multicast                bool
	Broadcast                bool
	IPTransparent            bool
	SetDSCPECN               bool
}

// CapabilitiesFor returns the capability matrix for k.
func CapabilitiesFor(k Kind) Capabilities {
	switch k {
	case KindUDP:
		return Capabilities{
			DualStack:                true,
			ReuseAddrPortUnboundOnly: true,
			Multicast:                true,
			Broadcast:                true,
			IPTransparent:            true,
			SetDSCPECN:               true,
		}
	case KindICMPEcho:
		return Capabilities{}
	default:
		panic("transport: unknown Kind")
	}
}

// ShutdownMask mirrors the independent read/write shutdown bits a socket
// tracks.
type ShutdownMask struct {
	Read  bool
	Write bool
}

func (m ShutdownMask) IsZero() bool { return !m.Read && !m.Write }

// SendError is a transport-specific send failure, distinct from the
// broader errs.Code alphabet; FromSendError folds it onto errs.Code at
// the A1 boundary, the single mapping point for the propagation policy.
type SendError int

const (
	SendOK SendError = iota
	SendNotConnected
	SendNotWritable
	SendBufferFull
	SendInvalidLength
	SendCreateOrSendFailed
	SendSerializationFailed
	SendRemoteUnexpectedlyMapped
	SendRemoteUnexpectedlyNonMapped
	SendZoneError
)

// Transport is the uniform contract A1 consumes for exactly one transport
// kind.
type Transport interface {
	Kind() Kind

	Bind(local tcpip.FullAddress) errs.Code
	Connect(remote tcpip.FullAddress) errs.Code
	Disconnect() errs.Code

	Send(payload []byte) (int, SendError)
	SendTo(remote tcpip.FullAddress, payload []byte) (int, SendError)

	Shutdown(mask ShutdownMask) errs.Code

	LocalAddress() (tcpip.FullAddress, bool)
	RemoteAddress() (tcpip.FullAddress, bool)

	// Close begins teardown and returns a channel closed once the stack has
	// fully released the underlying resource — the Go equivalent of
	// awaiting a deferred-release future.
	Close() <-chan struct{}
}

// FromSendError maps the send-path error alphabet onto the POSIX-style
// alphabet.
func FromSendError(k Kind, e SendError) errs.Code {
	switch e {
	case SendOK:
		return errs.CodeOK
	case SendNotConnected:
		return errs.CodeNotConnected
	case SendNotWritable:
		return errs.CodeBrokenPipe
	case SendBufferFull:
		return errs.CodeTryAgain
	case SendInvalidLength:
		return errs.CodeInvalidArgument
	case SendCreateOrSendFailed:
		return errs.CodeNetworkUnreachable
	case SendSerializationFailed:
		return errs.CodeInvalidArgument
	case SendRemoteUnexpectedlyMapped:
		if k == KindICMPEcho {
			return errs.CodeAddressFamilyNotSupported
		}
		return errs.CodeNetworkUnreachable
	case SendRemoteUnexpectedlyNonMapped:
		return errs.CodeNetworkUnreachable
	case SendZoneError:
		return errs.CodeZoneSpecific
	default:
		return errs.CodeInternal
	}
}
