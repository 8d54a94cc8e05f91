// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package errs holds the POSIX-style error alphabet that every client-facing
// surface in netmux maps onto, and the translation table from gvisor tcpip
// errors. Transport send errors are translated by transport.FromSendError.
package errs

import (
	"fmt"

	"gvisor.dev/gvisor/pkg/tcpip"
)

// Code is a POSIX-style error code, distinct from the Go errors that the
// transport and routing layers use internally. It is the only vocabulary
// that crosses the worker boundary into client responses.
type Code int

const (
	CodeOK Code = iota
	CodeOperationNotSupported
	CodeNoProtocolOption
	CodeAddressFamilyNotSupported
	CodeInvalidArgument
	CodeNetworkUnreachable
	CodeDestinationAddressRequired
	CodeBrokenPipe
	CodeMessageSize
	CodePermissionDenied
	CodeTryAgain
	CodeNoSuchDevice
	CodeZoneSpecific
	CodeAddressNotAvailable
	CodeIllegalZeroValue
	CodeIllegalNegativeValue
	CodeNotConnected
	CodeAlreadyConnected
	CodeConnectionRefused
	CodeConnectionReset
	CodeTimedOut
	CodeInternal
)

func (c Code) Error() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("errs.Code(%d)", int(c))
}

var codeNames = map[Code]string{
	CodeOK:                         "ok",
	CodeOperationNotSupported:      "operation-not-supported",
	CodeNoProtocolOption:           "no-protocol-option",
	CodeAddressFamilyNotSupported:  "address-family-not-supported",
	CodeInvalidArgument:            "invalid-argument",
	CodeNetworkUnreachable:         "network-unreachable",
	CodeDestinationAddressRequired: "destination-address-required",
	CodeBrokenPipe:                 "broken-pipe",
	CodeMessageSize:                "message-size",
	CodePermissionDenied:           "permission-denied",
	CodeTryAgain:                   "try-again",
	CodeNoSuchDevice:               "no-such-device",
	CodeZoneSpecific:               "zone-specific",
	CodeAddressNotAvailable:        "address-not-available",
	CodeIllegalZeroValue:           "illegal-zero-value",
	CodeIllegalNegativeValue:       "illegal-negative-value",
	CodeNotConnected:               "not-connected",
	CodeAlreadyConnected:           "already-connected",
	CodeConnectionRefused:          "connection-refused",
	CodeConnectionReset:            "connection-reset",
	CodeTimedOut:                   "timed-out",
	CodeInternal:                   "internal",
}

// FromTCPIPError maps a gvisor tcpip.Error, as returned by endpoint
// operations, onto the POSIX-style alphabet. Unrecognized errors map to
// CodeInternal rather than panicking: a forgotten mapping should surface as
// a confusing-but-safe error code, never a crash.
func FromTCPIPError(err tcpip.Error) Code {
	switch err.(type) {
	case nil:
		return CodeOK
	case *tcpip.ErrNotSupported, *tcpip.ErrUnknownProtocolOption:
		return CodeOperationNotSupported
	case *tcpip.ErrAddressFamilyNotSupported:
		return CodeAddressFamilyNotSupported
	case *tcpip.ErrInvalidOptionValue, *tcpip.ErrInvalidEndpointState:
		return CodeInvalidArgument
	case *tcpip.ErrNoRoute, *tcpip.ErrNetworkUnreachable, *tcpip.ErrHostUnreachable:
		return CodeNetworkUnreachable
	case *tcpip.ErrDestinationRequired:
		return CodeDestinationAddressRequired
	case *tcpip.ErrClosedForSend, *tcpip.ErrConnectionAborted:
		return CodeBrokenPipe
	case *tcpip.ErrMessageTooLong:
		return CodeMessageSize
	case *tcpip.ErrNotPermitted, *tcpip.ErrBroadcastDisabled:
		return CodePermissionDenied
	case *tcpip.ErrWouldBlock:
		return CodeTryAgain
	case *tcpip.ErrBadLocalAddress, *tcpip.ErrBadAddress:
		return CodeAddressNotAvailable
	case *tcpip.ErrNotConnected:
		return CodeNotConnected
	case *tcpip.ErrAlreadyConnected, *tcpip.ErrAlreadyConnecting:
		return CodeAlreadyConnected
	case *tcpip.ErrConnectionRefused:
		return CodeConnectionRefused
	case *tcpip.ErrConnectionReset:
		return CodeConnectionReset
	case *tcpip.ErrTimeout:
		return CodeTimedOut
	default:
		return CodeInternal
	}
}
