// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package errs

import (
	"testing"

	"gvisor.dev/gvisor/pkg/tcpip"
)

func TestCodeErrorKnownAndUnknown(t *testing.T) {
	if got, want := CodeConnectionRefused.Error(), "connection-refused"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	unknown := Code(9999)
	if got, want := unknown.Error(), "errs.Code(9999)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestFromTCPIPErrorNil(t *testing.T) {
	if got := FromTCPIPError(nil); got != CodeOK {
		t.Errorf("FromTCPIPError(nil) = %v, want CodeOK", got)
	}
}

func TestFromTCPIPErrorKnownMappings(t *testing.T) {
	cases := []struct {
		err  tcpip.Error
		want Code
	}{
		{&tcpip.ErrNotSupported{}, CodeOperationNotSupported},
		{&tcpip.ErrUnknownProtocolOption{}, CodeOperationNotSupported},
		{&tcpip.ErrAddressFamilyNotSupported{}, CodeAddressFamilyNotSupported},
		{&tcpip.ErrInvalidOptionValue{}, CodeInvalidArgument},
		{&tcpip.ErrInvalidEndpointState{}, CodeInvalidArgument},
		{&tcpip.ErrNoRoute{}, CodeNetworkUnreachable},
		{&tcpip.ErrNetworkUnreachable{}, CodeNetworkUnreachable},
		{&tcpip.ErrHostUnreachable{}, CodeNetworkUnreachable},
		{&tcpip.ErrDestinationRequired{}, CodeDestinationAddressRequired},
		{&tcpip.ErrClosedForSend{}, CodeBrokenPipe},
		{&tcpip.ErrConnectionAborted{}, CodeBrokenPipe},
		{&tcpip.ErrMessageTooLong{}, CodeMessageSize},
		{&tcpip.ErrNotPermitted{}, CodePermissionDenied},
		{&tcpip.ErrBroadcastDisabled{}, CodePermissionDenied},
		{&tcpip.ErrWouldBlock{}, CodeTryAgain},
		{&tcpip.ErrBadLocalAddress{}, CodeAddressNotAvailable},
		{&tcpip.ErrBadAddress{}, CodeAddressNotAvailable},
		{&tcpip.ErrNotConnected{}, CodeNotConnected},
		{&tcpip.ErrAlreadyConnected{}, CodeAlreadyConnected},
		{&tcpip.ErrAlreadyConnecting{}, CodeAlreadyConnected},
		{&tcpip.ErrConnectionRefused{}, CodeConnectionRefused},
		{&tcpip.ErrConnectionReset{}, CodeConnectionReset},
		{&tcpip.ErrTimeout{}, CodeTimedOut},
	}
	for _, c := range cases {
		if got := FromTCPIPError(c.err); got != c.want {
			t.Errorf("FromTCPIPError(%T) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestFromTCPIPErrorUnrecognizedMapsToInternal(t *testing.T) {
	if got := FromTCPIPError(&tcpip.ErrAborted{}); got != CodeInternal {
		t.Errorf("FromTCPIPError(ErrAborted) = %v, want CodeInternal", got)
	}
}
