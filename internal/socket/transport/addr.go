// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package transport

import (
	"net"

	"gvisor.dev/gvisor/pkg/tcpip"
)

// v4MappedPrefix is the ::ffff:0:0/96 prefix used to embed IPv4 addresses in
// IPv6.
var v4MappedPrefix = [12]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff}

// ToV4Mapped embeds a 4-byte IPv4 address inside an IPv4-mapped IPv6
// address.
func ToV4Mapped(v4 tcpip.Address) tcpip.Address {
	b := v4.AsSlice()
	out := make([]byte, 16)
	copy(out, v4MappedPrefix[:])
	copy(out[12:], b)
	return tcpip.AddrFromSlice(out)
}

// IsV4Mapped reports whether addr is an IPv4-mapped IPv6 address.
func IsV4Mapped(addr tcpip.Address) bool {
	if addr.Len() != 16 {
		return false
	}
	b := addr.AsSlice()
	for i, want := range v4MappedPrefix {
		if b[i] != want {
			return false
		}
	}
	return true
}

// UnmapV4 extracts the 4-byte IPv4 address from an IPv4-mapped IPv6 address.
// The caller must have already checked IsV4Mapped.
func UnmapV4(addr tcpip.Address) tcpip.Address {
	b := addr.AsSlice()
	return tcpip.AddrFromSlice(append([]byte(nil), b[12:]...))
}

// ToNetUDPAddr converts a tcpip.FullAddress into the net package's address
// type for use with net.ListenUDP/net.DialUDP.
func ToNetUDPAddr(addr tcpip.FullAddress) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IP(addr.Addr.AsSlice()), Port: int(addr.Port)}
}

// FromNetUDPAddr converts back from the net package's address type.
func FromNetUDPAddr(addr *net.UDPAddr) tcpip.FullAddress {
	if addr == nil {
		return tcpip.FullAddress{}
	}
	return tcpip.FullAddress{Addr: tcpip.AddrFromSlice(addr.IP), Port: uint16(addr.Port)}
}
