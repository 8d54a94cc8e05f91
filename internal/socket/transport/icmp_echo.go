// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package transport

import (
	"net"
	"sync"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"gvisor.dev/gvisor/pkg/tcpip"

	"go.fuchsia.dev/netmux/internal/errs"
)

// ICMPEcho is the A2 adapter for ICMP echo sockets: never dual-stack, no
// multicast/broadcast/transparent/DSCP support, per its capability matrix.
type ICMPEcho struct {
	isV6 bool

	mu        sync.Mutex
	conn      *icmp.PacketConn
	connected bool
	remote    tcpip.FullAddress
	shutdown  ShutdownMask
	closeOnce sync.Once
	closed    chan struct{}
}

var _ Transport = (*ICMPEcho)(nil)

func NewICMPEcho(isV6 bool) *ICMPEcho {
	return &ICMPEcho{isV6: isV6, closed: make(chan struct{})}
}

func (e *ICMPEcho) Kind() Kind { return KindICMPEcho }

func (e *ICMPEcho) Bind(local tcpip.FullAddress) errs.Code {
	e.mu.Lock()
	defer e.mu.Unlock()

	if local.Addr.Len() == 4 && e.isV6 {
		// Bind of an IPv4 address to an IPv6 socket is always invalid-argument,
		// regardless of transport dual-stack capability.
		return errs.CodeInvalidArgument
	}

	network := "udp4"
	if e.isV6 {
		network = "udp6"
	}
	conn, err := icmp.ListenPacket(network, local.Addr.String())
	if err != nil {
		return errs.CodeAddressNotAvailable
	}
	e.conn = conn
	return errs.CodeOK
}

func (e *ICMPEcho) Connect(remote tcpip.FullAddress) errs.Code {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isV6 && remote.Addr.Len() == 4 {
		// ICMP echo is never dual-stack: an IPv4 peer is rejected outright.
		return errs.CodeAddressFamilyNotSupported
	}
	if e.conn == nil {
		network := "udp4"
		if e.isV6 {
			network = "udp6"
		}
		conn, err := icmp.ListenPacket(network, "")
		if err != nil {
			return errs.CodeNetworkUnreachable
		}
		e.conn = conn
	}
	e.connected = true
	e.remote = remote
	return errs.CodeOK
}

func (e *ICMPEcho) Disconnect() errs.Code {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = false
	e.remote = tcpip.FullAddress{}
	return errs.CodeOK
}

func (e *ICMPEcho) Send(payload []byte) (int, SendError) {
	e.mu.Lock()
	conn, connected, remote, shut := e.conn, e.connected, e.remote, e.shutdown
	e.mu.Unlock()

	if !connected {
		return 0, SendNotConnected
	}
	if shut.Write {
		return 0, SendNotWritable
	}
	if remote.Port == 0 {
		// Connected send to port 0 on ICMP is broken-pipe, not
		// destination-address-required.
		return 0, SendNotWritable
	}
	return e.writeTo(conn, remote, payload)
}

func (e *ICMPEcho) SendTo(remote tcpip.FullAddress, payload []byte) (int, SendError) {
	e.mu.Lock()
	conn, shut := e.conn, e.shutdown
	e.mu.Unlock()

	if shut.Write {
		return 0, SendNotWritable
	}
	if remote.Port == 0 {
		return 0, SendNotWritable
	}
	return e.writeTo(conn, remote, payload)
}

func (e *ICMPEcho) writeTo(conn *icmp.PacketConn, remote tcpip.FullAddress, payload []byte) (int, SendError) {
	if conn == nil {
		return 0, SendCreateOrSendFailed
	}
	var addr net.Addr = &net.UDPAddr{IP: net.IP(remote.Addr.AsSlice()), Port: int(remote.Port)}
	var typ icmp.Type = ipv4.ICMPTypeEcho
	if e.isV6 {
		typ = ipv6.ICMPTypeEchoRequest
	}
	msg := icmp.Message{
		Type: typ,
		Code: 0,
		Body: &icmp.Echo{ID: int(remote.Port), Seq: 1, Data: payload},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return 0, SendSerializationFailed
	}
	n, err := conn.WriteTo(wire, addr)
	if err != nil {
		return n, SendCreateOrSendFailed
	}
	return n, SendOK
}

func (e *ICMPEcho) Shutdown(mask ShutdownMask) errs.Code {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdown = mask
	return errs.CodeOK
}

func (e *ICMPEcho) LocalAddress() (tcpip.FullAddress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return tcpip.FullAddress{}, false
	}
	local, ok := e.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return tcpip.FullAddress{}, false
	}
	return FromNetUDPAddr(local), true
}

func (e *ICMPEcho) RemoteAddress() (tcpip.FullAddress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return tcpip.FullAddress{}, false
	}
	return e.remote, true
}

func (e *ICMPEcho) Close() <-chan struct{} {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		conn := e.conn
		e.mu.Unlock()
		go func() {
			if conn != nil {
				conn.Close()
			}
			close(e.closed)
		}()
	})
	return e.closed
}
