// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package transport

import (
	"net"
	"sync"

	"gvisor.dev/gvisor/pkg/tcpip"

	"go.fuchsia.dev/netmux/internal/errs"
)

// UDP is the A2 adapter for the UDP transport: dual-stack, supports
// multicast, broadcast, IP-transparent and DSCP/ECN configuration per its
// capability matrix.
type UDP struct {
	isV6 bool

	mu        sync.Mutex
	conn      *net.UDPConn
	connected bool
	remote    tcpip.FullAddress
	shutdown  ShutdownMask
	closeOnce sync.Once
	closed    chan struct{}
}

var _ Transport = (*UDP)(nil)

// NewUDP constructs an unbound UDP transport for the given socket address
// family.
func NewUDP(isV6 bool) *UDP {
	return &UDP{isV6: isV6, closed: make(chan struct{})}
}

func (u *UDP) Kind() Kind { return KindUDP }

func (u *UDP) Bind(local tcpip.FullAddress) errs.Code {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		return errs.CodeInvalidArgument
	}
	conn, err := net.ListenUDP(u.network(), ToNetUDPAddr(local))
	if err != nil {
		return errs.CodeAddressNotAvailable
	}
	u.conn = conn
	return errs.CodeOK
}

func (u *UDP) Connect(remote tcpip.FullAddress) errs.Code {
	u.mu.Lock()
	defer u.mu.Unlock()

	addr := remote
	if u.isV6 && !IsV4Mapped(addr.Addr) && addr.Addr.Len() == 4 {
		addr.Addr = ToV4Mapped(addr.Addr)
	}

	if u.conn == nil {
		conn, err := net.DialUDP(u.network(), nil, ToNetUDPAddr(addr))
		if err != nil {
			return errs.CodeNetworkUnreachable
		}
		u.conn = conn
	}
	u.connected = true
	u.remote = addr
	return errs.CodeOK
}

func (u *UDP) Disconnect() errs.Code {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.connected = false
	u.remote = tcpip.FullAddress{}
	return errs.CodeOK
}

func (u *UDP) Send(payload []byte) (int, SendError) {
	u.mu.Lock()
	conn, connected, remote, shut := u.conn, u.connected, u.remote, u.shutdown
	u.mu.Unlock()

	if !connected {
		return 0, SendNotConnected
	}
	if shut.Write {
		return 0, SendNotWritable
	}
	if remote.Port == 0 {
		// A1 answers a connected send to port 0 with
		// destination-address-required before calling Send; FromSendError
		// maps this value to invalid-argument.
		return 0, SendInvalidLength
	}
	n, err := conn.Write(payload)
	if err != nil {
		return n, SendCreateOrSendFailed
	}
	return n, SendOK
}

func (u *UDP) SendTo(remote tcpip.FullAddress, payload []byte) (int, SendError) {
	u.mu.Lock()
	conn, shut := u.conn, u.shutdown
	isV6 := u.isV6
	u.mu.Unlock()

	if shut.Write {
		return 0, SendNotWritable
	}

	addr := remote
	if isV6 {
		if addr.Addr.Len() == 4 {
			addr.Addr = ToV4Mapped(addr.Addr)
		}
	} else if IsV4Mapped(addr.Addr) {
		return 0, SendRemoteUnexpectedlyMapped
	}

	if conn == nil {
		c, err := net.ListenUDP(u.network(), nil)
		if err != nil {
			return 0, SendCreateOrSendFailed
		}
		u.mu.Lock()
		u.conn = c
		u.mu.Unlock()
		conn = c
	}

	n, err := conn.WriteToUDP(payload, ToNetUDPAddr(addr))
	if err != nil {
		return n, SendCreateOrSendFailed
	}
	return n, SendOK
}

func (u *UDP) Shutdown(mask ShutdownMask) errs.Code {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.shutdown = mask
	return errs.CodeOK
}

func (u *UDP) LocalAddress() (tcpip.FullAddress, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return tcpip.FullAddress{}, false
	}
	local, ok := u.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return tcpip.FullAddress{}, false
	}
	return FromNetUDPAddr(local), true
}

func (u *UDP) RemoteAddress() (tcpip.FullAddress, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.connected {
		return tcpip.FullAddress{}, false
	}
	return u.remote, true
}

func (u *UDP) Close() <-chan struct{} {
	u.closeOnce.Do(func() {
		u.mu.Lock()
		conn := u.conn
		u.mu.Unlock()
		go func() {
			if conn != nil {
				conn.Close()
			}
			close(u.closed)
		}()
	})
	return u.closed
}

func (u *UDP) network() string {
	if u.isV6 {
		return "udp6"
	}
	return "udp4"
}
