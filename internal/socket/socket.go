// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package socket

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/waiter"

	"go.fuchsia.dev/netmux/internal/errs"
	"go.fuchsia.dev/netmux/internal/socket/opts"
	"go.fuchsia.dev/netmux/internal/socket/queue"
	"go.fuchsia.dev/netmux/internal/socket/transport"
)

// ID is the opaque handle identifying a socket, scoped to the hosting Table.
type ID uint64

// Socket is the full state for one socket: its connection-phase state
// machine, transport adapter, receive queue, and option model. Multiple
// Workers (one per cloned client stream) may share one Socket; access is
// serialized by mu so every request against the same underlying socket
// runs one at a time.
type Socket struct {
	id ID

	mu        sync.Mutex
	st        state
	transport transport.Transport
	queue     *queue.Queue
	options   opts.Options
	cap       opts.Capability

	cookie uint64
	refs   int32

	wq *waiter.Queue
}

// New constructs a Socket for the given transport kind and address family.
// isDualStack should be true only for a UDP socket bound to the IPv6 family.
func New(id ID, t transport.Transport, isV6, isDualStack bool) *Socket {
	wq := new(waiter.Queue)
	return &Socket{
		id:        id,
		transport: t,
		queue:     queue.New(wq, queue.DefaultFloor),
		options:   opts.NewOptions(),
		cap:       opts.Capability{IsV6: isV6, IsDualStack: isDualStack},
		cookie:    newCookie(),
		refs:      0,
		wq:        wq,
	}
}

func newCookie() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is catastrophic for the host; fall back to a
		// timestamp-derived value rather than handing out a zero cookie.
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// ID returns the socket's opaque handle.
func (s *Socket) ID() ID { return s.id }

// Cookie returns the socket's stable 64-bit out-of-band correlation value.
func (s *Socket) Cookie() uint64 { return s.cookie }

// IncRef increments the clone refcount.
func (s *Socket) IncRef() { atomic.AddInt32(&s.refs, 1) }

// DecRef decrements the clone refcount and reports whether this was the
// last reference, in which case the caller should tear down the underlying
// transport.
func (s *Socket) DecRef() (last bool) {
	return atomic.AddInt32(&s.refs, -1) == 0
}

// WaiterQueue exposes the underlying waiter.Queue for readability observers
// that want to register their own waiter.Entry directly (e.g. a future FIDL
// binding layer), beyond the Recv-driven polling this package itself uses.
func (s *Socket) WaiterQueue() *waiter.Queue { return s.wq }

// translateForBind maps a client-supplied address for bind, enforcing the
// rule that binding an IPv4-shaped address to an IPv6 socket is always
// invalid-argument, independent of transport dual-stack capability.
func (s *Socket) translateForBind(addr tcpip.FullAddress) (tcpip.FullAddress, errs.Code) {
	if s.cap.IsV6 && addr.Addr.Len() == 4 {
		return tcpip.FullAddress{}, errs.CodeInvalidArgument
	}
	return addr, errs.CodeOK
}

// translateForConnect maps a client-supplied remote address for connect. A
// dual-stack (UDP) IPv6 socket maps an IPv4 peer onto its IPv4-mapped form;
// a non-dual-stack (ICMP echo) IPv6 socket rejects it outright.
func (s *Socket) translateForConnect(addr tcpip.FullAddress) (tcpip.FullAddress, errs.Code) {
	if !s.cap.IsV6 || addr.Addr.Len() != 4 {
		return addr, errs.CodeOK
	}
	if !s.cap.IsDualStack {
		return tcpip.FullAddress{}, errs.CodeAddressFamilyNotSupported
	}
	addr.Addr = transport.ToV4Mapped(addr.Addr)
	return addr, errs.CodeOK
}

// Bind implements the bind operation.
func (s *Socket) Bind(addr tcpip.FullAddress) errs.Code {
	s.mu.Lock()
	defer s.mu.Unlock()

	mapped, code := s.translateForBind(addr)
	if code != errs.CodeOK {
		return code
	}
	if code := s.st.bind(mapped); code != errs.CodeOK {
		return code
	}
	if code := s.transport.Bind(mapped); code != errs.CodeOK {
		s.st.phase = PhaseUnbound
		return code
	}
	if local, ok := s.transport.LocalAddress(); ok {
		s.st.local = local
	}
	return errs.CodeOK
}

// Connect implements the connect operation, including the
// implicit ephemeral bind from Unbound.
func (s *Socket) Connect(addr tcpip.FullAddress) errs.Code {
	s.mu.Lock()
	defer s.mu.Unlock()

	mapped, code := s.translateForConnect(addr)
	if code != errs.CodeOK {
		return code
	}
	prevPhase := s.st.phase
	if code := s.st.connect(mapped); code != errs.CodeOK {
		return code
	}
	if code := s.transport.Connect(mapped); code != errs.CodeOK {
		s.st.phase = prevPhase
		return code
	}
	if remote, ok := s.transport.RemoteAddress(); ok {
		s.st.remote = remote
	}
	return errs.CodeOK
}

// Disconnect implements the disconnect operation.
func (s *Socket) Disconnect() errs.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code := s.st.disconnect(); code != errs.CodeOK {
		return code
	}
	return s.transport.Disconnect()
}

// Shutdown implements the shutdown operation: an empty mask is
// invalid-argument; when the receive side becomes shut, blocked readers
// must observe EOF promptly, which here means Recv re-checks the shutdown
// mask on every call rather than only on a stored readable bit.
func (s *Socket) Shutdown(mask transport.ShutdownMask) errs.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code := s.st.setShutdown(mask); code != errs.CodeOK {
		return code
	}
	return s.transport.Shutdown(mask)
}

// GetSockName implements get_sock_name.
func (s *Socket) GetSockName() (tcpip.FullAddress, errs.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.phase == PhaseUnbound {
		return tcpip.FullAddress{}, errs.CodeOK
	}
	return s.st.local, errs.CodeOK
}

// GetPeerName implements get_peer_name: not-connected after disconnect.
func (s *Socket) GetPeerName() (tcpip.FullAddress, errs.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.phase != PhaseConnected {
		return tcpip.FullAddress{}, errs.CodeNotConnected
	}
	return s.st.remote, errs.CodeOK
}

// Phase exposes the current connection phase, chiefly for tests asserting
// legal state transitions.
func (s *Socket) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.phase
}

// Options returns a copy of the current option set.
func (s *Socket) Options() opts.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.options
}

// SetOptions replaces the option set wholesale; callers needing isolation
// checks should consult s.Capability() first (A4's dual-stack rules).
func (s *Socket) SetOptions(o opts.Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options = o
}

// Capability exposes the socket's dual-stack capability for callers
// implementing option isolation checks.
func (s *Socket) Capability() opts.Capability { return s.cap }

// Queue exposes the receive queue for the recv path (A1).
func (s *Socket) Queue() *queue.Queue { return s.queue }

// Transport exposes the transport adapter for the send path (A1) and
// for close.
func (s *Socket) Transport() transport.Transport { return s.transport }

// ShutdownMask returns the current shutdown overlay.
func (s *Socket) ShutdownMask() transport.ShutdownMask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.shutdown
}
