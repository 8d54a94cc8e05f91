// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package socket

import (
	"time"

	"gvisor.dev/gvisor/pkg/tcpip"

	"go.fuchsia.dev/netmux/internal/errs"
	"go.fuchsia.dev/netmux/internal/socket/opts"
	"go.fuchsia.dev/netmux/internal/socket/queue"
	"go.fuchsia.dev/netmux/internal/socket/transport"
)

// Worker serves one client stream bound to a Socket. Multiple
// Workers may share one Socket via Clone; the Socket's own mutex serializes
// their requests in arrival order.
type Worker struct {
	socket *Socket
	closed bool
}

// NewWorker creates a Worker for sock, incrementing its clone refcount.
func NewWorker(sock *Socket) *Worker {
	sock.IncRef()
	return &Worker{socket: sock}
}

// Clone implements the clone operation: a new request stream bound to the
// same socket.
func (w *Worker) Clone() *Worker {
	return NewWorker(w.socket)
}

// Close terminates this stream only. The underlying socket (and its
// transport) is torn down only when the last stream closes, signalled by
// the returned channel closing once the transport's deferred release
// completes; closeNow=true (no waiting required) whenever this was not the
// last reference.
func (w *Worker) Close() (closeNow bool, done <-chan struct{}) {
	if w.closed {
		ch := make(chan struct{})
		close(ch)
		return true, ch
	}
	w.closed = true
	if !w.socket.DecRef() {
		ch := make(chan struct{})
		close(ch)
		return true, ch
	}
	return false, w.socket.Transport().Close()
}

// Describe answers an introspection request without entering the transport
// adapter.
func (w *Worker) Describe() (transport.Kind, ID) {
	return w.socket.Transport().Kind(), w.socket.ID()
}

func (w *Worker) Connect(remote tcpip.FullAddress) errs.Code { return w.socket.Connect(remote) }
func (w *Worker) Disconnect() errs.Code                      { return w.socket.Disconnect() }
func (w *Worker) Bind(local tcpip.FullAddress) errs.Code      { return w.socket.Bind(local) }

func (w *Worker) GetSockName() (tcpip.FullAddress, errs.Code) { return w.socket.GetSockName() }
func (w *Worker) GetPeerName() (tcpip.FullAddress, errs.Code) { return w.socket.GetPeerName() }
func (w *Worker) GetCookie() uint64                           { return w.socket.Cookie() }

// GetError always reports CodeOK: SO_ERROR tracking is explicitly stubbed
// and not implemented further here.
func (w *Worker) GetError() errs.Code { return errs.CodeOK }

// Shutdown implements the shutdown operation: an empty mask is
// invalid-argument; shutting down the receive side makes blocked readers
// observe EOF promptly because Recv re-evaluates the mask on every call.
func (w *Worker) Shutdown(mask transport.ShutdownMask) errs.Code {
	return w.socket.Shutdown(mask)
}

// RecvResult is the response shape a receive call returns: an optional
// source address, payload, control data, and truncation count.
type RecvResult struct {
	From      *tcpip.FullAddress
	Payload   []byte
	Control   opts.ControlData
	Truncated uint32
}

// RecvMsg implements the receive path:
//  1. consult the option model to decide peek vs. pop (peek is exposed
//     separately via Peek; RecvMsg always pops, matching common client usage);
//  2. if empty, return try-again unless the receive side is shut, in which
//     case return EOF (empty payload);
//  3. truncate to maxLen, recording the truncation count;
//  4. assemble cmsg;
//  5. return (addr?, payload, cmsg, truncated).
func (w *Worker) RecvMsg(maxLen int) (RecvResult, errs.Code) {
	s := w.socket
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.Empty() {
		if s.st.shutdown.Read {
			return RecvResult{Control: opts.Assemble(opts.RecvInput{Options: s.options})}, errs.CodeOK
		}
		return RecvResult{}, errs.CodeTryAgain
	}

	msg, _ := s.queue.Pop()

	truncated := 0
	payload := msg.Payload
	if maxLen >= 0 && len(payload) > maxLen {
		truncated = len(payload) - maxLen
		payload = payload[:maxLen]
	}

	cd := opts.Assemble(opts.RecvInput{
		Options:     s.options,
		Cap:         s.cap,
		DstV4Mapped: msg.DstWasV4Mapped,
		DstWasV4:    !s.cap.IsV6 || msg.DstWasV4Mapped,
		DstAddr:     msg.DstAddr,
		InterfaceID: msg.InterfaceID,
		DSCPAndECN:  msg.DSCPAndECN,
		NowNanos:    time.Now().UnixNano(),
	})

	from := tcpip.FullAddress{Addr: msg.SrcAddr, Port: msg.SrcPort}
	return RecvResult{From: &from, Payload: payload, Control: cd, Truncated: uint32(truncated)}, errs.CodeOK
}

// Peek implements a non-destructive read, used by clients that set
// MSG_PEEK; it shares RecvMsg's empty/shutdown semantics but never pops.
func (w *Worker) Peek(maxLen int) (RecvResult, errs.Code) {
	s := w.socket
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.Empty() {
		if s.st.shutdown.Read {
			return RecvResult{}, errs.CodeOK
		}
		return RecvResult{}, errs.CodeTryAgain
	}
	msg, _ := s.queue.Peek()
	payload := msg.Payload
	truncated := 0
	if maxLen >= 0 && len(payload) > maxLen {
		truncated = len(payload) - maxLen
		payload = payload[:maxLen]
	}
	from := tcpip.FullAddress{Addr: msg.SrcAddr, Port: msg.SrcPort}
	return RecvResult{From: &from, Payload: payload, Truncated: uint32(truncated)}, errs.CodeOK
}

// Deliver pushes a message into the socket's receive queue. The transport
// adapters in this module run no receive loop and do not call it; it
// reports whether the queue accepted the message, per the queue's
// drop-newest-on-overflow rule.
func (w *Worker) Deliver(msg queue.AvailableMessage) (accepted bool) {
	s := w.socket
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Receive(msg)
}

// SendMsg implements the send path: maps the optional destination
// address, then calls either Send (connected) or SendTo (explicit
// destination). A zero destination port is destination-address-required
// for UDP and broken-pipe for ICMP.
func (w *Worker) SendMsg(dst *tcpip.FullAddress, payload []byte) (int, errs.Code) {
	s := w.socket
	s.mu.Lock()
	shutWrite := s.st.shutdown.Write
	connectedPortZero := s.st.phase == PhaseConnected && s.st.remote.Port == 0
	s.mu.Unlock()
	if shutWrite {
		return 0, errs.CodeBrokenPipe
	}

	if dst == nil {
		if connectedPortZero && s.transport.Kind() == transport.KindUDP {
			return 0, errs.CodeDestinationAddressRequired
		}
		n, sendErr := s.transport.Send(payload)
		return n, transport.FromSendError(s.transport.Kind(), sendErr)
	}

	if dst.Port == 0 {
		if s.transport.Kind() == transport.KindUDP {
			return 0, errs.CodeDestinationAddressRequired
		}
		return 0, errs.CodeBrokenPipe
	}

	mapped, code := s.translateForConnect(*dst)
	if code != errs.CodeOK {
		return 0, code
	}
	n, sendErr := s.transport.SendTo(mapped, payload)
	return n, transport.FromSendError(s.transport.Kind(), sendErr)
}

// GetInfo reports the transport kind and connection phase, the minimal
// introspection a client needs to describe its own socket.
func (w *Worker) GetInfo() (transport.Kind, Phase) {
	return w.socket.Transport().Kind(), w.socket.Phase()
}

func (w *Worker) SetTimestamp(t opts.TimestampOption) {
	o := w.socket.Options()
	o.Timestamp = t
	w.socket.SetOptions(o)
}

func (w *Worker) GetTimestamp() opts.TimestampOption { return w.socket.Options().Timestamp }

func (w *Worker) SetSendBuffer(n int32) errs.Code {
	o := w.socket.Options()
	o.SendBufferSize = n
	w.socket.SetOptions(o)
	return errs.CodeOK
}

func (w *Worker) GetSendBuffer() int32 { return w.socket.Options().SendBufferSize }

func (w *Worker) SetReceiveBuffer(n int32) errs.Code {
	w.socket.Queue().SetMax(int(n))
	return errs.CodeOK
}

func (w *Worker) GetReceiveBuffer() int32 { return int32(w.socket.Queue().Max()) }

func (w *Worker) SetReuseAddress(v bool) errs.Code {
	o := w.socket.Options()
	o.ReuseAddress = v
	w.socket.SetOptions(o)
	return errs.CodeOK
}
func (w *Worker) GetReuseAddress() bool { return w.socket.Options().ReuseAddress }

// SetReusePort is only supported on an unbound UDP socket, per the
// transport's capability matrix.
func (w *Worker) SetReusePort(v bool) errs.Code {
	caps := transport.CapabilitiesFor(w.socket.Transport().Kind())
	if !caps.ReuseAddrPortUnboundOnly {
		return errs.CodeOperationNotSupported
	}
	if w.socket.Phase() != PhaseUnbound {
		return errs.CodeInvalidArgument
	}
	o := w.socket.Options()
	o.ReusePort = v
	w.socket.SetOptions(o)
	return errs.CodeOK
}
func (w *Worker) GetReusePort() bool { return w.socket.Options().ReusePort }

// AcceptConn always reports false: datagram sockets are never in the
// listening state that AcceptConn describes for stream sockets.
func (w *Worker) AcceptConn() bool { return false }

func (w *Worker) SetBindToDevice(name string) errs.Code {
	o := w.socket.Options()
	o.BindToDevice = name
	w.socket.SetOptions(o)
	return errs.CodeOK
}
func (w *Worker) GetBindToDevice() string { return w.socket.Options().BindToDevice }

func (w *Worker) SetBindToInterfaceIndex(idx uint32) errs.Code {
	o := w.socket.Options()
	o.BindToInterfaceIndex = idx
	w.socket.SetOptions(o)
	return errs.CodeOK
}
func (w *Worker) GetBindToInterfaceIndex() uint32 { return w.socket.Options().BindToInterfaceIndex }

func (w *Worker) SetBroadcast(v bool) errs.Code {
	caps := transport.CapabilitiesFor(w.socket.Transport().Kind())
	if !caps.Broadcast {
		return errs.CodeOperationNotSupported
	}
	o := w.socket.Options()
	o.Broadcast = v
	w.socket.SetOptions(o)
	return errs.CodeOK
}
func (w *Worker) GetBroadcast() bool { return w.socket.Options().Broadcast }

// SetIPv6Only: set rejects on ICMP echo; get returns false on a v6 ICMP-echo
// socket and not-dual-stack on a v4 one, per the capability matrix.
func (w *Worker) SetIPv6Only(v bool) errs.Code {
	if w.socket.Transport().Kind() == transport.KindICMPEcho {
		return errs.CodeOperationNotSupported
	}
	o := w.socket.Options()
	o.IPv6Only = v
	w.socket.SetOptions(o)
	return errs.CodeOK
}

func (w *Worker) GetIPv6Only() (bool, errs.Code) {
	if w.socket.Transport().Kind() == transport.KindICMPEcho {
		if !w.socket.Capability().IsV6 {
			return false, errs.CodeOperationNotSupported
		}
		return false, errs.CodeOK
	}
	return w.socket.Options().IPv6Only, errs.CodeOK
}

func (w *Worker) SetUnicastHopLimit(v6 bool, hops uint8) errs.Code {
	if hops == 0 {
		return errs.CodeInvalidArgument
	}
	code := w.checkVersionForHops(v6, true)
	if code != errs.CodeOK {
		return code
	}
	o := w.socket.Options()
	if v6 {
		o.UnicastHopLimitV6 = hops
		if w.socket.Capability().IsDualStack {
			o.UnicastHopLimitV4 = hops
		}
	} else {
		o.UnicastHopLimitV4 = hops
		if w.socket.Capability().IsDualStack {
			o.UnicastHopLimitV6 = hops
		}
	}
	w.socket.SetOptions(o)
	return errs.CodeOK
}

func (w *Worker) GetUnicastHopLimit(v6 bool) (uint8, errs.Code) {
	if code := w.checkVersionForHops(v6, false); code != errs.CodeOK {
		return 0, code
	}
	o := w.socket.Options()
	if v6 {
		return o.UnicastHopLimitV6, errs.CodeOK
	}
	return o.UnicastHopLimitV4, errs.CodeOK
}

// MulticastHopLimit 0 is rejected with invalid-argument.
func (w *Worker) SetMulticastHopLimit(v6 bool, hops uint8) errs.Code {
	if hops == 0 {
		return errs.CodeInvalidArgument
	}
	code := w.checkVersionForHops(v6, true)
	if code != errs.CodeOK {
		return code
	}
	o := w.socket.Options()
	if v6 {
		o.MulticastHopLimitV6 = hops
		if w.socket.Capability().IsDualStack {
			o.MulticastHopLimitV4 = hops
		}
	} else {
		o.MulticastHopLimitV4 = hops
		if w.socket.Capability().IsDualStack {
			o.MulticastHopLimitV6 = hops
		}
	}
	w.socket.SetOptions(o)
	return errs.CodeOK
}

func (w *Worker) GetMulticastHopLimit(v6 bool) (uint8, errs.Code) {
	if code := w.checkVersionForHops(v6, false); code != errs.CodeOK {
		return 0, code
	}
	o := w.socket.Options()
	if v6 {
		return o.MulticastHopLimitV6, errs.CodeOK
	}
	return o.MulticastHopLimitV4, errs.CodeOK
}

// checkVersionForHops implements "Hop-limit set/get: both versions on
// dual-stack, only matching version otherwise" rule using the mirrored
// isolation check (hop limits are one of the options the kernel mirrors
// historically).
func (w *Worker) checkVersionForHops(v6 bool, set bool) errs.Code {
	c := w.socket.Capability()
	if set {
		return c.CheckSetMirrored(v6)
	}
	return c.CheckGetMirrored(v6)
}

func (w *Worker) SetMulticastLoop(v6 bool, v bool) errs.Code {
	caps := transport.CapabilitiesFor(w.socket.Transport().Kind())
	if !caps.Multicast {
		return errs.CodeOperationNotSupported
	}
	if code := w.socket.Capability().CheckSetMirrored(v6); code != errs.CodeOK {
		return code
	}
	o := w.socket.Options()
	if v6 {
		o.MulticastLoopV6 = v
		if w.socket.Capability().IsDualStack {
			o.MulticastLoopV4 = v
		}
	} else {
		o.MulticastLoopV4 = v
		if w.socket.Capability().IsDualStack {
			o.MulticastLoopV6 = v
		}
	}
	w.socket.SetOptions(o)
	return errs.CodeOK
}

func (w *Worker) GetMulticastLoop(v6 bool) (bool, errs.Code) {
	caps := transport.CapabilitiesFor(w.socket.Transport().Kind())
	if !caps.Multicast {
		return false, errs.CodeOperationNotSupported
	}
	if code := w.socket.Capability().CheckGetMirrored(v6); code != errs.CodeOK {
		return false, code
	}
	o := w.socket.Options()
	if v6 {
		return o.MulticastLoopV6, errs.CodeOK
	}
	return o.MulticastLoopV4, errs.CodeOK
}

// SetMulticastInterface selects the IPv4 multicast interface by index
// (preferred) or by an assigned address; an unassigned address yields
// address-not-available.
func (w *Worker) SetMulticastInterface(ifIndex uint32, addr tcpip.Address, addrIsAssigned bool) errs.Code {
	caps := transport.CapabilitiesFor(w.socket.Transport().Kind())
	if !caps.Multicast {
		return errs.CodeOperationNotSupported
	}
	if ifIndex == 0 && addr.Len() > 0 && !addrIsAssigned {
		return errs.CodeAddressNotAvailable
	}
	o := w.socket.Options()
	o.MulticastIfIndexV4 = ifIndex
	o.IPv4MulticastIfAddr = addr
	w.socket.SetOptions(o)
	return errs.CodeOK
}

// GetMulticastInterface round-trips the address stored verbatim by
// SetMulticastInterface.
func (w *Worker) GetMulticastInterface() tcpip.Address {
	return w.socket.Options().IPv4MulticastIfAddr
}

func (w *Worker) AddMembership(m opts.Membership) errs.Code {
	caps := transport.CapabilitiesFor(w.socket.Transport().Kind())
	if !caps.Multicast {
		return errs.CodeOperationNotSupported
	}
	o := w.socket.Options()
	o.Memberships[m] = struct{}{}
	w.socket.SetOptions(o)
	return errs.CodeOK
}

func (w *Worker) DropMembership(m opts.Membership) errs.Code {
	caps := transport.CapabilitiesFor(w.socket.Transport().Kind())
	if !caps.Multicast {
		return errs.CodeOperationNotSupported
	}
	o := w.socket.Options()
	delete(o.Memberships, m)
	w.socket.SetOptions(o)
	return errs.CodeOK
}

func (w *Worker) SetIPTransparent(v bool) errs.Code {
	caps := transport.CapabilitiesFor(w.socket.Transport().Kind())
	if !caps.IPTransparent {
		return errs.CodeOperationNotSupported
	}
	o := w.socket.Options()
	o.IPTransparent = v
	w.socket.SetOptions(o)
	return errs.CodeOK
}
func (w *Worker) GetIPTransparent() bool { return w.socket.Options().IPTransparent }

func (w *Worker) SetReceiveOriginalDestinationAddress(v bool) errs.Code {
	o := w.socket.Options()
	o.ReceiveOriginalDestinationAddress = v
	w.socket.SetOptions(o)
	return errs.CodeOK
}
func (w *Worker) GetReceiveOriginalDestinationAddress() bool {
	return w.socket.Options().ReceiveOriginalDestinationAddress
}

func (w *Worker) SetReceiveTOS(v bool) errs.Code {
	o := w.socket.Options()
	o.IPRecvTOS = v
	w.socket.SetOptions(o)
	return errs.CodeOK
}
func (w *Worker) GetReceiveTOS() bool { return w.socket.Options().IPRecvTOS }

func (w *Worker) SetReceivePacketInfo(v bool) errs.Code {
	if code := w.socket.Capability().CheckSetV6Only(); code != errs.CodeOK {
		return code
	}
	o := w.socket.Options()
	o.IPv6.RecvPktInfo = v
	w.socket.SetOptions(o)
	return errs.CodeOK
}
func (w *Worker) GetReceivePacketInfo() (bool, errs.Code) {
	if code := w.socket.Capability().CheckGetV6Only(); code != errs.CodeOK {
		return false, code
	}
	return w.socket.Options().IPv6.RecvPktInfo, errs.CodeOK
}

func (w *Worker) SetReceiveTrafficClass(v bool) errs.Code {
	if code := w.socket.Capability().CheckSetV6Only(); code != errs.CodeOK {
		return code
	}
	o := w.socket.Options()
	o.IPv6.RecvTClass = v
	w.socket.SetOptions(o)
	return errs.CodeOK
}
func (w *Worker) GetReceiveTrafficClass() (bool, errs.Code) {
	if code := w.socket.Capability().CheckGetV6Only(); code != errs.CodeOK {
		return false, code
	}
	return w.socket.Options().IPv6.RecvTClass, errs.CodeOK
}

func (w *Worker) SetTrafficClass(v6 bool, tc uint8) errs.Code {
	caps := transport.CapabilitiesFor(w.socket.Transport().Kind())
	if !caps.SetDSCPECN {
		return errs.CodeOperationNotSupported
	}
	o := w.socket.Options()
	if v6 {
		o.TrafficClassV6 = tc
	} else {
		o.TrafficClassV4 = tc
	}
	w.socket.SetOptions(o)
	return errs.CodeOK
}

func (w *Worker) GetTrafficClass(v6 bool) uint8 {
	o := w.socket.Options()
	if v6 {
		return o.TrafficClassV6
	}
	return o.TrafficClassV4
}

// SetIPPacketInfo is accepted but ignored
func (w *Worker) SetIPPacketInfo(interface{}) errs.Code { return errs.CodeOK }

func (w *Worker) SetMark(domain opts.Domain, v uint32) errs.Code {
	o := w.socket.Options()
	o.Marks[domain] = v
	w.socket.SetOptions(o)
	return errs.CodeOK
}

func (w *Worker) GetMark(domain opts.Domain) uint32 { return w.socket.Options().Marks[domain] }
