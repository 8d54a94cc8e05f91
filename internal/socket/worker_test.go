// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package socket

import (
	"testing"

	"gvisor.dev/gvisor/pkg/tcpip"

	"go.fuchsia.dev/netmux/internal/errs"
	"go.fuchsia.dev/netmux/internal/socket/queue"
	"go.fuchsia.dev/netmux/internal/socket/transport"
)

// fakeTransport is a minimal in-memory stand-in for transport.Transport,
// recording the calls a test cares about without touching the network —
// the orchestration in Worker/Socket is what these tests exercise, not the
// UDP/ICMP adapters themselves (covered by transport_test.go).
type fakeTransport struct {
	kind      transport.Kind
	local     tcpip.FullAddress
	remote    tcpip.FullAddress
	shutdown  transport.ShutdownMask
	sendErr   transport.SendError
	lastSent  []byte
	lastTo    tcpip.FullAddress
	closed    chan struct{}
}

func newFakeTransport(k transport.Kind) *fakeTransport {
	return &fakeTransport{kind: k, closed: make(chan struct{})}
}

func (f *fakeTransport) Kind() transport.Kind { return f.kind }
func (f *fakeTransport) Bind(local tcpip.FullAddress) errs.Code {
	f.local = local
	return errs.CodeOK
}
func (f *fakeTransport) Connect(remote tcpip.FullAddress) errs.Code {
	f.remote = remote
	return errs.CodeOK
}
func (f *fakeTransport) Disconnect() errs.Code { return errs.CodeOK }
func (f *fakeTransport) Send(payload []byte) (int, transport.SendError) {
	f.lastSent = payload
	return len(payload), f.sendErr
}
func (f *fakeTransport) SendTo(remote tcpip.FullAddress, payload []byte) (int, transport.SendError) {
	f.lastSent = payload
	f.lastTo = remote
	return len(payload), f.sendErr
}
func (f *fakeTransport) Shutdown(mask transport.ShutdownMask) errs.Code {
	f.shutdown = mask
	return errs.CodeOK
}
func (f *fakeTransport) LocalAddress() (tcpip.FullAddress, bool)  { return f.local, true }
func (f *fakeTransport) RemoteAddress() (tcpip.FullAddress, bool) { return f.remote, true }
func (f *fakeTransport) Close() <-chan struct{} {
	close(f.closed)
	return f.closed
}

var _ transport.Transport = (*fakeTransport)(nil)

func newUDPSocket(t *testing.T) (*Socket, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport(transport.KindUDP)
	return New(1, ft, false, false), ft
}

// TestStateMachineLegalTransitions covers the legal phase transitions: bind
// only from Unbound, connect from Unbound or Bound, disconnect only from
// Connected. Shutdown's phase rule is covered by
// TestShutdownRequiresNonZeroMaskAndBoundPhase.
func TestStateMachineLegalTransitions(t *testing.T) {
	s, _ := newUDPSocket(t)

	if got := s.Phase(); got != PhaseUnbound {
		t.Fatalf("new socket phase = %v, want Unbound", got)
	}
	if code := s.Bind(tcpip.FullAddress{Port: 1234}); code != errs.CodeOK {
		t.Fatalf("Bind() = %v, want OK", code)
	}
	if code := s.Bind(tcpip.FullAddress{Port: 5555}); code != errs.CodeInvalidArgument {
		t.Errorf("second Bind() = %v, want invalid-argument", code)
	}
	if code := s.Connect(tcpip.FullAddress{Addr: tcpip.AddrFromSlice([]byte{127, 0, 0, 1}), Port: 9000}); code != errs.CodeOK {
		t.Fatalf("Connect() from Bound = %v, want OK", code)
	}
	if got := s.Phase(); got != PhaseConnected {
		t.Fatalf("phase after connect = %v, want Connected", got)
	}
	if code := s.Disconnect(); code != errs.CodeOK {
		t.Fatalf("Disconnect() = %v, want OK", code)
	}
	if got := s.Phase(); got != PhaseBound {
		t.Fatalf("phase after disconnect = %v, want Bound", got)
	}
	if code := s.Disconnect(); code != errs.CodeNotConnected {
		t.Errorf("second Disconnect() = %v, want not-connected", code)
	}
}

func TestShutdownRequiresNonZeroMaskAndBoundPhase(t *testing.T) {
	s, _ := newUDPSocket(t)
	if code := s.Shutdown(transport.ShutdownMask{}); code != errs.CodeInvalidArgument {
		t.Errorf("Shutdown(zero mask) = %v, want invalid-argument", code)
	}
	if code := s.Shutdown(transport.ShutdownMask{Read: true}); code != errs.CodeNotConnected {
		t.Errorf("Shutdown on Unbound = %v, want not-connected", code)
	}
	s.Bind(tcpip.FullAddress{Port: 1})
	if code := s.Shutdown(transport.ShutdownMask{Read: true}); code != errs.CodeOK {
		t.Errorf("Shutdown on Bound = %v, want OK", code)
	}
}

// TestRecvMsgEmptyShutdownVsTryAgain covers the recv path's step 2:
// empty + not shut => try-again; empty + read-shut => EOF (empty payload, OK).
func TestRecvMsgEmptyShutdownVsTryAgain(t *testing.T) {
	s, _ := newUDPSocket(t)
	s.Bind(tcpip.FullAddress{Port: 1})
	w := NewWorker(s)

	res, code := w.RecvMsg(1500)
	if code != errs.CodeTryAgain {
		t.Fatalf("RecvMsg on empty open queue = %v, want try-again", code)
	}
	if len(res.Payload) != 0 {
		t.Errorf("RecvMsg try-again payload = %v, want empty", res.Payload)
	}

	if code := s.Shutdown(transport.ShutdownMask{Read: true}); code != errs.CodeOK {
		t.Fatalf("Shutdown(Read) = %v", code)
	}
	res, code = w.RecvMsg(1500)
	if code != errs.CodeOK {
		t.Fatalf("RecvMsg on empty read-shut queue = %v, want OK (EOF)", code)
	}
	if len(res.Payload) != 0 {
		t.Errorf("RecvMsg EOF payload = %v, want empty", res.Payload)
	}
}

// TestRecvMsgTruncation covers step 3: payload longer than the requested
// length is truncated and the overflow recorded.
func TestRecvMsgTruncation(t *testing.T) {
	s, _ := newUDPSocket(t)
	w := NewWorker(s)
	s.Queue().Receive(queue.AvailableMessage{Payload: []byte("hello world")})

	res, code := w.RecvMsg(5)
	if code != errs.CodeOK {
		t.Fatalf("RecvMsg() = %v, want OK", code)
	}
	if got, want := string(res.Payload), "hello"; got != want {
		t.Errorf("RecvMsg truncated payload = %q, want %q", got, want)
	}
	if got, want := res.Truncated, uint32(len("hello world")-5); got != want {
		t.Errorf("RecvMsg truncated count = %d, want %d", got, want)
	}
}

func TestPeekDoesNotRemove(t *testing.T) {
	s, _ := newUDPSocket(t)
	w := NewWorker(s)
	s.Queue().Receive(queue.AvailableMessage{Payload: []byte("hi")})

	if _, code := w.Peek(1500); code != errs.CodeOK {
		t.Fatalf("Peek() = %v, want OK", code)
	}
	if s.Queue().Empty() {
		t.Fatalf("queue empty after Peek, want message retained")
	}
	if _, ok := s.Queue().Pop(); !ok {
		t.Fatalf("Pop() after Peek found no message")
	}
}

// TestSendMsgShutdownWrite covers the send path's interaction with a
// write-shutdown socket: broken-pipe regardless of destination.
func TestSendMsgShutdownWrite(t *testing.T) {
	s, ft := newUDPSocket(t)
	s.Bind(tcpip.FullAddress{Port: 1})
	s.Shutdown(transport.ShutdownMask{Write: true})
	w := NewWorker(s)

	if _, code := w.SendMsg(nil, []byte("x")); code != errs.CodeBrokenPipe {
		t.Errorf("SendMsg on write-shut socket = %v, want broken-pipe", code)
	}
	if ft.lastSent != nil {
		t.Errorf("transport.Send called on write-shut socket")
	}
}

// TestSendMsgZeroPortUDP covers the rule that a zero destination port is
// destination-address-required for UDP.
func TestSendMsgZeroPortUDP(t *testing.T) {
	s, _ := newUDPSocket(t)
	w := NewWorker(s)
	dst := tcpip.FullAddress{Addr: tcpip.AddrFromSlice([]byte{127, 0, 0, 1})}
	if _, code := w.SendMsg(&dst, []byte("x")); code != errs.CodeDestinationAddressRequired {
		t.Errorf("SendMsg(UDP, port 0) = %v, want destination-address-required", code)
	}
}

// TestSendMsgZeroPortICMP covers the rule that a zero destination port is
// broken-pipe for ICMP echo.
func TestSendMsgZeroPortICMP(t *testing.T) {
	ft := newFakeTransport(transport.KindICMPEcho)
	s := New(1, ft, false, false)
	w := NewWorker(s)
	dst := tcpip.FullAddress{Addr: tcpip.AddrFromSlice([]byte{127, 0, 0, 1})}
	if _, code := w.SendMsg(&dst, []byte("x")); code != errs.CodeBrokenPipe {
		t.Errorf("SendMsg(ICMP, port 0) = %v, want broken-pipe", code)
	}
}

// TestSendMsgConnectedUsesSend covers the send path's first branch: a nil
// destination routes through Send (the connected form), not SendTo.
func TestSendMsgConnectedUsesSend(t *testing.T) {
	s, ft := newUDPSocket(t)
	s.Connect(tcpip.FullAddress{Addr: tcpip.AddrFromSlice([]byte{127, 0, 0, 1}), Port: 9000})
	w := NewWorker(s)

	n, code := w.SendMsg(nil, []byte("hello"))
	if code != errs.CodeOK || n != 5 {
		t.Fatalf("SendMsg(nil) = (%d, %v), want (5, OK)", n, code)
	}
	if got, want := string(ft.lastSent), "hello"; got != want {
		t.Errorf("transport.Send payload = %q, want %q", got, want)
	}
}

// TestEndToEndUDPHello exercises a full round trip: bind, connect,
// send, and recv a datagram round-trip through the worker.
func TestEndToEndUDPHello(t *testing.T) {
	s, ft := newUDPSocket(t)
	w := NewWorker(s)

	if code := w.Bind(tcpip.FullAddress{Port: 4000}); code != errs.CodeOK {
		t.Fatalf("Bind() = %v", code)
	}
	peer := tcpip.FullAddress{Addr: tcpip.AddrFromSlice([]byte{127, 0, 0, 1}), Port: 4001}
	if code := w.Connect(peer); code != errs.CodeOK {
		t.Fatalf("Connect() = %v", code)
	}
	if _, code := w.SendMsg(nil, []byte("hello")); code != errs.CodeOK {
		t.Fatalf("SendMsg() = %v", code)
	}
	if got, want := string(ft.lastSent), "hello"; got != want {
		t.Errorf("sent payload = %q, want %q", got, want)
	}

	if !w.Deliver(queue.AvailableMessage{
		SrcAddr: peer.Addr,
		SrcPort: peer.Port,
		Payload: []byte("world"),
	}) {
		t.Fatalf("Deliver() rejected message")
	}
	res, code := w.RecvMsg(1500)
	if code != errs.CodeOK {
		t.Fatalf("RecvMsg() = %v", code)
	}
	if got, want := string(res.Payload), "world"; got != want {
		t.Errorf("received payload = %q, want %q", got, want)
	}
	if res.From == nil || res.From.Port != peer.Port {
		t.Errorf("received From = %+v, want port %d", res.From, peer.Port)
	}
}

// TestEndToEndDualStackConnect exercises scenario 2: a dual-stack (UDP) v6
// socket connecting to an IPv4 peer gets the address mapped transparently.
func TestEndToEndDualStackConnect(t *testing.T) {
	ft := newFakeTransport(transport.KindUDP)
	s := New(1, ft, true, true)
	w := NewWorker(s)

	v4peer := tcpip.FullAddress{Addr: tcpip.AddrFromSlice([]byte{192, 0, 2, 7}), Port: 80}
	if code := w.Connect(v4peer); code != errs.CodeOK {
		t.Fatalf("Connect(v4 peer on dual-stack v6 socket) = %v", code)
	}
	if !transport.IsV4Mapped(ft.remote.Addr) {
		t.Errorf("transport.remote = %s, want v4-mapped", ft.remote.Addr)
	}
}

// TestEndToEndShutdownThenSend exercises scenario 4: after a write
// shutdown, further sends fail with broken-pipe even though the socket
// remains connected.
func TestEndToEndShutdownThenSend(t *testing.T) {
	s, _ := newUDPSocket(t)
	w := NewWorker(s)
	peer := tcpip.FullAddress{Addr: tcpip.AddrFromSlice([]byte{127, 0, 0, 1}), Port: 4001}
	w.Connect(peer)
	w.Shutdown(transport.ShutdownMask{Write: true})

	if _, code := w.SendMsg(nil, []byte("x")); code != errs.CodeBrokenPipe {
		t.Errorf("SendMsg after write-shutdown = %v, want broken-pipe", code)
	}
	if got := w.socket.Phase(); got != PhaseConnected {
		t.Errorf("phase after write-shutdown = %v, want still Connected", got)
	}
}

func TestCloneSharesSocketAndClosesOnLastRef(t *testing.T) {
	s, ft := newUDPSocket(t)
	w1 := NewWorker(s)
	w2 := w1.Clone()

	closeNow, _ := w1.Close()
	if !closeNow {
		t.Fatalf("Close() on first of two clones should report closeNow=true")
	}
	select {
	case <-ft.closed:
		t.Fatalf("transport closed before last clone released")
	default:
	}

	closeNow, done := w2.Close()
	if closeNow {
		t.Fatalf("Close() on last clone should report closeNow=false (async teardown)")
	}
	<-done
	select {
	case <-ft.closed:
	default:
		t.Fatalf("transport not closed after last clone released")
	}
}

func TestSetMulticastHopLimitZeroRejected(t *testing.T) {
	s, _ := newUDPSocket(t)
	w := NewWorker(s)
	if code := w.SetMulticastHopLimit(false, 0); code != errs.CodeInvalidArgument {
		t.Errorf("SetMulticastHopLimit(0) = %v, want invalid-argument", code)
	}
}

func TestSetMulticastInterfaceUnassignedAddr(t *testing.T) {
	s, _ := newUDPSocket(t)
	w := NewWorker(s)
	addr := tcpip.AddrFromSlice([]byte{203, 0, 113, 5})
	if code := w.SetMulticastInterface(0, addr, false); code != errs.CodeAddressNotAvailable {
		t.Errorf("SetMulticastInterface(unassigned addr) = %v, want address-not-available", code)
	}
}
