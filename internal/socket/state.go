// Copyright 2024 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package socket implements Core A: the per-socket state machine, request
// dispatch (A1), and the glue between the transport adapter (A2), the
// receive queue (A3) and the option model (A4).
package socket

import (
	"gvisor.dev/gvisor/pkg/tcpip"

	"go.fuchsia.dev/netmux/internal/errs"
	"go.fuchsia.dev/netmux/internal/socket/transport"
)

// Phase is the connection phase of the socket state machine,
// independent of the overlaid ShutdownMask.
type Phase int

const (
	PhaseUnbound Phase = iota
	PhaseBound
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseUnbound:
		return "unbound"
	case PhaseBound:
		return "bound"
	case PhaseConnected:
		return "connected"
	default:
		return "invalid"
	}
}

// state is the socket's connection-phase state machine. It is guarded by
// the owning Socket's mutex; state itself does no locking.
type state struct {
	phase    Phase
	local    tcpip.FullAddress
	remote   tcpip.FullAddress
	shutdown transport.ShutdownMask
}

// bind transitions Unbound -> Bound. Any other phase is rejected: only
// Unbound is a legal predecessor for bind.
func (s *state) bind(local tcpip.FullAddress) errs.Code {
	if s.phase != PhaseUnbound {
		return errs.CodeInvalidArgument
	}
	s.phase = PhaseBound
	s.local = local
	return errs.CodeOK
}

// connect transitions Unbound -> Connected (the implicit ephemeral bind is
// performed by the transport's Connect, which the caller runs after this
// transition) or Bound -> Connected.
func (s *state) connect(remote tcpip.FullAddress) errs.Code {
	switch s.phase {
	case PhaseUnbound, PhaseBound:
		s.phase = PhaseConnected
		s.remote = remote
		return errs.CodeOK
	default:
		return errs.CodeAlreadyConnected
	}
}

// disconnect transitions Connected -> Bound. Unbound/Bound -> Unbound is
// never permitted
func (s *state) disconnect() errs.Code {
	if s.phase != PhaseConnected {
		return errs.CodeNotConnected
	}
	s.phase = PhaseBound
	s.remote = tcpip.FullAddress{}
	return errs.CodeOK
}

// setShutdown overlays a ShutdownMask on Bound/Connected. shutdown on
// Unbound fails with not-connected; an empty mask is
// invalid-argument regardless of phase.
func (s *state) setShutdown(mask transport.ShutdownMask) errs.Code {
	if mask.IsZero() {
		return errs.CodeInvalidArgument
	}
	if s.phase == PhaseUnbound {
		return errs.CodeNotConnected
	}
	s.shutdown = mask
	return errs.CodeOK
}
