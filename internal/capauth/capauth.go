/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

// Package capauth implements the capability authority (C4): the single
// gate every privileged operation (KILL, DIE, REHASH, oper-only channel
// modes, CHGHOST, WALLOPS, SAJOIN/SAPART, CONNECT, SQUIT, ...) passes
// through to obtain an unforgeable, single-use Token before a channel
// actor or C1 will honor a force=true request.
package capauth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/hearthwire/dircd/internal/identity"
)

// Permission is the operator privilege ladder, generalizing permissions.go's
// UPermBan..UPermServer into this package so C4 doesn't depend on the
// session package for a bare integer ladder.
type Permission uint8

const (
	PermBan Permission = iota
	PermNone
	PermUser
	PermHelpOp
	PermNetOp
	PermAdmin
	PermServer
)

// Capability names every privileged operation the authority mediates.
type Capability string

const (
	CapKill          Capability = "KILL"
	CapDie           Capability = "DIE"
	CapRehash        Capability = "REHASH"
	CapOperChanMode  Capability = "OPER_CHAN_MODE"
	CapChgHost       Capability = "CHGHOST"
	CapWallops       Capability = "WALLOPS"
	CapSaJoin        Capability = "SAJOIN"
	CapSaPart        Capability = "SAPART"
	CapConnect       Capability = "CONNECT"
	CapSquit         Capability = "SQUIT"
	CapBatchRouting  Capability = "BATCH_END_ROUTE"
	CapChannelForce  Capability = "CHANNEL_FORCE" // KICK/TOPIC/INVITE with force
)

// requiredOperLevel is the minimum Permission an oper must hold to be
// granted each non-channel capability, generalizing usermode.go's
// UModeReqs{Setter,Target} pair table down to the setter side (C4 has no
// notion of "target user's own permission" the way user-mode setting
// does; the target's permission is not checked, including for KILL).
var requiredOperLevel = map[Capability]Permission{
	CapKill:         PermNetOp,
	CapDie:          PermServer,
	CapRehash:       PermAdmin,
	CapOperChanMode: PermNetOp,
	CapChgHost:      PermHelpOp,
	CapWallops:      PermNetOp,
	CapSaJoin:       PermAdmin,
	CapSaPart:       PermAdmin,
	CapConnect:      PermServer,
	CapSquit:        PermServer,
	CapBatchRouting: PermServer,
}

// Request is what a caller presents to the authority.
type Request struct {
	Subject    identity.UID
	SubjectPerm Permission
	Cap        Capability
	Resource   string // channel name or target UID, depending on Cap

	// ChannelMember, when Cap is CapChannelForce, reports whether the
	// subject holds op/halfop in Resource — the channel package computes
	// this and passes it in, since C4 doesn't hold channel state itself.
	ChannelMember bool
}

// Token is an unforgeable, single-use grant. It can only be constructed by
// Authority.Grant and is tied to exactly the (subject, cap, resource,
// epoch) tuple it was issued for; Consume fails for any other tuple.
type Token struct {
	subject  identity.UID
	cap      Capability
	resource string
	epoch    uint64
	consumed *bool
}

// Subject returns the UID the token was granted to.
func (t Token) Subject() identity.UID { return t.subject }

// Authority grants and logs capability tokens.
type Authority struct {
	mu    sync.Mutex
	epoch uint64
	log   []GrantLogEntry
}

// GrantLogEntry records one grant decision for audit. Resource is redacted
// to its length-preserving shape for CHGHOST requests; every other
// capability's resource (channel names, UIDs) is logged verbatim.
type GrantLogEntry struct {
	Subject  identity.UID
	Cap      Capability
	Resource string
	Granted  bool
}

// New builds an empty Authority.
func New() *Authority {
	return &Authority{}
}

// Evaluate decides whether req should be granted: an operator with the
// needed privilege flag, or — for channel capabilities — a subject
// holding op/halfop in the named channel.
func (a *Authority) Evaluate(req Request) bool {
	if req.Cap == CapChannelForce {
		// Op/halfop in the channel, or a network operator acting from
		// outside it (an oper-forced KICK/TOPIC/INVITE never requires
		// joining first).
		return req.ChannelMember || req.SubjectPerm >= PermNetOp
	}

	required, known := requiredOperLevel[req.Cap]
	if !known {
		return false
	}
	return req.SubjectPerm >= required
}

// Grant evaluates req and, if permitted, mints a single-use Token. It
// always logs the decision, keeping every grant/deny on one audit surface.
func (a *Authority) Grant(req Request) (Token, bool) {
	granted := a.Evaluate(req)

	a.mu.Lock()
	a.epoch++
	epoch := a.epoch
	a.log = append(a.log, GrantLogEntry{
		Subject:  req.Subject,
		Cap:      req.Cap,
		Resource: redact(req.Cap, req.Resource),
		Granted:  granted,
	})
	a.mu.Unlock()

	if !granted {
		return Token{}, false
	}

	consumed := new(bool)
	return Token{
		subject:  req.Subject,
		cap:      req.Cap,
		resource: req.Resource,
		epoch:    epoch,
		consumed: consumed,
	}, true
}

// Consume validates that tok matches (subject, cap, resource) and has not
// already been spent, then marks it spent. It returns false for a reused
// token, a forged one (zero value), or a mismatched subject/cap/resource.
func (a *Authority) Consume(tok Token, subject identity.UID, capability Capability, resource string) bool {
	if tok.consumed == nil {
		return false
	}
	if tok.subject != subject || tok.cap != capability || tok.resource != resource {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if *tok.consumed {
		return false
	}
	*tok.consumed = true
	return true
}

// Log returns a copy of the audit log, most recent last.
func (a *Authority) Log() []GrantLogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]GrantLogEntry, len(a.log))
	copy(out, a.log)
	return out
}

// redact masks the resource of a CHGHOST request, whatever identifier it
// holds, preserving only its length; other capabilities' resources pass
// through unchanged.
func redact(cap Capability, resource string) string {
	if cap != CapChgHost {
		return resource
	}
	masked := make([]byte, len(resource))
	for i := range masked {
		masked[i] = '*'
	}
	return string(masked)
}

// newOpaqueID returns a random 16-hex-digit correlation id, separate from
// the token itself. It is unexported and nothing currently calls it.
func newOpaqueID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
