/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

// Package channelactor implements the channel actor (C2): one goroutine per
// channel owning all channel state, driven by a bounded mailbox of typed
// events. It generalizes channel.go's lock-guarded Channel into a
// single-writer actor so every mutation serializes through the event loop
// instead of an RWMutex shared across handler goroutines.
package channelactor

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/hearthwire/dircd/internal/clock"
	"github.com/hearthwire/dircd/internal/concurrentmap"
	"github.com/hearthwire/dircd/internal/identity"
)

// MemberMode is the per-member status bitmask (owner/admin/op/halfop/voice).
type MemberMode uint8

const (
	MemberVoice MemberMode = 1 << iota
	MemberHalfOp
	MemberOp
	MemberAdmin
	MemberOwner
)

// Prefix returns the highest-privilege status prefix character for m, or 0
// if m carries no status, matching channel.go's GetNicks ~/@/%/+ ladder.
func (m MemberMode) Prefix() byte {
	switch {
	case m&MemberOwner != 0:
		return '~'
	case m&MemberAdmin != 0:
		return '&'
	case m&MemberOp != 0:
		return '@'
	case m&MemberHalfOp != 0:
		return '%'
	case m&MemberVoice != 0:
		return '+'
	default:
		return 0
	}
}

// Member is one channel member's status record.
type Member struct {
	UID      identity.UID
	Nick     string
	Modes    MemberMode
	Since    clock.Stamp // per-status last-write-wins timestamp
	JoinedAt time.Time
	Outbox   Mailbox
	Caps     identity.CapSet
}

// Mailbox is the narrow interface the channel actor uses to deliver bytes
// to a member's session without importing the session package. C3's Conn
// implements this.
type Mailbox interface {
	// Deliver attempts a non-blocking send of a pre-rendered line to the
	// member's write queue. It reports false if the mailbox was full,
	// which the caller treats as a slow-reader signal.
	Deliver(line []byte) bool
}

// SimpleMode is the channel simple-mode bitmask (no-external, moderated,
// topic-lock, secret, invite-only, ...).
type SimpleMode uint32

const (
	ModeNoExternal SimpleMode = 1 << iota
	ModeModerated
	ModeTopicLock
	ModeSecret
	ModeInviteOnly
	ModePrivate
	ModeRegisteredOnly
	ModeTLSOnly
	ModeNoCTCP
	ModeNoticeBlock
	ModeFreeInvite
	ModeNoKnock
	ModePermanent
	ModeOperOnly
	ModeAdminOnly
)

// ListEntry is one ban/exception/invite-exception/quiet list entry.
type ListEntry struct {
	Mask   string
	Setter string
	Set    clock.Stamp
}

// Topic is the channel's LWW topic record.
type Topic struct {
	Text      string
	SetterMsk string
	Stamp     clock.Stamp
}

// PendingInvite is one ring entry in the invite queue.
type PendingInvite struct {
	UID     identity.UID
	Inviter identity.UID
	Expires time.Time
}

// Channel is the channel actor's owned state for one channel. It
// generalizes channel.go's Channel (name/topic/modes/owner +
// Nicks/Ops/HalfOps/Voiced UserMaps) into the full attribute set a
// modern channel needs. Every field here is mutated exclusively by the
// actor goroutine in run(); the two ConcurrentMap-backed fields
// (members, the list modes) exist so read-only snapshot helpers (WHO,
// NAMES) can be served without round-tripping the mailbox — the one
// documented exception to "all reads go through the event mailbox".
type Channel struct {
	Name       string // display case
	FoldedName string
	CreatedAt  clock.Stamp // monotonic non-increasing on merge (older wins)

	members concurrentmap.ConcurrentMap[identity.UID, *Member]

	Topic Topic

	Modes SimpleMode

	Key           string
	KeyStamp      clock.Stamp
	Limit         int
	LimitStamp    clock.Stamp
	Forward       string
	ForwardStamp  clock.Stamp
	Throttle      ThrottleParam
	ThrottleStamp clock.Stamp
	Flood         FloodParam
	FloodStamp    clock.Stamp

	// Mlock holds the mode letters a channel registration locks; mode
	// requests touching them are filtered out before application unless
	// forced (a ChanServ effect can still adjust a locked mode).
	Mlock string

	// joinLimiter/floodLimiter are derived, non-CRDT state rebuilt from
	// Throttle/Flood each time a +j/+F mode changes; nil means the
	// corresponding mode is unset, so the gate is skipped rather than
	// blocking everything at a zero rate.
	joinLimiter  *rate.Limiter
	floodLimiter *rate.Limiter

	Bans             concurrentmap.ConcurrentMap[string, ListEntry]
	Exceptions       concurrentmap.ConcurrentMap[string, ListEntry]
	InviteExceptions concurrentmap.ConcurrentMap[string, ListEntry]
	Quiets           concurrentmap.ConcurrentMap[string, ListEntry]

	invites      []PendingInvite
	kicked       map[identity.UID]time.Time // UID -> kicked-at, for rejoin delay
	metadata     map[string]string
	draining     bool
	permanent    bool
	rejoinDelay  time.Duration
	inviteTTL    time.Duration
	maxInvites   int
}

// ThrottleParam is the join-throttle parameter (+j joins:seconds).
type ThrottleParam struct {
	Joins   int
	Seconds int
}

// FloodParam is the flood-protection parameter (+F lines:seconds).
type FloodParam struct {
	Lines   int
	Seconds int
}

// newJoinLimiter builds a token-bucket limiter for a join-throttle
// parameter: Joins tokens refilling over Seconds, burst equal to Joins.
// A zero parameter (mode unset) returns nil — doJoin treats a nil
// limiter as "no throttle configured".
func newJoinLimiter(p ThrottleParam) *rate.Limiter {
	if p.Joins <= 0 || p.Seconds <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(p.Joins))/rate.Limit(p.Seconds), p.Joins)
}

// newFloodLimiter builds a token-bucket limiter for a flood-protection
// parameter, the same shape as newJoinLimiter but gating message volume
// instead of join volume.
func newFloodLimiter(p FloodParam) *rate.Limiter {
	if p.Lines <= 0 || p.Seconds <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(p.Lines))/rate.Limit(p.Seconds), p.Lines)
}

// NewChannel builds an empty Channel for name, created at createdAt.
func NewChannel(name, foldedName string, createdAt clock.Stamp) *Channel {
	return &Channel{
		Name:             name,
		FoldedName:       foldedName,
		CreatedAt:        createdAt,
		members:          concurrentmap.New[identity.UID, *Member](),
		Bans:             concurrentmap.New[string, ListEntry](),
		Exceptions:       concurrentmap.New[string, ListEntry](),
		InviteExceptions: concurrentmap.New[string, ListEntry](),
		Quiets:           concurrentmap.New[string, ListEntry](),
		kicked:           make(map[identity.UID]time.Time),
		metadata:         make(map[string]string),
		rejoinDelay:      10 * time.Second,
		inviteTTL:        10 * time.Minute,
		maxInvites:       64,
	}
}

// MemberCount returns the current member count — safe to call
// concurrently, backed by the ConcurrentMap rather than the mailbox.
func (c *Channel) MemberCount() int { return c.members.Length() }

// MemberSnapshot returns an immutable copy of every member, for WHO/NAMES.
func (c *Channel) MemberSnapshot() []Member {
	vals := c.members.Values()
	out := make([]Member, len(vals))
	for i, m := range vals {
		out[i] = *m
	}
	return out
}

// Member looks up a single member by UID.
func (c *Channel) Member(uid identity.UID) (*Member, bool) {
	return c.members.Get(uid)
}

func (c *Channel) setMode(m SimpleMode) { c.Modes |= m }
func (c *Channel) clearMode(m SimpleMode) { c.Modes &^= m }
func (c *Channel) hasMode(m SimpleMode) bool { return c.Modes&m == m }
