/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package channelactor

import (
	"time"

	"github.com/hearthwire/dircd/internal/clock"
	"github.com/hearthwire/dircd/internal/identity"
)

// SJOINMember is one member asserted by an incoming SJOIN line. Known is
// set when the S2S layer already resolved this UID against the identity
// index; if it's false and the UID isn't already a member of this
// channel, the member is skipped rather than joined with a blank
// identity — a SJOIN should never arrive for a UID without a preceding
// UID burst line, but a split-brain peer bug shouldn't panic the actor.
type SJOINMember struct {
	UID      identity.UID
	Statuses MemberMode
	Known    bool
	Ctx      UserContext
	Outbox   Mailbox
	JoinLine []byte
}

type sjoinMergeEvent struct {
	stamp   clock.Stamp
	modes   SimpleMode
	key     string
	limit   int
	forward string
	members []SJOINMember
	done    chan struct{}
}

func (sjoinMergeEvent) isEvent() {}

// doMergeSJOIN applies an incoming SJOIN using the three-branch TS6
// algorithm instead of a per-field LWW pass: the side with the newer
// (larger) creation timestamp loses outright, discarding its own
// channel-level modes and clearing every existing member's status before
// the incoming side's modes and member statuses apply wholesale. The
// side with the older timestamp wins outright: local modes and member
// statuses are kept as-is, and the incoming side's status prefixes are
// stripped for anyone already known (new members still join, just with
// no status). An exact tie unions both sides — modes and member statuses
// combine rather than either side being discarded.
func (a *Actor) doMergeSJOIN(e sjoinMergeEvent) {
	cmp := e.stamp.Compare(a.ch.CreatedAt)

	switch {
	case cmp < 0:
		a.ch.CreatedAt = e.stamp
		a.ch.Modes = e.modes
		a.ch.Key, a.ch.KeyStamp = e.key, e.stamp
		a.ch.Limit, a.ch.LimitStamp = e.limit, e.stamp
		a.ch.Forward, a.ch.ForwardStamp = e.forward, e.stamp

		a.ch.members.ForEach(func(_ identity.UID, m *Member) error {
			m.Modes = 0
			m.Since = e.stamp
			return nil
		})
		for _, tok := range e.members {
			a.setOrJoinSJOINMember(tok, tok.Statuses, e.stamp)
		}

	case cmp > 0:
		for _, tok := range e.members {
			if _, already := a.ch.members.Get(tok.UID); already {
				continue
			}
			a.setOrJoinSJOINMember(tok, 0, a.ch.CreatedAt)
		}

	default:
		a.ch.Modes |= e.modes
		if e.key != "" && !e.stamp.Before(a.ch.KeyStamp) {
			a.ch.Key, a.ch.KeyStamp = e.key, e.stamp
		}
		if e.limit > 0 && !e.stamp.Before(a.ch.LimitStamp) {
			a.ch.Limit, a.ch.LimitStamp = e.limit, e.stamp
		}
		if e.forward != "" && !e.stamp.Before(a.ch.ForwardStamp) {
			a.ch.Forward, a.ch.ForwardStamp = e.forward, e.stamp
		}
		for _, tok := range e.members {
			a.setOrJoinSJOINMember(tok, tok.Statuses, e.stamp)
		}
	}
}

func (a *Actor) setOrJoinSJOINMember(tok SJOINMember, statuses MemberMode, stamp clock.Stamp) {
	if m, ok := a.ch.members.Get(tok.UID); ok {
		m.Modes |= statuses
		m.Since = stamp
		return
	}
	if !tok.Known {
		return
	}

	member := &Member{
		UID:      tok.UID,
		Nick:     tok.Ctx.Nick,
		Modes:    statuses,
		Since:    stamp,
		JoinedAt: time.Now(),
		Outbox:   tok.Outbox,
		Caps:     tok.Ctx.Caps,
	}
	a.ch.members.Set(tok.UID, member)
	a.doBroadcast(tok.JoinLine, "")
}
