/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package channelactor

import (
	"github.com/hearthwire/dircd/internal/clock"
	"github.com/hearthwire/dircd/internal/identity"
)

// Join sends a joinEvent and blocks for the actor's reply. Inputs: the
// joining user's context, their outbound mailbox, an optional key, any
// pre-computed force modes (auto-op from ChanServ), and the two
// pre-rendered JOIN forms (extended-join tagged and plain).
func (a *Actor) Join(user UserContext, outbox Mailbox, key string, forceModes MemberMode, joinMsgTagged, joinMsgPlain []byte) JoinResult {
	reply := make(chan JoinResult, 1)
	a.mailbox <- joinEvent{
		user:          user,
		outbox:        outbox,
		key:           key,
		forceModes:    forceModes,
		joinMsgTagged: joinMsgTagged,
		joinMsgPlain:  joinMsgPlain,
		reply:         reply,
	}
	return <-reply
}

// Part sends a partEvent and blocks for the actor's reply.
func (a *Actor) Part(uid identity.UID, partMsg []byte) PartResult {
	reply := make(chan PartResult, 1)
	a.mailbox <- partEvent{uid: uid, partMsg: partMsg, reply: reply}
	return <-reply
}

// Quit forwards an already-built QUIT line to every remaining member and
// removes uid. It blocks until applied but returns no typed result — the
// caller (C1.kill_user's caller) doesn't branch on the outcome.
func (a *Actor) Quit(uid identity.UID, quitMsg []byte) {
	done := make(chan struct{})
	a.mailbox <- quitEvent{uid: uid, quitMsg: quitMsg, done: done}
	<-done
}

// Message sends a messageEvent and blocks for the typed outcome.
func (a *Actor) Message(sender UserContext, rendered []byte, isNotice, isTagmsg, isCTCPAction, isCTCPOther bool, statusPrefix byte) MessageOutcome {
	reply := make(chan MessageOutcome, 1)
	a.mailbox <- messageEvent{
		sender:       sender,
		rendered:     rendered,
		isNotice:     isNotice,
		isTagmsg:     isTagmsg,
		isCTCPAction: isCTCPAction,
		isCTCPOther:  isCTCPOther,
		statusPrefix: statusPrefix,
		reply:        reply,
	}
	return <-reply
}

// ApplyModes sends an applyModesEvent and blocks for the applied/rejected
// split.
func (a *Actor) ApplyModes(changes []ModeChange, setter UserContext, force bool, stamp clock.Stamp) ApplyModesResult {
	reply := make(chan ApplyModesResult, 1)
	a.mailbox <- applyModesEvent{changes: changes, setter: setter, force: force, stamp: stamp, reply: reply}
	return <-reply
}

// Kick sends a kickEvent and blocks for the result.
func (a *Actor) Kick(kicker UserContext, target identity.UID, reason string, force bool, kickMsg []byte) KickResult {
	reply := make(chan KickResult, 1)
	a.mailbox <- kickEvent{kicker: kicker, target: target, reason: reason, force: force, kickMsg: kickMsg, reply: reply}
	return <-reply
}

// SetTopic sends a setTopicEvent and blocks for the result.
func (a *Actor) SetTopic(setter UserContext, text string, force bool, stamp clock.Stamp, topicMsg []byte) SetTopicResult {
	reply := make(chan SetTopicResult, 1)
	a.mailbox <- setTopicEvent{setter: setter, text: text, force: force, stamp: stamp, topicMsg: topicMsg, reply: reply}
	return <-reply
}

// Invite sends an inviteEvent and blocks for the result.
func (a *Actor) Invite(inviter UserContext, target identity.UID, force bool) InviteResult {
	reply := make(chan InviteResult, 1)
	a.mailbox <- inviteEvent{inviter: inviter, target: target, force: force, reply: reply}
	return <-reply
}

// Knock sends a knockEvent and blocks for the result.
func (a *Actor) Knock(knocker UserContext) KnockResult {
	reply := make(chan KnockResult, 1)
	a.mailbox <- knockEvent{knocker: knocker, reply: reply}
	return <-reply
}

// Broadcast fans line out to every member mailbox except exclude. Delivery
// to each member is non-blocking (Mailbox.Deliver); this call only blocks
// until the actor has processed the fan-out request itself, preserving
// per-channel ordering with concurrently enqueued events.
func (a *Actor) Broadcast(line []byte, exclude identity.UID) {
	done := make(chan struct{})
	a.mailbox <- broadcastEvent{line: line, exclude: exclude, done: done}
	<-done
}

// BroadcastWithCap fans primaryLine out to members holding cap and
// fallbackLine to everyone else (nil fallback means "skip them").
func (a *Actor) BroadcastWithCap(primaryLine, fallbackLine []byte, cap identity.CapSet, exclude identity.UID) {
	done := make(chan struct{})
	a.mailbox <- broadcastWithCapEvent{primaryLine: primaryLine, fallbackLine: fallbackLine, cap: cap, exclude: exclude, done: done}
	<-done
}

// NickChange updates the actor's local nick cache for uid. It does not
// itself broadcast — the NICK handler broadcasts to every joined channel
// once, using this event only to keep each channel's cache coherent.
func (a *Actor) NickChange(uid identity.UID, newNick string, stamp clock.Stamp) {
	done := make(chan struct{})
	a.mailbox <- nickChangeEvent{uid: uid, newNick: newNick, stamp: stamp, done: done}
	<-done
}

// SetMlock installs (or clears, with "") the registered channel's mode
// lock. The caller resolves the lock string from the channel
// registration store; the actor only enforces it.
func (a *Actor) SetMlock(letters string) {
	done := make(chan struct{})
	a.mailbox <- setMlockEvent{letters: letters, done: done}
	<-done
}

// UpdateCaps re-syncs a member's negotiated capability set after a
// mid-session CAP REQ, so later capability-gated broadcasts pick the
// right form for them.
func (a *Actor) UpdateCaps(uid identity.UID, caps identity.CapSet) {
	done := make(chan struct{})
	a.mailbox <- updateCapsEvent{uid: uid, caps: caps, done: done}
	<-done
}

// MergeCrdt folds a remote delta into the channel's state.
func (a *Actor) MergeCrdt(delta ChannelDelta) {
	done := make(chan struct{})
	a.mailbox <- mergeCrdtEvent{delta: delta, done: done}
	<-done
}

// MergeSJOIN folds an incoming SJOIN into the channel via the three-branch
// TS6 merge (see doMergeSJOIN): whichever side has the older creation
// timestamp wins the whole channel outright, and only an exact tie unions
// the two sides' modes and member statuses.
func (a *Actor) MergeSJOIN(stamp clock.Stamp, modes SimpleMode, key string, limit int, forward string, members []SJOINMember) {
	done := make(chan struct{})
	a.mailbox <- sjoinMergeEvent{
		stamp:   stamp,
		modes:   modes,
		key:     key,
		limit:   limit,
		forward: forward,
		members: members,
		done:    done,
	}
	<-done
}

// Snapshot returns the channel's current member list and topic without
// going through the mailbox — the documented exception for read-only
// WHO/NAMES/LIST queries, backed by the ConcurrentMap member index
// rather than a round trip through the actor goroutine.
func (a *Actor) Snapshot() (members []Member, topic Topic) {
	return a.ch.MemberSnapshot(), a.ch.Topic
}

// Name returns the channel's display-case name.
func (a *Actor) Name() string { return a.ch.Name }

// FoldedName returns the channel's case-folded index key.
func (a *Actor) FoldedName() string { return a.ch.FoldedName }

// BurstSnapshot is everything the S2S layer needs to render a SJOIN line
// for this channel, read directly off actor-owned fields the same way
// Snapshot does — the one documented non-mailbox read path, extended
// here to cover burst generation rather than just WHO/NAMES.
type BurstSnapshot struct {
	Name             string
	FoldedName       string
	Created          clock.Stamp
	Modes            SimpleMode
	Key              string
	Limit            int
	Forward          string
	Members          []Member
	Bans             map[string]ListEntry
	Exceptions       map[string]ListEntry
	InviteExceptions map[string]ListEntry
	Quiets           map[string]ListEntry
}

// Burst returns a BurstSnapshot of the channel's current state.
func (a *Actor) Burst() BurstSnapshot {
	return BurstSnapshot{
		Name:             a.ch.Name,
		FoldedName:       a.ch.FoldedName,
		Created:          a.ch.CreatedAt,
		Modes:            a.ch.Modes,
		Key:              a.ch.Key,
		Limit:            a.ch.Limit,
		Forward:          a.ch.Forward,
		Members:          a.ch.MemberSnapshot(),
		Bans:             listSnapshot(a.ch.Bans),
		Exceptions:       listSnapshot(a.ch.Exceptions),
		InviteExceptions: listSnapshot(a.ch.InviteExceptions),
		Quiets:           listSnapshot(a.ch.Quiets),
	}
}

func listSnapshot(list interface {
	ForEach(func(string, ListEntry) error) error
}) map[string]ListEntry {
	out := make(map[string]ListEntry)
	list.ForEach(func(k string, v ListEntry) error {
		out[k] = v
		return nil
	})
	return out
}
