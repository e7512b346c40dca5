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

// UserContext is the subset of a joining/speaking user's state the actor
// needs to evaluate bans, mode gates, and privilege checks without a
// dependency on the session or identity packages' full types.
type UserContext struct {
	UID        identity.UID
	Nick       string
	Username   string
	Host       string
	IP         string
	Account    string
	Registered bool // account is identified, not "session registered"
	TLS        bool
	Oper       bool
	Admin      bool
	Caps       identity.CapSet
}

// Mask renders the nick!user@host hostmask used for ban/exception matching.
func (u UserContext) Mask() string {
	return u.Nick + "!" + u.Username + "@" + u.Host
}

// event is the closed set of messages the actor's mailbox accepts. Each
// concrete type is unexported so only this package can construct one,
// matching the "closed Effect interface" shape C5 also uses.
type event interface{ isEvent() }

type joinEvent struct {
	user        UserContext
	outbox      Mailbox
	key         string
	forceModes  MemberMode
	joinMsgTagged   []byte
	joinMsgPlain    []byte
	reply       chan JoinResult
}

func (joinEvent) isEvent() {}

// JoinOutcome enumerates Join's typed result, so the caller can emit the
// matching numeric without the actor reaching into the wire layer.
type JoinOutcome int

const (
	JoinSuccess JoinOutcome = iota
	JoinErrBanned
	JoinErrInviteOnly
	JoinErrFull
	JoinErrTLSOnly
	JoinErrOperOnly
	JoinErrAdminOnly
	JoinErrRegisteredOnly
	JoinErrBadKey
	JoinErrAlreadyMember
	JoinErrThrottled
)

// JoinResult is the reply payload for a joinEvent.
type JoinResult struct {
	Outcome     JoinOutcome
	TopicText   string
	TopicStamp  clock.Stamp
	Secret      bool
	ForwardTo   string // set on JoinErrInviteOnly/JoinErrFull if +f is set
}

type partEvent struct {
	uid     identity.UID
	partMsg []byte
	reply   chan PartResult
}

func (partEvent) isEvent() {}

// PartResult is the reply payload for a partEvent.
type PartResult struct {
	Removed        bool
	RemainingCount int
}

type quitEvent struct {
	uid     identity.UID
	quitMsg []byte
	done    chan struct{}
}

func (quitEvent) isEvent() {}

// MessageOutcome enumerates Message's typed result.
type MessageOutcome int

const (
	MsgSent MessageOutcome = iota
	MsgBlockedExternal
	MsgBlockedRegisteredOnly
	MsgBlockedTLSOnly
	MsgBlockedModerated
	MsgBlockedNotice
	MsgBlockedCTCP
	MsgBlockedBanned
	MsgBlockedSpam
	MsgBlockedFlood
	MsgNotMember
)

type messageEvent struct {
	sender       UserContext
	rendered     []byte // pre-rendered wire line, sender prefix already applied
	isNotice     bool
	isTagmsg     bool
	isCTCPAction bool
	isCTCPOther  bool
	statusPrefix byte // 0 if none
	reply        chan MessageOutcome
}

func (messageEvent) isEvent() {}

// ModeChange is one requested mode delta.
type ModeChange struct {
	Add   bool
	Mode  byte // 'b','o','v','k','l', etc — wire letter
	Arg   string
	UID   identity.UID // resolved target for status modes
}

// ModeRejection describes why a requested ModeChange didn't apply.
type ModeRejection struct {
	Change ModeChange
	Reason string
}

type applyModesEvent struct {
	changes []ModeChange
	setter  UserContext
	force   bool
	stamp   clock.Stamp // per-mode LWW stamp for everything this event applies
	reply   chan ApplyModesResult
}

func (applyModesEvent) isEvent() {}

// ApplyModesResult reports the subset of requested changes that actually
// applied (for the broadcast MODE line) and the rejected subset.
type ApplyModesResult struct {
	Applied  []ModeChange
	Rejected []ModeRejection
}

type kickEvent struct {
	kicker  UserContext
	target  identity.UID
	reason  string
	force   bool
	kickMsg []byte
	reply   chan KickResult
}

func (kickEvent) isEvent() {}

// KickResult reports whether the kick applied.
type KickResult struct {
	OK     bool
	Reason string // rejection reason when !OK
}

type setTopicEvent struct {
	setter    UserContext
	text      string
	force     bool
	stamp     clock.Stamp
	topicMsg  []byte
	reply     chan SetTopicResult
}

func (setTopicEvent) isEvent() {}

// SetTopicResult reports whether the topic applied.
type SetTopicResult struct {
	OK bool
}

type inviteEvent struct {
	inviter UserContext
	target  identity.UID
	force   bool
	reply   chan InviteResult
}

func (inviteEvent) isEvent() {}

// InviteResult reports whether the invite was recorded.
type InviteResult struct {
	OK              bool
	AlreadyMember   bool
	RequiresOp      bool
}

type knockEvent struct {
	knocker UserContext
	reply   chan KnockResult
}

func (knockEvent) isEvent() {}

// KnockResult reports the outcome and, on success, the rendered NOTICE
// text the caller delivers to ops/halfops.
type KnockResult struct {
	OK          bool
	NoticeText  string
}

type broadcastEvent struct {
	line    []byte
	exclude identity.UID
	done    chan struct{}
}

func (broadcastEvent) isEvent() {}

type broadcastWithCapEvent struct {
	primaryLine  []byte
	fallbackLine []byte
	cap          identity.CapSet
	exclude      identity.UID
	done         chan struct{}
}

func (broadcastWithCapEvent) isEvent() {}

type nickChangeEvent struct {
	uid     identity.UID
	newNick string
	stamp   clock.Stamp
	done    chan struct{}
}

func (nickChangeEvent) isEvent() {}

type setMlockEvent struct {
	letters string
	done    chan struct{}
}

func (setMlockEvent) isEvent() {}

type updateCapsEvent struct {
	uid  identity.UID
	caps identity.CapSet
	done chan struct{}
}

func (updateCapsEvent) isEvent() {}

type mergeCrdtEvent struct {
	delta ChannelDelta
	done  chan struct{}
}

func (mergeCrdtEvent) isEvent() {}

// Actor.Snapshot has no event type here: it bypasses the mailbox and is
// served by direct ConcurrentMap reads instead of being queued.
