/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package s2s

import (
	"strconv"
	"strings"

	"github.com/hearthwire/dircd/internal/channelactor"
	"github.com/hearthwire/dircd/internal/clock"
	"github.com/hearthwire/dircd/internal/crdt"
	"github.com/hearthwire/dircd/internal/identity"
	"github.com/hearthwire/dircd/internal/wire"
)

// MemberToken is one decoded (prefix-chars, UID) pair off an SJOIN line.
type MemberToken struct {
	UID      identity.UID
	Statuses channelactor.MemberMode
}

// SJOINInfo is a decoded SJOIN line, ready to apply to a channel actor.
type SJOINInfo struct {
	Stamp   clock.Stamp
	Channel string
	Modes   channelactor.SimpleMode
	Key     string
	Limit   int
	Forward string
	Members []MemberToken
}

// DecodeSJOIN parses an inbound SJOIN message into SJOINInfo. The wire
// shape is "<TS> <channel> <modestring> [modeargs...] :<prefix><uid> ...",
// the TS6 convention original_source's burst emitter also produces.
func DecodeSJOIN(msg *wire.Message) (SJOINInfo, bool) {
	if len(msg.Params) < 3 {
		return SJOINInfo{}, false
	}
	ts, err := strconv.ParseInt(msg.Params[0], 10, 64)
	if err != nil {
		return SJOINInfo{}, false
	}
	channel := msg.Params[1]
	letters := msg.Params[2]
	args := msg.Params[3:]

	modes, key, limit, forward := parseSimpleModes(letters, args)

	var members []MemberToken
	for _, tok := range strings.Fields(msg.Text) {
		i := 0
		for i < len(tok) && isPrefixChar(tok[i]) {
			i++
		}
		members = append(members, MemberToken{
			UID:      identity.UID(tok[i:]),
			Statuses: parsePrefixChars(tok[:i]),
		})
	}

	return SJOINInfo{
		Stamp:   clock.Stamp{WallMS: ts * 1000, SID: msg.Sender},
		Channel: channel,
		Modes:   modes,
		Key:     key,
		Limit:   limit,
		Forward: forward,
		Members: members,
	}, true
}

func isPrefixChar(b byte) bool {
	for _, s := range memberStatusLetters {
		if s.prefix == b {
			return true
		}
	}
	return false
}

// TMODEInfo is a decoded TMODE line carrying list-mode (ban/except/
// invex/quiet) entries, sent as a follow-up to SJOIN when a channel
// carries any.
type TMODEInfo struct {
	Stamp            clock.Stamp
	Channel          string
	Bans             []string
	Exceptions       []string
	InviteExceptions []string
	Quiets           []string
}

// DecodeTMODE parses an inbound TMODE line. Only the list-mode letters
// are handled here — simple/parameter modes arrive on SJOIN, and status
// changes use the member-prefix vector, so a client-path MODE letter
// reaching here is ignored rather than erroring, since a future peer may
// legitimately widen the set this build recognizes.
func DecodeTMODE(msg *wire.Message) (TMODEInfo, bool) {
	if len(msg.Params) < 3 {
		return TMODEInfo{}, false
	}
	ts, err := strconv.ParseInt(msg.Params[0], 10, 64)
	if err != nil {
		return TMODEInfo{}, false
	}
	info := TMODEInfo{
		Stamp:   clock.Stamp{WallMS: ts * 1000, SID: msg.Sender},
		Channel: msg.Params[1],
	}

	letters := msg.Params[2]
	args := msg.Params[3:]
	argi := 0
	next := func() string {
		if argi >= len(args) {
			return ""
		}
		v := args[argi]
		argi++
		return v
	}

	adding := true
	for _, r := range letters {
		switch r {
		case '+':
			adding = true
			continue
		case '-':
			adding = false
			continue
		}
		mask := next()
		if !adding || mask == "" {
			continue
		}
		switch byte(r) {
		case 'b':
			info.Bans = append(info.Bans, mask)
		case 'e':
			info.Exceptions = append(info.Exceptions, mask)
		case 'I':
			info.InviteExceptions = append(info.InviteExceptions, mask)
		case 'q':
			info.Quiets = append(info.Quiets, mask)
		}
	}
	return info, true
}

// ApplySJOIN folds a decoded SJOIN into actor's state using the
// three-branch TS6 merge (channelactor.Actor.MergeSJOIN): whichever side
// has the older channel creation timestamp wins outright, and only a
// tie unions both sides. idx resolves nick/username/host for any member
// not yet joined; outboxFor builds the right Mailbox for a joining UID
// (a RemoteMailbox for every member introduced over S2S).
func ApplySJOIN(actor *channelactor.Actor, info SJOINInfo, idx *identity.Index, outboxFor func(identity.UID) channelactor.Mailbox) {
	members := make([]channelactor.SJOINMember, 0, len(info.Members))
	for _, tok := range info.Members {
		sm := channelactor.SJOINMember{UID: tok.UID, Statuses: tok.Statuses}

		if snap, ok := idx.Lookup(tok.UID); ok {
			sm.Known = true
			sm.Ctx = channelactor.UserContext{
				UID:        tok.UID,
				Nick:       snap.Nick,
				Username:   snap.Username,
				Host:       snap.Host,
				IP:         snap.IP,
				Account:    snap.Account,
				Registered: snap.Account != "",
			}
			sm.Outbox = outboxFor(tok.UID)
			sm.JoinLine = renderJoinLine(sm.Ctx, info.Channel)
		}

		members = append(members, sm)
	}

	actor.MergeSJOIN(info.Stamp, info.Modes, info.Key, info.Limit, info.Forward, members)
}

// ApplyTMODE folds a decoded TMODE's list-mode entries into actor as an
// add-wins merge through the generic ChannelDelta path (Actor.MergeCrdt);
// SJOIN goes through Actor.MergeSJOIN instead.
func ApplyTMODE(actor *channelactor.Actor, info TMODEInfo) {
	entry := func(mask string) channelactor.ListEntry {
		return channelactor.ListEntry{Mask: mask, Set: info.Stamp}
	}
	toMap := func(masks []string) map[string]channelactor.ListEntry {
		if len(masks) == 0 {
			return nil
		}
		out := make(map[string]channelactor.ListEntry, len(masks))
		for _, m := range masks {
			out[m] = entry(m)
		}
		return out
	}

	actor.MergeCrdt(channelactor.ChannelDelta{
		OriginSID:        info.Stamp.SID,
		Created:          info.Stamp,
		Bans:             toMap(info.Bans),
		Exceptions:       toMap(info.Exceptions),
		InviteExceptions: toMap(info.InviteExceptions),
		Quiets:           toMap(info.Quiets),
	})
}

// BuildTopicPropagation renders an outbound TS6-style TOPIC line for one
// channel's topic change: ":<uid> TOPIC <channel> <unix-seconds> :<text>",
// the wire shape DecodeTopic/ApplyTopic expect on the receiving peer.
func BuildTopicPropagation(uid, channel, text string, stamp clock.Stamp) *wire.Message {
	return &wire.Message{
		Sender:  uid,
		Command: wire.CmdTopic,
		Params:  []string{channel, strconv.FormatInt(stamp.WallMS/1000, 10)},
		Text:    text,
	}
}

// DecodeTopic parses an inbound server-to-server TOPIC line.
func DecodeTopic(msg *wire.Message) (channel, text string, stamp clock.Stamp, ok bool) {
	if len(msg.Params) < 2 {
		return "", "", clock.Stamp{}, false
	}
	ts, err := strconv.ParseInt(msg.Params[1], 10, 64)
	if err != nil {
		return "", "", clock.Stamp{}, false
	}
	return msg.Params[0], msg.Text, clock.Stamp{WallMS: ts * 1000, SID: identity.UID(msg.Sender).SID()}, true
}

// ApplyTopic folds a decoded remote topic change into actor as an LWW
// merge, the same ChannelDelta path ApplyTMODE uses for list modes.
// Created is carried as stamp (the change's own timestamp, not the
// channel's true creation time) purely so crdt.MinWinsStamp has a
// same-peer value to compare against; since a topic change always
// happens after a channel already exists, stamp can never be older than
// the real creation time, so it never wins the min-wins comparison.
func ApplyTopic(actor *channelactor.Actor, text string, stamp clock.Stamp) {
	actor.MergeCrdt(channelactor.ChannelDelta{
		OriginSID: stamp.SID,
		Created:   stamp,
		Topic:     crdt.NewLWWRegister(text, stamp),
	})
}

func renderJoinLine(ctx channelactor.UserContext, channel string) []byte {
	buf := (&wire.Message{
		Sender:  ctx.Nick + "!" + ctx.Username + "@" + ctx.Host,
		Command: wire.CmdJoin,
		Params:  []string{channel},
	}).RenderBuffer()
	line := append([]byte(nil), buf.Bytes()...)
	wire.PutBuffer(buf)
	return line
}
