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
	"github.com/hearthwire/dircd/internal/identity"
	"github.com/hearthwire/dircd/internal/wire"
)

// ChannelLister enumerates every channel actor currently live, so burst
// generation never needs its own index of channels — C0's matrix owns
// that registry and supplies it as a closure, the same shape
// netsplit.ChannelLookup uses for per-channel access.
type ChannelLister func() []*channelactor.Actor

// BuildBurst renders the full set of introduction lines a freshly
// synced link sends its peer: one UID line per locally-owned user, then
// one SJOIN line (with a trailing TMODE for list modes that don't fit
// on the SJOIN itself) per channel that has at least one local member.
// It mirrors original_source's burst.rs, which drives the same walk off
// plain user/channel snapshots rather than touching manager internals.
// Hopcount is always rendered as 1 since every emitted UID line
// introduces a locally-owned user. LinkManager.handleUID relays a peer's
// UID line with its hopcount unchanged; the relay path does not increment it.
func BuildBurst(localSID string, idx *identity.Index, channels ChannelLister) []*wire.Message {
	var out []*wire.Message

	for _, snap := range idx.SnapshotsBySID(localSID) {
		out = append(out, buildUID(localSID, snap))
	}

	for _, actor := range channels() {
		snap := actor.Burst()
		if !anyLocalMember(snap.Members, localSID) {
			continue
		}
		out = append(out, buildSJOIN(localSID, snap)...)
	}

	return out
}

// BuildChannelSync renders the same SJOIN(+TMODE) lines BuildBurst would
// for one channel, for use outside the initial burst: a local JOIN/PART/
// KICK/mode or topic change that a linked peer needs to learn about
// incrementally rather than waiting for the next full burst. Resending
// the complete membership/mode snapshot on every local mutation (instead
// of a narrower delta-only line) keeps the propagation path a single,
// already-tested code path — ApplySJOIN's equal-and-lesser-TS merge
// branches are idempotent against a snapshot it has already applied.
func BuildChannelSync(localSID string, actor *channelactor.Actor) []*wire.Message {
	return buildSJOIN(localSID, actor.Burst())
}

func anyLocalMember(members []channelactor.Member, localSID string) bool {
	for _, m := range members {
		if m.UID.SID() == localSID {
			return true
		}
	}
	return false
}

func buildUID(localSID string, snap identity.Snapshot) *wire.Message {
	host := snap.VisHost
	if host == "" {
		host = snap.Host
	}
	return &wire.Message{
		Sender:  localSID,
		Command: wire.CmdUid,
		Params: []string{
			snap.Nick,
			"1", // hopcount: always 1 from the introducing server's perspective
			strconv.FormatInt(snap.Modified.WallMS/1000, 10),
			snap.Username,
			host,
			string(snap.UID),
			snap.IP,
		},
		Text: snap.Realname,
	}
}

// buildSJOIN returns the channel's SJOIN line plus a follow-on TMODE
// when list modes (ban/except/invex/quiet) need to travel too — SJOIN
// itself only carries simple modes and the member vector, matching the
// TS6 convention of keeping list-mode bursting on a separate line.
func buildSJOIN(localSID string, snap channelactor.BurstSnapshot) []*wire.Message {
	letters, args := renderSimpleModes(snap.Modes, snap.Key, snap.Limit, snap.Forward)

	params := []string{
		strconv.FormatInt(snap.Created.WallMS/1000, 10),
		snap.Name,
		letters,
	}
	params = append(params, args...)

	memberTokens := make([]string, 0, len(snap.Members))
	for _, m := range snap.Members {
		prefix := allPrefixChars(m.Modes)
		memberTokens = append(memberTokens, prefix+string(m.UID))
	}

	msgs := []*wire.Message{{
		Sender:  localSID,
		Command: wire.CmdSjoin,
		Params:  params,
		Text:    strings.Join(memberTokens, " "),
	}}

	if tmode := buildListModeTmode(localSID, snap); tmode != nil {
		msgs = append(msgs, tmode)
	}
	return msgs
}

func buildListModeTmode(localSID string, snap channelactor.BurstSnapshot) *wire.Message {
	var letters strings.Builder
	var args []string

	appendList := func(letter byte, list map[string]channelactor.ListEntry) {
		for mask := range list {
			letters.WriteByte(letter)
			args = append(args, mask)
		}
	}
	appendList('b', snap.Bans)
	appendList('e', snap.Exceptions)
	appendList('I', snap.InviteExceptions)
	appendList('q', snap.Quiets)

	if letters.Len() == 0 {
		return nil
	}

	params := append([]string{
		strconv.FormatInt(snap.Created.WallMS/1000, 10),
		snap.Name,
		"+" + letters.String(),
	}, args...)

	return &wire.Message{
		Sender:  localSID,
		Command: wire.CmdTmode,
		Params:  params,
	}
}
