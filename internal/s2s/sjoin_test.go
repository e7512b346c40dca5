/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package s2s

import (
	"testing"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthwire/dircd/internal/channelactor"
	"github.com/hearthwire/dircd/internal/clock"
	"github.com/hearthwire/dircd/internal/crdt"
	"github.com/hearthwire/dircd/internal/identity"
	"github.com/hearthwire/dircd/internal/wire"
)

func TestDecodeSJOINParsesMembersAndModes(t *testing.T) {
	msg := &wire.Message{
		Sender:  "00B",
		Command: wire.CmdSjoin,
		Params:  []string{"1000", "#general", "+sikl", "hunter2", "25"},
		Text:    "@001000002 +00B000003",
	}

	info, ok := DecodeSJOIN(msg)
	require.True(t, ok)
	assert.Equal(t, "#general", info.Channel)
	assert.Equal(t, channelactor.ModeSecret|channelactor.ModeInviteOnly, info.Modes&(channelactor.ModeSecret|channelactor.ModeInviteOnly))
	assert.Equal(t, "hunter2", info.Key)
	assert.Equal(t, 25, info.Limit)
	require.Len(t, info.Members, 2)
	assert.Equal(t, identity.UID("001000002"), info.Members[0].UID)
	assert.Equal(t, channelactor.MemberOp, info.Members[0].Statuses)
	assert.Equal(t, identity.UID("00B000003"), info.Members[1].UID)
	assert.Equal(t, channelactor.MemberVoice, info.Members[1].Statuses)
}

func TestApplySJOINJoinsUnknownMemberFromIndex(t *testing.T) {
	idx := identity.NewIndex(16)
	rec := identity.NewUserRecord("00B000002", "bob", "b", "Bob", "leaf.example", "10.0.0.2")
	idx.RegisterSession(rec, "sess-1")

	wg := conc.NewWaitGroup()
	// Local creation time is newer than the incoming SJOIN's, so the
	// incoming side wins outright and its asserted status applies.
	ch := channelactor.NewChannel("#general", "#general", clock.Stamp{WallMS: 5000, SID: "001"})
	actor := channelactor.Spawn(wg, ch, nil)
	t.Cleanup(func() { actor.Close(); wg.Wait() })

	info := SJOINInfo{
		Stamp:   clock.Stamp{WallMS: 2000, SID: "00B"},
		Channel: "#general",
		Members: []MemberToken{{UID: "00B000002", Statuses: channelactor.MemberOp}},
	}

	ApplySJOIN(actor, info, idx, func(identity.UID) channelactor.Mailbox { return stubMailbox{} })

	members, _ := actor.Snapshot()
	require.Len(t, members, 1)
	assert.Equal(t, "bob", members[0].Nick)
	assert.Equal(t, channelactor.MemberOp, members[0].Modes)
}

// TestApplySJOINOlderIncomingTSClearsLocalStatuses reproduces the
// worked example of the SJOIN merge: a local #rust at TS=100 with A
// opped, merged against a peer's SJOIN at the older TS=50 carrying only
// {@B}, must end up at TS=50 with A's op cleared and B opped — the
// incoming side wins outright since it has the older creation time.
func TestApplySJOINOlderIncomingTSClearsLocalStatuses(t *testing.T) {
	idx := identity.NewIndex(16)
	aRec := identity.NewUserRecord("001000001", "alice", "a", "Alice", "a.example", "10.0.0.1")
	idx.RegisterSession(aRec, "sess-a")
	bRec := identity.NewUserRecord("00B000002", "bob", "b", "Bob", "b.example", "10.0.0.2")
	idx.RegisterSession(bRec, "sess-b")

	wg := conc.NewWaitGroup()
	ch := channelactor.NewChannel("#rust", "#rust", clock.Stamp{WallMS: 100_000, SID: "001"})
	actor := channelactor.Spawn(wg, ch, nil)
	t.Cleanup(func() { actor.Close(); wg.Wait() })

	actor.Join(channelactor.UserContext{UID: "001000001", Nick: "alice", Username: "a", Host: "a.example"},
		stubMailbox{}, "", channelactor.MemberOp, []byte("join a"), []byte("join a"))

	info := SJOINInfo{
		Stamp:   clock.Stamp{WallMS: 50_000, SID: "00B"},
		Channel: "#rust",
		Modes:   channelactor.ModeNoExternal | channelactor.ModeTopicLock,
		Members: []MemberToken{{UID: "00B000002", Statuses: channelactor.MemberOp}},
	}

	ApplySJOIN(actor, info, idx, func(identity.UID) channelactor.Mailbox { return stubMailbox{} })

	snap := actor.Burst()
	assert.Equal(t, int64(50_000), snap.Created.WallMS)
	assert.True(t, snap.Modes&channelactor.ModeNoExternal != 0)

	members := make(map[identity.UID]channelactor.MemberMode, len(snap.Members))
	for _, m := range snap.Members {
		members[m.UID] = m.Modes
	}
	require.Len(t, members, 2)
	assert.Equal(t, channelactor.MemberMode(0), members["001000001"])
	assert.Equal(t, channelactor.MemberOp, members["00B000002"])
}

// TestApplySJOINNewerIncomingTSKeepsLocalAndStripsStatuses covers the
// mirror branch: the incoming SJOIN carries a newer TS, so local wins —
// its modes and member statuses are kept, and the new remote member
// joins without the status it asked for.
func TestApplySJOINNewerIncomingTSKeepsLocalAndStripsStatuses(t *testing.T) {
	idx := identity.NewIndex(16)
	bRec := identity.NewUserRecord("00B000002", "bob", "b", "Bob", "b.example", "10.0.0.2")
	idx.RegisterSession(bRec, "sess-b")

	wg := conc.NewWaitGroup()
	ch := channelactor.NewChannel("#rust", "#rust", clock.Stamp{WallMS: 50_000, SID: "001"})
	actor := channelactor.Spawn(wg, ch, nil)
	t.Cleanup(func() { actor.Close(); wg.Wait() })

	actor.Join(channelactor.UserContext{UID: "001000001", Nick: "alice", Username: "a", Host: "a.example"},
		stubMailbox{}, "", channelactor.MemberOp, []byte("join a"), []byte("join a"))

	info := SJOINInfo{
		Stamp:   clock.Stamp{WallMS: 100_000, SID: "00B"},
		Channel: "#rust",
		Modes:   channelactor.ModeSecret,
		Members: []MemberToken{{UID: "00B000002", Statuses: channelactor.MemberOp}},
	}

	ApplySJOIN(actor, info, idx, func(identity.UID) channelactor.Mailbox { return stubMailbox{} })

	snap := actor.Burst()
	assert.Equal(t, int64(50_000), snap.Created.WallMS)
	assert.False(t, snap.Modes&channelactor.ModeSecret != 0)

	members := make(map[identity.UID]channelactor.MemberMode, len(snap.Members))
	for _, m := range snap.Members {
		members[m.UID] = m.Modes
	}
	require.Len(t, members, 2)
	assert.Equal(t, channelactor.MemberOp, members["001000001"])
	assert.Equal(t, channelactor.MemberMode(0), members["00B000002"])
}

func TestDecodeTMODEParsesListModes(t *testing.T) {
	msg := &wire.Message{
		Sender:  "00B",
		Command: wire.CmdTmode,
		Params:  []string{"1000", "#general", "+bee", "a!a@a", "b!b@b", "c!c@c"},
	}
	info, ok := DecodeTMODE(msg)
	require.True(t, ok)
	assert.Equal(t, []string{"a!a@a"}, info.Bans)
	assert.Equal(t, []string{"b!b@b", "c!c@c"}, info.Exceptions)
}

func TestApplyTMODEMergesBans(t *testing.T) {
	wg := conc.NewWaitGroup()
	ch := channelactor.NewChannel("#general", "#general", clock.Stamp{WallMS: 1, SID: "001"})
	actor := channelactor.Spawn(wg, ch, nil)
	t.Cleanup(func() { actor.Close(); wg.Wait() })

	ApplyTMODE(actor, TMODEInfo{
		Stamp:   clock.Stamp{WallMS: 10, SID: "00B"},
		Channel: "#general",
		Bans:    []string{"*!*@bad.example"},
	})

	snap := actor.Burst()
	assert.Contains(t, snap.Bans, "*!*@bad.example")
}

// TestMergeCrdtMergesKeyLimitForward exercises the generic ChannelDelta
// merge path's parameter-mode registers directly — a peer's +k/+l/+f
// state must survive the merge, and a stale (older) delta must not
// clobber a more recent local value.
func TestMergeCrdtMergesKeyLimitForward(t *testing.T) {
	wg := conc.NewWaitGroup()
	ch := channelactor.NewChannel("#general", "#general", clock.Stamp{WallMS: 1, SID: "001"})
	actor := channelactor.Spawn(wg, ch, nil)
	t.Cleanup(func() { actor.Close(); wg.Wait() })

	actor.MergeCrdt(channelactor.ChannelDelta{
		OriginSID: "00B",
		Created:   clock.Stamp{WallMS: 1, SID: "001"},
		Key:       crdt.NewLWWRegister("hunter2", clock.Stamp{WallMS: 10, SID: "00B"}),
		Limit:     crdt.NewLWWRegister(25, clock.Stamp{WallMS: 10, SID: "00B"}),
		Forward:   crdt.NewLWWRegister("#overflow", clock.Stamp{WallMS: 10, SID: "00B"}),
	})

	snap := actor.Burst()
	assert.Equal(t, "hunter2", snap.Key)
	assert.Equal(t, 25, snap.Limit)
	assert.Equal(t, "#overflow", snap.Forward)

	// A delta with an older stamp than what's already applied must lose.
	actor.MergeCrdt(channelactor.ChannelDelta{
		OriginSID: "00C",
		Created:   clock.Stamp{WallMS: 1, SID: "001"},
		Key:       crdt.NewLWWRegister("stale", clock.Stamp{WallMS: 5, SID: "00C"}),
		Limit:     crdt.NewLWWRegister(5, clock.Stamp{WallMS: 5, SID: "00C"}),
		Forward:   crdt.NewLWWRegister("#stale", clock.Stamp{WallMS: 5, SID: "00C"}),
	})

	snap = actor.Burst()
	assert.Equal(t, "hunter2", snap.Key)
	assert.Equal(t, 25, snap.Limit)
	assert.Equal(t, "#overflow", snap.Forward)
}

func TestBuildTopicPropagationAndDecodeRoundTrip(t *testing.T) {
	stamp := clock.Stamp{WallMS: 5_000_000, SID: "001"}
	msg := BuildTopicPropagation("001000002", "#general", "new topic", stamp)

	channel, text, decoded, ok := DecodeTopic(msg)
	require.True(t, ok)
	assert.Equal(t, "#general", channel)
	assert.Equal(t, "new topic", text)
	assert.Equal(t, stamp.WallMS, decoded.WallMS)
	assert.Equal(t, "001", decoded.SID)
}

func TestApplyTopicSetsLWWRegister(t *testing.T) {
	wg := conc.NewWaitGroup()
	ch := channelactor.NewChannel("#general", "#general", clock.Stamp{WallMS: 1, SID: "001"})
	actor := channelactor.Spawn(wg, ch, nil)
	t.Cleanup(func() { actor.Close(); wg.Wait() })

	ApplyTopic(actor, "hello from 00B", clock.Stamp{WallMS: 50, SID: "00B"})

	_, topic := actor.Snapshot()
	assert.Equal(t, "hello from 00B", topic.Text)

	// An older topic stamp than the one already applied must lose.
	ApplyTopic(actor, "stale", clock.Stamp{WallMS: 10, SID: "00C"})
	_, topic = actor.Snapshot()
	assert.Equal(t, "hello from 00B", topic.Text)
}

func TestBuildChannelSyncRendersCurrentMembership(t *testing.T) {
	idx := identity.NewIndex(16)
	rec := identity.NewUserRecord("001000002", "alice", "a", "Alice", "host.example", "10.0.0.1")
	idx.RegisterSession(rec, "sess-1")

	wg := conc.NewWaitGroup()
	ch := channelactor.NewChannel("#general", "#general", clock.Stamp{WallMS: 1, SID: "001"})
	actor := channelactor.Spawn(wg, ch, nil)
	t.Cleanup(func() { actor.Close(); wg.Wait() })

	ctx := channelactor.UserContext{UID: "001000002", Nick: "alice", Username: "a", Host: "host.example"}
	actor.Join(ctx, stubMailbox{}, "", channelactor.MemberOp, []byte("join"), []byte("join"))

	msgs := BuildChannelSync("001", actor)
	require.NotEmpty(t, msgs)
	assert.Equal(t, wire.CmdSjoin, msgs[0].Command)
	assert.Contains(t, msgs[0].Text, "@001000002")
}
