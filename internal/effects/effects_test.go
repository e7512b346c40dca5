/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package effects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthwire/dircd/internal/channelactor"
	"github.com/hearthwire/dircd/internal/clock"
	"github.com/hearthwire/dircd/internal/identity"
)

type fakeMail struct {
	delivered map[identity.UID][][]byte
}

func (m *fakeMail) Deliver(uid identity.UID, line []byte) bool {
	if m.delivered == nil {
		m.delivered = make(map[identity.UID][][]byte)
	}
	m.delivered[uid] = append(m.delivered[uid], line)
	return true
}

type fakeDisconnector struct {
	calls []identity.UID
}

func (d *fakeDisconnector) Disconnect(uid identity.UID, reason string) {
	d.calls = append(d.calls, uid)
}

type fakeActor struct {
	kicked      []identity.UID
	kickOK      bool
	modes       []channelactor.ModeChange
	nickChanges []string
	broadcasts  [][]byte
	capLines    [][]byte
	quits       []identity.UID
}

func (a *fakeActor) Kick(_ channelactor.UserContext, target identity.UID, _ string, _ bool, _ []byte) channelactor.KickResult {
	a.kicked = append(a.kicked, target)
	return channelactor.KickResult{OK: a.kickOK}
}

func (a *fakeActor) ApplyModes(changes []channelactor.ModeChange, _ channelactor.UserContext, _ bool, _ clock.Stamp) channelactor.ApplyModesResult {
	a.modes = append(a.modes, changes...)
	return channelactor.ApplyModesResult{Applied: changes}
}

func (a *fakeActor) NickChange(_ identity.UID, newNick string, _ clock.Stamp) {
	a.nickChanges = append(a.nickChanges, newNick)
}

func (a *fakeActor) Broadcast(line []byte, _ identity.UID) {
	a.broadcasts = append(a.broadcasts, line)
}

func (a *fakeActor) BroadcastWithCap(primary, _ []byte, _ identity.CapSet, _ identity.UID) {
	a.capLines = append(a.capLines, primary)
}

func (a *fakeActor) Quit(uid identity.UID, _ []byte) {
	a.quits = append(a.quits, uid)
}

type fakeChannels struct {
	actors map[string]*fakeActor
}

func (c *fakeChannels) Lookup(folded string) (ChannelActor, bool) {
	a, ok := c.actors[folded]
	return a, ok
}

func newFixture() (*Applier, *identity.Index, *fakeMail, *fakeDisconnector, *fakeChannels) {
	idx := identity.NewIndex(8)
	mail := &fakeMail{}
	disc := &fakeDisconnector{}
	channels := &fakeChannels{actors: make(map[string]*fakeActor)}
	return &Applier{
		Index:      idx,
		Channels:   channels,
		Mail:       mail,
		Disconnect: disc,
	}, idx, mail, disc, channels
}

func registerUser(idx *identity.Index, nick string) *identity.UserRecord {
	gen := identity.NewUIDGenerator("001")
	uid := gen.Next()
	rec := identity.NewUserRecord(uid, nick, "u", "real name", "host.example", "10.0.0.1")
	idx.ClaimNick(uid, nick)
	idx.RegisterSession(rec, "sess-"+nick)
	return rec
}

func TestReplyEffectDelivers(t *testing.T) {
	applier, idx, mail, _, _ := newFixture()
	rec := registerUser(idx, "alice")

	err := applier.Apply([]Effect{ReplyEffect{Target: rec.UID(), Line: []byte("hello\r\n")}})
	require.NoError(t, err)
	assert.Len(t, mail.delivered[rec.UID()], 1)
}

func TestAccountIdentifySetsAccountAndBroadcasts(t *testing.T) {
	applier, idx, mail, _, channels := newFixture()
	rec := registerUser(idx, "alice")
	rec.JoinChannel("#go")
	actor := &fakeActor{}
	channels.actors["#go"] = actor

	err := applier.Apply([]Effect{AccountIdentifyEffect{
		UID:         rec.UID(),
		Account:     "ali",
		Stamp:       clock.Stamp{WallMS: 10, SID: "001"},
		ModeLine:    []byte("MODE +r\r\n"),
		AccountLine: []byte("ACCOUNT ali\r\n"),
	}})
	require.NoError(t, err)

	assert.Equal(t, "ali", rec.Account())
	assert.NotZero(t, rec.Modes()&identity.UModeRegistered)
	assert.Len(t, mail.delivered[rec.UID()], 1)
	assert.Len(t, actor.capLines, 1)
}

func TestKillEffectQuitsChannelsAndDisconnects(t *testing.T) {
	applier, idx, _, disc, channels := newFixture()
	rec := registerUser(idx, "alice")
	rec.JoinChannel("#go")
	rec.JoinChannel("#irc")
	actorGo, actorIRC := &fakeActor{}, &fakeActor{}
	channels.actors["#go"] = actorGo
	channels.actors["#irc"] = actorIRC

	err := applier.Apply([]Effect{KillEffect{
		UID:      rec.UID(),
		Killer:   rec.UID(),
		Reason:   "bye",
		Stamp:    clock.Stamp{WallMS: 20, SID: "001"},
		QuitLine: []byte("QUIT :bye\r\n"),
	}})
	require.NoError(t, err)

	assert.Equal(t, []identity.UID{rec.UID()}, actorGo.quits)
	assert.Equal(t, []identity.UID{rec.UID()}, actorIRC.quits)
	assert.Equal(t, []identity.UID{rec.UID()}, disc.calls)

	_, stillThere := idx.Resolve("alice")
	assert.False(t, stillThere)
}

func TestKillEffectUnknownUserErrors(t *testing.T) {
	applier, _, _, _, _ := newFixture()
	err := applier.Apply([]Effect{KillEffect{UID: "001ZZZZZZ", QuitLine: []byte("QUIT\r\n")}})
	assert.Error(t, err)
}

func TestKickEffectForcesKick(t *testing.T) {
	applier, _, _, _, channels := newFixture()
	actor := &fakeActor{kickOK: true}
	channels.actors["#go"] = actor

	err := applier.Apply([]Effect{KickEffect{
		Channel: "#Go",
		Target:  "001AAAAAC",
		Reason:  "spam",
		Line:    []byte("KICK\r\n"),
	}})
	require.NoError(t, err)
	assert.Equal(t, []identity.UID{"001AAAAAC"}, actor.kicked)
}

func TestKickEffectMissingChannelErrors(t *testing.T) {
	applier, _, _, _, _ := newFixture()
	err := applier.Apply([]Effect{KickEffect{Channel: "#missing", Target: "001AAAAAC"}})
	assert.Error(t, err)
}

func TestForceNickRenamesAndBroadcasts(t *testing.T) {
	applier, idx, _, _, channels := newFixture()
	rec := registerUser(idx, "alice")
	rec.JoinChannel("#go")
	actor := &fakeActor{}
	channels.actors["#go"] = actor

	err := applier.Apply([]Effect{ForceNickEffect{
		UID:     rec.UID(),
		OldNick: "alice",
		NewNick: "Guest1234",
		Stamp:   clock.Stamp{WallMS: 30, SID: "001"},
		Line:    []byte("NICK Guest1234\r\n"),
	}})
	require.NoError(t, err)

	uid, ok := idx.Resolve("guest1234")
	require.True(t, ok)
	assert.Equal(t, rec.UID(), uid)
	assert.Equal(t, []string{"Guest1234"}, actor.nickChanges)
	assert.Len(t, actor.broadcasts, 1)
}

func TestForceNickCollisionErrors(t *testing.T) {
	applier, idx, _, _, _ := newFixture()
	alice := registerUser(idx, "alice")

	gen := identity.NewUIDGenerator("002")
	other := gen.Next()
	require.Equal(t, identity.ClaimOK, idx.ClaimNick(other, "bob"))

	err := applier.Apply([]Effect{ForceNickEffect{
		UID:     alice.UID(),
		OldNick: "alice",
		NewNick: "BOB",
	}})
	assert.Error(t, err)
}

func TestApplyStopsAtFirstFailure(t *testing.T) {
	applier, idx, mail, _, _ := newFixture()
	rec := registerUser(idx, "alice")

	err := applier.Apply([]Effect{
		KickEffect{Channel: "#missing", Target: rec.UID()},
		ReplyEffect{Target: rec.UID(), Line: []byte("never\r\n")},
	})
	require.Error(t, err)
	assert.Empty(t, mail.delivered[rec.UID()])
}
