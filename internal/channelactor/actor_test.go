/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package channelactor

import (
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthwire/dircd/internal/clock"
	"github.com/hearthwire/dircd/internal/identity"
)

type fakeMailbox struct {
	delivered [][]byte
	full      bool
}

func (f *fakeMailbox) Deliver(line []byte) bool {
	if f.full {
		return false
	}
	f.delivered = append(f.delivered, line)
	return true
}

func newTestActor(t *testing.T) (*Actor, *conc.WaitGroup) {
	t.Helper()
	ch := NewChannel("#general", "#general", clock.Stamp{WallMS: 1, SID: "001"})
	wg := conc.NewWaitGroup()
	a := Spawn(wg, ch, nil)
	t.Cleanup(func() {
		a.Close()
		wg.Wait()
	})
	return a, wg
}

func ctx(uid identity.UID, nick string) UserContext {
	return UserContext{UID: uid, Nick: nick, Username: "u", Host: "host.example"}
}

func TestJoinThenSnapshotShowsMember(t *testing.T) {
	a, _ := newTestActor(t)
	box := &fakeMailbox{}

	res := a.Join(ctx("001000002", "alice"), box, "", 0, []byte("tagged"), []byte("plain"))
	require.Equal(t, JoinSuccess, res.Outcome)

	members, _ := a.Snapshot()
	require.Len(t, members, 1)
	assert.Equal(t, "alice", members[0].Nick)
	assert.Equal(t, [][]byte{[]byte("plain")}, box.delivered)
}

func TestJoinRejectsDuplicateMember(t *testing.T) {
	a, _ := newTestActor(t)
	box := &fakeMailbox{}

	a.Join(ctx("001000002", "alice"), box, "", 0, nil, []byte("plain"))
	res := a.Join(ctx("001000002", "alice"), box, "", 0, nil, []byte("plain"))
	assert.Equal(t, JoinErrAlreadyMember, res.Outcome)
}

func TestJoinBannedUserRejected(t *testing.T) {
	a, _ := newTestActor(t)
	reply := make(chan ApplyModesResult, 1)
	a.mailbox <- applyModesEvent{
		changes: []ModeChange{{Add: true, Mode: 'b', Arg: "*!*@host.example"}},
		setter:  ctx("001000002", "op"),
		force:   true,
		reply:   reply,
	}
	<-reply

	box := &fakeMailbox{}
	res := a.Join(ctx("001000003", "bob"), box, "", 0, nil, []byte("plain"))
	assert.Equal(t, JoinErrBanned, res.Outcome)
}

func TestJoinKeyMismatchRejected(t *testing.T) {
	a, _ := newTestActor(t)
	reply := make(chan ApplyModesResult, 1)
	a.mailbox <- applyModesEvent{
		changes: []ModeChange{{Add: true, Mode: 'k', Arg: "secret"}},
		setter:  ctx("001000002", "op"),
		force:   true,
		reply:   reply,
	}
	<-reply

	box := &fakeMailbox{}
	res := a.Join(ctx("001000003", "bob"), box, "wrong", 0, nil, []byte("plain"))
	assert.Equal(t, JoinErrBadKey, res.Outcome)

	res2 := a.Join(ctx("001000003", "bob"), box, "secret", 0, nil, []byte("plain"))
	assert.Equal(t, JoinSuccess, res2.Outcome)
}

func TestJoinThrottleRejectsBurstBeyondLimit(t *testing.T) {
	a, _ := newTestActor(t)
	reply := make(chan ApplyModesResult, 1)
	a.mailbox <- applyModesEvent{
		changes: []ModeChange{{Add: true, Mode: 'j', Arg: "1:60"}},
		setter:  ctx("001000001", "op"),
		force:   true,
		reply:   reply,
	}
	<-reply

	box1, box2 := &fakeMailbox{}, &fakeMailbox{}
	res1 := a.Join(ctx("001000002", "alice"), box1, "", 0, nil, []byte("join-alice"))
	assert.Equal(t, JoinSuccess, res1.Outcome)

	res2 := a.Join(ctx("001000003", "bob"), box2, "", 0, nil, []byte("join-bob"))
	assert.Equal(t, JoinErrThrottled, res2.Outcome)
}

func TestMessageFloodBlocksBeyondLimit(t *testing.T) {
	a, _ := newTestActor(t)
	reply := make(chan ApplyModesResult, 1)
	a.mailbox <- applyModesEvent{
		changes: []ModeChange{{Add: true, Mode: 'F', Arg: "1:60"}},
		setter:  ctx("001000001", "op"),
		force:   true,
		reply:   reply,
	}
	<-reply

	box := &fakeMailbox{}
	a.Join(ctx("001000002", "alice"), box, "", 0, nil, []byte("join"))

	outcome1 := a.Message(ctx("001000002", "alice"), []byte("hi"), false, false, false, false, 0)
	assert.Equal(t, MsgSent, outcome1)

	outcome2 := a.Message(ctx("001000002", "alice"), []byte("hi again"), false, false, false, false, 0)
	assert.Equal(t, MsgBlockedFlood, outcome2)
}

func TestPartRemovesMemberAndBroadcasts(t *testing.T) {
	a, _ := newTestActor(t)
	aliceBox, bobBox := &fakeMailbox{}, &fakeMailbox{}
	a.Join(ctx("001000002", "alice"), aliceBox, "", 0, nil, []byte("join-alice"))
	a.Join(ctx("001000003", "bob"), bobBox, "", 0, nil, []byte("join-bob"))

	res := a.Part("001000002", []byte("part-alice"))
	assert.True(t, res.Removed)
	assert.Equal(t, 1, res.RemainingCount)
	assert.Contains(t, bobBox.delivered, []byte("part-alice"))
}

func TestMessageModeratedBlocksNonVoiced(t *testing.T) {
	a, _ := newTestActor(t)
	box := &fakeMailbox{}
	a.Join(ctx("001000002", "alice"), box, "", 0, nil, []byte("join"))

	reply := make(chan ApplyModesResult, 1)
	a.mailbox <- applyModesEvent{
		changes: []ModeChange{{Add: true, Mode: 'm'}},
		setter:  ctx("001000002", "alice"),
		force:   true,
		reply:   reply,
	}
	<-reply

	outcome := a.Message(ctx("001000002", "alice"), []byte("hi"), false, false, false, false, 0)
	assert.Equal(t, MsgBlockedModerated, outcome)
}

func TestKickRequiresOpUnlessForced(t *testing.T) {
	a, _ := newTestActor(t)
	aliceBox, bobBox := &fakeMailbox{}, &fakeMailbox{}
	a.Join(ctx("001000002", "alice"), aliceBox, "", 0, nil, []byte("join"))
	a.Join(ctx("001000003", "bob"), bobBox, "", 0, nil, []byte("join"))

	res := a.Kick(ctx("001000002", "alice"), "001000003", "bye", false, []byte("kick"))
	assert.False(t, res.OK)

	res2 := a.Kick(ctx("001000002", "alice"), "001000003", "bye", true, []byte("kick"))
	assert.True(t, res2.OK)
}

func TestSetTopicLockedRequiresOp(t *testing.T) {
	a, _ := newTestActor(t)
	box := &fakeMailbox{}
	a.Join(ctx("001000002", "alice"), box, "", 0, nil, []byte("join"))

	reply := make(chan ApplyModesResult, 1)
	a.mailbox <- applyModesEvent{
		changes: []ModeChange{{Add: true, Mode: 't'}},
		setter:  ctx("001000002", "alice"),
		force:   true,
		reply:   reply,
	}
	<-reply

	res := a.SetTopic(ctx("001000002", "alice"), "new topic", false, clock.Stamp{WallMS: 5}, []byte("topic"))
	assert.False(t, res.OK)

	res2 := a.SetTopic(ctx("001000002", "alice"), "new topic", true, clock.Stamp{WallMS: 5}, []byte("topic"))
	assert.True(t, res2.OK)
}

func TestInviteThenJoinBypassesInviteOnly(t *testing.T) {
	a, _ := newTestActor(t)
	reply := make(chan ApplyModesResult, 1)
	a.mailbox <- applyModesEvent{
		changes: []ModeChange{{Add: true, Mode: 'i'}},
		setter:  ctx("001000002", "op"),
		force:   true,
		reply:   reply,
	}
	<-reply

	box := &fakeMailbox{}
	blocked := a.Join(ctx("001000003", "bob"), box, "", 0, nil, []byte("join"))
	assert.Equal(t, JoinErrInviteOnly, blocked.Outcome)

	inv := a.Invite(ctx("001000002", "op"), "001000003", true)
	assert.True(t, inv.OK)

	allowed := a.Join(ctx("001000003", "bob"), box, "", 0, nil, []byte("join"))
	assert.Equal(t, JoinSuccess, allowed.Outcome)
}

func TestChannelBecomesEmptyTriggersOnEmpty(t *testing.T) {
	ch := NewChannel("#temp", "#temp", clock.Stamp{})
	wg := conc.NewWaitGroup()

	calledCh := make(chan string, 1)
	a := Spawn(wg, ch, func(folded string) { calledCh <- folded })
	defer func() {
		a.Close()
		wg.Wait()
	}()

	box := &fakeMailbox{}
	a.Join(ctx("001000002", "alice"), box, "", 0, nil, []byte("join"))
	a.Part("001000002", []byte("part"))

	select {
	case folded := <-calledCh:
		assert.Equal(t, "#temp", folded)
	case <-time.After(time.Second):
		t.Fatal("expected onEmpty to fire")
	}
}

func TestMlockFiltersLockedModesSilently(t *testing.T) {
	a, _ := newTestActor(t)
	box := &fakeMailbox{}
	a.Join(ctx("001000002", "alice"), box, "", MemberOp, nil, []byte("join"))

	a.SetMlock("mi")

	res := a.ApplyModes([]ModeChange{
		{Add: true, Mode: 'm'},
		{Add: true, Mode: 't'},
	}, ctx("001000002", "alice"), false, clock.Stamp{WallMS: 10, SID: "001"})

	// +m is locked and drops silently (neither applied nor rejected);
	// +t still goes through.
	require.Len(t, res.Applied, 1)
	assert.Equal(t, byte('t'), res.Applied[0].Mode)
	assert.Empty(t, res.Rejected)

	// A forced change (ChanServ effect) beats the lock.
	forced := a.ApplyModes([]ModeChange{{Add: true, Mode: 'm'}}, ctx("001000002", "alice"), true, clock.Stamp{WallMS: 11, SID: "001"})
	assert.Len(t, forced.Applied, 1)
}

func TestUpdateCapsChangesMemberCaps(t *testing.T) {
	a, _ := newTestActor(t)
	box := &fakeMailbox{}
	a.Join(ctx("001000002", "alice"), box, "", 0, nil, []byte("join"))

	a.UpdateCaps("001000002", identity.CapAccountNotify)

	primary, fallback := []byte("primary"), []byte("fallback")
	a.BroadcastWithCap(primary, fallback, identity.CapAccountNotify, "")
	require.Len(t, box.delivered, 2)
	assert.Equal(t, primary, box.delivered[1])
}

func TestLimitModeStoresArgumentAndGatesJoin(t *testing.T) {
	a, _ := newTestActor(t)
	box := &fakeMailbox{}
	a.Join(ctx("001000002", "alice"), box, "", MemberOp, nil, []byte("join"))

	res := a.ApplyModes([]ModeChange{{Add: true, Mode: 'l', Arg: "1"}},
		ctx("001000002", "alice"), false, clock.Stamp{WallMS: 20, SID: "001"})
	require.Len(t, res.Applied, 1)

	blocked := a.Join(ctx("001000003", "bob"), &fakeMailbox{}, "", 0, nil, []byte("join"))
	assert.Equal(t, JoinErrFull, blocked.Outcome)

	bad := a.ApplyModes([]ModeChange{{Add: true, Mode: 'l', Arg: "fifty"}},
		ctx("001000002", "alice"), false, clock.Stamp{WallMS: 21, SID: "001"})
	require.Len(t, bad.Rejected, 1)
	assert.Equal(t, "bad parameter", bad.Rejected[0].Reason)

	res = a.ApplyModes([]ModeChange{{Add: false, Mode: 'l'}},
		ctx("001000002", "alice"), false, clock.Stamp{WallMS: 22, SID: "001"})
	require.Len(t, res.Applied, 1)
	allowed := a.Join(ctx("001000003", "bob"), &fakeMailbox{}, "", 0, nil, []byte("join"))
	assert.Equal(t, JoinSuccess, allowed.Outcome)
}

func TestHalfOpMayKickAndSetLockedTopic(t *testing.T) {
	a, _ := newTestActor(t)
	halfopBox, bobBox := &fakeMailbox{}, &fakeMailbox{}
	a.Join(ctx("001000002", "hal"), halfopBox, "", MemberHalfOp, nil, []byte("join"))
	a.Join(ctx("001000003", "bob"), bobBox, "", 0, nil, []byte("join"))

	reply := make(chan ApplyModesResult, 1)
	a.mailbox <- applyModesEvent{
		changes: []ModeChange{{Add: true, Mode: 't'}},
		setter:  ctx("001000002", "hal"),
		force:   true,
		reply:   reply,
	}
	<-reply

	topicRes := a.SetTopic(ctx("001000002", "hal"), "set by halfop", false, clock.Stamp{WallMS: 5}, []byte("topic"))
	assert.True(t, topicRes.OK)

	kickRes := a.Kick(ctx("001000002", "hal"), "001000003", "bye", false, []byte("kick"))
	assert.True(t, kickRes.OK)

	// Mode setting stays op-or-higher: a halfop cannot set +m.
	modeRes := a.ApplyModes([]ModeChange{{Add: true, Mode: 'm'}},
		ctx("001000002", "hal"), false, clock.Stamp{WallMS: 6, SID: "001"})
	assert.Empty(t, modeRes.Applied)
	require.Len(t, modeRes.Rejected, 1)
}

func TestStatusPrefixRestrictsRecipientsByLevel(t *testing.T) {
	a, _ := newTestActor(t)
	opBox, voiceBox, plainBox := &fakeMailbox{}, &fakeMailbox{}, &fakeMailbox{}
	a.Join(ctx("001000002", "op"), opBox, "", MemberOp, nil, []byte("join"))
	a.Join(ctx("001000003", "vic"), voiceBox, "", MemberVoice, nil, []byte("join"))
	a.Join(ctx("001000004", "pat"), plainBox, "", 0, nil, []byte("join"))

	joined := func(box *fakeMailbox) int { return len(box.delivered) }
	opBase, voiceBase, plainBase := joined(opBox), joined(voiceBox), joined(plainBox)

	// @#chan reaches ops and above only: voiced members are excluded.
	a.Message(ctx("001000004", "pat"), []byte("to ops"), false, false, false, false, '@')
	assert.Equal(t, opBase+1, joined(opBox))
	assert.Equal(t, voiceBase, joined(voiceBox))
	assert.Equal(t, plainBase, joined(plainBox))

	// +#chan reaches voiced and above.
	a.Message(ctx("001000004", "pat"), []byte("to voiced"), false, false, false, false, '+')
	assert.Equal(t, opBase+2, joined(opBox))
	assert.Equal(t, voiceBase+1, joined(voiceBox))
	assert.Equal(t, plainBase, joined(plainBox))
}
