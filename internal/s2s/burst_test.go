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
	"github.com/hearthwire/dircd/internal/identity"
	"github.com/hearthwire/dircd/internal/wire"
)

type stubMailbox struct{}

func (stubMailbox) Deliver([]byte) bool { return true }

func TestBuildBurstEmitsUIDAndSJOIN(t *testing.T) {
	idx := identity.NewIndex(16)
	rec := identity.NewUserRecord("001000002", "alice", "a", "Alice", "host.example", "127.0.0.1")
	idx.RegisterSession(rec, "sess-1")
	rec.JoinChannel("#general")

	wg := conc.NewWaitGroup()
	ch := channelactor.NewChannel("#general", "#general", clock.Stamp{WallMS: 1000, SID: "001"})
	actor := channelactor.Spawn(wg, ch, nil)
	t.Cleanup(func() { actor.Close(); wg.Wait() })

	require.Equal(t, channelactor.JoinSuccess, actor.Join(
		channelactor.UserContext{UID: rec.UID(), Nick: "alice", Username: "a", Host: "host.example"},
		stubMailbox{}, "", channelactor.MemberOp, nil, []byte("join"),
	).Outcome)

	msgs := BuildBurst("001", idx, func() []*channelactor.Actor { return []*channelactor.Actor{actor} })

	var sawUID, sawSJOIN bool
	for _, m := range msgs {
		switch m.Command {
		case wire.CmdUid:
			sawUID = true
			assert.Equal(t, "alice", m.Params[0])
			assert.Equal(t, "001000002", m.Params[5])
		case wire.CmdSjoin:
			sawSJOIN = true
			assert.Equal(t, "#general", m.Params[1])
			assert.Contains(t, m.Text, "@001000002")
		}
	}
	assert.True(t, sawUID)
	assert.True(t, sawSJOIN)
}

func TestBuildBurstSkipsChannelsWithNoLocalMember(t *testing.T) {
	idx := identity.NewIndex(16)
	wg := conc.NewWaitGroup()
	ch := channelactor.NewChannel("#empty", "#empty", clock.Stamp{WallMS: 1, SID: "00B"})
	actor := channelactor.Spawn(wg, ch, nil)
	t.Cleanup(func() { actor.Close(); wg.Wait() })

	msgs := BuildBurst("001", idx, func() []*channelactor.Actor { return []*channelactor.Actor{actor} })
	assert.Empty(t, msgs)
}
