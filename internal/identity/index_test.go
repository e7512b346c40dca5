/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthwire/dircd/internal/clock"
)

func newTestIndex() (*Index, *UIDGenerator) {
	return NewIndex(8), NewUIDGenerator("001")
}

func TestClaimNickFirstClaimSucceeds(t *testing.T) {
	idx, gen := newTestIndex()
	uid := gen.Next()

	res := idx.ClaimNick(uid, "Alice")
	assert.Equal(t, ClaimOK, res)

	got, ok := idx.Resolve("alice")
	require.True(t, ok)
	assert.Equal(t, uid, got)
}

func TestClaimNickRejectsSecondOwner(t *testing.T) {
	idx, gen := newTestIndex()
	a, b := gen.Next(), gen.Next()

	require.Equal(t, ClaimOK, idx.ClaimNick(a, "Alice"))
	assert.Equal(t, ClaimAlreadyInUse, idx.ClaimNick(b, "alice"))
}

func TestClaimNickToleratesSameOwnerReclaim(t *testing.T) {
	idx, gen := newTestIndex()
	a := gen.Next()

	require.Equal(t, ClaimOK, idx.ClaimNick(a, "Alice"))
	assert.Equal(t, ClaimSameOwner, idx.ClaimNick(a, "ALICE"))
}

func TestReleaseNickOnlyByOwner(t *testing.T) {
	idx, gen := newTestIndex()
	a, b := gen.Next(), gen.Next()

	require.Equal(t, ClaimOK, idx.ClaimNick(a, "Alice"))

	assert.False(t, idx.ReleaseNick(b, "Alice"))
	_, stillThere := idx.Resolve("alice")
	assert.True(t, stillThere)

	assert.True(t, idx.ReleaseNick(a, "Alice"))
	_, gone := idx.Resolve("alice")
	assert.False(t, gone)
}

func TestFoldNickRFC1459Casemapping(t *testing.T) {
	assert.Equal(t, FoldNick("Nick[x]"), FoldNick("nick{x}"))
	assert.Equal(t, FoldNick("A\\B~C"), FoldNick("a|b^c"))
}

func TestUIDGeneratorSequenceAndSID(t *testing.T) {
	gen := NewUIDGenerator("001")
	first := gen.Next()
	second := gen.Next()

	assert.Equal(t, UID("001000002"), first)
	assert.Equal(t, UID("001000003"), second)
	assert.Equal(t, "001", first.SID())
	assert.True(t, first.Local("001"))
	assert.False(t, first.Local("002"))
}

func TestRegisterAndLookup(t *testing.T) {
	idx, gen := newTestIndex()
	uid := gen.Next()
	rec := NewUserRecord(uid, "Alice", "alice", "Alice A", "host.example", "127.0.0.1")

	idx.RegisterSession(rec, "session-1")

	snap, ok := idx.Lookup(uid)
	require.True(t, ok)
	assert.Equal(t, "Alice", snap.Nick)

	gotUID, ok := idx.ResolveSession("session-1")
	require.True(t, ok)
	assert.Equal(t, uid, gotUID)
}

func TestKillUserRemovesFromAllIndicesAndRecordsWhowas(t *testing.T) {
	idx, gen := newTestIndex()
	uid := gen.Next()
	rec := NewUserRecord(uid, "Alice", "alice", "Alice A", "host.example", "127.0.0.1")
	idx.RegisterSession(rec, "session-1")
	idx.ClaimNick(uid, "Alice")
	idx.IdentifyAccount(uid, "alice", clock.Stamp{WallMS: 1, SID: "001"})
	rec.JoinChannel("#general")

	result, ok := idx.KillUser(uid, clock.Stamp{WallMS: 2, SID: "001"})
	require.True(t, ok)
	assert.Equal(t, []string{"#general"}, result.Channels)

	_, stillIndexed := idx.Lookup(uid)
	assert.False(t, stillIndexed)
	_, stillNick := idx.Resolve("alice")
	assert.False(t, stillNick)
	_, stillAccount := idx.ResolveAccount("alice")
	assert.False(t, stillAccount)

	entries := idx.Whowas("Alice")
	require.Len(t, entries, 1)
	assert.Equal(t, uid, entries[0].UID)
}

func TestKillUserDoubleKillIsNoop(t *testing.T) {
	idx, gen := newTestIndex()
	uid := gen.Next()

	_, ok := idx.KillUser(uid, clock.Stamp{})
	assert.False(t, ok)
}

func TestWhowasRingBoundedAndWraps(t *testing.T) {
	idx := NewIndex(2)
	gen := NewUIDGenerator("001")

	for i := 0; i < 3; i++ {
		uid := gen.Next()
		rec := NewUserRecord(uid, "Ghost", "ghost", "Ghost", "host", "127.0.0.1")
		idx.RegisterSession(rec, "s")
		idx.KillUser(uid, clock.Stamp{WallMS: int64(i), SID: "001"})
	}

	entries := idx.Whowas("Ghost")
	assert.Len(t, entries, 2)
}

func TestEnforceTimerExpiry(t *testing.T) {
	idx, gen := newTestIndex()
	uid := gen.Next()

	past := time.Now().Add(-time.Second)
	idx.SetEnforceTimer(uid, "Alice", past)

	expired := idx.ExpiredTimers(time.Now())
	require.Len(t, expired, 1)
	assert.Equal(t, uid, expired[0].UID)

	assert.Empty(t, idx.ExpiredTimers(time.Now()))
}

func TestEnforceTimerClearedBeforeExpiry(t *testing.T) {
	idx, gen := newTestIndex()
	uid := gen.Next()

	idx.SetEnforceTimer(uid, "Alice", time.Now().Add(time.Hour))
	idx.ClearEnforceTimer(uid)

	assert.Empty(t, idx.ExpiredTimers(time.Now().Add(2*time.Hour)))
}

func TestRenameSwapsIndexEntries(t *testing.T) {
	idx, gen := newTestIndex()
	a := gen.Next()
	rec := NewUserRecord(a, "Alice", "u", "r", "host.example", "10.0.0.1")
	require.Equal(t, ClaimOK, idx.ClaimNick(a, "Alice"))
	idx.RegisterSession(rec, "sess-a")

	res := idx.Rename(a, "Alice", "Beatrice", clock.Stamp{WallMS: 5, SID: "001"})
	assert.Equal(t, ClaimOK, res)

	_, oldThere := idx.Resolve("alice")
	assert.False(t, oldThere)
	got, ok := idx.Resolve("beatrice")
	require.True(t, ok)
	assert.Equal(t, a, got)
	assert.Equal(t, "Beatrice", rec.Nick())
}

func TestRenameCaseOnlyChangePreservesEntry(t *testing.T) {
	idx, gen := newTestIndex()
	a := gen.Next()
	rec := NewUserRecord(a, "alice", "u", "r", "host.example", "10.0.0.1")
	require.Equal(t, ClaimOK, idx.ClaimNick(a, "alice"))
	idx.RegisterSession(rec, "sess-a")

	res := idx.Rename(a, "alice", "ALICE", clock.Stamp{WallMS: 5, SID: "001"})
	assert.Equal(t, ClaimSameOwner, res)

	got, ok := idx.Resolve("alice")
	require.True(t, ok)
	assert.Equal(t, a, got)
	assert.Equal(t, "ALICE", rec.Nick())
}
