/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashVerifyPasswordRoundTrip(t *testing.T) {
	v, err := HashPassword("hunter2")
	require.NoError(t, err)

	assert.True(t, VerifyPassword(v, "hunter2"))
	assert.False(t, VerifyPassword(v, "hunter3"))
	assert.False(t, VerifyPassword(AccountVerifier{}, "hunter2"))
}

func TestAccountStoreLookup(t *testing.T) {
	s := NewMemoryAccountStore()
	require.Error(t, s.Upsert(AccountRecord{}))

	require.NoError(t, s.Upsert(AccountRecord{Name: "alice", CertFP: "ab12"}))

	rec, ok := s.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "ab12", rec.CertFP)

	_, ok = s.Lookup("bob")
	assert.False(t, ok)
}

func TestAccountStoreLookupByCertFP(t *testing.T) {
	s := NewMemoryAccountStore()
	require.NoError(t, s.Upsert(AccountRecord{Name: "alice", CertFP: "ab12"}))
	require.NoError(t, s.Upsert(AccountRecord{Name: "bob"}))

	rec, ok := s.LookupByCertFP("ab12")
	require.True(t, ok)
	assert.Equal(t, "alice", rec.Name)

	// An account with no fingerprint must never match an empty query.
	_, ok = s.LookupByCertFP("")
	assert.False(t, ok)
}

func TestDeriveScramKeysDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")

	stored1, server1 := DeriveScramKeys("hunter2", salt, 4096)
	stored2, server2 := DeriveScramKeys("hunter2", salt, 4096)
	assert.Equal(t, stored1, stored2)
	assert.Equal(t, server1, server2)

	stored3, _ := DeriveScramKeys("other", salt, 4096)
	assert.NotEqual(t, stored1, stored3)
}

func TestBanStoreAddListRemove(t *testing.T) {
	s := NewMemoryBanStore()
	require.NoError(t, s.Add(BanRecord{Mask: "*!*@evil.example", Channel: "#go", Setter: "alice"}))
	require.NoError(t, s.Add(BanRecord{Mask: "*!*@spam.example", Setter: "oper"}))

	chanBans, err := s.List("#go")
	require.NoError(t, err)
	require.Len(t, chanBans, 1)
	assert.Equal(t, "*!*@evil.example", chanBans[0].Mask)

	require.NoError(t, s.Remove("#go", "*!*@evil.example"))
	chanBans, err = s.List("#go")
	require.NoError(t, err)
	assert.Empty(t, chanBans)
}

func TestReadMarkerStoreSetGet(t *testing.T) {
	s := NewMemoryReadMarkerStore()
	require.NoError(t, s.Set(ReadMarker{Account: "alice", Target: "#go", Stamp: "100:0:001"}))

	m, ok := s.Get("alice", "#go")
	require.True(t, ok)
	assert.Equal(t, "100:0:001", m.Stamp)

	_, ok = s.Get("alice", "#rust")
	assert.False(t, ok)
}
