/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package crdt

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/hearthwire/dircd/internal/clock"
)

func st(ms int64, sid string) clock.Stamp { return clock.Stamp{WallMS: ms, SID: sid} }

func TestLWWRegisterMergeLaterWins(t *testing.T) {
	a := NewLWWRegister("old topic", st(100, "001"))
	b := NewLWWRegister("new topic", st(200, "002"))

	merged := a.Merge(b)
	assert.Equal(t, "new topic", merged.Value)

	// Commutative: merging in the other order yields the same result.
	merged2 := b.Merge(a)
	if diff := cmp.Diff(merged, merged2); diff != "" {
		t.Fatalf("merge not commutative: %s", diff)
	}
}

func TestLWWRegisterMergeIdempotent(t *testing.T) {
	a := NewLWWRegister("topic", st(100, "001"))
	merged := a.Merge(a)
	assert.Equal(t, a, merged)
}

func TestMinWinsStampOlderWins(t *testing.T) {
	older := st(100, "001")
	newer := st(200, "002")
	assert.Equal(t, older, MinWinsStamp(older, newer))
	assert.Equal(t, older, MinWinsStamp(newer, older))
}

func TestAddWinsSetAddRemoveMerge(t *testing.T) {
	a := NewAddWinsSet[string, string]()
	b := NewAddWinsSet[string, string]()

	a.Add("*!*@evil.example", "op1", st(100, "001"))
	b.Add("*!*@evil.example", "op2", st(50, "002")) // older add, should lose

	a.Merge(b)
	assert.True(t, a.Contains("*!*@evil.example"))
	assert.Equal(t, map[string]string{"*!*@evil.example": "op1"}, a.Values())
}

func TestAddWinsSetAddWinsOverOlderRemove(t *testing.T) {
	s := NewAddWinsSet[string, string]()
	s.Add("*!*@host", "op", st(100, "001"))
	s.Remove("*!*@host", st(50, "001")) // stale remove, ignored
	assert.True(t, s.Contains("*!*@host"))

	s.Remove("*!*@host", st(200, "001")) // newer remove wins
	assert.False(t, s.Contains("*!*@host"))

	s.Add("*!*@host", "op2", st(300, "001")) // re-add after remove wins
	assert.True(t, s.Contains("*!*@host"))
}

func TestAddWinsSetMergeCommutative(t *testing.T) {
	a1 := NewAddWinsSet[string, string]()
	a1.Add("m1", "x", st(10, "001"))
	a2 := NewAddWinsSet[string, string]()
	a2.Add("m1", "y", st(20, "002"))

	left := NewAddWinsSet[string, string]()
	left.Add("m1", "x", st(10, "001"))
	left.Merge(a2)

	right := NewAddWinsSet[string, string]()
	right.Add("m1", "y", st(20, "002"))
	right.Merge(a1)

	assert.Equal(t, left.Values(), right.Values())
}
