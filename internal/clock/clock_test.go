/*
	Copyright (c) 2023, btnmasher
	All rights reserved.
	Use of this source code is governed by a BSD-style
	license that can be found in the LICENSE file.
*/

package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sequence(vals ...int64) NowFunc {
	i := 0
	return func() int64 {
		v := vals[i]
		if i < len(vals)-1 {
			i++
		}
		return v
	}
}

func TestNextAdvancesLogicalWithinSameMillisecond(t *testing.T) {
	c := New("001", sequence(100, 100, 100))

	a := c.Next()
	b := c.Next()
	d := c.Next()

	assert.Equal(t, Stamp{WallMS: 100, Logical: 0, SID: "001"}, a)
	assert.Equal(t, Stamp{WallMS: 100, Logical: 1, SID: "001"}, b)
	assert.Equal(t, Stamp{WallMS: 100, Logical: 2, SID: "001"}, d)
}

func TestNextResetsLogicalOnWallAdvance(t *testing.T) {
	c := New("001", sequence(100, 100, 101))

	c.Next()
	c.Next()
	third := c.Next()

	assert.Equal(t, Stamp{WallMS: 101, Logical: 0, SID: "001"}, third)
}

func TestCompareOrdersWallThenLogicalThenSID(t *testing.T) {
	a := Stamp{WallMS: 1, Logical: 0, SID: "001"}
	b := Stamp{WallMS: 1, Logical: 1, SID: "001"}
	c := Stamp{WallMS: 2, Logical: 0, SID: "000"}
	d := Stamp{WallMS: 1, Logical: 1, SID: "002"}

	assert.True(t, a.Before(b))
	assert.True(t, b.Before(c))
	assert.True(t, b.Before(d))
	assert.Equal(t, 0, a.Compare(a))
}

func TestObserveAdvancesPastRemote(t *testing.T) {
	c := New("001", sequence(50))
	c.Observe(Stamp{WallMS: 200, Logical: 3, SID: "002"})

	next := c.Next()
	assert.Equal(t, int64(200), next.WallMS)
	assert.Equal(t, uint32(4), next.Logical)
	assert.Equal(t, "001", next.SID)
}

func TestZero(t *testing.T) {
	assert.True(t, Stamp{}.Zero())
	assert.False(t, Stamp{WallMS: 1}.Zero())
}
