/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package stringutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkJoinStringsFitsOneLine(t *testing.T) {
	got := ChunkJoinStrings(64, " ", "alice", "bob", "carol")
	assert.Equal(t, []string{"alice bob carol"}, got)
}

func TestChunkJoinStringsWraps(t *testing.T) {
	got := ChunkJoinStrings(12, " ", "alice", "bob", "carol", "dave")
	for _, chunk := range got {
		assert.LessOrEqual(t, len(chunk), 12)
	}
	assert.Equal(t, []string{"alice bob", "carol dave"}, got)
}

func TestChunkJoinNoParams(t *testing.T) {
	assert.Nil(t, ChunkJoinStrings(64, " "))
}

func TestChunkJoin(t *testing.T) {
	got := ChunkJoin(64, ",", []string{"a", "b", "c"})
	assert.Equal(t, []string{"a,b,c"}, got)
}
