/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package s2s

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hearthwire/dircd/internal/channelactor"
)

func TestRenderAndParseSimpleModesRoundTrip(t *testing.T) {
	modes := channelactor.ModeSecret | channelactor.ModeInviteOnly | channelactor.ModeTopicLock
	letters, args := renderSimpleModes(modes, "hunter2", 50, "#overflow")

	assert.Contains(t, letters, "s")
	assert.Contains(t, letters, "i")
	assert.Contains(t, letters, "t")
	assert.Contains(t, letters, "k")
	assert.Contains(t, letters, "l")
	assert.Contains(t, letters, "f")
	assert.Equal(t, []string{"hunter2", "50", "#overflow"}, args)

	gotModes, key, limit, forward := parseSimpleModes(letters, args)
	assert.Equal(t, modes, gotModes)
	assert.Equal(t, "hunter2", key)
	assert.Equal(t, 50, limit)
	assert.Equal(t, "#overflow", forward)
}

func TestAllPrefixCharsOrdersHighestFirst(t *testing.T) {
	m := channelactor.MemberVoice | channelactor.MemberOp
	assert.Equal(t, "@+", allPrefixChars(m))
}

func TestParsePrefixCharsRoundTrip(t *testing.T) {
	m := parsePrefixChars("@+")
	assert.Equal(t, channelactor.MemberOp|channelactor.MemberVoice, m)
}

func TestParseSimpleModesHandlesMinusSegment(t *testing.T) {
	modes, _, _, _ := parseSimpleModes("+s-t", nil)
	assert.Equal(t, channelactor.ModeSecret, modes)
}
