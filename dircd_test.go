/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hearthwire/dircd/internal/channelactor"
	"github.com/hearthwire/dircd/internal/identity"
)

func TestValidNick(t *testing.T) {
	tests := []struct {
		nick  string
		valid bool
	}{
		{"alice", true},
		{"Alice42", true},
		{"[away]", true},
		{"", false},
		{"#channel", false},
		{"&server", false},
		{":colon", false},
		{"$extban", false},
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, validNick(tt.nick), "nick %q", tt.nick)
	}
}

func TestClassifyCTCP(t *testing.T) {
	tests := []struct {
		text     string
		isCTCP   bool
		isAction bool
	}{
		{"hello", false, false},
		{"\x01ACTION waves\x01", true, true},
		{"\x01VERSION\x01", true, false},
		{"\x01", false, false},
	}
	for _, tt := range tests {
		isCTCP, isAction := classifyCTCP(tt.text)
		assert.Equal(t, tt.isCTCP, isCTCP, "text %q", tt.text)
		assert.Equal(t, tt.isAction, isAction, "text %q", tt.text)
	}
}

func TestRenderModeLine(t *testing.T) {
	resolve := func(uid identity.UID) string { return "bob" }

	tests := []struct {
		name     string
		changes  []channelactor.ModeChange
		expected string
	}{
		{
			name:     "no changes",
			changes:  nil,
			expected: "",
		},
		{
			name: "simple add",
			changes: []channelactor.ModeChange{
				{Add: true, Mode: 'n'},
				{Add: true, Mode: 't'},
			},
			expected: "#go +nt",
		},
		{
			name: "mixed signs",
			changes: []channelactor.ModeChange{
				{Add: true, Mode: 'm'},
				{Add: false, Mode: 't'},
			},
			expected: "#go +m-t",
		},
		{
			name: "status mode resolves nick",
			changes: []channelactor.ModeChange{
				{Add: true, Mode: 'o', UID: "001AAAAAC"},
			},
			expected: "#go +o bob",
		},
		{
			name: "key and limit args",
			changes: []channelactor.ModeChange{
				{Add: true, Mode: 'k', Arg: "secret"},
				{Add: true, Mode: 'l', Arg: "50"},
			},
			expected: "#go +kl secret 50",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, renderModeLine("#go", tt.changes, resolve))
		})
	}
}

func TestRenderUserModes(t *testing.T) {
	assert.Equal(t, "+", renderUserModes(0))
	assert.Equal(t, "+iw", renderUserModes(identity.UModeInvisible|identity.UModeWallops))
	assert.Equal(t, "+o", renderUserModes(identity.UModeOper))
}

func TestChunkISupportSplitsTokenGroups(t *testing.T) {
	tokens := defaultISupportTokens()
	chunks := chunkISupport(tokens)

	total := 0
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 12)
		total += len(chunk)
	}
	assert.Equal(t, len(tokens), total)
}

func TestAtoiSafe(t *testing.T) {
	assert.Equal(t, 302, atoiSafe("302", 301))
	assert.Equal(t, 301, atoiSafe("junk", 301))
}
