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
	"github.com/stretchr/testify/require"

	"github.com/hearthwire/dircd/internal/netsplit"
	"github.com/hearthwire/dircd/internal/wire"
)

func TestDecodeSIDAndAcceptIntroduction(t *testing.T) {
	graph := netsplit.NewGraph("001", "hub.example")

	msg := &wire.Message{
		Sender:  "001",
		Command: wire.CmdSid,
		Params:  []string{"leaf.example", "1", "00B"},
		Text:    "a leaf server",
	}
	info, ok := DecodeSID(msg)
	require.True(t, ok)
	assert.Equal(t, netsplit.SID("00B"), info.SID)

	accepted := AcceptIntroduction(graph, "001", info, "linkA")
	assert.True(t, accepted)
	assert.True(t, graph.Known("00B"))
}

func TestAcceptIntroductionRejectsLoop(t *testing.T) {
	graph := netsplit.NewGraph("001", "hub.example")
	graph.AddServer("00B", "leaf.example", "001", "linkA")

	info := SIDInfo{Parent: "00B", Name: "leaf.example", SID: "00B"}
	accepted := AcceptIntroduction(graph, "001", info, "linkB")
	assert.False(t, accepted)
}

func TestAcceptIntroductionRejectsLocalSID(t *testing.T) {
	graph := netsplit.NewGraph("001", "hub.example")
	info := SIDInfo{Parent: "00B", Name: "hub.example", SID: "001"}
	assert.False(t, AcceptIntroduction(graph, "001", info, "linkA"))
}

func TestEncodeSIDRendersParams(t *testing.T) {
	msg := EncodeSID("001", "hub.example", 0, "001", "the hub")
	assert.Equal(t, wire.CmdSid, msg.Command)
	assert.Equal(t, []string{"hub.example", "0", "001"}, msg.Params)
	assert.Equal(t, "the hub", msg.Text)
}
