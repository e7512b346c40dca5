/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package netsplit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// 001 (local) --linkA-- 00B --linkC-- 00C
func buildChain(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph("001", "hub.example")
	g.AddServer("00B", "leaf-b.example", "001", "linkA")
	g.AddServer("00C", "leaf-c.example", "00B", "linkC")
	return g
}

func TestHopcountBFS(t *testing.T) {
	g := buildChain(t)

	hop, ok := g.Hopcount("00B")
	assert.True(t, ok)
	assert.Equal(t, 1, hop)

	hop, ok = g.Hopcount("00C")
	assert.True(t, ok)
	assert.Equal(t, 2, hop)

	_, ok = g.Hopcount("00Z")
	assert.False(t, ok)
}

func TestNextHopFollowsPathBackToDirectNeighbor(t *testing.T) {
	g := buildChain(t)

	link, ok := g.NextHop("00C")
	assert.True(t, ok)
	assert.Equal(t, Link("linkA"), link)

	link, ok = g.NextHop("00B")
	assert.True(t, ok)
	assert.Equal(t, Link("linkA"), link)
}

func TestRemoveLinkTakesDownstreamSIDsWithIt(t *testing.T) {
	g := buildChain(t)

	lost := g.RemoveLink("linkA")
	assert.ElementsMatch(t, []SID{"00B", "00C"}, lost)

	assert.False(t, g.Known("00B"))
	assert.False(t, g.Known("00C"))
	_, ok := g.Hopcount("00B")
	assert.False(t, ok)
}

func TestRemoveLinkUnknownLinkIsNoop(t *testing.T) {
	g := buildChain(t)
	lost := g.RemoveLink("nonexistent")
	assert.Empty(t, lost)
	assert.True(t, g.Known("00B"))
}

func TestPeerNameReadableBeforeRemoval(t *testing.T) {
	g := buildChain(t)
	name, ok := g.PeerName("linkA")
	assert.True(t, ok)
	assert.Equal(t, "leaf-b.example", name)

	g.RemoveLink("linkA")
	_, ok = g.PeerName("linkA")
	assert.False(t, ok)
}

func TestServersExcludesLocal(t *testing.T) {
	g := buildChain(t)
	servers := g.Servers()
	assert.ElementsMatch(t, []SID{"00B", "00C"}, servers)
}
