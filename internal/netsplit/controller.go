/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package netsplit

import (
	"github.com/hearthwire/dircd/internal/channelactor"
	"github.com/hearthwire/dircd/internal/clock"
	"github.com/hearthwire/dircd/internal/identity"
	"github.com/hearthwire/dircd/internal/wire"
)

// ChannelLookup resolves a case-folded channel name to its live actor,
// backed by the matrix's channel index. A miss means the channel has
// already drained (every member was on the split side), which is not an
// error here — there's nothing left to quit out of it.
type ChannelLookup func(foldedName string) (*channelactor.Actor, bool)

// Controller runs the three-step netsplit procedure against a Graph and
// an identity Index, invoked from C6's link-close path.
type Controller struct {
	graph     *Graph
	index     *identity.Index
	clock     *clock.Clock
	localName string
}

// NewController builds a Controller over graph and index, stamping
// removed users with timestamps from clk and naming the local side of
// the split reason localName (this server's configured name).
func NewController(graph *Graph, index *identity.Index, clk *clock.Clock, localName string) *Controller {
	return &Controller{graph: graph, index: index, clock: clk, localName: localName}
}

// QuitCount is the outcome of HandleLinkDown, for logging/metrics.
type QuitCount struct {
	ServersLost int
	UsersLost   int
}

// HandleLinkDown runs the netsplit procedure for a closed link:
//  1. computes the downstream SID set unreachable through it,
//  2. for every user hosted on one of those SIDs, synthesizes a QUIT
//     with reason "<local-name> <remote-name>", forwards it to every
//     channel actor the user was a member of, and removes the user from
//     the identity index,
//  3. removes the affected servers from the topology graph.
//
// Step 3 happens inside Graph.RemoveLink, called first so the returned
// SID set can drive step 2; PeerName is read before that call since
// RemoveLink deletes the very node it would read the name from.
func (c *Controller) HandleLinkDown(link Link, lookup ChannelLookup) QuitCount {
	peerName, _ := c.graph.PeerName(link)
	reason := c.localName + " " + peerName

	lost := c.graph.RemoveLink(link)
	count := QuitCount{ServersLost: len(lost)}

	for _, sid := range lost {
		for _, uid := range c.index.UIDsBySID(string(sid)) {
			if c.quitUser(uid, reason, lookup) {
				count.UsersLost++
			}
		}
	}

	return count
}

func (c *Controller) quitUser(uid identity.UID, reason string, lookup ChannelLookup) bool {
	ts := c.clock.Next()
	result, ok := c.index.KillUser(uid, ts)
	if !ok {
		return false
	}

	buf := (&wire.Message{
		Sender:  hostmask(result.Snapshot),
		Command: wire.CmdQuit,
		Text:    reason,
	}).RenderBuffer()
	quitMsg := append([]byte(nil), buf.Bytes()...)
	wire.PutBuffer(buf)

	for _, folded := range result.Channels {
		actor, ok := lookup(folded)
		if !ok {
			continue
		}
		actor.Quit(uid, quitMsg)
	}

	return true
}

// hostmask mirrors identity.UserRecord.Hostmask's shape for the QUIT
// sender prefix — C1 exposes it on UserRecord, but KillResult only
// carries a Snapshot, so this package reconstructs it the same way.
func hostmask(s identity.Snapshot) string {
	host := s.VisHost
	if host == "" {
		host = s.Host
	}
	return s.Nick + "!" + s.Username + "@" + host
}
