/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package s2s

import (
	"github.com/hearthwire/dircd/internal/identity"
	"github.com/hearthwire/dircd/internal/netsplit"
	"github.com/hearthwire/dircd/internal/wire"
)

// LinkRegistry is the narrow view relay and loop-detection logic needs
// onto the live link set. C0's matrix owns the actual map from
// netsplit.Link to *Link and satisfies this directly.
type LinkRegistry interface {
	Get(id netsplit.Link) (*Link, bool)
	All() []*Link
}

// Relay forwards msg to every server-facing link except origin — split
// horizon: a server never echoes a message back down the link it arrived
// on, since whatever sent it already knows, and every other peer
// reachable through that link learns it via that peer's own forwarding
// instead.
func Relay(links LinkRegistry, origin netsplit.Link, msg *wire.Message) {
	for _, l := range links.All() {
		if l.ID() == origin {
			continue
		}
		l.Send(msg)
	}
}

// RelayToTarget unicasts msg toward target's owning server along the
// shortest known path, for messages with exactly one destination server
// (a directed PRIVMSG, a targeted KILL) rather than broadcasting to every
// peer.
func RelayToTarget(graph *netsplit.Graph, links LinkRegistry, target netsplit.SID, msg *wire.Message) bool {
	hop, ok := graph.NextHop(target)
	if !ok {
		return false
	}
	l, ok := links.Get(hop)
	if !ok {
		return false
	}
	l.Send(msg)
	return true
}

// SeenIntroduction reports whether sid is already known to the topology
// graph or matches the local SID — the loop-detection check run before
// accepting a SERVER/SID introduction, rejecting a duplicate link that
// would otherwise create a routing cycle.
func SeenIntroduction(graph *netsplit.Graph, localSID, sid netsplit.SID) bool {
	return sid == localSID || graph.Known(sid)
}

// RemoteMailbox implements channelactor.Mailbox for a channel member
// whose session lives on another server: Deliver relays the already
// rendered line toward that server instead of writing to a local socket,
// so channel fan-out (internal/channelactor.Actor.Broadcast) doesn't need
// to know whether a member is local or remote.
type RemoteMailbox struct {
	uid   identity.UID
	graph *netsplit.Graph
	links LinkRegistry
}

// NewRemoteMailbox builds a RemoteMailbox that routes deliveries to uid's
// home server via graph/links.
func NewRemoteMailbox(uid identity.UID, graph *netsplit.Graph, links LinkRegistry) *RemoteMailbox {
	return &RemoteMailbox{uid: uid, graph: graph, links: links}
}

// Deliver satisfies channelactor.Mailbox.
func (r *RemoteMailbox) Deliver(line []byte) bool {
	hop, ok := r.graph.NextHop(netsplit.SID(r.uid.SID()))
	if !ok {
		return false
	}
	l, ok := r.links.Get(hop)
	if !ok {
		return false
	}
	l.SendRaw(line)
	return true
}
