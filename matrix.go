/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/hearthwire/dircd/internal/capauth"
	"github.com/hearthwire/dircd/internal/clock"
	"github.com/hearthwire/dircd/internal/effects"
	"github.com/hearthwire/dircd/internal/identity"
	"github.com/hearthwire/dircd/internal/netsplit"
	"github.com/hearthwire/dircd/internal/s2s"
	"github.com/hearthwire/dircd/internal/storage"
	"github.com/hearthwire/dircd/internal/wire"
)

// Matrix is the composition root every command handler is wired against:
// the identity index (C1), the channel registry (C2), the capability
// authority (C4), the service effect applier (C5), and the netsplit
// topology (C7), plus the shared hybrid clock and UID generator every one
// of those components stamps through. server.go owns exactly one Matrix
// per running server instance, generalizing server.go's old
// Users/Nicks/Conns/Channels field quartet into these typed collaborators.
type Matrix struct {
	SID        string
	ServerName string
	NetworkName string

	Clock    *clock.Clock
	UIDGen   *identity.UIDGenerator
	Index    *identity.Index
	Monitors *identity.MonitorTable
	Channels *ChannelRegistry
	Auth    *capauth.Authority
	Graph   *netsplit.Graph
	Split   *netsplit.Controller
	Effects *effects.Applier
	Sessions *SessionRegistry
	Links    *LinkManager

	Accounts    storage.AccountStore
	ChannelDB   storage.ChannelStore
	Bans        storage.BanStore
	ReadMarkers storage.ReadMarkerStore
	Operators   *OperTable

	wg *conc.WaitGroup
}

// whowasCap is the retained WHOWAS ring size, matching settings.go's
// list-size limits in spirit (a fixed, generous cap rather
// than unbounded growth).
const whowasCap = 1000

// NewMatrix builds every C1/C2/C4/C5/C7 collaborator for one server
// instance identified by sid/serverName, sharing a single hybrid clock
// across all of them per spec's "one Clock per server process" rule.
func NewMatrix(sid, serverName, networkName, linkPassword string, log *logrus.Logger, wg *conc.WaitGroup) *Matrix {
	clk := clock.New(sid, func() int64 { return time.Now().UnixMilli() })
	index := identity.NewIndex(whowasCap)
	graph := netsplit.NewGraph(netsplit.SID(sid), serverName)

	m := &Matrix{
		SID:         sid,
		ServerName:  serverName,
		NetworkName: networkName,
		Clock:       clk,
		UIDGen:      identity.NewUIDGenerator(sid),
		Index:       index,
		Monitors:    identity.NewMonitorTable(MaxMonitorTargets),
		Auth:        capauth.New(),
		Graph:       graph,
		Split:       netsplit.NewController(graph, index, clk, serverName),
		Sessions:    NewSessionRegistry(),
		Accounts:    storage.NewMemoryAccountStore(),
		ChannelDB:   storage.NewMemoryChannelStore(),
		Bans:        storage.NewMemoryBanStore(),
		ReadMarkers: storage.NewMemoryReadMarkerStore(),
		Operators:   NewOperTable(),
		wg:          wg,
	}
	m.Channels = NewChannelRegistry(wg, clk)
	m.Effects = &effects.Applier{
		Index:      index,
		Channels:   m.Channels,
		Mail:       m,
		Disconnect: m,
	}
	m.Links = NewLinkManager(m, wg, linkPassword, log)
	return m
}

// Deliver satisfies effects.Deliverer by resolving uid to its session
// mailbox through the index's session/UID plumbing. A user with no
// locally-reachable mailbox (resolved on a remote server, or gone) is a
// silent no-op — the effect's delivery is best-effort, matching how
// channelactor.Actor.Broadcast already tolerates a full/dead mailbox.
func (m *Matrix) Deliver(uid identity.UID, line []byte) bool {
	rec, ok := m.Index.Record(uid)
	if !ok {
		return false
	}
	handle, ok := m.Sessions.Get(rec.SessionID())
	if !ok {
		return false
	}
	return handle.Deliver(line)
}

// RelayToRemote forwards msg toward targetUID's home server over C6,
// for the one case Deliver can't handle on its own: a PRIVMSG/NOTICE
// addressed to a user this server only knows about from a UID/EUID
// burst line, generalizing handlers_messaging.go's local-only delivery
// path the same way linkmgr.go's handleRemoteMessage already does for
// messages arriving from a peer instead of from a local client.
func (m *Matrix) RelayToRemote(targetUID identity.UID, msg *wire.Message) bool {
	if targetUID.Local(m.SID) {
		return false
	}
	return s2s.RelayToTarget(m.Graph, m.Links, netsplit.SID(targetUID.SID()), msg)
}

// Disconnect satisfies effects.Disconnector, tearing down the local
// session behind uid if one is registered here. reason is unused beyond
// the QUIT line the caller already rendered into the effect; Session.Kill
// only needs to unblock the write/read loops, not re-derive a message.
func (m *Matrix) Disconnect(uid identity.UID, reason string) {
	rec, ok := m.Index.Record(uid)
	if !ok {
		return
	}
	if handle, ok := m.Sessions.Get(rec.SessionID()); ok {
		handle.Kill()
	}
}
