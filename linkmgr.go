/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/hearthwire/dircd/internal/channelactor"
	"github.com/hearthwire/dircd/internal/clock"
	"github.com/hearthwire/dircd/internal/identity"
	"github.com/hearthwire/dircd/internal/netsplit"
	"github.com/hearthwire/dircd/internal/s2s"
	"github.com/hearthwire/dircd/internal/wire"
)

// LinkManager owns every live S2S link (C6): the handshake state machine
// for each one, dispatch of inbound SID/UID/SJOIN/TMODE/PRIVMSG/QUIT
// lines into the rest of the Matrix, and split-horizon relay. It
// generalizes connection.go's single ConnMap-of-clients shape to a
// second, server-facing registry satisfying internal/s2s.LinkRegistry,
// the narrow view Relay/RelayToTarget need.
type LinkManager struct {
	mu    sync.RWMutex
	links map[netsplit.Link]*s2s.Link

	matrix   *Matrix
	wg       *conc.WaitGroup
	password string // expected PASS value from an inbound/outbound peer
	log      *logrus.Logger
}

// NewLinkManager builds an empty manager bound to m, authenticating
// peers against linkPassword (this server's half of the shared S2S
// PASS, mirroring settings.go's client-facing server password but for
// the link port instead).
func NewLinkManager(m *Matrix, wg *conc.WaitGroup, linkPassword string, log *logrus.Logger) *LinkManager {
	return &LinkManager{
		links:    make(map[netsplit.Link]*s2s.Link),
		matrix:   m,
		wg:       wg,
		password: linkPassword,
		log:      log,
	}
}

// Get satisfies s2s.LinkRegistry.
func (lm *LinkManager) Get(id netsplit.Link) (*s2s.Link, bool) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	l, ok := lm.links[id]
	return l, ok
}

// All satisfies s2s.LinkRegistry.
func (lm *LinkManager) All() []*s2s.Link {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	out := make([]*s2s.Link, 0, len(lm.links))
	for _, l := range lm.links {
		out = append(out, l)
	}
	return out
}

// Connect dials addr and initiates the handshake as the connecting side,
// generalizing connection.go's client-dial path (cmd/dircd never had one;
// this is SPEC_FULL's CONNECT operation) to an outbound server link.
func (lm *LinkManager) Connect(addr, peerPass string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	lm.adopt(conn, peerPass)
	return nil
}

// Accept wraps an already-accepted inbound socket as a passive-side link.
func (lm *LinkManager) Accept(conn net.Conn) {
	lm.adopt(conn, lm.password)
}

func (lm *LinkManager) adopt(conn net.Conn, sendPass string) {
	id := netsplit.Link(uuid.NewString())
	link := s2s.NewLink(id, conn)

	lm.mu.Lock()
	lm.links[id] = link
	lm.mu.Unlock()

	link.Transition(s2s.StateInitiated)
	link.Send(&wire.Message{Command: wire.CmdPass, Params: []string{sendPass}})
	link.Send(&wire.Message{Command: wire.CmdCapab, Text: "QS EX IE SERVICES EUID"})
	link.Send(&wire.Message{
		Command: wire.CmdServer,
		Params:  []string{lm.matrix.ServerName, "1", lm.matrix.SID},
		Text:    "dircd link",
	})

	lm.wg.Go(func() {
		link.Run(lm.wg, lm.dispatch)
		lm.linkClosed(link)
	})
}

func (lm *LinkManager) linkClosed(link *s2s.Link) {
	lm.mu.Lock()
	delete(lm.links, link.ID())
	lm.mu.Unlock()

	// Snapshot every remote nick before the cleanup runs; whichever ones
	// no longer resolve afterwards went down with this link and owe their
	// MONITOR watchers an offline notification.
	var remoteNicks []string
	for _, sid := range lm.matrix.Graph.Servers() {
		if string(sid) == lm.matrix.SID {
			continue
		}
		for _, snap := range lm.matrix.Index.SnapshotsBySID(string(sid)) {
			remoteNicks = append(remoteNicks, snap.Nick)
		}
	}

	count := lm.matrix.Split.HandleLinkDown(link.ID(), func(folded string) (*channelactor.Actor, bool) {
		return lm.matrix.Channels.Find(folded)
	})

	for _, nick := range remoteNicks {
		if _, still := lm.matrix.Index.Resolve(nick); !still {
			notifyMonitorOffline(lm.matrix, nick)
		}
	}

	if lm.log != nil {
		lm.log.WithFields(logrus.Fields{"servers": count.ServersLost, "users": count.UsersLost}).
			Info("dircd: link closed, netsplit cleanup complete")
	}
}

// Squit tears down the named peer's link, triggering the same netsplit
// cleanup a dropped connection would.
func (lm *LinkManager) Squit(name string) bool {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	for _, l := range lm.links {
		if l.Name() == name {
			l.Close()
			return true
		}
	}
	return false
}

// dispatch handles one decoded line off link, the single switch every
// inbound S2S command (handshake, burst, ongoing propagation) passes
// through. It mirrors handlers_*.go's per-command-function shape but
// keyed by link state rather than session typestate, since a peer link
// has no notion of CAP negotiation or SASL.
func (lm *LinkManager) dispatch(link *s2s.Link, msg *wire.Message) {
	switch msg.Command {
	case wire.CmdPass:
		// Password is checked once CAPAB/SERVER arrive; nothing to do
		// here beyond recording that PASS was seen (StateInitiated
		// already covers this from the sending side).
	case wire.CmdCapab:
		// Capability tokens are advisory for this build (no peer ever
		// needs gating on them beyond what SJOIN/TMODE already carry).
	case wire.CmdServer:
		lm.handleServer(link, msg)
	case wire.CmdSid:
		lm.handleSID(link, msg)
	case wire.CmdUid, wire.CmdEuid:
		lm.handleUID(link, msg)
	case wire.CmdSjoin:
		lm.handleSJOIN(link, msg)
	case wire.CmdTmode:
		lm.handleTMODE(link, msg)
	case wire.CmdTopic:
		lm.handleRemoteTopic(link, msg)
	case wire.CmdPing:
		link.Send(&wire.Message{Command: wire.CmdPong, Text: msg.Text})
	case wire.CmdPong:
		link.ObservePong(msg.Text)
	case wire.CmdNick:
		lm.handleRemoteNick(link, msg)
	case wire.CmdQuit:
		lm.handleRemoteQuit(link, msg)
	case wire.CmdKill:
		lm.handleRemoteQuit(link, msg)
	case wire.CmdPrivMsg, wire.CmdNotice:
		lm.handleRemoteMessage(link, msg)
	case wire.CmdSquit, wire.CmdError:
		link.Close()
	default:
		s2s.Relay(lm, link.ID(), msg)
	}
}

func (lm *LinkManager) handleServer(link *s2s.Link, msg *wire.Message) {
	if len(msg.Params) < 3 {
		link.Close()
		return
	}
	name, sid := msg.Params[0], msg.Params[2]
	peerSID := netsplit.SID(sid)

	if s2s.SeenIntroduction(lm.matrix.Graph, netsplit.SID(lm.matrix.SID), peerSID) {
		link.Send(&wire.Message{Command: wire.CmdError, Text: "Loop detected"})
		link.Close()
		return
	}

	lm.matrix.Graph.AddServer(peerSID, name, netsplit.SID(lm.matrix.SID), link.ID())
	link.SetPeer(peerSID, name)
	link.Transition(s2s.StateAuthenticated)

	link.Transition(s2s.StateBurstSending)
	for _, line := range s2s.BuildBurst(lm.matrix.SID, lm.matrix.Index, lm.matrix.Channels.actors.Values) {
		link.Send(line)
	}
	link.Transition(s2s.StateBurstReceived)
	link.Transition(s2s.StateSynced)
}

func (lm *LinkManager) handleSID(link *s2s.Link, msg *wire.Message) {
	info, ok := s2s.DecodeSID(msg)
	if !ok {
		return
	}
	if !s2s.AcceptIntroduction(lm.matrix.Graph, netsplit.SID(lm.matrix.SID), info, link.ID()) {
		link.Send(&wire.Message{Command: wire.CmdError, Text: "Loop detected"})
		link.Close()
		return
	}
	s2s.Relay(lm, link.ID(), msg)
}

func (lm *LinkManager) handleUID(link *s2s.Link, msg *wire.Message) {
	if len(msg.Params) < 6 {
		return
	}
	nick := msg.Params[0]
	username := msg.Params[3]
	host := msg.Params[4]
	uid := identity.UID(msg.Params[5])
	ip := ""
	if len(msg.Params) > 6 {
		ip = msg.Params[6]
	}

	if _, exists := lm.matrix.Index.Lookup(uid); exists {
		return
	}

	rec := identity.NewUserRecord(uid, nick, username, msg.Text, host, ip)
	lm.matrix.Index.RegisterRemote(rec)
	notifyMonitorOnline(lm.matrix, nick, nick+"!"+username+"@"+host)
	s2s.Relay(lm, link.ID(), msg)
}

func (lm *LinkManager) handleSJOIN(link *s2s.Link, msg *wire.Message) {
	info, ok := s2s.DecodeSJOIN(msg)
	if !ok {
		return
	}
	actor := lm.matrix.Channels.GetOrSpawn(info.Channel)
	s2s.ApplySJOIN(actor, info, lm.matrix.Index, func(uid identity.UID) channelactor.Mailbox {
		return s2s.NewRemoteMailbox(uid, lm.matrix.Graph, lm)
	})
	s2s.Relay(lm, link.ID(), msg)
}

func (lm *LinkManager) handleTMODE(link *s2s.Link, msg *wire.Message) {
	info, ok := s2s.DecodeTMODE(msg)
	if !ok {
		return
	}
	actor, found := lm.matrix.Channels.Find(identity.FoldNick(info.Channel))
	if found {
		s2s.ApplyTMODE(actor, info)
	}
	s2s.Relay(lm, link.ID(), msg)
}

// handleRemoteNick folds an inbound peer NICK line into C1's rename path
// (identity.Index.Rename tolerates a remote UID exactly as it does a
// local one) and keeps every shared channel's local nick cache and
// members current, mirroring handlers_registration.go's local NICK path
// but driven by the already-rendered line instead of building a new one.
func (lm *LinkManager) handleRemoteNick(link *s2s.Link, msg *wire.Message) {
	if len(msg.Params) < 1 || msg.Sender == "" {
		return
	}
	uid := identity.UID(msg.Sender)
	rec, ok := lm.matrix.Index.Record(uid)
	if !ok {
		return
	}
	oldNick := rec.Nick()
	newNick := msg.Params[0]
	stamp := lm.matrix.Clock.Next()
	if result := lm.matrix.Index.Rename(uid, oldNick, newNick, stamp); result == identity.ClaimAlreadyInUse {
		return
	}

	line := msg.RenderBuffer().Bytes()
	for _, folded := range rec.Channels() {
		if actor, found := lm.matrix.Channels.Find(folded); found {
			actor.NickChange(uid, newNick, stamp)
			actor.Broadcast(line, "")
		}
	}
	s2s.Relay(lm, link.ID(), msg)

	if identity.FoldNick(oldNick) != identity.FoldNick(newNick) {
		notifyMonitorOffline(lm.matrix, oldNick)
		notifyMonitorOnline(lm.matrix, newNick, rec.Hostmask())
	}
}

// PropagateChannel resyncs one channel's full SJOIN(+TMODE) state to
// every linked peer, the outbound half of C6 that a local JOIN/PART/
// KICK/topic/mode change needs so a peer's view updates incrementally
// instead of only at the next burst (see DESIGN.md's "outbound
// propagation" note). A no-op when no peers are linked.
func (lm *LinkManager) PropagateChannel(actor *channelactor.Actor) {
	lm.mu.RLock()
	n := len(lm.links)
	lm.mu.RUnlock()
	if n == 0 {
		return
	}
	for _, msg := range s2s.BuildChannelSync(lm.matrix.SID, actor) {
		s2s.Relay(lm, "", msg)
	}
}

// PropagateTopic forwards a local topic change to every linked peer as a
// UID-addressed TOPIC line, the outbound counterpart of
// handleRemoteTopic.
func (lm *LinkManager) PropagateTopic(uid identity.UID, channel, text string, stamp clock.Stamp) {
	lm.mu.RLock()
	n := len(lm.links)
	lm.mu.RUnlock()
	if n == 0 {
		return
	}
	s2s.Relay(lm, "", s2s.BuildTopicPropagation(string(uid), channel, text, stamp))
}

// PropagateNick forwards a local user's nick change to every linked peer
// as a UID-addressed NICK line (TS6 convention; the client-facing
// nick!user@host line handleNickRegistered already built is for local
// channel broadcast only), the outbound counterpart of handleRemoteNick.
func (lm *LinkManager) PropagateNick(uid identity.UID, newNick string) {
	lm.mu.RLock()
	n := len(lm.links)
	lm.mu.RUnlock()
	if n == 0 {
		return
	}
	msg := &wire.Message{Sender: string(uid), Command: wire.CmdNick, Params: []string{newNick}}
	s2s.Relay(lm, "", msg)
}

// handleRemoteTopic folds an inbound peer TOPIC change into the target
// channel's LWW topic register and fans the already-rendered line out to
// local members, mirroring handleTMODE's decode/apply/broadcast/relay
// shape but for the topic register instead of list modes.
func (lm *LinkManager) handleRemoteTopic(link *s2s.Link, msg *wire.Message) {
	channel, text, stamp, ok := s2s.DecodeTopic(msg)
	if !ok {
		return
	}
	actor, found := lm.matrix.Channels.Find(identity.FoldNick(channel))
	if !found {
		return
	}
	s2s.ApplyTopic(actor, text, stamp)
	actor.Broadcast(msg.RenderBuffer().Bytes(), "")
	s2s.Relay(lm, link.ID(), msg)
}

// handleRemoteQuit folds an inbound QUIT or KILL into C1's teardown path:
// the origin UID (the line's Sender) is removed from the index and
// parted from every channel it was in, using the already-rendered line
// as the fan-out payload exactly as a local QUIT/KILL would.
func (lm *LinkManager) handleRemoteQuit(link *s2s.Link, msg *wire.Message) {
	uid := identity.UID(msg.Sender)
	if uid == "" {
		return
	}
	result, ok := lm.matrix.Index.KillUser(uid, lm.matrix.Clock.Next())
	if !ok {
		return
	}
	line := msg.RenderBuffer().Bytes()
	for _, folded := range result.Channels {
		if actor, found := lm.matrix.Channels.Find(folded); found {
			actor.Quit(uid, line)
		}
	}
	notifyMonitorOffline(lm.matrix, result.Snapshot.Nick)
	s2s.Relay(lm, link.ID(), msg)
}

// handleRemoteMessage forwards a PRIVMSG/NOTICE whose origin is another
// server: a channel target fans out to local members via the channel
// actor (remote members already route through their own RemoteMailbox),
// a UID target not reachable locally is relayed on toward its next hop.
func (lm *LinkManager) handleRemoteMessage(link *s2s.Link, msg *wire.Message) {
	if len(msg.Params) < 1 {
		return
	}
	target := msg.Params[0]
	line := msg.RenderBuffer().Bytes()

	if len(target) > 0 && isChannelPrefix(target[0]) {
		if actor, found := lm.matrix.Channels.Find(identity.FoldNick(target)); found {
			actor.Broadcast(line, identity.UID(msg.Sender))
		}
		s2s.Relay(lm, link.ID(), msg)
		return
	}

	targetUID := identity.UID(target)
	if lm.matrix.Deliver(targetUID, line) {
		return
	}
	s2s.RelayToTarget(lm.matrix.Graph, lm, netsplit.SID(targetUID.SID()), msg)
}

func isChannelPrefix(b byte) bool {
	switch b {
	case '#', '&', '+', '!':
		return true
	default:
		return false
	}
}

// ListenLinks accepts S2S connections on addr until it closes, handing
// each one to lm.Accept. It mirrors Server.ListenAndServe's accept loop,
// kept on a distinct listener/port since client and server protocols are
// framed differently from the first byte (clients never send a prefixed
// line; servers always do after the handshake).
func (lm *LinkManager) ListenLinks(addr string) error {
	listen, err := net.Listen("tcp4", addr)
	if err != nil {
		return err
	}
	defer listen.Close()

	for {
		conn, err := listen.Accept()
		if err != nil {
			return err
		}
		lm.wg.Go(func() { lm.Accept(conn) })
	}
}
