/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

// Package s2s implements the server-to-server protocol (C6): link
// handshake, burst generation, split-horizon relay, loop detection, and
// TS6-superset SJOIN/TMODE merge decoding. It generalizes
// connection.go's Conn (bufio read loop, buffered write-queue goroutine,
// heartbeat timer) to inter-server links instead of client sockets.
package s2s

import (
	"bufio"
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/btnmasher/random"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/hearthwire/dircd/internal/netsplit"
	"github.com/hearthwire/dircd/internal/wire"
)

// State is a link's position in the handshake lifecycle. Either side may
// initiate; collision on SID is resolved by ResolveSimultaneousConnect.
type State int

const (
	StateNone State = iota
	StateInitiated
	StateAuthenticated
	StateBurstSending
	StateBurstReceived
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateInitiated:
		return "initiated"
	case StateAuthenticated:
		return "authenticated"
	case StateBurstSending:
		return "burst-sending"
	case StateBurstReceived:
		return "burst-received"
	case StateSynced:
		return "synced"
	default:
		return "unknown"
	}
}

// PingTimeout mirrors connection.go's client heartbeat interval; links use
// the same value since nothing in spec calls for a different cadence.
const PingTimeout = 90 * time.Second

// OutboundQueueLength bounds a link's outbound buffer, mirroring
// connection.go's WriteQueueLength sized for the higher-throughput
// inter-server path.
const OutboundQueueLength = 1024

// InboundLineRate/InboundLineBurst bound how fast a peer may push lines
// at this server: a well-behaved peer bursts during a netsplit resync
// and otherwise trickles, so the budget is generous but still catches a
// peer stuck in a relay loop or otherwise misbehaving.
const (
	InboundLineRate  = 500
	InboundLineBurst = 2000
)

// Link wraps one S2S connection: handshake state, peer identity once
// known, a bounded outbound queue drained by a dedicated writer
// goroutine, and a PING/PONG heartbeat — the same shape as
// connection.go's Conn, applied to a server socket instead of a client
// one.
type Link struct {
	mu sync.RWMutex

	id   netsplit.Link
	sid  netsplit.SID // peer SID, set once the SERVER line arrives
	name string       // peer server name

	sock net.Conn
	in   *bufio.Scanner
	out  *bufio.Writer

	state State

	outbound chan *bytes.Buffer
	closed   chan struct{}
	closeOne sync.Once

	heartbeat    *time.Timer
	lastPingSent string
	lastPingRecv string

	inbound *rate.Limiter
}

// NewLink wraps conn as a not-yet-handshaken Link identified by id (an
// opaque, caller-assigned handle stable for the connection's lifetime —
// internal/netsplit.Graph keys its downstream-SID bookkeeping off the
// same id).
func NewLink(id netsplit.Link, conn net.Conn) *Link {
	return &Link{
		id:        id,
		sock:      conn,
		in:        bufio.NewScanner(conn),
		out:       bufio.NewWriter(conn),
		state:     StateNone,
		outbound:  make(chan *bytes.Buffer, OutboundQueueLength),
		closed:    make(chan struct{}),
		heartbeat: time.NewTimer(PingTimeout),
		inbound:   rate.NewLimiter(InboundLineRate, InboundLineBurst),
	}
}

// ID returns the link's opaque handle.
func (l *Link) ID() netsplit.Link { return l.id }

// SID returns the peer's SID, valid once the handshake reaches
// StateAuthenticated or later.
func (l *Link) SID() netsplit.SID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sid
}

// Name returns the peer server's name.
func (l *Link) Name() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.name
}

// State returns the link's current handshake state.
func (l *Link) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// SetPeer records the peer's SID and name, learned from its SERVER/SID
// introduction line.
func (l *Link) SetPeer(sid netsplit.SID, name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sid = sid
	l.name = name
}

// stateOrder is the only forward path through the handshake; Transition
// rejects any jump that skips or reverses a step, since a link that
// reaches BurstSending without first authenticating is a protocol
// violation, not a retryable condition.
var stateOrder = []State{
	StateNone, StateInitiated, StateAuthenticated,
	StateBurstSending, StateBurstReceived, StateSynced,
}

// Transition advances the link to next, reporting false if next isn't
// exactly one step past the current state.
func (l *Link) Transition(next State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if int(next) != int(l.state)+1 {
		return false
	}
	l.state = next
	return true
}

// ResolveSimultaneousConnect decides which side of a simultaneous
// double-connect survives when both servers dial each other at once:
// the higher SID wins. The losing side's caller must abort its own half
// of the handshake.
func ResolveSimultaneousConnect(localSID, peerSID netsplit.SID) (keepLocal bool) {
	return localSID > peerSID
}

// Send enqueues msg for the writer goroutine. Enqueue blocks once the
// queue is full rather than dropping, preserving per-link FIFO ordering.
func (l *Link) Send(msg *wire.Message) {
	l.outbound <- msg.RenderBuffer()
}

// Close stops the writer goroutine and closes the socket. Safe to call
// more than once.
func (l *Link) Close() {
	l.closeOne.Do(func() {
		close(l.closed)
		l.sock.Close()
	})
}

// Run starts the link's write loop on wg and blocks the calling
// goroutine in the read loop until the connection ends, handing each
// decoded *wire.Message to onMessage. It mirrors connection.go's
// serve()/writeLoop()/readLoop() split, with wire.ServerCodec in place
// of the client-only parser.
func (l *Link) Run(wg *conc.WaitGroup, onMessage func(*Link, *wire.Message)) {
	wg.Go(l.writeLoop)
	l.readLoop(onMessage)
}

func (l *Link) writeLoop() {
	for {
		select {
		case <-l.closed:
			return
		case buf := <-l.outbound:
			l.flush(buf)
		case <-l.heartbeat.C:
			l.doHeartbeat()
		}
	}
}

func (l *Link) flush(buf *bytes.Buffer) {
	defer wire.PutBuffer(buf)
	l.sock.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := l.out.Write(buf.Bytes()); err != nil {
		l.Close()
		return
	}
	l.out.Flush()
}

func (l *Link) doHeartbeat() {
	l.mu.Lock()
	mismatched := l.lastPingRecv != l.lastPingSent
	l.mu.Unlock()

	if mismatched {
		l.heartbeat.Stop()
		l.Close()
		return
	}

	token := random.String(10)
	l.mu.Lock()
	l.lastPingSent = token
	l.mu.Unlock()
	l.heartbeat.Reset(PingTimeout)
	l.Send(&wire.Message{Command: wire.CmdPing, Text: token})
}

// SendRaw enqueues an already-rendered line verbatim, skipping
// wire.Message rendering. Channel fan-out already hands channelactor a
// fully rendered line per member; relaying that same line to a remote
// member's home server needs no second render pass.
func (l *Link) SendRaw(line []byte) {
	buf := new(bytes.Buffer)
	buf.Write(line)
	if !bytes.HasSuffix(line, []byte(wire.CRLF)) {
		buf.WriteString(wire.CRLF)
	}
	l.outbound <- buf
}

// ObservePong records an inbound PONG's token so the next heartbeat
// tick's mismatch check passes.
func (l *Link) ObservePong(token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastPingRecv = token
}

func (l *Link) readLoop(onMessage func(*Link, *wire.Message)) {
	defer func() { l.Close() }()

	for l.in.Scan() {
		l.sock.SetReadDeadline(time.Now().Add(2 * PingTimeout))

		if !l.inbound.Allow() {
			// A line rate this far past burst means the peer is either
			// desynced or relaying into a loop; dropping individual
			// lines would only desync state further, so the link itself
			// is torn down instead.
			return
		}

		msg, err := wire.ParseServer(l.in.Text())
		if err != nil {
			continue
		}
		l.heartbeat.Reset(PingTimeout)
		onMessage(l, msg)
	}
}
