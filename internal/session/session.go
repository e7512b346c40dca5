/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

// Package session implements the per-connection session state machine
// (C3): the Unregistered/Registered/Server typestate lifecycle, IRCv3
// capability negotiation, SASL, STARTTLS, and labeled-response tracking.
// It generalizes connection.go's Conn (bufio read loop, buffered
// write-queue goroutine, PING/PONG heartbeat) into a state-carrying
// session the command registry dispatches against, closing the gap
// noted in the survey: connection.go's Conn only ever tracked a single
// bool (registered), never the three-state product type spec §4.3 calls
// for.
package session

import (
	"bufio"
	"bytes"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btnmasher/random"

	"github.com/hearthwire/dircd/internal/capauth"
	"github.com/hearthwire/dircd/internal/identity"
	"github.com/hearthwire/dircd/internal/wire"
)

// State is the session's position in the C3 typestate lifecycle. Handlers
// are registered per (command, State) pair in Registry, so a privileged,
// post-registration-only command is statically unreachable from
// StateUnregistered — there's no runtime "are we registered yet" branch
// scattered through handler bodies the way RouteCommand's old
// conn.registered check required.
type State int

const (
	StateUnregistered State = iota
	StateRegistered
	StateServer
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateServer:
		return "server"
	default:
		return "unknown"
	}
}

// SASLState is where a session sits in the AUTHENTICATE exchange.
type SASLState int

const (
	SASLNone SASLState = iota
	SASLWaitingAuthenticate
	SASLWaitingClientFinal // SCRAM: waiting for the client's final message
	SASLAuthenticated
)

// SASLMechanism names the negotiated SASL mechanism.
type SASLMechanism string

const (
	SASLPlain    SASLMechanism = "PLAIN"
	SASLExternal SASLMechanism = "EXTERNAL"
	SASLScram256 SASLMechanism = "SCRAM-SHA-256"
)

// SASLProgress carries the in-flight SASL exchange's accumulated state
// between AUTHENTICATE lines (chunked per RFC 4616/IRCv3), including the
// SCRAM server-side values that must survive across the client-first and
// client-final messages.
type SASLProgress struct {
	State     SASLState
	Mechanism SASLMechanism
	Buffer    bytes.Buffer // accumulates chunked base64 across 400-byte lines

	// SCRAM server-side state carried from client-first to client-final.
	ScramNonce           string // combined nonce, generated at client-first
	ScramAuthID          string // authcid extracted from client-first
	ScramClientFirstBare string // client-first-message-bare, for AuthMessage
	ScramServerFirstMsg  string // server-first-message, for AuthMessage
}

// BatchState tracks an in-progress client-initiated or server-initiated
// BATCH so nested lines can be tagged with the right reference.
type BatchState struct {
	Active bool
	Ref    string
	Type   string
}

// Routing describes how a Server-state session forwards a propagating
// message, mirroring spec §4.3's Broadcast/Routed/Local/None variants.
type Routing int

const (
	RouteNone Routing = iota
	RouteBroadcast
	RouteToSID
	RouteToUID
)

// Mailbox is the narrow non-blocking delivery interface channelactor
// depends on; Session satisfies it so a channel actor can treat a local
// session exactly like a remote one behind s2s.RemoteMailbox.
type Mailbox interface {
	Deliver(line []byte) bool
}

// Session is one connection's full C3 state: the product type described
// in spec §4.3, carrying every sub-state (Unregistered/Registered/Server)
// at once rather than as a Go sum type — matching connection.go's Conn,
// which was always a single struct with a few flags distinguishing phase,
// generalized here to the complete attribute set each phase needs.
type Session struct {
	mu sync.RWMutex

	ID string // session UUID; can outlive a nick (reconnect, always-on)

	state State

	// Connection plumbing, generalized from connection.go's Conn.
	sock       net.Conn
	remoteAddr string
	decoder    wire.Decoder
	encoder    wire.Encoder
	incoming   *bufio.Scanner
	writeQueue chan *bytes.Buffer
	heartbeat  *time.Timer
	kill       chan struct{}
	killOnce   sync.Once

	lastPingSent string
	lastPingRecv string

	timeoutForced bool

	// Unregistered-phase partials.
	partialNick     string
	partialUser     string
	partialRealname string
	passReceived    string

	// Capability negotiation, all phases.
	capNegotiating bool
	capVersion     int
	caps           identity.CapSet

	// SASL.
	sasl SASLProgress

	// TLS.
	tls        bool
	certFP     string
	startTLSFn func() error // set by the acceptor; session calls it on STARTTLS

	// Labeled response / batch (IRCv3).
	label  string
	batch  BatchState
	writes uint64 // atomic; counts Write calls for labeled-response ACKs

	// Registered-phase identity.
	uid         identity.UID
	nick        string
	username    string
	account     string
	deviceID    string
	registered  bool

	failedOperAttempts int
	lastOperAttempt    time.Time
	operPerm           capauth.Permission

	// Server-phase (S2S) identity.
	sid          string
	serverName   string
	linkRouting  Routing
	routeTarget  string

	unhealthy bool
}

// Config bundles the dependencies New needs, keeping session free of a
// direct dependency on *matrix.Matrix or net/http-style globals.
type Config struct {
	Sock       net.Conn
	Decoder    wire.Decoder
	Encoder    wire.Encoder
	QueueLen   int
	PingTimeout time.Duration
}

// New builds a Session wrapping sock, in StateUnregistered.
func New(id string, cfg Config) *Session {
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = 10
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 30 * time.Second
	}
	return &Session{
		ID:         id,
		state:      StateUnregistered,
		sock:       cfg.Sock,
		decoder:    cfg.Decoder,
		encoder:    cfg.Encoder,
		incoming:   bufio.NewScanner(cfg.Sock),
		writeQueue: make(chan *bytes.Buffer, cfg.QueueLen),
		heartbeat:  time.NewTimer(cfg.PingTimeout),
		kill:       make(chan struct{}),
	}
}

// State returns the session's current typestate.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState transitions the session. Callers (the registration handler,
// the S2S SERVER handler) are responsible for checking the transition
// gate before calling this — Session itself doesn't re-validate.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// RemoteAddr returns the connection's remote address string.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// SetRemoteAddr records the remote address once the accept-side Conn
// unblocks RemoteAddr() — mirrors connection.go's Conn.start().
func (s *Session) SetRemoteAddr(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteAddr = addr
}

// --- Unregistered-phase accessors ---

func (s *Session) PartialNick() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.partialNick
}

func (s *Session) SetPartialNick(nick string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partialNick = nick
}

func (s *Session) PartialUser() (username, realname string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.partialUser, s.partialRealname
}

func (s *Session) SetPartialUser(username, realname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partialUser = username
	s.partialRealname = realname
}

func (s *Session) PassReceived() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.passReceived
}

func (s *Session) SetPassReceived(pass string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passReceived = pass
}

// ReadyToRegister reports whether the Unregistered phase has satisfied
// spec §4.3's registration gate save for the server-password/ban checks
// the caller (matrix) runs separately: nick claimed, user set, and CAP
// negotiation (if started) has ended.
func (s *Session) ReadyToRegister() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.registered && s.partialNick != "" && s.partialUser != "" && !s.capNegotiating
}

// CompleteRegistration transitions to StateRegistered, recording the final
// claimed identity. Called once the matrix has validated the nick claim,
// password, and ban checks.
func (s *Session) CompleteRegistration(uid identity.UID, nick, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateRegistered
	s.registered = true
	s.uid = uid
	s.nick = nick
	s.username = username
}

// --- Registered-phase accessors ---

func (s *Session) UID() identity.UID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uid
}

func (s *Session) Nick() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nick
}

func (s *Session) SetNick(nick string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nick = nick
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) Account() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

func (s *Session) SetAccount(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = account
}

func (s *Session) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

func (s *Session) SetDeviceID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceID = id
}

// RecordOperAttempt bumps the failed-oper-attempt counter and timestamps
// it, feeding the lockout rule in spec §5 (3s soft delay, 30s lockout
// after 3 failures).
func (s *Session) RecordOperAttempt(ok bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOperAttempt = now
	if ok {
		s.failedOperAttempts = 0
		return
	}
	s.failedOperAttempts++
}

// OperLockedOut reports whether spec's 30s lockout (after 3 failures) is
// still in effect.
func (s *Session) OperLockedOut(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failedOperAttempts >= 3 && now.Sub(s.lastOperAttempt) < 30*time.Second
}

// SetOperPermission records the capauth.Permission level a successful
// OPER grants, so later privileged commands (KILL, WALLOPS) can present it
// to the capability authority without re-deriving it from user modes.
func (s *Session) SetOperPermission(perm capauth.Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operPerm = perm
}

// OperPermission returns the session's current capauth.Permission level,
// capauth.PermNone if it has never successfully OPERed.
func (s *Session) OperPermission() capauth.Permission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operPerm
}

// --- Server-phase accessors ---

func (s *Session) SID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sid
}

func (s *Session) SetSID(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sid = sid
}

func (s *Session) ServerName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverName
}

func (s *Session) SetServerName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverName = name
}

// --- Capability negotiation ---

func (s *Session) Caps() identity.CapSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

func (s *Session) SetCaps(c identity.CapSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caps = c
}

func (s *Session) CapNegotiating() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capNegotiating
}

func (s *Session) BeginCapNegotiation(version int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capNegotiating = true
	if version > s.capVersion {
		s.capVersion = version
	}
}

func (s *Session) CapVersion() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capVersion
}

// EndCapNegotiation handles CAP END: negotiation stops and registration
// may now proceed, mirroring handlers.go's HandleCap "END" case.
func (s *Session) EndCapNegotiation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capNegotiating = false
}

// --- TLS / STARTTLS ---

func (s *Session) TLS() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tls
}

func (s *Session) SetTLS(fp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tls = true
	s.certFP = fp
}

func (s *Session) CertFingerprint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.certFP
}

// SetStartTLSFunc installs the transport's handshake trigger, invoked by
// the STARTTLS handler once 670 RPL_STARTTLS has been flushed.
func (s *Session) SetStartTLSFunc(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTLSFn = fn
}

// BeginTLSHandshake signals the transport to flush and upgrade. It is
// valid only in StateUnregistered and only once, per spec §4.3.
func (s *Session) BeginTLSHandshake() error {
	s.mu.RLock()
	fn := s.startTLSFn
	already := s.tls
	s.mu.RUnlock()
	if already || fn == nil {
		return nil
	}
	return fn()
}

// --- SASL ---

func (s *Session) SASL() SASLProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sasl
}

func (s *Session) SetSASL(p SASLProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sasl = p
}

func (s *Session) ResetSASL() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sasl = SASLProgress{}
}

// --- Labeled response / batch ---

func (s *Session) Label() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.label
}

func (s *Session) SetLabel(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.label = label
}

func (s *Session) Batch() BatchState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batch
}

func (s *Session) SetBatch(b BatchState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = b
}

// --- Wire I/O (generalized from connection.go's Conn) ---

// ReadLine blocks for the next line or an error/EOF. It mirrors
// connection.go's readLoop body minus the dispatch call, which the
// acceptor now drives so Session itself has no Matrix dependency.
func (s *Session) ReadLine(readTimeout time.Duration) (string, error) {
	if readTimeout > 0 {
		s.sock.SetReadDeadline(time.Now().Add(readTimeout))
	}
	if !s.incoming.Scan() {
		if err := s.incoming.Err(); err != nil {
			return "", err
		}
		return "", net.ErrClosed
	}
	return s.incoming.Text(), nil
}

// Decode parses a raw line read via ReadLine using the codec this session
// was configured with (ClientCodec for ordinary connections, ServerCodec
// once promoted to StateServer).
func (s *Session) Decode(line string) (*wire.Message, error) {
	return s.decoder.Decode(line)
}

// Deliver satisfies channelactor.Mailbox: a non-blocking enqueue onto the
// write queue. A full queue means a slow reader; the session is marked
// unhealthy and its disconnect is initiated here rather than blocking
// the channel actor — closing the socket unblocks the read loop, which
// lets the acceptor's normal teardown dispose of the session's state.
func (s *Session) Deliver(line []byte) bool {
	buf := new(bytes.Buffer)
	buf.Write(line)
	select {
	case s.writeQueue <- buf:
		return true
	default:
		s.mu.Lock()
		s.unhealthy = true
		s.mu.Unlock()
		s.Kill()
		if s.sock != nil {
			_ = s.sock.Close()
		}
		return false
	}
}

// Unhealthy reports whether a prior Deliver found the write queue full.
func (s *Session) Unhealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unhealthy
}

// Write renders msg and hands it to the write queue, blocking the caller
// (never the writeLoop goroutine) if the queue is momentarily full —
// handler-originated writes use the blocking path per spec §5 ("no
// try_send on the hot path except the channel broadcast fan-out").
func (s *Session) Write(msg *wire.Message) {
	atomic.AddUint64(&s.writes, 1)
	s.writeQueue <- s.encoder.Encode(msg)
}

// Writes counts handler-originated Write calls on this session, used by
// the labeled-response dispatch wrapper to detect a command that
// produced no reply (and so owes the client an ACK).
func (s *Session) Writes() uint64 {
	return atomic.LoadUint64(&s.writes)
}

// WriteLoop drains the write queue and drives the heartbeat, mirroring
// connection.go's writeLoop. onPingTimeout is invoked when a heartbeat
// round trip fails; onHeartbeat renders and sends a fresh PING.
func (s *Session) WriteLoop(writeTimeout time.Duration, onHeartbeat func() *wire.Message, onPingTimeout func()) {
	out := bufio.NewWriter(s.sock)
	for {
		select {
		case <-s.kill:
			s.forceTimeout()
			return
		case buf := <-s.writeQueue:
			s.flush(out, buf, writeTimeout)
		case <-s.heartbeat.C:
			s.mu.RLock()
			mismatch := s.lastPingRecv != s.lastPingSent
			s.mu.RUnlock()
			if mismatch && s.lastPingSent != "" {
				onPingTimeout()
				continue
			}
			if msg := onHeartbeat(); msg != nil {
				tok := random.String(10)
				s.mu.Lock()
				s.lastPingSent = tok
				s.mu.Unlock()
				msg.Text = tok
				s.Write(msg)
			}
		}
	}
}

func (s *Session) flush(out *bufio.Writer, buf *bytes.Buffer, writeTimeout time.Duration) {
	defer func() {
		wire.PutBuffer(buf)
		if r := recover(); r != nil {
			const size = 64 << 10
			stack := make([]byte, size)
			stack = stack[:runtime.Stack(stack, false)]
			_ = stack
			s.Kill()
		}
	}()
	if writeTimeout > 0 {
		s.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	if _, err := out.Write(buf.Bytes()); err != nil {
		s.Kill()
		return
	}
	if err := out.Flush(); err != nil {
		s.Kill()
	}
}

// ObservePong records a PONG reply's token.
func (s *Session) ObservePong(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPingRecv = token
}

// ResetHeartbeat restarts the PING-inactivity timer, called after every
// successfully parsed line per spec §5's PING-inactivity timeout.
func (s *Session) ResetHeartbeat(timeout time.Duration) {
	s.heartbeat.Reset(timeout)
}

func (s *Session) forceTimeout() {
	s.mu.Lock()
	s.timeoutForced = true
	s.mu.Unlock()
	s.sock.SetReadDeadline(time.Now().Add(time.Microsecond))
}

// Kill signals both loops to exit exactly once, mirroring connection.go's
// conn.kill channel semantics.
func (s *Session) Kill() {
	s.killOnce.Do(func() { close(s.kill) })
}

// Close closes the underlying socket.
func (s *Session) Close() error {
	return s.sock.Close()
}
