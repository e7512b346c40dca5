/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/hearthwire/dircd/internal/effects"
	"github.com/hearthwire/dircd/internal/identity"
	"github.com/hearthwire/dircd/internal/session"
	"github.com/hearthwire/dircd/internal/storage"
	"github.com/hearthwire/dircd/internal/wire"
)

// handlePass processes PASS, generalizing handlers.go's absent PASS
// handler (the old codebase never checked a server password at all).
func handlePass(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.NeedMoreParams()
		return
	}
	if ctx.Session.State() != session.StateUnregistered {
		ctx.Reply(wire.ReplyAlreadyRegistered, nil, "You may not reregister")
		return
	}
	ctx.Session.SetPassReceived(ctx.Msg.Params[0])
}

// handleNickUnregistered processes NICK before registration completes:
// it only records the candidate nick on the session, generalizing
// handlers.go's HandleNick (which claimed the nick immediately, with no
// notion of a two-phase registration handshake).
func handleNickUnregistered(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.Reply(wire.ReplyNoNicknameGiven, nil, "No nickname given")
		return
	}
	nick := ctx.Msg.Params[0]
	if !validNick(nick) {
		ctx.Reply(wire.ReplyErroneusNickname, []string{nick}, "Erroneous nickname")
		return
	}
	if _, taken := ctx.Matrix.Index.Resolve(nick); taken {
		ctx.Reply(wire.ReplyNicknameInUse, []string{nick}, "Nickname is already in use")
		return
	}
	ctx.Session.SetPartialNick(nick)
	maybeCompleteRegistration(ctx)
}

// handleNickRegistered processes NICK once a user is fully registered:
// the full C1 rename flow (claim-then-release) plus a NICK broadcast to
// every channel the user shares with someone.
func handleNickRegistered(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.Reply(wire.ReplyNoNicknameGiven, nil, "No nickname given")
		return
	}
	newNick := ctx.Msg.Params[0]
	oldNick := ctx.Session.Nick()
	if newNick == oldNick {
		return
	}
	if !validNick(newNick) {
		ctx.Reply(wire.ReplyErroneusNickname, []string{newNick}, "Erroneous nickname")
		return
	}
	sameFold := identity.FoldNick(newNick) == identity.FoldNick(oldNick)

	uid := ctx.Session.UID()
	stamp := ctx.Matrix.Clock.Next()
	result := ctx.Matrix.Index.Rename(uid, oldNick, newNick, stamp)
	if result == identity.ClaimAlreadyInUse {
		ctx.Reply(wire.ReplyNicknameInUse, []string{newNick}, "Nickname is already in use")
		return
	}

	ctx.Session.SetNick(newNick)

	rec, ok := ctx.Matrix.Index.Record(uid)
	if !ok {
		return
	}
	line := (&wire.Message{
		Sender:  oldNick + "!" + rec.Username() + "@" + rec.VisHost(),
		Command: wire.CmdNick,
		Params:  []string{newNick},
	}).RenderBuffer().Bytes()

	for _, folded := range rec.Channels() {
		if actor, found := ctx.Matrix.Channels.Find(folded); found {
			actor.NickChange(uid, newNick, stamp)
			actor.Broadcast(line, "")
		}
	}
	ctx.Matrix.Links.PropagateNick(uid, newNick)

	// A case-only change keeps the same folded identity, so watchers see
	// no offline/online flap for it.
	if !sameFold {
		notifyMonitorOffline(ctx.Matrix, oldNick)
		notifyMonitorOnline(ctx.Matrix, newNick, rec.Hostmask())
	}
	maybeArmEnforceTimer(ctx, uid, newNick)
}

// handleUser processes USER, generalizing handlers.go's HandleUser: once
// nick+user are both known and CAP negotiation (if any) has ended, the
// session completes registration.
func handleUser(ctx *Context) {
	if len(ctx.Msg.Params) < 4 {
		ctx.NeedMoreParams()
		return
	}
	if ctx.Session.PartialNick() == "" {
		ctx.Reply(wire.ReplyNoNicknameGiven, nil, "No nickname given")
		return
	}
	username, _ := ctx.Session.PartialUser()
	if username != "" {
		ctx.Reply(wire.ReplyAlreadyRegistered, nil, "Unauthorized command (already registered)")
		return
	}
	ctx.Session.SetPartialUser(ctx.Msg.Params[0], ctx.Msg.Text)
	maybeCompleteRegistration(ctx)
}

// validNick applies the formatting restrictions settings.go's
// MaxNickLength names, which handlers.go left as a stubbed TODO.
func validNick(nick string) bool {
	if nick == "" || len(nick) > MaxNickLength {
		return false
	}
	switch nick[0] {
	case '#', '&', ':', '$':
		return false
	}
	return true
}

func maybeCompleteRegistration(ctx *Context) {
	if ctx.Session.CapNegotiating() || !ctx.Session.ReadyToRegister() {
		return
	}

	nick := ctx.Session.PartialNick()
	username, realname := ctx.Session.PartialUser()
	uid := ctx.Matrix.UIDGen.Next()

	claim := ctx.Matrix.Index.ClaimNick(uid, nick)
	if claim == identity.ClaimAlreadyInUse {
		ctx.Reply(wire.ReplyNicknameInUse, []string{nick}, "Nickname is already in use")
		ctx.Session.SetPartialNick("")
		return
	}

	host := ctx.Session.RemoteAddr()
	if h, _, err := splitHostPort(host); err == nil {
		host = h
	}
	rec := identity.NewUserRecord(uid, nick, username, realname, host, host)
	rec.SetCaps(ctx.Session.Caps())
	if account := ctx.Session.Account(); account != "" {
		rec.SetAccount(account, ctx.Matrix.Clock.Next())
	}
	ctx.Matrix.Index.RegisterSession(rec, ctx.Session.ID)

	ctx.Session.CompleteRegistration(uid, nick, username)
	ctx.Session.SetState(session.StateRegistered)
	ctx.Matrix.Sessions.Register(ctx.Session.ID, ctx.Session)

	sendWelcomeBurst(ctx)
	notifyMonitorOnline(ctx.Matrix, nick, rec.Hostmask())
	maybeArmEnforceTimer(ctx, uid, nick)
}

// maybeArmEnforceTimer arms (or clears) the nick-enforce deadline after a
// nick is claimed: holding a nick whose registered account has the
// enforce flag, without being signed into that account, starts the
// grace-period clock.
func maybeArmEnforceTimer(ctx *Context, uid identity.UID, nick string) {
	acct, registered := ctx.Matrix.Accounts.Lookup(identity.FoldAccount(nick))
	if !registered || !acct.Enforce ||
		identity.FoldAccount(ctx.Session.Account()) == acct.Name {
		ctx.Matrix.Index.ClearEnforceTimer(uid)
		return
	}
	ctx.Matrix.Index.SetEnforceTimer(uid, nick, time.Now().Add(NickEnforceGrace))
}

func sendWelcomeBurst(ctx *Context) {
	nick := ctx.Session.Nick()
	ctx.Reply(wire.ReplyWelcome, nil, "Welcome to the "+ctx.Matrix.NetworkName+" Network, "+nick)
	ctx.Reply(wire.ReplyYourHost, nil, "Your host is "+ctx.Matrix.ServerName+", running dircd")
	ctx.Reply(wire.ReplyCreated, nil, "This server was started earlier")
	ctx.Reply(wire.ReplyMyInfo, []string{ctx.Matrix.ServerName, "dircd-1.0"}, "")
	sendISupport(ctx)
	if rec, ok := ctx.Matrix.Index.Record(ctx.Session.UID()); ok {
		ctx.Reply(wire.ReplyHostHidden, []string{rec.VisHost()}, "is now your displayed host")
	}
	ctx.Reply(wire.ReplyMOTDStart, nil, "- "+ctx.Matrix.ServerName+" Message of the Day -")
	ctx.Reply(wire.ReplyNoMOTD, nil, "MOTD File is missing")
}

func sendISupport(ctx *Context) {
	tokens := defaultISupportTokens()
	for _, chunk := range chunkISupport(tokens) {
		params := append([]string{}, chunk...)
		ctx.Reply(wire.ReplyISupport, params, "are supported by this server")
	}
}

// handleCap processes CAP LS/LIST/REQ/ACK/NAK/END, grounded on
// handlers.go's HandleCap skeleton (which stubbed every sub-command) and
// filled in against internal/session's capnegotiate.go.
func handleCap(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.Reply(wire.ReplyInvalidCapCmd, []string{"CAP"}, "Invalid CAP command")
		return
	}

	sub := strings.ToUpper(ctx.Msg.Params[0])
	tokens := session.SupportedCaps("PLAIN,SCRAM-SHA-256")

	switch sub {
	case "LS":
		version := 301
		if len(ctx.Msg.Params) > 1 {
			version = atoiSafe(ctx.Msg.Params[1], 301)
		}
		ctx.Session.BeginCapNegotiation(version)
		for _, line := range session.RenderCapLS(tokens, version) {
			ctx.replyCap("LS", "* :"+line)
		}
	case "LIST":
		ctx.replyCap("LIST", ":")
	case "REQ":
		if ctx.Msg.Text == "" {
			ctx.NeedMoreParams()
			return
		}
		resolved, ok := session.ResolveCapRequest(tokens, ctx.Session.Caps(), ctx.Msg.Text)
		if !ok {
			ctx.replyCap("NAK", ":"+ctx.Msg.Text)
			return
		}
		ctx.Session.SetCaps(resolved)
		ctx.replyCap("ACK", ":"+ctx.Msg.Text)
		syncCapsToChannels(ctx, resolved)
	case "END":
		ctx.Session.EndCapNegotiation()
		maybeCompleteRegistration(ctx)
	default:
		ctx.Reply(wire.ReplyInvalidCapCmd, []string{sub}, "Invalid CAP command")
	}
}

// syncCapsToChannels pushes a mid-session capability change to the
// user's record and to every channel actor they're a member of, so
// future capability-gated broadcasts (extended-join tagged vs plain,
// account-notify, chghost) pick the right form. A no-op before
// registration, when there's no record and no memberships yet.
func syncCapsToChannels(ctx *Context, caps identity.CapSet) {
	uid := ctx.Session.UID()
	if uid == "" {
		return
	}
	rec, ok := ctx.Matrix.Index.Record(uid)
	if !ok {
		return
	}
	rec.SetCaps(caps)
	for _, folded := range rec.Channels() {
		if actor, found := ctx.Matrix.Channels.Find(folded); found {
			actor.UpdateCaps(uid, caps)
		}
	}
}

func (c *Context) replyCap(sub, rest string) {
	c.Session.Write(&wire.Message{
		Sender:  c.Matrix.ServerName,
		Command: wire.CmdCap,
		Params:  []string{c.displayNick(), sub},
		Text:    strings.TrimPrefix(rest, ":"),
	})
}

// handleAuthenticate drives the SASL PLAIN/SCRAM-SHA-256 exchange,
// grounded on internal/session/sasl.go and the RFC 4616/5802 chunking it
// implements.
func handleAuthenticate(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.NeedMoreParams()
		return
	}
	payload := ctx.Msg.Params[0]

	progress := ctx.Session.SASL()
	if progress.State == session.SASLNone {
		startSASL(ctx, payload)
		return
	}

	complete := progress.AppendAuthenticateChunk(payload)
	ctx.Session.SetSASL(progress)
	if !complete {
		return
	}

	progress = ctx.Session.SASL()
	blob := progress.Payload()
	ctx.Session.SetSASL(progress)

	switch progress.Mechanism {
	case session.SASLPlain:
		finishSASLPlain(ctx, blob)
	case session.SASLExternal:
		finishSASLExternal(ctx)
	case session.SASLScram256:
		continueSASLScram(ctx, blob)
	default:
		failSASL(ctx)
	}
}

func startSASL(ctx *Context, mech string) {
	switch session.SASLMechanism(strings.ToUpper(mech)) {
	case session.SASLPlain:
		ctx.Session.SetSASL(session.SASLProgress{State: session.SASLWaitingAuthenticate, Mechanism: session.SASLPlain})
		ctx.Session.Write(&wire.Message{Command: wire.CmdAuth, Text: "+"})
	case session.SASLExternal:
		ctx.Session.SetSASL(session.SASLProgress{State: session.SASLWaitingAuthenticate, Mechanism: session.SASLExternal})
		ctx.Session.Write(&wire.Message{Command: wire.CmdAuth, Text: "+"})
	case session.SASLScram256:
		ctx.Session.SetSASL(session.SASLProgress{State: session.SASLWaitingAuthenticate, Mechanism: session.SASLScram256})
		ctx.Session.Write(&wire.Message{Command: wire.CmdAuth, Text: "+"})
	default:
		ctx.Reply(wire.ReplySASLFail, nil, "SASL mechanism not supported")
	}
}

func failSASL(ctx *Context) {
	ctx.Reply(wire.ReplySASLFail, nil, "SASL authentication failed")
	ctx.Session.ResetSASL()
}

// completeSASLLogin records the authenticated account on the session
// (and the index, if registration already completed) and emits 900/903.
func completeSASLLogin(ctx *Context, mech session.SASLMechanism, account, device string) {
	ctx.Session.SetAccount(account)
	ctx.Session.SetDeviceID(device)
	ctx.Session.SetSASL(session.SASLProgress{State: session.SASLAuthenticated, Mechanism: mech})
	ctx.Reply(wire.ReplyLoggedIn, []string{ctx.displayNick() + "!*@*", account}, "You are now logged in as "+account)
	ctx.Reply(wire.ReplySASLSuccess, nil, "SASL authentication successful")

	if uid := ctx.Session.UID(); uid != "" {
		ctx.Matrix.Index.IdentifyAccount(uid, account, ctx.Matrix.Clock.Next())
	}
}

func finishSASLPlain(ctx *Context, blob string) {
	_, authcid, password, err := session.DecodePlain(blob)
	if err != nil {
		failSASL(ctx)
		return
	}
	account, device := session.ExtractDevice(authcid)

	rec, ok := ctx.Matrix.Accounts.Lookup(identity.FoldAccount(account))
	if !ok || !storage.VerifyPassword(rec.Verifier, password) {
		failSASL(ctx)
		return
	}
	completeSASLLogin(ctx, session.SASLPlain, account, device)
}

// finishSASLExternal authenticates against the TLS client certificate the
// transport captured at handshake; the AUTHENTICATE payload itself (an
// optional authzid) is ignored since accounts bind to fingerprints 1:1.
func finishSASLExternal(ctx *Context) {
	fp := ctx.Session.CertFingerprint()
	if fp == "" {
		failSASL(ctx)
		return
	}
	rec, ok := ctx.Matrix.Accounts.LookupByCertFP(fp)
	if !ok {
		failSASL(ctx)
		return
	}
	completeSASLLogin(ctx, session.SASLExternal, rec.Name, "")
}

// continueSASLScram drives the two-message SCRAM-SHA-256 exchange:
// client-first produces the server-first challenge, client-final is
// verified against the account's stored key and answered with the
// server signature.
func continueSASLScram(ctx *Context, blob string) {
	progress := ctx.Session.SASL()

	// AUTHENTICATE payloads arrive base64-encoded; SCRAM's attribute
	// syntax lives inside the decoded text.
	raw, decErr := base64.StdEncoding.DecodeString(blob)
	if decErr != nil {
		failSASL(ctx)
		return
	}
	decoded := string(raw)

	if progress.State == session.SASLWaitingAuthenticate {
		authcid, clientNonce, bare, err := session.ParseScramClientFirst(decoded)
		if err != nil {
			failSASL(ctx)
			return
		}
		account, _ := session.ExtractDevice(authcid)
		rec, ok := ctx.Matrix.Accounts.Lookup(identity.FoldAccount(account))
		if !ok || len(rec.Verifier.StoredKey) == 0 {
			failSASL(ctx)
			return
		}

		serverFirst := progress.ScramServerFirst(clientNonce, rec.Verifier.Salt, rec.Verifier.Iterations)
		progress.State = session.SASLWaitingClientFinal
		progress.ScramAuthID = authcid
		progress.ScramClientFirstBare = bare
		progress.ScramServerFirstMsg = serverFirst
		ctx.Session.SetSASL(progress)

		ctx.Session.Write(&wire.Message{
			Command: wire.CmdAuth,
			Text:    base64.StdEncoding.EncodeToString([]byte(serverFirst)),
		})
		return
	}

	nonce, proof, withoutProof, err := session.ParseScramClientFinal(decoded)
	if err != nil || nonce != progress.ScramNonce {
		failSASL(ctx)
		return
	}

	account, device := session.ExtractDevice(progress.ScramAuthID)
	rec, ok := ctx.Matrix.Accounts.Lookup(identity.FoldAccount(account))
	if !ok {
		failSASL(ctx)
		return
	}

	authMessage := progress.ScramClientFirstBare + "," + progress.ScramServerFirstMsg + "," + withoutProof
	verified, err := session.ScramVerifyFinal(rec.Verifier.StoredKey, authMessage, proof)
	if err != nil || !verified {
		failSASL(ctx)
		return
	}

	ctx.Session.Write(&wire.Message{
		Command: wire.CmdAuth,
		Text:    base64.StdEncoding.EncodeToString([]byte(session.ScramServerFinal(rec.Verifier.ServerKey, authMessage))),
	})
	completeSASLLogin(ctx, session.SASLScram256, account, device)
}

// handleStartTLS processes STARTTLS, valid only before registration and
// only on a plaintext socket: acknowledge with 670, flush, then hand the
// socket to the transport's TLS upgrade callback.
func handleStartTLS(ctx *Context) {
	if ctx.Session.TLS() {
		ctx.Reply(wire.ReplyErrStartTLS, nil, "STARTTLS failed (already using TLS)")
		return
	}
	ctx.Reply(wire.ReplyStartTLS, nil, "STARTTLS successful, proceed with TLS handshake")
	if err := ctx.Session.BeginTLSHandshake(); err != nil {
		ctx.Reply(wire.ReplyErrStartTLS, nil, "STARTTLS failed ("+err.Error()+")")
	}
}

// handlePing answers a client PING with the matching PONG token,
// generalizing handlers.go's HandlePing.
func handlePing(ctx *Context) {
	ctx.Session.Write(&wire.Message{
		Sender:  ctx.Matrix.ServerName,
		Command: wire.CmdPong,
		Params:  []string{ctx.Matrix.ServerName},
		Text:    ctx.Msg.Text,
	})
}

// handlePong records the heartbeat round trip, generalizing handlers.go's
// HandlePong.
func handlePong(ctx *Context) {
	ctx.Session.ObservePong(ctx.Msg.Text)
}

// handleQuit processes QUIT for a registered user: build the QUIT line
// once, then let C5's KillEffect fan it out to every joined channel and
// tear down the index/session.
func handleQuit(ctx *Context) {
	reason := ctx.Msg.Text
	if reason == "" {
		reason = "Client Quit"
	}
	uid := ctx.Session.UID()
	if uid == "" {
		ctx.Session.Kill()
		return
	}

	line := (&wire.Message{
		Sender:  ctx.Session.Nick() + "!" + ctx.Session.Username() + "@" + ctx.Session.RemoteAddr(),
		Command: wire.CmdQuit,
		Text:    reason,
	}).RenderBuffer().Bytes()

	notifyMonitorOffline(ctx.Matrix, ctx.Session.Nick())
	_ = ctx.Matrix.Effects.Apply([]effects.Effect{effects.KillEffect{
		UID:      uid,
		Killer:   uid,
		Reason:   reason,
		Stamp:    ctx.Matrix.Clock.Next(),
		QuitLine: line,
	}})
	ctx.Matrix.Monitors.Clear(uid)
	ctx.Session.Kill()
}

// handleQuitUnregistered handles QUIT before registration completes: no
// index/channel state exists yet, so this only needs to close the
// connection.
func handleQuitUnregistered(ctx *Context) {
	ctx.Session.Kill()
}
