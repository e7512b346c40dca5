/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"strings"
	"time"

	"github.com/hearthwire/dircd/internal/capauth"
	"github.com/hearthwire/dircd/internal/effects"
	"github.com/hearthwire/dircd/internal/identity"
	"github.com/hearthwire/dircd/internal/storage"
	"github.com/hearthwire/dircd/internal/wire"
)

// handleAway processes AWAY: a bare AWAY clears the away status, any
// trailing text sets it, generalizing handlers.go's absent AWAY handler.
func handleAway(ctx *Context) {
	uid := ctx.Session.UID()
	rec, ok := ctx.Matrix.Index.Record(uid)
	if !ok {
		return
	}

	text := ctx.Msg.Text
	if len(text) > MaxAwayLength {
		text = text[:MaxAwayLength]
	}
	rec.SetAway(text, ctx.Matrix.Clock.Next())

	if text == "" {
		ctx.Reply(wire.ReplyUnAway, nil, "You are no longer marked as being away")
		return
	}
	ctx.Reply(wire.ReplyNowAway, nil, "You have been marked as being away")
}

// handleOper processes OPER name password, generalizing handlers.go's
// absent OPER handler against the configured OperTable and the session's
// RecordOperAttempt/OperLockedOut lockout bookkeeping.
func handleOper(ctx *Context) {
	if len(ctx.Msg.Params) < 2 {
		ctx.NeedMoreParams()
		return
	}
	now := time.Now()
	if ctx.Session.OperLockedOut(now) {
		ctx.Reply(wire.ReplyPasswordMismatch, nil, "Password incorrect")
		return
	}

	name, password := ctx.Msg.Params[0], ctx.Msg.Params[1]
	block, known := ctx.Matrix.Operators.Lookup(name)
	ok := known && storage.VerifyPassword(block.Verifier, password)
	ctx.Session.RecordOperAttempt(ok, now)
	if !ok {
		ctx.Reply(wire.ReplyPasswordMismatch, nil, "Password incorrect")
		return
	}

	rec, found := ctx.Matrix.Index.Record(ctx.Session.UID())
	if !found {
		return
	}
	rec.AddMode(identity.UModeOper, ctx.Matrix.Clock.Next())
	ctx.Session.SetOperPermission(block.Perm)
	ctx.Reply(wire.ReplyYoureOper, nil, "You are now an IRC operator")
}

// handleKill processes KILL nick :reason, generalizing handlers.go's
// absent KILL handler against C4's capability grant and C5's KillEffect,
// the same applier handleQuit drives for a self-initiated disconnect.
func handleKill(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.NeedMoreParams()
		return
	}
	targetNick := ctx.Msg.Params[0]
	reason := ctx.Msg.Text
	if reason == "" {
		reason = "Killed"
	}

	targetUID, known := ctx.Matrix.Index.Resolve(targetNick)
	if !known {
		ctx.Reply(wire.ReplyNoSuchNick, []string{targetNick}, "No such nick/channel")
		return
	}

	killerUID := ctx.Session.UID()
	tok, granted := ctx.Matrix.Auth.Grant(capauth.Request{
		Subject:     killerUID,
		SubjectPerm: ctx.Session.OperPermission(),
		Cap:         capauth.CapKill,
		Resource:    string(targetUID),
	})
	if !granted || !ctx.Matrix.Auth.Consume(tok, killerUID, capauth.CapKill, string(targetUID)) {
		ctx.Reply(wire.ReplyNoPrivileges, nil, "Permission Denied- You're not an IRC operator")
		return
	}

	line := (&wire.Message{
		Sender:  ctx.Matrix.ServerName,
		Command: wire.CmdQuit,
		Text:    "Killed (" + ctx.Session.Nick() + " (" + reason + "))",
	}).RenderBuffer().Bytes()

	notifyMonitorOffline(ctx.Matrix, targetNick)
	_ = ctx.Matrix.Effects.Apply([]effects.Effect{effects.KillEffect{
		UID:      targetUID,
		Killer:   killerUID,
		Reason:   reason,
		Stamp:    ctx.Matrix.Clock.Next(),
		QuitLine: line,
	}})
	ctx.Matrix.Monitors.Clear(targetUID)
}

// handleWallops processes WALLOPS, fanning the message out to every
// locally-connected user with user mode +w set, generalizing handlers.go's
// absent WALLOPS handler against C4's capability grant.
func handleWallops(ctx *Context) {
	if ctx.Msg.Text == "" {
		ctx.NeedMoreParams()
		return
	}

	senderUID := ctx.Session.UID()
	tok, granted := ctx.Matrix.Auth.Grant(capauth.Request{
		Subject:     senderUID,
		SubjectPerm: ctx.Session.OperPermission(),
		Cap:         capauth.CapWallops,
		Resource:    "*",
	})
	if !granted || !ctx.Matrix.Auth.Consume(tok, senderUID, capauth.CapWallops, "*") {
		ctx.Reply(wire.ReplyNoPrivileges, nil, "Permission Denied- You're not an IRC operator")
		return
	}

	line := (&wire.Message{
		Sender:  ctx.Session.Nick() + "!" + ctx.Session.Username() + "@" + ctx.Matrix.ServerName,
		Command: wire.CmdWallops,
		Text:    ctx.Msg.Text,
	}).RenderBuffer().Bytes()

	for _, uid := range ctx.Matrix.Index.UIDsBySID(ctx.Matrix.SID) {
		rec, ok := ctx.Matrix.Index.Record(uid)
		if !ok || rec.Modes()&identity.UModeWallops == 0 {
			continue
		}
		ctx.Matrix.Deliver(uid, line)
	}
}

// handleSetname processes SETNAME :realname, updating the stored
// realname and announcing it to everyone sharing a channel who
// negotiated the setname capability.
func handleSetname(ctx *Context) {
	if ctx.Msg.Text == "" {
		ctx.NeedMoreParams()
		return
	}

	rec, ok := ctx.Matrix.Index.Record(ctx.Session.UID())
	if !ok {
		return
	}
	rec.SetRealname(ctx.Msg.Text, ctx.Matrix.Clock.Next())

	line := (&wire.Message{
		Sender:  rec.Hostmask(),
		Command: wire.CmdSetname,
		Text:    ctx.Msg.Text,
	}).RenderBuffer().Bytes()

	ctx.Matrix.Deliver(rec.UID(), line)
	for _, folded := range rec.Channels() {
		if actor, found := ctx.Matrix.Channels.Find(folded); found {
			actor.BroadcastWithCap(line, nil, identity.CapSetname, rec.UID())
		}
	}
}

// handleSilence processes SILENCE: bare lists the masks, +mask adds,
// -mask removes. A mask with no sign is treated as an add, matching the
// historical command shape.
func handleSilence(ctx *Context) {
	rec, ok := ctx.Matrix.Index.Record(ctx.Session.UID())
	if !ok {
		return
	}

	if len(ctx.Msg.Params) < 1 {
		for _, mask := range rec.SilenceList() {
			ctx.Reply(wire.ReplySilenceList, []string{mask}, "")
		}
		ctx.Reply(wire.ReplyEndOfSilenceList, nil, "End of Silence List")
		return
	}

	for _, raw := range strings.Split(ctx.Msg.Params[0], ",") {
		if raw == "" {
			continue
		}
		if strings.HasPrefix(raw, "-") {
			rec.RemoveSilence(raw[1:])
			continue
		}
		mask := strings.TrimPrefix(raw, "+")
		if len(rec.SilenceList()) >= MaxSilenceEntries {
			ctx.Reply(wire.ReplySilenceListFull, []string{mask}, "Your silence list is full")
			return
		}
		rec.AddSilence(mask)
	}
}

// handleAccept processes ACCEPT: "*" or bare lists, nick adds,
// -nick removes. Accepted masks punch through the user's silence list.
func handleAccept(ctx *Context) {
	rec, ok := ctx.Matrix.Index.Record(ctx.Session.UID())
	if !ok {
		return
	}

	if len(ctx.Msg.Params) < 1 || ctx.Msg.Params[0] == "*" {
		for _, mask := range rec.AcceptList() {
			ctx.Reply(wire.ReplyAcceptList, []string{mask}, "")
		}
		ctx.Reply(wire.ReplyEndOfAcceptList, nil, "End of Accept List")
		return
	}

	for _, raw := range strings.Split(ctx.Msg.Params[0], ",") {
		if raw == "" {
			continue
		}
		if strings.HasPrefix(raw, "-") {
			rec.RemoveAccept(raw[1:])
			continue
		}
		rec.AddAccept(raw)
	}
}
