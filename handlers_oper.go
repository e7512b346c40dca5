/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"github.com/hearthwire/dircd/internal/capauth"
	"github.com/hearthwire/dircd/internal/channelactor"
	"github.com/hearthwire/dircd/internal/identity"
	"github.com/hearthwire/dircd/internal/wire"
)

// grantOper runs the KILL/WALLOPS-shaped capability gate every handler in
// this file opens with: grant-then-consume against C4, replying 481 on
// denial. Returns false when the caller should stop.
func grantOper(ctx *Context, cap capauth.Capability, resource string) bool {
	subject := ctx.Session.UID()
	tok, granted := ctx.Matrix.Auth.Grant(capauth.Request{
		Subject:     subject,
		SubjectPerm: ctx.Session.OperPermission(),
		Cap:         cap,
		Resource:    resource,
	})
	if !granted || !ctx.Matrix.Auth.Consume(tok, subject, cap, resource) {
		ctx.Reply(wire.ReplyNoPrivileges, nil, "Permission Denied- You're not an IRC operator")
		return false
	}
	return true
}

// handleChgHost processes CHGHOST nick newhost: swap the target's visible
// (cloaked) host and announce it to everyone sharing a channel who
// negotiated the chghost capability.
func handleChgHost(ctx *Context) {
	if len(ctx.Msg.Params) < 2 {
		ctx.NeedMoreParams()
		return
	}
	targetNick, newHost := ctx.Msg.Params[0], ctx.Msg.Params[1]
	if len(newHost) > MaxVHostLength {
		ctx.Reply(wire.ReplyErroneusNickname, []string{newHost}, "Hostname too long")
		return
	}

	targetUID, known := ctx.Matrix.Index.Resolve(targetNick)
	if !known {
		ctx.Reply(wire.ReplyNoSuchNick, []string{targetNick}, "No such nick/channel")
		return
	}
	if !grantOper(ctx, capauth.CapChgHost, string(targetUID)) {
		return
	}

	rec, ok := ctx.Matrix.Index.Record(targetUID)
	if !ok {
		return
	}
	oldMask := rec.Hostmask()
	rec.SetVisHost(newHost, ctx.Matrix.Clock.Next())

	line := (&wire.Message{
		Sender:  oldMask,
		Command: wire.CmdChgHost,
		Params:  []string{rec.Username(), newHost},
	}).RenderBuffer().Bytes()

	ctx.Matrix.Deliver(targetUID, line)
	for _, folded := range rec.Channels() {
		if actor, found := ctx.Matrix.Channels.Find(folded); found {
			actor.BroadcastWithCap(line, nil, identity.CapChgHost, targetUID)
		}
	}
}

// handleSaJoin processes SAJOIN nick channel, forcing the target into the
// channel. The force is expressed as a pre-seeded invite (which the join
// gate honors over bans, invite-only, limit and throttle) rather than a
// separate bypass flag on the actor's Join event, so the invite
// consumption stays atomic with the membership insert exactly as a real
// INVITE's would.
func handleSaJoin(ctx *Context) {
	if len(ctx.Msg.Params) < 2 {
		ctx.NeedMoreParams()
		return
	}
	targetNick, name := ctx.Msg.Params[0], ctx.Msg.Params[1]

	targetUID, known := ctx.Matrix.Index.Resolve(targetNick)
	if !known {
		ctx.Reply(wire.ReplyNoSuchNick, []string{targetNick}, "No such nick/channel")
		return
	}
	if !grantOper(ctx, capauth.CapSaJoin, string(targetUID)) {
		return
	}

	target, ok := userContextFor(ctx.Matrix, targetUID)
	if !ok {
		return
	}
	rec, _ := ctx.Matrix.Index.Record(targetUID)
	handle, reachable := ctx.Matrix.Sessions.Get(rec.SessionID())
	if !reachable {
		ctx.Reply(wire.ReplyNoSuchNick, []string{targetNick}, "No such nick/channel")
		return
	}

	actor := ctx.Matrix.Channels.GetOrSpawn(name)
	actor.Invite(channelUserContext(ctx), targetUID, true)

	mask := target.Mask()
	plain := (&wire.Message{
		Sender:  mask,
		Command: wire.CmdJoin,
		Params:  []string{name},
	}).RenderBuffer().Bytes()
	tagged := (&wire.Message{
		Sender:  mask,
		Command: wire.CmdJoin,
		Params:  []string{name, orStar(target.Account), target.Nick},
	}).RenderBuffer().Bytes()

	result := actor.Join(target, handle, "", 0, tagged, plain)
	if result.Outcome != channelactor.JoinSuccess {
		ctx.Notice("*** SAJOIN: could not join " + targetNick + " to " + name)
		return
	}
	rec.JoinChannel(identity.FoldNick(name))
	ctx.Matrix.Links.PropagateChannel(actor)
}

// handleSaPart processes SAPART nick channel, forcing the target out.
func handleSaPart(ctx *Context) {
	if len(ctx.Msg.Params) < 2 {
		ctx.NeedMoreParams()
		return
	}
	targetNick, name := ctx.Msg.Params[0], ctx.Msg.Params[1]
	folded := identity.FoldNick(name)

	targetUID, known := ctx.Matrix.Index.Resolve(targetNick)
	if !known {
		ctx.Reply(wire.ReplyNoSuchNick, []string{targetNick}, "No such nick/channel")
		return
	}
	if !grantOper(ctx, capauth.CapSaPart, string(targetUID)) {
		return
	}

	actor, found := ctx.Matrix.Channels.Find(folded)
	if !found {
		ctx.Reply(wire.ReplyNoSuchChannel, []string{name}, "No such channel")
		return
	}

	target, ok := userContextFor(ctx.Matrix, targetUID)
	if !ok {
		return
	}
	line := (&wire.Message{
		Sender:  target.Mask(),
		Command: wire.CmdPart,
		Params:  []string{name},
		Text:    "Requested",
	}).RenderBuffer().Bytes()

	result := actor.Part(targetUID, line)
	if !result.Removed {
		ctx.Reply(wire.ReplyUserNotInChannel, []string{targetNick, name}, "They aren't on that channel")
		return
	}
	if rec, okRec := ctx.Matrix.Index.Record(targetUID); okRec {
		rec.PartChannel(folded)
	}
	ctx.Matrix.Links.PropagateChannel(actor)
}
