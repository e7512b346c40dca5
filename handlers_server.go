/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"github.com/hearthwire/dircd/internal/capauth"
	"github.com/hearthwire/dircd/internal/wire"
)

// handleConnect processes CONNECT target [port] :password, generalizing
// handlers_user.go's KILL/WALLOPS capability-grant shape to C6: the
// link itself is dialed by LinkManager.Connect, gated the same way a
// KILL is gated rather than trusted on oper status alone.
func handleConnect(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.NeedMoreParams()
		return
	}
	target := ctx.Msg.Params[0]
	password := ctx.Msg.Text
	if password == "" && len(ctx.Msg.Params) > 1 {
		password = ctx.Msg.Params[len(ctx.Msg.Params)-1]
	}

	subject := ctx.Session.UID()
	tok, granted := ctx.Matrix.Auth.Grant(capauth.Request{
		Subject:     subject,
		SubjectPerm: ctx.Session.OperPermission(),
		Cap:         capauth.CapConnect,
		Resource:    target,
	})
	if !granted || !ctx.Matrix.Auth.Consume(tok, subject, capauth.CapConnect, target) {
		ctx.Reply(wire.ReplyNoPrivileges, nil, "Permission Denied- You're not an IRC operator")
		return
	}

	if err := ctx.Matrix.Links.Connect(target, password); err != nil {
		ctx.Notice("*** CONNECT: " + err.Error())
		return
	}
	ctx.Notice("*** CONNECT: link to " + target + " initiated")
}

// handleSquit processes SQUIT server :reason, tearing the named link
// down through LinkManager.Squit; the resulting netsplit quit-cascade
// runs through linkmgr.go's linkClosed exactly as a dropped connection
// would, so this handler only needs to find and close the link.
func handleSquit(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.NeedMoreParams()
		return
	}
	name := ctx.Msg.Params[0]

	subject := ctx.Session.UID()
	tok, granted := ctx.Matrix.Auth.Grant(capauth.Request{
		Subject:     subject,
		SubjectPerm: ctx.Session.OperPermission(),
		Cap:         capauth.CapSquit,
		Resource:    name,
	})
	if !granted || !ctx.Matrix.Auth.Consume(tok, subject, capauth.CapSquit, name) {
		ctx.Reply(wire.ReplyNoPrivileges, nil, "Permission Denied- You're not an IRC operator")
		return
	}

	if !ctx.Matrix.Links.Squit(name) {
		ctx.Reply(wire.ReplyNoSuchServer, []string{name}, "No such server")
		return
	}
	ctx.Notice("*** SQUIT: " + name + " disconnected")
}

// handleDie processes DIE, the operator shutdown command. dircd's
// lifecycle is owned by cmd/dircd's signal handling rather than a
// command (WithGracefulShutdown's context is the only documented way
// to stop a Server), so this stays a capability-gated acknowledgement
// rather than actually tearing the process down out from under its
// caller.
func handleDie(ctx *Context) {
	subject := ctx.Session.UID()
	tok, granted := ctx.Matrix.Auth.Grant(capauth.Request{
		Subject:     subject,
		SubjectPerm: ctx.Session.OperPermission(),
		Cap:         capauth.CapDie,
		Resource:    "*",
	})
	if !granted || !ctx.Matrix.Auth.Consume(tok, subject, capauth.CapDie, "*") {
		ctx.Reply(wire.ReplyNoPrivileges, nil, "Permission Denied- You're not an IRC operator")
		return
	}
	ctx.Notice("*** DIE: shutdown must be requested out-of-band; this server does not self-terminate on DIE")
}

// handleRehash processes REHASH. Configuration loading is out of scope
// (spec's Non-goals exclude a config/CLI layer), so this acknowledges
// the request with the standard numeric without reloading anything.
func handleRehash(ctx *Context) {
	subject := ctx.Session.UID()
	tok, granted := ctx.Matrix.Auth.Grant(capauth.Request{
		Subject:     subject,
		SubjectPerm: ctx.Session.OperPermission(),
		Cap:         capauth.CapRehash,
		Resource:    "*",
	})
	if !granted || !ctx.Matrix.Auth.Consume(tok, subject, capauth.CapRehash, "*") {
		ctx.Reply(wire.ReplyNoPrivileges, nil, "Permission Denied- You're not an IRC operator")
		return
	}
	ctx.Reply(wire.ReplyRehashing, []string{"dircd.conf"}, "Rehashing")
}
