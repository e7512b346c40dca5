/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"strconv"
	"strings"

	"github.com/hearthwire/dircd/internal/channelactor"
	"github.com/hearthwire/dircd/internal/identity"
	"github.com/hearthwire/dircd/internal/wire"
)

// handleNames processes NAMES, generalizing handlers.go's absent NAMES
// handler against the channel actor's member snapshot.
func handleNames(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.Reply(wire.ReplyEndOfNames, []string{"*"}, "End of /NAMES list")
		return
	}
	for _, name := range strings.Split(ctx.Msg.Params[0], ",") {
		folded := identity.FoldNick(name)
		actor, found := ctx.Matrix.Channels.Find(folded)
		if !found {
			ctx.Reply(wire.ReplyEndOfNames, []string{name}, "End of /NAMES list")
			continue
		}
		sendNames(ctx, actor, name)
	}
}

// handleWho processes WHO channel|nick|mask, generalizing handlers.go's
// absent WHO handler. A channel target walks that channel's live members;
// a bare nick/mask walks the whole index.
func handleWho(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.Reply(wire.ReplyEndOfWho, []string{"*"}, "End of /WHO list")
		return
	}
	mask := ctx.Msg.Params[0]

	if strings.HasPrefix(mask, "#") {
		folded := identity.FoldNick(mask)
		actor, found := ctx.Matrix.Channels.Find(folded)
		if !found {
			ctx.Reply(wire.ReplyEndOfWho, []string{mask}, "End of /WHO list")
			return
		}
		members, _ := actor.Snapshot()
		for _, m := range members {
			rec, ok := ctx.Matrix.Index.Record(m.UID)
			if !ok {
				continue
			}
			sendWhoLine(ctx, rec.Snapshot(), mask, m.Modes.Prefix())
		}
		ctx.Reply(wire.ReplyEndOfWho, []string{mask}, "End of /WHO list")
		return
	}

	if uid, ok := ctx.Matrix.Index.Resolve(mask); ok {
		if rec, found := ctx.Matrix.Index.Record(uid); found {
			sendWhoLine(ctx, rec.Snapshot(), "*", 0)
		}
	}
	ctx.Reply(wire.ReplyEndOfWho, []string{mask}, "End of /WHO list")
}

func sendWhoLine(ctx *Context, snap identity.Snapshot, channel string, prefix byte) {
	flags := "H"
	if snap.Modes&identity.UModeOper != 0 {
		flags += "*"
	}
	if prefix != 0 {
		flags += string(prefix)
	}
	host := snap.VisHost
	if host == "" {
		host = snap.Host
	}
	ctx.Reply(wire.ReplyWho, []string{
		channel, snap.Username, host, ctx.Matrix.ServerName, snap.Nick, flags,
	}, "0 "+snap.Realname)
}

// handleWhois processes WHOIS nick[,nick...], generalizing handlers.go's
// absent WHOIS handler against the identity index's Snapshot/Channels.
func handleWhois(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.Reply(wire.ReplyNoSuchNick, nil, "No such nick/channel")
		return
	}
	for _, nick := range strings.Split(ctx.Msg.Params[0], ",") {
		uid, ok := ctx.Matrix.Index.Resolve(nick)
		if !ok {
			ctx.Reply(wire.ReplyNoSuchNick, []string{nick}, "No such nick/channel")
			continue
		}
		rec, found := ctx.Matrix.Index.Record(uid)
		if !found {
			ctx.Reply(wire.ReplyNoSuchNick, []string{nick}, "No such nick/channel")
			continue
		}
		snap := rec.Snapshot()
		host := snap.VisHost
		if host == "" {
			host = snap.Host
		}
		ctx.Reply(wire.ReplyWhoisUser, []string{snap.Nick, snap.Username, host, "*"}, snap.Realname)
		if len(snap.Channels) > 0 {
			ctx.Reply(wire.ReplyWhoisChannels, []string{snap.Nick}, strings.Join(snap.Channels, " "))
		}
		ctx.Reply(wire.ReplyWhoisServer, []string{snap.Nick, ctx.Matrix.ServerName}, ctx.Matrix.NetworkName)
		if snap.Modes&identity.UModeOper != 0 {
			ctx.Reply(wire.ReplyWhoisOperator, []string{snap.Nick}, "is a network operator")
		}
		if text, away := rec.Away(); away {
			ctx.Reply(wire.ReplyAway, []string{snap.Nick}, text)
		}
		ctx.Reply(wire.ReplyEndOfWhois, []string{snap.Nick}, "End of /WHOIS list")
	}
}

// handleWhowas processes WHOWAS nick [count], generalizing handlers.go's
// absent WHOWAS handler against C1's retained-snapshot ring.
func handleWhowas(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.NeedMoreParams()
		return
	}
	nick := ctx.Msg.Params[0]
	limit := -1
	if len(ctx.Msg.Params) > 1 {
		limit = atoiSafe(ctx.Msg.Params[1], -1)
	}

	entries := ctx.Matrix.Index.Whowas(nick)
	if len(entries) == 0 {
		ctx.Reply(wire.ReplyWasNoSuchNick, []string{nick}, "There was no such nickname")
		ctx.Reply(wire.ReplyEndOfWhoWas, []string{nick}, "End of WHOWAS")
		return
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	for _, e := range entries {
		ctx.Reply(wire.ReplyWhoWasUser, []string{e.Nick, e.Username, e.Hostmask, "*"}, e.Realname)
	}
	ctx.Reply(wire.ReplyEndOfWhoWas, []string{nick}, "End of WHOWAS")
}

// handleList processes LIST [channel,...], generalizing handlers.go's
// absent LIST handler. A bare LIST walks every spawned channel that isn't
// +s/+p; a parameter list restricts to the named channels.
func handleList(ctx *Context) {
	ctx.Reply(wire.ReplyListStart, nil, "Channel :Users Name")

	if len(ctx.Msg.Params) > 0 && ctx.Msg.Params[0] != "" {
		for _, name := range strings.Split(ctx.Msg.Params[0], ",") {
			folded := identity.FoldNick(name)
			actor, found := ctx.Matrix.Channels.Find(folded)
			if !found {
				continue
			}
			sendListLine(ctx, actor, name)
		}
		ctx.Reply(wire.ReplyEndOfList, nil, "End of /LIST")
		return
	}

	for _, folded := range ctx.Matrix.Channels.Names() {
		actor, found := ctx.Matrix.Channels.Find(folded)
		if !found {
			continue
		}
		sendListLine(ctx, actor, actor.Name())
	}
	ctx.Reply(wire.ReplyEndOfList, nil, "End of /LIST")
}

func sendListLine(ctx *Context, actor *channelactor.Actor, name string) {
	burst := actor.Burst()
	if burst.Modes&(channelactor.ModeSecret|channelactor.ModePrivate) != 0 {
		return
	}
	_, topic := actor.Snapshot()
	ctx.Reply(wire.ReplyList, []string{name, strconv.Itoa(len(burst.Members))}, topic.Text)
}

// handleMotd replays the MOTD block on demand, mirroring what the
// welcome burst sends at registration.
func handleMotd(ctx *Context) {
	ctx.Reply(wire.ReplyMOTDStart, nil, "- "+ctx.Matrix.ServerName+" Message of the Day -")
	ctx.Reply(wire.ReplyNoMOTD, nil, "MOTD File is missing")
}
