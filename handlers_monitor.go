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

	"github.com/hearthwire/dircd/internal/identity"
	"github.com/hearthwire/dircd/internal/stringutils"
	"github.com/hearthwire/dircd/internal/wire"
)

// handleMonitor processes MONITOR +/-/C/L/S, the IRCv3 watch-list
// command the welcome burst and nick-change/quit paths notify through.
// handlers.go never had a watch concept; the subcommand shape follows
// handleCap's switch-on-first-param pattern.
func handleMonitor(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.NeedMoreParams()
		return
	}

	uid := ctx.Session.UID()
	sub := ctx.Msg.Params[0]

	switch sub {
	case "+":
		if len(ctx.Msg.Params) < 2 {
			ctx.NeedMoreParams()
			return
		}
		for _, nick := range strings.Split(ctx.Msg.Params[1], ",") {
			if nick == "" {
				continue
			}
			if !ctx.Matrix.Monitors.Watch(uid, nick) {
				ctx.Reply(wire.ReplyMonListFull, []string{strconv.Itoa(MaxMonitorTargets), nick}, "Monitor list is full")
				return
			}
			sendMonitorStatus(ctx, nick)
		}
	case "-":
		if len(ctx.Msg.Params) < 2 {
			ctx.NeedMoreParams()
			return
		}
		for _, nick := range strings.Split(ctx.Msg.Params[1], ",") {
			ctx.Matrix.Monitors.Unwatch(uid, nick)
		}
	case "C":
		ctx.Matrix.Monitors.Clear(uid)
	case "L":
		targets := ctx.Matrix.Monitors.List(uid)
		for _, line := range stringutils.ChunkJoin(400, ",", targets) {
			ctx.Reply(wire.ReplyMonList, nil, line)
		}
		ctx.Reply(wire.ReplyEndOfMonList, nil, "End of MONITOR list")
	case "S":
		for _, nick := range ctx.Matrix.Monitors.List(uid) {
			sendMonitorStatus(ctx, nick)
		}
	default:
		ctx.NeedMoreParams()
	}
}

// sendMonitorStatus answers one target's current state with 730/731.
func sendMonitorStatus(ctx *Context, nick string) {
	targetUID, online := ctx.Matrix.Index.Resolve(nick)
	if !online {
		ctx.Reply(wire.ReplyMonOffline, nil, nick)
		return
	}
	snap, ok := ctx.Matrix.Index.Lookup(targetUID)
	if !ok {
		ctx.Reply(wire.ReplyMonOffline, nil, nick)
		return
	}
	ctx.Reply(wire.ReplyMonOnline, nil, snap.Nick+"!"+snap.Username+"@"+visibleHost(snap))
}

func visibleHost(snap identity.Snapshot) string {
	if snap.VisHost != "" {
		return snap.VisHost
	}
	return snap.Host
}

// notifyMonitorOnline sends 730 RPL_MONONLINE to every watcher of nick,
// called when a user registers or changes onto a watched nick.
func notifyMonitorOnline(m *Matrix, nick, mask string) {
	for _, watcher := range m.Monitors.WatchersOf(nick) {
		deliverMonitorNumeric(m, watcher, wire.ReplyMonOnline, mask)
	}
}

// notifyMonitorOffline sends 731 RPL_MONOFFLINE to every watcher of
// nick, called from the quit/kill/nick-change paths before C1 disposes
// of the record.
func notifyMonitorOffline(m *Matrix, nick string) {
	for _, watcher := range m.Monitors.WatchersOf(nick) {
		deliverMonitorNumeric(m, watcher, wire.ReplyMonOffline, nick)
	}
}

func deliverMonitorNumeric(m *Matrix, watcher identity.UID, code uint16, text string) {
	rec, ok := m.Index.Record(watcher)
	if !ok {
		return
	}
	line := (&wire.Message{
		Sender: m.ServerName,
		Code:   code,
		Params: []string{rec.Nick()},
		Text:   text,
	}).RenderBuffer().Bytes()
	m.Deliver(watcher, line)
}
