/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"strings"

	"github.com/hearthwire/dircd/internal/channelactor"
	"github.com/hearthwire/dircd/internal/identity"
	"github.com/hearthwire/dircd/internal/wildcard"
	"github.com/hearthwire/dircd/internal/wire"
)

const ctcpDelim = '\x01'

// handlePrivMsg processes PRIVMSG, generalizing handlers.go's HandlePrivMsg
// (which only ever resolved a single user target through Server.Nicks)
// against both channel and user targets, multiple comma-separated
// recipients, and STATUSMSG-prefixed channel targets.
func handlePrivMsg(ctx *Context) {
	dispatchMessage(ctx, false)
}

// handleNotice processes NOTICE identically to PRIVMSG except it never
// triggers an automatic reply (away, CTCP) back to the sender, per RFC
// 1459's "never auto-respond to a NOTICE" rule.
func handleNotice(ctx *Context) {
	dispatchMessage(ctx, true)
}

func dispatchMessage(ctx *Context, isNotice bool) {
	if len(ctx.Msg.Params) < 1 {
		ctx.Reply(wire.ReplyNoRecipient, nil, "No recipient given")
		return
	}
	if ctx.Msg.Text == "" {
		ctx.Reply(wire.ReplyNoTextToSend, nil, "No text to send")
		return
	}

	isCTCPOther, isCTCPAction := classifyCTCP(ctx.Msg.Text)
	sender := channelUserContext(ctx)

	for _, target := range strings.Split(ctx.Msg.Params[0], ",") {
		if target == "" {
			continue
		}
		statusPrefix := byte(0)
		chanTarget := target
		if len(target) > 1 && strings.ContainsRune("~&@%+", rune(target[0])) && chanTarget[1] == '#' {
			statusPrefix = target[0]
			chanTarget = target[1:]
		}

		if strings.HasPrefix(chanTarget, "#") {
			sendChannelMessage(ctx, sender, chanTarget, statusPrefix, isNotice, isCTCPAction, isCTCPOther)
			continue
		}
		sendUserMessage(ctx, sender, target, isNotice)
	}
}

// classifyCTCP reports whether text is CTCP-framed (wrapped in \x01) and,
// if so, whether it's specifically an ACTION — the one CTCP variant that
// channel moderation never blocks even under +C.
func classifyCTCP(text string) (isCTCP, isAction bool) {
	if len(text) < 2 || text[0] != ctcpDelim || text[len(text)-1] != ctcpDelim {
		return false, false
	}
	inner := text[1 : len(text)-1]
	return true, strings.HasPrefix(inner, "ACTION")
}

func sendChannelMessage(ctx *Context, sender channelactor.UserContext, name string, statusPrefix byte, isNotice, isCTCPAction, isCTCPOther bool) {
	folded := identity.FoldNick(name)
	actor, found := ctx.Matrix.Channels.Find(folded)
	if !found {
		ctx.Reply(wire.ReplyNoSuchChannel, []string{name}, "No such channel")
		return
	}

	cmd := wire.CmdPrivMsg
	if isNotice {
		cmd = wire.CmdNotice
	}
	dest := name
	if statusPrefix != 0 {
		dest = string(statusPrefix) + name
	}
	line := (&wire.Message{
		Sender:  sender.Mask(),
		Command: cmd,
		Params:  []string{dest},
		Text:    ctx.Msg.Text,
	}).RenderBuffer().Bytes()

	outcome := actor.Message(sender, line, isNotice, false, isCTCPAction, isCTCPOther, statusPrefix)
	switch outcome {
	case channelactor.MsgBlockedExternal, channelactor.MsgNotMember,
		channelactor.MsgBlockedRegisteredOnly, channelactor.MsgBlockedTLSOnly,
		channelactor.MsgBlockedModerated, channelactor.MsgBlockedBanned:
		ctx.Reply(wire.ReplyCannotSendToChan, []string{name}, "Cannot send to channel")
	}
}

func sendUserMessage(ctx *Context, sender channelactor.UserContext, targetNick string, isNotice bool) {
	targetUID, known := ctx.Matrix.Index.Resolve(targetNick)
	if !known {
		ctx.Reply(wire.ReplyNoSuchNick, []string{targetNick}, "No such nick/channel")
		return
	}
	if silencedBy(ctx.Matrix, targetUID, sender.Mask()) {
		// Dropped without a numeric so the silenced party can't probe
		// whether they've been silenced.
		return
	}

	cmd := wire.CmdPrivMsg
	if isNotice {
		cmd = wire.CmdNotice
	}
	msg := &wire.Message{
		Sender:  sender.Mask(),
		Command: cmd,
		Params:  []string{targetNick},
		Text:    ctx.Msg.Text,
	}
	line := msg.RenderBuffer().Bytes()

	if !ctx.Matrix.Deliver(targetUID, line) {
		relayMsg := &wire.Message{
			Sender:  string(sender.UID),
			Command: cmd,
			Params:  []string{string(targetUID)},
			Text:    ctx.Msg.Text,
		}
		if !ctx.Matrix.RelayToRemote(targetUID, relayMsg) {
			ctx.Reply(wire.ReplyNoSuchNick, []string{targetNick}, "No such nick/channel")
		}
		return
	}

	if isNotice {
		return
	}
	if rec, ok := ctx.Matrix.Index.Record(targetUID); ok {
		if text, away := rec.Away(); away {
			ctx.Reply(wire.ReplyAway, []string{targetNick}, text)
		}
	}
}

// silencedBy reports whether target's silence list matches senderMask,
// with the accept list taking precedence. Masks are matched as hostmask
// globs, the same matcher the channel ban lists run through.
func silencedBy(m *Matrix, target identity.UID, senderMask string) bool {
	rec, ok := m.Index.Record(target)
	if !ok {
		return false
	}
	for _, mask := range rec.AcceptList() {
		if wildcard.Match(mask, senderMask) {
			return false
		}
	}
	for _, mask := range rec.SilenceList() {
		if wildcard.Match(mask, senderMask) {
			return true
		}
	}
	return false
}

// handleTagmsg processes TAGMSG: a tags-only message delivered under the
// same gating as PRIVMSG but only to recipients who negotiated
// message-tags (a client that never asked for tags would see an empty
// command it can't render).
func handleTagmsg(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.Reply(wire.ReplyNoRecipient, nil, "No recipient given")
		return
	}
	if !ctx.Session.Caps().Has(identity.CapMessageTags) {
		return
	}

	sender := channelUserContext(ctx)
	for _, target := range strings.Split(ctx.Msg.Params[0], ",") {
		if target == "" {
			continue
		}
		line := (&wire.Message{
			Tags:    ctx.Msg.Tags,
			Sender:  sender.Mask(),
			Command: wire.CmdTagmsg,
			Params:  []string{target},
		}).RenderBuffer().Bytes()

		if strings.HasPrefix(target, "#") {
			folded := identity.FoldNick(target)
			if actor, found := ctx.Matrix.Channels.Find(folded); found {
				actor.Message(sender, line, false, true, false, false, 0)
			}
			continue
		}

		targetUID, known := ctx.Matrix.Index.Resolve(target)
		if !known || silencedBy(ctx.Matrix, targetUID, sender.Mask()) {
			continue
		}
		if rec, ok := ctx.Matrix.Index.Record(targetUID); ok && rec.Caps().Has(identity.CapMessageTags) {
			ctx.Matrix.Deliver(targetUID, line)
		}
	}
}
