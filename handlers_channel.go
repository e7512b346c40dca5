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

	"github.com/hearthwire/dircd/internal/capauth"
	"github.com/hearthwire/dircd/internal/channelactor"
	"github.com/hearthwire/dircd/internal/clock"
	"github.com/hearthwire/dircd/internal/identity"
	"github.com/hearthwire/dircd/internal/wire"
)

// handleJoin processes JOIN, generalizing handlers.go's HandleJoin (which
// only ever called a bare Channel.Join with no ban/key/limit/invite
// gating) against the full channelactor.Actor.Join outcome set.
func handleJoin(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.NeedMoreParams()
		return
	}

	names := strings.Split(ctx.Msg.Params[0], ",")
	var keys []string
	if len(ctx.Msg.Params) > 1 {
		keys = strings.Split(ctx.Msg.Params[1], ",")
	}

	uid := ctx.Session.UID()
	rec, ok := ctx.Matrix.Index.Record(uid)
	if !ok {
		return
	}

	for i, name := range names {
		if name == "" {
			continue
		}
		if name[0] != '#' || len(name) > MaxChanLength {
			ctx.Reply(wire.ReplyBadChannelName, []string{name}, "Illegal channel name")
			continue
		}
		if len(rec.Channels()) >= MaxJoinedChans {
			ctx.Reply(wire.ReplyTooManyChannels, []string{name}, "You have joined too many channels")
			continue
		}

		key := ""
		if i < len(keys) {
			key = keys[i]
		}

		joinChannel(ctx, rec, name, key, false)
	}
}

// joinChannel runs one JOIN attempt. forwarded guards the +f retry: a
// join bounced off +i or +l follows the channel's forward target exactly
// once, so two channels forwarding at each other can't loop a client.
func joinChannel(ctx *Context, rec *identity.UserRecord, name, key string, forwarded bool) {
	folded := identity.FoldNick(name)
	actor := ctx.Matrix.Channels.GetOrSpawn(name)

	members, _ := actor.Snapshot()
	var forceModes channelactor.MemberMode
	if len(members) == 0 {
		forceModes = channelactor.MemberOp
		if chrec, registered := ctx.Matrix.ChannelDB.Lookup(folded); registered {
			actor.SetMlock(chrec.Mlock)
		}
	}

	user := channelUserContext(ctx)
	mask := user.Mask()

	plain := (&wire.Message{
		Sender:  mask,
		Command: wire.CmdJoin,
		Params:  []string{name},
	}).RenderBuffer().Bytes()
	tagged := (&wire.Message{
		Sender:  mask,
		Command: wire.CmdJoin,
		Params:  []string{name, orStar(user.Account), ctx.displayNick()},
	}).RenderBuffer().Bytes()

	result := actor.Join(user, ctx.Session, key, forceModes, tagged, plain)

	switch result.Outcome {
	case channelactor.JoinSuccess:
		rec.JoinChannel(folded)
		sendJoinBurst(ctx, actor, name, result)
		ctx.Matrix.Links.PropagateChannel(actor)
	case channelactor.JoinErrBanned:
		ctx.Reply(wire.ReplyBannedFromChan, []string{name}, "Cannot join channel (+b)")
	case channelactor.JoinErrInviteOnly:
		if result.ForwardTo != "" && !forwarded {
			ctx.Notice("Forwarding to " + result.ForwardTo + " (" + name + " is invite only)")
			joinChannel(ctx, rec, result.ForwardTo, "", true)
			return
		}
		ctx.Reply(wire.ReplyInviteOnlyChan, []string{name}, "Cannot join channel (+i)")
	case channelactor.JoinErrFull:
		if result.ForwardTo != "" && !forwarded {
			ctx.Notice("Forwarding to " + result.ForwardTo + " (" + name + " is full)")
			joinChannel(ctx, rec, result.ForwardTo, "", true)
			return
		}
		ctx.Reply(wire.ReplyChannelIsFull, []string{name}, "Cannot join channel (+l)")
	case channelactor.JoinErrBadKey:
		ctx.Reply(wire.ReplyBadChannelPass, []string{name}, "Cannot join channel (+k)")
	case channelactor.JoinErrThrottled:
		ctx.Reply(wire.ReplyTryAgain, []string{wire.CmdJoin}, "Channel join rate exceeded, try again later")
	case channelactor.JoinErrTLSOnly, channelactor.JoinErrOperOnly, channelactor.JoinErrAdminOnly, channelactor.JoinErrRegisteredOnly:
		ctx.Reply(wire.ReplyNoPrivileges, []string{name}, "Cannot join channel")
	case channelactor.JoinErrAlreadyMember:
		// no-op; already in the channel
	}
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

// sendJoinBurst sends the post-JOIN topic reply and NAMES listing,
// generalizing handlers.go's HandleJoin (which sent neither).
func sendJoinBurst(ctx *Context, actor *channelactor.Actor, name string, result channelactor.JoinResult) {
	if result.TopicText != "" {
		ctx.Reply(wire.ReplyChanTopic, []string{name}, result.TopicText)
	} else {
		ctx.Reply(wire.ReplyNoTopic, []string{name}, "No topic is set")
	}
	sendNames(ctx, actor, name)
}

// sendNames renders a channel's member list into one or more RPL_NAMREPLY
// lines of at most 40 nicks each.
func sendNames(ctx *Context, actor *channelactor.Actor, name string) {
	members, _ := actor.Snapshot()
	nicks := make([]string, 0, len(members))
	for _, m := range members {
		if prefix := m.Modes.Prefix(); prefix != 0 {
			nicks = append(nicks, string(prefix)+m.Nick)
		} else {
			nicks = append(nicks, m.Nick)
		}
	}
	const perLine = 40
	for len(nicks) > 0 {
		n := perLine
		if n > len(nicks) {
			n = len(nicks)
		}
		ctx.Reply(wire.ReplyNames, []string{"=", name}, strings.Join(nicks[:n], " "))
		nicks = nicks[n:]
	}
	ctx.Reply(wire.ReplyEndOfNames, []string{name}, "End of /NAMES list")
}

// handlePart processes PART for one or more comma-separated channels.
func handlePart(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.NeedMoreParams()
		return
	}
	reason := ctx.Msg.Text
	if reason == "" {
		reason = ctx.Session.Nick()
	}

	uid := ctx.Session.UID()
	rec, ok := ctx.Matrix.Index.Record(uid)
	if !ok {
		return
	}
	user := channelUserContext(ctx)

	for _, name := range strings.Split(ctx.Msg.Params[0], ",") {
		if name == "" {
			continue
		}
		folded := identity.FoldNick(name)
		actor, found := ctx.Matrix.Channels.Find(folded)
		if !found {
			ctx.Reply(wire.ReplyNoSuchChannel, []string{name}, "No such channel")
			continue
		}
		line := (&wire.Message{
			Sender:  user.Mask(),
			Command: wire.CmdPart,
			Params:  []string{name},
			Text:    reason,
		}).RenderBuffer().Bytes()

		result := actor.Part(uid, line)
		if !result.Removed {
			ctx.Reply(wire.ReplyNotOnChannel, []string{name}, "You're not on that channel")
			continue
		}
		rec.PartChannel(folded)
		ctx.Matrix.Links.PropagateChannel(actor)
	}
}

// handleTopic processes TOPIC: no trailing text queries the current
// topic, a trailing text (including empty ":") sets it.
func handleTopic(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.NeedMoreParams()
		return
	}
	name := ctx.Msg.Params[0]
	folded := identity.FoldNick(name)
	actor, found := ctx.Matrix.Channels.Find(folded)
	if !found {
		ctx.Reply(wire.ReplyNoSuchChannel, []string{name}, "No such channel")
		return
	}

	if !wire.EnoughParams(ctx.Msg, 2) {
		_, topic := actor.Snapshot()
		if topic.Text == "" {
			ctx.Reply(wire.ReplyNoTopic, []string{name}, "No topic is set")
		} else {
			ctx.Reply(wire.ReplyChanTopic, []string{name}, topic.Text)
		}
		return
	}

	user := channelUserContext(ctx)
	stamp := ctx.Matrix.Clock.Next()
	line := (&wire.Message{
		Sender:  user.Mask(),
		Command: wire.CmdTopic,
		Params:  []string{name},
		Text:    ctx.Msg.Text,
	}).RenderBuffer().Bytes()

	result := actor.SetTopic(user, ctx.Msg.Text, false, stamp, line)
	if !result.OK {
		ctx.Reply(wire.ReplyChanOpPrivsNeeded, []string{name}, "You're not a channel operator")
		return
	}
	ctx.Matrix.Links.PropagateTopic(user.UID, name, ctx.Msg.Text, stamp)
}

// handleKick processes KICK channel nick[,nick...] [:reason].
func handleKick(ctx *Context) {
	if len(ctx.Msg.Params) < 2 {
		ctx.NeedMoreParams()
		return
	}
	name := ctx.Msg.Params[0]
	folded := identity.FoldNick(name)
	actor, found := ctx.Matrix.Channels.Find(folded)
	if !found {
		ctx.Reply(wire.ReplyNoSuchChannel, []string{name}, "No such channel")
		return
	}

	reason := ctx.Msg.Text
	kicker := channelUserContext(ctx)
	if reason == "" {
		reason = kicker.Nick
	}
	if len(reason) > MaxKickLength {
		reason = reason[:MaxKickLength]
	}

	for _, targetNick := range strings.Split(ctx.Msg.Params[1], ",") {
		targetUID, known := ctx.Matrix.Index.Resolve(targetNick)
		if !known {
			ctx.Reply(wire.ReplyNoSuchNick, []string{targetNick}, "No such nick/channel")
			continue
		}
		line := (&wire.Message{
			Sender:  kicker.Mask(),
			Command: wire.CmdKick,
			Params:  []string{name, targetNick},
			Text:    reason,
		}).RenderBuffer().Bytes()

		result := actor.Kick(kicker, targetUID, reason, false, line)
		if !result.OK {
			// A network oper may force the kick from outside the
			// channel; anyone else gets 482. The token is minted and
			// consumed per attempt, never cached.
			tok, granted := ctx.Matrix.Auth.Grant(capauth.Request{
				Subject:     kicker.UID,
				SubjectPerm: ctx.Session.OperPermission(),
				Cap:         capauth.CapChannelForce,
				Resource:    folded,
			})
			if !granted || !ctx.Matrix.Auth.Consume(tok, kicker.UID, capauth.CapChannelForce, folded) {
				ctx.Reply(wire.ReplyChanOpPrivsNeeded, []string{name}, "You're not a channel operator")
				continue
			}
			result = actor.Kick(kicker, targetUID, reason, true, line)
			if !result.OK {
				ctx.Reply(wire.ReplyUserNotInChannel, []string{targetNick, name}, "They aren't on that channel")
				continue
			}
		}
		if targetRec, ok := ctx.Matrix.Index.Record(targetUID); ok {
			targetRec.PartChannel(folded)
		}
		ctx.Matrix.Links.PropagateChannel(actor)
	}
}

// handleInvite processes INVITE nick channel.
func handleInvite(ctx *Context) {
	if len(ctx.Msg.Params) < 2 {
		ctx.NeedMoreParams()
		return
	}
	targetNick, name := ctx.Msg.Params[0], ctx.Msg.Params[1]
	folded := identity.FoldNick(name)
	actor, found := ctx.Matrix.Channels.Find(folded)
	if !found {
		ctx.Reply(wire.ReplyNoSuchChannel, []string{name}, "No such channel")
		return
	}
	targetUID, known := ctx.Matrix.Index.Resolve(targetNick)
	if !known {
		ctx.Reply(wire.ReplyNoSuchNick, []string{targetNick}, "No such nick/channel")
		return
	}

	inviter := channelUserContext(ctx)
	result := actor.Invite(inviter, targetUID, false)
	switch {
	case result.AlreadyMember:
		ctx.Reply(wire.ReplyUserOnChannel, []string{targetNick, name}, "is already on channel")
	case result.RequiresOp:
		ctx.Reply(wire.ReplyChanOpPrivsNeeded, []string{name}, "You're not a channel operator")
	case result.OK:
		ctx.Reply(wire.ReplyInviting, []string{targetNick, name}, "")
		ctx.Matrix.Deliver(targetUID, (&wire.Message{
			Sender:  inviter.Mask(),
			Command: wire.CmdInvite,
			Params:  []string{targetNick, name},
		}).RenderBuffer().Bytes())
	}
}

// handleKnock processes KNOCK channel, notifying every op/halfop.
func handleKnock(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.NeedMoreParams()
		return
	}
	name := ctx.Msg.Params[0]
	folded := identity.FoldNick(name)
	actor, found := ctx.Matrix.Channels.Find(folded)
	if !found {
		ctx.Reply(wire.ReplyNoSuchChannel, []string{name}, "No such channel")
		return
	}

	knocker := channelUserContext(ctx)
	result := actor.Knock(knocker)
	if !result.OK {
		ctx.Reply(wire.ReplyNoPrivileges, []string{name}, "Cannot knock on this channel")
		return
	}

	line := (&wire.Message{
		Sender:  ctx.Matrix.ServerName,
		Command: wire.CmdNotice,
		Text:    result.NoticeText,
	}).RenderBuffer().Bytes()
	members, _ := actor.Snapshot()
	for _, m := range members {
		if m.Modes&(channelactor.MemberOp|channelactor.MemberHalfOp|channelactor.MemberAdmin|channelactor.MemberOwner) != 0 {
			ctx.Matrix.Deliver(m.UID, line)
		}
	}
	ctx.Notice("Knock delivered")
}

// parseModeChanges turns a MODE command's "+o-v" style string and its
// trailing argument list into channelactor.ModeChange values, resolving
// nick arguments for status letters (o/h/v/a/q) to UIDs against the
// index the same way KICK/INVITE do.
func parseModeChanges(ctx *Context, modestring string, args []string) []channelactor.ModeChange {
	var changes []channelactor.ModeChange
	add := true
	argi := 0
	nextArg := func() string {
		if argi < len(args) {
			a := args[argi]
			argi++
			return a
		}
		return ""
	}

	for _, r := range modestring {
		switch r {
		case '+':
			add = true
		case '-':
			add = false
		case 'o', 'h', 'v', 'a', 'q':
			nick := nextArg()
			uid, known := ctx.Matrix.Index.Resolve(nick)
			if !known {
				continue
			}
			changes = append(changes, channelactor.ModeChange{Add: add, Mode: byte(r), UID: uid})
		case 'b', 'e', 'I':
			arg := nextArg()
			if arg == "" {
				continue
			}
			changes = append(changes, channelactor.ModeChange{Add: add, Mode: byte(r), Arg: arg})
		case 'k':
			changes = append(changes, channelactor.ModeChange{Add: add, Mode: byte(r), Arg: nextArg()})
		case 'l':
			arg := ""
			if add {
				arg = nextArg()
			}
			changes = append(changes, channelactor.ModeChange{Add: add, Mode: byte(r), Arg: arg})
		case 'f':
			arg := ""
			if add {
				arg = nextArg()
			}
			changes = append(changes, channelactor.ModeChange{Add: add, Mode: byte(r), Arg: arg})
		default:
			changes = append(changes, channelactor.ModeChange{Add: add, Mode: byte(r)})
		}
	}

	if len(changes) > MaxModeChange {
		changes = changes[:MaxModeChange]
	}
	return changes
}

// renderModeLine reconstructs the wire MODE line for the subset of
// changes the actor actually applied, so bystanders only see the
// mutation that took effect rather than the raw requested string.
func renderModeLine(name string, changes []channelactor.ModeChange, resolveNick func(identity.UID) string) string {
	if len(changes) == 0 {
		return ""
	}
	var letters strings.Builder
	var args []string
	lastAdd := changes[0].Add
	letters.WriteByte(signChar(lastAdd))
	for _, c := range changes {
		if c.Add != lastAdd {
			letters.WriteByte(signChar(c.Add))
			lastAdd = c.Add
		}
		letters.WriteByte(c.Mode)
		switch c.Mode {
		case 'o', 'h', 'v', 'a', 'q':
			args = append(args, resolveNick(c.UID))
		case 'b', 'e', 'I', 'k', 'f':
			if c.Arg != "" {
				args = append(args, c.Arg)
			}
		case 'l':
			if c.Add && c.Arg != "" {
				args = append(args, c.Arg)
			}
		}
	}
	out := name + " " + letters.String()
	for _, a := range args {
		out += " " + a
	}
	return out
}

func signChar(add bool) byte {
	if add {
		return '+'
	}
	return '-'
}

// handleChannelMode processes MODE for a channel target: a bare channel
// name queries the current modes (324), anything past it applies
// changes via channelactor.Actor.ApplyModes.
func handleChannelMode(ctx *Context) {
	name := ctx.Msg.Params[0]
	folded := identity.FoldNick(name)
	actor, found := ctx.Matrix.Channels.Find(folded)
	if !found {
		ctx.Reply(wire.ReplyNoSuchChannel, []string{name}, "No such channel")
		return
	}

	if len(ctx.Msg.Params) < 2 {
		burst := actor.Burst()
		ctx.Reply(wire.ReplyChannelModeIs, []string{name, renderSimpleModes(burst)}, "")
		return
	}

	changes := parseModeChanges(ctx, ctx.Msg.Params[1], ctx.Msg.Params[2:])
	if len(changes) == 0 {
		return
	}

	setter := channelUserContext(ctx)
	result := actor.ApplyModes(changes, setter, false, ctx.Matrix.Clock.Next())
	if len(result.Applied) == 0 {
		if len(result.Rejected) > 0 {
			ctx.Reply(wire.ReplyChanOpPrivsNeeded, []string{name}, "You're not a channel operator")
		}
		return
	}

	rendered := renderModeLine(name, result.Applied, func(uid identity.UID) string {
		if rec, ok := ctx.Matrix.Index.Record(uid); ok {
			return rec.Nick()
		}
		return string(uid)
	})
	line := (&wire.Message{
		Sender:  setter.Mask(),
		Command: wire.CmdMode,
		Params:  strings.Fields(rendered),
	}).RenderBuffer().Bytes()
	actor.Broadcast(line, "")
	ctx.Matrix.Links.PropagateChannel(actor)
}

func renderSimpleModes(b channelactor.BurstSnapshot) string {
	var letters strings.Builder
	var args []string
	letters.WriteByte('+')
	if b.Modes&channelactor.ModeNoExternal != 0 {
		letters.WriteByte('n')
	}
	if b.Modes&channelactor.ModeModerated != 0 {
		letters.WriteByte('m')
	}
	if b.Modes&channelactor.ModeTopicLock != 0 {
		letters.WriteByte('t')
	}
	if b.Modes&channelactor.ModeSecret != 0 {
		letters.WriteByte('s')
	}
	if b.Modes&channelactor.ModeInviteOnly != 0 {
		letters.WriteByte('i')
	}
	if b.Modes&channelactor.ModePrivate != 0 {
		letters.WriteByte('p')
	}
	if b.Modes&channelactor.ModeRegisteredOnly != 0 {
		letters.WriteByte('r')
	}
	if b.Key != "" {
		letters.WriteByte('k')
		args = append(args, b.Key)
	}
	if b.Limit > 0 {
		letters.WriteByte('l')
		args = append(args, strconv.Itoa(b.Limit))
	}
	out := letters.String()
	for _, a := range args {
		out += " " + a
	}
	return out
}

// handleMode dispatches MODE to the channel or user-mode path depending
// on the target's shape, generalizing handlers.go's absent MODE handler
// (the old codebase never implemented it at all).
func handleMode(ctx *Context) {
	if len(ctx.Msg.Params) < 1 {
		ctx.NeedMoreParams()
		return
	}
	if strings.HasPrefix(ctx.Msg.Params[0], "#") {
		handleChannelMode(ctx)
		return
	}
	handleUserMode(ctx)
}

// handleUserMode processes MODE for a user target: only self-modes are
// supported, matching spec's "no SAMODE-style cross-user mutation
// outside capauth" restriction.
func handleUserMode(ctx *Context) {
	target := ctx.Msg.Params[0]
	if identity.FoldNick(target) != identity.FoldNick(ctx.Session.Nick()) {
		ctx.Reply(wire.ReplyUsersDontMatch, nil, "Cannot change mode for other users")
		return
	}

	rec, ok := ctx.Matrix.Index.Record(ctx.Session.UID())
	if !ok {
		return
	}

	if len(ctx.Msg.Params) < 2 {
		ctx.Reply(wire.ReplyUserModeIs, []string{renderUserModes(rec.Modes())}, "")
		return
	}

	stamp := ctx.Matrix.Clock.Next()
	add := true
	for _, r := range ctx.Msg.Params[1] {
		switch r {
		case '+':
			add = true
		case '-':
			add = false
		case 'i':
			toggleUserMode(rec, identity.UModeInvisible, add, stamp)
		case 'w':
			toggleUserMode(rec, identity.UModeWallops, add, stamp)
		case 'd':
			toggleUserMode(rec, identity.UModeDeaf, add, stamp)
		case 'B':
			toggleUserMode(rec, identity.UModeBot, add, stamp)
		case 'T':
			toggleUserMode(rec, identity.UModeNoCTCP, add, stamp)
		}
	}
	ctx.Reply(wire.ReplyUserModeIs, []string{renderUserModes(rec.Modes())}, "")
}

func toggleUserMode(rec *identity.UserRecord, m identity.UMode, add bool, stamp clock.Stamp) {
	if add {
		rec.AddMode(m, stamp)
	} else {
		rec.DelMode(m, stamp)
	}
}

// renderUserModes renders a UMode bitmask back into its "+iwd" wire form.
func renderUserModes(m identity.UMode) string {
	var b strings.Builder
	b.WriteByte('+')
	if m&identity.UModeInvisible != 0 {
		b.WriteByte('i')
	}
	if m&identity.UModeWallops != 0 {
		b.WriteByte('w')
	}
	if m&identity.UModeOper != 0 {
		b.WriteByte('o')
	}
	if m&identity.UModeBot != 0 {
		b.WriteByte('B')
	}
	if m&identity.UModeNoCTCP != 0 {
		b.WriteByte('T')
	}
	if m&identity.UModeDeaf != 0 {
		b.WriteByte('d')
	}
	return b.String()
}
