/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"github.com/hearthwire/dircd/internal/session"
	"github.com/hearthwire/dircd/internal/wire"
)

// registerHandlers wires every command into reg keyed by the typestate
// it's reachable from, replacing router.go's single flat
// map[string]HandlersChain (and handlers.go's companion
// map[string]MessageHandler) with Registry's (State, command) table. A
// command registered only under StateRegistered is statically
// unreachable pre-registration; there's no per-handler "are you
// registered yet" check anywhere in this package.
func registerHandlers(reg *session.Registry[*Context]) {
	both := []session.State{session.StateUnregistered, session.StateRegistered}

	// Pre-registration handshake: PASS/NICK/USER/CAP/AUTHENTICATE/QUIT.
	reg.Handle(session.StateUnregistered, wire.CmdPass, handlePass)
	reg.Handle(session.StateUnregistered, wire.CmdNick, handleNickUnregistered)
	reg.Handle(session.StateUnregistered, wire.CmdUser, handleUser)
	reg.Handle(session.StateUnregistered, wire.CmdQuit, handleQuitUnregistered)
	reg.Handle(session.StateUnregistered, wire.CmdStartTLS, handleStartTLS)

	// NICK after registration is a live nick change instead of the
	// first half of the handshake.
	reg.Handle(session.StateRegistered, wire.CmdNick, handleNickRegistered)
	reg.Handle(session.StateRegistered, wire.CmdQuit, handleQuit)

	// CAP negotiation and SASL are valid in both states: CAP LS/REQ
	// typically precedes registration, but CAP LIST/clients re-querying
	// capabilities mid-session must also work.
	reg.HandleAll(both, wire.CmdCap, handleCap)
	reg.HandleAll(both, wire.CmdAuth, handleAuthenticate)
	reg.HandleAll(both, wire.CmdPing, handlePing)
	reg.HandleAll(both, wire.CmdPong, handlePong)

	// Everything else requires a registered session.
	reg.Handle(session.StateRegistered, wire.CmdJoin, handleJoin)
	reg.Handle(session.StateRegistered, wire.CmdPart, handlePart)
	reg.Handle(session.StateRegistered, wire.CmdTopic, handleTopic)
	reg.Handle(session.StateRegistered, wire.CmdKick, handleKick)
	reg.Handle(session.StateRegistered, wire.CmdInvite, handleInvite)
	reg.Handle(session.StateRegistered, wire.CmdKnock, handleKnock)
	reg.Handle(session.StateRegistered, wire.CmdMode, handleMode)

	reg.Handle(session.StateRegistered, wire.CmdPrivMsg, handlePrivMsg)
	reg.Handle(session.StateRegistered, wire.CmdNotice, handleNotice)
	reg.Handle(session.StateRegistered, wire.CmdTagmsg, handleTagmsg)

	reg.Handle(session.StateRegistered, wire.CmdNames, handleNames)
	reg.Handle(session.StateRegistered, wire.CmdWho, handleWho)
	reg.Handle(session.StateRegistered, wire.CmdWhois, handleWhois)
	reg.Handle(session.StateRegistered, wire.CmdWhowas, handleWhowas)
	reg.Handle(session.StateRegistered, wire.CmdList, handleList)
	reg.Handle(session.StateRegistered, wire.CmdMotd, handleMotd)
	reg.Handle(session.StateRegistered, wire.CmdMonitor, handleMonitor)

	reg.Handle(session.StateRegistered, wire.CmdAway, handleAway)
	reg.Handle(session.StateRegistered, wire.CmdSetname, handleSetname)
	reg.Handle(session.StateRegistered, wire.CmdSilence, handleSilence)
	reg.Handle(session.StateRegistered, wire.CmdAccept, handleAccept)
	reg.Handle(session.StateRegistered, wire.CmdOper, handleOper)
	reg.Handle(session.StateRegistered, wire.CmdKill, handleKill)
	reg.Handle(session.StateRegistered, wire.CmdWallops, handleWallops)
	reg.Handle(session.StateRegistered, wire.CmdChgHost, handleChgHost)
	reg.Handle(session.StateRegistered, wire.CmdSaJoin, handleSaJoin)
	reg.Handle(session.StateRegistered, wire.CmdSaPart, handleSaPart)

	reg.Handle(session.StateRegistered, wire.CmdConnect, handleConnect)
	reg.Handle(session.StateRegistered, wire.CmdSquit, handleSquit)
	reg.Handle(session.StateRegistered, wire.CmdDie, handleDie)
	reg.Handle(session.StateRegistered, wire.CmdRehash, handleRehash)
}
