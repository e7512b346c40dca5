/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package wire

// Command constants, generalized from commands.go with the S2S (TS6) and
// remaining IRCv3 command names added.
const (
	// RFC 1459/2812
	CmdPrivMsg  = "PRIVMSG"
	CmdNotice   = "NOTICE"
	CmdUserhost = "USERHOST"
	CmdPass     = "PASS"
	CmdPing     = "PING"
	CmdPong     = "PONG"
	CmdTopic    = "TOPIC"
	CmdJoin     = "JOIN"
	CmdPart     = "PART"
	CmdKick     = "KICK"
	CmdQuit     = "QUIT"
	CmdNick     = "NICK"
	CmdUser     = "USER"
	CmdMode     = "MODE"
	CmdWallops  = "WALLOPS"
	CmdInvite   = "INVITE"
	CmdKnock    = "KNOCK"
	CmdKill     = "KILL"
	CmdWho      = "WHO"
	CmdWhois    = "WHOIS"
	CmdWhowas   = "WHOWAS"
	CmdList     = "LIST"
	CmdNames    = "NAMES"
	CmdAway     = "AWAY"
	CmdOper     = "OPER"
	CmdRehash   = "REHASH"
	CmdRestart  = "RESTART"
	CmdDie      = "DIE"
	CmdMotd     = "MOTD"
	CmdSilence  = "SILENCE"
	CmdAccept   = "ACCEPT"
	CmdError    = "ERROR"
	CmdServer   = "SERVER"

	// CTCP
	CmdCTCPPing       = "CTCP PING"
	CmdCTCPVersion    = "CTCP VERSION"
	CmdCTCPSource     = "CTCP SOURCE"
	CmdCTCPTime       = "CTCP TIME"
	CmdCTCPUserInfo   = "CTCP USERINFO"
	CmdCTCPClientInfo = "CTCP CLIENTINFO"
	CmdCTCPError      = "CTCP ERRMSG"
	CmdCTCPFinger     = "CTCP FINGER"
	CmdCTCPAction     = "CTCP ACTION"

	// IRCv3 base
	CmdCap       = "CAP"
	CmdCapLs     = "CAP LS"
	CmdCapList   = "CAP LIST"
	CmdCapReq    = "CAP REQ"
	CmdCapAck    = "CAP ACK"
	CmdCapNak    = "CAP NAK"
	CmdCapEnd    = "CAP END"
	CmdAuth      = "AUTHENTICATE"
	CmdMetadata  = "METADATA"
	CmdMonitor   = "MONITOR"
	CmdSetname   = "SETNAME"
	CmdStartTLS  = "STARTTLS"
	CmdBatch     = "BATCH"
	CmdTagmsg    = "TAGMSG"
	CmdAck       = "ACK"
	CmdChatHist  = "CHATHISTORY"

	// IRCv3 account/chghost
	CmdAccount = "ACCOUNT"
	CmdChgHost = "CHGHOST"

	// Service/oper-only routing
	CmdSaJoin = "SAJOIN"
	CmdSaPart = "SAPART"
	CmdConnect = "CONNECT"
	CmdSquit  = "SQUIT"

	// TS6 S2S
	CmdCapab = "CAPAB"
	CmdSid   = "SID"
	CmdUid   = "UID"
	CmdSjoin = "SJOIN"
	CmdTmode = "TMODE"
	CmdEuid  = "EUID"
)
