/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"net"
	"strconv"
)

// defaultISupportTokens builds the RPL_ISUPPORT token list this server
// advertises on registration, generalizing replies.go's absent ISUPPORT
// support (the old codebase never sent 005 at all) against the channel
// mode/prefix layout channelactor.Channel and channelactor.MemberMode
// actually implement.
func defaultISupportTokens() []string {
	return []string{
		"CASEMAPPING=rfc1459",
		"CHANTYPES=#",
		"CHANMODES=beI,k,l,imnpstFLQR",
		"PREFIX=(qaohv)~&@%+",
		"CHANLIMIT=#:" + strconv.Itoa(MaxJoinedChans),
		"NICKLEN=" + strconv.Itoa(MaxNickLength),
		"CHANNELLEN=" + strconv.Itoa(MaxChanLength),
		"TOPICLEN=" + strconv.Itoa(MaxTopicLength),
		"KICKLEN=" + strconv.Itoa(MaxKickLength),
		"AWAYLEN=" + strconv.Itoa(MaxAwayLength),
		"MODES=" + strconv.Itoa(MaxModeChange),
		"MAXTARGETS=4",
		"MAXLIST=beI:" + strconv.Itoa(MaxListItems),
		"NETWORK=dircd",
		"STATUSMSG=~&@%+",
		"ELIST=MNUCT",
		"EXTBAN=$,a",
		"MONITOR=" + strconv.Itoa(MaxMonitorTargets),
		"SILENCE=" + strconv.Itoa(MaxSilenceEntries),
		"BOT=B",
		"UTF8ONLY",
		"SAFELIST",
	}
}

// chunkISupport splits tokens into the per-line groups RPL_ISUPPORT is
// sent in, matching the "a dozen or so tokens per 005 line" convention
// every RFC 2812-descended server uses so a single line never risks the
// 512-byte wire limit.
func chunkISupport(tokens []string) [][]string {
	const perLine = 12
	var out [][]string
	for len(tokens) > 0 {
		n := perLine
		if n > len(tokens) {
			n = len(tokens)
		}
		out = append(out, tokens[:n])
		tokens = tokens[n:]
	}
	return out
}

// atoiSafe parses s as an int, returning fallback on any parse failure
// instead of propagating the error, for the handful of places (CAP LS
// version) where a malformed parameter should degrade rather than abort
// the handler.
func atoiSafe(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// splitHostPort wraps net.SplitHostPort, used to strip the port off a
// session's RemoteAddr() before it's recorded as the connecting host.
func splitHostPort(addr string) (host, port string, err error) {
	return net.SplitHostPort(addr)
}
