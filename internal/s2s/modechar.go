/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package s2s

import (
	"strconv"
	"strings"

	"github.com/hearthwire/dircd/internal/channelactor"
)

// simpleModeLetters maps every wire-visible SimpleMode bit to its TS6
// character, in the fixed iteration order SJOIN/TMODE mode-strings are
// rendered in. ModeOperOnly and ModeAdminOnly carry no letter — they're
// set by services out of band, never negotiated over the client or
// server protocol, so they're absent here on purpose.
var simpleModeLetters = []struct {
	bit    channelactor.SimpleMode
	letter byte
}{
	{channelactor.ModeNoExternal, 'n'},
	{channelactor.ModeModerated, 'm'},
	{channelactor.ModeTopicLock, 't'},
	{channelactor.ModeSecret, 's'},
	{channelactor.ModeInviteOnly, 'i'},
	{channelactor.ModePrivate, 'p'},
	{channelactor.ModeRegisteredOnly, 'r'},
	{channelactor.ModeTLSOnly, 'z'},
	{channelactor.ModeNoCTCP, 'C'},
	{channelactor.ModeNoticeBlock, 'T'},
	{channelactor.ModeFreeInvite, 'g'},
	{channelactor.ModeNoKnock, 'K'},
	{channelactor.ModePermanent, 'P'},
}

// renderSimpleModes turns a SimpleMode bitmask plus key/limit/forward into
// a TS6-style "+<letters> <args...>" mode string and its parameter list,
// the shape SJOIN and TMODE both carry.
func renderSimpleModes(modes channelactor.SimpleMode, key string, limit int, forward string) (letters string, args []string) {
	var b strings.Builder
	b.WriteByte('+')
	for _, m := range simpleModeLetters {
		if modes&m.bit != 0 {
			b.WriteByte(m.letter)
		}
	}
	if key != "" {
		b.WriteByte('k')
		args = append(args, key)
	}
	if limit > 0 {
		b.WriteByte('l')
		args = append(args, strconv.Itoa(limit))
	}
	if forward != "" {
		b.WriteByte('f')
		args = append(args, forward)
	}
	return b.String(), args
}

// parseSimpleModes is renderSimpleModes's inverse: given a "+<letters>"
// string and its positional args (consumed in the same k/l/f order
// they're appended above), it returns the decoded bitmask and params.
// Unknown letters are skipped rather than rejected, since a future peer
// may speak a superset this build doesn't know yet.
func parseSimpleModes(letters string, args []string) (modes channelactor.SimpleMode, key string, limit int, forward string) {
	argi := 0
	next := func() string {
		if argi >= len(args) {
			return ""
		}
		v := args[argi]
		argi++
		return v
	}

	adding := true
	for _, r := range letters {
		switch r {
		case '+':
			adding = true
			continue
		case '-':
			adding = false
			continue
		}
		if !adding {
			continue
		}
		switch byte(r) {
		case 'k':
			key = next()
			continue
		case 'l':
			limit, _ = strconv.Atoi(next())
			continue
		case 'f':
			forward = next()
			continue
		}
		for _, m := range simpleModeLetters {
			if m.letter == byte(r) {
				modes |= m.bit
				break
			}
		}
	}
	return modes, key, limit, forward
}

// memberStatusLetters maps every status MemberMode bit to its TS6 SJOIN
// prefix character, highest privilege first — matching the order
// MemberMode.Prefix() would pick if it only reported one.
var memberStatusLetters = []struct {
	bit    channelactor.MemberMode
	prefix byte
}{
	{channelactor.MemberOwner, '~'},
	{channelactor.MemberAdmin, '&'},
	{channelactor.MemberOp, '@'},
	{channelactor.MemberHalfOp, '%'},
	{channelactor.MemberVoice, '+'},
}

// allPrefixChars renders every simultaneously-held status character for
// m, unlike MemberMode.Prefix which reports only the highest. SJOIN's
// member list carries the full prefix set so a peer learns e.g. "@+"
// (op and voice) in one burst line instead of needing a follow-up TMODE.
func allPrefixChars(m channelactor.MemberMode) string {
	var b strings.Builder
	for _, s := range memberStatusLetters {
		if m&s.bit != 0 {
			b.WriteByte(s.prefix)
		}
	}
	return b.String()
}

// parsePrefixChars is allPrefixChars's inverse, used when decoding an
// inbound SJOIN member token.
func parsePrefixChars(prefixes string) channelactor.MemberMode {
	var m channelactor.MemberMode
	for i := 0; i < len(prefixes); i++ {
		for _, s := range memberStatusLetters {
			if prefixes[i] == s.prefix {
				m |= s.bit
				break
			}
		}
	}
	return m
}
