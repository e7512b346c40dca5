/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package session

import (
	"strings"

	"github.com/hearthwire/dircd/internal/identity"
	"github.com/hearthwire/dircd/internal/stringutils"
)

// CapToken names one capability token this core advertises over CAP LS,
// carrying the named bit it maps to (0 for a capability with no
// corresponding CapSet bit yet, e.g. ones only meaningful during
// negotiation) and an optional value shown when the client negotiated
// version 302+ ("LS 302 implicitly enables cap-notify and advertises
// values for enumerable tokens" per spec §4.3).
type CapToken struct {
	Name  string
	Bit   identity.CapSet
	Value string // e.g. "PLAIN,EXTERNAL,SCRAM-SHA-256" for sasl
}

// SupportedCaps is the full advertised capability table, matching
// SPEC_FULL's IRCv3 capability list. sts/tls are appended by the caller
// only when the listener is actually TLS-capable, since their
// availability is a deployment fact this package can't know.
func SupportedCaps(saslMechs string) []CapToken {
	return []CapToken{
		{Name: "account-notify", Bit: identity.CapAccountNotify},
		{Name: "account-tag", Bit: identity.CapAccountTag},
		{Name: "away-notify", Bit: identity.CapAwayNotify},
		{Name: "batch", Bit: identity.CapBatch},
		{Name: "cap-notify", Bit: identity.CapCapNotify},
		{Name: "chghost", Bit: identity.CapChgHost},
		{Name: "echo-message", Bit: identity.CapEchoMessage},
		{Name: "extended-join", Bit: identity.CapExtendedJoin},
		{Name: "invite-notify", Bit: identity.CapInviteNotify},
		{Name: "labeled-response", Bit: identity.CapLabeledResponse},
		{Name: "message-tags", Bit: identity.CapMessageTags},
		{Name: "multi-prefix", Bit: identity.CapMultiPrefix},
		{Name: "sasl", Bit: identity.CapSASL, Value: saslMechs},
		{Name: "server-time", Bit: identity.CapServerTime},
		{Name: "setname", Bit: identity.CapSetname},
		{Name: "userhost-in-names", Bit: identity.CapUserhostInNames},
		{Name: "standard-replies", Bit: 0},
		{Name: "message-ids", Bit: 0},
		{Name: "draft/multiline", Bit: 0},
	}
}

// RenderCapLS formats tokens for a CAP LS reply, including values only
// when version >= 302 (LS 302 "implicitly enables cap-notify and
// advertises values for enumerable tokens" per spec §4.3), and wraps the
// result across multiple lines under the 512-byte budget using
// stringutils.ChunkJoin, matching how NAMES/WHO wrap long replies.
func RenderCapLS(tokens []CapToken, version int) []string {
	rendered := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if version >= 302 && t.Value != "" {
			rendered = append(rendered, t.Name+"="+t.Value)
			continue
		}
		rendered = append(rendered, t.Name)
	}
	// Budget leaves room for ":server CAP nick LS * :" plus CRLF; 400 is
	// a conservative per-line token budget under the 512-byte line limit.
	return stringutils.ChunkJoin(400, " ", rendered)
}

// ResolveCapRequest parses a CAP REQ parameter list against the
// supported table, returning current with the bit of every recognized
// token set, or cleared when the token carries a leading '-'. Tokens
// with no CapSet bit are accepted without changing the result. ok is false if
// any requested token isn't recognized, signaling the caller to NAK the
// whole request per spec §4.3 ("all-or-nothing").
func ResolveCapRequest(tokens []CapToken, current identity.CapSet, reqParam string) (result identity.CapSet, ok bool) {
	byName := make(map[string]CapToken, len(tokens))
	for _, t := range tokens {
		byName[t.Name] = t
	}

	result = current
	for _, raw := range strings.Fields(reqParam) {
		remove := strings.HasPrefix(raw, "-")
		name := strings.TrimPrefix(raw, "-")
		tok, known := byName[name]
		if !known {
			return current, false
		}
		if tok.Bit == 0 {
			continue // negotiation-only token (standard-replies, message-ids, ...)
		}
		if remove {
			result &^= tok.Bit
		} else {
			result |= tok.Bit
		}
	}
	return result, true
}
