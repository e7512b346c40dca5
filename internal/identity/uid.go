/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

// Package identity implements the concurrent identity index (C1): the
// nick/UID/session/account maps every other component resolves a user
// through, plus UID minting and the WHOWAS history ring.
package identity

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// uidCounterDigits is the width of the base36 counter portion of a UID,
// following a 3-char SID concatenated with a 6-char counter.
const uidCounterDigits = 6

const base36Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// maxCounter is base36 "ZZZZZZ", the point at which a server's local UID
// space is exhausted.
const maxCounter = 36*36*36*36*36*36 - 1

// UID is a 9-character token: a 3-char SID prefix identifying the
// originating server, followed by a 6-char base36 counter. UIDs are never
// reused for the lifetime of the server process they were minted on.
type UID string

// SID returns the 3-character server identifier prefix of the UID.
func (u UID) SID() string {
	if len(u) < 3 {
		return ""
	}
	return string(u[:3])
}

// Local reports whether u originated on the server identified by localSID.
func (u UID) Local(localSID string) bool {
	return u.SID() == localSID
}

func (u UID) String() string { return string(u) }

// UIDGenerator mints UIDs for one server. The counter starts at 2 — 0 and 1
// are reserved for service pseudo-clients (NickServ, ChanServ) per the data
// model's UID layout.
type UIDGenerator struct {
	sid     string
	counter uint64
}

// NewUIDGenerator builds a generator for the given SID, which must already
// be exactly 3 characters.
func NewUIDGenerator(sid string) *UIDGenerator {
	if len(sid) != 3 {
		panic(fmt.Sprintf("identity: SID must be 3 characters, got %q", sid))
	}
	g := &UIDGenerator{sid: sid}
	atomic.StoreUint64(&g.counter, 2)
	return g
}

// Next atomically mints the next UID for this server. It panics if the
// local counter space is exhausted (wrapped past "ZZZZZZ"): a wrapped UID
// space would mean colliding identities, an unrecoverable operational
// fault rather than something a caller can sensibly retry around.
func (g *UIDGenerator) Next() UID {
	n := atomic.AddUint64(&g.counter, 1) - 1
	if n > maxCounter {
		panic("identity: UID counter space exhausted for SID " + g.sid)
	}
	return UID(g.sid + encodeBase36(n, uidCounterDigits))
}

func encodeBase36(n uint64, width int) string {
	var buf [uidCounterDigits]byte
	for i := width - 1; i >= 0; i-- {
		buf[i] = base36Alphabet[n%36]
		n /= 36
	}
	return string(buf[:width])
}

// FoldNick case-folds a nickname for use as an index key. IRC casefolding
// treats '{', '}', '|', '^' as the lowercase counterparts of '[', ']',
// '\\', '~' (RFC 1459 casemapping); this module uses that mapping
// throughout so "Nick[x]" and "nick{x}" collide the same way a TS6 network
// expects them to.
func FoldNick(nick string) string {
	var b strings.Builder
	b.Grow(len(nick))
	for _, r := range nick {
		switch {
		case r >= 'A' && r <= 'Z':
			r += 'a' - 'A'
		case r == '[':
			r = '{'
		case r == ']':
			r = '}'
		case r == '\\':
			r = '|'
		case r == '~':
			r = '^'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FoldAccount case-folds an account name. Accounts use simple ASCII
// lowercasing; they're orthogonal to nick casemapping rules.
func FoldAccount(account string) string {
	return strings.ToLower(account)
}
