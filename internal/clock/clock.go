/*
	Copyright (c) 2023, btnmasher
	All rights reserved.
	Use of this source code is governed by a BSD-style
	license that can be found in the LICENSE file.
*/

// Package clock implements the hybrid logical clock used to order every
// CRDT-merged field in the matrix: channel topics, member statuses, ban
// entries, and simple modes all carry a Stamp instead of a bare wall-clock
// timestamp so merges across servers converge regardless of clock skew.
package clock

import (
	"fmt"
	"sync"
)

// Stamp is a hybrid logical timestamp: wall-clock milliseconds, a logical
// counter that advances when two events land in the same millisecond, and
// the originating server's SID as a final tie-break. Stamps are totally
// ordered by Compare, which is what every last-writer-wins merge in
// internal/crdt relies on.
type Stamp struct {
	WallMS  int64
	Logical uint32
	SID     string
}

// Compare returns -1, 0 or 1 as s sorts before, equal to, or after other,
// comparing WallMS, then Logical, then SID lexicographically.
func (s Stamp) Compare(other Stamp) int {
	switch {
	case s.WallMS < other.WallMS:
		return -1
	case s.WallMS > other.WallMS:
		return 1
	}

	switch {
	case s.Logical < other.Logical:
		return -1
	case s.Logical > other.Logical:
		return 1
	}

	switch {
	case s.SID < other.SID:
		return -1
	case s.SID > other.SID:
		return 1
	}

	return 0
}

// Before reports whether s strictly precedes other.
func (s Stamp) Before(other Stamp) bool { return s.Compare(other) < 0 }

// After reports whether s strictly follows other.
func (s Stamp) After(other Stamp) bool { return s.Compare(other) > 0 }

// String renders a Stamp as "wallms.logical@SID", useful for log fields.
func (s Stamp) String() string {
	return fmt.Sprintf("%d.%d@%s", s.WallMS, s.Logical, s.SID)
}

// Zero reports whether s is the zero Stamp (never emitted by a live Clock,
// used as a sentinel for "never set" fields like a channel's topic stamp
// before any TOPIC has been sent).
func (s Stamp) Zero() bool {
	return s.WallMS == 0 && s.Logical == 0 && s.SID == ""
}

// NowFunc returns the current wall-clock time in milliseconds since the
// Unix epoch. Clock takes one so tests can supply a deterministic sequence
// instead of depending on wall-clock time passing between calls.
type NowFunc func() int64

// Clock is a per-server hybrid logical clock. One instance is injected into
// the matrix composition root and shared by every component that stamps an
// event (channel actor, identity index, s2s burst writer).
type Clock struct {
	mu   sync.Mutex
	sid  string
	now  NowFunc
	last Stamp
}

// New builds a Clock for the given SID using now as its wall-clock source.
func New(sid string, now NowFunc) *Clock {
	return &Clock{sid: sid, now: now}
}

// Next produces the next Stamp in sequence: if wall-clock time has not
// advanced past the last emitted Stamp, it reuses that wall-ms and bumps the
// logical counter; otherwise it adopts the new wall-ms with logical reset to
// zero. This is the one rule spec's hybrid timestamp generation names, and
// it's what keeps Stamps monotonic per server even when the wall clock
// doesn't tick between two calls in the same millisecond.
func (c *Clock) Next() Stamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.now()
	if wall <= c.last.WallMS {
		c.last.Logical++
	} else {
		c.last.WallMS = wall
		c.last.Logical = 0
	}
	c.last.SID = c.sid

	return c.last
}

// Observe folds a Stamp learned from a remote peer (e.g. during burst or
// merge) into the clock so a subsequent local Next() never regresses behind
// a timestamp this server has already seen, matching the standard HLC
// receive rule.
func (c *Clock) Observe(remote Stamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remote.WallMS > c.last.WallMS {
		c.last.WallMS = remote.WallMS
		c.last.Logical = remote.Logical
	} else if remote.WallMS == c.last.WallMS && remote.Logical > c.last.Logical {
		c.last.Logical = remote.Logical
	}
}
