/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

// Package crdt implements the merge primitives channel state is built from:
// last-writer-wins registers and booleans, add-wins sets keyed by mask, and
// a min-wins timestamp for channel creation time. These types model
// small self-contained values the way internal/clock.Stamp does:
// a constructor plus a narrow method set, nothing more.
package crdt

import "github.com/hearthwire/dircd/internal/clock"

// LWWRegister is a last-writer-wins register over any value, keyed by a
// hybrid timestamp. A channel delta carries the topic, the key, limit and
// forward parameter modes, and each member's status set as one of these.
type LWWRegister[T any] struct {
	Value T
	Stamp clock.Stamp
}

// NewLWWRegister builds a register with an initial value and stamp.
func NewLWWRegister[T any](value T, stamp clock.Stamp) LWWRegister[T] {
	return LWWRegister[T]{Value: value, Stamp: stamp}
}

// Merge returns the register that should win: the one with the later
// stamp, or r if the stamps are equal (idempotent under repeated merge of
// the same delta).
func (r LWWRegister[T]) Merge(other LWWRegister[T]) LWWRegister[T] {
	if other.Stamp.After(r.Stamp) {
		return other
	}
	return r
}

// Set unconditionally overwrites the register's value and stamp. Callers
// use this for local writes (a user actually typed /TOPIC); Merge is for
// reconciling a remote delta.
func (r *LWWRegister[T]) Set(value T, stamp clock.Stamp) {
	r.Value = value
	r.Stamp = stamp
}

// LWWBool is a last-writer-wins boolean, used for simple channel modes.
type LWWBool struct {
	Value bool
	Stamp clock.Stamp
}

// Merge resolves two LWWBool observations of the same logical flag.
func (b LWWBool) Merge(other LWWBool) LWWBool {
	if other.Stamp.After(b.Stamp) {
		return other
	}
	return b
}

// MinWinsStamp implements the channel-creation-timestamp merge rule: older
// (lexicographically smaller) always wins, unlike every other field in the
// model, matching TS6 "the network remembers who got here first".
func MinWinsStamp(a, b clock.Stamp) clock.Stamp {
	if b.Before(a) {
		return b
	}
	return a
}
