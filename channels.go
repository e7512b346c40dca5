/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"github.com/sourcegraph/conc"

	"github.com/hearthwire/dircd/internal/channelactor"
	"github.com/hearthwire/dircd/internal/clock"
	"github.com/hearthwire/dircd/internal/concurrentmap"
	"github.com/hearthwire/dircd/internal/effects"
	"github.com/hearthwire/dircd/internal/identity"
)

// ChannelRegistry is C2's index: the case-folded-name-to-Actor map that
// chan_map.go's ChanMap provided for the old lock-guarded Channel type,
// generalized to spawn and reap channelactor.Actor goroutines instead of
// just storing structs. One instance lives on Matrix.
type ChannelRegistry struct {
	actors concurrentmap.ConcurrentMap[string, *channelactor.Actor]
	wg     *conc.WaitGroup
	clock  *clock.Clock
}

// NewChannelRegistry builds an empty registry backed by wg for actor
// goroutine lifecycle and clk for stamping newly-created channels.
func NewChannelRegistry(wg *conc.WaitGroup, clk *clock.Clock) *ChannelRegistry {
	return &ChannelRegistry{
		actors: concurrentmap.New[string, *channelactor.Actor](),
		wg:     wg,
		clock:  clk,
	}
}

// Lookup satisfies effects.ChannelLookup: it returns the live actor for a
// case-folded channel name, or false if the channel doesn't currently
// exist. netsplit.Controller takes a plain func(string) (*Actor, bool)
// instead (see Find), since its ChannelLookup type predates this
// registry and was grounded directly on *channelactor.Actor rather than
// an interface.
func (r *ChannelRegistry) Lookup(foldedName string) (effects.ChannelActor, bool) {
	a, ok := r.actors.Get(foldedName)
	if !ok {
		return nil, false
	}
	return a, true
}

// GetOrSpawn returns the existing actor for name, or spawns a fresh one
// (registering its removal hook so an empty, non-permanent channel reaps
// itself) if none exists yet. This is JOIN's entry point into C2,
// generalizing chan_map.go's Add-on-first-join behavior.
func (r *ChannelRegistry) GetOrSpawn(name string) *channelactor.Actor {
	folded := identity.FoldNick(name)
	if a, ok := r.actors.Get(folded); ok {
		return a
	}

	ch := channelactor.NewChannel(name, folded, r.clock.Next())
	actor := channelactor.Spawn(r.wg, ch, r.onEmpty)

	if !r.actors.SetIfAbsent(folded, actor) {
		// Lost the race to spawn against a concurrent first-joiner;
		// close the loser and use the winner instead.
		actor.Close()
		winner, _ := r.actors.Get(folded)
		return winner
	}
	return actor
}

// Find returns the actor for a case-folded name without spawning one.
func (r *ChannelRegistry) Find(foldedName string) (*channelactor.Actor, bool) {
	return r.actors.Get(foldedName)
}

// Names returns every currently live channel's folded name, for LIST.
func (r *ChannelRegistry) Names() []string {
	return r.actors.Keys()
}

func (r *ChannelRegistry) onEmpty(foldedName string) {
	r.actors.DeleteIf(foldedName, func(a *channelactor.Actor) bool { return true })
}
