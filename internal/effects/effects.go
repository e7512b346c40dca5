/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

// Package effects implements the service effect applier (C5): NickServ,
// ChanServ and every other service command dispatcher return an ordered
// list of typed Effects instead of mutating state directly, and a single
// Applier consumes the list, invoking the right C1/C2 calls. Effects
// carry already-rendered wire lines — this package has no numeric/reply
// builder of its own, matching how internal/channelactor's Join/Part/Kick
// take pre-rendered lines rather than building them.
package effects

import (
	"fmt"

	"github.com/hearthwire/dircd/internal/channelactor"
	"github.com/hearthwire/dircd/internal/clock"
	"github.com/hearthwire/dircd/internal/identity"
)

// Effect is the closed set of service-applied mutations a ChanServ/
// NickServ-style service can request of the core.
type Effect interface {
	isEffect()
}

// ReplyEffect routes a pre-rendered line to target's mailbox.
type ReplyEffect struct {
	Target identity.UID
	Line   []byte
}

func (ReplyEffect) isEffect() {}

// AccountIdentifyEffect sets the account, flips the Registered user mode,
// clears any pending enforce timer, and broadcasts ACCOUNT/MODE lines.
type AccountIdentifyEffect struct {
	UID         identity.UID
	Account     string
	Stamp       clock.Stamp
	ModeLine    []byte // delivered to UID directly (MODE +r self-notice)
	AccountLine []byte // broadcast to shared channels and account-notify watchers
}

func (AccountIdentifyEffect) isEffect() {}

// AccountClearEffect is the inverse of AccountIdentifyEffect.
type AccountClearEffect struct {
	UID         identity.UID
	Stamp       clock.Stamp
	ModeLine    []byte
	AccountLine []byte
}

func (AccountClearEffect) isEffect() {}

// ClearEnforceTimerEffect drops a pending enforce-on-expiry entry without
// touching anything else (used when a nick-enforced user identifies
// through a path that doesn't also run AccountIdentifyEffect).
type ClearEnforceTimerEffect struct {
	UID identity.UID
}

func (ClearEnforceTimerEffect) isEffect() {}

// KillEffect disconnects uid, recording reason as attributed to killer.
type KillEffect struct {
	UID      identity.UID
	Killer   identity.UID
	Reason   string
	Stamp    clock.Stamp
	QuitLine []byte // delivered to every channel uid was in, and to uid itself if still reachable
}

func (KillEffect) isEffect() {}

// KickEffect removes target from channel with force=true, bypassing the
// normal op-check gate (the capability authority already cleared this).
type KickEffect struct {
	Channel string
	Kicker  channelactor.UserContext
	Target  identity.UID
	Reason  string
	Line    []byte
}

func (KickEffect) isEffect() {}

// ChannelModeEffect applies a single forced mode change to channel.
type ChannelModeEffect struct {
	Channel string
	Setter  channelactor.UserContext
	Change  channelactor.ModeChange
	Stamp   clock.Stamp
}

func (ChannelModeEffect) isEffect() {}

// ForceNickEffect performs the atomic nick-index swap and broadcasts NICK
// to every channel uid is joined to.
type ForceNickEffect struct {
	UID     identity.UID
	OldNick string
	NewNick string
	Stamp   clock.Stamp
	Line    []byte
}

func (ForceNickEffect) isEffect() {}

// BroadcastAccountEffect emits an ACCOUNT line to every channel uid shares
// with a watcher, filtered by the account-notify capability.
type BroadcastAccountEffect struct {
	UID         identity.UID
	AccountName string // "*" when clearing
	Line        []byte
	RequiredCap identity.CapSet
}

func (BroadcastAccountEffect) isEffect() {}

// Deliverer routes a rendered line to a single user's mailbox, local or
// (eventually) remote via S2S; the applier never needs to know which.
type Deliverer interface {
	Deliver(uid identity.UID, line []byte) bool
}

// Disconnector tears down the session behind uid, attributing the
// disconnect to reason. It's a collaborator interface because C5 has no
// notion of a network connection; the session layer supplies it.
type Disconnector interface {
	Disconnect(uid identity.UID, reason string)
}

// ChannelActor is the subset of *channelactor.Actor the applier drives.
type ChannelActor interface {
	Kick(kicker channelactor.UserContext, target identity.UID, reason string, force bool, kickMsg []byte) channelactor.KickResult
	ApplyModes(changes []channelactor.ModeChange, setter channelactor.UserContext, force bool, stamp clock.Stamp) channelactor.ApplyModesResult
	NickChange(uid identity.UID, newNick string, stamp clock.Stamp)
	Broadcast(line []byte, exclude identity.UID)
	BroadcastWithCap(primaryLine, fallbackLine []byte, cap identity.CapSet, exclude identity.UID)
	Quit(uid identity.UID, quitMsg []byte)
}

// ChannelLookup resolves a case-folded channel name to its live actor.
type ChannelLookup interface {
	Lookup(foldedName string) (ChannelActor, bool)
}

// Applier dispatches Effects to C1 (identity.Index), C2 (channel actors),
// and the session layer (Deliverer/Disconnector).
type Applier struct {
	Index      *identity.Index
	Channels   ChannelLookup
	Mail       Deliverer
	Disconnect Disconnector
}

// Apply runs effs in order, stopping at the first failure. Effects carry
// no cross-list transactional semantics, so this applier is fail-fast rather than attempting partial rollback: each
// effect is individually near-idempotent (re-applying a KickEffect on an
// already-kicked target is a harmless no-op, for instance), so abandoning
// the remainder on error is safe and simpler than rollback bookkeeping.
func (a *Applier) Apply(effs []Effect) error {
	for i, e := range effs {
		if err := a.apply(e); err != nil {
			return fmt.Errorf("effect %d (%T): %w", i, e, err)
		}
	}
	return nil
}

func (a *Applier) apply(e Effect) error {
	switch ev := e.(type) {
	case ReplyEffect:
		a.Mail.Deliver(ev.Target, ev.Line)
		return nil

	case AccountIdentifyEffect:
		return a.applyAccountIdentify(ev)

	case AccountClearEffect:
		return a.applyAccountClear(ev)

	case ClearEnforceTimerEffect:
		a.Index.ClearEnforceTimer(ev.UID)
		return nil

	case KillEffect:
		return a.applyKill(ev)

	case KickEffect:
		return a.applyKick(ev)

	case ChannelModeEffect:
		return a.applyChannelMode(ev)

	case ForceNickEffect:
		return a.applyForceNick(ev)

	case BroadcastAccountEffect:
		return a.applyBroadcastAccount(ev)

	default:
		return fmt.Errorf("unknown effect type %T", e)
	}
}

func (a *Applier) applyAccountIdentify(ev AccountIdentifyEffect) error {
	rec, ok := a.Index.Record(ev.UID)
	if !ok {
		return fmt.Errorf("no such user %s", ev.UID)
	}
	rec.SetAccount(ev.Account, ev.Stamp)
	rec.AddMode(identity.UModeRegistered, ev.Stamp)
	a.Index.ClearEnforceTimer(ev.UID)

	if ev.ModeLine != nil {
		a.Mail.Deliver(ev.UID, ev.ModeLine)
	}
	a.broadcastToOwnChannels(rec, ev.AccountLine, identity.CapAccountNotify)
	return nil
}

func (a *Applier) applyAccountClear(ev AccountClearEffect) error {
	rec, ok := a.Index.Record(ev.UID)
	if !ok {
		return fmt.Errorf("no such user %s", ev.UID)
	}
	rec.SetAccount("", ev.Stamp)
	rec.DelMode(identity.UModeRegistered, ev.Stamp)

	if ev.ModeLine != nil {
		a.Mail.Deliver(ev.UID, ev.ModeLine)
	}
	a.broadcastToOwnChannels(rec, ev.AccountLine, identity.CapAccountNotify)
	return nil
}

func (a *Applier) applyKill(ev KillEffect) error {
	result, ok := a.Index.KillUser(ev.UID, ev.Stamp)
	if !ok {
		return fmt.Errorf("no such user %s", ev.UID)
	}

	for _, folded := range result.Channels {
		ch, found := a.Channels.Lookup(folded)
		if !found {
			continue
		}
		ch.Quit(ev.UID, ev.QuitLine)
	}

	if a.Disconnect != nil {
		a.Disconnect.Disconnect(ev.UID, ev.Reason)
	}
	return nil
}

func (a *Applier) applyKick(ev KickEffect) error {
	ch, ok := a.Channels.Lookup(identity.FoldNick(ev.Channel))
	if !ok {
		return fmt.Errorf("no such channel %s", ev.Channel)
	}
	res := ch.Kick(ev.Kicker, ev.Target, ev.Reason, true, ev.Line)
	if !res.OK {
		return fmt.Errorf("kick of %s in %s refused: %s", ev.Target, ev.Channel, res.Reason)
	}
	return nil
}

func (a *Applier) applyChannelMode(ev ChannelModeEffect) error {
	ch, ok := a.Channels.Lookup(identity.FoldNick(ev.Channel))
	if !ok {
		return fmt.Errorf("no such channel %s", ev.Channel)
	}
	ch.ApplyModes([]channelactor.ModeChange{ev.Change}, ev.Setter, true, ev.Stamp)
	return nil
}

func (a *Applier) applyForceNick(ev ForceNickEffect) error {
	result := a.Index.Rename(ev.UID, ev.OldNick, ev.NewNick, ev.Stamp)
	if result == identity.ClaimAlreadyInUse {
		return fmt.Errorf("nick %s already in use", ev.NewNick)
	}

	rec, ok := a.Index.Record(ev.UID)
	if !ok {
		return fmt.Errorf("no such user %s", ev.UID)
	}
	for _, folded := range rec.Channels() {
		ch, found := a.Channels.Lookup(folded)
		if !found {
			continue
		}
		ch.NickChange(ev.UID, ev.NewNick, ev.Stamp)
		ch.Broadcast(ev.Line, "")
	}
	return nil
}

func (a *Applier) applyBroadcastAccount(ev BroadcastAccountEffect) error {
	rec, ok := a.Index.Record(ev.UID)
	if !ok {
		return fmt.Errorf("no such user %s", ev.UID)
	}
	a.broadcastToOwnChannels(rec, ev.Line, ev.RequiredCap)
	return nil
}

func (a *Applier) broadcastToOwnChannels(rec *identity.UserRecord, line []byte, requiredCap identity.CapSet) {
	if line == nil {
		return
	}
	for _, folded := range rec.Channels() {
		ch, found := a.Channels.Lookup(folded)
		if !found {
			continue
		}
		ch.BroadcastWithCap(line, nil, requiredCap, "")
	}
}
