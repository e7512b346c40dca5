/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package identity

import (
	"sync"
	"time"

	"github.com/hearthwire/dircd/internal/clock"
	"github.com/hearthwire/dircd/internal/concurrentmap"
)

// ClaimResult is the outcome of Index.ClaimNick.
type ClaimResult int

const (
	// ClaimOK means the nick is now mapped to the requesting UID.
	ClaimOK ClaimResult = iota
	// ClaimAlreadyInUse means a different UID already holds the nick.
	ClaimAlreadyInUse
	// ClaimSameOwner means the requesting UID already held the nick
	// (tolerated for case-change or reconnect re-claims).
	ClaimSameOwner
)

// EnforceTimer is a pending enforce-on-expiry entry: a nick matching a
// registered account with the enforce flag was claimed by an
// unauthenticated user, so the user has until Deadline to identify before
// being forced off the nick.
type EnforceTimer struct {
	UID      UID
	Nick     string
	Deadline time.Time
}

// Index is the concurrent identity index (C1): nick/UID/session/account
// maps plus the WHOWAS ring and enforce-timer sweep. It generalizes
// chan_map.go/conn_map.go's hand-rolled map-with-mutex pattern into
// shared/concurrentmap's generic ConcurrentMap, one instance per index.
type Index struct {
	byUID     concurrentmap.ConcurrentMap[UID, *UserRecord]
	byNick    concurrentmap.ConcurrentMap[string, UID] // folded nick -> UID
	bySession concurrentmap.ConcurrentMap[string, UID] // session id -> UID
	byAccount concurrentmap.ConcurrentMap[string, UID] // folded account -> UID

	whowasMu  sync.Mutex
	whowas    []WhowasEntry
	whowasCap int
	whowasPos int

	timersMu sync.Mutex
	timers   map[UID]EnforceTimer
}

// NewIndex builds an empty Index with the given WHOWAS ring capacity.
func NewIndex(whowasCap int) *Index {
	if whowasCap <= 0 {
		whowasCap = 1
	}
	return &Index{
		byUID:     concurrentmap.New[UID, *UserRecord](),
		byNick:    concurrentmap.New[string, UID](),
		bySession: concurrentmap.New[string, UID](),
		byAccount: concurrentmap.New[string, UID](),
		whowas:    make([]WhowasEntry, 0, whowasCap),
		whowasCap: whowasCap,
		timers:    make(map[UID]EnforceTimer),
	}
}

// ClaimNick attempts to atomically map nick to uid. A re-claim by the same
// UID (case change, reconnect) succeeds and reports ClaimSameOwner instead
// of failing — the map's Set would otherwise silently let a second UID
// steal an in-use nick, which is why this uses SetIfAbsent rather than Set.
func (idx *Index) ClaimNick(uid UID, nick string) ClaimResult {
	folded := FoldNick(nick)

	if existing, ok := idx.byNick.Get(folded); ok {
		if existing == uid {
			return ClaimSameOwner
		}
		return ClaimAlreadyInUse
	}

	if idx.byNick.SetIfAbsent(folded, uid) {
		return ClaimOK
	}
	// Lost the race between the Get and SetIfAbsent above; re-check who
	// won it.
	if winner, ok := idx.byNick.Get(folded); ok && winner == uid {
		return ClaimSameOwner
	}
	return ClaimAlreadyInUse
}

// ReleaseNick frees nick iff it's still held by uid, used when a user
// changes nick or disconnects so a concurrent claim_nick for the old nick
// by a third party can't be clobbered by a stale release.
func (idx *Index) ReleaseNick(uid UID, nick string) bool {
	folded := FoldNick(nick)
	return idx.byNick.DeleteIf(folded, func(held UID) bool { return held == uid })
}

// Rename performs the atomic nick-index swap a NICK change or a
// ForceNick service effect needs: claim newNick first so a concurrent
// claimant can't slip into the gap between release and claim, then
// release oldNick and update the record's cached nick. If newNick is
// already held by someone else, nothing is changed.
func (idx *Index) Rename(uid UID, oldNick, newNick string, ts clock.Stamp) ClaimResult {
	result := idx.ClaimNick(uid, newNick)
	if result == ClaimAlreadyInUse {
		return result
	}

	// A case-only change maps to the same folded key; releasing it here
	// would delete the entry just claimed.
	if FoldNick(oldNick) != FoldNick(newNick) {
		idx.ReleaseNick(uid, oldNick)
	}

	if rec, ok := idx.byUID.Get(uid); ok {
		rec.setNick(newNick, ts)
	}
	return result
}

// Resolve maps a nick to its current UID, if claimed.
func (idx *Index) Resolve(nick string) (UID, bool) {
	return idx.byNick.Get(FoldNick(nick))
}

// ResolveAccount maps a case-folded account name to the UID currently
// signed in under it, if any local session is.
func (idx *Index) ResolveAccount(account string) (UID, bool) {
	return idx.byAccount.Get(FoldAccount(account))
}

// ResolveSession maps a session id to its owning UID.
func (idx *Index) ResolveSession(sessionID string) (UID, bool) {
	return idx.bySession.Get(sessionID)
}

// Lookup returns an immutable snapshot of the user identified by uid.
func (idx *Index) Lookup(uid UID) (Snapshot, bool) {
	rec, ok := idx.byUID.Get(uid)
	if !ok {
		return Snapshot{}, false
	}
	return rec.Snapshot(), true
}

// Record returns the live *UserRecord for uid, for callers (handlers,
// C5 effects) that need to mutate it rather than read a snapshot.
func (idx *Index) Record(uid UID) (*UserRecord, bool) {
	return idx.byUID.Get(uid)
}

// RegisterSession inserts a newly registered user into every index: UID,
// nick, session, and (if already authenticated, e.g. SASL during
// registration) account.
func (idx *Index) RegisterSession(rec *UserRecord, sessionID string) {
	rec.SetSessionID(sessionID)
	idx.byUID.Set(rec.UID(), rec)
	idx.byNick.Set(FoldNick(rec.Nick()), rec.UID())
	idx.bySession.Set(sessionID, rec.UID())
	if account := rec.Account(); account != "" {
		idx.byAccount.Set(FoldAccount(account), rec.UID())
	}
}

// RegisterRemote indexes a user introduced over S2S (a burst UID line or
// a post-burst introduction): UID, nick, and account, but no session —
// a remote user has no locally-reachable session id, and bySession must
// stay keyed by genuine session ids only, since two remote users would
// otherwise collide on the same empty key.
func (idx *Index) RegisterRemote(rec *UserRecord) {
	idx.byUID.Set(rec.UID(), rec)
	idx.byNick.Set(FoldNick(rec.Nick()), rec.UID())
	if account := rec.Account(); account != "" {
		idx.byAccount.Set(FoldAccount(account), rec.UID())
	}
}

// ForgetSession removes the session mapping for uid without touching the
// nick or account indices, used when a session is replaced (e.g.
// always-on reattach) but the identity persists.
func (idx *Index) ForgetSession(uid UID) {
	rec, ok := idx.byUID.Get(uid)
	if !ok {
		return
	}
	idx.bySession.Delete(rec.SessionID())
	rec.SetSessionID("")
}

// IdentifyAccount records that uid has signed into account, indexing it so
// ResolveAccount can find the session and so KillUser/WHOWAS carry it.
func (idx *Index) IdentifyAccount(uid UID, account string, ts clock.Stamp) {
	rec, ok := idx.byUID.Get(uid)
	if !ok {
		return
	}
	rec.SetAccount(account, ts)
	if account != "" {
		idx.byAccount.Set(FoldAccount(account), uid)
		// Signing in satisfies whatever enforce deadline was pending.
		idx.ClearEnforceTimer(uid)
	}
}

// KillResult is returned by KillUser: the disposed snapshot plus the set of
// folded channel names the user was a member of, so the caller (matrix) can
// forward the already-built QUIT to each channel actor and notify MONITOR
// watchers. C1 never calls into C2 directly — channel fanout is the
// caller's job, keeping this package leaf-level per the component layout.
type KillResult struct {
	Snapshot Snapshot
	Channels []string
}

// KillUser removes uid from every index, records a WHOWAS entry, and
// returns the channels it must be parted from. It is a no-op returning
// ok=false if uid isn't currently indexed (double-kill race).
func (idx *Index) KillUser(uid UID, ts clock.Stamp) (result KillResult, ok bool) {
	rec, exists := idx.byUID.Get(uid)
	if !exists {
		return KillResult{}, false
	}

	snap := rec.Snapshot()

	idx.byUID.Delete(uid)
	idx.byNick.DeleteIf(FoldNick(snap.Nick), func(held UID) bool { return held == uid })
	if snap.SessionID != "" {
		idx.bySession.Delete(snap.SessionID)
	}
	if snap.Account != "" {
		idx.byAccount.DeleteIf(FoldAccount(snap.Account), func(held UID) bool { return held == uid })
	}

	idx.timersMu.Lock()
	delete(idx.timers, uid)
	idx.timersMu.Unlock()

	idx.recordWhowas(snap, ts)

	return KillResult{Snapshot: snap, Channels: snap.Channels}, true
}

func (idx *Index) recordWhowas(snap Snapshot, ts clock.Stamp) {
	idx.whowasMu.Lock()
	defer idx.whowasMu.Unlock()

	entry := WhowasEntry{
		UID:        snap.UID,
		Nick:       snap.Nick,
		Username:   snap.Username,
		Realname:   snap.Realname,
		Host:       snap.Host,
		Hostmask:   snap.Nick + "!" + snap.Username + "@" + snap.Host,
		Account:    snap.Account,
		DisposedAt: ts,
	}

	if len(idx.whowas) < idx.whowasCap {
		idx.whowas = append(idx.whowas, entry)
		return
	}
	idx.whowas[idx.whowasPos] = entry
	idx.whowasPos = (idx.whowasPos + 1) % idx.whowasCap
}

// Whowas returns every retained entry for the given nick, most recent
// first.
func (idx *Index) Whowas(nick string) []WhowasEntry {
	folded := FoldNick(nick)
	idx.whowasMu.Lock()
	defer idx.whowasMu.Unlock()

	var out []WhowasEntry
	for i := len(idx.whowas) - 1; i >= 0; i-- {
		if FoldNick(idx.whowas[i].Nick) == folded {
			out = append(out, idx.whowas[i])
		}
	}
	return out
}

// SetEnforceTimer schedules a nick-enforcement deadline for uid, used when
// an unauthenticated user claims a nick matching a registered, enforced
// account.
func (idx *Index) SetEnforceTimer(uid UID, nick string, deadline time.Time) {
	idx.timersMu.Lock()
	defer idx.timersMu.Unlock()
	idx.timers[uid] = EnforceTimer{UID: uid, Nick: nick, Deadline: deadline}
}

// ClearEnforceTimer cancels a pending enforcement, e.g. because the user
// identified before the deadline.
func (idx *Index) ClearEnforceTimer(uid UID) {
	idx.timersMu.Lock()
	defer idx.timersMu.Unlock()
	delete(idx.timers, uid)
}

// ExpiredTimers returns (and clears) every enforce timer whose deadline has
// passed as of now. Callers run this on a poll interval and force a nick
// change for each UID returned.
func (idx *Index) ExpiredTimers(now time.Time) []EnforceTimer {
	idx.timersMu.Lock()
	defer idx.timersMu.Unlock()

	var expired []EnforceTimer
	for uid, t := range idx.timers {
		if !now.Before(t.Deadline) {
			expired = append(expired, t)
			delete(idx.timers, uid)
		}
	}
	return expired
}

// Count returns the number of currently indexed users, for the
// connected-user metric.
func (idx *Index) Count() int {
	return idx.byUID.Length()
}

// UIDsBySID returns every currently indexed UID whose SID prefix matches
// sid, used by netsplit handling to find the set of users a dead link
// disconnected without the caller needing its own UID index.
func (idx *Index) UIDsBySID(sid string) []UID {
	var out []UID
	idx.byUID.ForEach(func(uid UID, _ *UserRecord) error {
		if uid.SID() == sid {
			out = append(out, uid)
		}
		return nil
	})
	return out
}

// SnapshotsBySID returns a Snapshot of every currently indexed user whose
// UID carries the given SID, used by burst generation to emit one UID
// line per locally-owned user without the caller needing its own index.
func (idx *Index) SnapshotsBySID(sid string) []Snapshot {
	var out []Snapshot
	idx.byUID.ForEach(func(uid UID, rec *UserRecord) error {
		if uid.SID() == sid {
			out = append(out, rec.Snapshot())
		}
		return nil
	})
	return out
}
