/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"github.com/hearthwire/dircd/internal/channelactor"
	"github.com/hearthwire/dircd/internal/identity"
)

// channelUserContext builds the channelactor.UserContext a channel actor
// needs to evaluate bans, mode gates and privilege checks for the
// session behind ctx, generalizing channel.go's direct *User field reads
// (the old Channel methods took a *User pointer) into the narrower
// value type the actor package exposes across its API.
func channelUserContext(ctx *Context) channelactor.UserContext {
	uid := ctx.Session.UID()
	rec, ok := ctx.Matrix.Index.Record(uid)
	if !ok {
		return channelactor.UserContext{UID: uid, Nick: ctx.Session.Nick(), Username: ctx.Session.Username()}
	}
	snap := rec.Snapshot()
	host := snap.VisHost
	if host == "" {
		host = snap.Host
	}
	return channelactor.UserContext{
		UID:        uid,
		Nick:       snap.Nick,
		Username:   snap.Username,
		Host:       host,
		IP:         snap.IP,
		Account:    snap.Account,
		Registered: snap.Account != "",
		TLS:        ctx.Session.TLS(),
		Oper:       snap.Modes&identity.UModeOper != 0,
		Caps:       snap.Caps,
	}
}

// userContextFor builds the same UserContext for an arbitrary UID, used
// by the SAJOIN/SAPART paths where the acting session and the user being
// moved are different people. The TLS flag comes from the record's cert
// fingerprint presence since the target's session isn't in hand here.
func userContextFor(m *Matrix, uid identity.UID) (channelactor.UserContext, bool) {
	rec, ok := m.Index.Record(uid)
	if !ok {
		return channelactor.UserContext{}, false
	}
	snap := rec.Snapshot()
	host := snap.VisHost
	if host == "" {
		host = snap.Host
	}
	return channelactor.UserContext{
		UID:        uid,
		Nick:       snap.Nick,
		Username:   snap.Username,
		Host:       host,
		IP:         snap.IP,
		Account:    snap.Account,
		Registered: snap.Account != "",
		TLS:        snap.TLSFp != "",
		Oper:       snap.Modes&identity.UModeOper != 0,
		Caps:       snap.Caps,
	}, true
}
