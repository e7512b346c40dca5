/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import "github.com/hearthwire/dircd/internal/concurrentmap"

// SessionHandle is the narrow surface the matrix needs against a live
// connection: non-blocking delivery (channelactor.Mailbox/effects.Deliverer)
// plus a way to force it closed (effects.Disconnector, KILL, SQUIT
// fanout). *session.Session satisfies this without either package
// depending on the other.
type SessionHandle interface {
	Deliver(line []byte) bool
	Kill()
}

// SessionRegistry maps a session id to its live handle, generalizing
// conn_map.go's ConnMap from *Conn to the narrower SessionHandle interface
// so the matrix layer never reaches past it into session-internal state.
type SessionRegistry struct {
	byID concurrentmap.ConcurrentMap[string, SessionHandle]
}

// NewSessionRegistry builds an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{byID: concurrentmap.New[string, SessionHandle]()}
}

// Register records a newly-accepted session under id.
func (r *SessionRegistry) Register(id string, handle SessionHandle) {
	r.byID.Set(id, handle)
}

// Unregister drops id, called once a session's loops have exited.
func (r *SessionRegistry) Unregister(id string) {
	r.byID.Delete(id)
}

// Get returns the handle registered for id.
func (r *SessionRegistry) Get(id string) (SessionHandle, bool) {
	return r.byID.Get(id)
}

// Count returns the number of currently registered sessions (including
// ones mid-registration, unlike Index.Count which only counts claimed
// identities).
func (r *SessionRegistry) Count() int {
	return r.byID.Length()
}
