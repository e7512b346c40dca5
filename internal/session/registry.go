/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package session

import "fmt"

// HandlerFunc processes one command for a session in context C. The
// matrix package instantiates Registry[*matrix.Context] so handlers get
// access to the full Matrix without this package depending on it —
// generalizing router.go's MessageHandler func(*MessageContext) into a
// generic, state-keyed registry.
type HandlerFunc[C any] func(C)

// Registry dispatches by (State, command), so a handler registered only
// under StateRegistered is statically unreachable for an Unregistered
// session — no runtime "are we registered yet" guard is needed in the
// handler body the way handlers.go's RouteCommand required. This is the
// "three handler flavors keyed on (command, state-discriminant)" design
// spec §4.3/§9 calls for, replacing router.go's single flat
// map[string]HandlersChain with one keyed also on State.
type Registry[C any] struct {
	table map[State]map[string]HandlerFunc[C]
}

// NewRegistry builds an empty Registry.
func NewRegistry[C any]() *Registry[C] {
	return &Registry[C]{table: make(map[State]map[string]HandlerFunc[C])}
}

// Handle registers handler for command under state. Re-registering the
// same (state, command) pair panics, matching router.go's addHandler
// panic-on-duplicate behavior — a duplicate registration is a
// programmer error, never a runtime condition to recover from.
func (r *Registry[C]) Handle(state State, command string, handler HandlerFunc[C]) {
	if command == "" {
		panic("session: command must not be empty")
	}
	if handler == nil {
		panic("session: handler must not be nil")
	}
	bucket, ok := r.table[state]
	if !ok {
		bucket = make(map[string]HandlerFunc[C])
		r.table[state] = bucket
	}
	if _, exists := bucket[command]; exists {
		panic(fmt.Sprintf("session: handler already registered for state=%s command=%s", state, command))
	}
	bucket[command] = handler
}

// HandleAll registers handler for command under every state in states, a
// convenience for commands valid regardless of registration phase (PING,
// PONG, CAP, AUTHENTICATE mid-session, QUIT).
func (r *Registry[C]) HandleAll(states []State, command string, handler HandlerFunc[C]) {
	for _, st := range states {
		r.Handle(st, command, handler)
	}
}

// Dispatch looks up the handler for (state, command).
func (r *Registry[C]) Dispatch(state State, command string) (HandlerFunc[C], bool) {
	bucket, ok := r.table[state]
	if !ok {
		return nil, false
	}
	h, ok := bucket[command]
	return h, ok
}

// Commands returns every command registered under state, for
// introspection/diagnostics (e.g. advertising what's reachable pre- vs
// post-registration).
func (r *Registry[C]) Commands(state State) []string {
	bucket, ok := r.table[state]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(bucket))
	for cmd := range bucket {
		out = append(out, cmd)
	}
	return out
}
