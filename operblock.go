/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"sync"

	"github.com/hearthwire/dircd/internal/capauth"
	"github.com/hearthwire/dircd/internal/storage"
)

// OperBlock is one configured OPER login: a name, a password verifier
// checked the same way SASL PLAIN checks an account password, and the
// capauth.Permission level granted on success. permissions.go's old
// UPermNone..UPermServer ladder generalizes directly onto
// capauth.Permission, so this is the config-time binding between a login
// name and that ladder, since C4 itself only ever sees the already-decided
// Permission of a request's subject.
type OperBlock struct {
	Name     string
	Verifier storage.AccountVerifier
	Perm     capauth.Permission
}

// OperTable is the in-memory set of configured opers, keyed by login name.
// It generalizes the ircd.conf operator{} block every RFC-descended
// daemon reads at startup into a small Go map a binary populates via
// WithOper before Serve.
type OperTable struct {
	mu    sync.RWMutex
	table map[string]OperBlock
}

// NewOperTable builds an empty table.
func NewOperTable() *OperTable {
	return &OperTable{table: make(map[string]OperBlock)}
}

// Add registers or replaces the oper login name.
func (t *OperTable) Add(block OperBlock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.table[block.Name] = block
}

// Lookup returns the configured block for name, if any.
func (t *OperTable) Lookup(name string) (OperBlock, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.table[name]
	return b, ok
}
