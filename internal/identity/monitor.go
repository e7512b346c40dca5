/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package identity

import "sync"

// MonitorTable is the MONITOR watcher registry: which sessions want
// online/offline notifications for which nicks. Targets are tracked by
// folded nick (a watch survives the watched user connecting,
// disconnecting, and reconnecting), so this lives beside the Index
// rather than on individual UserRecords, which are destroyed on QUIT.
type MonitorTable struct {
	mu       sync.Mutex
	limit    int
	watchers map[string]map[UID]struct{} // folded nick -> watcher UIDs
	watched  map[UID]map[string]string   // watcher UID -> folded nick -> display form
}

// NewMonitorTable builds an empty table; limit caps the per-watcher
// target count (the MONITOR=<n> ISUPPORT value).
func NewMonitorTable(limit int) *MonitorTable {
	if limit <= 0 {
		limit = 100
	}
	return &MonitorTable{
		limit:    limit,
		watchers: make(map[string]map[UID]struct{}),
		watched:  make(map[UID]map[string]string),
	}
}

// Watch adds nick to watcher's target set, reporting false when the
// watcher is already at the limit (the caller answers ERR_MONLISTFULL).
func (t *MonitorTable) Watch(watcher UID, nick string) bool {
	folded := FoldNick(nick)
	t.mu.Lock()
	defer t.mu.Unlock()

	targets := t.watched[watcher]
	if targets == nil {
		targets = make(map[string]string)
		t.watched[watcher] = targets
	}
	if _, already := targets[folded]; !already && len(targets) >= t.limit {
		return false
	}
	targets[folded] = nick

	set := t.watchers[folded]
	if set == nil {
		set = make(map[UID]struct{})
		t.watchers[folded] = set
	}
	set[watcher] = struct{}{}
	return true
}

// Unwatch removes nick from watcher's target set.
func (t *MonitorTable) Unwatch(watcher UID, nick string) {
	folded := FoldNick(nick)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropLocked(watcher, folded)
}

// Clear removes every target watcher has, used for MONITOR C and when
// the watching session disconnects.
func (t *MonitorTable) Clear(watcher UID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for folded := range t.watched[watcher] {
		t.dropLocked(watcher, folded)
	}
	delete(t.watched, watcher)
}

func (t *MonitorTable) dropLocked(watcher UID, folded string) {
	if targets := t.watched[watcher]; targets != nil {
		delete(targets, folded)
	}
	if set := t.watchers[folded]; set != nil {
		delete(set, watcher)
		if len(set) == 0 {
			delete(t.watchers, folded)
		}
	}
}

// List returns watcher's targets in the display form they were added with.
func (t *MonitorTable) List(watcher UID) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.watched[watcher]))
	for _, display := range t.watched[watcher] {
		out = append(out, display)
	}
	return out
}

// WatchersOf returns every UID watching nick.
func (t *MonitorTable) WatchersOf(nick string) []UID {
	folded := FoldNick(nick)
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]UID, 0, len(t.watchers[folded]))
	for uid := range t.watchers[folded] {
		out = append(out, uid)
	}
	return out
}
