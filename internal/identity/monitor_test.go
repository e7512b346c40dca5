/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorWatchAndWatchersOf(t *testing.T) {
	mon := NewMonitorTable(4)
	gen := NewUIDGenerator("001")
	a, b := gen.Next(), gen.Next()

	require.True(t, mon.Watch(a, "Carol"))
	require.True(t, mon.Watch(b, "carol"))

	watchers := mon.WatchersOf("CAROL")
	assert.ElementsMatch(t, []UID{a, b}, watchers)
}

func TestMonitorLimit(t *testing.T) {
	mon := NewMonitorTable(2)
	gen := NewUIDGenerator("001")
	a := gen.Next()

	require.True(t, mon.Watch(a, "one"))
	require.True(t, mon.Watch(a, "two"))
	assert.False(t, mon.Watch(a, "three"))

	// Re-watching an existing target never trips the limit.
	assert.True(t, mon.Watch(a, "ONE"))
}

func TestMonitorUnwatchAndClear(t *testing.T) {
	mon := NewMonitorTable(4)
	gen := NewUIDGenerator("001")
	a, b := gen.Next(), gen.Next()

	require.True(t, mon.Watch(a, "Carol"))
	require.True(t, mon.Watch(a, "Dave"))
	require.True(t, mon.Watch(b, "Carol"))

	mon.Unwatch(a, "carol")
	assert.ElementsMatch(t, []UID{b}, mon.WatchersOf("Carol"))
	assert.ElementsMatch(t, []string{"Dave"}, mon.List(a))

	mon.Clear(b)
	assert.Empty(t, mon.WatchersOf("Carol"))
	assert.Empty(t, mon.List(b))
}

func TestMonitorListKeepsDisplayCase(t *testing.T) {
	mon := NewMonitorTable(4)
	gen := NewUIDGenerator("001")
	a := gen.Next()

	require.True(t, mon.Watch(a, "CaRoL"))
	assert.Equal(t, []string{"CaRoL"}, mon.List(a))
}
