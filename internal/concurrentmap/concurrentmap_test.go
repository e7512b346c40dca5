/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package concurrentmap

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetDelete(t *testing.T) {
	cm := New[string, int]()

	cm.Set("a", 1)
	v, ok := cm.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.True(t, cm.Exists("a"))
	assert.True(t, cm.Delete("a"))
	assert.False(t, cm.Exists("a"))
	assert.False(t, cm.Delete("a"))
}

func TestSetIfAbsent(t *testing.T) {
	cm := New[string, string]()

	assert.True(t, cm.SetIfAbsent("nick", "001AAAAAC"))
	assert.False(t, cm.SetIfAbsent("nick", "001AAAAAD"))

	v, _ := cm.Get("nick")
	assert.Equal(t, "001AAAAAC", v)
}

func TestSetIfAbsentConcurrentSingleWinner(t *testing.T) {
	cm := New[string, int]()

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan int, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if cm.SetIfAbsent("contested", id) {
				wins <- id
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []int
	for id := range wins {
		winners = append(winners, id)
	}
	require.Len(t, winners, 1)

	v, _ := cm.Get("contested")
	assert.Equal(t, winners[0], v)
}

func TestDeleteIf(t *testing.T) {
	cm := New[string, string]()
	cm.Set("nick", "owner-a")

	assert.False(t, cm.DeleteIf("nick", func(v string) bool { return v == "owner-b" }))
	assert.True(t, cm.Exists("nick"))

	assert.True(t, cm.DeleteIf("nick", func(v string) bool { return v == "owner-a" }))
	assert.False(t, cm.Exists("nick"))
}

func TestChangeKey(t *testing.T) {
	cm := New[string, int]()
	cm.Set("old", 7)

	assert.True(t, cm.ChangeKey("old", "new"))
	assert.False(t, cm.Exists("old"))
	v, ok := cm.Get("new")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	assert.False(t, cm.ChangeKey("missing", "other"))
}

func TestKeysValuesAndLength(t *testing.T) {
	cm := New[string, int]()
	cm.Set("a", 1)
	cm.Set("b", 2)

	assert.Equal(t, 2, cm.Length())
	assert.ElementsMatch(t, []string{"a", "b"}, cm.Keys())
	assert.ElementsMatch(t, []int{1, 2}, cm.Values())

	cm.Clear()
	assert.Zero(t, cm.Length())
}

func TestForEachCollectsErrors(t *testing.T) {
	cm := New[string, int]()
	cm.Set("a", 1)
	cm.Set("b", 2)

	seen := 0
	err := cm.ForEach(func(_ string, _ int) error {
		seen++
		return errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, seen)
}
