/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package itempool

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

type mockItem struct {
	value int
	data  []int
}

func (i *mockItem) Scrub() {
	i.value = 0
	i.data = nil
}

func initItem() *mockItem {
	return &mockItem{
		data: make([]int, rand.Intn(100)),
	}
}

func TestItemPool(t *testing.T) {
	cases := []struct {
		num   int
		value int
	}{
		{10, 0},
		{20, 0},
		{30, 0},
	}

	for _, tc := range cases {
		pool := New[*mockItem](100, initItem)
		pool.Warmup(tc.num)
		assert.Equal(t, tc.num, pool.Len())

		for i := 0; i < tc.num; i++ {
			item := pool.New()
			if item.value != tc.value {
				t.Errorf("expected item value %d, got %d", tc.value, item.value)
			}

			item.value = rand.Intn(100)

			pool.Recycle(item)

			assert.Equal(t, 0, item.value)
			assert.Len(t, item.data, 0)
			assert.Nil(t, item.data)
		}
	}
}

func TestItemPoolOverflowDropped(t *testing.T) {
	pool := New[*mockItem](2, initItem)
	a, b, c := pool.New(), pool.New(), pool.New()

	pool.Recycle(a)
	pool.Recycle(b)
	pool.Recycle(c)

	assert.Equal(t, 2, pool.Len())
}
