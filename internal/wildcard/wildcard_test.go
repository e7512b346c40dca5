/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package wildcard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"*!*@evil.example", "alice!bob@evil.example", true},
		{"*!*@evil.example", "alice!bob@good.example", false},
		{"alice!*@*", "alice!bob@anywhere", true},
		{"a?ice!*@*", "alice!bob@anywhere", true},
		{"a?ice!*@*", "aliice!bob@anywhere", false},
		{"*", "anything at all", true},
		{"exact", "exact", true},
		{"exact", "different", false},
		{"*foo*bar*", "xxfooyybarzz", true},
		{"*foo*bar*", "xxbaryyfoozz", false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, Match(tc.pattern, tc.s), "pattern=%q s=%q", tc.pattern, tc.s)
	}
}

func TestMatchCaseInsensitive(t *testing.T) {
	assert.True(t, Match("NICK!*@*", "nick!user@host"))
}
