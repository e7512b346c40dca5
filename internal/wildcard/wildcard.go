/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

// Package wildcard implements IRC-style mask matching (`*` and `?`) used
// for ban/exception/silence list comparisons against a hostmask. Spec
// leaves the exact algorithm as an open question; this module resolves it
// with an iterative backtracking matcher (no regexp compilation per
// comparison, which matters since ban checks run on every JOIN and
// MESSAGE).
package wildcard

import "strings"

// Match reports whether s matches pattern, where '*' matches any run of
// characters (including empty) and '?' matches exactly one character.
// Matching is case-insensitive, matching IRC hostmask comparison semantics.
func Match(pattern, s string) bool {
	pattern = strings.ToLower(pattern)
	s = strings.ToLower(s)
	return match(pattern, s)
}

func match(pattern, s string) bool {
	var pIdx, sIdx int
	var starIdx, matchIdx = -1, 0

	for sIdx < len(s) {
		switch {
		case pIdx < len(pattern) && (pattern[pIdx] == '?' || pattern[pIdx] == s[sIdx]):
			pIdx++
			sIdx++
		case pIdx < len(pattern) && pattern[pIdx] == '*':
			starIdx = pIdx
			matchIdx = sIdx
			pIdx++
		case starIdx != -1:
			pIdx = starIdx + 1
			matchIdx++
			sIdx = matchIdx
		default:
			return false
		}
	}

	for pIdx < len(pattern) && pattern[pIdx] == '*' {
		pIdx++
	}

	return pIdx == len(pattern)
}
