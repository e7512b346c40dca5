/*
   Copyright (c) 2023, btnmasher
   All rights reserved.

   Redistribution and use in source and binary forms, with or without modification, are permitted provided that
   the following conditions are met:

   1. Redistributions of source code must retain the above copyright notice, this list of conditions and the
      following disclaimer.

   2. Redistributions in binary form must reproduce the above copyright notice, this list of conditions and
      the following disclaimer in the documentation and/or other materials provided with the distribution.

   3. Neither the name of the copyright holder nor the names of its contributors may be used to endorse or
      promote products derived from this software without specific prior written permission.

   THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED
   WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A
   PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE FOR
   ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED
   TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION)
   HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
   NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
   POSSIBILITY OF SUCH DAMAGE.
*/

// Package stringutils holds small formatting helpers shared by the numeric
// reply builders (NAMES/WHO/WHOWAS lists wrapped at the 512-byte line
// limit).
package stringutils

import "strings"

// ChunkJoinStrings greedily packs params into the fewest chunk strings,
// joined by sep, such that no chunk's rendered length exceeds maxlength.
// Used to wrap long NAMES/WHO replies across multiple numeric lines the
// way a client expects, instead of emitting one line that exceeds the
// protocol's message length limit.
func ChunkJoinStrings(maxlength int, sep string, params ...string) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, p := range params {
		switch {
		case current.Len() == 0:
			current.WriteString(p)
		case current.Len()+len(sep)+len(p) <= maxlength:
			current.WriteString(sep)
			current.WriteString(p)
		default:
			flush()
			current.WriteString(p)
		}
	}
	flush()

	return chunks
}

// ChunkJoin is a convenience wrapper over ChunkJoinStrings for callers that
// already hold their params as a slice (reply builders iterating a channel's
// nick list) instead of a variadic call site.
func ChunkJoin(maxlength int, sep string, params []string) []string {
	return ChunkJoinStrings(maxlength, sep, params...)
}
