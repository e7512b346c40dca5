/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected error
	}{
		{
			name:     "valid message",
			input:    "PRIVMSG nick1 :I am the client\r\n",
			expected: nil,
		},
		{
			name:     "too many parameters",
			input:    "PRIVMSG 1 2 3 4 5 6 7 8 9 10 11 12 13 14 15 16 :I am the client\r\n",
			expected: ErrTooManyParams,
		},
		{
			name:     "client prefixed",
			input:    ":prefix PRIVMSG nick1 :I am the client\r\n",
			expected: ErrPrefixed,
		},
		{
			name:     "too long",
			input:    strings.Repeat("a", MaxMsgLength+1),
			expected: ErrDataTooLong,
		},
		{
			name:     "all whitespace",
			input:    "   \r\n",
			expected: ErrWhitespace,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse(tt.input)
			assert.Equal(t, tt.expected, err)
			if msg != nil {
				Pool.Recycle(msg)
			}
		})
	}
}

func TestParseFields(t *testing.T) {
	msg, err := Parse("privmsg #chan other :hello world\r\n")
	require.NoError(t, err)
	defer Pool.Recycle(msg)

	assert.Equal(t, CmdPrivMsg, msg.Command)
	assert.Equal(t, []string{"#chan", "other"}, msg.Params)
	assert.Equal(t, "hello world", msg.Text)
}

func TestParseColonInsideMiddleParam(t *testing.T) {
	// A colon not preceded by a space is part of the parameter, not a
	// trailing marker.
	msg, err := Parse("JOIN #a:b\r\n")
	require.NoError(t, err)
	defer Pool.Recycle(msg)

	assert.Equal(t, []string{"#a:b"}, msg.Params)
	assert.Empty(t, msg.Text)
}

func TestParseTags(t *testing.T) {
	msg, err := Parse("@label=abc;+draft/reply PRIVMSG #chan :hi\r\n")
	require.NoError(t, err)
	defer Pool.Recycle(msg)

	assert.Equal(t, "abc", msg.Tags["label"])
	_, present := msg.Tags["+draft/reply"]
	assert.True(t, present)
}

func TestParseTagValueUnescaping(t *testing.T) {
	msg, err := Parse("@k=a\\sb\\:c PRIVMSG #chan :hi\r\n")
	require.NoError(t, err)
	defer Pool.Recycle(msg)

	assert.Equal(t, "a b;c", msg.Tags["k"])
}

func TestParseServerAcceptsPrefix(t *testing.T) {
	msg, err := ParseServer(":001AAAAAC PRIVMSG 00BAAAAAA :hello\r\n")
	require.NoError(t, err)
	defer Pool.Recycle(msg)

	assert.Equal(t, "001AAAAAC", msg.Sender)
	assert.Equal(t, CmdPrivMsg, msg.Command)
	assert.Equal(t, []string{"00BAAAAAA"}, msg.Params)
	assert.Equal(t, "hello", msg.Text)
}
