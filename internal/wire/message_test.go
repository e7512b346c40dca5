/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageRender(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		expected string
	}{
		{
			name: "valid message",
			msg: Message{
				Sender:  "irc.someserver.net",
				Command: CmdPrivMsg,
				Params:  []string{"nick1!someuser@irc.somehost.org"},
				Text:    "I am the server",
			},
			expected: ":irc.someserver.net PRIVMSG nick1!someuser@irc.somehost.org :I am the server\r\n",
		},
		{
			name: "numeric code message",
			msg: Message{
				Sender: "irc.someserver.net",
				Code:   ReplyWelcome,
				Params: []string{"nick1"},
				Text:   "Welcome to the server",
			},
			expected: ":irc.someserver.net 001 nick1 :Welcome to the server\r\n",
		},
		{
			name: "no sender",
			msg: Message{
				Command: CmdPing,
				Text:    "token",
			},
			expected: "PING :token\r\n",
		},
		{
			name: "code takes precedence over command",
			msg: Message{
				Sender:  "irc.someserver.net",
				Code:    ReplyEndOfMOTD,
				Command: CmdPrivMsg,
				Params:  []string{"nick1"},
				Text:    "End of /MOTD command",
			},
			expected: ":irc.someserver.net 376 nick1 :End of /MOTD command\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.msg.Render())
			assert.Equal(t, tt.expected, tt.msg.String())
		})
	}
}

func TestMessageRenderTags(t *testing.T) {
	msg := Message{
		Tags:    map[string]string{"time": "2023-01-01T00:00:00.000Z"},
		Sender:  "nick!user@host",
		Command: CmdPrivMsg,
		Params:  []string{"#chan"},
		Text:    "hi",
	}
	assert.Equal(t,
		"@time=2023-01-01T00:00:00.000Z :nick!user@host PRIVMSG #chan :hi\r\n",
		msg.Render())
}

func TestMessageRenderEscapesTagValues(t *testing.T) {
	msg := Message{
		Tags:    map[string]string{"k": "a b;c"},
		Command: CmdTagmsg,
		Params:  []string{"#chan"},
	}
	assert.Equal(t, "@k=a\\sb\\:c TAGMSG #chan\r\n", msg.Render())
}

func TestMessageScrub(t *testing.T) {
	msg := Message{
		Tags:    map[string]string{"a": "b"},
		Sender:  "x",
		Command: CmdPrivMsg,
		Params:  []string{"y"},
		Text:    "z",
		Code:    42,
	}
	msg.Scrub()
	assert.Equal(t, Message{}, msg)
}

func TestEnoughParams(t *testing.T) {
	msg := &Message{Params: []string{"a", "b"}}
	assert.True(t, EnoughParams(msg, 2))
	assert.False(t, EnoughParams(msg, 3))

	msg.Text = "trailing"
	assert.True(t, EnoughParams(msg, 3))
}
