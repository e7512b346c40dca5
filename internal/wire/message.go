/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

// Package wire is the default implementation of the wire-parsing and
// serialization collaborator carved out of the core: it frames bytes
// into Messages and back, including IRCv3 message tags and
// the TS6 prefixed-message forms S2S links need (clients may never send a
// prefixed line; servers always do). The core only depends on this
// through the Decoder/Encoder interfaces in codec.go — this package ships
// a conformant implementation used by the default cmd/dircd binary and by
// every other package's tests.
package wire

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/hearthwire/dircd/internal/itempool"
)

// Message is an object that represents the components of an IRC message.
//
//	<message>  = ['@' <tags> <SPACE>] [':' <prefix> <SPACE>] <command> <params> <crlf>
//	<prefix>   = <servername> | <nick> ['!' <user>] ['@' <host>]
//	<command>  = <letter> {<letter>} | <number> <number> <number>
//	<params>   = <SPACE> [':' <trailing> | <middle> <params>]
type Message struct {
	Tags    map[string]string // IRCv3 message-tags, nil if none were sent
	Sender  string            // prefix (nick!user@host or server name); servers only
	Command string
	Params  []string
	Text    string // trailing parameter, after the last " :"
	Code    uint16 // numeric reply code; when set, takes precedence over Command on render
}

// String constants for constructing the message.
const (
	SPACE  string = " "
	CRLF          = "\r\n"
	COLON         = ":"
	EMPTY         = ""
	PADNUM        = "%03d"
)

// Scrub resets msg to its zero-ish state so a pooled Message can't leak a
// previous caller's fields into its next use. Satisfies
// itempool.ScrubbableItem.
func (msg *Message) Scrub() {
	msg.Tags = nil
	msg.Sender = EMPTY
	msg.Command = EMPTY
	msg.Params = nil
	msg.Text = EMPTY
	msg.Code = 0
}

// String satisfies fmt.Stringer.
func (msg *Message) String() string { return msg.Render() }

var bufferPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

func getBuffer() *bytes.Buffer {
	b := bufferPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// PutBuffer returns a rendered buffer to the pool once the caller (the
// session write loop) has flushed it to the socket.
func PutBuffer(b *bytes.Buffer) {
	bufferPool.Put(b)
}

// RenderBuffer returns the IRC-formatted byte buffer for msg, pulled from a
// shared pool so the write hot path doesn't allocate one per line.
func (msg *Message) RenderBuffer() *bytes.Buffer {
	buffer := getBuffer()

	if len(msg.Tags) > 0 {
		buffer.WriteByte('@')
		first := true
		for k, v := range msg.Tags {
			if !first {
				buffer.WriteByte(';')
			}
			first = false
			buffer.WriteString(escapeTagValue(k))
			if v != EMPTY {
				buffer.WriteByte('=')
				buffer.WriteString(escapeTagValue(v))
			}
		}
		buffer.WriteString(SPACE)
	}

	if msg.Sender != EMPTY {
		buffer.WriteString(COLON)
		buffer.WriteString(msg.Sender)
		buffer.WriteString(SPACE)
	}

	if msg.Code > 0 {
		buffer.WriteString(padNumeric(msg.Code))
	} else if msg.Command != EMPTY {
		buffer.WriteString(msg.Command)
	}

	if len(msg.Params) > 0 {
		params := msg.Params
		if len(params) > MaxMsgParams {
			params = params[:MaxMsgParams]
		}
		buffer.WriteString(SPACE)
		buffer.WriteString(strings.Join(params, SPACE))
	}

	if msg.Text != EMPTY {
		buffer.WriteString(SPACE)
		buffer.WriteString(COLON)
		buffer.WriteString(msg.Text)
	}

	buffer.WriteString(CRLF)
	return buffer
}

func padNumeric(code uint16) string {
	s := itoa(int(code))
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Render returns the IRC-formatted string version of msg.
func (msg *Message) Render() string {
	buf := msg.RenderBuffer()
	defer PutBuffer(buf)
	return buf.String()
}

// Debug renders msg to a JSON string for verbose logging.
func (msg *Message) Debug() string {
	b, _ := json.Marshal(msg)
	return string(b)
}

func escapeTagValue(s string) string {
	r := strings.NewReplacer(
		"\\", "\\\\",
		";", "\\:",
		" ", "\\s",
		"\r", "\\r",
		"\n", "\\n",
	)
	return r.Replace(s)
}

func unescapeTagValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case ':':
				b.WriteByte(';')
			case 's':
				b.WriteByte(' ')
			case 'r':
				b.WriteByte('\r')
			case 'n':
				b.WriteByte('\n')
			case '\\':
				b.WriteByte('\\')
			default:
				b.WriteByte(s[i])
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Pool is the package-level Message pool every Decoder draws from.
var Pool = NewMessagePool(MessagePoolMax)

// MessagePoolMax sets the default message pool buffer length.
const MessagePoolMax = 1000

// NewMessagePool builds a fresh pool of max Messages, backed by
// internal/itempool's generic ScrubbableItem pool.
func NewMessagePool(max int) itempool.Pool[*Message] {
	return itempool.New[*Message](max, func() *Message { return &Message{} })
}
