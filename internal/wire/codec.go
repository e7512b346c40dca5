/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package wire

import "bytes"

// Decoder turns a raw line into a Message. internal/session depends on
// this interface rather than the package-level Parse function directly,
// so a test can substitute a decoder that, say, records every line it
// saw.
type Decoder interface {
	Decode(line string) (*Message, error)
}

// Encoder renders a Message back to wire bytes.
type Encoder interface {
	Encode(msg *Message) *bytes.Buffer
}

// ClientCodec is the default Decoder/Encoder pair for client-facing
// sessions: prefixed lines from the client are rejected per RFC.
type ClientCodec struct{}

func (ClientCodec) Decode(line string) (*Message, error) { return Parse(line) }
func (ClientCodec) Encode(msg *Message) *bytes.Buffer     { return msg.RenderBuffer() }

// ServerCodec is the Decoder/Encoder pair for S2S links: incoming lines
// are expected to carry a SID/UID prefix identifying their origin.
type ServerCodec struct{}

func (ServerCodec) Decode(line string) (*Message, error) { return ParseServer(line) }
func (ServerCodec) Encode(msg *Message) *bytes.Buffer     { return msg.RenderBuffer() }
