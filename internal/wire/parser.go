/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package wire

import "strings"

// MaxMsgLength is the maximum permitted length of a raw IRC line,
// including tags and CRLF, per RFC 1459/2812 plus IRCv3 message-tags
// overhead.
const MaxMsgLength = 8192

// MaxMsgParams is the maximum number of middle parameters a command may
// carry (ISUPPORT MAXTARGETS is a distinct, command-specific limit).
const MaxMsgParams = 15

// Parse decodes a raw client line into a pooled *Message. Clients must
// never send a prefixed message (only servers do, over the S2S link via
// ParseServer), so a leading ':' is rejected here.
func Parse(data string) (*Message, error) {
	if len(data) > MaxMsgLength {
		return nil, ErrDataTooLong
	}

	data = strings.TrimRight(data, "\r\n")
	data = strings.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrWhitespace
	}

	if data[0] == ':' {
		return nil, ErrPrefixed
	}

	return parseBody(data, false)
}

// ParseServer decodes a raw S2S line, which may carry a leading ':<SID or
// UID>' prefix identifying the origin, per the TS6 wire format.
func ParseServer(data string) (*Message, error) {
	if len(data) > MaxMsgLength {
		return nil, ErrDataTooLong
	}

	data = strings.TrimRight(data, "\r\n")
	data = strings.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrWhitespace
	}

	return parseBody(data, true)
}

func parseBody(data string, allowPrefix bool) (*Message, error) {
	msg := Pool.New()

	if len(data) > 0 && data[0] == '@' {
		sp := strings.IndexByte(data, ' ')
		if sp < 0 {
			Pool.Recycle(msg)
			return nil, ErrMissingParams
		}
		msg.Tags = parseTags(data[1:sp])
		data = strings.TrimLeft(data[sp+1:], " ")
	}

	if len(data) > 0 && data[0] == ':' {
		if !allowPrefix {
			Pool.Recycle(msg)
			return nil, ErrPrefixed
		}
		sp := strings.IndexByte(data, ' ')
		if sp < 0 {
			Pool.Recycle(msg)
			return nil, ErrMissingParams
		}
		msg.Sender = data[1:sp]
		data = strings.TrimLeft(data[sp+1:], " ")
	}

	if len(data) == 0 {
		Pool.Recycle(msg)
		return nil, ErrMissingParams
	}

	rest := data
	hasTrailing := false
	var trailing string
	if idx := strings.Index(rest, " :"); idx >= 0 {
		trailing = rest[idx+2:]
		hasTrailing = true
		rest = rest[:idx]
	} else if strings.HasPrefix(rest, ":") {
		trailing = rest[1:]
		hasTrailing = true
		rest = ""
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		Pool.Recycle(msg)
		return nil, ErrMissingParams
	}

	msg.Command = strings.ToUpper(fields[0])
	msg.Params = fields[1:]

	if len(msg.Params) > MaxMsgParams {
		Pool.Recycle(msg)
		return nil, ErrTooManyParams
	}

	if hasTrailing {
		msg.Text = trailing
	}

	return msg, nil
}

func parseTags(raw string) map[string]string {
	parts := strings.Split(raw, ";")
	tags := make(map[string]string, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if eq := strings.IndexByte(p, '='); eq >= 0 {
			tags[p[:eq]] = unescapeTagValue(p[eq+1:])
		} else {
			tags[p] = ""
		}
	}
	return tags
}

// EnoughParams reports whether msg carries at least expected parameters
// (Params plus, if non-empty, the trailing Text counted as one more).
func EnoughParams(msg *Message, expected int) bool {
	n := len(msg.Params)
	if msg.Text != EMPTY {
		n++
	}
	return n >= expected
}
