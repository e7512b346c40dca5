/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"github.com/sirupsen/logrus"

	"github.com/hearthwire/dircd/internal/session"
	"github.com/hearthwire/dircd/internal/wire"
)

// Context is what every registered handler receives: the full Matrix, the
// session that sent the line, the parsed Message, and a logger scoped to
// this connection. It instantiates session.Registry[*Context],
// generalizing handlers.go's *MessageContext (which only ever carried a
// *Conn and a *Message) with the Matrix reference handlers.go got via the
// package-level Server singleton instead.
type Context struct {
	Matrix  *Matrix
	Session *session.Session
	Msg     *wire.Message
	Log     *logrus.Entry
}

// Reply sends a numeric reply to the requesting session, filling in the
// server name as sender and the session's current nick as the first
// parameter, matching replies.go's SendNumeric convention. If the
// command being handled carried a label tag, the reply echoes it back.
func (c *Context) Reply(code uint16, params []string, text string) {
	msg := &wire.Message{
		Sender: c.Matrix.ServerName,
		Code:   code,
		Params: append([]string{c.displayNick()}, params...),
		Text:   text,
	}
	c.attachLabel(msg)
	c.Session.Write(msg)
}

// Notice sends a server NOTICE to the requesting session (error/informational
// text that isn't a numeric, e.g. pre-registration rejections).
func (c *Context) Notice(text string) {
	msg := &wire.Message{
		Sender:  c.Matrix.ServerName,
		Command: wire.CmdNotice,
		Params:  []string{c.displayNick()},
		Text:    text,
	}
	c.attachLabel(msg)
	c.Session.Write(msg)
}

func (c *Context) attachLabel(msg *wire.Message) {
	label := c.Session.Label()
	if label == "" {
		return
	}
	if msg.Tags == nil {
		msg.Tags = make(map[string]string, 1)
	}
	msg.Tags["label"] = label
}

func (c *Context) displayNick() string {
	if nick := c.Session.Nick(); nick != "" {
		return nick
	}
	return "*"
}

// NeedMoreParams is the common ERR_NEEDMOREPARAMS short-circuit every
// handler with required parameters opens with, generalizing handlers.go's
// repeated `len(msg.Params) < N` guard blocks into one call.
func (c *Context) NeedMoreParams() {
	c.Reply(wire.ReplyNeedMoreParams, []string{c.Msg.Command}, "Not enough parameters")
}
