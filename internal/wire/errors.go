/*
   Copyright (c) 2020, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package wire

// Error is a workaround to allow for immutable error strings which satisfy
// the error interface.
type Error string

func (err Error) Error() string  { return string(err) }
func (err Error) String() string { return string(err) }

// Immutable error strings, covering protocol-level failures that map 1:1
// to a numeric reply.
const (
	ErrNotEnoughData  Error = "did not receive enough data from the client"
	ErrDataTooLong    Error = "received data from the client is too long"
	ErrCRLF           Error = "no CRLF"
	ErrWhitespace     Error = "all whitespace"
	ErrPrefixed       Error = "prefixed message from client"
	ErrInvalidCapCmd  Error = "invalid CAP command"
	ErrMissingParams  Error = "missing parameters"
	ErrTooManyParams  Error = "too many parameters"
	ErrUserInUse      Error = "this username is currently in use"
	ErrUserRestricted Error = "this username is restricted"
	ErrUserAlreadySet Error = "you have already registered"
	ErrNickInUse      Error = "this nickname is currently in use"
	ErrNickRestricted Error = "this nickname is restricted"
	ErrNickAlreadySet Error = "you already have that nickname"
	ErrNotImplemented Error = "that command is not yet implemented"
	ErrNotRegistered  Error = "you must register first"
	ErrNoNickGiven    Error = "no nickname given"
	ErrNoSuchNick     Error = "nick not found"
	ErrNoSuchChan     Error = "channel not found"
	ErrNoSuchServer   Error = "server not found"
	ErrInsuffPerms    Error = "insufficient permissions"
	ErrUnknownMode    Error = "unknown mode"
	ErrModeAlreadySet Error = "mode already set"
	ErrModeNotSet     Error = "mode is not set"
	ErrChannelFull    Error = "channel is full"
	ErrBannedFromChan Error = "banned from channel"
	ErrInviteOnlyChan Error = "channel is invite-only"
	ErrBadChannelKey  Error = "bad channel key"
	ErrTLSRequired    Error = "TLS connection required"
	ErrNotOper        Error = "not an IRC operator"
	ErrBadSaslMech    Error = "unsupported SASL mechanism"
	ErrSaslAborted    Error = "SASL authentication aborted"
	ErrLinkLoop       Error = "loop detected"
	ErrLinkCollision  Error = "SID collision"
)
