/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

// Package storage defines the CRUD contracts the matrix layer persists
// identity/channel/ban state through, mirroring the persisted-state
// layout (accounts, channels, channel_access, channel_akicks, bans,
// always_on_clients, read_markers). The matrix never depends on a
// concrete backing store directly, only on these interfaces; an
// in-memory implementation (memory.go) satisfies them for the default
// binary and for tests.
package storage

import "time"

// AccountVerifier is the persisted password-verifier record for one
// account: either an Argon2id hash (Argon2Hash non-empty) or a
// SCRAM-SHA-256 verifier (Salt/StoredKey/ServerKey non-empty), per
// spec's "Argon2 or SCRAM salt+iterations+stored-key" account password
// verifier rule.
type AccountVerifier struct {
	Argon2Hash string // unpadded standard base64 of the raw Argon2id key
	Salt       []byte
	Iterations int
	StoredKey  []byte // SCRAM-SHA-256 H(ClientKey)
	ServerKey  []byte // SCRAM-SHA-256 HMAC(SaltedPassword, "Server Key")
}

// AccountRecord is one registered account.
type AccountRecord struct {
	Name     string // case-folded
	Verifier AccountVerifier
	CertFP   string // hex SHA-256 TLS client-cert fingerprint, for SASL EXTERNAL
	Enforce  bool   // force nick-holders off an unauthenticated claim
	Created  time.Time
}

// AccountStore is the persisted-account contract C5's AccountIdentify
// effect and C4's oper-auth path call through.
type AccountStore interface {
	Lookup(account string) (AccountRecord, bool)
	LookupByCertFP(fp string) (AccountRecord, bool)
	Upsert(rec AccountRecord) error
}

// ChannelRecord is one registered (ChanServ-tracked) channel's persisted
// metadata, separate from the live channelactor.Channel state.
type ChannelRecord struct {
	Name        string
	FoldedName  string
	Founder     string // account name
	Topic       string
	Modes       string
	Mlock       string // mode letters locked against non-forced change
	Registered  time.Time
}

// ChannelStore is the persisted channel-registration contract.
type ChannelStore interface {
	Lookup(foldedName string) (ChannelRecord, bool)
	Upsert(rec ChannelRecord) error
	Delete(foldedName string) error
}

// BanRecord is one network-wide or channel-scoped ban/akick entry.
type BanRecord struct {
	Mask    string
	Channel string // empty for a network-wide ban
	Setter  string
	Reason  string
	Set     time.Time
	Expires time.Time // zero means permanent
}

// BanStore is the persisted ban/akick contract.
type BanStore interface {
	List(channel string) ([]BanRecord, error)
	Add(rec BanRecord) error
	Remove(channel, mask string) error
}

// ReadMarker is a per-account, per-target last-read position, used by
// always-on clients and CHATHISTORY clients to resume where they left
// off.
type ReadMarker struct {
	Account string
	Target  string // nick or channel, case-folded
	Stamp   string // opaque history cursor (e.g. a clock.Stamp.String())
}

// ReadMarkerStore is the persisted read-marker contract.
type ReadMarkerStore interface {
	Get(account, target string) (ReadMarker, bool)
	Set(marker ReadMarker) error
}
