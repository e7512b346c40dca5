/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package storage

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/hearthwire/dircd/internal/concurrentmap"
)

// argon2Time/argon2Memory/argon2Threads/argon2KeyLen are the Argon2id
// parameters new accounts are hashed with. VerifyPassword recomputes
// with the same time, memory and thread constants (only the key length
// is taken from the stored hash), so changing them makes existing hashes
// fail to verify.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
)

// MemoryAccountStore is an in-process AccountStore, the "in-memory fake"
// the external-collaborator scope cut calls for. It's wired as the
// default binary's account backend since no persistent store is in
// scope; swapping in a real database only requires a type satisfying
// AccountStore.
type MemoryAccountStore struct {
	accounts concurrentmap.ConcurrentMap[string, AccountRecord]
}

// NewMemoryAccountStore builds an empty store.
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: concurrentmap.New[string, AccountRecord]()}
}

func (s *MemoryAccountStore) Lookup(account string) (AccountRecord, bool) {
	return s.accounts.Get(account)
}

func (s *MemoryAccountStore) LookupByCertFP(fp string) (AccountRecord, bool) {
	if fp == "" {
		return AccountRecord{}, false
	}
	var found AccountRecord
	ok := false
	_ = s.accounts.ForEach(func(_ string, rec AccountRecord) error {
		if rec.CertFP == fp {
			found, ok = rec, true
		}
		return nil
	})
	return found, ok
}

func (s *MemoryAccountStore) Upsert(rec AccountRecord) error {
	if rec.Name == "" {
		return errors.New("storage: account name required")
	}
	s.accounts.Set(rec.Name, rec)
	return nil
}

// HashPassword returns an Argon2id verifier for password, generating a
// fresh random salt.
func HashPassword(password string) (AccountVerifier, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return AccountVerifier{}, err
	}
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return AccountVerifier{
		Argon2Hash: base64.RawStdEncoding.EncodeToString(hash),
		Salt:       salt,
		Iterations: argon2Time,
	}, nil
}

// VerifyPassword checks password against v's Argon2id hash in constant
// time. Used by SASL PLAIN and OPER password checks; SCRAM verification
// instead goes through session.ScramVerifyFinal against v.StoredKey.
func VerifyPassword(v AccountVerifier, password string) bool {
	if v.Argon2Hash == "" {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(v.Argon2Hash)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), v.Salt, argon2Time, argon2Memory, argon2Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(want, got) == 1
}

// DeriveScramKeys computes the SCRAM-SHA-256 StoredKey/ServerKey pair for
// password under salt/iterations, following RFC 5802's
// SaltedPassword/ClientKey/StoredKey/ServerKey derivation chain.
func DeriveScramKeys(password string, salt []byte, iterations int) (storedKey, serverKey []byte) {
	salted := pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)
	clientKey := hmacSum(salted, []byte("Client Key"))
	sum := sha256.Sum256(clientKey)
	storedKey = sum[:]
	serverKey = hmacSum(salted, []byte("Server Key"))
	return storedKey, serverKey
}

func hmacSum(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// MemoryChannelStore is an in-process ChannelStore fake.
type MemoryChannelStore struct {
	channels concurrentmap.ConcurrentMap[string, ChannelRecord]
}

func NewMemoryChannelStore() *MemoryChannelStore {
	return &MemoryChannelStore{channels: concurrentmap.New[string, ChannelRecord]()}
}

func (s *MemoryChannelStore) Lookup(foldedName string) (ChannelRecord, bool) {
	return s.channels.Get(foldedName)
}

func (s *MemoryChannelStore) Upsert(rec ChannelRecord) error {
	s.channels.Set(rec.FoldedName, rec)
	return nil
}

func (s *MemoryChannelStore) Delete(foldedName string) error {
	s.channels.Delete(foldedName)
	return nil
}

// MemoryBanStore is an in-process BanStore fake, keyed by channel (empty
// string for network-wide).
type MemoryBanStore struct {
	byChannel concurrentmap.ConcurrentMap[string, []BanRecord]
}

func NewMemoryBanStore() *MemoryBanStore {
	return &MemoryBanStore{byChannel: concurrentmap.New[string, []BanRecord]()}
}

func (s *MemoryBanStore) List(channel string) ([]BanRecord, error) {
	list, _ := s.byChannel.Get(channel)
	return list, nil
}

func (s *MemoryBanStore) Add(rec BanRecord) error {
	list, _ := s.byChannel.Get(rec.Channel)
	list = append(list, rec)
	s.byChannel.Set(rec.Channel, list)
	return nil
}

func (s *MemoryBanStore) Remove(channel, mask string) error {
	list, ok := s.byChannel.Get(channel)
	if !ok {
		return nil
	}
	out := list[:0]
	for _, rec := range list {
		if rec.Mask != mask {
			out = append(out, rec)
		}
	}
	s.byChannel.Set(channel, out)
	return nil
}

// MemoryReadMarkerStore is an in-process ReadMarkerStore fake.
type MemoryReadMarkerStore struct {
	markers concurrentmap.ConcurrentMap[string, ReadMarker]
}

func NewMemoryReadMarkerStore() *MemoryReadMarkerStore {
	return &MemoryReadMarkerStore{markers: concurrentmap.New[string, ReadMarker]()}
}

func readMarkerKey(account, target string) string { return account + "\x00" + target }

func (s *MemoryReadMarkerStore) Get(account, target string) (ReadMarker, bool) {
	return s.markers.Get(readMarkerKey(account, target))
}

func (s *MemoryReadMarkerStore) Set(marker ReadMarker) error {
	s.markers.Set(readMarkerKey(marker.Account, marker.Target), marker)
	return nil
}
