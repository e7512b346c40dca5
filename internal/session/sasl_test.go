/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"
)

func TestParseScramClientFirst(t *testing.T) {
	authcid, nonce, bare, err := ParseScramClientFirst("n,,n=alice,r=abc123")
	require.NoError(t, err)
	assert.Equal(t, "alice", authcid)
	assert.Equal(t, "abc123", nonce)
	assert.Equal(t, "n=alice,r=abc123", bare)
}

func TestParseScramClientFirstRejectsChannelBinding(t *testing.T) {
	_, _, _, err := ParseScramClientFirst("p=tls-unique,,n=alice,r=abc123")
	assert.Error(t, err)
}

func TestParseScramClientFirstRejectsMissingFields(t *testing.T) {
	_, _, _, err := ParseScramClientFirst("n,,n=alice")
	assert.Error(t, err)
}

func TestParseScramClientFinal(t *testing.T) {
	nonce, proof, withoutProof, err := ParseScramClientFinal("c=biws,r=abc123server,p=cHJvb2Y=")
	require.NoError(t, err)
	assert.Equal(t, "abc123server", nonce)
	assert.Equal(t, "cHJvb2Y=", proof)
	assert.Equal(t, "c=biws,r=abc123server", withoutProof)
}

func TestScramServerFirstAppendsServerNonce(t *testing.T) {
	p := &SASLProgress{}
	serverFirst := p.ScramServerFirst("clientnonce", []byte("salt"), 4096)

	assert.True(t, strings.HasPrefix(p.ScramNonce, "clientnonce"))
	assert.Greater(t, len(p.ScramNonce), len("clientnonce"))
	assert.Contains(t, serverFirst, "r="+p.ScramNonce)
	assert.Contains(t, serverFirst, "s="+base64.StdEncoding.EncodeToString([]byte("salt")))
	assert.Contains(t, serverFirst, "i=4096")
}

// TestScramFullExchangeVerifies drives both sides of RFC 5802: a
// simulated client derives its proof from the password, and the server
// side verifies it against only the stored key.
func TestScramFullExchangeVerifies(t *testing.T) {
	const password = "hunter2"
	salt := []byte("0123456789abcdef")
	iterations := 4096

	salted := pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)
	clientKey := hmacSHA256(salted, []byte("Client Key"))
	storedSum := sha256.Sum256(clientKey)
	storedKey := storedSum[:]

	p := &SASLProgress{}
	bare := "n=alice,r=cnonce"
	serverFirst := p.ScramServerFirst("cnonce", salt, iterations)
	withoutProof := "c=biws,r=" + p.ScramNonce
	authMessage := bare + "," + serverFirst + "," + withoutProof

	clientSignature := hmacSHA256(storedKey, []byte(authMessage))
	proof := make([]byte, len(clientKey))
	for i := range proof {
		proof[i] = clientKey[i] ^ clientSignature[i]
	}

	ok, err := ScramVerifyFinal(storedKey, authMessage, base64.StdEncoding.EncodeToString(proof))
	require.NoError(t, err)
	assert.True(t, ok)

	// A proof derived from the wrong password must not verify.
	wrongSalted := pbkdf2.Key([]byte("wrong"), salt, iterations, sha256.Size, sha256.New)
	wrongKey := hmacSHA256(wrongSalted, []byte("Client Key"))
	wrongSignature := hmacSHA256(storedKey, []byte(authMessage))
	wrongProof := make([]byte, len(wrongKey))
	for i := range wrongProof {
		wrongProof[i] = wrongKey[i] ^ wrongSignature[i]
	}
	ok, err = ScramVerifyFinal(storedKey, authMessage, base64.StdEncoding.EncodeToString(wrongProof))
	require.NoError(t, err)
	assert.False(t, ok)
}

func hmacSHA256(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}
