/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package session

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthwire/dircd/internal/identity"
)

func TestRegistryDispatchIsStateScoped(t *testing.T) {
	reg := NewRegistry[string]()
	reg.Handle(StateUnregistered, "NICK", func(ctx string) {})
	reg.Handle(StateRegistered, "JOIN", func(ctx string) {})

	_, ok := reg.Dispatch(StateUnregistered, "JOIN")
	assert.False(t, ok, "JOIN must be unreachable before registration")

	_, ok = reg.Dispatch(StateRegistered, "JOIN")
	assert.True(t, ok)

	_, ok = reg.Dispatch(StateUnregistered, "NICK")
	assert.True(t, ok)
}

func TestRegistryHandleAll(t *testing.T) {
	reg := NewRegistry[int]()
	calls := 0
	reg.HandleAll([]State{StateUnregistered, StateRegistered}, "PING", func(int) { calls++ })

	h, ok := reg.Dispatch(StateUnregistered, "PING")
	require.True(t, ok)
	h(0)
	h2, ok := reg.Dispatch(StateRegistered, "PING")
	require.True(t, ok)
	h2(0)
	assert.Equal(t, 2, calls)
}

func TestRegistryPanicsOnDuplicateRegistration(t *testing.T) {
	reg := NewRegistry[struct{}]()
	reg.Handle(StateRegistered, "TOPIC", func(struct{}) {})
	assert.Panics(t, func() {
		reg.Handle(StateRegistered, "TOPIC", func(struct{}) {})
	})
}

func TestDecodePlainSplitsThreeFields(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("\x00alice\x00hunter2"))
	authzid, authcid, password, err := DecodePlain(payload)
	require.NoError(t, err)
	assert.Equal(t, "", authzid)
	assert.Equal(t, "alice", authcid)
	assert.Equal(t, "hunter2", password)
}

func TestDecodePlainRejectsMalformedPayload(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("nouldelimiters"))
	_, _, _, err := DecodePlain(payload)
	assert.Error(t, err)
}

func TestExtractDeviceSplitsOnLastAt(t *testing.T) {
	account, device := ExtractDevice("alice@phone")
	assert.Equal(t, "alice", account)
	assert.Equal(t, "phone", device)

	account, device = ExtractDevice("alice")
	assert.Equal(t, "alice", account)
	assert.Equal(t, "", device)
}

func TestAppendAuthenticateChunkAccumulatesUntilShortLine(t *testing.T) {
	var p SASLProgress
	full := make([]byte, MaxAuthenticateChunk)
	for i := range full {
		full[i] = 'A'
	}
	assert.False(t, p.AppendAuthenticateChunk(string(full)))
	assert.True(t, p.AppendAuthenticateChunk("AB"))
	assert.Equal(t, string(full)+"AB", p.Payload())
}

func TestResolveCapRequestAllOrNothing(t *testing.T) {
	tokens := SupportedCaps("PLAIN,EXTERNAL")
	result, ok := ResolveCapRequest(tokens, 0, "sasl multi-prefix")
	require.True(t, ok)
	assert.True(t, result.Has(identity.CapSASL))
	assert.True(t, result.Has(identity.CapMultiPrefix))

	_, ok = ResolveCapRequest(tokens, 0, "sasl bogus-cap")
	assert.False(t, ok, "unknown token must reject the whole request")
}

func TestResolveCapRequestRemoval(t *testing.T) {
	tokens := SupportedCaps("PLAIN")
	base, ok := ResolveCapRequest(tokens, 0, "sasl away-notify")
	require.True(t, ok)

	result, ok := ResolveCapRequest(tokens, base, "-away-notify")
	require.True(t, ok)
	assert.True(t, result.Has(identity.CapSASL))
	assert.False(t, result.Has(identity.CapAwayNotify))
}

func TestRenderCapLSOmitsValuesBelowVersion302(t *testing.T) {
	tokens := []CapToken{{Name: "sasl", Bit: identity.CapSASL, Value: "PLAIN"}}
	lines := RenderCapLS(tokens, 301)
	require.Len(t, lines, 1)
	assert.Equal(t, "sasl", lines[0])

	lines = RenderCapLS(tokens, 302)
	assert.Equal(t, "sasl=PLAIN", lines[0])
}
