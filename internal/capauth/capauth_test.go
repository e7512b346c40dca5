/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package capauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthwire/dircd/internal/identity"
)

func TestEvaluateOperCapabilityByLevel(t *testing.T) {
	a := New()

	_, ok := a.Grant(Request{Subject: "001000002", SubjectPerm: PermUser, Cap: CapKill})
	assert.False(t, ok)

	tok, ok := a.Grant(Request{Subject: "001000002", SubjectPerm: PermNetOp, Cap: CapKill, Resource: "001000003"})
	require.True(t, ok)
	assert.Equal(t, identity.UID("001000002"), tok.Subject())
}

func TestEvaluateChannelForceUsesMembership(t *testing.T) {
	a := New()

	_, ok := a.Grant(Request{Subject: "001000002", Cap: CapChannelForce, Resource: "#general", ChannelMember: false})
	assert.False(t, ok)

	_, ok = a.Grant(Request{Subject: "001000002", Cap: CapChannelForce, Resource: "#general", ChannelMember: true})
	assert.True(t, ok)
}

func TestConsumeIsSingleUse(t *testing.T) {
	a := New()
	tok, ok := a.Grant(Request{Subject: "001000002", SubjectPerm: PermAdmin, Cap: CapRehash})
	require.True(t, ok)

	assert.True(t, a.Consume(tok, "001000002", CapRehash, ""))
	assert.False(t, a.Consume(tok, "001000002", CapRehash, ""))
}

func TestConsumeRejectsMismatchedSubject(t *testing.T) {
	a := New()
	tok, ok := a.Grant(Request{Subject: "001000002", SubjectPerm: PermServer, Cap: CapDie})
	require.True(t, ok)

	assert.False(t, a.Consume(tok, "001000099", CapDie, ""))
}

func TestConsumeRejectsZeroValueToken(t *testing.T) {
	a := New()
	assert.False(t, a.Consume(Token{}, "001000002", CapKill, ""))
}

func TestGrantLogsDenialsAndRedactsChgHostResource(t *testing.T) {
	a := New()
	a.Grant(Request{Subject: "001000002", SubjectPerm: PermUser, Cap: CapChgHost, Resource: "secretacct"})

	log := a.Log()
	require.Len(t, log, 1)
	assert.False(t, log[0].Granted)
	assert.Equal(t, "**********", log[0].Resource)
}

func TestUnknownCapabilityIsDenied(t *testing.T) {
	a := New()
	_, ok := a.Grant(Request{Subject: "001000002", SubjectPerm: PermServer, Cap: Capability("BOGUS")})
	assert.False(t, ok)
}
