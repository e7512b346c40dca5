/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package s2s

import (
	"strconv"

	"github.com/hearthwire/dircd/internal/netsplit"
	"github.com/hearthwire/dircd/internal/wire"
)

// SIDInfo is a decoded SID introduction line: "<parent-sid> SID <name>
// <hopcount> <new-sid> :<description>".
type SIDInfo struct {
	Parent      netsplit.SID
	Name        string
	Hopcount    int
	SID         netsplit.SID
	Description string
}

// DecodeSID parses an inbound SID line.
func DecodeSID(msg *wire.Message) (SIDInfo, bool) {
	if len(msg.Params) < 3 {
		return SIDInfo{}, false
	}
	hop, _ := strconv.Atoi(msg.Params[1])
	return SIDInfo{
		Parent:      netsplit.SID(msg.Sender),
		Name:        msg.Params[0],
		Hopcount:    hop,
		SID:         netsplit.SID(msg.Params[2]),
		Description: msg.Text,
	}, true
}

// AcceptIntroduction applies a validated SID introduction to graph,
// rejecting (without mutating anything) an SID that would create a
// routing loop, checked before a new server is ever added to the
// topology.
func AcceptIntroduction(graph *netsplit.Graph, localSID netsplit.SID, info SIDInfo, link netsplit.Link) bool {
	if SeenIntroduction(graph, localSID, info.SID) {
		return false
	}
	graph.AddServer(info.SID, info.Name, info.Parent, link)
	return true
}

// EncodeSID renders a SID introduction line this server sends either to
// announce itself on handshake or to relay a burst-learned server to
// other peers.
func EncodeSID(originSID, name string, hopcount int, newSID, description string) *wire.Message {
	return &wire.Message{
		Sender:  originSID,
		Command: wire.CmdSid,
		Params:  []string{name, strconv.Itoa(hopcount), newSID},
		Text:    description,
	}
}
