/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package identity

// Named IRCv3 capability bits. CapSet itself is defined in record.go next
// to UserRecord.caps; these constants live here since they're named and
// consumed cross-package (channelactor, effects, and eventually session)
// rather than being an implementation detail of the user record.
const (
	CapExtendedJoin CapSet = 1 << iota
	CapAccountNotify
	CapAwayNotify
	CapChgHost
	CapAccountTag
	CapServerTime
	CapMessageTags
	CapBatch
	CapLabeledResponse
	CapSASL
	CapMultiPrefix
	CapUserhostInNames
	CapCapNotify
	CapEchoMessage
	CapInviteNotify
	CapSetname
)
