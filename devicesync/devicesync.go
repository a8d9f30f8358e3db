// devicesync.go - Sync fan-out decisions.
// Copyright (C) 2026  Katzenpost Developers.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package devicesync decides when a sent message must be mirrored to the
// sender's other linked devices and builds the transcript that does it.
package devicesync

import (
	"fmt"

	"github.com/katzenpost/swarmcourier/address"
	"github.com/katzenpost/swarmcourier/content"
	"github.com/katzenpost/swarmcourier/result"
)

// Decision is the outcome of a sync check.  Transcript is nil when Sync is
// false.
type Decision struct {
	Sync       bool
	Transcript []byte
}

// Decider decides whether sends are mirrored to linked devices.
type Decider struct {
	local       address.Address
	codec       content.Codec
	multiDevice func() bool
}

// NewDecider returns a Decider.  multiDevice reports whether the local
// identity currently has other linked devices.
func NewDecider(local address.Address, codec content.Codec, multiDevice func() bool) *Decider {
	return &Decider{
		local:       local,
		codec:       codec,
		multiDevice: multiDevice,
	}
}

// Syncable reports whether msg is mirrored at all.  Friend and session
// requests only make sense to the peer they were sent to.
func Syncable(msg *content.DataMessage) bool {
	return msg != nil && !msg.FriendRequest && !msg.SessionRequest
}

// ShouldSync is the decision rule shared by single and group sends.
// selfTrigger is set when a group send named the local identity as a
// recipient of a syncable message.
func ShouldSync(multiDevice, unidentified, selfTrigger bool, results []result.Result) bool {
	if !multiDevice {
		return false
	}
	anySuccess, needsSync := false, selfTrigger
	for _, r := range results {
		s, ok := r.(*result.Success)
		if !ok {
			continue
		}
		anySuccess = true
		if s.NeedsSync || unidentified {
			needsSync = true
		}
	}
	return anySuccess && needsSync
}

// Single decides for a message sent to one recipient.  payload is the
// encoded content that was sent.
func (d *Decider) Single(recipient address.Address, payload []byte, res result.Result, unidentified bool) *Decision {
	if !ShouldSync(d.multiDevice(), unidentified, false, []result.Result{res}) {
		return &Decision{}
	}
	return &Decision{
		Sync:       true,
		Transcript: d.transcript(recipient.ID, payload, []result.Result{res}),
	}
}

// Group decides for a message sent to several recipients.
func (d *Decider) Group(recipients []address.Address, payload []byte, results []result.Result, unidentified bool) *Decision {
	self := false
	for _, r := range recipients {
		if r.SameIdentity(d.local) {
			self = true
			break
		}
	}
	if self {
		self = Syncable(d.mustDecode(payload).DataMessage)
	}
	if !ShouldSync(d.multiDevice(), unidentified, self, results) {
		return &Decision{}
	}
	return &Decision{
		Sync:       true,
		Transcript: d.transcript("", payload, results),
	}
}

// mustDecode parses a payload this process encoded itself.  Failure is a
// programming error.
func (d *Decider) mustDecode(payload []byte) *content.Content {
	c, err := d.codec.Decode(payload)
	if err != nil {
		panic(fmt.Sprintf("devicesync: BUG: re-parsing own payload: %v", err))
	}
	return c
}

func (d *Decider) transcript(destination string, payload []byte, results []result.Result) []byte {
	c := d.mustDecode(payload)
	if c.DataMessage == nil {
		panic("devicesync: BUG: transcript of a payload without a data message")
	}

	sent := &content.SentTranscript{
		Destination: destination,
		Timestamp:   c.DataMessage.Timestamp,
		Message:     c.DataMessage,
	}
	if c.DataMessage.ExpireTimer > 0 {
		sent.ExpirationStartTimestamp = c.DataMessage.Timestamp
	}
	for _, r := range results {
		s, ok := r.(*result.Success)
		if !ok {
			continue
		}
		sent.UnidentifiedStatus = append(sent.UnidentifiedStatus, &content.UnidentifiedStatus{
			Destination:  s.Address.ID,
			Unidentified: s.Unidentified,
		})
	}

	b, err := d.codec.Encode(&content.Content{SyncMessage: &content.SyncMessage{Sent: sent}})
	if err != nil {
		panic(fmt.Sprintf("devicesync: BUG: encoding transcript: %v", err))
	}
	return b
}
