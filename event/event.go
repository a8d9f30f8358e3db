// event.go - Outbound notifications.
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

// Package event defines the notifications the delivery core emits and a
// dispatcher that hands them to a listener without blocking the sender.
package event

import (
	"fmt"

	"github.com/katzenpost/swarmcourier/address"
)

// Event is a notification emitted by the delivery core.
type Event interface {
	String() string
}

// Listener receives events.  Notify is called from a single dispatcher
// goroutine, never from a goroutine that is sending.
type Listener interface {
	Notify(Event)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(Event)

// Notify implements Listener.
func (f ListenerFunc) Notify(e Event) { f(e) }

// SecurityReason says why a SecurityEvent was emitted.
type SecurityReason uint8

const (
	// SessionEstablished is a session bootstrapped from a pre-key bundle.
	SessionEstablished SecurityReason = iota

	// SessionResetStarted is an outbound session reset.
	SessionResetStarted
)

func (r SecurityReason) String() string {
	switch r {
	case SessionEstablished:
		return "session established"
	case SessionResetStarted:
		return "session reset"
	default:
		return fmt.Sprintf("[unknown reason %d]", r)
	}
}

// SecurityEvent reports a change to the session with a peer.
type SecurityEvent struct {
	Address address.Address
	Reason  SecurityReason
}

// String implements fmt.Stringer.
func (e *SecurityEvent) String() string {
	return fmt.Sprintf("SecurityEvent: %v: %v", e.Address, e.Reason)
}

// FriendRequestSendingEvent is emitted when a friend request fan-out starts.
type FriendRequestSendingEvent struct {
	MessageID int64
	ThreadID  int64
}

// String implements fmt.Stringer.
func (e *FriendRequestSendingEvent) String() string {
	return fmt.Sprintf("FriendRequestSendingEvent: message %d thread %d", e.MessageID, e.ThreadID)
}

// FriendRequestSentEvent is emitted when a storage node accepted a friend
// request.
type FriendRequestSentEvent struct {
	MessageID int64
	ThreadID  int64
}

// String implements fmt.Stringer.
func (e *FriendRequestSentEvent) String() string {
	return fmt.Sprintf("FriendRequestSentEvent: message %d thread %d", e.MessageID, e.ThreadID)
}

// FriendRequestFailedEvent is emitted when no storage node accepted a
// friend request.
type FriendRequestFailedEvent struct {
	MessageID int64
	ThreadID  int64
	Err       error
}

// String implements fmt.Stringer.
func (e *FriendRequestFailedEvent) String() string {
	return fmt.Sprintf("FriendRequestFailedEvent: message %d thread %d: %v", e.MessageID, e.ThreadID, e.Err)
}

// SyncEvent is emitted when a sent message is mirrored to linked devices.
type SyncEvent struct {
	MessageID int64
	Timestamp uint64

	// Content is the encoded transcript.
	Content []byte

	// Devices are the linked devices the transcript is addressed to.
	Devices []address.Address
}

// String implements fmt.Stringer.
func (e *SyncEvent) String() string {
	return fmt.Sprintf("SyncEvent: message %d to %d devices", e.MessageID, len(e.Devices))
}

// SyncFailedEvent reports a transcript that could not be delivered to a
// linked device.
type SyncFailedEvent struct {
	MessageID int64
	Device    address.Address
	Err       error
}

// String implements fmt.Stringer.
func (e *SyncFailedEvent) String() string {
	return fmt.Sprintf("SyncFailedEvent: message %d to %v: %v", e.MessageID, e.Device, e.Err)
}
