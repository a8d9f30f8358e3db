// status.go - Friend request and session reset status values.
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

package protostate

import "fmt"

// MessageStatus is the friend request status of a single message.
type MessageStatus uint8

const (
	MessageNone MessageStatus = iota
	MessageSending
	MessagePending
	MessageFailed
	MessageRequestReceived
)

func (s MessageStatus) String() string {
	switch s {
	case MessageNone:
		return "NONE"
	case MessageSending:
		return "SENDING"
	case MessagePending:
		return "PENDING"
	case MessageFailed:
		return "FAILED"
	case MessageRequestReceived:
		return "REQUEST_RECEIVED"
	default:
		return fmt.Sprintf("[unknown message status %d]", s)
	}
}

// ThreadStatus is the friend request status of a conversation.
type ThreadStatus uint8

const (
	ThreadNone ThreadStatus = iota
	ThreadSending
	ThreadSent
	ThreadReceived
	ThreadFriends
)

func (s ThreadStatus) String() string {
	switch s {
	case ThreadNone:
		return "NONE"
	case ThreadSending:
		return "REQUEST_SENDING"
	case ThreadSent:
		return "REQUEST_SENT"
	case ThreadReceived:
		return "REQUEST_RECEIVED"
	case ThreadFriends:
		return "FRIENDS"
	default:
		return fmt.Sprintf("[unknown thread status %d]", s)
	}
}

// settled reports whether the thread is past the point where our own
// friend request outcome may change it.
func (s ThreadStatus) settled() bool {
	return s == ThreadReceived || s == ThreadFriends
}

// ResetStatus is the session reset status of a conversation.
type ResetStatus uint8

const (
	ResetNone ResetStatus = iota
	ResetInProgress
	ResetRequestReceived
)

func (s ResetStatus) String() string {
	switch s {
	case ResetNone:
		return "NONE"
	case ResetInProgress:
		return "IN_PROGRESS"
	case ResetRequestReceived:
		return "REQUEST_RECEIVED"
	default:
		return fmt.Sprintf("[unknown reset status %d]", s)
	}
}
