// content.go - Logical message content.
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

// Package content defines the logical messages carried inside envelopes
// and the codec that turns them into opaque payload bytes.
package content

// GroupType is the kind of group update a data message carries.
type GroupType uint8

const (
	GroupUnknown GroupType = iota
	GroupUpdate
	GroupDeliver
	GroupQuit
	GroupRequestInfo
)

// TypingAction is whether a peer started or stopped typing.
type TypingAction uint8

const (
	TypingStarted TypingAction = iota
	TypingStopped
)

// ReceiptType distinguishes delivery and read receipts.
type ReceiptType uint8

const (
	ReceiptDelivery ReceiptType = iota
	ReceiptRead
)

// Content is the top level message.  Exactly one of the message fields is
// normally set.
type Content struct {
	DataMessage          *DataMessage          `cbor:"1,keyasint,omitempty"`
	SyncMessage          *SyncMessage          `cbor:"2,keyasint,omitempty"`
	CallMessage          *CallMessage          `cbor:"3,keyasint,omitempty"`
	TypingMessage        *TypingMessage        `cbor:"4,keyasint,omitempty"`
	ReceiptMessage       *ReceiptMessage       `cbor:"5,keyasint,omitempty"`
	PairingAuthorisation *PairingAuthorisation `cbor:"6,keyasint,omitempty"`

	// PreKeyBundle is an encoded bundle for the recipient to bootstrap a
	// session back to the sender.  Friend requests carry one.
	PreKeyBundle []byte `cbor:"7,keyasint,omitempty"`
}

// IsEmpty reports whether no message is set.
func (c *Content) IsEmpty() bool {
	return c.DataMessage == nil && c.SyncMessage == nil && c.CallMessage == nil &&
		c.TypingMessage == nil && c.ReceiptMessage == nil && c.PairingAuthorisation == nil
}

// AttachmentPointer locates an uploaded attachment and carries the key
// needed to decrypt it.
type AttachmentPointer struct {
	ID          uint64 `cbor:"1,keyasint"`
	URL         string `cbor:"2,keyasint"`
	ContentType string `cbor:"3,keyasint"`
	Key         []byte `cbor:"4,keyasint,omitempty"`
	Digest      []byte `cbor:"5,keyasint,omitempty"`
	Size        uint32 `cbor:"6,keyasint"`
	FileName    string `cbor:"7,keyasint,omitempty"`
	Caption     string `cbor:"8,keyasint,omitempty"`
}

// GroupContext ties a data message to a group.
type GroupContext struct {
	ID      []byte    `cbor:"1,keyasint"`
	Type    GroupType `cbor:"2,keyasint"`
	Name    string    `cbor:"3,keyasint,omitempty"`
	Members []string  `cbor:"4,keyasint,omitempty"`
}

// Quote references an earlier message being replied to.
type Quote struct {
	ID     uint64 `cbor:"1,keyasint"`
	Author string `cbor:"2,keyasint"`
	Text   string `cbor:"3,keyasint,omitempty"`
}

// Profile is the sender's public profile.
type Profile struct {
	DisplayName string `cbor:"1,keyasint,omitempty"`
	AvatarURL   string `cbor:"2,keyasint,omitempty"`
}

// DataMessage is a user visible message.
type DataMessage struct {
	Timestamp   uint64               `cbor:"1,keyasint"`
	Body        string               `cbor:"2,keyasint,omitempty"`
	Attachments []*AttachmentPointer `cbor:"3,keyasint,omitempty"`
	Group       *GroupContext        `cbor:"4,keyasint,omitempty"`
	Quote       *Quote               `cbor:"5,keyasint,omitempty"`
	Profile     *Profile             `cbor:"6,keyasint,omitempty"`
	ProfileKey  []byte               `cbor:"7,keyasint,omitempty"`
	ExpireTimer uint32               `cbor:"8,keyasint,omitempty"`

	// EndSession asks the peer to discard the current session.
	EndSession bool `cbor:"9,keyasint,omitempty"`

	// FriendRequest marks the first message to a new contact.
	FriendRequest bool `cbor:"10,keyasint,omitempty"`

	// SessionRequest asks a known contact to restore a lost session.
	SessionRequest bool `cbor:"11,keyasint,omitempty"`

	// TTL overrides the envelope lifetime, in milliseconds.  Zero selects
	// the default for the message class.
	TTL uint64 `cbor:"-"`
}

// SentTranscript mirrors a sent data message to the sender's other
// devices.
type SentTranscript struct {
	Destination              string                `cbor:"1,keyasint,omitempty"`
	Timestamp                uint64                `cbor:"2,keyasint"`
	Message                  *DataMessage          `cbor:"3,keyasint"`
	ExpirationStartTimestamp uint64                `cbor:"4,keyasint,omitempty"`
	UnidentifiedStatus       []*UnidentifiedStatus `cbor:"5,keyasint,omitempty"`
	IsRecipientUpdate        bool                  `cbor:"6,keyasint,omitempty"`
}

// UnidentifiedStatus records whether a recipient was reached with
// unidentified access.
type UnidentifiedStatus struct {
	Destination  string `cbor:"1,keyasint"`
	Unidentified bool   `cbor:"2,keyasint"`
}

// ReadMessage marks a received message as read.
type ReadMessage struct {
	Sender    string `cbor:"1,keyasint"`
	Timestamp uint64 `cbor:"2,keyasint"`
}

// SyncMessage keeps linked devices consistent.
type SyncMessage struct {
	Sent          *SentTranscript `cbor:"1,keyasint,omitempty"`
	Contacts      []byte          `cbor:"2,keyasint,omitempty"`
	Groups        []byte          `cbor:"3,keyasint,omitempty"`
	Read          []*ReadMessage  `cbor:"4,keyasint,omitempty"`
	Blocked       []string        `cbor:"5,keyasint,omitempty"`
	ReadReceipts  *bool           `cbor:"6,keyasint,omitempty"`
	OpenGroupURLs []string        `cbor:"7,keyasint,omitempty"`
}

// TypingMessage is a typing indicator.
type TypingMessage struct {
	Timestamp uint64       `cbor:"1,keyasint"`
	Action    TypingAction `cbor:"2,keyasint"`
	GroupID   []byte       `cbor:"3,keyasint,omitempty"`
}

// ReceiptMessage acknowledges one or more messages.
type ReceiptMessage struct {
	Type       ReceiptType `cbor:"1,keyasint"`
	Timestamps []uint64    `cbor:"2,keyasint"`
}

// CallDescription is an SDP offer or answer.
type CallDescription struct {
	ID          uint64 `cbor:"1,keyasint"`
	Description string `cbor:"2,keyasint"`
}

// IceUpdate is a single ICE candidate.
type IceUpdate struct {
	ID            uint64 `cbor:"1,keyasint"`
	SdpMid        string `cbor:"2,keyasint"`
	SdpMLineIndex uint32 `cbor:"3,keyasint"`
	Sdp           string `cbor:"4,keyasint"`
}

// CallMessage carries call signalling.
type CallMessage struct {
	Offer      *CallDescription `cbor:"1,keyasint,omitempty"`
	Answer     *CallDescription `cbor:"2,keyasint,omitempty"`
	IceUpdates []*IceUpdate     `cbor:"3,keyasint,omitempty"`
	Hangup     *uint64          `cbor:"4,keyasint,omitempty"`
	Busy       *uint64          `cbor:"5,keyasint,omitempty"`
}

// PairingAuthorisation links a secondary device to a primary one.
type PairingAuthorisation struct {
	Primary          string `cbor:"1,keyasint"`
	Secondary        string `cbor:"2,keyasint"`
	RequestSignature []byte `cbor:"3,keyasint"`
	GrantSignature   []byte `cbor:"4,keyasint,omitempty"`
}
