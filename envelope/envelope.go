// envelope.go - Outgoing envelopes.
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

// Package envelope wraps encrypted payloads with the routing metadata
// storage nodes and recipients need.
package envelope

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Type tags the payload of an envelope.
type Type uint8

const (
	TypeUnknown            Type = 0
	TypeCiphertext         Type = 1
	TypePreKeyBundle       Type = 3
	TypeReceipt            Type = 5
	TypeUnidentifiedSender Type = 6
	TypeFriendRequest      Type = 101
)

func (t Type) String() string {
	switch t {
	case TypeCiphertext:
		return "ciphertext"
	case TypePreKeyBundle:
		return "prekey-bundle"
	case TypeReceipt:
		return "receipt"
	case TypeUnidentifiedSender:
		return "unidentified-sender"
	case TypeFriendRequest:
		return "friend-request"
	default:
		return fmt.Sprintf("[unknown type %d]", uint8(t))
	}
}

const (
	// DefaultTTL is how long storage nodes keep an ordinary envelope.
	DefaultTTL = 24 * time.Hour

	// FriendRequestTTL is longer so an offline contact still sees the
	// request.
	FriendRequestTTL = 4 * 24 * time.Hour

	// PairingAuthorisationTTL is short since pairing is interactive.
	PairingAuthorisationTTL = 2 * time.Minute
)

// Class selects the default TTL of an envelope.
type Class uint8

const (
	ClassDefault Class = iota
	ClassFriendRequest
	ClassPairingAuthorisation
)

// TTL returns the lifetime of envelopes of class c.
func (c Class) TTL() time.Duration {
	switch c {
	case ClassFriendRequest:
		return FriendRequestTTL
	case ClassPairingAuthorisation:
		return PairingAuthorisationTTL
	default:
		return DefaultTTL
	}
}

var errMalformed = errors.New("envelope: malformed")

// OutgoingEnvelope is an immutable envelope ready for delivery.
type OutgoingEnvelope struct {
	timestamp    uint64
	ttl          uint64
	senderID     string
	senderDevice uint32
	typ          Type
	payload      []byte
}

// Timestamp is the message timestamp in milliseconds since the epoch.
func (e *OutgoingEnvelope) Timestamp() uint64 { return e.timestamp }

// TTLMillis is the storage lifetime in milliseconds.
func (e *OutgoingEnvelope) TTLMillis() uint64 { return e.ttl }

// SenderID is the sender identity, empty for unidentified delivery.
func (e *OutgoingEnvelope) SenderID() string { return e.senderID }

// SenderDevice is the sender device, zero for unidentified delivery.
func (e *OutgoingEnvelope) SenderDevice() uint32 { return e.senderDevice }

// Type is the payload type.
func (e *OutgoingEnvelope) Type() Type { return e.typ }

// Payload returns a copy of the ciphertext.
func (e *OutgoingEnvelope) Payload() []byte { return append([]byte{}, e.payload...) }

type wireEnvelope struct {
	Type         Type   `cbor:"1,keyasint"`
	Timestamp    uint64 `cbor:"2,keyasint"`
	TTL          uint64 `cbor:"3,keyasint"`
	SenderID     string `cbor:"4,keyasint,omitempty"`
	SenderDevice uint32 `cbor:"5,keyasint,omitempty"`
	Payload      []byte `cbor:"6,keyasint"`
}

// MarshalBinary returns the wire form stored on storage nodes.
func (e *OutgoingEnvelope) MarshalBinary() ([]byte, error) {
	return cbor.Marshal(&wireEnvelope{
		Type:         e.typ,
		Timestamp:    e.timestamp,
		TTL:          e.ttl,
		SenderID:     e.senderID,
		SenderDevice: e.senderDevice,
		Payload:      e.payload,
	})
}

// Decode parses the wire form produced by MarshalBinary.
func Decode(b []byte) (*OutgoingEnvelope, error) {
	w := new(wireEnvelope)
	if err := cbor.Unmarshal(b, w); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if w.Type == TypeUnknown || len(w.Payload) == 0 {
		return nil, errMalformed
	}
	return &OutgoingEnvelope{
		timestamp:    w.Timestamp,
		ttl:          w.TTL,
		senderID:     w.SenderID,
		senderDevice: w.SenderDevice,
		typ:          w.Type,
		payload:      w.Payload,
	}, nil
}
