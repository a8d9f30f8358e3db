// builder.go - Envelope construction.
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

package envelope

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/katzenpost/swarmcourier/address"
	"github.com/katzenpost/swarmcourier/content"
	"github.com/katzenpost/swarmcourier/session"
)

var errNoFallback = errors.New("envelope: no fallback cipher configured")

// Sealer encrypts for a peer on a session, bootstrapping it if needed.
// *session.Gatekeeper is a Sealer.
type Sealer interface {
	Seal(addr address.Address, plaintext []byte) (*session.Ciphertext, error)
}

// UnidentifiedAccess is the material needed to hide the sender from
// storage nodes.  The certificate is sealed to the recipient together
// with the inner envelope.
type UnidentifiedAccess struct {
	Certificate []byte
}

type sealedSender struct {
	Certificate []byte `cbor:"1,keyasint"`
	Type        Type   `cbor:"2,keyasint"`
	Payload     []byte `cbor:"3,keyasint"`
}

// Request describes one envelope to build.
type Request struct {
	Recipient address.Address
	Timestamp uint64

	// Content is the encoded content.  It is padded and encrypted.
	Content []byte

	Class Class

	// TTL overrides the class lifetime, in milliseconds.
	TTL uint64

	// Fallback encrypts to the recipient identity key instead of a
	// session.  Friend requests, session requests and pairing use it.
	Fallback bool

	Access *UnidentifiedAccess
}

// Builder builds OutgoingEnvelopes for the local identity.
type Builder struct {
	local    address.Address
	sealer   Sealer
	fallback session.FallbackCipher
}

// NewBuilder returns a Builder for envelopes sent by local.
func NewBuilder(local address.Address, sealer Sealer, fallback session.FallbackCipher) *Builder {
	return &Builder{
		local:    local,
		sealer:   sealer,
		fallback: fallback,
	}
}

// Build encrypts the request content and wraps it in an envelope.
func (b *Builder) Build(req *Request) (*OutgoingEnvelope, error) {
	padded := content.Pad(req.Content)

	env := &OutgoingEnvelope{
		timestamp:    req.Timestamp,
		ttl:          req.TTL,
		senderID:     b.local.ID,
		senderDevice: b.local.Device,
	}
	if env.ttl == 0 {
		env.ttl = uint64(req.Class.TTL().Milliseconds())
	}

	if req.Fallback {
		if b.fallback == nil {
			return nil, errNoFallback
		}
		body, err := b.fallback.Seal(req.Recipient, padded)
		if err != nil {
			return nil, fmt.Errorf("envelope: fallback seal: %w", err)
		}
		env.typ, env.payload = TypeFriendRequest, body
	} else {
		ct, err := b.sealer.Seal(req.Recipient, padded)
		if err != nil {
			return nil, err
		}
		env.typ, env.payload = TypeCiphertext, ct.Body
		if ct.Type == session.PreKeyWhisper {
			env.typ = TypePreKeyBundle
		}
	}

	if req.Access != nil {
		inner, err := cbor.Marshal(&sealedSender{
			Certificate: req.Access.Certificate,
			Type:        env.typ,
			Payload:     env.payload,
		})
		if err != nil {
			return nil, err
		}
		if b.fallback == nil {
			return nil, errNoFallback
		}
		sealed, err := b.fallback.Seal(req.Recipient, inner)
		if err != nil {
			return nil, fmt.Errorf("envelope: sealing sender certificate: %w", err)
		}
		env.typ, env.payload = TypeUnidentifiedSender, sealed
		env.senderID, env.senderDevice = "", 0
	}
	return env, nil
}
