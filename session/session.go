// session.go - Session crypto engine contract.
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

// Package session guards access to the cryptographic session state used to
// encrypt for a peer device.  Sessions are owned by an Engine; this package
// only decides when one must be bootstrapped and serializes every call that
// mutates them.
package session

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/katzenpost/swarmcourier/address"
)

// MessageType is the kind of ciphertext an Engine produced.
type MessageType uint8

const (
	// Whisper is a message on an established session.
	Whisper MessageType = iota

	// PreKeyWhisper is the first message on a session bootstrapped from
	// a pre-key bundle, carrying what the peer needs to build its side.
	PreKeyWhisper
)

// Ciphertext is the output of Engine.Encrypt.
type Ciphertext struct {
	Type MessageType
	Body []byte
}

// Engine owns per-device session state.
type Engine interface {
	HasSession(addr address.Address) bool

	// EstablishSession builds a session from bundle.  It returns an
	// *UntrustedIdentityError if the bundle's identity key differs from
	// the one previously trusted for addr.
	EstablishSession(addr address.Address, bundle *PreKeyBundle) error

	// Encrypt encrypts plaintext on the session for addr.  It returns an
	// *UntrustedIdentityError if the peer's identity is no longer trusted.
	Encrypt(addr address.Address, plaintext []byte) (*Ciphertext, error)

	DeleteSession(addr address.Address)
}

// FallbackCipher encrypts to a peer's long term identity key without a
// session.  It is used for friend requests and session requests, which by
// definition are sent before a session exists.
type FallbackCipher interface {
	Seal(to address.Address, plaintext []byte) ([]byte, error)
}

// PreKeyBundle is a one-time credential used to bootstrap a session with
// a peer that may be offline.
type PreKeyBundle struct {
	Device      uint32 `cbor:"1,keyasint"`
	IdentityKey []byte `cbor:"2,keyasint"`
	PreKeyID    uint32 `cbor:"3,keyasint"`
	PreKey      []byte `cbor:"4,keyasint"`
}

type wireBundle PreKeyBundle

// MarshalBinary implements encoding.BinaryMarshaler.
func (b *PreKeyBundle) MarshalBinary() ([]byte, error) {
	return cbor.Marshal((*wireBundle)(b))
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (b *PreKeyBundle) UnmarshalBinary(data []byte) error {
	return cbor.Unmarshal(data, (*wireBundle)(b))
}

// ErrNoBundle is returned by a BundleStore with nothing staged for an
// identity.
var ErrNoBundle = errors.New("session: no pre-key bundle staged")

// BundleStore holds pre-key bundles staged out of band, keyed by identity.
type BundleStore interface {
	PreKeyBundle(id string) (*PreKeyBundle, error)
	RemovePreKeyBundle(id string) error
}

// UntrustedIdentityError is returned by an Engine when a peer presents an
// identity key other than the trusted one.
type UntrustedIdentityError struct {
	IdentityKey []byte
}

func (e *UntrustedIdentityError) Error() string {
	return fmt.Sprintf("session: untrusted identity key %x", e.IdentityKey)
}

// IdentityTrustError is the untrusted identity failure reported to callers.
type IdentityTrustError struct {
	Address     address.Address
	IdentityKey []byte
}

func (e *IdentityTrustError) Error() string {
	return fmt.Sprintf("session: identity of %v is not trusted (key %x)", e.Address, e.IdentityKey)
}

// MissingBundleError means a first contact has no staged pre-key bundle.
type MissingBundleError struct {
	Address address.Address
}

func (e *MissingBundleError) Error() string {
	return fmt.Sprintf("session: no session with %v and no pre-key bundle staged", e.Address)
}
