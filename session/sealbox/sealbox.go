// sealbox.go - NaCl box session engine.
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

// Package sealbox is a session.Engine built on X25519 and
// XSalsa20-Poly1305.  A session is the precomputed shared key between the
// local identity key and the peer's one-time pre-key; identities are
// trusted on first use.
package sealbox

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/katzenpost/hpqc/rand"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	"github.com/katzenpost/swarmcourier/address"
	"github.com/katzenpost/swarmcourier/session"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	errNoSession     = errors.New("sealbox: no session")
	errBadBundle     = errors.New("sealbox: malformed pre-key bundle")
	errBundleForeign = errors.New("sealbox: bundle identity does not match address")
	errShortMessage  = errors.New("sealbox: message too short")
	errOpen          = errors.New("sealbox: message authentication failed")
)

type sessionState struct {
	TheirIdentity []byte   `cbor:"1,keyasint"`
	PreKeyID      uint32   `cbor:"2,keyasint"`
	SharedKey     [32]byte `cbor:"3,keyasint"`
	Acknowledged  bool     `cbor:"4,keyasint"`
}

type preKey struct {
	ID      uint32   `cbor:"1,keyasint"`
	Private [32]byte `cbor:"2,keyasint"`
}

// Engine is a session.Engine and session.FallbackCipher.
type Engine struct {
	sync.Mutex

	rng        io.Reader
	identity   [32]byte
	public     [32]byte
	trusted    map[string][]byte
	sessions   map[address.Address]*sessionState
	preKeys    map[uint32]*preKey
	nextPreKey uint32
}

// New returns an Engine for the X25519 identity private key.
func New(identity *[32]byte) (*Engine, error) {
	e := &Engine{
		rng:      rand.Reader,
		identity: *identity,
		trusted:  make(map[string][]byte),
		sessions: make(map[address.Address]*sessionState),
		preKeys:  make(map[uint32]*preKey),
	}
	pub, err := curve25519.X25519(e.identity[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(e.public[:], pub)
	return e, nil
}

// Generate returns an Engine with a fresh identity key.
func Generate() (*Engine, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return nil, err
	}
	return New(&priv)
}

// Address returns the primary device address of the local identity.
func (e *Engine) Address() address.Address {
	return address.FromPublicKey(&e.public)
}

// IdentityPrivateKey returns the identity private key.
func (e *Engine) IdentityPrivateKey() *[32]byte {
	k := e.identity
	return &k
}

// NewPreKeyBundle creates a one-time pre-key and returns the bundle to
// publish for it.
func (e *Engine) NewPreKeyBundle(device uint32) (*session.PreKeyBundle, error) {
	pub, priv, err := box.GenerateKey(e.rng)
	if err != nil {
		return nil, err
	}

	e.Lock()
	defer e.Unlock()
	e.nextPreKey++
	e.preKeys[e.nextPreKey] = &preKey{ID: e.nextPreKey, Private: *priv}
	return &session.PreKeyBundle{
		Device:      device,
		IdentityKey: append([]byte{}, e.public[:]...),
		PreKeyID:    e.nextPreKey,
		PreKey:      append([]byte{}, pub[:]...),
	}, nil
}

// TrustIdentity records key as the trusted identity key of id.
func (e *Engine) TrustIdentity(id string, key []byte) {
	e.Lock()
	defer e.Unlock()
	e.trusted[id] = append([]byte{}, key...)
}

// HasSession implements session.Engine.
func (e *Engine) HasSession(addr address.Address) bool {
	e.Lock()
	defer e.Unlock()
	_, ok := e.sessions[addr]
	return ok
}

// EstablishSession implements session.Engine.
func (e *Engine) EstablishSession(addr address.Address, b *session.PreKeyBundle) error {
	if len(b.IdentityKey) != keySize || len(b.PreKey) != keySize {
		return errBadBundle
	}
	pub, err := addr.PublicKey()
	if err != nil {
		return err
	}
	if !bytes.Equal(pub[:], b.IdentityKey) {
		return errBundleForeign
	}

	e.Lock()
	defer e.Unlock()
	if trusted, ok := e.trusted[addr.ID]; ok && !bytes.Equal(trusted, b.IdentityKey) {
		return &session.UntrustedIdentityError{IdentityKey: append([]byte{}, b.IdentityKey...)}
	}

	s := &sessionState{
		TheirIdentity: append([]byte{}, b.IdentityKey...),
		PreKeyID:      b.PreKeyID,
	}
	var theirPreKey [32]byte
	copy(theirPreKey[:], b.PreKey)
	box.Precompute(&s.SharedKey, &theirPreKey, &e.identity)

	e.sessions[addr] = s
	e.trusted[addr.ID] = s.TheirIdentity
	return nil
}

// Encrypt implements session.Engine.  Until the peer answers, messages are
// PreKeyWhisper and carry the sender identity and pre-key id.
func (e *Engine) Encrypt(addr address.Address, plaintext []byte) (*session.Ciphertext, error) {
	e.Lock()
	defer e.Unlock()

	s, ok := e.sessions[addr]
	if !ok {
		return nil, errNoSession
	}
	if trusted, ok := e.trusted[addr.ID]; ok && !bytes.Equal(trusted, s.TheirIdentity) {
		return nil, &session.UntrustedIdentityError{IdentityKey: append([]byte{}, s.TheirIdentity...)}
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(e.rng, nonce[:]); err != nil {
		return nil, err
	}

	ct := &session.Ciphertext{Type: session.Whisper}
	var out []byte
	if !s.Acknowledged {
		ct.Type = session.PreKeyWhisper
		out = append(out, e.public[:]...)
		out = binary.BigEndian.AppendUint32(out, s.PreKeyID)
	}
	out = append(out, nonce[:]...)
	ct.Body = box.SealAfterPrecomputation(out, plaintext, &nonce, &s.SharedKey)
	return ct, nil
}

// Acknowledge marks the session with addr as answered by the peer, so
// later messages no longer carry the pre-key header.
func (e *Engine) Acknowledge(addr address.Address) {
	e.Lock()
	defer e.Unlock()
	if s, ok := e.sessions[addr]; ok {
		s.Acknowledged = true
	}
}

// DeleteSession implements session.Engine.
func (e *Engine) DeleteSession(addr address.Address) {
	e.Lock()
	defer e.Unlock()
	delete(e.sessions, addr)
}

// Seal implements session.FallbackCipher.  The output is the sender's
// identity public key, a nonce and the box.
func (e *Engine) Seal(to address.Address, plaintext []byte) ([]byte, error) {
	peer, err := to.PublicKey()
	if err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(e.rng, nonce[:]); err != nil {
		return nil, err
	}
	out := make([]byte, 0, keySize+nonceSize+len(plaintext)+box.Overhead)
	out = append(out, e.public[:]...)
	out = append(out, nonce[:]...)
	return box.Seal(out, plaintext, &nonce, peer, &e.identity), nil
}

// OpenSealed opens a message produced by Seal, returning the sender
// identity.
func (e *Engine) OpenSealed(msg []byte) (address.Address, []byte, error) {
	if len(msg) < keySize+nonceSize+box.Overhead {
		return address.Address{}, nil, errShortMessage
	}
	var sender [32]byte
	var nonce [nonceSize]byte
	copy(sender[:], msg)
	copy(nonce[:], msg[keySize:])
	pt, ok := box.Open(nil, msg[keySize+nonceSize:], &nonce, &sender, &e.identity)
	if !ok {
		return address.Address{}, nil, errOpen
	}
	return address.FromPublicKey(&sender), pt, nil
}

// OpenPreKeyWhisper opens the first message of a session bootstrapped from
// one of our pre-key bundles.
func (e *Engine) OpenPreKeyWhisper(body []byte) (address.Address, []byte, error) {
	const hdr = keySize + 4 + nonceSize
	if len(body) < hdr+box.Overhead {
		return address.Address{}, nil, errShortMessage
	}
	var sender [32]byte
	copy(sender[:], body)
	id := binary.BigEndian.Uint32(body[keySize:])

	e.Lock()
	pk, ok := e.preKeys[id]
	e.Unlock()
	if !ok {
		return address.Address{}, nil, fmt.Errorf("sealbox: unknown pre-key %d", id)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], body[keySize+4:])
	pt, ok := box.Open(nil, body[hdr:], &nonce, &sender, &pk.Private)
	if !ok {
		return address.Address{}, nil, errOpen
	}
	return address.FromPublicKey(&sender), pt, nil
}

type engineState struct {
	Identity   [32]byte                 `cbor:"1,keyasint"`
	Trusted    map[string][]byte        `cbor:"2,keyasint"`
	Sessions   map[string]*sessionState `cbor:"3,keyasint"`
	PreKeys    map[uint32]*preKey       `cbor:"4,keyasint"`
	NextPreKey uint32                   `cbor:"5,keyasint"`
}

// MarshalBinary serializes the identity, trust store, sessions and unused
// pre-keys.
func (e *Engine) MarshalBinary() ([]byte, error) {
	e.Lock()
	defer e.Unlock()

	st := &engineState{
		Identity:   e.identity,
		Trusted:    e.trusted,
		Sessions:   make(map[string]*sessionState, len(e.sessions)),
		PreKeys:    e.preKeys,
		NextPreKey: e.nextPreKey,
	}
	for a, s := range e.sessions {
		st.Sessions[a.String()] = s
	}
	return cbor.Marshal(st)
}

// Load restores an Engine serialized with MarshalBinary.
func Load(data []byte) (*Engine, error) {
	st := new(engineState)
	if err := cbor.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("sealbox: corrupt state: %w", err)
	}
	e, err := New(&st.Identity)
	if err != nil {
		return nil, err
	}
	if st.Trusted != nil {
		e.trusted = st.Trusted
	}
	if st.PreKeys != nil {
		e.preKeys = st.PreKeys
	}
	e.nextPreKey = st.NextPreKey
	for k, s := range st.Sessions {
		a, err := address.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("sealbox: corrupt session key %q: %w", k, err)
		}
		e.sessions[a] = s
	}
	return e, nil
}
