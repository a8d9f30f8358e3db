// gatekeeper.go - Session bootstrap and serialized encryption.
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

package session

import (
	"errors"
	"fmt"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/swarmcourier/address"
	"github.com/katzenpost/swarmcourier/event"
)

// lock serializes every session mutation in the process.  Ratchet state
// is not safe for concurrent mutation and may be shared between
// Gatekeepers over the same Engine.
var lock sync.Mutex

// Emitter receives the security events a Gatekeeper produces.
type Emitter interface {
	Emit(event.Event)
}

// Gatekeeper makes sure a session exists before encrypting for a peer.
type Gatekeeper struct {
	log     *logging.Logger
	engine  Engine
	bundles BundleStore
	events  Emitter
}

// NewGatekeeper returns a Gatekeeper over engine, bootstrapping sessions
// from bundles.  events may be nil.
func NewGatekeeper(engine Engine, bundles BundleStore, events Emitter, log *logging.Logger) *Gatekeeper {
	return &Gatekeeper{
		log:     log,
		engine:  engine,
		bundles: bundles,
		events:  events,
	}
}

// EnsureSession succeeds if a session with addr exists, bootstrapping one
// from the staged pre-key bundle if needed.  The bundle is consumed on
// success.
func (g *Gatekeeper) EnsureSession(addr address.Address) error {
	lock.Lock()
	defer lock.Unlock()
	return g.ensureSession(addr)
}

// Encrypt encrypts plaintext for addr on an existing session.
func (g *Gatekeeper) Encrypt(addr address.Address, plaintext []byte) (*Ciphertext, error) {
	lock.Lock()
	defer lock.Unlock()
	return g.encrypt(addr, plaintext)
}

// Seal bootstraps a session if needed and encrypts for addr as a single
// step with respect to every other session operation.
func (g *Gatekeeper) Seal(addr address.Address, plaintext []byte) (*Ciphertext, error) {
	lock.Lock()
	defer lock.Unlock()

	if err := g.ensureSession(addr); err != nil {
		return nil, err
	}
	return g.encrypt(addr, plaintext)
}

// DropSession discards the session with addr.
func (g *Gatekeeper) DropSession(addr address.Address) {
	lock.Lock()
	defer lock.Unlock()
	g.engine.DeleteSession(addr)
}

func (g *Gatekeeper) ensureSession(addr address.Address) error {
	if g.engine.HasSession(addr) {
		return nil
	}

	bundle, err := g.bundles.PreKeyBundle(addr.ID)
	switch {
	case errors.Is(err, ErrNoBundle):
		return &MissingBundleError{Address: addr}
	case err != nil:
		return fmt.Errorf("session: loading pre-key bundle for %v: %w", addr, err)
	}

	if err := g.engine.EstablishSession(addr, bundle); err != nil {
		var untrusted *UntrustedIdentityError
		if errors.As(err, &untrusted) {
			g.engine.DeleteSession(addr)
			g.log.Warningf("Refusing session with %v: identity key changed", addr)
			return &IdentityTrustError{Address: addr, IdentityKey: untrusted.IdentityKey}
		}
		return fmt.Errorf("session: establishing session with %v: %w", addr, err)
	}

	if err := g.bundles.RemovePreKeyBundle(addr.ID); err != nil {
		g.log.Errorf("Failed to remove consumed pre-key bundle for %v: %v", addr, err)
	}
	g.log.Noticef("Established session with %v", addr)
	if g.events != nil {
		g.events.Emit(&event.SecurityEvent{Address: addr, Reason: event.SessionEstablished})
	}
	return nil
}

func (g *Gatekeeper) encrypt(addr address.Address, plaintext []byte) (*Ciphertext, error) {
	ct, err := g.engine.Encrypt(addr, plaintext)
	if err != nil {
		var untrusted *UntrustedIdentityError
		if errors.As(err, &untrusted) {
			return nil, &IdentityTrustError{Address: addr, IdentityKey: untrusted.IdentityKey}
		}
		return nil, fmt.Errorf("session: encrypt for %v: %w", addr, err)
	}
	return ct, nil
}
