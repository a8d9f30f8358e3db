// gatekeeper_test.go - Session gatekeeper tests.
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
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/swarmcourier/address"
	"github.com/katzenpost/swarmcourier/event"
)

type fakeEngine struct {
	sync.Mutex
	sessions    map[address.Address]bool
	established int
	untrusted   []byte
	inFlight    atomic.Int32
	overlap     atomic.Bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{sessions: make(map[address.Address]bool)}
}

func (e *fakeEngine) enter() func() {
	if e.inFlight.Add(1) > 1 {
		e.overlap.Store(true)
	}
	return func() { e.inFlight.Add(-1) }
}

func (e *fakeEngine) HasSession(a address.Address) bool {
	e.Lock()
	defer e.Unlock()
	return e.sessions[a]
}

func (e *fakeEngine) EstablishSession(a address.Address, b *PreKeyBundle) error {
	defer e.enter()()
	e.Lock()
	defer e.Unlock()
	if e.untrusted != nil {
		e.sessions[a] = true
		return &UntrustedIdentityError{IdentityKey: e.untrusted}
	}
	e.sessions[a] = true
	e.established++
	return nil
}

func (e *fakeEngine) Encrypt(a address.Address, pt []byte) (*Ciphertext, error) {
	defer e.enter()()
	e.Lock()
	defer e.Unlock()
	if e.untrusted != nil {
		return nil, &UntrustedIdentityError{IdentityKey: e.untrusted}
	}
	if !e.sessions[a] {
		return nil, errors.New("no session")
	}
	return &Ciphertext{Type: Whisper, Body: append([]byte("ct:"), pt...)}, nil
}

func (e *fakeEngine) DeleteSession(a address.Address) {
	e.Lock()
	defer e.Unlock()
	delete(e.sessions, a)
}

type fakeBundles struct {
	sync.Mutex
	bundles map[string]*PreKeyBundle
	lookups int
}

func (s *fakeBundles) PreKeyBundle(id string) (*PreKeyBundle, error) {
	s.Lock()
	defer s.Unlock()
	s.lookups++
	b, ok := s.bundles[id]
	if !ok {
		return nil, ErrNoBundle
	}
	return b, nil
}

func (s *fakeBundles) RemovePreKeyBundle(id string) error {
	s.Lock()
	defer s.Unlock()
	delete(s.bundles, id)
	return nil
}

type recordingEmitter struct {
	sync.Mutex
	events []event.Event
}

func (r *recordingEmitter) Emit(e event.Event) {
	r.Lock()
	defer r.Unlock()
	r.events = append(r.events, e)
}

var peer = address.New("05" + strings.Repeat("ab", 32))

func newTestGatekeeper() (*Gatekeeper, *fakeEngine, *fakeBundles, *recordingEmitter) {
	e := newFakeEngine()
	b := &fakeBundles{bundles: map[string]*PreKeyBundle{
		peer.ID: {Device: 1, IdentityKey: []byte{1}, PreKeyID: 9, PreKey: []byte{2}},
	}}
	r := new(recordingEmitter)
	return NewGatekeeper(e, b, r, logging.MustGetLogger("session_test")), e, b, r
}

func TestEnsureSessionExisting(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	g, e, b, r := newTestGatekeeper()
	e.sessions[peer] = true

	require.NoError(g.EnsureSession(peer))
	require.Zero(b.lookups)
	require.Empty(r.events)
}

func TestBundleConsumedExactlyOnce(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	g, e, b, r := newTestGatekeeper()

	require.NoError(g.EnsureSession(peer))
	require.Equal(1, e.established)
	require.Empty(b.bundles)
	require.Len(r.events, 1)
	require.Equal(&event.SecurityEvent{Address: peer, Reason: event.SessionEstablished}, r.events[0])

	g.DropSession(peer)

	err := g.EnsureSession(peer)
	var missing *MissingBundleError
	require.ErrorAs(err, &missing)
	require.Equal(peer, missing.Address)
	require.Equal(1, e.established)
	require.Len(r.events, 1)
}

func TestEnsureSessionUntrusted(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	g, e, b, r := newTestGatekeeper()
	e.untrusted = []byte{0xee}

	err := g.EnsureSession(peer)
	var trust *IdentityTrustError
	require.ErrorAs(err, &trust)
	require.Equal(peer, trust.Address)
	require.Equal([]byte{0xee}, trust.IdentityKey)

	require.False(e.HasSession(peer), "half built session is discarded")
	require.Contains(b.bundles, peer.ID, "bundle is kept when the session is refused")
	require.Empty(r.events)
}

func TestEncryptUntrusted(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	g, e, _, _ := newTestGatekeeper()
	ct, err := g.Seal(peer, []byte("hi"))
	require.NoError(err)
	require.Equal([]byte("ct:hi"), ct.Body)

	e.untrusted = []byte{0x01}
	_, err = g.Encrypt(peer, []byte("hi"))
	var trust *IdentityTrustError
	require.ErrorAs(err, &trust)
}

func TestSessionOperationsAreSerialized(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	g, e, _, _ := newTestGatekeeper()
	require.NoError(g.EnsureSession(peer))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Seal(peer, []byte("x"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.False(e.overlap.Load())
}
