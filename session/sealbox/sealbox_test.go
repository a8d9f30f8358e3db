// sealbox_test.go - NaCl box session engine tests.
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

package sealbox

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/swarmcourier/session"
)

func TestSessionBootstrap(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	alice, err := Generate()
	require.NoError(err)
	bob, err := Generate()
	require.NoError(err)

	bundle, err := bob.NewPreKeyBundle(1)
	require.NoError(err)

	bobAddr := bob.Address()
	require.False(alice.HasSession(bobAddr))
	require.NoError(alice.EstablishSession(bobAddr, bundle))
	require.True(alice.HasSession(bobAddr))

	ct, err := alice.Encrypt(bobAddr, []byte("first contact"))
	require.NoError(err)
	require.Equal(session.PreKeyWhisper, ct.Type)

	from, pt, err := bob.OpenPreKeyWhisper(ct.Body)
	require.NoError(err)
	require.Equal(alice.Address(), from)
	require.Equal([]byte("first contact"), pt)

	alice.Acknowledge(bobAddr)
	ct, err = alice.Encrypt(bobAddr, []byte("again"))
	require.NoError(err)
	require.Equal(session.Whisper, ct.Type)

	alice.DeleteSession(bobAddr)
	_, err = alice.Encrypt(bobAddr, []byte("gone"))
	require.Error(err)
}

func TestBundleChecks(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	alice, err := Generate()
	require.NoError(err)
	bob, err := Generate()
	require.NoError(err)
	mallory, err := Generate()
	require.NoError(err)

	forged, err := mallory.NewPreKeyBundle(1)
	require.NoError(err)
	require.ErrorIs(alice.EstablishSession(bob.Address(), forged), errBundleForeign)
	require.ErrorIs(alice.EstablishSession(bob.Address(), &session.PreKeyBundle{}), errBadBundle)

	bundle, err := bob.NewPreKeyBundle(1)
	require.NoError(err)
	alice.TrustIdentity(bob.Address().ID, []byte("some other key"))
	err = alice.EstablishSession(bob.Address(), bundle)
	var untrusted *session.UntrustedIdentityError
	require.ErrorAs(err, &untrusted)
	require.Equal(bundle.IdentityKey, untrusted.IdentityKey)
}

func TestEncryptAfterTrustChange(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	alice, err := Generate()
	require.NoError(err)
	bob, err := Generate()
	require.NoError(err)
	bundle, err := bob.NewPreKeyBundle(1)
	require.NoError(err)
	require.NoError(alice.EstablishSession(bob.Address(), bundle))

	alice.TrustIdentity(bob.Address().ID, make([]byte, 32))
	_, err = alice.Encrypt(bob.Address(), []byte("x"))
	var untrusted *session.UntrustedIdentityError
	require.ErrorAs(err, &untrusted)
}

func TestFallbackSeal(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	alice, err := Generate()
	require.NoError(err)
	bob, err := Generate()
	require.NoError(err)

	sealed, err := alice.Seal(bob.Address(), []byte("friend request"))
	require.NoError(err)

	from, pt, err := bob.OpenSealed(sealed)
	require.NoError(err)
	require.Equal(alice.Address(), from)
	require.Equal([]byte("friend request"), pt)

	_, _, err = alice.OpenSealed(sealed)
	require.Error(err)
}

func TestStateRoundTrip(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	alice, err := Generate()
	require.NoError(err)
	bob, err := Generate()
	require.NoError(err)
	bundle, err := bob.NewPreKeyBundle(2)
	require.NoError(err)
	require.NoError(alice.EstablishSession(bob.Address(), bundle))

	raw, err := alice.MarshalBinary()
	require.NoError(err)
	restored, err := Load(raw)
	require.NoError(err)
	require.Equal(alice.Address(), restored.Address())
	require.True(restored.HasSession(bob.Address()))

	raw, err = bob.MarshalBinary()
	require.NoError(err)
	bob2, err := Load(raw)
	require.NoError(err)

	ct, err := restored.Encrypt(bob.Address(), []byte("persisted"))
	require.NoError(err)
	_, pt, err := bob2.OpenPreKeyWhisper(ct.Body)
	require.NoError(err)
	require.Equal([]byte("persisted"), pt)
}
