// builder_test.go - Envelope builder tests.
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
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/swarmcourier/address"
	"github.com/katzenpost/swarmcourier/content"
	"github.com/katzenpost/swarmcourier/session"
)

type fakeSealer struct {
	typ session.MessageType
	err error
}

func (f *fakeSealer) Seal(_ address.Address, pt []byte) (*session.Ciphertext, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &session.Ciphertext{Type: f.typ, Body: append([]byte("s:"), pt...)}, nil
}

type fakeFallback struct{}

func (fakeFallback) Seal(_ address.Address, pt []byte) ([]byte, error) {
	return append([]byte("f:"), pt...), nil
}

// maskFallback hides its input so tests can tell sealed bytes from clear
// ones.
type maskFallback struct{}

func (maskFallback) Seal(_ address.Address, pt []byte) ([]byte, error) {
	return mask(pt), nil
}

func mask(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[i] ^ 0x5a
	}
	return out
}

var (
	local = address.New("05" + strings.Repeat("01", 32))
	peer  = address.New("05" + strings.Repeat("02", 32))
)

func TestClassTTL(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	require.Equal(24*time.Hour, ClassDefault.TTL())
	require.Equal(96*time.Hour, ClassFriendRequest.TTL())
	require.Equal(2*time.Minute, ClassPairingAuthorisation.TTL())
}

func TestBuildSession(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	b := NewBuilder(local, &fakeSealer{typ: session.Whisper}, fakeFallback{})
	env, err := b.Build(&Request{Recipient: peer, Timestamp: 42, Content: []byte("hello")})
	require.NoError(err)
	require.Equal(TypeCiphertext, env.Type())
	require.Equal(uint64(42), env.Timestamp())
	require.Equal(uint64(DefaultTTL.Milliseconds()), env.TTLMillis())
	require.Equal(local.ID, env.SenderID())
	require.Equal(local.Device, env.SenderDevice())

	body := env.Payload()
	require.True(strings.HasPrefix(string(body), "s:"))
	pt, err := content.Unpad(body[2:])
	require.NoError(err)
	require.Equal([]byte("hello"), pt)

	body[0] = 'X'
	require.NotEqual(body, env.Payload(), "payload is copied out")

	b = NewBuilder(local, &fakeSealer{typ: session.PreKeyWhisper}, nil)
	env, err = b.Build(&Request{Recipient: peer, Content: []byte("x"), TTL: 5})
	require.NoError(err)
	require.Equal(TypePreKeyBundle, env.Type())
	require.Equal(uint64(5), env.TTLMillis())
}

func TestBuildFallbackAndUnidentified(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cert := []byte("sender certificate of 05010101")
	b := NewBuilder(local, &fakeSealer{err: errors.New("must not be called")}, maskFallback{})
	env, err := b.Build(&Request{
		Recipient: peer,
		Content:   []byte("befriend me"),
		Class:     ClassFriendRequest,
		Fallback:  true,
		Access:    &UnidentifiedAccess{Certificate: cert},
	})
	require.NoError(err)
	require.Equal(TypeUnidentifiedSender, env.Type())
	require.Empty(env.SenderID())
	require.Zero(env.SenderDevice())
	require.Equal(uint64(FriendRequestTTL.Milliseconds()), env.TTLMillis())
	require.False(bytes.Contains(env.Payload(), cert), "certificate must not travel in the clear")

	inner := new(sealedSender)
	require.NoError(cbor.Unmarshal(mask(env.Payload()), inner))
	require.Equal(TypeFriendRequest, inner.Type)
	require.Equal(cert, inner.Certificate)
	pt, err := content.Unpad(mask(inner.Payload))
	require.NoError(err)
	require.Equal([]byte("befriend me"), pt)

	_, err = NewBuilder(local, nil, nil).Build(&Request{Recipient: peer, Fallback: true})
	require.ErrorIs(err, errNoFallback)
}

func TestUnidentifiedSessionMessage(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cert := []byte("certificate")
	env, err := NewBuilder(local, &fakeSealer{typ: session.Whisper}, maskFallback{}).Build(&Request{
		Recipient: peer,
		Content:   []byte("hi"),
		Access:    &UnidentifiedAccess{Certificate: cert},
	})
	require.NoError(err)
	require.Equal(TypeUnidentifiedSender, env.Type())
	require.False(bytes.Contains(env.Payload(), cert))

	inner := new(sealedSender)
	require.NoError(cbor.Unmarshal(mask(env.Payload()), inner))
	require.Equal(TypeCiphertext, inner.Type)
	require.Equal(cert, inner.Certificate)

	_, err = NewBuilder(local, &fakeSealer{}, nil).Build(&Request{
		Recipient: peer,
		Content:   []byte("hi"),
		Access:    &UnidentifiedAccess{Certificate: cert},
	})
	require.ErrorIs(err, errNoFallback)
}

func TestBuildPropagatesSessionErrors(t *testing.T) {
	t.Parallel()
	missing := &session.MissingBundleError{Address: peer}
	b := NewBuilder(local, &fakeSealer{err: missing}, nil)
	_, err := b.Build(&Request{Recipient: peer, Content: []byte("x")})
	var got *session.MissingBundleError
	require.ErrorAs(t, err, &got)
}

func TestWireRoundTrip(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	b := NewBuilder(local, &fakeSealer{}, nil)
	env, err := b.Build(&Request{Recipient: peer, Timestamp: 7, Content: []byte("wire")})
	require.NoError(err)

	raw, err := env.MarshalBinary()
	require.NoError(err)
	got, err := Decode(raw)
	require.NoError(err)
	require.Equal(env, got)

	_, err = Decode([]byte{0xa0})
	require.Error(err)
}
