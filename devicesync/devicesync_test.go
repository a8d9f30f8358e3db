// devicesync_test.go - Sync decision tests.
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

package devicesync

import (
	"errors"
	"testing"

	"github.com/schwarmco/go-cartesian-product"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/swarmcourier/address"
	"github.com/katzenpost/swarmcourier/content"
	"github.com/katzenpost/swarmcourier/result"
)

var (
	local = address.New("05" + "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" + "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bob   = address.New("05" + "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb" + "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	carol = address.New("05" + "cccccccccccccccccccccccccccccccc" + "cccccccccccccccccccccccccccccccc")
)

func outcome(kind string, a address.Address, needsSync bool) result.Result {
	switch kind {
	case "success":
		return &result.Success{Address: a, NeedsSync: needsSync}
	case "identity":
		return &result.IdentityFailure{Address: a}
	case "unregistered":
		return &result.UnregisteredFailure{Address: a}
	default:
		return &result.NetworkFailure{Address: a, Err: errors.New("down")}
	}
}

func TestShouldSyncTable(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	bools := []interface{}{false, true}
	kinds := []interface{}{"success", "identity", "unregistered", "network"}

	n := 0
	for p := range cartesian.Iter(bools, bools, bools, kinds, bools, kinds, bools) {
		multiDevice := p[0].(bool)
		unidentified := p[1].(bool)
		selfTrigger := p[2].(bool)
		results := []result.Result{
			outcome(p[3].(string), bob, p[4].(bool)),
			outcome(p[5].(string), carol, p[6].(bool)),
		}

		anySuccess, anyNeeds := false, false
		for _, r := range results {
			if s, ok := r.(*result.Success); ok {
				anySuccess = true
				anyNeeds = anyNeeds || s.NeedsSync
			}
		}
		want := multiDevice && anySuccess && (anyNeeds || unidentified || selfTrigger)
		require.Equal(want, ShouldSync(multiDevice, unidentified, selfTrigger, results), "%v", p)

		if !anySuccess {
			require.False(ShouldSync(multiDevice, unidentified, selfTrigger, results), "fired with every outcome failed")
		}
		n++
	}
	require.Equal(2*2*2*4*2*4*2, n)
}

func newDecider(t *testing.T, multiDevice bool) (*Decider, content.Codec) {
	codec, err := content.NewCBORCodec()
	require.NoError(t, err)
	return NewDecider(local, codec, func() bool { return multiDevice }), codec
}

func encode(t *testing.T, codec content.Codec, msg *content.DataMessage) []byte {
	b, err := codec.Encode(&content.Content{DataMessage: msg})
	require.NoError(t, err)
	return b
}

func TestSingleTranscript(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	d, codec := newDecider(t, true)
	msg := &content.DataMessage{Timestamp: 1000, Body: "hi", ExpireTimer: 60}
	payload := encode(t, codec, msg)

	dec := d.Single(bob, payload, &result.Success{Address: bob, Unidentified: true, NeedsSync: true}, true)
	require.True(dec.Sync)

	c, err := codec.Decode(dec.Transcript)
	require.NoError(err)
	require.NotNil(c.SyncMessage)
	sent := c.SyncMessage.Sent
	require.Equal(bob.ID, sent.Destination)
	require.Equal(uint64(1000), sent.Timestamp)
	require.Equal(uint64(1000), sent.ExpirationStartTimestamp)
	require.Equal("hi", sent.Message.Body)
	require.Equal([]*content.UnidentifiedStatus{{Destination: bob.ID, Unidentified: true}}, sent.UnidentifiedStatus)

	dec = d.Single(bob, payload, &result.NetworkFailure{Address: bob}, true)
	require.False(dec.Sync)
	require.Nil(dec.Transcript)

	d, _ = newDecider(t, false)
	require.False(d.Single(bob, payload, &result.Success{Address: bob, NeedsSync: true}, false).Sync)
}

func TestGroupSelfTrigger(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	d, codec := newDecider(t, true)
	recipients := []address.Address{bob, local, carol}
	results := []result.Result{
		&result.NetworkFailure{Address: bob},
		&result.Success{Address: local},
		&result.NetworkFailure{Address: carol},
	}

	dec := d.Group(recipients, encode(t, codec, &content.DataMessage{Timestamp: 5, Body: "g"}), results, false)
	require.True(dec.Sync)
	c, err := codec.Decode(dec.Transcript)
	require.NoError(err)
	require.Empty(c.SyncMessage.Sent.Destination)
	require.Len(c.SyncMessage.Sent.UnidentifiedStatus, 1)

	// Friend requests never sync, even to ourselves.
	dec = d.Group(recipients, encode(t, codec, &content.DataMessage{Timestamp: 5, FriendRequest: true}), results, false)
	require.False(dec.Sync)
}

func TestBadPayloadPanics(t *testing.T) {
	t.Parallel()
	d, _ := newDecider(t, true)
	require.Panics(t, func() {
		d.Single(bob, []byte{0xff, 0x00}, &result.Success{Address: bob, NeedsSync: true}, false)
	})
}
