// pow_test.go - Proof of work tests.
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

package pow

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTarget(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	// No TTL: MaxUint64 / (difficulty * totalSize).
	require.Equal(uint64(math.MaxUint64/(10*(92+8))), Target(999, 92, 10))

	// Longer lived and larger messages cost more.
	require.Less(Target(86400000, 100, 10), Target(60000, 100, 10))
	require.Less(Target(60000, 1000, 10), Target(60000, 100, 10))
	require.Less(Target(60000, 100, 100), Target(60000, 100, 10))
}

func TestCalculateAndVerify(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	const (
		pubKey = "05d871fc80ca007eed9b2f4df72853e2a2d5465a92fcb1889fb5c84aa2833b3b40"
		data   = "CAESvgMKA1BVVBIPL2FwaS92MS9tZXNzYWdl"
		ts     = uint64(1565000000000)
		ttl    = uint64(86400000)
	)

	nonce, err := Calculate(context.Background(), pubKey, data, ts, ttl, DefaultDifficulty)
	require.NoError(err)
	require.True(Verify(nonce, pubKey, data, ts, ttl, DefaultDifficulty))
	require.False(Verify(nonce, pubKey, data+"x", ts+1, ttl, DefaultDifficulty*1000))
	require.False(Verify("not base64!", pubKey, data, ts, ttl, DefaultDifficulty))

	_, err = Calculate(context.Background(), pubKey, data, ts, ttl, 0)
	require.ErrorIs(err, errBadDifficulty)
}

func TestCalculateCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// An absurd difficulty never finishes on its own.
	_, err := Calculate(ctx, "05aa", "data", 1, 86400000, math.MaxInt32)
	require.ErrorIs(t, err, context.Canceled)
}
