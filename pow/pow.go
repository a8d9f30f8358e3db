// pow.go - Storage node proof of work.
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

// Package pow computes the proof of work storage nodes demand before they
// accept a message.
package pow

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"math/big"
	"strconv"
)

const (
	nonceSize = 8

	// DefaultDifficulty is the nonce trial count used until a storage
	// node asks for another.
	DefaultDifficulty = 10
)

var errBadDifficulty = errors.New("pow: difficulty must be positive")

// Payload returns the bytes the proof of work is computed over.
func Payload(pubKey string, data string, timestamp uint64, ttlMillis uint64) []byte {
	b := make([]byte, 0, 40+len(pubKey)+len(data))
	b = strconv.AppendUint(b, timestamp, 10)
	b = strconv.AppendUint(b, ttlMillis, 10)
	b = append(b, pubKey...)
	return append(b, data...)
}

// Target returns the value a trial must not exceed.
func Target(ttlMillis uint64, payloadSize int, difficulty int) uint64 {
	totalSize := new(big.Int).SetUint64(uint64(payloadSize + nonceSize))
	ttlSeconds := new(big.Int).SetUint64(ttlMillis / 1000)

	// denominator = difficulty * (totalSize + ttlSeconds*totalSize/(2^16-1))
	d := new(big.Int).Mul(ttlSeconds, totalSize)
	d.Div(d, big.NewInt(math.MaxUint16))
	d.Add(d, totalSize)
	d.Mul(d, big.NewInt(int64(difficulty)))

	t := new(big.Int).SetUint64(math.MaxUint64)
	return t.Div(t, d).Uint64()
}

// Calculate searches for a nonce over the message and returns it base64
// encoded.  ctx bounds the search.
func Calculate(ctx context.Context, pubKey string, data string, timestamp uint64, ttlMillis uint64, difficulty int) (string, error) {
	if difficulty <= 0 {
		return "", errBadDifficulty
	}
	payload := Payload(pubKey, data, timestamp, ttlMillis)
	target := Target(ttlMillis, len(payload), difficulty)
	initial := sha512.Sum512(payload)

	var buf [nonceSize + sha512.Size]byte
	copy(buf[nonceSize:], initial[:])
	for nonce := uint64(1); ; nonce++ {
		if nonce&0xffff == 0 {
			if err := ctx.Err(); err != nil {
				return "", err
			}
		}
		binary.BigEndian.PutUint64(buf[:nonceSize], nonce)
		h := sha512.Sum512(buf[:])
		if binary.BigEndian.Uint64(h[:8]) <= target {
			return base64.StdEncoding.EncodeToString(buf[:nonceSize]), nil
		}
	}
}

// Verify checks a nonce returned by Calculate.
func Verify(nonce string, pubKey string, data string, timestamp uint64, ttlMillis uint64, difficulty int) bool {
	raw, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil || len(raw) != nonceSize || difficulty <= 0 {
		return false
	}
	payload := Payload(pubKey, data, timestamp, ttlMillis)
	initial := sha512.Sum512(payload)
	h := sha512.Sum512(append(raw, initial[:]...))
	return binary.BigEndian.Uint64(h[:8]) <= Target(ttlMillis, len(payload), difficulty)
}
