// address.go - Recipient addresses.
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

// Package address defines the identity and device pair messages are
// delivered to.
package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultDevice is the device index of a primary device.
	DefaultDevice uint32 = 1

	// KeyPrefix is the type byte prepended to an X25519 public key to
	// form an identity.
	KeyPrefix = 0x05

	// IDLength is the length in characters of a hex encoded identity.
	IDLength = 2 * (1 + 32)
)

// ErrInvalid is returned for identities that are not a prefixed hex
// encoded X25519 public key.
var ErrInvalid = errors.New("address: invalid identity")

// Address is a recipient identity plus the device index on that identity.
type Address struct {
	ID     string
	Device uint32
}

// New returns the address of the default device of id.
func New(id string) Address {
	return Address{ID: strings.ToLower(id), Device: DefaultDevice}
}

// FromPublicKey returns the default device address of an X25519 public key.
func FromPublicKey(pub *[32]byte) Address {
	return New(hex.EncodeToString(append([]byte{KeyPrefix}, pub[:]...)))
}

// Parse parses "id" or "id.device".
func Parse(s string) (Address, error) {
	id, dev, found := strings.Cut(s, ".")
	a := New(id)
	if found {
		d, err := strconv.ParseUint(dev, 10, 32)
		if err != nil {
			return Address{}, fmt.Errorf("address: bad device %q: %w", dev, err)
		}
		a.Device = uint32(d)
	}
	if err := a.Validate(); err != nil {
		return Address{}, err
	}
	return a, nil
}

// WithDevice returns a copy of the address pointing at device d.
func (a Address) WithDevice(d uint32) Address {
	a.Device = d
	return a
}

// SameIdentity reports whether both addresses belong to the same identity,
// regardless of device.
func (a Address) SameIdentity(b Address) bool {
	return strings.EqualFold(a.ID, b.ID)
}

// Validate checks that the identity is a well formed public key.
func (a Address) Validate() error {
	if len(a.ID) != IDLength {
		return ErrInvalid
	}
	raw, err := hex.DecodeString(a.ID)
	if err != nil || raw[0] != KeyPrefix {
		return ErrInvalid
	}
	return nil
}

// PublicKey returns the X25519 public key embedded in the identity.
func (a Address) PublicKey() (*[32]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	raw, _ := hex.DecodeString(a.ID)
	pub := new([32]byte)
	copy(pub[:], raw[1:])
	return pub, nil
}

func (a Address) String() string {
	return a.ID + "." + strconv.FormatUint(uint64(a.Device), 10)
}
