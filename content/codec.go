// codec.go - Content codec.
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

package content

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const paddingBlockSize = 160

var (
	// ErrEmpty is returned when encoding content with no message set.
	ErrEmpty = errors.New("content: no message set")

	errBadPadding = errors.New("content: bad padding")
)

// Codec turns logical messages into payload bytes and back.
type Codec interface {
	Encode(*Content) ([]byte, error)
	Decode([]byte) (*Content, error)
}

// CBORCodec is a Codec using deterministic CBOR.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec returns a new CBORCodec.
func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		return nil, err
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

// Encode implements Codec.
func (c *CBORCodec) Encode(m *Content) ([]byte, error) {
	if m == nil || m.IsEmpty() {
		return nil, ErrEmpty
	}
	return c.enc.Marshal(m)
}

// Decode implements Codec.
func (c *CBORCodec) Decode(b []byte) (*Content, error) {
	m := new(Content)
	if err := c.dec.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("content: decode: %w", err)
	}
	if m.IsEmpty() {
		return nil, ErrEmpty
	}
	return m, nil
}

// Pad appends a 0x80 terminator and zero fills b to a multiple of the
// padding block size, so ciphertext lengths leak less about the message.
func Pad(b []byte) []byte {
	n := (len(b) + 1 + paddingBlockSize - 1) / paddingBlockSize * paddingBlockSize
	out := make([]byte, n)
	copy(out, b)
	out[len(b)] = 0x80
	return out
}

// Unpad reverses Pad.
func Unpad(b []byte) ([]byte, error) {
	for i := len(b) - 1; i >= 0; i-- {
		switch b[i] {
		case 0x00:
		case 0x80:
			return b[:i], nil
		default:
			return nil, errBadPadding
		}
	}
	return nil, errBadPadding
}
