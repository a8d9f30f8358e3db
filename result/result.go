// result.go - Per-recipient send outcomes.
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

// Package result defines the outcome of delivering one message to one
// recipient.
package result

import (
	"fmt"

	"github.com/katzenpost/swarmcourier/address"
)

// Result is the outcome for one recipient.  It is one of *Success,
// *IdentityFailure, *UnregisteredFailure or *NetworkFailure.
type Result interface {
	Recipient() address.Address
	String() string
	isResult()
}

// Success means the message was accepted for delivery.
type Success struct {
	Address address.Address

	// Unidentified is set when the sender was hidden from the network.
	Unidentified bool

	// NeedsSync is set when the message should be mirrored to the
	// sender's linked devices.
	NeedsSync bool
}

// IdentityFailure means the recipient's identity key is not trusted.
type IdentityFailure struct {
	Address     address.Address
	IdentityKey []byte
}

// UnregisteredFailure means the recipient is not a valid participant.
type UnregisteredFailure struct {
	Address address.Address
}

// NetworkFailure means no node or server accepted the message in time.
type NetworkFailure struct {
	Address address.Address
	Err     error
}

func (r *Success) Recipient() address.Address             { return r.Address }
func (r *IdentityFailure) Recipient() address.Address     { return r.Address }
func (r *UnregisteredFailure) Recipient() address.Address { return r.Address }
func (r *NetworkFailure) Recipient() address.Address      { return r.Address }

func (*Success) isResult()             {}
func (*IdentityFailure) isResult()     {}
func (*UnregisteredFailure) isResult() {}
func (*NetworkFailure) isResult()      {}

func (r *Success) String() string {
	return fmt.Sprintf("success(%v, unidentified=%v, sync=%v)", r.Address, r.Unidentified, r.NeedsSync)
}

func (r *IdentityFailure) String() string {
	return fmt.Sprintf("identity failure(%v, key %x)", r.Address, r.IdentityKey)
}

func (r *UnregisteredFailure) String() string {
	return fmt.Sprintf("unregistered(%v)", r.Address)
}

func (r *NetworkFailure) String() string {
	return fmt.Sprintf("network failure(%v): %v", r.Address, r.Err)
}

// Unwrap returns the cause of the failure.
func (r *NetworkFailure) Unwrap() error { return r.Err }

// IsSuccess reports whether r is a *Success.
func IsSuccess(r Result) bool {
	_, ok := r.(*Success)
	return ok
}

// Kind returns a short label for r, suitable for metrics.
func Kind(r Result) string {
	switch r.(type) {
	case *Success:
		return "success"
	case *IdentityFailure:
		return "identity"
	case *UnregisteredFailure:
		return "unregistered"
	case *NetworkFailure:
		return "network"
	default:
		return "unknown"
	}
}
