// classifier.go - Delivery mode selection.
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

// Package delivery decides how a message reaches a recipient.
package delivery

import (
	"errors"
	"fmt"

	"github.com/katzenpost/swarmcourier/address"
)

// ErrNoPublicChat is returned by a ThreadStore for a recipient that is not
// a public channel.
var ErrNoPublicChat = errors.New("delivery: not a public chat")

// PublicChat locates a channel on a federated chat server.
type PublicChat struct {
	Server    string `cbor:"1,keyasint"`
	ChannelID uint64 `cbor:"2,keyasint"`
	Name      string `cbor:"3,keyasint,omitempty"`
}

// ThreadStore resolves the public chat, if any, behind a recipient.
type ThreadStore interface {
	PublicChat(id string) (*PublicChat, error)
}

// Target is where a message goes.  It is one of Local, *PublicChannel or
// *PrivateSwarm.
type Target interface {
	fmt.Stringer
	isTarget()
}

// Local is the sender itself.
type Local struct{}

// PublicChannel is a channel on a federated server.
type PublicChannel struct {
	Server    string
	ChannelID uint64
}

// PrivateSwarm is end to end encrypted delivery through the swarm of
// storage nodes responsible for Address.
type PrivateSwarm struct {
	Address address.Address
}

func (Local) isTarget()          {}
func (*PublicChannel) isTarget() {}
func (*PrivateSwarm) isTarget()  {}

func (Local) String() string { return "local" }

func (t *PublicChannel) String() string {
	return fmt.Sprintf("public channel %d on %s", t.ChannelID, t.Server)
}

func (t *PrivateSwarm) String() string {
	return fmt.Sprintf("private swarm of %v", t.Address)
}

// Classifier maps recipients to Targets.
type Classifier struct {
	local   address.Address
	threads ThreadStore
}

// NewClassifier returns a Classifier for the local identity.
func NewClassifier(local address.Address, threads ThreadStore) *Classifier {
	return &Classifier{
		local:   local,
		threads: threads,
	}
}

// Classify returns the delivery target for addr.  It is recomputed on
// every call.
func (c *Classifier) Classify(addr address.Address) (Target, error) {
	if addr.SameIdentity(c.local) {
		return Local{}, nil
	}

	chat, err := c.threads.PublicChat(addr.ID)
	switch {
	case err == nil:
		return &PublicChannel{Server: chat.Server, ChannelID: chat.ChannelID}, nil
	case errors.Is(err, ErrNoPublicChat):
		return &PrivateSwarm{Address: addr}, nil
	default:
		return nil, fmt.Errorf("delivery: thread lookup for %v: %w", addr, err)
	}
}
