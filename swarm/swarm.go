// swarm.go - Storage node types and errors.
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

// Package swarm delivers envelopes to the storage nodes responsible for a
// recipient and decides the outcome from their answers.
package swarm

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/katzenpost/swarmcourier/core/retry"
)

var (
	// ErrSnodeMigrated means the node no longer serves the recipient.
	ErrSnodeMigrated = errors.New("swarm: node is no longer in the recipient's swarm")

	// ErrNoNodes means the recipient's swarm could not be resolved to
	// any node.
	ErrNoNodes = errors.New("swarm: no storage nodes available")

	// ErrAllNodesFailed means every contacted node rejected the message.
	ErrAllNodesFailed = errors.New("swarm: every storage node failed")

	// ErrTimeout means no node answered within the delivery budget.
	ErrTimeout = errors.New("swarm: delivery timed out")
)

// Node is a storage node endpoint.
type Node struct {
	// Address is the scheme and host, e.g. "https://203.0.113.7".
	Address string `cbor:"1,keyasint"`
	Port    uint16 `cbor:"2,keyasint"`
}

// URL returns the base URL of the node.
func (n Node) URL() string {
	return fmt.Sprintf("%s:%d", n.Address, n.Port)
}

func (n Node) String() string {
	return n.URL()
}

// Message is the store request body sent to every node of a swarm.
type Message struct {
	PubKey    string
	Data      string
	TTL       uint64
	Timestamp uint64
	Nonce     string
}

// StoreResponse is a node's answer to a store request.
type StoreResponse struct {
	// Difficulty is the proof of work difficulty the node expects from
	// now on, or zero if it did not say.
	Difficulty int
}

// InsufficientPoWError is returned by a node that wants more work.
type InsufficientPoWError struct {
	Difficulty int
}

func (e *InsufficientPoWError) Error() string {
	return fmt.Sprintf("swarm: insufficient proof of work, node requires difficulty %d", e.Difficulty)
}

// StatusError is an unexpected HTTP status from a node.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("swarm: node returned HTTP %d", e.Code)
}

// countsAgainstNode reports whether err says something about the health of
// the node, as opposed to the request.
func countsAgainstNode(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusBadRequest, http.StatusInternalServerError, http.StatusServiceUnavailable:
			return true
		}
		return false
	}
	return retry.IsTransientError(err)
}
