// sender.go - Delivery orchestrator.
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

// Package sender is the outbound delivery core.  It classifies each
// recipient, encrypts for it, delivers the result and drives the friend
// request, session reset and device sync bookkeeping that follows.
package sender

import (
	"context"
	"errors"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/swarmcourier/address"
	"github.com/katzenpost/swarmcourier/blob"
	"github.com/katzenpost/swarmcourier/content"
	"github.com/katzenpost/swarmcourier/core/worker"
	"github.com/katzenpost/swarmcourier/delivery"
	"github.com/katzenpost/swarmcourier/devicesync"
	"github.com/katzenpost/swarmcourier/envelope"
	"github.com/katzenpost/swarmcourier/event"
	"github.com/katzenpost/swarmcourier/session"
	"github.com/katzenpost/swarmcourier/swarm"
	"github.com/katzenpost/swarmcourier/transport"
)

// DefaultChannelTimeout bounds a public channel post.
const DefaultChannelTimeout = time.Minute

// Classifier picks the delivery target of a recipient.
type Classifier interface {
	Classify(addr address.Address) (delivery.Target, error)
}

// EnvelopeBuilder encrypts content into envelopes.
type EnvelopeBuilder interface {
	Build(req *envelope.Request) (*envelope.OutgoingEnvelope, error)
}

// SwarmDeliverer delivers envelopes to storage nodes.
type SwarmDeliverer interface {
	Deliver(ctx context.Context, req *swarm.Request) error
}

// ChannelPoster posts to public channels.
type ChannelPoster interface {
	Post(ctx context.Context, server string, channelID uint64, msg *transport.ChannelMessage) (uint64, error)
}

// AttachmentUploader uploads attachments.
type AttachmentUploader interface {
	Upload(ctx context.Context, a *blob.Attachment, server string) (*content.AttachmentPointer, error)
}

// StateMachine tracks friend request and session reset status.
// *protostate.Machine is a StateMachine.
type StateMachine interface {
	BeginFriendRequest(messageID int64, peer address.Address) error
	FriendRequestSent(messageID int64, peer address.Address) error
	FriendRequestFailed(messageID int64, peer address.Address, cause error) error
	ResetFailed(messageID int64) error
	BeginSessionReset(peer address.Address) error
}

// PreKeySource issues pre-key bundles for our own identity.
type PreKeySource interface {
	NewPreKeyBundle(device uint32) (*session.PreKeyBundle, error)
}

// Emitter receives events.  *event.Dispatcher is an Emitter.
type Emitter interface {
	Emit(event.Event)
}

type nopEmitter struct{}

func (nopEmitter) Emit(event.Event) {}

// Store is the local state the sender reads and writes directly.
type Store interface {
	LinkedDevices() ([]address.Address, error)
	SetServerMessageID(messageID int64, serverID uint64) error
}

// Config holds the collaborators of a Sender.
type Config struct {
	Local address.Address

	// DisplayName is shown next to public channel posts.
	DisplayName string

	Codec      content.Codec
	Classifier Classifier
	Builder    EnvelopeBuilder
	Swarm      SwarmDeliverer
	Channels   ChannelPoster
	Uploader   AttachmentUploader
	State      StateMachine
	PreKeys    PreKeySource
	Store      Store
	Sync       *devicesync.Decider

	// Events receives events.  It may be nil.
	Events Emitter

	// ChannelTimeout bounds public channel posts.  Zero means
	// DefaultChannelTimeout.
	ChannelTimeout time.Duration
}

func (c *Config) validate() error {
	switch {
	case c.Codec == nil:
		return errors.New("sender: no codec")
	case c.Classifier == nil:
		return errors.New("sender: no classifier")
	case c.Builder == nil:
		return errors.New("sender: no envelope builder")
	case c.Swarm == nil:
		return errors.New("sender: no swarm deliverer")
	case c.State == nil:
		return errors.New("sender: no state machine")
	case c.Store == nil:
		return errors.New("sender: no store")
	case c.Sync == nil:
		return errors.New("sender: no sync decider")
	}
	return c.Local.Validate()
}

// Sender sends messages.  It is safe for concurrent use.
type Sender struct {
	worker.Worker

	log *logging.Logger
	cfg Config

	haltCtx    context.Context
	haltCancel context.CancelFunc
}

// New returns a Sender.
func New(cfg *Config, log *logging.Logger) (*Sender, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Sender{
		log: log,
		cfg: *cfg,
	}
	if s.cfg.Events == nil {
		s.cfg.Events = nopEmitter{}
	}
	if s.cfg.ChannelTimeout <= 0 {
		s.cfg.ChannelTimeout = DefaultChannelTimeout
	}
	s.haltCtx, s.haltCancel = context.WithCancel(context.Background())
	return s, nil
}

// Halt cancels background sync dispatches and waits for them.
func (s *Sender) Halt() {
	s.haltCancel()
	s.Worker.Halt()
}
