// send.go - Per recipient delivery.
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

package sender

import (
	"context"
	"errors"
	"fmt"

	"github.com/katzenpost/swarmcourier/address"
	"github.com/katzenpost/swarmcourier/content"
	"github.com/katzenpost/swarmcourier/delivery"
	"github.com/katzenpost/swarmcourier/envelope"
	"github.com/katzenpost/swarmcourier/internal/instrument"
	"github.com/katzenpost/swarmcourier/result"
	"github.com/katzenpost/swarmcourier/session"
	"github.com/katzenpost/swarmcourier/swarm"
	"github.com/katzenpost/swarmcourier/transport"
)

// outgoing is one encoded message for one recipient.
type outgoing struct {
	messageID int64
	recipient address.Address
	timestamp uint64

	// payload is the encoded content; msg is the data message inside it,
	// if any, for public channel posts.
	payload []byte
	msg     *content.DataMessage

	class    envelope.Class
	ttl      uint64
	fallback bool
	access   *envelope.UnidentifiedAccess

	// friendRequest drives the friend request state machine around the
	// swarm delivery.
	friendRequest bool
	syncable      bool
}

// send delivers o and returns its outcome.  The error is non-nil only for a
// first contact without a staged pre-key bundle, which the caller cannot
// fix by retrying; the outcome is then a NetworkFailure.
func (s *Sender) send(ctx context.Context, o *outgoing) (result.Result, error) {
	target, err := s.cfg.Classifier.Classify(o.recipient)
	if err != nil {
		return s.outcome(&result.NetworkFailure{Address: o.recipient, Err: err}), nil
	}

	switch t := target.(type) {
	case delivery.Local:
		s.log.Debugf("Message %d is addressed to ourselves", o.messageID)
		return s.outcome(&result.Success{Address: o.recipient}), nil
	case *delivery.PublicChannel:
		return s.outcome(s.sendToChannel(ctx, o, t)), nil
	case *delivery.PrivateSwarm:
		r, err := s.sendToSwarm(ctx, o)
		return s.outcome(r), err
	default:
		panic(fmt.Sprintf("sender: BUG: unknown delivery target %T", target))
	}
}

func (s *Sender) outcome(r result.Result) result.Result {
	instrument.Outcome(result.Kind(r))
	return r
}

func (s *Sender) sendToChannel(ctx context.Context, o *outgoing, t *delivery.PublicChannel) result.Result {
	if o.msg == nil {
		// Only data messages exist on public channels.
		return &result.Success{Address: o.recipient}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ChannelTimeout)
	defer cancel()

	if s.cfg.Channels == nil {
		return &result.NetworkFailure{Address: o.recipient, Err: errors.New("sender: no public channel client")}
	}
	post := &transport.ChannelMessage{
		Text:        o.msg.Body,
		Timestamp:   o.msg.Timestamp,
		Source:      s.cfg.Local.ID,
		DisplayName: s.cfg.DisplayName,
		Quote:       o.msg.Quote,
		Attachments: o.msg.Attachments,
	}
	serverID, err := s.cfg.Channels.Post(ctx, t.Server, t.ChannelID, post)
	instrument.ChannelPost(err == nil)
	if err != nil {
		s.log.Warningf("Posting message %d to %v failed: %v", o.messageID, t, err)
		return &result.NetworkFailure{Address: o.recipient, Err: err}
	}
	if err := s.cfg.Store.SetServerMessageID(o.messageID, serverID); err != nil {
		s.log.Errorf("Failed to record server id %d of message %d: %v", serverID, o.messageID, err)
	}
	s.log.Debugf("Posted message %d to %v as %d", o.messageID, t, serverID)
	return &result.Success{Address: o.recipient}
}

func (s *Sender) sendToSwarm(ctx context.Context, o *outgoing) (result.Result, error) {
	if err := o.recipient.Validate(); err != nil {
		return &result.UnregisteredFailure{Address: o.recipient}, nil
	}

	env, err := s.cfg.Builder.Build(&envelope.Request{
		Recipient: o.recipient,
		Timestamp: o.timestamp,
		Content:   o.payload,
		Class:     o.class,
		TTL:       o.ttl,
		Fallback:  o.fallback,
		Access:    o.access,
	})
	if err != nil {
		return s.buildFailure(o, err)
	}

	req := &swarm.Request{Recipient: o.recipient, Envelope: env}
	if o.friendRequest {
		req.Hooks = s.friendRequestHooks(o)
	}
	if err := s.cfg.Swarm.Deliver(ctx, req); err != nil {
		return &result.NetworkFailure{Address: o.recipient, Err: err}, nil
	}
	return &result.Success{
		Address:      o.recipient,
		Unidentified: o.access != nil,
		NeedsSync:    o.syncable,
	}, nil
}

// buildFailure maps an error raised before any node was contacted.
func (s *Sender) buildFailure(o *outgoing, err error) (result.Result, error) {
	if o.friendRequest {
		s.stateErr(s.cfg.State.FriendRequestFailed(o.messageID, o.recipient, err))
	}

	var trustErr *session.IdentityTrustError
	var missingErr *session.MissingBundleError
	switch {
	case errors.As(err, &trustErr):
		s.log.Warningf("Untrusted identity for %v, message %d not sent", o.recipient, o.messageID)
		return &result.IdentityFailure{Address: o.recipient, IdentityKey: trustErr.IdentityKey}, nil
	case errors.As(err, &missingErr):
		s.log.Warningf("No session or pre-key bundle for %v", o.recipient)
		return &result.NetworkFailure{Address: o.recipient, Err: err}, err
	default:
		s.log.Errorf("Failed to build envelope for %v: %v", o.recipient, err)
		return &result.NetworkFailure{Address: o.recipient, Err: err}, nil
	}
}

func (s *Sender) friendRequestHooks(o *outgoing) *swarm.Hooks {
	return &swarm.Hooks{
		Sending: func() {
			// A resend of a failed request starts over from NONE.
			s.stateErr(s.cfg.State.ResetFailed(o.messageID))
			s.stateErr(s.cfg.State.BeginFriendRequest(o.messageID, o.recipient))
		},
		Sent: func() {
			s.stateErr(s.cfg.State.FriendRequestSent(o.messageID, o.recipient))
		},
		Failed: func(err error) {
			s.stateErr(s.cfg.State.FriendRequestFailed(o.messageID, o.recipient, err))
		},
	}
}

func (s *Sender) stateErr(err error) {
	if err != nil {
		s.log.Errorf("Failed to update protocol state: %v", err)
	}
}
