// messages.go - Public send operations.
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
	"sync"

	"github.com/katzenpost/swarmcourier/address"
	"github.com/katzenpost/swarmcourier/blob"
	"github.com/katzenpost/swarmcourier/content"
	"github.com/katzenpost/swarmcourier/delivery"
	"github.com/katzenpost/swarmcourier/devicesync"
	"github.com/katzenpost/swarmcourier/envelope"
	"github.com/katzenpost/swarmcourier/result"
)

var (
	errNoRecipients = errors.New("sender: no recipients")
	errNoUploader   = errors.New("sender: no attachment uploader")
)

func (s *Sender) encode(c *content.Content) ([]byte, error) {
	b, err := s.cfg.Codec.Encode(c)
	if err != nil {
		return nil, fmt.Errorf("sender: encoding content: %w", err)
	}
	return b, nil
}

// dataContent wraps msg, attaching our pre-key bundle to the messages that
// bootstrap a session on the peer's side.
func (s *Sender) dataContent(msg *content.DataMessage) (*content.Content, error) {
	c := &content.Content{DataMessage: msg}
	if (msg.FriendRequest || msg.SessionRequest) && s.cfg.PreKeys != nil {
		b, err := s.cfg.PreKeys.NewPreKeyBundle(s.cfg.Local.Device)
		if err != nil {
			return nil, fmt.Errorf("sender: issuing pre-key bundle: %w", err)
		}
		if c.PreKeyBundle, err = b.MarshalBinary(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func dataOutgoing(messageID int64, recipient address.Address, payload []byte, msg *content.DataMessage, access *envelope.UnidentifiedAccess) *outgoing {
	o := &outgoing{
		messageID: messageID,
		recipient: recipient,
		timestamp: msg.Timestamp,
		payload:   payload,
		msg:       msg,
		class:     envelope.ClassDefault,
		ttl:       msg.TTL,
		access:    access,
		syncable:  devicesync.Syncable(msg),
	}
	if msg.FriendRequest {
		o.class = envelope.ClassFriendRequest
	}
	o.fallback = msg.FriendRequest || msg.SessionRequest
	o.friendRequest = msg.FriendRequest && !msg.SessionRequest && msg.Group == nil
	return o
}

// SendDataMessage sends msg to one recipient.  access, if set, hides the
// sender from the network.  The returned error is set only for a first
// contact without a staged pre-key bundle.
func (s *Sender) SendDataMessage(ctx context.Context, messageID int64, recipient address.Address, msg *content.DataMessage, access *envelope.UnidentifiedAccess) (result.Result, error) {
	c, err := s.dataContent(msg)
	if err != nil {
		return nil, err
	}
	payload, err := s.encode(c)
	if err != nil {
		return nil, err
	}

	r, err := s.send(ctx, dataOutgoing(messageID, recipient, payload, msg, access))

	if msg.EndSession {
		s.stateErr(s.cfg.State.BeginSessionReset(recipient))
	}
	if devicesync.Syncable(msg) {
		if d := s.cfg.Sync.Single(recipient, payload, r, access != nil); d.Sync {
			s.dispatchSync(messageID, msg.Timestamp, d.Transcript)
		}
	}
	return r, err
}

// SendGroupDataMessage sends msg to every recipient concurrently.  The
// outcomes are in the order of recipients.  access is either nil or holds
// one entry per recipient.
func (s *Sender) SendGroupDataMessage(ctx context.Context, messageID int64, recipients []address.Address, msg *content.DataMessage, access []*envelope.UnidentifiedAccess) ([]result.Result, error) {
	if len(recipients) == 0 {
		return nil, errNoRecipients
	}
	if access != nil && len(access) != len(recipients) {
		return nil, fmt.Errorf("sender: %d access entries for %d recipients", len(access), len(recipients))
	}
	c, err := s.dataContent(msg)
	if err != nil {
		return nil, err
	}
	payload, err := s.encode(c)
	if err != nil {
		return nil, err
	}

	results := s.fanOut(ctx, recipients, func(i int) *outgoing {
		var a *envelope.UnidentifiedAccess
		if access != nil {
			a = access[i]
		}
		o := dataOutgoing(messageID, recipients[i], payload, msg, a)
		o.friendRequest = false
		return o
	})

	unidentified := false
	for _, a := range access {
		unidentified = unidentified || a != nil
	}
	if d := s.cfg.Sync.Group(recipients, payload, results, unidentified); d.Sync {
		s.dispatchSync(messageID, msg.Timestamp, d.Transcript)
	}
	return results, nil
}

// fanOut sends to every recipient concurrently.  Each recipient gets
// exactly one outcome, at its own index.
func (s *Sender) fanOut(ctx context.Context, recipients []address.Address, build func(int) *outgoing) []result.Result {
	results := make([]result.Result, len(recipients))
	var wg sync.WaitGroup
	for i := range recipients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := build(i)
			r, err := s.send(ctx, o)
			if err != nil {
				s.log.Debugf("Message %d to %v: %v", o.messageID, o.recipient, err)
			}
			results[i] = r
		}()
	}
	wg.Wait()
	return results
}

func (s *Sender) sendSimple(ctx context.Context, recipient address.Address, timestamp uint64, c *content.Content, access *envelope.UnidentifiedAccess) (result.Result, error) {
	payload, err := s.encode(c)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, &outgoing{
		recipient: recipient,
		timestamp: timestamp,
		payload:   payload,
		class:     envelope.ClassDefault,
		access:    access,
	})
}

// SendTyping sends a typing indicator.
func (s *Sender) SendTyping(ctx context.Context, recipient address.Address, msg *content.TypingMessage, access *envelope.UnidentifiedAccess) (result.Result, error) {
	return s.sendSimple(ctx, recipient, msg.Timestamp, &content.Content{TypingMessage: msg}, access)
}

// SendReceipt sends a delivery or read receipt.
func (s *Sender) SendReceipt(ctx context.Context, recipient address.Address, timestamp uint64, msg *content.ReceiptMessage, access *envelope.UnidentifiedAccess) (result.Result, error) {
	return s.sendSimple(ctx, recipient, timestamp, &content.Content{ReceiptMessage: msg}, access)
}

// SendCallMessage sends call signalling.
func (s *Sender) SendCallMessage(ctx context.Context, recipient address.Address, timestamp uint64, msg *content.CallMessage) (result.Result, error) {
	return s.sendSimple(ctx, recipient, timestamp, &content.Content{CallMessage: msg}, nil)
}

// SendPairingAuthorisation sends a device pairing grant or request.  It is
// sealed to the peer's identity key and expires quickly.
func (s *Sender) SendPairingAuthorisation(ctx context.Context, recipient address.Address, timestamp uint64, auth *content.PairingAuthorisation) (result.Result, error) {
	payload, err := s.encode(&content.Content{PairingAuthorisation: auth})
	if err != nil {
		return nil, err
	}
	return s.send(ctx, &outgoing{
		recipient: recipient,
		timestamp: timestamp,
		payload:   payload,
		class:     envelope.ClassPairingAuthorisation,
		fallback:  true,
	})
}

// SendSyncMessage sends msg to every linked device and returns one outcome
// per device.
func (s *Sender) SendSyncMessage(ctx context.Context, messageID int64, timestamp uint64, msg *content.SyncMessage) ([]result.Result, error) {
	devices, err := s.cfg.Store.LinkedDevices()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, nil
	}
	payload, err := s.encode(&content.Content{SyncMessage: msg})
	if err != nil {
		return nil, err
	}
	return s.fanOut(ctx, devices, func(i int) *outgoing {
		return &outgoing{
			messageID: messageID,
			recipient: devices[i],
			timestamp: timestamp,
			payload:   payload,
			class:     envelope.ClassDefault,
		}
	}), nil
}

// UploadAttachment uploads a.  When recipient is a public channel the
// attachment goes to that channel's server unencrypted, otherwise it is
// encrypted and stored on the default file server.
func (s *Sender) UploadAttachment(ctx context.Context, a *blob.Attachment, recipient *address.Address) (*content.AttachmentPointer, error) {
	if s.cfg.Uploader == nil {
		return nil, errNoUploader
	}
	server := ""
	if recipient != nil {
		target, err := s.cfg.Classifier.Classify(*recipient)
		if err != nil {
			return nil, err
		}
		if t, ok := target.(*delivery.PublicChannel); ok {
			server = t.Server
		}
	}
	return s.cfg.Uploader.Upload(ctx, a, server)
}
