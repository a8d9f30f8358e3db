// protostate.go - Friend request and session reset state machine.
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

// Package protostate tracks friend request and session reset status.
// Every transition runs on a single worker goroutine so concurrent sends
// to one conversation never interleave their read-modify-write cycles.
package protostate

import (
	"errors"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/swarmcourier/address"
	"github.com/katzenpost/swarmcourier/core/worker"
	"github.com/katzenpost/swarmcourier/event"
)

// ErrHalted is returned for transitions submitted after Halt.
var ErrHalted = errors.New("protostate: halted")

// Store persists protocol status.  Conversations are keyed by the peer's
// identity.
type Store interface {
	ThreadID(peer string) (int64, error)

	MessageStatus(messageID int64) (MessageStatus, error)
	SetMessageStatus(messageID int64, s MessageStatus) error

	ThreadStatus(peer string) (ThreadStatus, error)
	SetThreadStatus(peer string, s ThreadStatus) error

	ResetStatus(peer string) (ResetStatus, error)
	SetResetStatus(peer string, s ResetStatus) error
}

// Emitter receives the events produced by transitions.
type Emitter interface {
	Emit(event.Event)
}

type opKind uint8

const (
	opBeginFriendRequest opKind = iota
	opFriendRequestSent
	opFriendRequestFailed
	opResetFailed
	opRequestReceived
	opBeginSessionReset
	opSessionResetRequest
	opCompleteSessionReset
)

type op struct {
	kind         opKind
	messageID    int64
	peer         address.Address
	err          error
	responseChan chan error
}

// Machine applies friend request and session reset transitions.
type Machine struct {
	worker.Worker

	log    *logging.Logger
	store  Store
	events Emitter

	opCh chan *op
}

// New starts a Machine.  Halt it to stop its worker.
func New(store Store, events Emitter, log *logging.Logger) *Machine {
	m := &Machine{
		log:    log,
		store:  store,
		events: events,
		opCh:   make(chan *op),
	}
	m.Go(m.worker)
	return m
}

func (m *Machine) worker() {
	for {
		select {
		case <-m.HaltCh():
			m.log.Debug("Terminating gracefully.")
			return
		case o := <-m.opCh:
			o.responseChan <- m.apply(o)
		}
	}
}

func (m *Machine) submit(o *op) error {
	o.responseChan = make(chan error, 1)
	select {
	case m.opCh <- o:
	case <-m.HaltCh():
		return ErrHalted
	}
	return <-o.responseChan
}

// BeginFriendRequest records that a friend request fan-out started.
func (m *Machine) BeginFriendRequest(messageID int64, peer address.Address) error {
	return m.submit(&op{kind: opBeginFriendRequest, messageID: messageID, peer: peer})
}

// FriendRequestSent records that a storage node accepted the friend request.
func (m *Machine) FriendRequestSent(messageID int64, peer address.Address) error {
	return m.submit(&op{kind: opFriendRequestSent, messageID: messageID, peer: peer})
}

// FriendRequestFailed records that no storage node accepted the friend
// request.
func (m *Machine) FriendRequestFailed(messageID int64, peer address.Address, cause error) error {
	return m.submit(&op{kind: opFriendRequestFailed, messageID: messageID, peer: peer, err: cause})
}

// ResetFailed returns a failed friend request message to NONE so that it
// may be sent again.
func (m *Machine) ResetFailed(messageID int64) error {
	return m.submit(&op{kind: opResetFailed, messageID: messageID})
}

// OnRequestReceived records the peer's answering friend request.
func (m *Machine) OnRequestReceived(messageID int64, peer address.Address) error {
	return m.submit(&op{kind: opRequestReceived, messageID: messageID, peer: peer})
}

// BeginSessionReset records an outbound session reset.  A reset requested
// by the peer that is still being honored is left alone.
func (m *Machine) BeginSessionReset(peer address.Address) error {
	return m.submit(&op{kind: opBeginSessionReset, peer: peer})
}

// OnSessionResetRequest records a session reset requested by the peer.
func (m *Machine) OnSessionResetRequest(peer address.Address) error {
	return m.submit(&op{kind: opSessionResetRequest, peer: peer})
}

// CompleteSessionReset clears the session reset status.
func (m *Machine) CompleteSessionReset(peer address.Address) error {
	return m.submit(&op{kind: opCompleteSessionReset, peer: peer})
}

func (m *Machine) apply(o *op) error {
	switch o.kind {
	case opBeginFriendRequest:
		return m.doBeginFriendRequest(o)
	case opFriendRequestSent:
		return m.doFriendRequestSent(o)
	case opFriendRequestFailed:
		return m.doFriendRequestFailed(o)
	case opResetFailed:
		return m.moveMessage(o.messageID, MessageNone, MessageFailed)
	case opRequestReceived:
		return m.doRequestReceived(o)
	case opBeginSessionReset:
		return m.doBeginSessionReset(o)
	case opSessionResetRequest:
		return m.store.SetResetStatus(o.peer.ID, ResetRequestReceived)
	case opCompleteSessionReset:
		return m.store.SetResetStatus(o.peer.ID, ResetNone)
	default:
		m.log.Errorf("BUG: unknown operation %d", o.kind)
		return errors.New("protostate: unknown operation")
	}
}

func (m *Machine) moveMessage(messageID int64, next MessageStatus, from ...MessageStatus) error {
	_, err := m.moved(messageID, next, from...)
	return err
}

// moved moves a message to next if it is currently in one of from, and
// reports whether it did.
func (m *Machine) moved(messageID int64, next MessageStatus, from ...MessageStatus) (bool, error) {
	cur, err := m.store.MessageStatus(messageID)
	if err != nil {
		return false, err
	}
	for _, f := range from {
		if cur == f {
			if err := m.store.SetMessageStatus(messageID, next); err != nil {
				return false, err
			}
			m.log.Debugf("Message %d: %v -> %v", messageID, cur, next)
			return true, nil
		}
	}
	m.log.Debugf("Message %d: ignoring %v -> %v", messageID, cur, next)
	return false, nil
}

// setThread updates the thread status unless the peer already sent us a
// request or we are already friends.
func (m *Machine) setThread(peer string, next ThreadStatus) error {
	cur, err := m.store.ThreadStatus(peer)
	if err != nil {
		return err
	}
	if cur.settled() || cur == next {
		return nil
	}
	m.log.Debugf("Thread %s: %v -> %v", peer, cur, next)
	return m.store.SetThreadStatus(peer, next)
}

func (m *Machine) doBeginFriendRequest(o *op) error {
	ok, err := m.moved(o.messageID, MessageSending, MessageNone)
	if err != nil || !ok {
		return err
	}
	if err := m.setThread(o.peer.ID, ThreadSending); err != nil {
		return err
	}
	threadID, err := m.store.ThreadID(o.peer.ID)
	if err != nil {
		return err
	}
	m.events.Emit(&event.FriendRequestSendingEvent{MessageID: o.messageID, ThreadID: threadID})
	return nil
}

func (m *Machine) doFriendRequestSent(o *op) error {
	ok, err := m.moved(o.messageID, MessagePending, MessageSending)
	if err != nil || !ok {
		return err
	}
	if err := m.setThread(o.peer.ID, ThreadSent); err != nil {
		return err
	}
	threadID, err := m.store.ThreadID(o.peer.ID)
	if err != nil {
		return err
	}
	m.events.Emit(&event.FriendRequestSentEvent{MessageID: o.messageID, ThreadID: threadID})
	return nil
}

func (m *Machine) doFriendRequestFailed(o *op) error {
	ok, err := m.moved(o.messageID, MessageFailed, MessageSending)
	if err != nil || !ok {
		return err
	}
	if err := m.setThread(o.peer.ID, ThreadNone); err != nil {
		return err
	}
	threadID, err := m.store.ThreadID(o.peer.ID)
	if err != nil {
		return err
	}
	m.log.Warningf("Friend request %d to %v failed: %v", o.messageID, o.peer, o.err)
	m.events.Emit(&event.FriendRequestFailedEvent{MessageID: o.messageID, ThreadID: threadID, Err: o.err})
	return nil
}

func (m *Machine) doRequestReceived(o *op) error {
	if _, err := m.moved(o.messageID, MessageRequestReceived, MessagePending); err != nil {
		return err
	}
	cur, err := m.store.ThreadStatus(o.peer.ID)
	if err != nil {
		return err
	}
	if cur == ThreadFriends || cur == ThreadReceived {
		return nil
	}
	return m.store.SetThreadStatus(o.peer.ID, ThreadReceived)
}

func (m *Machine) doBeginSessionReset(o *op) error {
	cur, err := m.store.ResetStatus(o.peer.ID)
	if err != nil {
		return err
	}
	switch cur {
	case ResetRequestReceived:
		m.log.Debugf("Thread %s: peer reset in progress, not starting our own", o.peer.ID)
		return nil
	case ResetInProgress:
		return nil
	}
	if err := m.store.SetResetStatus(o.peer.ID, ResetInProgress); err != nil {
		return err
	}
	m.log.Infof("Session reset with %v started", o.peer)
	m.events.Emit(&event.SecurityEvent{Address: o.peer, Reason: event.SessionResetStarted})
	return nil
}
