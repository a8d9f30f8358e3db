// protostate_test.go - State machine tests.
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

package protostate

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/swarmcourier/address"
	"github.com/katzenpost/swarmcourier/event"
)

type memStore struct {
	sync.Mutex
	threads  map[string]int64
	messages map[int64]MessageStatus
	thread   map[string]ThreadStatus
	reset    map[string]ResetStatus
}

func newMemStore() *memStore {
	return &memStore{
		threads:  make(map[string]int64),
		messages: make(map[int64]MessageStatus),
		thread:   make(map[string]ThreadStatus),
		reset:    make(map[string]ResetStatus),
	}
}

func (s *memStore) ThreadID(peer string) (int64, error) {
	s.Lock()
	defer s.Unlock()
	id, ok := s.threads[peer]
	if !ok {
		id = int64(len(s.threads) + 1)
		s.threads[peer] = id
	}
	return id, nil
}

func (s *memStore) MessageStatus(id int64) (MessageStatus, error) {
	s.Lock()
	defer s.Unlock()
	return s.messages[id], nil
}

func (s *memStore) SetMessageStatus(id int64, st MessageStatus) error {
	s.Lock()
	defer s.Unlock()
	s.messages[id] = st
	return nil
}

func (s *memStore) ThreadStatus(peer string) (ThreadStatus, error) {
	s.Lock()
	defer s.Unlock()
	return s.thread[peer], nil
}

func (s *memStore) SetThreadStatus(peer string, st ThreadStatus) error {
	s.Lock()
	defer s.Unlock()
	s.thread[peer] = st
	return nil
}

func (s *memStore) ResetStatus(peer string) (ResetStatus, error) {
	s.Lock()
	defer s.Unlock()
	return s.reset[peer], nil
}

func (s *memStore) SetResetStatus(peer string, st ResetStatus) error {
	s.Lock()
	defer s.Unlock()
	s.reset[peer] = st
	return nil
}

type recorder struct {
	sync.Mutex
	events []event.Event
}

func (r *recorder) Emit(e event.Event) {
	r.Lock()
	defer r.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []event.Event {
	r.Lock()
	defer r.Unlock()
	return append([]event.Event(nil), r.events...)
}

var peer = address.Address{ID: "05" + "11111111111111111111111111111111" + "11111111111111111111111111111111", Device: 1}

func newMachine(t *testing.T) (*Machine, *memStore, *recorder) {
	store := newMemStore()
	rec := new(recorder)
	m := New(store, rec, logging.MustGetLogger("protostate_test"))
	t.Cleanup(m.Halt)
	return m, store, rec
}

func TestFriendRequestSuccess(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	m, store, rec := newMachine(t)

	require.NoError(m.BeginFriendRequest(1, peer))
	require.Equal(MessageSending, store.messages[1])
	require.Equal(ThreadSending, store.thread[peer.ID])

	require.NoError(m.FriendRequestSent(1, peer))
	require.Equal(MessagePending, store.messages[1])
	require.Equal(ThreadSent, store.thread[peer.ID])

	// Duplicate terminal signals change nothing.
	require.NoError(m.FriendRequestSent(1, peer))
	require.NoError(m.FriendRequestFailed(1, peer, errors.New("late")))
	require.NoError(m.BeginFriendRequest(1, peer))
	require.Equal(MessagePending, store.messages[1])
	require.Equal(ThreadSent, store.thread[peer.ID])

	events := rec.all()
	require.Len(events, 2)
	require.IsType(&event.FriendRequestSendingEvent{}, events[0])
	require.IsType(&event.FriendRequestSentEvent{}, events[1])

	require.NoError(m.OnRequestReceived(1, peer))
	require.Equal(MessageRequestReceived, store.messages[1])
	require.Equal(ThreadReceived, store.thread[peer.ID])
}

func TestFriendRequestFailure(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	m, store, rec := newMachine(t)

	cause := errors.New("every node failed")
	require.NoError(m.BeginFriendRequest(2, peer))
	require.NoError(m.FriendRequestFailed(2, peer, cause))
	require.Equal(MessageFailed, store.messages[2])
	require.Equal(ThreadNone, store.thread[peer.ID])

	require.NoError(m.FriendRequestFailed(2, peer, cause))
	require.NoError(m.FriendRequestSent(2, peer))
	require.Equal(MessageFailed, store.messages[2])

	events := rec.all()
	require.Len(events, 2)
	failed, ok := events[1].(*event.FriendRequestFailedEvent)
	require.True(ok)
	require.Equal(int64(2), failed.MessageID)
	require.ErrorIs(failed.Err, cause)

	require.NoError(m.BeginFriendRequest(2, peer))
	require.Equal(MessageFailed, store.messages[2], "a failed request must be reset before it is sent again")

	require.NoError(m.ResetFailed(2))
	require.Equal(MessageNone, store.messages[2])
	require.NoError(m.BeginFriendRequest(2, peer))
	require.Equal(MessageSending, store.messages[2])
}

func TestFriendRequestLeavesSettledThread(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	m, store, _ := newMachine(t)

	store.thread[peer.ID] = ThreadFriends
	require.NoError(m.BeginFriendRequest(3, peer))
	require.NoError(m.FriendRequestFailed(3, peer, errors.New("x")))
	require.Equal(ThreadFriends, store.thread[peer.ID])

	store.thread[peer.ID] = ThreadReceived
	require.NoError(m.BeginFriendRequest(4, peer))
	require.NoError(m.FriendRequestSent(4, peer))
	require.Equal(ThreadReceived, store.thread[peer.ID])
}

func TestSessionReset(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	m, store, rec := newMachine(t)

	require.NoError(m.BeginSessionReset(peer))
	require.Equal(ResetInProgress, store.reset[peer.ID])
	require.NoError(m.BeginSessionReset(peer))

	events := rec.all()
	require.Len(events, 1)
	sec, ok := events[0].(*event.SecurityEvent)
	require.True(ok)
	require.Equal(event.SessionResetStarted, sec.Reason)
	require.Equal(peer, sec.Address)

	require.NoError(m.CompleteSessionReset(peer))
	require.Equal(ResetNone, store.reset[peer.ID])

	// An inbound reset is never downgraded by an outbound one.
	require.NoError(m.OnSessionResetRequest(peer))
	require.NoError(m.BeginSessionReset(peer))
	require.Equal(ResetRequestReceived, store.reset[peer.ID])
	require.Len(rec.all(), 1)
}

func TestConcurrentTransitions(t *testing.T) {
	t.Parallel()
	m, store, rec := newMachine(t)

	require.NoError(t, m.BeginFriendRequest(5, peer))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, m.FriendRequestSent(5, peer))
			} else {
				assert.NoError(t, m.FriendRequestFailed(5, peer, errors.New("x")))
			}
		}()
	}
	wg.Wait()

	st, err := store.MessageStatus(5)
	require.NoError(t, err)
	require.Contains(t, []MessageStatus{MessagePending, MessageFailed}, st)
	require.Len(t, rec.all(), 2)
}

func TestHalted(t *testing.T) {
	t.Parallel()
	m, _, _ := newMachine(t)
	m.Halt()
	require.ErrorIs(t, m.BeginSessionReset(peer), ErrHalted)
}
