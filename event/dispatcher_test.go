// dispatcher_test.go - Event dispatcher tests.
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

package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/swarmcourier/address"
)

func TestDispatcherDoesNotBlockEmitter(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	release := make(chan struct{})
	got := make(chan Event, 16)
	d := NewDispatcher(ListenerFunc(func(e Event) {
		<-release
		got <- e
	}), logging.MustGetLogger("event_test"))
	defer d.Halt()

	done := make(chan struct{})
	go func() {
		for i := int64(0); i < 10; i++ {
			d.Emit(&FriendRequestSendingEvent{MessageID: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Emit blocked on a stalled listener")
	}

	close(release)
	for i := int64(0); i < 10; i++ {
		select {
		case e := <-got:
			require.Equal(i, e.(*FriendRequestSendingEvent).MessageID)
		case <-time.After(5 * time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestNilListener(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil, logging.MustGetLogger("event_test"))
	d.Emit(&SecurityEvent{Address: address.New("05aa")})
	d.Halt()

	var nilDispatcher *Dispatcher
	nilDispatcher.Emit(&SyncEvent{})
}
