// sync.go - Background transcript delivery to linked devices.
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
	"github.com/katzenpost/swarmcourier/envelope"
	"github.com/katzenpost/swarmcourier/event"
	"github.com/katzenpost/swarmcourier/internal/instrument"
	"github.com/katzenpost/swarmcourier/swarm"
)

// dispatchSync mirrors a transcript to the linked devices without holding
// up the caller.  Failures are reported as events only.
func (s *Sender) dispatchSync(messageID int64, timestamp uint64, transcript []byte) {
	devices, err := s.cfg.Store.LinkedDevices()
	if err != nil {
		s.log.Errorf("Failed to read linked devices: %v", err)
		return
	}
	s.cfg.Events.Emit(&event.SyncEvent{
		MessageID: messageID,
		Timestamp: timestamp,
		Content:   transcript,
		Devices:   devices,
	})

	for _, dev := range devices {
		s.Go(func() {
			env, err := s.cfg.Builder.Build(&envelope.Request{
				Recipient: dev,
				Timestamp: timestamp,
				Content:   transcript,
				Class:     envelope.ClassDefault,
			})
			if err == nil {
				err = s.cfg.Swarm.Deliver(s.haltCtx, &swarm.Request{Recipient: dev, Envelope: env})
			}
			instrument.SyncDispatch(err == nil)
			if err != nil {
				s.log.Warningf("Sync of message %d to %v failed: %v", messageID, dev, err)
				s.cfg.Events.Emit(&event.SyncFailedEvent{MessageID: messageID, Device: dev, Err: err})
				return
			}
			s.log.Debugf("Synced message %d to %v", messageID, dev)
		})
	}
}
