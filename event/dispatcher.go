// dispatcher.go - Non-blocking event dispatch.
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
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/swarmcourier/core/worker"
)

// Dispatcher queues events and delivers them to a Listener in order from
// its own goroutine.  Emit never blocks on the listener.
type Dispatcher struct {
	worker.Worker

	log      *logging.Logger
	listener Listener

	sync.Mutex
	queue  []Event
	wakeCh chan struct{}
}

// NewDispatcher starts a dispatcher for l.  A nil listener discards every
// event.
func NewDispatcher(l Listener, log *logging.Logger) *Dispatcher {
	d := &Dispatcher{
		log:      log,
		listener: l,
		wakeCh:   make(chan struct{}, 1),
	}
	if l != nil {
		d.Go(d.worker)
	}
	return d
}

// Emit queues e for delivery.
func (d *Dispatcher) Emit(e Event) {
	if d == nil || d.listener == nil {
		return
	}
	d.Lock()
	d.queue = append(d.queue, e)
	d.Unlock()

	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) worker() {
	for {
		select {
		case <-d.HaltCh():
			d.log.Debugf("Terminating gracefully.")
			return
		case <-d.wakeCh:
		}

		d.Lock()
		pending := d.queue
		d.queue = nil
		d.Unlock()

		for _, e := range pending {
			d.log.Debugf("Dispatching %v", e)
			d.listener.Notify(e)
		}
	}
}
