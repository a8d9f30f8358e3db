// aggregator.go - First success wins, fail only on total failure.
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

package swarm

import "fmt"

// aggregator decides the outcome of a fan-out from the results of its
// tasks.  It is owned by a single goroutine.
type aggregator struct {
	issued   int
	failed   int
	resolved bool
	lastErr  error
}

func newAggregator(issued int) *aggregator {
	return &aggregator{issued: issued}
}

// observe records the result of one task.  It returns true exactly once,
// for the result that decides the fan-out, along with the outcome: nil on
// the first success, an error once every task has failed.
func (a *aggregator) observe(err error) (bool, error) {
	if a.resolved {
		return false, nil
	}
	if err == nil {
		a.resolved = true
		return true, nil
	}

	a.failed++
	a.lastErr = err
	if a.failed < a.issued {
		return false, nil
	}
	a.resolved = true
	return true, fmt.Errorf("%w (%d of %d): %w", ErrAllNodesFailed, a.failed, a.issued, a.lastErr)
}
