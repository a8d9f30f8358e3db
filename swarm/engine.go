// engine.go - Swarm fan-out.
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

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/swarmcourier/address"
	"github.com/katzenpost/swarmcourier/core/worker"
	"github.com/katzenpost/swarmcourier/envelope"
	"github.com/katzenpost/swarmcourier/internal/instrument"
	"github.com/katzenpost/swarmcourier/pow"
)

// DefaultTimeout bounds a whole delivery.
const DefaultTimeout = time.Minute

// NodeResolver supplies the nodes for a recipient and is told about node
// failures.  *Resolver is a NodeResolver.
type NodeResolver interface {
	TargetNodes(ctx context.Context, pubKey string) ([]Node, error)
	ReportFailure(node Node, pubKey string)
	Drop(node Node, pubKey string)
}

// Hooks observe the progress of a delivery.  They run on the goroutine
// calling Deliver.  Any of them may be nil.
type Hooks struct {
	// Sending runs before any node is contacted.
	Sending func()

	// Sent runs when the first node accepts the message.
	Sent func()

	// Failed runs when the delivery fails, before Deliver returns.
	Failed func(error)
}

// Request is one envelope for one recipient.
type Request struct {
	Recipient address.Address
	Envelope  *envelope.OutgoingEnvelope
	Hooks     *Hooks
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Timeout bounds a delivery.  Zero means DefaultTimeout.
	Timeout time.Duration

	// Difficulty is the initial proof of work difficulty.  Zero means
	// pow.DefaultDifficulty; a negative value disables proof of work.
	Difficulty int
}

// Engine sends envelopes to every target node of a swarm concurrently.  A
// delivery succeeds as soon as one node accepts the envelope and fails
// only when all of them have failed or the timeout expires.
type Engine struct {
	worker.Worker

	log      *logging.Logger
	resolver NodeResolver
	rpc      RPC
	timeout  time.Duration

	difficulty atomic.Int64

	haltCtx    context.Context
	haltCancel context.CancelFunc
}

// NewEngine returns an Engine.
func NewEngine(cfg *EngineConfig, resolver NodeResolver, rpc RPC, log *logging.Logger) *Engine {
	e := &Engine{
		log:      log,
		resolver: resolver,
		rpc:      rpc,
		timeout:  cfg.Timeout,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	switch {
	case cfg.Difficulty == 0:
		e.difficulty.Store(pow.DefaultDifficulty)
	case cfg.Difficulty > 0:
		e.difficulty.Store(int64(cfg.Difficulty))
	}
	e.haltCtx, e.haltCancel = context.WithCancel(context.Background())
	return e
}

// Halt aborts outstanding node requests and waits for them.
func (e *Engine) Halt() {
	e.haltCancel()
	e.Worker.Halt()
}

// Difficulty returns the current proof of work difficulty.
func (e *Engine) Difficulty() int {
	return int(e.difficulty.Load())
}

func (e *Engine) setDifficulty(d int) {
	if d <= 0 || e.difficulty.Load() <= 0 {
		return
	}
	if old := e.difficulty.Swap(int64(d)); old != int64(d) {
		e.log.Noticef("Proof of work difficulty changed from %d to %d", old, d)
	}
}

type nodeResult struct {
	node Node
	err  error
}

// Deliver stores req.Envelope on the swarm of req.Recipient.  It returns
// nil once any node accepted the envelope.  Requests to the remaining
// nodes run to completion in the background and only feed node failure
// accounting.
func (e *Engine) Deliver(ctx context.Context, req *Request) error {
	hooks := req.Hooks
	if hooks == nil {
		hooks = new(Hooks)
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	fail := func(err error) error {
		instrument.FanoutFinished(time.Since(start), false)
		e.log.Warningf("Delivery to %v failed: %v", req.Recipient, err)
		if hooks.Failed != nil {
			hooks.Failed(err)
		}
		return err
	}

	if hooks.Sending != nil {
		hooks.Sending()
	}

	raw, err := req.Envelope.MarshalBinary()
	if err != nil {
		return fail(fmt.Errorf("swarm: encoding envelope: %w", err))
	}
	msg := &Message{
		PubKey:    req.Recipient.ID,
		Data:      base64.StdEncoding.EncodeToString(raw),
		TTL:       req.Envelope.TTLMillis(),
		Timestamp: uint64(time.Now().UnixMilli()),
	}

	nodes, err := e.resolver.TargetNodes(ctx, msg.PubKey)
	if err != nil {
		return fail(e.budgetErr(ctx, err))
	}
	if len(nodes) == 0 {
		return fail(ErrNoNodes)
	}
	if err := e.solve(ctx, msg); err != nil {
		return fail(e.budgetErr(ctx, err))
	}

	taskCtx, taskCancel := context.WithTimeout(e.haltCtx, e.timeout)
	results := make(chan nodeResult, len(nodes))
	var pending atomic.Int32
	pending.Store(int32(len(nodes)))
	for _, node := range nodes {
		e.Go(func() {
			defer func() {
				if pending.Add(-1) == 0 {
					taskCancel()
				}
			}()
			results <- nodeResult{node: node, err: e.store(taskCtx, node, *msg)}
		})
	}
	e.log.Debugf("Sending %v to %d nodes of %v", req.Envelope.Type(), len(nodes), req.Recipient)

	agg := newAggregator(len(nodes))
	for {
		select {
		case r := <-results:
			if r.err != nil {
				e.log.Debugf("Node %v rejected message for %v: %v", r.node, req.Recipient, r.err)
			}
			decided, err := agg.observe(r.err)
			if !decided {
				continue
			}
			if err != nil {
				return fail(err)
			}
			instrument.FanoutFinished(time.Since(start), true)
			e.log.Debugf("Node %v accepted message for %v", r.node, req.Recipient)
			if hooks.Sent != nil {
				hooks.Sent()
			}
			return nil
		case <-ctx.Done():
			return fail(e.budgetErr(ctx, ctx.Err()))
		}
	}
}

func (e *Engine) budgetErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v: %w", ErrTimeout, e.timeout, err)
	}
	return err
}

func (e *Engine) solve(ctx context.Context, msg *Message) error {
	d := e.Difficulty()
	if d <= 0 {
		return nil
	}
	nonce, err := pow.Calculate(ctx, msg.PubKey, msg.Data, msg.Timestamp, msg.TTL, d)
	if err != nil {
		return fmt.Errorf("swarm: proof of work: %w", err)
	}
	msg.Nonce = nonce
	return nil
}

// store sends msg to one node, redoing the proof of work once if the node
// asks for a higher difficulty.
func (e *Engine) store(ctx context.Context, node Node, msg Message) error {
	resp, err := e.rpc.Store(ctx, node, &msg)

	var powErr *InsufficientPoWError
	if errors.As(err, &powErr) {
		e.setDifficulty(powErr.Difficulty)
		if err = e.solve(ctx, &msg); err == nil {
			resp, err = e.rpc.Store(ctx, node, &msg)
		}
	}

	switch {
	case err == nil:
		if resp != nil {
			e.setDifficulty(resp.Difficulty)
		}
		return nil
	case errors.Is(err, ErrSnodeMigrated):
		e.log.Debugf("Node %v left the swarm of %s", node, msg.PubKey)
		e.resolver.Drop(node, msg.PubKey)
	case countsAgainstNode(err) && ctx.Err() == nil:
		instrument.NodeFailed()
		e.resolver.ReportFailure(node, msg.PubKey)
	}
	return err
}
