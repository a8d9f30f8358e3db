// resolver.go - Swarm resolution and node failure accounting.
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
	"errors"
	"fmt"
	mrand "math/rand"
	"sync"

	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/swarmcourier/core/retry"
)

const (
	// DefaultMinimumNodes is the smallest cached swarm still used.
	DefaultMinimumNodes = 2

	// DefaultTargetNodes is how many nodes a message is sent to.
	DefaultTargetNodes = 3

	// DefaultFailureThreshold is how many failures drop a node.
	DefaultFailureThreshold = 3
)

var errNoSeeds = errors.New("swarm: no seed nodes configured")

// RPC is the storage node transport.
type RPC interface {
	Store(ctx context.Context, node Node, msg *Message) (*StoreResponse, error)
	GetSwarm(ctx context.Context, node Node, pubKey string) ([]Node, error)
	GetServiceNodes(ctx context.Context, seed string) ([]Node, error)
}

// CacheStore persists resolved swarms.  SwarmCache returns nil for an
// identity with no cached swarm.
type CacheStore interface {
	SwarmCache(pubKey string) ([]Node, error)
	SetSwarmCache(pubKey string, nodes []Node) error
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	SeedNodes        []string
	MinimumNodes     int
	TargetNodes      int
	FailureThreshold int
	Retry            *retry.Policy
}

func (c *ResolverConfig) applyDefaults() {
	if c.MinimumNodes <= 0 {
		c.MinimumNodes = DefaultMinimumNodes
	}
	if c.TargetNodes <= 0 {
		c.TargetNodes = DefaultTargetNodes
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.Retry == nil {
		c.Retry = retry.DefaultPolicy()
	}
}

// Resolver finds the storage nodes responsible for an identity and keeps
// track of misbehaving nodes.
type Resolver struct {
	sync.Mutex

	log   *logging.Logger
	cfg   ResolverConfig
	rpc   RPC
	cache CacheStore
	rng   *mrand.Rand

	pool     []Node
	failures map[Node]int

	// cacheLock serialises access to cache.
	cacheLock sync.Mutex
}

// NewResolver returns a Resolver.
func NewResolver(cfg *ResolverConfig, rpc RPC, cache CacheStore, log *logging.Logger) *Resolver {
	c := *cfg
	c.applyDefaults()
	return &Resolver{
		log:      log,
		cfg:      c,
		rpc:      rpc,
		cache:    cache,
		rng:      rand.NewMath(),
		failures: make(map[Node]int),
	}
}

// TargetNodes returns up to TargetNodes randomly chosen nodes of the swarm
// for pubKey.
func (r *Resolver) TargetNodes(ctx context.Context, pubKey string) ([]Node, error) {
	swarm, err := r.swarm(ctx, pubKey)
	if err != nil {
		return nil, err
	}
	if len(swarm) == 0 {
		return nil, ErrNoNodes
	}

	r.Lock()
	r.rng.Shuffle(len(swarm), func(i, j int) { swarm[i], swarm[j] = swarm[j], swarm[i] })
	r.Unlock()

	if len(swarm) > r.cfg.TargetNodes {
		swarm = swarm[:r.cfg.TargetNodes]
	}
	return swarm, nil
}

func (r *Resolver) swarm(ctx context.Context, pubKey string) ([]Node, error) {
	r.cacheLock.Lock()
	cached, err := r.cache.SwarmCache(pubKey)
	r.cacheLock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("swarm: reading swarm cache: %w", err)
	}
	if len(cached) >= r.cfg.MinimumNodes {
		return cached, nil
	}

	var swarm []Node
	err = r.cfg.Retry.Do(ctx, func(attempt int) error {
		node, err := r.randomNode(ctx)
		if err != nil {
			return err
		}
		r.log.Debugf("Fetching swarm of %s from %v (attempt %d)", pubKey, node, attempt)
		swarm, err = r.rpc.GetSwarm(ctx, node, pubKey)
		if err != nil && countsAgainstNode(err) {
			r.ReportFailure(node, pubKey)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("swarm: resolving swarm of %s: %w", pubKey, err)
	}
	r.cacheLock.Lock()
	if err := r.cache.SetSwarmCache(pubKey, swarm); err != nil {
		r.log.Warningf("Failed to cache swarm of %s: %v", pubKey, err)
	}
	r.cacheLock.Unlock()
	return append([]Node{}, swarm...), nil
}

func (r *Resolver) randomNode(ctx context.Context) (Node, error) {
	r.Lock()
	if len(r.pool) > 0 {
		n := r.pool[r.rng.Intn(len(r.pool))]
		r.Unlock()
		return n, nil
	}
	if len(r.cfg.SeedNodes) == 0 {
		r.Unlock()
		return Node{}, errNoSeeds
	}
	seed := r.cfg.SeedNodes[r.rng.Intn(len(r.cfg.SeedNodes))]
	r.Unlock()

	r.log.Debugf("Refreshing node pool from seed %s", seed)
	nodes, err := r.rpc.GetServiceNodes(ctx, seed)
	if err != nil {
		return Node{}, err
	}
	if len(nodes) == 0 {
		return Node{}, ErrNoNodes
	}

	r.Lock()
	defer r.Unlock()
	r.pool = nodes
	return r.pool[r.rng.Intn(len(r.pool))], nil
}

// ReportFailure records a failed request to node.  Once the node reaches
// the failure threshold it is removed from the swarm of pubKey and from
// the node pool.
func (r *Resolver) ReportFailure(node Node, pubKey string) {
	r.Lock()
	r.failures[node]++
	n := r.failures[node]
	dropped := n >= r.cfg.FailureThreshold
	if dropped {
		delete(r.failures, node)
		for i, p := range r.pool {
			if p == node {
				r.pool = append(r.pool[:i], r.pool[i+1:]...)
				break
			}
		}
	}
	r.Unlock()

	r.log.Debugf("Node %v failed, failure count now %d", node, n)
	if dropped {
		r.log.Noticef("Failure threshold reached for %v, dropping it", node)
		r.Drop(node, pubKey)
	}
}

// FailureCount returns the current failure count of node.
func (r *Resolver) FailureCount(node Node) int {
	r.Lock()
	defer r.Unlock()
	return r.failures[node]
}

// Drop removes node from the cached swarm of pubKey.
func (r *Resolver) Drop(node Node, pubKey string) {
	r.cacheLock.Lock()
	defer r.cacheLock.Unlock()

	swarm, err := r.cache.SwarmCache(pubKey)
	if err != nil {
		r.log.Warningf("Failed to read swarm cache of %s: %v", pubKey, err)
		return
	}
	for i, n := range swarm {
		if n == node {
			swarm = append(swarm[:i], swarm[i+1:]...)
			if err := r.cache.SetSwarmCache(pubKey, swarm); err != nil {
				r.log.Warningf("Failed to update swarm cache of %s: %v", pubKey, err)
			}
			return
		}
	}
}
