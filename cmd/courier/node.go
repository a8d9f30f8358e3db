// node.go - Courier component wiring.
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

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/swarmcourier/blob"
	"github.com/katzenpost/swarmcourier/config"
	"github.com/katzenpost/swarmcourier/content"
	"github.com/katzenpost/swarmcourier/core/log"
	"github.com/katzenpost/swarmcourier/delivery"
	"github.com/katzenpost/swarmcourier/devicesync"
	"github.com/katzenpost/swarmcourier/envelope"
	"github.com/katzenpost/swarmcourier/event"
	"github.com/katzenpost/swarmcourier/internal/instrument"
	"github.com/katzenpost/swarmcourier/internal/profiling"
	"github.com/katzenpost/swarmcourier/protostate"
	"github.com/katzenpost/swarmcourier/sender"
	"github.com/katzenpost/swarmcourier/session"
	"github.com/katzenpost/swarmcourier/session/sealbox"
	"github.com/katzenpost/swarmcourier/storage"
	"github.com/katzenpost/swarmcourier/swarm"
	"github.com/katzenpost/swarmcourier/transport"
)

var errNoIdentity = errors.New("no identity, run gen-identity first")

// node owns every long lived component of one courier process.
type node struct {
	cfg        *config.Config
	logBackend *log.Backend
	log        *logging.Logger

	db     *storage.DB
	engine *sealbox.Engine
	events *event.Dispatcher

	storage  *transport.StorageClient
	channels *transport.ChannelClient
	files    *transport.FileClient

	swarm  *swarm.Engine
	state  *protostate.Machine
	sender *sender.Sender

	metrics       *http.Server
	stopProfiling func()
}

func newLogBackend(cfg *config.Config) (*log.Backend, error) {
	return log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
}

// readIdentity reads a hex encoded X25519 private key.
func readIdentity(path string) (*[32]byte, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errNoIdentity
	}
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("malformed identity key in %s", path)
	}
	var k [32]byte
	copy(k[:], raw)
	return &k, nil
}

func loadEngine(cfg *config.Config, db *storage.DB) (*sealbox.Engine, error) {
	state, err := db.EngineState()
	if err != nil {
		return nil, err
	}
	if state != nil {
		return sealbox.Load(state)
	}
	k, err := readIdentity(cfg.Identity.PrivateKeyFile)
	if err != nil {
		return nil, err
	}
	return sealbox.New(k)
}

func openNode(cfg *config.Config, listener event.Listener) (*node, error) {
	n := &node{cfg: cfg, stopProfiling: func() {}}
	var err error
	if n.logBackend, err = newLogBackend(cfg); err != nil {
		return nil, err
	}
	n.log = n.logBackend.GetLogger("courier")

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}
	if n.db, err = storage.Open(cfg.Database.Path, n.logBackend.GetLogger("storage")); err != nil {
		return nil, err
	}
	if n.engine, err = loadEngine(cfg, n.db); err != nil {
		n.db.Close()
		return nil, err
	}

	if n.stopProfiling, err = profiling.Start(n.logBackend.GetLogger("profiling")); err != nil {
		n.log.Warningf("Profiling disabled: %v", err)
		n.stopProfiling = func() {}
	}
	if n.metrics, err = instrument.Init(cfg.Metrics.Address, n.logBackend.GetGoLogger("metrics", "WARNING")); err != nil {
		n.close()
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	tcfg := &transport.Config{
		Timeout:            cfg.Swarm.RequestTimeoutDuration(),
		UseHTTP3:           cfg.Swarm.UseHTTP3,
		InsecureSkipVerify: cfg.Swarm.InsecureSkipVerify,
	}
	n.storage = transport.NewStorageClient(tcfg, n.logBackend.GetLogger("storage_rpc"))
	n.channels = transport.NewChannelClient(&transport.Config{}, cfg.PublicChannels.Tokens, nil, n.logBackend.GetLogger("channels"))
	n.files = transport.NewFileClient(&transport.Config{}, cfg.PublicChannels.Tokens, n.logBackend.GetLogger("files"))

	swarmLog := n.logBackend.GetLogger("swarm")
	resolver := swarm.NewResolver(&swarm.ResolverConfig{
		SeedNodes:        cfg.Swarm.SeedNodes,
		MinimumNodes:     cfg.Swarm.MinimumNodes,
		TargetNodes:      cfg.Swarm.TargetNodes,
		FailureThreshold: cfg.Swarm.FailureThreshold,
	}, n.storage, n.db, swarmLog)
	n.swarm = swarm.NewEngine(&swarm.EngineConfig{
		Timeout:    cfg.Delivery.TimeoutDuration(),
		Difficulty: cfg.Swarm.PoWDifficulty,
	}, resolver, n.storage, swarmLog)

	n.events = event.NewDispatcher(listener, n.logBackend.GetLogger("events"))
	n.state = protostate.New(n.db, n.events, n.logBackend.GetLogger("protostate"))

	codec, err := content.NewCBORCodec()
	if err != nil {
		n.close()
		return nil, err
	}
	local := n.engine.Address()
	gate := session.NewGatekeeper(n.engine, n.db, n.events, n.logBackend.GetLogger("session"))
	n.sender, err = sender.New(&sender.Config{
		Local:          local,
		DisplayName:    cfg.Delivery.DisplayName,
		Codec:          codec,
		Classifier:     delivery.NewClassifier(local, n.db),
		Builder:        envelope.NewBuilder(local, gate, n.engine),
		Swarm:          n.swarm,
		Channels:       n.channels,
		Uploader:       blob.NewUploader(n.files, cfg.FileServer.URL, instrument.Uploaded, n.logBackend.GetLogger("blob")),
		State:          n.state,
		PreKeys:        n.engine,
		Store:          n.db,
		Sync:           devicesync.NewDecider(local, codec, n.db.IsMultiDevice),
		Events:         n.events,
		ChannelTimeout: cfg.Delivery.ChannelTimeoutDuration(),
	}, n.logBackend.GetLogger("sender"))
	if err != nil {
		n.close()
		return nil, err
	}
	n.log.Noticef("Courier started as %v", local)
	return n, nil
}

// saveEngine persists sessions, trust decisions and issued pre-keys.
func (n *node) saveEngine() error {
	b, err := n.engine.MarshalBinary()
	if err != nil {
		return err
	}
	return n.db.SetEngineState(b)
}

// close stops every component in reverse dependency order.
func (n *node) close() {
	if n.sender != nil {
		n.sender.Halt()
	}
	if n.swarm != nil {
		n.swarm.Halt()
	}
	if n.state != nil {
		n.state.Halt()
	}
	if n.events != nil {
		n.events.Halt()
	}
	if n.storage != nil {
		n.storage.Close()
		n.channels.Close()
		n.files.Close()
	}
	if n.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		n.metrics.Shutdown(ctx)
		cancel()
	}
	n.stopProfiling()
	if n.engine != nil {
		if err := n.saveEngine(); err != nil {
			n.log.Errorf("Failed to save session state: %v", err)
		}
	}
	n.db.Close()
}
