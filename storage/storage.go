// storage.go - bbolt backed local state.
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

// Package storage persists the local state the delivery core consumes:
// staged pre-key bundles, public chat metadata, protocol status, cached
// swarms, linked devices and the session engine state.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/swarmcourier/address"
	"github.com/katzenpost/swarmcourier/delivery"
	"github.com/katzenpost/swarmcourier/protostate"
	"github.com/katzenpost/swarmcourier/session"
	"github.com/katzenpost/swarmcourier/swarm"
)

const (
	metadataBucket      = "metadata"
	bundlesBucket       = "prekey_bundles"
	publicChatsBucket   = "public_chats"
	threadIDsBucket     = "thread_ids"
	threadStatusBucket  = "thread_status"
	resetStatusBucket   = "reset_status"
	messageStatusBucket = "message_status"
	swarmCacheBucket    = "swarm_cache"
	serverIDsBucket     = "server_ids"
	devicesBucket       = "linked_devices"

	versionKey     = "version"
	engineStateKey = "engine_state"

	schemaVersion = 0
)

var allBuckets = []string{
	bundlesBucket,
	publicChatsBucket,
	threadIDsBucket,
	threadStatusBucket,
	resetStatusBucket,
	messageStatusBucket,
	swarmCacheBucket,
	serverIDsBucket,
	devicesBucket,
}

// ErrNotFound is returned for lookups of absent keys that have no more
// specific error.
var ErrNotFound = errors.New("storage: not found")

// DB is the local database.
type DB struct {
	db  *bolt.DB
	log *logging.Logger
}

// Open creates or loads the database at path.
func Open(path string, log *logging.Logger) (*DB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	d := &DB{db: db, log: log}

	if err = d.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		for _, name := range allBuckets {
			if _, err = tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != schemaVersion {
				return fmt.Errorf("storage: incompatible version: %d", uint(b[0]))
			}
			return nil
		}
		return bkt.Put([]byte(versionKey), []byte{schemaVersion})
	}); err != nil {
		db.Close()
		return nil, err
	}
	log.Debugf("Opened database %s", path)
	return d, nil
}

// Close closes the database.
func (d *DB) Close() error {
	if err := d.db.Sync(); err != nil {
		d.log.Warningf("Failed to sync database: %v", err)
	}
	return d.db.Close()
}

func int64Key(v int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(v))
	return k[:]
}

func (d *DB) get(bucket string, key []byte) ([]byte, error) {
	var out []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(bucket)).Get(key); v != nil {
			out = append([]byte{}, v...)
		}
		return nil
	})
	return out, err
}

func (d *DB) put(bucket string, key, value []byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put(key, value)
	})
}

func (d *DB) del(bucket string, key []byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Delete(key)
	})
}

// StagePreKeyBundle stores a bundle received out of band for peer.
func (d *DB) StagePreKeyBundle(peer string, b *session.PreKeyBundle) error {
	raw, err := b.MarshalBinary()
	if err != nil {
		return err
	}
	return d.put(bundlesBucket, []byte(peer), raw)
}

// PreKeyBundle implements session.BundleStore.
func (d *DB) PreKeyBundle(peer string) (*session.PreKeyBundle, error) {
	raw, err := d.get(bundlesBucket, []byte(peer))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, session.ErrNoBundle
	}
	b := new(session.PreKeyBundle)
	if err := b.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("storage: corrupt bundle for %s: %w", peer, err)
	}
	return b, nil
}

// RemovePreKeyBundle implements session.BundleStore.
func (d *DB) RemovePreKeyBundle(peer string) error {
	return d.del(bundlesBucket, []byte(peer))
}

// SetPublicChat marks id as a public channel.
func (d *DB) SetPublicChat(id string, chat *delivery.PublicChat) error {
	raw, err := cbor.Marshal(chat)
	if err != nil {
		return err
	}
	return d.put(publicChatsBucket, []byte(id), raw)
}

// RemovePublicChat forgets the public channel behind id.
func (d *DB) RemovePublicChat(id string) error {
	return d.del(publicChatsBucket, []byte(id))
}

// PublicChat implements delivery.ThreadStore.
func (d *DB) PublicChat(id string) (*delivery.PublicChat, error) {
	raw, err := d.get(publicChatsBucket, []byte(id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, delivery.ErrNoPublicChat
	}
	chat := new(delivery.PublicChat)
	if err := cbor.Unmarshal(raw, chat); err != nil {
		return nil, fmt.Errorf("storage: corrupt public chat %s: %w", id, err)
	}
	return chat, nil
}

// ThreadID returns the thread id of the conversation with peer, allocating
// one on first use.
func (d *DB) ThreadID(peer string) (int64, error) {
	var id int64
	err := d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(threadIDsBucket))
		if v := bkt.Get([]byte(peer)); v != nil {
			id = int64(binary.BigEndian.Uint64(v))
			return nil
		}
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		return bkt.Put([]byte(peer), int64Key(id))
	})
	return id, err
}

func (d *DB) status(bucket string, key []byte) (uint8, error) {
	raw, err := d.get(bucket, key)
	if err != nil || raw == nil {
		return 0, err
	}
	if len(raw) != 1 {
		return 0, fmt.Errorf("storage: corrupt status in %s", bucket)
	}
	return raw[0], nil
}

// MessageStatus implements protostate.Store.
func (d *DB) MessageStatus(messageID int64) (protostate.MessageStatus, error) {
	s, err := d.status(messageStatusBucket, int64Key(messageID))
	return protostate.MessageStatus(s), err
}

// SetMessageStatus implements protostate.Store.
func (d *DB) SetMessageStatus(messageID int64, s protostate.MessageStatus) error {
	return d.put(messageStatusBucket, int64Key(messageID), []byte{uint8(s)})
}

// ThreadStatus implements protostate.Store.
func (d *DB) ThreadStatus(peer string) (protostate.ThreadStatus, error) {
	s, err := d.status(threadStatusBucket, []byte(peer))
	return protostate.ThreadStatus(s), err
}

// SetThreadStatus implements protostate.Store.
func (d *DB) SetThreadStatus(peer string, s protostate.ThreadStatus) error {
	return d.put(threadStatusBucket, []byte(peer), []byte{uint8(s)})
}

// ResetStatus implements protostate.Store.
func (d *DB) ResetStatus(peer string) (protostate.ResetStatus, error) {
	s, err := d.status(resetStatusBucket, []byte(peer))
	return protostate.ResetStatus(s), err
}

// SetResetStatus implements protostate.Store.
func (d *DB) SetResetStatus(peer string, s protostate.ResetStatus) error {
	return d.put(resetStatusBucket, []byte(peer), []byte{uint8(s)})
}

// SwarmCache implements swarm.CacheStore.
func (d *DB) SwarmCache(pubKey string) ([]swarm.Node, error) {
	raw, err := d.get(swarmCacheBucket, []byte(pubKey))
	if err != nil || raw == nil {
		return nil, err
	}
	var nodes []swarm.Node
	if err := cbor.Unmarshal(raw, &nodes); err != nil {
		return nil, fmt.Errorf("storage: corrupt swarm cache for %s: %w", pubKey, err)
	}
	return nodes, nil
}

// SetSwarmCache implements swarm.CacheStore.
func (d *DB) SetSwarmCache(pubKey string, nodes []swarm.Node) error {
	raw, err := cbor.Marshal(nodes)
	if err != nil {
		return err
	}
	return d.put(swarmCacheBucket, []byte(pubKey), raw)
}

// SetServerMessageID records the id a public chat server assigned to a
// local message.
func (d *DB) SetServerMessageID(messageID int64, serverID uint64) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], serverID)
	return d.put(serverIDsBucket, int64Key(messageID), v[:])
}

// ServerMessageID returns the server id of a local message.
func (d *DB) ServerMessageID(messageID int64) (uint64, error) {
	raw, err := d.get(serverIDsBucket, int64Key(messageID))
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, ErrNotFound
	}
	return binary.BigEndian.Uint64(raw), nil
}

// LinkDevice records another device of the local identity.
func (d *DB) LinkDevice(a address.Address) error {
	return d.put(devicesBucket, []byte(a.String()), []byte{1})
}

// UnlinkDevice forgets a linked device.
func (d *DB) UnlinkDevice(a address.Address) error {
	return d.del(devicesBucket, []byte(a.String()))
}

// LinkedDevices returns the other devices of the local identity.
func (d *DB) LinkedDevices() ([]address.Address, error) {
	var out []address.Address
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(devicesBucket)).ForEach(func(k, _ []byte) error {
			a, err := address.Parse(string(k))
			if err != nil {
				d.log.Warningf("Skipping malformed linked device %q: %v", k, err)
				return nil
			}
			out = append(out, a)
			return nil
		})
	})
	return out, err
}

// IsMultiDevice reports whether any other device is linked.
func (d *DB) IsMultiDevice() bool {
	devices, err := d.LinkedDevices()
	if err != nil {
		d.log.Errorf("Failed to read linked devices: %v", err)
		return false
	}
	return len(devices) > 0
}

// EngineState returns the saved session engine state, or nil.
func (d *DB) EngineState() ([]byte, error) {
	return d.get(metadataBucket, []byte(engineStateKey))
}

// SetEngineState saves the session engine state.
func (d *DB) SetEngineState(b []byte) error {
	return d.put(metadataBucket, []byte(engineStateKey), b)
}
