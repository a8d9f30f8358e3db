// config.go - Courier configuration.
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

// Package config implements the courier configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/katzenpost/swarmcourier/core/log"
)

const (
	defaultLogLevel         = "NOTICE"
	defaultDatabase         = "courier.db"
	defaultIdentityFile     = "identity.key"
	defaultMinimumNodes     = 2
	defaultTargetNodes      = 3
	defaultFailureThreshold = 3
	defaultPoWDifficulty    = 10
	defaultRequestTimeout   = "20s"
	defaultDeliveryTimeout  = "1m"
	defaultChannelTimeout   = "1m"
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	if lvl == "" {
		lvl = defaultLogLevel
	}
	if err := log.ValidateLevel(lvl); err != nil {
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Identity is the local identity configuration.
type Identity struct {
	// PrivateKeyFile is the file the serialized session engine, which
	// includes the identity private key, is imported from on first run.
	// Relative paths are resolved against DataDir.
	PrivateKeyFile string
}

// Database is the local state configuration.
type Database struct {
	// Path is the bbolt database file.  Relative paths are resolved
	// against DataDir.
	Path string
}

// Swarm is the storage node configuration.
type Swarm struct {
	// SeedNodes are the URLs the service node list is fetched from.
	SeedNodes []string

	// MinimumNodes is the smallest cached swarm used without refetching.
	MinimumNodes int

	// TargetNodes is how many nodes of a swarm each message goes to.
	TargetNodes int

	// FailureThreshold is how many failures drop a node.
	FailureThreshold int

	// PoWDifficulty is the initial proof of work difficulty.  A negative
	// value disables proof of work.
	PoWDifficulty int

	// UseHTTP3 talks to storage nodes over HTTP/3.
	UseHTTP3 bool

	// InsecureSkipVerify accepts self-signed node certificates.
	InsecureSkipVerify bool

	// RequestTimeout bounds one node request, e.g. "20s".
	RequestTimeout string

	requestTimeout time.Duration
}

func (sCfg *Swarm) applyDefaults() {
	if sCfg.MinimumNodes <= 0 {
		sCfg.MinimumNodes = defaultMinimumNodes
	}
	if sCfg.TargetNodes <= 0 {
		sCfg.TargetNodes = defaultTargetNodes
	}
	if sCfg.FailureThreshold <= 0 {
		sCfg.FailureThreshold = defaultFailureThreshold
	}
	if sCfg.PoWDifficulty == 0 {
		sCfg.PoWDifficulty = defaultPoWDifficulty
	}
	if sCfg.RequestTimeout == "" {
		sCfg.RequestTimeout = defaultRequestTimeout
	}
}

func (sCfg *Swarm) validate() error {
	if len(sCfg.SeedNodes) == 0 {
		return errors.New("config: Swarm: SeedNodes is empty")
	}
	for _, v := range sCfg.SeedNodes {
		if err := validateURL(v); err != nil {
			return fmt.Errorf("config: Swarm: SeedNode '%v' is invalid: %v", v, err)
		}
	}
	if sCfg.MinimumNodes > sCfg.TargetNodes {
		return fmt.Errorf("config: Swarm: MinimumNodes %d exceeds TargetNodes %d", sCfg.MinimumNodes, sCfg.TargetNodes)
	}
	d, err := parseDuration("Swarm", "RequestTimeout", sCfg.RequestTimeout)
	if err != nil {
		return err
	}
	sCfg.requestTimeout = d
	return nil
}

// RequestTimeoutDuration returns the parsed RequestTimeout.
func (sCfg *Swarm) RequestTimeoutDuration() time.Duration {
	return sCfg.requestTimeout
}

// Delivery is the send path configuration.
type Delivery struct {
	// Timeout bounds a whole swarm fan-out, e.g. "1m".
	Timeout string

	// ChannelTimeout bounds a public channel post.
	ChannelTimeout string

	// DisplayName is shown next to public channel posts.
	DisplayName string

	timeout        time.Duration
	channelTimeout time.Duration
}

func (dCfg *Delivery) applyDefaults() {
	if dCfg.Timeout == "" {
		dCfg.Timeout = defaultDeliveryTimeout
	}
	if dCfg.ChannelTimeout == "" {
		dCfg.ChannelTimeout = defaultChannelTimeout
	}
}

func (dCfg *Delivery) validate() error {
	var err error
	if dCfg.timeout, err = parseDuration("Delivery", "Timeout", dCfg.Timeout); err != nil {
		return err
	}
	dCfg.channelTimeout, err = parseDuration("Delivery", "ChannelTimeout", dCfg.ChannelTimeout)
	return err
}

// TimeoutDuration returns the parsed Timeout.
func (dCfg *Delivery) TimeoutDuration() time.Duration {
	return dCfg.timeout
}

// ChannelTimeoutDuration returns the parsed ChannelTimeout.
func (dCfg *Delivery) ChannelTimeoutDuration() time.Duration {
	return dCfg.channelTimeout
}

// FileServer is the attachment server configuration.
type FileServer struct {
	// URL is the server encrypted attachments are uploaded to.
	URL string
}

// PublicChannels holds the credentials for public chat servers.
type PublicChannels struct {
	// Tokens maps a server URL to its bearer token.
	Tokens map[string]string
}

func (pCfg *PublicChannels) validate() error {
	for server := range pCfg.Tokens {
		if err := validateURL(server); err != nil {
			return fmt.Errorf("config: PublicChannels: server '%v' is invalid: %v", server, err)
		}
	}
	return nil
}

// Metrics is the instrumentation configuration.
type Metrics struct {
	// Address is where Prometheus metrics are served, e.g.
	// "127.0.0.1:9100".  Empty disables the endpoint.
	Address string
}

// Config is the top level courier configuration.
type Config struct {
	// DataDir is the absolute path of the directory holding local state.
	DataDir string

	Logging        *Logging
	Identity       *Identity
	Database       *Database
	Swarm          *Swarm
	Delivery       *Delivery
	FileServer     *FileServer
	PublicChannels *PublicChannels
	Metrics        *Metrics
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	// DataDir, Swarm and FileServer are mandatory, everything else is
	// optional.
	if !filepath.IsAbs(cfg.DataDir) {
		return fmt.Errorf("config: DataDir '%v' is not an absolute path", cfg.DataDir)
	}
	if cfg.Swarm == nil {
		return errors.New("config: No Swarm block was present")
	}
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if cfg.Identity == nil {
		cfg.Identity = &Identity{}
	}
	if cfg.Identity.PrivateKeyFile == "" {
		cfg.Identity.PrivateKeyFile = defaultIdentityFile
	}
	cfg.Identity.PrivateKeyFile = cfg.abs(cfg.Identity.PrivateKeyFile)
	if cfg.Database == nil {
		cfg.Database = &Database{}
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = defaultDatabase
	}
	cfg.Database.Path = cfg.abs(cfg.Database.Path)
	if cfg.Delivery == nil {
		cfg.Delivery = &Delivery{}
	}
	if cfg.FileServer == nil {
		return errors.New("config: No FileServer block was present")
	}
	if cfg.PublicChannels == nil {
		cfg.PublicChannels = &PublicChannels{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}

	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	cfg.Swarm.applyDefaults()
	if err := cfg.Swarm.validate(); err != nil {
		return err
	}
	cfg.Delivery.applyDefaults()
	if err := cfg.Delivery.validate(); err != nil {
		return err
	}
	if err := validateURL(cfg.FileServer.URL); err != nil {
		return fmt.Errorf("config: FileServer: URL '%v' is invalid: %v", cfg.FileServer.URL, err)
	}
	return cfg.PublicChannels.validate()
}

func (cfg *Config) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cfg.DataDir, p)
}

func parseDuration(section, key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %s '%v' is invalid: %v", section, key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s: %s '%v' must be positive", section, key, v)
	}
	return d, nil
}

func validateURL(v string) error {
	u, err := url.Parse(v)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme '%v'", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
