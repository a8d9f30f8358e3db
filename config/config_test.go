// config_test.go - Courier configuration tests.
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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const basicConfig = `# A basic configuration example.
DataDir = "/var/lib/courier"

[Logging]
Level = "debug"

[Swarm]
SeedNodes = [ "https://seed1.example.net:4433", "https://seed2.example.net:4433" ]

[FileServer]
URL = "https://file.example.net"

[PublicChannels]
  [PublicChannels.Tokens]
  "https://chat.example.net" = "s3cr3t"
`

func TestConfig(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	_, err := Load(nil)
	require.Error(err, "Load() with nil config")

	cfg, err := Load([]byte(basicConfig))
	require.NoError(err, "Load() with basic config")

	require.Equal("DEBUG", cfg.Logging.Level)
	require.Equal("/var/lib/courier/identity.key", cfg.Identity.PrivateKeyFile)
	require.Equal("/var/lib/courier/courier.db", cfg.Database.Path)
	require.Equal(2, cfg.Swarm.MinimumNodes)
	require.Equal(3, cfg.Swarm.TargetNodes)
	require.Equal(3, cfg.Swarm.FailureThreshold)
	require.Equal(10, cfg.Swarm.PoWDifficulty)
	require.Equal(20*time.Second, cfg.Swarm.RequestTimeoutDuration())
	require.Equal(time.Minute, cfg.Delivery.TimeoutDuration())
	require.Equal(time.Minute, cfg.Delivery.ChannelTimeoutDuration())
	require.Equal("s3cr3t", cfg.PublicChannels.Tokens["https://chat.example.net"])
	require.Empty(cfg.Metrics.Address)
}

func TestConfigRejects(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"relative DataDir": `DataDir = "courier"
[Swarm]
SeedNodes = [ "https://seed.example.net" ]
[FileServer]
URL = "https://file.example.net"`,
		"no Swarm": `DataDir = "/tmp/courier"
[FileServer]
URL = "https://file.example.net"`,
		"no FileServer": `DataDir = "/tmp/courier"
[Swarm]
SeedNodes = [ "https://seed.example.net" ]`,
		"bad level": `DataDir = "/tmp/courier"
[Logging]
Level = "LOUD"
[Swarm]
SeedNodes = [ "https://seed.example.net" ]
[FileServer]
URL = "https://file.example.net"`,
		"bad seed": `DataDir = "/tmp/courier"
[Swarm]
SeedNodes = [ "seed.example.net" ]
[FileServer]
URL = "https://file.example.net"`,
		"bad timeout": `DataDir = "/tmp/courier"
[Swarm]
SeedNodes = [ "https://seed.example.net" ]
[Delivery]
Timeout = "soon"
[FileServer]
URL = "https://file.example.net"`,
		"node counts": `DataDir = "/tmp/courier"
[Swarm]
SeedNodes = [ "https://seed.example.net" ]
MinimumNodes = 4
TargetNodes = 3
[FileServer]
URL = "https://file.example.net"`,
		"undecoded key": `DataDir = "/tmp/courier"
Bogus = true
[Swarm]
SeedNodes = [ "https://seed.example.net" ]
[FileServer]
URL = "https://file.example.net"`,
	} {
		_, err := Load([]byte(body))
		require.Error(t, err, name)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	f := filepath.Join(t.TempDir(), "courier.toml")
	require.NoError(os.WriteFile(f, []byte(basicConfig+`
[Swarm]
`), 0600))
	_, err := LoadFile(f)
	require.Error(err, "duplicate Swarm table")

	require.NoError(os.WriteFile(f, []byte(basicConfig), 0600))
	cfg, err := LoadFile(f)
	require.NoError(err)
	require.Len(cfg.Swarm.SeedNodes, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(err)
}
