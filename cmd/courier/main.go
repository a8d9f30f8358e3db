// main.go - Courier command line client.
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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/katzenpost/swarmcourier/common"
	"github.com/katzenpost/swarmcourier/config"
	"github.com/katzenpost/swarmcourier/event"
)

// Config holds the command line configuration.
type Config struct {
	ConfigFile string
	Quiet      bool
}

func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "courier",
		Short: "Swarm messenger delivery client",
		Long: `courier sends end-to-end encrypted messages to the storage swarm of each
recipient, to public chat channels, and to the other devices linked to the
local identity.

A message is handed to several storage nodes of the recipient's swarm at
once. It counts as sent as soon as one node accepts it and fails only when
every node rejected it or the delivery timeout expired.`,
		Example: `  # Create an identity and print its address
  courier gen-identity -f courier.toml
  courier identity --qr

  # Give a contact a pre-key bundle, then stage theirs
  courier export-bundle --out alice.bundle
  courier stage-bundle --for 05ab... --file bob.bundle

  # Send a friend request, then a plain message
  courier send --to 05ab... --text "hi, it's alice" --friend-request
  courier send --to 05ab... --text "hello again"`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&cfg.ConfigFile, "config", "f", "courier.toml",
		"path to the configuration file (TOML format)")
	cmd.PersistentFlags().BoolVarP(&cfg.Quiet, "quiet", "q", false,
		"do not print events")

	cmd.AddCommand(
		newGenIdentityCommand(&cfg),
		newIdentityCommand(&cfg),
		newExportBundleCommand(&cfg),
		newStageBundleCommand(&cfg),
		newSendCommand(&cfg),
		newUploadCommand(&cfg),
		newLinkDeviceCommand(&cfg),
		newJoinChannelCommand(&cfg),
	)
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := common.ExecuteWithFang(ctx, newRootCommand())
	stop()
	os.Exit(code)
}

func loadConfig(cfg *Config) (*config.Config, error) {
	c, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file '%v': %v", cfg.ConfigFile, err)
	}
	return c, nil
}

// withNode runs fn against a started node and persists session state
// afterwards.
func withNode(cmd *cobra.Command, cfg *Config, fn func(*node) error) error {
	c, err := loadConfig(cfg)
	if err != nil {
		return err
	}
	var listener event.Listener
	if !cfg.Quiet {
		out := cmd.ErrOrStderr()
		listener = event.ListenerFunc(func(e event.Event) {
			fmt.Fprintln(out, common.InfoStyle.Render("event"), e.String())
		})
	}
	n, err := openNode(c, listener)
	if err != nil {
		return err
	}
	defer n.close()
	return fn(n)
}

func newGenIdentityCommand(cfg *Config) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "gen-identity",
		Short: "Generate a new identity key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cfg)
			if err != nil {
				return err
			}
			return genIdentity(c.Identity.PrivateKeyFile, force, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing identity key")
	return cmd
}

func newIdentityCommand(cfg *Config) *cobra.Command {
	var qr bool
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Print the local address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(cmd, cfg, func(n *node) error {
				return printIdentity(cmd.OutOrStdout(), n.engine.Address(), qr)
			})
		},
	}
	cmd.Flags().BoolVar(&qr, "qr", false, "also render the address as a QR code")
	return cmd
}

func newExportBundleCommand(cfg *Config) *cobra.Command {
	var out string
	var device uint32
	cmd := &cobra.Command{
		Use:   "export-bundle",
		Short: "Issue a one-time pre-key bundle for a contact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(cmd, cfg, func(n *node) error {
				b, err := n.engine.NewPreKeyBundle(device)
				if err != nil {
					return err
				}
				// The pre-key must survive a crash before the bundle leaves.
				if err := n.saveEngine(); err != nil {
					return err
				}
				raw, err := b.MarshalBinary()
				if err != nil {
					return err
				}
				if out == "" {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(raw))
					return err
				}
				return os.WriteFile(out, []byte(hex.EncodeToString(raw)), 0600)
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write the bundle to this file instead of stdout")
	cmd.Flags().Uint32Var(&device, "device", 1, "device index to issue the bundle for")
	return cmd
}

func newStageBundleCommand(cfg *Config) *cobra.Command {
	var peer, file string
	cmd := &cobra.Command{
		Use:   "stage-bundle",
		Short: "Stage a contact's pre-key bundle for the first message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseRecipient(peer)
			if err != nil {
				return err
			}
			b, err := readBundle(file)
			if err != nil {
				return err
			}
			return withNode(cmd, cfg, func(n *node) error {
				return n.db.StagePreKeyBundle(addr.ID, b)
			})
		},
	}
	cmd.Flags().StringVar(&peer, "for", "", "identity the bundle belongs to")
	cmd.Flags().StringVar(&file, "file", "", "bundle file written by export-bundle")
	_ = cmd.MarkFlagRequired("for")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newSendCommand(cfg *Config) *cobra.Command {
	var opts sendOptions
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a text message",
		Long: `Send a text message to one or more recipients. With several --to flags the
message is sent as a group message to all of them concurrently.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recipients, err := parseRecipients(opts.to)
			if err != nil {
				return err
			}
			return withNode(cmd, cfg, func(n *node) error {
				return send(cmd.Context(), cmd.OutOrStdout(), n, recipients, &opts)
			})
		},
	}
	cmd.Flags().StringArrayVar(&opts.to, "to", nil, "recipient identity, device or public chat id")
	cmd.Flags().StringVar(&opts.text, "text", "", "message body")
	cmd.Flags().BoolVar(&opts.friendRequest, "friend-request", false, "send as a friend request")
	cmd.Flags().BoolVar(&opts.sessionRequest, "session-request", false, "ask the contact to restore a lost session")
	cmd.Flags().BoolVar(&opts.endSession, "end-session", false, "reset the session with the contact")
	cmd.Flags().StringArrayVar(&opts.attachments, "attach", nil, "file to upload and attach")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newUploadCommand(cfg *Config) *cobra.Command {
	var file, to, contentType string
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload an attachment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(cmd, cfg, func(n *node) error {
				ptr, err := upload(cmd.Context(), n, file, contentType, to)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", ptr.ID, ptr.URL)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file to upload")
	cmd.Flags().StringVar(&to, "to", "", "recipient the attachment is for")
	cmd.Flags().StringVar(&contentType, "content-type", "", "MIME type, guessed from the name when empty")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newLinkDeviceCommand(cfg *Config) *cobra.Command {
	var unlink bool
	cmd := &cobra.Command{
		Use:   "link-device ID.DEVICE",
		Short: "Link another device of the local identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseRecipient(args[0])
			if err != nil {
				return err
			}
			return withNode(cmd, cfg, func(n *node) error {
				if unlink {
					return n.db.UnlinkDevice(addr)
				}
				return n.db.LinkDevice(addr)
			})
		},
	}
	cmd.Flags().BoolVar(&unlink, "unlink", false, "forget the device instead")
	return cmd
}

func newJoinChannelCommand(cfg *Config) *cobra.Command {
	var id, server, name string
	var channel uint64
	var leave bool
	cmd := &cobra.Command{
		Use:   "join-channel",
		Short: "Map a chat id to a public channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(cmd, cfg, func(n *node) error {
				return joinChannel(n, id, server, channel, name, leave)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "chat id used as the recipient")
	cmd.Flags().StringVar(&server, "server", "", "chat server URL")
	cmd.Flags().Uint64Var(&channel, "channel", 1, "channel number on the server")
	cmd.Flags().StringVar(&name, "name", "", "display name of the channel")
	cmd.Flags().BoolVar(&leave, "leave", false, "remove the mapping instead")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
