// commands.go - Courier command implementations.
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
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/katzenpost/qrterminal"

	"github.com/katzenpost/swarmcourier/address"
	"github.com/katzenpost/swarmcourier/blob"
	"github.com/katzenpost/swarmcourier/common"
	"github.com/katzenpost/swarmcourier/content"
	"github.com/katzenpost/swarmcourier/delivery"
	"github.com/katzenpost/swarmcourier/result"
	"github.com/katzenpost/swarmcourier/session"
	"github.com/katzenpost/swarmcourier/session/sealbox"
)

var errNotDelivered = errors.New("message was not delivered to any recipient")

type sendOptions struct {
	to             []string
	text           string
	friendRequest  bool
	sessionRequest bool
	endSession     bool
	attachments    []string
}

// parseRecipient accepts "id", "id.device" or a public chat id.
func parseRecipient(s string) (address.Address, error) {
	a, err := address.Parse(s)
	if err == nil {
		return a, nil
	}
	if strings.Contains(s, ":") {
		return address.New(s), nil
	}
	return address.Address{}, fmt.Errorf("invalid recipient '%v': %v", s, err)
}

func parseRecipients(ss []string) ([]address.Address, error) {
	out := make([]address.Address, 0, len(ss))
	for _, s := range ss {
		a, err := parseRecipient(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func genIdentity(path string, force bool, w io.Writer) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("identity key %s exists, use --force to replace it", path)
	}
	e, err := sealbox.Generate()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(e.IdentityPrivateKey()[:])+"\n"), 0600); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, e.Address().ID)
	return err
}

func printIdentity(w io.Writer, a address.Address, qr bool) error {
	if _, err := fmt.Fprintln(w, a.ID); err != nil {
		return err
	}
	if qr {
		qrterminal.GenerateWithConfig(a.ID, qrterminal.Config{
			Level:      qrterminal.L,
			Writer:     w,
			HalfBlocks: true,
			QuietZone:  1,
		})
	}
	return nil
}

func readBundle(path string) (*session.PreKeyBundle, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, fmt.Errorf("malformed bundle in %s: %v", path, err)
	}
	bundle := new(session.PreKeyBundle)
	if err := bundle.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("malformed bundle in %s: %v", path, err)
	}
	return bundle, nil
}

func readAttachment(path, contentType string) (*blob.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &blob.Attachment{
		Data:        data,
		ContentType: contentType,
		FileName:    filepath.Base(path),
	}, nil
}

func upload(ctx context.Context, n *node, path, contentType, to string) (*content.AttachmentPointer, error) {
	a, err := readAttachment(path, contentType)
	if err != nil {
		return nil, err
	}
	var recipient *address.Address
	if to != "" {
		r, err := parseRecipient(to)
		if err != nil {
			return nil, err
		}
		recipient = &r
	}
	return n.sender.UploadAttachment(ctx, a, recipient)
}

func send(ctx context.Context, w io.Writer, n *node, recipients []address.Address, opts *sendOptions) error {
	now := time.Now()
	messageID := now.UnixNano()
	msg := &content.DataMessage{
		Timestamp:      uint64(now.UnixMilli()),
		Body:           opts.text,
		FriendRequest:  opts.friendRequest,
		SessionRequest: opts.sessionRequest,
		EndSession:     opts.endSession,
	}

	var attachTo *address.Address
	if len(recipients) == 1 {
		attachTo = &recipients[0]
	}
	for _, path := range opts.attachments {
		a, err := readAttachment(path, "")
		if err != nil {
			return err
		}
		ptr, err := n.sender.UploadAttachment(ctx, a, attachTo)
		if err != nil {
			return fmt.Errorf("uploading %s: %w", path, err)
		}
		msg.Attachments = append(msg.Attachments, ptr)
	}

	var results []result.Result
	if len(recipients) == 1 {
		r, err := n.sender.SendDataMessage(ctx, messageID, recipients[0], msg, nil)
		if err != nil {
			return err
		}
		results = []result.Result{r}
	} else {
		var err error
		if results, err = n.sender.SendGroupDataMessage(ctx, messageID, recipients, msg, nil); err != nil {
			return err
		}
	}

	delivered := false
	for _, r := range results {
		fmt.Fprintln(w, common.RenderResult(r))
		delivered = delivered || result.IsSuccess(r)
	}
	if !delivered {
		return errNotDelivered
	}
	return nil
}

func joinChannel(n *node, id, server string, channel uint64, name string, leave bool) error {
	if leave {
		return n.db.RemovePublicChat(id)
	}
	if server == "" {
		return errors.New("required flag \"server\" not set")
	}
	return n.db.SetPublicChat(id, &delivery.PublicChat{
		Server:    strings.TrimSuffix(server, "/"),
		ChannelID: channel,
		Name:      name,
	})
}
