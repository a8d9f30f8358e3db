// channel.go - Public chat server client.
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

package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/swarmcourier/content"
	"github.com/katzenpost/swarmcourier/core/retry"
)

const (
	messageAnnotationType    = "chat.courier.message"
	attachmentAnnotationType = "chat.courier.attachment"
)

// ChannelMessage is a message posted to a public channel.
type ChannelMessage struct {
	Text        string
	Timestamp   uint64
	Source      string
	DisplayName string
	Quote       *content.Quote
	Attachments []*content.AttachmentPointer
}

type annotation struct {
	Type  string      `codec:"type"`
	Value interface{} `codec:"value"`
}

type messageValue struct {
	Timestamp uint64      `codec:"timestamp"`
	Source    string      `codec:"source,omitempty"`
	From      string      `codec:"from,omitempty"`
	Quote     *quoteValue `codec:"quote,omitempty"`
}

type quoteValue struct {
	ID     uint64 `codec:"id"`
	Author string `codec:"author"`
	Text   string `codec:"text"`
}

type attachmentValue struct {
	ID          uint64 `codec:"id"`
	URL         string `codec:"url"`
	ContentType string `codec:"contentType"`
	Size        uint32 `codec:"size"`
	FileName    string `codec:"fileName,omitempty"`
	Caption     string `codec:"caption,omitempty"`
}

type postBody struct {
	Text        string        `codec:"text"`
	Annotations []*annotation `codec:"annotations"`
}

type postResponse struct {
	Data struct {
		ID uint64 `codec:"id"`
	} `codec:"data"`
}

// ChannelClient posts to public channels on federated chat servers.
type ChannelClient struct {
	*httpClient

	log    *logging.Logger
	tokens map[string]string
	retry  *retry.Policy
}

// NewChannelClient returns a ChannelClient.  tokens maps a server URL to
// its bearer token.
func NewChannelClient(cfg *Config, tokens map[string]string, policy *retry.Policy, log *logging.Logger) *ChannelClient {
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	t := make(map[string]string, len(tokens))
	for k, v := range tokens {
		t[strings.TrimSuffix(k, "/")] = v
	}
	return &ChannelClient{
		httpClient: newHTTPClient(cfg),
		log:        log,
		tokens:     t,
		retry:      policy,
	}
}

func newPostBody(msg *ChannelMessage) *postBody {
	v := &messageValue{
		Timestamp: msg.Timestamp,
		Source:    msg.Source,
		From:      msg.DisplayName,
	}
	if q := msg.Quote; q != nil {
		v.Quote = &quoteValue{ID: q.ID, Author: q.Author, Text: q.Text}
	}
	body := &postBody{
		Text:        msg.Text,
		Annotations: []*annotation{{Type: messageAnnotationType, Value: v}},
	}
	for _, a := range msg.Attachments {
		body.Annotations = append(body.Annotations, &annotation{
			Type: attachmentAnnotationType,
			Value: &attachmentValue{
				ID:          a.ID,
				URL:         a.URL,
				ContentType: a.ContentType,
				Size:        a.Size,
				FileName:    a.FileName,
				Caption:     a.Caption,
			},
		})
	}
	return body
}

// Post posts msg to a channel and returns the server's id for it.
func (c *ChannelClient) Post(ctx context.Context, server string, channelID uint64, msg *ChannelMessage) (uint64, error) {
	server = strings.TrimSuffix(server, "/")
	url := fmt.Sprintf("%s/channels/%d/messages", server, channelID)
	body := newPostBody(msg)

	header := make(http.Header)
	if tok, ok := c.tokens[server]; ok {
		header.Set("Authorization", "Bearer "+tok)
	}

	var id uint64
	err := c.retry.Do(ctx, func(attempt int) error {
		c.log.Debugf("Posting to channel %d on %s (attempt %d)", channelID, server, attempt)
		rsp, err := c.do(ctx, http.MethodPost, url, body, header)
		if err != nil {
			return err
		}
		defer rsp.Body.Close()
		if rsp.StatusCode != http.StatusOK {
			return fmt.Errorf("transport: %s returned HTTP %d", server, rsp.StatusCode)
		}

		resp := new(postResponse)
		if err := decodeJSON(rsp.Body, resp); err != nil {
			return fmt.Errorf("transport: decoding post response: %w", err)
		}
		id = resp.Data.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}
