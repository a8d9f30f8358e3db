// files.go - File server upload client.
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
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"gopkg.in/op/go-logging.v1"
)

const fileUploadType = "chat.courier.file"

type uploadResponse struct {
	Data *struct {
		ID  uint64 `codec:"id"`
		URL string `codec:"url"`
	} `codec:"data"`
}

// FileClient uploads attachments.  It implements blob.FileServer.
type FileClient struct {
	*httpClient

	log    *logging.Logger
	tokens map[string]string
}

// NewFileClient returns a FileClient.  tokens maps a server URL to its
// bearer token.
func NewFileClient(cfg *Config, tokens map[string]string, log *logging.Logger) *FileClient {
	t := make(map[string]string, len(tokens))
	for k, v := range tokens {
		t[strings.TrimSuffix(k, "/")] = v
	}
	return &FileClient{
		httpClient: newHTTPClient(cfg),
		log:        log,
		tokens:     t,
	}
}

// Upload posts data to {server}/files as a multipart form and returns the
// file's id and URL.
func (c *FileClient) Upload(ctx context.Context, server string, data []byte) (uint64, string, error) {
	server = strings.TrimSuffix(server, "/")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("type", fileUploadType); err != nil {
		return 0, "", err
	}
	if err := mw.WriteField("Content-Type", "application/octet-stream"); err != nil {
		return 0, "", err
	}
	fw, err := mw.CreateFormFile("content", "blob")
	if err != nil {
		return 0, "", err
	}
	if _, err = fw.Write(data); err != nil {
		return 0, "", err
	}
	if err = mw.Close(); err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/files", &body)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if tok, ok := c.tokens[server]; ok {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	rsp, err := c.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("transport: %s returned HTTP %d", server, rsp.StatusCode)
	}

	resp := new(uploadResponse)
	if err := decodeJSON(rsp.Body, resp); err != nil {
		return 0, "", fmt.Errorf("transport: decoding upload response: %w", err)
	}
	if resp.Data == nil {
		return 0, "", fmt.Errorf("transport: %s upload response carries no data", server)
	}
	c.log.Debugf("Uploaded %d bytes to %s as %d", len(data), server, resp.Data.ID)
	return resp.Data.ID, resp.Data.URL, nil
}
