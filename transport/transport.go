// transport.go - HTTP plumbing shared by the node and channel clients.
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

// Package transport talks to storage nodes and public chat servers.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quic-go/quic-go/http3"
	"github.com/ugorji/go/codec"
)

// DefaultTimeout bounds a single HTTP request.
const DefaultTimeout = 20 * time.Second

const maxResponseSize = 4 << 20

var jsonHandle = &codec.JsonHandle{}

// Config configures the HTTP client used by the transport clients.
type Config struct {
	// Timeout bounds each request.  Zero means DefaultTimeout.
	Timeout time.Duration

	// UseHTTP3 speaks HTTP/3 over QUIC instead of HTTP/1.1 or HTTP/2.
	UseHTTP3 bool

	// InsecureSkipVerify accepts any certificate.  Storage nodes use
	// self-signed certificates.
	InsecureSkipVerify bool
}

type httpClient struct {
	client *http.Client
	closer io.Closer
}

func newHTTPClient(cfg *Config) *httpClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	c := new(httpClient)
	var rt http.RoundTripper
	if cfg.UseHTTP3 {
		tlsCfg.NextProtos = []string{http3.NextProtoH3}
		t := &http3.Transport{TLSClientConfig: tlsCfg}
		rt, c.closer = t, t
	} else {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = tlsCfg
		rt = t
	}
	c.client = &http.Client{Transport: rt, Timeout: timeout}
	return c
}

func (c *httpClient) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	c.client.CloseIdleConnections()
	return nil
}

func encodeJSON(v interface{}) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, jsonHandle).Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeJSON(r io.Reader, v interface{}) error {
	return codec.NewDecoder(io.LimitReader(r, maxResponseSize), jsonHandle).Decode(v)
}

// do sends a request with an optional JSON body and returns the response.
// The caller closes the body.
func (c *httpClient) do(ctx context.Context, method, url string, body interface{}, header http.Header) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := encodeJSON(body)
		if err != nil {
			return nil, fmt.Errorf("transport: encoding request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.client.Do(req)
}
