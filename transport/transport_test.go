// transport_test.go - Storage node and channel client tests.
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
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ugorji/go/codec"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/swarmcourier/content"
	"github.com/katzenpost/swarmcourier/core/retry"
	"github.com/katzenpost/swarmcourier/swarm"
)

func nodeFor(t *testing.T, srv *httptest.Server) swarm.Node {
	host, port, found := strings.Cut(strings.TrimPrefix(srv.URL, "http://"), ":")
	require.True(t, found)
	p, err := strconv.ParseUint(port, 10, 16)
	require.NoError(t, err)
	return swarm.Node{Address: "http://" + host, Port: uint16(p)}
}

type testRequest struct {
	Method      string                   `codec:"method"`
	Params      map[string]interface{}   `codec:"params"`
	Text        string                   `codec:"text"`
	Annotations []map[string]interface{} `codec:"annotations"`
}

func decodeRequest(t *testing.T, r *http.Request) *testRequest {
	req := new(testRequest)
	assert.NoError(t, codec.NewDecoder(r.Body, new(codec.JsonHandle)).Decode(req))
	return req
}

func TestStore(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	var mu sync.Mutex
	var got *testRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, storageRPCPath, r.URL.Path)
		mu.Lock()
		got = decodeRequest(t, r)
		mu.Unlock()
		w.Write([]byte(`{"difficulty": 42}`))
	}))
	defer srv.Close()

	c := NewStorageClient(&Config{}, logging.MustGetLogger("transport_test"))
	defer c.Close()

	resp, err := c.Store(context.Background(), nodeFor(t, srv), &swarm.Message{
		PubKey:    "05ab",
		Data:      "ZGF0YQ==",
		TTL:       86400000,
		Timestamp: 1565000000000,
		Nonce:     "AAAAAAAAAAE=",
	})
	require.NoError(err)
	require.Equal(42, resp.Difficulty)

	mu.Lock()
	defer mu.Unlock()
	require.Equal("store", got.Method)
	params := got.Params
	require.Equal("05ab", params["pubKey"])
	require.Equal("86400000", params["ttl"])
	require.Equal("1565000000000", params["timestamp"])
	require.Equal("AAAAAAAAAAE=", params["nonce"])
	require.Equal("ZGF0YQ==", params["data"])
}

func TestStoreStatusCodes(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	var status atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := int(status.Load())
		w.WriteHeader(code)
		if code == statusInsufficientPoW {
			w.Write([]byte(`{"difficulty": 100}`))
		}
	}))
	defer srv.Close()

	c := NewStorageClient(&Config{}, logging.MustGetLogger("transport_test"))
	defer c.Close()
	node := nodeFor(t, srv)
	msg := &swarm.Message{PubKey: "05ab"}

	status.Store(statusSnodeMigrated)
	_, err := c.Store(context.Background(), node, msg)
	require.ErrorIs(err, swarm.ErrSnodeMigrated)

	status.Store(statusInsufficientPoW)
	_, err = c.Store(context.Background(), node, msg)
	var powErr *swarm.InsufficientPoWError
	require.ErrorAs(err, &powErr)
	require.Equal(100, powErr.Difficulty)

	status.Store(http.StatusServiceUnavailable)
	_, err = c.Store(context.Background(), node, msg)
	var se *swarm.StatusError
	require.ErrorAs(err, &se)
	require.Equal(http.StatusServiceUnavailable, se.Code)
}

func TestGetSwarmAndServiceNodes(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		switch r.URL.Path {
		case storageRPCPath:
			assert.Equal(t, "get_snodes_for_pubkey", req.Method)
			w.Write([]byte(`{"snodes":[{"ip":"203.0.113.1","port":"22021"},{"ip":"203.0.113.2","port":"bogus"}]}`))
		case seedRPCPath:
			assert.Equal(t, "get_n_service_nodes", req.Method)
			w.Write([]byte(`{"result":{"service_node_states":[` +
				`{"public_ip":"198.51.100.1","storage_port":22020},` +
				`{"public_ip":"0.0.0.0","storage_port":22020}]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewStorageClient(&Config{}, logging.MustGetLogger("transport_test"))
	defer c.Close()

	nodes, err := c.GetSwarm(context.Background(), nodeFor(t, srv), "05ab")
	require.NoError(err)
	require.Equal([]swarm.Node{{Address: "https://203.0.113.1", Port: 22021}}, nodes)

	nodes, err = c.GetServiceNodes(context.Background(), srv.URL+"/")
	require.NoError(err)
	require.Equal([]swarm.Node{{Address: "https://198.51.100.1", Port: 22020}}, nodes)
}

func TestHTTP3ClientConstruction(t *testing.T) {
	t.Parallel()
	c := NewStorageClient(&Config{UseHTTP3: true, InsecureSkipVerify: true}, logging.MustGetLogger("transport_test"))
	require.NotNil(t, c.closer)
	require.NoError(t, c.Close())
}

func TestChannelPost(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	var mu sync.Mutex
	attempts := 0
	var got *testRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			// Drop the connection to force a transient client error.
			hj, ok := w.(http.Hijacker)
			assert.True(t, ok)
			conn, _, err := hj.Hijack()
			if !assert.NoError(t, err) {
				return
			}
			conn.Close()
			return
		}
		assert.Equal(t, "/channels/1/messages", r.URL.Path)
		auth = r.Header.Get("Authorization")
		got = decodeRequest(t, r)
		w.Write([]byte(`{"data":{"id":9001,"text":"hello"}}`))
	}))
	defer srv.Close()

	policy := &retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	c := NewChannelClient(&Config{}, map[string]string{srv.URL + "/": "sekrit"}, policy, logging.MustGetLogger("transport_test"))
	defer c.Close()

	id, err := c.Post(context.Background(), srv.URL, 1, &ChannelMessage{
		Text:      "hello",
		Timestamp: 77,
		Quote:     &content.Quote{ID: 5, Author: "05cd", Text: "earlier"},
		Attachments: []*content.AttachmentPointer{
			{ID: 3, URL: "https://files/3", ContentType: "image/jpeg", Size: 10},
		},
	})
	require.NoError(err)
	require.Equal(uint64(9001), id)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(2, attempts)
	require.Equal("Bearer sekrit", auth)
	require.Equal("hello", got.Text)
	require.Len(got.Annotations, 2)
	require.Equal(messageAnnotationType, got.Annotations[0]["type"])
	require.Equal(attachmentAnnotationType, got.Annotations[1]["type"])
}

func TestChannelPostRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewChannelClient(&Config{}, nil, nil, logging.MustGetLogger("transport_test"))
	defer c.Close()
	_, err := c.Post(context.Background(), srv.URL, 2, &ChannelMessage{Text: "x"})
	require.Error(t, err)
	require.False(t, errors.Is(err, context.Canceled))
}

func TestFileUpload(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	payload := []byte("attachment bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		f, _, err := r.FormFile("content")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		b, err := io.ReadAll(f)
		assert.NoError(t, err)
		assert.Equal(t, payload, b)
		assert.Equal(t, fileUploadType, r.FormValue("type"))
		w.Write([]byte(`{"data":{"id":12,"url":"https://files.example.net/f/12"}}`))
	}))
	defer srv.Close()

	c := NewFileClient(&Config{}, map[string]string{srv.URL: "tok"}, logging.MustGetLogger("transport_test"))
	defer c.Close()
	id, url, err := c.Upload(context.Background(), srv.URL, payload)
	require.NoError(err)
	require.Equal(uint64(12), id)
	require.Equal("https://files.example.net/f/12", url)
}
