// storage.go - Storage node RPC client.
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
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/swarmcourier/swarm"
)

const (
	storageRPCPath = "/storage_rpc/v1"
	seedRPCPath    = "/json_rpc"

	statusSnodeMigrated   = 421
	statusInsufficientPoW = 432
)

type rpcRequest struct {
	Method string      `codec:"method"`
	Params interface{} `codec:"params,omitempty"`
}

type storeParams struct {
	PubKey    string `codec:"pubKey"`
	TTL       string `codec:"ttl"`
	Timestamp string `codec:"timestamp"`
	Nonce     string `codec:"nonce"`
	Data      string `codec:"data"`
}

type difficultyResponse struct {
	Difficulty int `codec:"difficulty"`
}

type swarmParams struct {
	PubKey string `codec:"pubKey"`
}

type swarmResponse struct {
	Snodes []struct {
		IP   string `codec:"ip"`
		Port string `codec:"port"`
	} `codec:"snodes"`
}

type serviceNodesParams struct {
	ActiveOnly bool            `codec:"active_only"`
	Fields     map[string]bool `codec:"fields"`
}

type serviceNodesResponse struct {
	Result struct {
		States []struct {
			PublicIP    string `codec:"public_ip"`
			StoragePort int    `codec:"storage_port"`
		} `codec:"service_node_states"`
	} `codec:"result"`
}

// StorageClient is the storage node RPC client.  It implements swarm.RPC.
type StorageClient struct {
	*httpClient

	log *logging.Logger
}

// NewStorageClient returns a StorageClient.
func NewStorageClient(cfg *Config, log *logging.Logger) *StorageClient {
	return &StorageClient{
		httpClient: newHTTPClient(cfg),
		log:        log,
	}
}

// Store implements swarm.RPC.
func (c *StorageClient) Store(ctx context.Context, node swarm.Node, msg *swarm.Message) (*swarm.StoreResponse, error) {
	req := &rpcRequest{
		Method: "store",
		Params: &storeParams{
			PubKey:    msg.PubKey,
			TTL:       strconv.FormatUint(msg.TTL, 10),
			Timestamp: strconv.FormatUint(msg.Timestamp, 10),
			Nonce:     msg.Nonce,
			Data:      msg.Data,
		},
	}
	resp := new(difficultyResponse)
	if err := c.invoke(ctx, node, req, resp); err != nil {
		return nil, err
	}
	return &swarm.StoreResponse{Difficulty: resp.Difficulty}, nil
}

// GetSwarm implements swarm.RPC.
func (c *StorageClient) GetSwarm(ctx context.Context, node swarm.Node, pubKey string) ([]swarm.Node, error) {
	req := &rpcRequest{Method: "get_snodes_for_pubkey", Params: &swarmParams{PubKey: pubKey}}
	resp := new(swarmResponse)
	if err := c.invoke(ctx, node, req, resp); err != nil {
		return nil, err
	}

	nodes := make([]swarm.Node, 0, len(resp.Snodes))
	for _, s := range resp.Snodes {
		port, err := strconv.ParseUint(s.Port, 10, 16)
		if s.IP == "" || err != nil {
			c.log.Debugf("Skipping malformed swarm entry %q:%q from %v", s.IP, s.Port, node)
			continue
		}
		nodes = append(nodes, swarm.Node{Address: "https://" + s.IP, Port: uint16(port)})
	}
	return nodes, nil
}

// GetServiceNodes implements swarm.RPC.  seed is the base URL of a seed
// node.
func (c *StorageClient) GetServiceNodes(ctx context.Context, seed string) ([]swarm.Node, error) {
	req := &rpcRequest{
		Method: "get_n_service_nodes",
		Params: &serviceNodesParams{
			ActiveOnly: true,
			Fields:     map[string]bool{"public_ip": true, "storage_port": true},
		},
	}
	rsp, err := c.do(ctx, http.MethodPost, strings.TrimSuffix(seed, "/")+seedRPCPath, req, nil)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return nil, &swarm.StatusError{Code: rsp.StatusCode}
	}

	resp := new(serviceNodesResponse)
	if err := decodeJSON(rsp.Body, resp); err != nil {
		return nil, fmt.Errorf("transport: decoding service nodes: %w", err)
	}
	nodes := make([]swarm.Node, 0, len(resp.Result.States))
	for _, s := range resp.Result.States {
		if s.PublicIP == "" || s.PublicIP == "0.0.0.0" || s.StoragePort <= 0 || s.StoragePort > 65535 {
			continue
		}
		nodes = append(nodes, swarm.Node{Address: "https://" + s.PublicIP, Port: uint16(s.StoragePort)})
	}
	c.log.Debugf("Seed %s returned %d usable service nodes", seed, len(nodes))
	return nodes, nil
}

func (c *StorageClient) invoke(ctx context.Context, node swarm.Node, req *rpcRequest, resp interface{}) error {
	c.log.Debugf("Invoking %s on %v", req.Method, node)
	rsp, err := c.do(ctx, http.MethodPost, node.URL()+storageRPCPath, req, nil)
	if err != nil {
		return err
	}
	defer rsp.Body.Close()

	switch rsp.StatusCode {
	case http.StatusOK:
		if err := decodeJSON(rsp.Body, resp); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("transport: decoding %s response: %w", req.Method, err)
		}
		return nil
	case statusSnodeMigrated:
		return swarm.ErrSnodeMigrated
	case statusInsufficientPoW:
		d := new(difficultyResponse)
		if err := decodeJSON(rsp.Body, d); err != nil || d.Difficulty <= 0 {
			c.log.Warningf("Node %v wants more proof of work but did not say how much", node)
		}
		return &swarm.InsufficientPoWError{Difficulty: d.Difficulty}
	default:
		return &swarm.StatusError{Code: rsp.StatusCode}
	}
}
