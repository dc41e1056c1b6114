// Package chain is the engine's view of the blockchain nodes: a small
// JSON-RPC client exposing only the calls the step handlers and the
// nonce allocator need. Contract encoding and transaction signing
// happen upstream of the engine.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stakemint/sagad/pkg/api"
)

type (
	// Client is what the rest of the engine depends on
	Client interface {
		TransactionCount(ctx context.Context, address string) (uint64, error)
		SendRawTransaction(ctx context.Context, signedTx string) (string, error)
		TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
	}

	// Receipt is the confirmation record for a submitted transaction
	Receipt struct {
		TxHash      string
		BlockNumber uint64
		Succeeded   bool
	}

	// RPCClient speaks JSON-RPC 2.0 to a single chain endpoint
	RPCClient struct {
		endpoint string
		http     *http.Client
	}

	// Registry maps chain names to their clients, built from config
	Registry map[api.Chain]Client

	rpcRequest struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  []any  `json:"params"`
		ID      int    `json:"id"`
	}
)

var (
	ErrUnknownChain = errors.New("no RPC endpoint for chain")
	ErrRPCFailure   = errors.New("rpc call failed")
	ErrNoReceipt    = errors.New("transaction receipt not available")
	ErrBadHexValue  = errors.New("malformed hex value in rpc response")
)

// NewRegistry builds clients for every configured chain endpoint
func NewRegistry(endpoints map[api.Chain]string) Registry {
	reg := Registry{}
	for chain, endpoint := range endpoints {
		reg[chain] = NewRPCClient(endpoint)
	}
	return reg
}

// ForChain resolves the client for a chain
func (r Registry) ForChain(chain api.Chain) (Client, error) {
	c, ok := r[chain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, chain)
	}
	return c, nil
}

// TransactionCount implements nonce.TxCounter over the registry
func (r Registry) TransactionCount(
	ctx context.Context, chain api.Chain, address string,
) (uint64, error) {
	c, err := r.ForChain(chain)
	if err != nil {
		return 0, err
	}
	return c.TransactionCount(ctx, address)
}

// NewRPCClient creates a client for one endpoint
func NewRPCClient(endpoint string) *RPCClient {
	return &RPCClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

// TransactionCount returns the pending transaction count for the
// address, which is the next valid nonce
func (c *RPCClient) TransactionCount(
	ctx context.Context, address string,
) (uint64, error) {
	res, err := c.call(ctx, "eth_getTransactionCount", address, "pending")
	if err != nil {
		return 0, err
	}
	return parseHexUint(res.String())
}

// SendRawTransaction submits a signed transaction and returns its hash
func (c *RPCClient) SendRawTransaction(
	ctx context.Context, signedTx string,
) (string, error) {
	res, err := c.call(ctx, "eth_sendRawTransaction", signedTx)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// TransactionReceipt fetches the receipt for a transaction hash.
// Returns ErrNoReceipt while the transaction is still unmined
func (c *RPCClient) TransactionReceipt(
	ctx context.Context, txHash string,
) (*Receipt, error) {
	res, err := c.call(ctx, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return nil, err
	}
	if res.Type == gjson.Null || !res.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrNoReceipt, txHash)
	}

	block, err := parseHexUint(res.Get("blockNumber").String())
	if err != nil {
		return nil, err
	}
	return &Receipt{
		TxHash:      res.Get("transactionHash").String(),
		BlockNumber: block,
		Succeeded:   res.Get("status").String() == "0x1",
	}, nil
}

func (c *RPCClient) call(
	ctx context.Context, method string, params ...any,
) (gjson.Result, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	})
	if err != nil {
		return gjson.Result{}, err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.endpoint, bytes.NewReader(body),
	)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %w", ErrRPCFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("%w: %s: http %d",
			ErrRPCFailure, method, resp.StatusCode)
	}

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %w", ErrRPCFailure, err)
	}

	parsed := gjson.ParseBytes(buf.Bytes())
	if rpcErr := parsed.Get("error"); rpcErr.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %s: %s",
			ErrRPCFailure, method, rpcErr.Get("message").String())
	}
	return parsed.Get("result"), nil
}

// IsRetryable reports whether the error is a transient transport
// condition worth re-checking later. Handlers use it to choose between
// pending and failed
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoReceipt) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errors.Is(err, ErrRPCFailure) &&
		!strings.Contains(err.Error(), "nonce")
}

func parseHexUint(s string) (uint64, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" || trimmed == s {
		return 0, fmt.Errorf("%w: %q", ErrBadHexValue, s)
	}
	v, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadHexValue, s)
	}
	return v, nil
}
