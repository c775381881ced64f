package bidder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/fheauction/auctionapi"
)

// Client talks to an evaluator. Every call opens one connection, writes one
// JSON request, half-closes the connection and reads one JSON response.
type Client struct {
	network string
	address string
	cid     uint32
	port    uint32
}

// NewClient parses target as "vsock:<cid>:<port>" or "tcp:<host:port>".
func NewClient(target string) (*Client, error) {
	network, address, ok := strings.Cut(target, ":")
	if !ok || address == "" {
		return nil, fmt.Errorf("invalid evaluator address %q (want vsock:<cid>:<port> or tcp:<host:port>)", target)
	}
	switch network {
	case "tcp":
		return &Client{network: network, address: address}, nil
	case "vsock":
		cidStr, portStr, ok := strings.Cut(address, ":")
		if !ok {
			return nil, fmt.Errorf("invalid vsock address %q (want <cid>:<port>)", address)
		}
		cid, err := strconv.ParseUint(cidStr, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vsock cid %q: %w", cidStr, err)
		}
		port, err := strconv.ParseUint(portStr, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vsock port %q: %w", portStr, err)
		}
		return &Client{network: network, address: address, cid: uint32(cid), port: uint32(port)}, nil
	default:
		return nil, fmt.Errorf("unsupported evaluator network %q", network)
	}
}

// Ping checks that the evaluator is up.
func (c *Client) Ping(ctx context.Context) (*auctionapi.PingResponse, error) {
	var resp auctionapi.PingResponse
	if err := c.roundTrip(ctx, auctionapi.Request{Type: auctionapi.TypePing}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OpenRound registers a round and returns the evaluator's answer.
func (c *Client) OpenRound(ctx context.Context, req *auctionapi.RoundOpenRequest) (*auctionapi.RoundOpenResponse, error) {
	var resp auctionapi.RoundOpenResponse
	if err := c.roundTrip(ctx, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return &resp, fmt.Errorf("round open rejected: %s", resp.Message)
	}
	return &resp, nil
}

// Submit sends the encrypted bids of an open round. A response with
// Success false is returned together with an error.
func (c *Client) Submit(ctx context.Context, req *auctionapi.AuctionRequest) (*auctionapi.AuctionResponse, error) {
	var resp auctionapi.AuctionResponse
	if err := c.roundTrip(ctx, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return &resp, fmt.Errorf("auction rejected: %s", resp.Message)
	}
	return &resp, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if c.network == "vsock" {
		conn, err := vsock.Dial(c.cid, c.port, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial vsock %d:%d: %w", c.cid, c.port, err)
		}
		return conn, nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", c.address, err)
	}
	return conn, nil
}

func (c *Client) roundTrip(ctx context.Context, req, out any) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	// The evaluator reads until EOF.
	if hc, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := hc.CloseWrite(); err != nil {
			return fmt.Errorf("failed to close write side: %w", err)
		}
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope auctionapi.ErrorResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope.Type == auctionapi.TypeError {
		return fmt.Errorf("evaluator error: %s", envelope.Message)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", envelope.Type, err)
	}
	return nil
}
