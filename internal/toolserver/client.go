package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client is one connection to a running tool server. Requests are serialized
// over the single connection; the protocol is strict request/response.
type Client struct {
	mu    sync.Mutex
	conn  net.Conn
	tools []ToolMsg
}

// Dial connects to a tool server and enumerates its advertised tools.
func Dial(network, address string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial tool server at %s://%s: %w", network, address, err)
	}
	c := &Client{conn: conn}
	if err := c.fetchTools(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// DialFromHandshake connects using information from a handshake line.
func DialFromHandshake(hs Handshake, timeout time.Duration) (*Client, error) {
	return Dial(hs.Network, hs.Address, timeout)
}

func (c *Client) fetchTools() error {
	if err := WriteMessage(c.conn, &Request{Method: "tools"}); err != nil {
		return fmt.Errorf("request tools: %w", err)
	}
	var resp Response
	if err := ReadMessage(c.conn, &resp); err != nil {
		return fmt.Errorf("read tools: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("tools error: %s", resp.Error)
	}
	if len(resp.Tools) == 0 {
		return fmt.Errorf("tool server advertised no tools")
	}
	c.tools = resp.Tools
	return nil
}

// Tools returns the server's advertised tools as of connect time.
func (c *Client) Tools() []ToolMsg { return c.tools }

// Call invokes one tool and returns its structured result. A server-reported
// error comes back as an error with the server's message.
func (c *Client) Call(ctx context.Context, tool string, args json.RawMessage) (json.RawMessage, error) {
	type outcome struct {
		result json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := c.call(tool, args)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) call(tool string, args json.RawMessage) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.NewString()
	if err := WriteMessage(c.conn, &Request{Method: "call", ID: id, Tool: tool, Args: args}); err != nil {
		return nil, fmt.Errorf("write call: %w", err)
	}
	var resp Response
	if err := ReadMessage(c.conn, &resp); err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp.Result, nil
}

// Close terminates the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}
