package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Client sends requests over one connection. Calls are serialized.
type Client struct {
	mu   sync.Mutex
	conn *Conn
	next uint64
}

// Dial connects to the control endpoint of an injected overlay.
func Dial(ctx context.Context, endpoint, secret string) (*Client, error) {
	raw, err := dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("control: dial %s: %w", endpoint, err)
	}
	return NewClient(NewConn(raw, DeriveKey(secret))), nil
}

func NewClient(c *Conn) *Client { return &Client{conn: c} }

func (c *Client) Close() error { return c.conn.Close() }

// Call sends req as msgType and decodes the reply payload into out, which
// may be nil.
func (c *Client) Call(ctx context.Context, msgType string, req, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	_ = c.conn.SetDeadline(deadline)

	c.next++
	id := strconv.FormatUint(c.next, 10)
	if err := c.conn.SendTyped(id, msgType, req); err != nil {
		return err
	}
	env, err := c.conn.Recv()
	if err != nil {
		return err
	}
	if env.ID != id || env.Type != msgType {
		return fmt.Errorf("control: reply %s/%s for request %s/%s", env.Type, env.ID, msgType, id)
	}
	if env.Error != "" {
		return errors.New(env.Error)
	}
	if out == nil || len(env.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(env.Payload, out)
}

func (c *Client) Ping(ctx context.Context) (PingReply, error) {
	var r PingReply
	err := c.Call(ctx, TypePing, nil, &r)
	return r, err
}

// Status decodes the overlay's status report into out.
func (c *Client) Status(ctx context.Context, out any) error {
	return c.Call(ctx, TypeStatus, nil, out)
}

func (c *Client) Unhook(ctx context.Context) (UnhookReply, error) {
	var r UnhookReply
	err := c.Call(ctx, TypeUnhook, nil, &r)
	return r, err
}

func (c *Client) SetLogLevel(ctx context.Context, level string) (LogLevelReply, error) {
	var r LogLevelReply
	err := c.Call(ctx, TypeLogLevel, LogLevelRequest{Level: level}, &r)
	return r, err
}

func (c *Client) SetHUD(ctx context.Context, enabled bool) error {
	return c.Call(ctx, TypeHUD, HUDRequest{Enabled: enabled}, nil)
}
