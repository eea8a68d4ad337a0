package control

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAuth is returned by Recv when a message's HMAC does not verify.
var ErrAuth = errors.New("control: HMAC mismatch")

// Conn wraps a net.Conn with length-prefixed JSON framing, HMAC signing
// and sequence number validation.
type Conn struct {
	conn    net.Conn
	key     []byte
	sendSeq atomic.Uint64
	recvSeq atomic.Uint64
	mu      sync.Mutex // serializes writes
}

// NewConn wraps a raw connection. Both ends must derive the key from the
// same secret.
func NewConn(conn net.Conn, key []byte) *Conn {
	return &Conn{conn: conn, key: key}
}

// DeriveKey turns the configured secret into the HMAC key. An empty secret
// gives a fixed key: the endpoint's access control is then the only guard.
func DeriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte("hudhook-control:" + secret))
	return sum[:]
}

func (c *Conn) Close() error { return c.conn.Close() }

func (c *Conn) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }

// Send writes env as [4-byte BE length][JSON], setting its sequence number
// and HMAC.
func (c *Conn) Send(env *Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	env.Seq = c.sendSeq.Add(1)
	env.HMAC = c.computeHMAC(env)
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("control: marshal envelope: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("control: message too large: %d > %d", len(data), MaxMessageSize)
	}

	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("control: write: %w", err)
	}
	return nil
}

// Recv reads one message and validates its HMAC and sequence number.
func (c *Conn) Recv() (*Envelope, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, fmt.Errorf("control: read header: %w", err)
	}
	length := binary.BigEndian.Uint32(header)
	if length > MaxMessageSize {
		return nil, fmt.Errorf("control: message too large: %d > %d", length, MaxMessageSize)
	}
	if length == 0 {
		return nil, errors.New("control: zero-length message")
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return nil, fmt.Errorf("control: read payload: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("control: unmarshal envelope: %w", err)
	}
	if !hmac.Equal([]byte(env.HMAC), []byte(c.computeHMAC(&env))) {
		return nil, ErrAuth
	}
	if prev := c.recvSeq.Load(); env.Seq <= prev {
		return nil, fmt.Errorf("control: sequence number %d <= last %d (replay/duplicate)", env.Seq, prev)
	}
	c.recvSeq.Store(env.Seq)
	return &env, nil
}

// SendTyped marshals payload into an envelope and sends it.
func (c *Conn) SendTyped(id, msgType string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		var err error
		if raw, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("control: marshal payload: %w", err)
		}
	}
	return c.Send(&Envelope{ID: id, Type: msgType, Payload: raw})
}

func (c *Conn) SendError(id, msgType, errMsg string) error {
	return c.Send(&Envelope{ID: id, Type: msgType, Error: errMsg})
}

// computeHMAC calculates HMAC-SHA256(key, id||seq||type||payload||error).
func (c *Conn) computeHMAC(env *Envelope) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(env.ID))
	mac.Write([]byte(strconv.FormatUint(env.Seq, 10)))
	mac.Write([]byte(env.Type))
	mac.Write(env.Payload)
	mac.Write([]byte(env.Error))
	return hex.EncodeToString(mac.Sum(nil))
}
