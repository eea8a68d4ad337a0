// Package control is the overlay's local control channel: a named pipe on
// Windows (a unix socket elsewhere) carrying HMAC-signed, length-prefixed
// JSON requests for status, unhook, log level and HUD visibility.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/breeze-rmm/hudhook/internal/logging"
)

var log = logging.L("control")

const (
	// IdleTimeout closes a connection that sent nothing for this long.
	IdleTimeout = 2 * time.Minute
	// Failed authentications allowed per peer per window.
	maxAuthFailures   = 5
	authFailureWindow = time.Minute
)

// Handler carries out requests. Methods run on the connection's goroutine,
// never on a hooked thread.
type Handler interface {
	Status() any
	Unhook(ctx context.Context) (state string, err error)
	SetLogLevel(level string) (previous string, err error)
	SetHUD(enabled bool) error
}

// Server serves one listener.
type Server struct {
	l       net.Listener
	h       Handler
	key     []byte
	limiter *RateLimiter

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewServer(l net.Listener, h Handler, secret string) *Server {
	return &Server{
		l:       l,
		h:       h,
		key:     DeriveKey(secret),
		limiter: NewRateLimiter(maxAuthFailures, authFailureWindow),
		conns:   make(map[*Conn]struct{}),
	}
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr { return s.l.Addr() }

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	log.Info("control channel listening", "endpoint", s.l.Addr().String())
	for {
		raw, err := s.l.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Warn("accept error", logging.KeyError, err)
			continue
		}
		c := NewConn(raw, s.key)
		if !s.track(c) {
			c.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(c)
			s.handle(ctx, c, peerName(raw))
		}()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.Close()
}

// Close stops accepting, drops open connections and waits for their
// handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	err := s.l.Close()
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
	return err
}

// peerName keys rate limiting. Pipe and unix socket peers are all "local";
// a TCP peer is its host.
func peerName(c net.Conn) string {
	a := c.RemoteAddr()
	if a == nil || a.String() == "" {
		return "local"
	}
	if host, _, err := net.SplitHostPort(a.String()); err == nil {
		return host
	}
	return a.String()
}

func (s *Server) handle(ctx context.Context, c *Conn, peer string) {
	if s.limiter.Blocked(peer) {
		log.Warn("control peer rate limited", "peer", peer)
		return
	}
	for {
		_ = c.SetDeadline(time.Now().Add(IdleTimeout))
		env, err := c.Recv()
		if err != nil {
			if errors.Is(err, ErrAuth) {
				s.limiter.Fail(peer)
				log.Warn("control request rejected", "peer", peer, logging.KeyError, err)
			} else if !errors.Is(err, os.ErrDeadlineExceeded) && !s.isClosed() {
				log.Debug("control connection closed", "peer", peer, logging.KeyError, err)
			}
			return
		}
		payload, err := s.dispatch(ctx, env)
		if err != nil {
			log.Warn("control request failed", "type", env.Type, logging.KeyError, err)
			err = c.SendError(env.ID, env.Type, err.Error())
		} else {
			err = c.SendTyped(env.ID, env.Type, payload)
		}
		if err != nil {
			log.Debug("control reply failed", logging.KeyError, err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, env *Envelope) (any, error) {
	log.Debug("control request", "type", env.Type, "id", env.ID)
	switch env.Type {
	case TypePing:
		return PingReply{ProtocolVersion: ProtocolVersion, PID: os.Getpid()}, nil
	case TypeStatus:
		return s.h.Status(), nil
	case TypeUnhook:
		state, err := s.h.Unhook(ctx)
		if err != nil {
			return nil, err
		}
		return UnhookReply{State: state}, nil
	case TypeLogLevel:
		var req LogLevelRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, fmt.Errorf("decode log level request: %w", err)
		}
		prev, err := s.h.SetLogLevel(req.Level)
		if err != nil {
			return nil, err
		}
		return LogLevelReply{Previous: prev, Current: req.Level}, nil
	case TypeHUD:
		var req HUDRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, fmt.Errorf("decode hud request: %w", err)
		}
		if err := s.h.SetHUD(req.Enabled); err != nil {
			return nil, err
		}
		return req, nil
	}
	return nil, fmt.Errorf("unknown request type %q", env.Type)
}
