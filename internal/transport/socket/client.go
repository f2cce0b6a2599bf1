// Package socket implements the room channel over a websocket
// connection to the portal's signaling endpoint.
//
// Connectivity is best effort and transparent to the session: the
// client redials with capped backoff after any failure and replays the
// join and identify announcements on every fresh connection. Callers
// only observe Connected flips through OnConnState.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/qtrack/consult/internal/core"
	"github.com/qtrack/consult/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrDisconnected = errors.New("channel disconnected")
)

const (
	sendBuffer     = 32
	writeDeadline  = 5 * time.Second
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Config for Dial. URL is required.
type Config struct {
	URL        string
	PingPeriod time.Duration
	ReadLimit  int64
}

// Client is a core.Channel over one websocket at a time.
type Client struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	conn      *websocket.Conn
	send      chan []byte
	connected bool
	room      domain.RoomID
	role      domain.Role
	subs      map[int]func(core.Event)
	connSubs  map[int]func(bool)
	nextSub   int
}

// Dial starts the connection loop and returns immediately; the first
// connect happens in the background.
func Dial(cfg Config) *Client {
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = 54 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 32768
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[int]func(core.Event)),
		connSubs: make(map[int]func(bool)),
	}
	go c.run()
	return c
}

func (c *Client) run() {
	backoff := initialBackoff
	for {
		if c.ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.cfg.URL, nil)
		if err != nil {
			log.Warn().Err(err).Str("module", "socket").Str("url", c.cfg.URL).Dur("retry_in", backoff).Msg("dial failed")
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = initialBackoff

		connCtx, connCancel := context.WithCancel(c.ctx)
		c.attach(conn)
		go c.writePump(connCtx, conn)
		c.readPump(conn) // blocks until the connection dies
		connCancel()
		c.detach(conn)
	}
}

// attach installs a fresh connection, replays the room announcements
// and flips subscribers to connected.
func (c *Client) attach(conn *websocket.Conn) {
	conn.SetReadLimit(c.cfg.ReadLimit)

	c.mu.Lock()
	c.conn = conn
	c.send = make(chan []byte, sendBuffer)
	c.connected = true
	room, role := c.room, c.role
	c.mu.Unlock()

	log.Info().Str("module", "socket").Str("url", c.cfg.URL).Msg("connected")

	if room != "" {
		_ = c.Emit(core.Event{Type: core.EventJoin, Room: room})
	}
	if role != "" {
		_ = c.Emit(core.Event{Type: core.EventIdentify, Role: role})
	}
	c.notifyConn(true)
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	wasConnected := c.conn == conn && c.connected
	if c.conn == conn {
		c.conn = nil
		c.connected = false
	}
	c.mu.Unlock()
	_ = conn.Close()

	if wasConnected {
		log.Warn().Str("module", "socket").Str("url", c.cfg.URL).Msg("disconnected")
		c.notifyConn(false)
	}
}

func (c *Client) notifyConn(connected bool) {
	c.mu.RLock()
	fns := make([]func(bool), 0, len(c.connSubs))
	for _, fn := range c.connSubs {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()
	for _, fn := range fns {
		fn(connected)
	}
}

// Join records the room scope and announces it if currently connected;
// otherwise the announcement happens on the next attach.
func (c *Client) Join(room domain.RoomID) {
	c.mu.Lock()
	c.room = room
	connected := c.connected
	c.mu.Unlock()
	if connected {
		_ = c.Emit(core.Event{Type: core.EventJoin, Room: room})
	}
}

func (c *Client) Identify(role domain.Role) {
	c.mu.Lock()
	c.role = role
	connected := c.connected
	c.mu.Unlock()
	if connected {
		_ = c.Emit(core.Event{Type: core.EventIdentify, Role: role})
	}
}

// Emit sends one event without blocking on a slow link.
func (c *Client) Emit(ev core.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return ErrDisconnected
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) Subscribe(fn func(core.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Client) OnConnState(fn func(bool)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.connSubs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.connSubs, id)
	}
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close stops the connection loop. Safe to call more than once.
func (c *Client) Close() {
	c.cancel()
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
