package socket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/qtrack/consult/internal/core"
)

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn) {
	c.mu.RLock()
	send := c.send
	c.mu.RUnlock()

	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "socket").Msg("ping failed")
				return
			}
		case data, ok := <-send:
			if !ok {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "socket").Msg("write failed")
				return
			}
		}
	}
}

// readPump reads frames until the connection dies, dispatching each
// decoded event to subscribers in delivery order.
func (c *Client) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				log.Warn().Err(err).Str("module", "socket").Msg("read failed")
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var ev core.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Str("module", "socket").Msg("bad frame")
		return
	}

	c.mu.RLock()
	fns := make([]func(core.Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
