package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/qtrack/consult/internal/core"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sid SessionID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "relay").Str("sid", string(sid)).Msg("readPump closing")
		// a dropped member hangs the call otherwise
		if room, ok := ctl.Registry.RoomOf(sid); ok {
			ctl.forward(sid, core.Event{Type: core.EventEnd, Room: room})
		}
		ctl.Registry.Unbind(sid)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "relay").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.handleFrame(sid, data)
		}
	}
}

func (ctl *Controller) handleFrame(sid SessionID, data []byte) {
	var ev core.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad json")
		return
	}

	switch ev.Type {
	case core.EventJoin:
		if ev.Room == "" {
			return
		}
		ctl.Registry.SetRoom(sid, ev.Room)
	case core.EventIdentify:
		if !ev.Role.Valid() {
			return
		}
		ctl.Registry.SetRole(sid, ev.Role)
	case core.EventMessage:
		ctl.handleMessage(sid, ev)
	case core.EventOffer, core.EventAnswer, core.EventCandidate:
		if !ctl.Limiter.Allow(sid) {
			log.Warn().Str("module", "relay").Str("sid", string(sid)).Str("type", ev.Type).Msg("rate limited")
			return
		}
		ctl.forwardFrom(sid, ev)
	case core.EventEnd:
		ctl.forwardFrom(sid, ev)
	default:
		log.Warn().Str("module", "relay").Str("type", ev.Type).Msg("unknown signal")
	}
}

// handleMessage stamps the server identity on a chat message and fans
// it out to every room member, the sender included.
func (ctl *Controller) handleMessage(sid SessionID, ev core.Event) {
	room, ok := ctl.Registry.RoomOf(sid)
	if !ok || ev.Message == nil || ev.Message.Text == "" {
		return
	}
	msg := *ev.Message
	msg.ID = uuid.NewString()
	msg.RoomID = room
	msg.CreatedAt = time.Now().UTC()

	out := core.Event{Type: core.EventMessage, Room: room, Message: &msg}
	for _, m := range ctl.Registry.MembersOf(room) {
		ctl.sendJSON(m.Conn, out)
	}
}

// forwardFrom relays a call signal to the room's other member.
func (ctl *Controller) forwardFrom(sid SessionID, ev core.Event) {
	room, ok := ctl.Registry.RoomOf(sid)
	if !ok {
		return
	}
	ev.Room = room
	ctl.forward(sid, ev)
}

func (ctl *Controller) forward(from SessionID, ev core.Event) {
	for _, m := range ctl.Registry.MembersOf(ev.Room) {
		if m.SID == from {
			continue
		}
		ctl.sendJSON(m.Conn, ev)
	}
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "relay").Msg("sendJSON drop")
	}
}
