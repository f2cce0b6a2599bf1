package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Registry *Registry
	Limiter  *SignalRateLimiter
}

func NewController() *Controller {
	return &Controller{
		Registry: NewRegistry(),
		Limiter:  NewSignalRateLimiter(120, time.Minute),
	}
}

func (ctl *Controller) HandleConsult(ctx context.Context, c *gin.Context) {
	sid := SessionID(c.GetString("client_token"))
	log.Info().Str("module", "relay").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.Bind(sid, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}
