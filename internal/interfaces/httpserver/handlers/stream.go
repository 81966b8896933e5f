package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sidechat/internal/infrastructure/metrics"
	"sidechat/internal/transport"
)

const (
	relayWriteTimeout = 10 * time.Second
	relayPingInterval = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The relay fronts a local extension process; origin checks add
		// nothing here.
		return true
	},
}

// StreamHandler hosts the relay websocket endpoint. Each connection carries
// outbound {session}/{stop} frames in and streams update messages back, the
// same contract the in-process channel implements directly.
type StreamHandler struct {
	streamer transport.Streamer
	log      zerolog.Logger
}

func NewStreamHandler(streamer transport.Streamer, log zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		streamer: streamer,
		log:      log.With().Str("component", "relay").Logger(),
	}
}

// Handle upgrades the connection and serves it until the peer goes away.
func (h *StreamHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	metrics.RelayConnections.Inc()
	defer metrics.RelayConnections.Dec()

	var writeMu sync.Mutex
	emit := func(m transport.Message) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
		if err := conn.WriteJSON(m); err != nil {
			h.log.Debug().Err(err).Msg("relay write failed")
		}
	}

	connCtx, connCancel := context.WithCancel(c.Request.Context())
	defer connCancel()

	go h.keepAlive(connCtx, conn, &writeMu)

	var turnMu sync.Mutex
	var cancelTurn context.CancelFunc
	stopTurn := func() {
		turnMu.Lock()
		cancel := cancelTurn
		cancelTurn = nil
		turnMu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
	defer stopTurn()

	for {
		var req transport.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Msg("relay connection closed")
			}
			return
		}

		if req.Stop {
			stopTurn()
			continue
		}
		if req.Session == nil {
			continue
		}

		stopTurn()
		turnCtx, cancel := context.WithCancel(connCtx)
		turnMu.Lock()
		cancelTurn = cancel
		turnMu.Unlock()

		sess := req.Session
		go func() {
			defer cancel()
			if err := h.streamer.Stream(turnCtx, sess, emit); err != nil && turnCtx.Err() == nil {
				h.log.Warn().Err(err).Msg("relay stream ended with error")
			}
		}()
	}
}

func (h *StreamHandler) keepAlive(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex) {
	ticker := time.NewTicker(relayPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(relayWriteTimeout))
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
