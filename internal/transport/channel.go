package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultPingInterval = 20 * time.Second
	writeTimeout        = 10 * time.Second
)

// WebSocket is the long-lived channel to a relay process hosting the
// provider pipeline. While a request is outstanding it pings the peer on a
// low-frequency ticker so intermediaries keep the connection alive; the
// ticker carries no conversation data.
type WebSocket struct {
	conn *websocket.Conn
	sink Sink
	log  zerolog.Logger

	writeMu     sync.Mutex
	outstanding atomic.Bool

	pingInterval time.Duration
	done         chan struct{}
	closeOnce    sync.Once
}

// DialWebSocket connects to the relay endpoint and starts the read and
// keep-alive loops. Inbound messages are delivered to sink in arrival order
// from a single goroutine.
func DialWebSocket(ctx context.Context, url string, sink Sink, pingInterval time.Duration, log zerolog.Logger) (*WebSocket, error) {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	t := &WebSocket{
		conn:         conn,
		sink:         sink,
		log:          log.With().Str("component", "ws-transport").Logger(),
		pingInterval: pingInterval,
		done:         make(chan struct{}),
	}

	go t.readLoop()
	go t.keepAlive()

	return t, nil
}

// Send writes an outbound request frame.
func (t *WebSocket) Send(ctx context.Context, req Request) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := t.conn.WriteJSON(req); err != nil {
		return err
	}

	if req.Stop {
		t.outstanding.Store(false)
	} else if req.Session != nil {
		t.outstanding.Store(true)
	}
	return nil
}

// Close tears the connection down. Safe to call more than once.
func (t *WebSocket) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

func (t *WebSocket) readLoop() {
	defer t.Close()
	for {
		var m Message
		if err := t.conn.ReadJSON(&m); err != nil {
			select {
			case <-t.done:
			default:
				t.log.Warn().Err(err).Msg("websocket read failed")
				t.sink(Message{Error: String(err.Error()), Done: Bool(true)})
			}
			return
		}

		if m.IsDone() || m.Error != nil {
			t.outstanding.Store(false)
		}
		t.sink(m)
	}
}

func (t *WebSocket) keepAlive() {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if !t.outstanding.Load() {
				continue
			}
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			t.writeMu.Unlock()
			if err != nil {
				t.log.Debug().Err(err).Msg("keep-alive ping failed")
			}
		}
	}
}
