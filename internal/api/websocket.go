package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/serroba/online-diagrams/internal/ws"
)

// maxMessageSize bounds a single client frame.
const maxMessageSize = 1 << 20

// handleWebSocket handles GET /ws. The token may be passed as ?token= since
// browsers cannot set headers on the upgrade request.
func (s *Server) handleWebSocket(c *gin.Context) {
	id, err := identity(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	raw, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")

		return
	}

	conn := newSocket(raw, s.writeWait, s.pongWait)
	client := ws.NewClient(uuid.NewString(), id.UserID, id.Email, conn)

	ctx := c.Request.Context()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	defer stop()

	go conn.keepAlive(s.pingPeriod)

	s.logger.Debug().Str("conn", client.ID).Str("userId", id.UserID).Msg("websocket connected")

	s.engine.Serve(ctx, client)

	_ = client.Close()
}

// socket adapts a gorilla connection to ws.Conn with write deadlines and
// ping based liveness.
type socket struct {
	raw       *websocket.Conn
	writeWait time.Duration
	pongWait  time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func newSocket(raw *websocket.Conn, writeWait, pongWait time.Duration) *socket {
	c := &socket{raw: raw, writeWait: writeWait, pongWait: pongWait, done: make(chan struct{})}

	raw.SetReadLimit(maxMessageSize)
	_ = raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(pongWait))
	})

	return c
}

func (c *socket) WriteJSON(v any) error {
	if err := c.raw.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}

	return c.raw.WriteJSON(v)
}

// ReadJSON reads the next frame. A frame that is not JSON decodes as an
// empty message so the caller can reject it without dropping the connection.
func (c *socket) ReadJSON(v any) error {
	_, data, err := c.raw.ReadMessage()
	if err != nil {
		return err
	}

	_ = c.raw.SetReadDeadline(time.Now().Add(c.pongWait))

	if err := json.Unmarshal(data, v); err != nil {
		return json.Unmarshal([]byte(`{}`), v)
	}

	return nil
}

func (c *socket) Close() error {
	var err error

	c.closeOnce.Do(func() {
		close(c.done)

		_ = c.raw.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.writeWait))
		err = c.raw.Close()
	})

	return err
}

// keepAlive pings the peer until the connection closes.
func (c *socket) keepAlive(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.raw.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait)); err != nil {
				_ = c.Close()

				return
			}
		}
	}
}

var _ ws.Conn = (*socket)(nil)
