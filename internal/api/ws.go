package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The presentation client is served from another origin during development.
	CheckOrigin: func(*http.Request) bool { return true },
}

// serveWS pushes the account's events to the client. Browsers cannot set an
// Authorization header on a websocket, so the token comes as a query param.
func (s *Server) serveWS(c *gin.Context) {
	claims, err := s.tokens.Parse(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid token"})
		return
	}
	// Subscribe before the handshake completes so no event published after
	// the client sees the upgrade is lost.
	evs, cancel := s.svc.Events(claims.AccountID)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		cancel()
		return
	}
	cl := &wsClient{conn: conn, events: evs, cancel: cancel, done: make(chan struct{})}
	s.log.Debugw("websocket connected", "account", claims.AccountID)
	go cl.writePump()
	cl.readPump()
	s.log.Debugw("websocket closed", "account", claims.AccountID)
}

type wsClient struct {
	conn   *websocket.Conn
	events <-chan events.Event
	cancel func()
	done   chan struct{}
}

// readPump only drains control frames; the client sends nothing.
func (c *wsClient) readPump() {
	defer func() {
		c.cancel()
		<-c.done
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.done)
	}()
	for {
		select {
		case ev, ok := <-c.events:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}
