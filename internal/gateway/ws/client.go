package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	logpkg "github.com/okline/relay/pkg/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 20 // 1MB
)

// client is one connected chat peer.
type client struct {
	gw   *Gateway
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func newClient(gw *Gateway, conn *websocket.Conn) *client {
	return &client{
		gw:   gw,
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

// sendJSON queues v on the outbound pump. A slow consumer whose buffer is
// full loses the frame rather than stalling the gateway.
func (c *client) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.gw.logger.Error("marshal frame", logpkg.Err(err))
		return
	}
	select {
	case c.send <- data:
	default:
		c.gw.logger.Warn("client send buffer full, dropping frame")
	}
}

func (c *client) readPump() {
	defer func() {
		c.gw.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gw.logger.Debug("client disconnected", logpkg.Err(err))
			}
			return
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.gw.logger.Warn("unparseable frame", logpkg.Err(err))
			continue
		}
		c.gw.handleFrame(c, f)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
