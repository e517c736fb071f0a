package relay

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second

	sendBufCap = 256
)

// conn is one viewer WebSocket connection with a buffered outbound queue.
type conn struct {
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{ws: ws, send: make(chan []byte, sendBufCap)}
}

// trySend queues a message without blocking. A viewer that cannot keep up
// loses messages on this path; the fallback feed covers the loss.
func (c *conn) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// closeSend ends the write pump. Safe to call more than once.
func (c *conn) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// readPump discards inbound frames, keeping the connection alive via pong
// handling, and runs cleanup when the viewer goes away.
func (c *conn) readPump(cleanup func()) {
	defer func() {
		cleanup()
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(readDeadline))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("relay: websocket read error: %v", err)
			}
			return
		}
	}
}

// writePump writes queued messages and periodic pings until the send queue
// is closed or the connection fails.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
