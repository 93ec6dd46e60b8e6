package voxserv

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 16
)

type wsConnection struct {
	id        uuid.UUID
	conn      *websocket.Conn
	send      chan []byte
	list      *ConnectionList
	closeOnce sync.Once
}

// ConnectionList tracks the websocket viewers of the transcript.
type ConnectionList struct {
	conns map[uuid.UUID]*wsConnection
	mu    sync.RWMutex
}

func NewConnectionList() *ConnectionList {
	return &ConnectionList{
		conns: make(map[uuid.UUID]*wsConnection),
	}
}

func (cl *ConnectionList) Add(c *wsConnection) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.conns[c.id] = c
}

func (cl *ConnectionList) Remove(id uuid.UUID) {
	cl.mu.Lock()
	c, ok := cl.conns[id]
	delete(cl.conns, id)
	cl.mu.Unlock()
	if ok {
		c.close()
	}
}

// Send queues payload on one connection. It reports false when the
// connection is gone or its buffer is full.
func (cl *ConnectionList) Send(id uuid.UUID, payload []byte) bool {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	c, ok := cl.conns[id]
	if !ok {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (cl *ConnectionList) Len() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.conns)
}

// Broadcast queues payload on every connection. A connection whose buffer
// is full is dropped.
func (cl *ConnectionList) Broadcast(payload []byte) {
	cl.mu.RLock()
	var slow []uuid.UUID
	for id, c := range cl.conns {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, id)
		}
	}
	cl.mu.RUnlock()

	for _, id := range slow {
		slog.Warn("Dropping slow websocket viewer", "connectionID", id)
		cl.Remove(id)
	}
}

// CloseAll disconnects every viewer.
func (cl *ConnectionList) CloseAll() {
	cl.mu.Lock()
	conns := cl.conns
	cl.conns = make(map[uuid.UUID]*wsConnection)
	cl.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

func (c *wsConnection) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

func (c *wsConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
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

// readPump only services control frames; viewers never send data.
func (c *wsConnection) readPump() {
	defer func() {
		c.list.Remove(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket read error", "error", err)
			}
			break
		}
	}
}
