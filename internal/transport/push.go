package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size accepted from the peer.
	maxMessageSize = 512 * 1024 // 512KB

	dialTimeout = 15 * time.Second
)

// pushConn abstracts the websocket connection so the selector's state machine
// is testable without a live peer.
type pushConn interface {
	ReadFrame() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

type dialFunc func(ctx context.Context) (pushConn, error)

// websocketDialer returns the production dialer for the provider's push
// endpoint.
func websocketDialer(url string) dialFunc {
	dialer := &websocket.Dialer{
		HandshakeTimeout: dialTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}

	return func(ctx context.Context) (pushConn, error) {
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return newWSConn(conn), nil
	}
}

// wsConn wraps a gorilla connection with keepalive pings and pong-extended
// read deadlines. A single mutex serializes writers (control frames and
// pings), as gorilla allows at most one concurrent writer.
type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{
		conn: conn,
		done: make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.pingLoop()
	return c
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	return data, nil
}

func (c *wsConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.conn.Close()
}
