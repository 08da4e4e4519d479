package gateway

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"torypto-stream/internal/dispatch"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMsgSize = 4096
)

var errClientClosed = errors.New("gateway: client closed")

var clientSeq uint64

// Client is a single websocket peer. It satisfies dispatch.Subscriber:
// payloads are encoded once and queued into a bounded send buffer; a full
// buffer drops the frame rather than stall the fan-out path.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	log    *zap.Logger
	onDrop func()

	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(conn *websocket.Conn, queueSize int, onDrop func(), log *zap.Logger) *Client {
	return &Client{
		id:     fmt.Sprintf("%s#%d", conn.RemoteAddr(), atomic.AddUint64(&clientSeq, 1)),
		conn:   conn,
		send:   make(chan []byte, queueSize),
		log:    log,
		onDrop: onDrop,
		closed: make(chan struct{}),
	}
}

// ID implements dispatch.Subscriber.
func (c *Client) ID() string { return c.id }

// Send implements dispatch.Subscriber. A slow consumer loses frames, not its
// session; only a closed connection reports an error.
func (c *Client) Send(p *dispatch.Payload) error {
	frame, err := dispatch.Encode(p)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return errClientClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		if c.onDrop != nil {
			c.onDrop()
		}
		return nil
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.closed:
			// Flush anything still queued (e.g. a final error frame).
			for n := len(c.send); n > 0; n-- {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// Coalesce queued frames into one websocket message.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
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

// readPump consumes (and discards) inbound frames so pongs are processed and
// disconnects are noticed promptly.
func (c *Client) readPump() {
	defer func() {
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
