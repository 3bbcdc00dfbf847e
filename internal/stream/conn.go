package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"backend-pawwalk/internal/logging"
)

var (
	ErrConnClosed   = errors.New("connection closed")
	ErrSlowConsumer = errors.New("connection send buffer full")
)

// Conn is the capability the hub needs from a client connection. Send must
// not block: implementations queue the payload or fail.
type Conn interface {
	ID() string
	Send(payload []byte) error
	Close() error
}

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

type wsConn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	closed chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		id:     uuid.NewString(),
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) writeLoop() {
	defer close(c.done)
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				logging.Debug().Err(err).Str("conn_id", c.id).Msg("websocket write failed")
				_ = c.Close()
				return
			}
		}
	}
}
