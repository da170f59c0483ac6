package stream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second

	DefaultClientWriteTimeout = 10 * time.Second

	// closeGracePeriod bounds how long a close frame may take to write.
	closeGracePeriod = time.Second
)

// Conn is one end of a Pair. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens the upstream end of a Pair.
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}

type controlWriter interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// WebsocketDialer dials upstream streams with gorilla/websocket.
type WebsocketDialer struct {
	dialer *websocket.Dialer
}

func NewWebsocketDialer(handshakeTimeout time.Duration) *WebsocketDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, address string) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return conn, nil
}

// closeConn sends a best-effort close frame and closes c. Errors are
// swallowed; c may already be closed or nil.
func closeConn(c Conn) {
	if c == nil {
		return
	}
	if cw, ok := c.(controlWriter); ok {
		_ = cw.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
	}
	_ = c.Close()
}
