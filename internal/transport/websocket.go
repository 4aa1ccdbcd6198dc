package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
)

const dialTimeout = 10 * time.Second

// wsConn adapts *websocket.Conn to the Conn interface.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "session ended")
}

// DialWebSocket is the production Dialer.
func DialWebSocket(ctx context.Context, url string) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	// Inbound events can be large (full plan snapshots with step lists).
	conn.SetReadLimit(1 << 20)
	return &wsConn{conn: conn}, nil
}
