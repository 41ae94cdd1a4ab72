package websocket

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// ClientConn is the peer side of the transport channel. Inbound messages are
// delivered to the handler one at a time, in the order received.
type ClientConn struct {
	*pump
}

func Dial(ctx context.Context, url string, handle func([]byte)) (*ClientConn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	c := &ClientConn{pump: newPump(ws)}
	go c.writeLoop()
	go func() {
		defer c.Close()
		c.readLoop(url, handle)
	}()
	return c, nil
}
