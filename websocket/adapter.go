package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Alexandr23/shared-canvas/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

// pump owns one websocket and serializes all writes through a buffered
// channel. It is shared by the server and client sides.
type pump struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newPump(ws *websocket.Conn) *pump {
	return &pump{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (p *pump) Send(data []byte) error {
	select {
	case <-p.done:
		return domain.ErrClosed
	default:
	}
	select {
	case p.send <- data:
		return nil
	case <-p.done:
		return domain.ErrClosed
	default:
		return websocket.ErrCloseSent
	}
}

func (p *pump) Close() error {
	p.shutdown()
	return p.ws.Close()
}

func (p *pump) Done() <-chan struct{} { return p.done }

func (p *pump) shutdown() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *pump) readLoop(id string, handle func([]byte)) {
	p.ws.SetReadLimit(maxMessageSize)
	p.ws.SetReadDeadline(time.Now().Add(pongWait))
	p.ws.SetPongHandler(func(string) error {
		p.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				slog.Error("read error", "sessionId", id, "error", err)
			}
			return
		}
		handle(data)
	}
}

func (p *pump) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.ws.Close()
	}()

	for {
		select {
		case message := <-p.send:
			p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.done:
			p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			p.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Conn is the server side of one session.
type Conn struct {
	*pump
	id      string
	handler domain.MessageHandler
}

func NewConn(id string, ws *websocket.Conn, h domain.MessageHandler) *Conn {
	return &Conn{
		pump:    newPump(ws),
		id:      id,
		handler: h,
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Start() {
	c.handler.Connected(c)
	go c.writeLoop()
	go c.readPump()
}

func (c *Conn) readPump() {
	defer func() {
		c.handler.Disconnected(c)
		c.Close()
	}()

	// Messages of one session are handled strictly one after another.
	c.readLoop(c.id, func(data []byte) {
		c.handler.Handle(c, data)
	})
}
