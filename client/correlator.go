// Package client is the peer side of the canvas protocol: a request/response
// correlator over a transport channel, and a Peer that feeds replies and
// events into a canvas.Store.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/Alexandr23/shared-canvas/domain"
)

const DefaultTimeout = 5 * time.Second

type Sender interface {
	Send(data []byte) error
}

type SenderFunc func(data []byte) error

func (f SenderFunc) Send(data []byte) error { return f(data) }

// RemoteError is an error reply from the hub.
type RemoteError struct {
	Type    domain.RequestType
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

type Listener func(msg domain.Message)

type Option func(*Correlator)

func WithTimeout(d time.Duration) Option {
	return func(c *Correlator) { c.timeout = d }
}

func WithClock(clk clock.Clock) Option {
	return func(c *Correlator) { c.clock = clk }
}

type outcome struct {
	msg domain.Message
	err error
}

type pendingRequest struct {
	id    string
	typ   domain.RequestType
	timer *clock.Timer
	apply func(domain.Message) error
	done  chan outcome
}

type subscription struct {
	fn Listener
}

// Correlator pairs replies with requests by id and routes id-less messages to
// event listeners. Replies and events are processed in the order Deliver is
// called; a reply races its timeout and whichever removes the pending entry
// first decides the outcome.
type Correlator struct {
	sender    Sender
	clock     clock.Clock
	timeout   time.Duration
	pending   map[string]*pendingRequest
	listeners map[domain.EventType][]*subscription
	mu        sync.Mutex
}

func NewCorrelator(s Sender, opts ...Option) *Correlator {
	c := &Correlator{
		sender:    s,
		clock:     clock.New(),
		timeout:   DefaultTimeout,
		pending:   make(map[string]*pendingRequest),
		listeners: make(map[domain.EventType][]*subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Correlator) Request(ctx context.Context, typ domain.RequestType, data any) (domain.Message, error) {
	return c.Call(ctx, typ, data, nil)
}

// Call sends a request and waits for its reply. apply, when set, runs on the
// delivering goroutine before any later inbound message is processed, so
// state changes derived from the reply keep their place in the stream.
func (c *Correlator) Call(ctx context.Context, typ domain.RequestType, data any, apply func(domain.Message) error) (domain.Message, error) {
	msg, err := domain.NewMessage(uuid.NewString(), string(typ), data)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to encode %s: %w", typ, err)
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to encode %s: %w", typ, err)
	}

	p := &pendingRequest{
		id:    msg.ID,
		typ:   typ,
		apply: apply,
		done:  make(chan outcome, 1),
	}

	c.mu.Lock()
	c.pending[p.id] = p
	p.timer = c.clock.AfterFunc(c.timeout, func() { c.expire(p.id) })
	c.mu.Unlock()

	if err := c.sender.Send(raw); err != nil {
		if c.take(p.id) != nil {
			p.timer.Stop()
			return domain.Message{}, fmt.Errorf("failed to send %s: %w", typ, err)
		}
	}

	select {
	case o := <-p.done:
		return o.msg, o.err
	case <-ctx.Done():
		if c.take(p.id) != nil {
			p.timer.Stop()
			return domain.Message{}, ctx.Err()
		}
		o := <-p.done
		return o.msg, o.err
	}
}

// Deliver processes one inbound message from the channel.
func (c *Correlator) Deliver(data []byte) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("invalid message", "error", err)
		return
	}
	if msg.Type == "" {
		slog.Warn("invalid message", "error", "missing type")
		return
	}

	if msg.IsEvent() {
		c.dispatch(msg)
		return
	}

	p := c.take(msg.ID)
	if p == nil {
		slog.Debug("ignoring reply without pending request", "requestId", msg.ID, "type", msg.Type)
		return
	}
	p.timer.Stop()

	if msg.Error != "" {
		p.done <- outcome{err: &RemoteError{Type: p.typ, Message: msg.Error}}
		return
	}
	if p.apply != nil {
		if err := p.apply(msg); err != nil {
			p.done <- outcome{msg: msg, err: err}
			return
		}
	}
	p.done <- outcome{msg: msg}
}

// Subscribe registers fn for events of type typ. Listeners of one type run in
// registration order.
func (c *Correlator) Subscribe(typ domain.EventType, fn Listener) (unsubscribe func()) {
	sub := &subscription{fn: fn}

	c.mu.Lock()
	subs := append([]*subscription(nil), c.listeners[typ]...)
	c.listeners[typ] = append(subs, sub)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			kept := make([]*subscription, 0, len(c.listeners[typ]))
			for _, s := range c.listeners[typ] {
				if s != sub {
					kept = append(kept, s)
				}
			}
			c.listeners[typ] = kept
		})
	}
}

// Fail rejects every pending request with err, e.g. when the channel closes.
func (c *Correlator) Fail(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		p.done <- outcome{err: fmt.Errorf("%s: %w", p.typ, err)}
	}
}

func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) dispatch(msg domain.Message) {
	c.mu.Lock()
	subs := c.listeners[domain.EventType(msg.Type)]
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(msg)
	}
}

func (c *Correlator) expire(id string) {
	p := c.take(id)
	if p == nil {
		return
	}
	slog.Warn("request timed out", "requestId", id, "type", p.typ, "timeout", c.timeout)
	p.done <- outcome{err: fmt.Errorf("%s: %w", p.typ, domain.ErrRequestTimeout)}
}

func (c *Correlator) take(id string) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}
