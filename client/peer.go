package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Alexandr23/shared-canvas/canvas"
	"github.com/Alexandr23/shared-canvas/domain"
	ws "github.com/Alexandr23/shared-canvas/websocket"
)

const (
	minReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay = 30 * time.Second
)

var eventTypes = []domain.EventType{
	domain.EventUsers,
	domain.EventUser,
	domain.EventLineCreated,
	domain.EventLineRemoved,
	domain.EventCleared,
	domain.EventClearedAll,
}

// connection is one dial of the hub. Events that arrive before the Init
// reply are held in backlog and replayed over the snapshot.
type connection struct {
	conn    *ws.ClientConn
	corr    *Correlator
	ready   bool
	backlog []domain.Message
}

// Peer keeps a canvas.Store in sync with the hub. The store only changes on
// hub replies and events, never ahead of an acknowledgement.
type Peer struct {
	url      string
	identity IdentityStore
	corrOpts []Option
	store    *canvas.Store

	mu  sync.Mutex
	cur *connection
}

type PeerOption func(*Peer)

func WithIdentity(s IdentityStore) PeerOption {
	return func(p *Peer) { p.identity = s }
}

func WithCorrelatorOptions(opts ...Option) PeerOption {
	return func(p *Peer) { p.corrOpts = append(p.corrOpts, opts...) }
}

func NewPeer(url string, opts ...PeerOption) *Peer {
	p := &Peer{
		url:      url,
		identity: &memoryIdentity{},
		store:    canvas.NewStore(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Peer) Store() *canvas.Store { return p.store }

// Connect dials the hub, replacing any previous connection, and identifies.
// The store is reseeded from the Init reply, so calling Connect again after
// a drop is a full resync.
func (p *Peer) Connect(ctx context.Context) (domain.User, error) {
	c, err := p.dial(ctx)
	if err != nil {
		return domain.User{}, err
	}

	hint, err := p.identity.Load()
	if err != nil {
		slog.Warn("ignoring stored identity", "error", err)
	}
	var req domain.InitRequest
	if hint != "" {
		req.User = &domain.IdentityHint{ID: hint}
	}

	var reply domain.InitReply
	_, err = c.corr.Call(ctx, domain.RequestInit, req, func(msg domain.Message) error {
		if err := msg.Decode(&reply); err != nil {
			return fmt.Errorf("failed to decode Init reply: %w", err)
		}
		return p.seed(c, reply)
	})
	if err != nil {
		c.conn.Close()
		return domain.User{}, err
	}

	if err := p.identity.Save(reply.User.ID); err != nil {
		slog.Warn("failed to persist identity", "userId", reply.User.ID, "error", err)
	}
	slog.Info("peer identified", "userId", reply.User.ID, "name", reply.User.Name, "lines", len(reply.Lines))
	return reply.User, nil
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done is closed when the current connection drops. Without a connection,
// before the first Connect or after Close, it is already closed.
func (p *Peer) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return closedChan
	}
	return p.cur.conn.Done()
}

// Run keeps the peer connected until ctx ends, resyncing after every drop,
// including a Close from another goroutine. onReady, when set, is called
// after each successful Init.
func (p *Peer) Run(ctx context.Context, onReady func(domain.User)) error {
	delay := minReconnectDelay
	for {
		user, err := p.Connect(ctx)
		if err == nil {
			delay = minReconnectDelay
			if onReady != nil {
				onReady(user)
			}
			select {
			case <-ctx.Done():
				p.Close()
				return ctx.Err()
			case <-p.Done():
				slog.Warn("connection lost", "url", p.url)
			}
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("connect failed", "url", p.url, "retryIn", delay, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (p *Peer) Close() error {
	p.mu.Lock()
	c := p.cur
	p.cur = nil
	p.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.conn.Close()
}

func (p *Peer) CreateLine(ctx context.Context, draft domain.LineDraft) (domain.Line, error) {
	if err := draft.Validate(); err != nil {
		return domain.Line{}, err
	}

	var line domain.Line
	err := p.call(ctx, domain.RequestCreateLine, domain.CreateLineRequest{Line: draft}, func(msg domain.Message) error {
		var payload domain.LinePayload
		if err := msg.Decode(&payload); err != nil {
			return err
		}
		if payload.Line == nil {
			return errors.New("CreateLine reply without line")
		}
		line = *payload.Line
		p.store.AddLine(line)
		return nil
	})
	return line, err
}

// Undo removes the caller's newest line. It returns nil when there was
// nothing to undo.
func (p *Peer) Undo(ctx context.Context) (*domain.Line, error) {
	var removed *domain.Line
	err := p.call(ctx, domain.RequestUndo, nil, func(msg domain.Message) error {
		var payload domain.LinePayload
		if err := msg.Decode(&payload); err != nil {
			return err
		}
		if payload.Line != nil {
			removed = payload.Line
			p.store.RemoveLine(removed.ID)
		}
		return nil
	})
	return removed, err
}

func (p *Peer) Clear(ctx context.Context) error {
	return p.call(ctx, domain.RequestClear, nil, func(domain.Message) error {
		if u := p.store.Snapshot().CurrentUser; u != nil {
			p.store.RemoveLinesByUser(u.ID)
		}
		return nil
	})
}

func (p *Peer) ClearAll(ctx context.Context) error {
	return p.call(ctx, domain.RequestClearAll, nil, func(domain.Message) error {
		p.store.RemoveAllLines()
		return nil
	})
}

func (p *Peer) SelectColor(ctx context.Context, color string) (domain.User, error) {
	if !domain.ValidColor(color) {
		return domain.User{}, fmt.Errorf("%w: color %q", domain.ErrInvalidRequest, color)
	}

	var user domain.User
	err := p.call(ctx, domain.RequestSelectColor, domain.SelectColorRequest{Color: color}, func(msg domain.Message) error {
		var payload domain.UserPayload
		if err := msg.Decode(&payload); err != nil {
			return err
		}
		user = payload.User
		p.store.SetUser(user)
		return nil
	})
	return user, err
}

func (p *Peer) dial(ctx context.Context) (*connection, error) {
	p.Close()

	c := &connection{}
	c.corr = NewCorrelator(SenderFunc(func(data []byte) error {
		return c.conn.Send(data)
	}), p.corrOpts...)
	for _, typ := range eventTypes {
		c.corr.Subscribe(typ, func(msg domain.Message) { p.onEvent(c, msg) })
	}

	conn, err := ws.Dial(ctx, p.url, c.corr.Deliver)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	p.mu.Lock()
	p.cur = c
	p.mu.Unlock()

	go func() {
		<-conn.Done()
		c.corr.Fail(domain.ErrClosed)
	}()
	return c, nil
}

// call runs a request on the current connection. apply mutates the store
// from the reply, in stream order, unless the connection has been replaced.
func (p *Peer) call(ctx context.Context, typ domain.RequestType, data any, apply func(domain.Message) error) error {
	p.mu.Lock()
	c := p.cur
	ready := c != nil && c.ready
	p.mu.Unlock()
	if !ready {
		return fmt.Errorf("%s: %w", typ, domain.ErrNotIdentified)
	}

	_, err := c.corr.Call(ctx, typ, data, func(msg domain.Message) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.cur != c {
			return domain.ErrClosed
		}
		if err := apply(msg); err != nil {
			return fmt.Errorf("failed to apply %s reply: %w", typ, err)
		}
		return nil
	})
	return err
}

// seed loads the Init snapshot and replays events that raced it. Replaying an
// event the snapshot already reflects is a no-op.
func (p *Peer) seed(c *connection, reply domain.InitReply) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cur != c {
		return domain.ErrClosed
	}
	p.store.InitFromSnapshot(reply)
	for _, ev := range c.backlog {
		p.applyEvent(ev)
	}
	c.backlog = nil
	c.ready = true
	return nil
}

func (p *Peer) onEvent(c *connection, msg domain.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cur != c {
		return
	}
	if !c.ready {
		c.backlog = append(c.backlog, msg)
		return
	}
	p.applyEvent(msg)
}

// applyEvent performs exactly one store mutation per event. Called with p.mu held.
func (p *Peer) applyEvent(msg domain.Message) {
	var err error
	switch domain.EventType(msg.Type) {
	case domain.EventUsers:
		var payload domain.UsersPayload
		if err = msg.Decode(&payload); err == nil {
			p.store.SetUsers(payload.Users)
		}
	case domain.EventUser:
		var payload domain.UserPayload
		if err = msg.Decode(&payload); err == nil {
			p.store.SetUser(payload.User)
		}
	case domain.EventLineCreated:
		var payload domain.LinePayload
		if err = msg.Decode(&payload); err == nil {
			if payload.Line == nil {
				err = errors.New("missing line")
			} else {
				p.store.AddLine(*payload.Line)
			}
		}
	case domain.EventLineRemoved:
		var payload domain.LinePayload
		if err = msg.Decode(&payload); err == nil && payload.Line != nil {
			p.store.RemoveLine(payload.Line.ID)
		}
	case domain.EventCleared:
		var payload domain.ClearedPayload
		if err = msg.Decode(&payload); err == nil {
			p.store.RemoveLinesByUser(payload.UserID)
		}
	case domain.EventClearedAll:
		p.store.RemoveAllLines()
	}
	if err != nil {
		slog.Warn("dropping malformed event", "type", msg.Type, "error", err)
	}
}
