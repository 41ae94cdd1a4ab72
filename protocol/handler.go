package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Alexandr23/shared-canvas/domain"
)

const opTimeout = 10 * time.Second

var errSessionGone = errors.New("session closed during request")

type Handler struct {
	broadcaster domain.Broadcaster
	store       domain.Store
}

func NewHandler(b domain.Broadcaster, s domain.Store) *Handler {
	return &Handler{broadcaster: b, store: s}
}

func (h *Handler) Connected(conn domain.Connection) {
	h.broadcaster.Register(conn)
}

func (h *Handler) Disconnected(conn domain.Connection) {
	_, identified := h.broadcaster.User(conn)
	h.broadcaster.Unregister(conn)
	if !identified {
		return
	}
	h.broadcast(conn, domain.EventUsers, domain.UsersPayload{Users: h.broadcaster.Roster()})
}

// Handle runs one request to completion: persist, reply to the requester,
// then broadcast the derived event to every other session.
func (h *Handler) Handle(conn domain.Connection, data []byte) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("invalid message", "sessionId", conn.ID(), "error", err)
		return
	}
	if msg.Type == "" || msg.ID == "" {
		slog.Warn("invalid message", "sessionId", conn.ID(), "error", "missing id or type")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	result, event, err := h.dispatch(ctx, conn, msg)
	if errors.Is(err, errSessionGone) {
		slog.Debug("dropping reply to closed session", "sessionId", conn.ID(), "type", msg.Type)
		return
	}
	if err != nil {
		h.replyError(conn, msg, err)
		return
	}

	h.reply(conn, msg, result)
	if event != nil {
		h.broadcast(conn, event.typ, event.data)
	}
}

type outbound struct {
	typ  domain.EventType
	data any
}

func (h *Handler) dispatch(ctx context.Context, conn domain.Connection, msg domain.Message) (any, *outbound, error) {
	if domain.RequestType(msg.Type) == domain.RequestInit {
		return h.init(ctx, conn, msg)
	}

	user, ok := h.broadcaster.User(conn)
	if !ok {
		return nil, nil, domain.ErrNotIdentified
	}

	switch domain.RequestType(msg.Type) {
	case domain.RequestCreateLine:
		return h.createLine(ctx, user, msg)
	case domain.RequestUndo:
		return h.undo(ctx, user)
	case domain.RequestClear:
		return h.clear(ctx, user)
	case domain.RequestClearAll:
		return h.clearAll(ctx)
	case domain.RequestSelectColor:
		return h.selectColor(ctx, user, msg)
	}
	return nil, nil, fmt.Errorf("%w: unknown type %q", domain.ErrInvalidRequest, msg.Type)
}

func (h *Handler) init(ctx context.Context, conn domain.Connection, msg domain.Message) (any, *outbound, error) {
	var req domain.InitRequest
	if err := msg.Decode(&req); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	user, err := h.resolveUser(ctx, req.User)
	if err != nil {
		return nil, nil, err
	}

	// The store call above may have outlived the session.
	if !h.broadcaster.Bind(conn, user) {
		return nil, nil, errSessionGone
	}
	slog.Info("session identified", "sessionId", conn.ID(), "userId", user.ID)

	// Bound before the snapshot so no line persisted afterwards can be missed.
	lines, err := h.store.FindLines(ctx)
	if err != nil {
		h.broadcaster.Unbind(conn)
		return nil, nil, persistenceFailure(err)
	}
	if !h.broadcaster.IsLive(conn) {
		return nil, nil, errSessionGone
	}

	users := h.broadcaster.Roster()
	reply := domain.InitReply{User: user, Users: users, Lines: lines}
	return reply, &outbound{typ: domain.EventUsers, data: domain.UsersPayload{Users: users}}, nil
}

func (h *Handler) resolveUser(ctx context.Context, hint *domain.IdentityHint) (domain.User, error) {
	if hint != nil && hint.ID != "" {
		user, err := h.store.FindUser(ctx, hint.ID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, persistenceFailure(err)
		}
		slog.Info("unknown identity, generating a new user", "userId", hint.ID)
	}

	user, err := h.store.CreateUser(ctx, randomName(), randomColor())
	if err != nil {
		return domain.User{}, persistenceFailure(err)
	}
	slog.Info("new user", "userId", user.ID, "name", user.Name)
	return user, nil
}

func (h *Handler) createLine(ctx context.Context, user domain.User, msg domain.Message) (any, *outbound, error) {
	var req domain.CreateLineRequest
	if err := msg.Decode(&req); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if err := req.Line.Validate(); err != nil {
		return nil, nil, err
	}

	line, err := h.store.CreateLine(ctx, user.ID, req.Line)
	if err != nil {
		return nil, nil, persistenceFailure(err)
	}
	payload := domain.LinePayload{Line: &line}
	return payload, &outbound{typ: domain.EventLineCreated, data: payload}, nil
}

func (h *Handler) undo(ctx context.Context, user domain.User) (any, *outbound, error) {
	line, err := h.store.DeleteLatestLine(ctx, user.ID)
	if err != nil {
		return nil, nil, persistenceFailure(err)
	}
	payload := domain.LinePayload{Line: line}
	if line == nil {
		return payload, nil, nil
	}
	return payload, &outbound{typ: domain.EventLineRemoved, data: payload}, nil
}

func (h *Handler) clear(ctx context.Context, user domain.User) (any, *outbound, error) {
	if err := h.store.DeleteLinesByUser(ctx, user.ID); err != nil {
		return nil, nil, persistenceFailure(err)
	}
	return nil, &outbound{typ: domain.EventCleared, data: domain.ClearedPayload{UserID: user.ID}}, nil
}

func (h *Handler) clearAll(ctx context.Context) (any, *outbound, error) {
	if err := h.store.DeleteAllLines(ctx); err != nil {
		return nil, nil, persistenceFailure(err)
	}
	return nil, &outbound{typ: domain.EventClearedAll}, nil
}

func (h *Handler) selectColor(ctx context.Context, user domain.User, msg domain.Message) (any, *outbound, error) {
	var req domain.SelectColorRequest
	if err := msg.Decode(&req); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if !domain.ValidColor(req.Color) {
		return nil, nil, fmt.Errorf("%w: color %q", domain.ErrInvalidRequest, req.Color)
	}

	updated, err := h.store.UpdateUserColor(ctx, user.ID, req.Color)
	if err != nil {
		return nil, nil, persistenceFailure(err)
	}
	h.broadcaster.UpdateUser(updated)

	payload := domain.UserPayload{User: updated}
	return payload, &outbound{typ: domain.EventUser, data: payload}, nil
}

func (h *Handler) reply(conn domain.Connection, req domain.Message, data any) {
	msg, err := domain.NewMessage(req.ID, req.Type, data)
	if err != nil {
		slog.Warn("marshal error", "sessionId", conn.ID(), "error", err)
		return
	}
	h.write(conn, msg)
}

func (h *Handler) replyError(conn domain.Connection, req domain.Message, err error) {
	attrs := []any{"sessionId", conn.ID(), "type", req.Type, "requestId", req.ID, "error", err}
	if errors.Is(err, errPersistence) {
		slog.Error("request failed", attrs...)
	} else {
		slog.Warn("request rejected", attrs...)
	}
	h.write(conn, domain.Message{ID: req.ID, Type: req.Type, Error: publicMessage(err)})
}

func (h *Handler) write(conn domain.Connection, msg domain.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("marshal error", "sessionId", conn.ID(), "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		slog.Warn("send error", "sessionId", conn.ID(), "error", err)
	}
}

func (h *Handler) broadcast(sender domain.Connection, typ domain.EventType, data any) {
	msg, err := domain.NewMessage("", string(typ), data)
	if err != nil {
		slog.Warn("marshal error", "sessionId", sender.ID(), "error", err)
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("marshal error", "sessionId", sender.ID(), "error", err)
		return
	}
	h.broadcaster.Broadcast(sender, raw)
}
