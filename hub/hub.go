package hub

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"

	"github.com/Alexandr23/shared-canvas/domain"
)

type session struct {
	conn  domain.Connection
	user  *domain.User
	order uint64 // bind order, used to keep the roster stable
}

// Hub tracks live sessions and the users bound to them.
type Hub struct {
	sessions  map[string]*session
	nextOrder uint64
	mu        sync.RWMutex
}

func New() *Hub {
	return &Hub{
		sessions: make(map[string]*session),
	}
}

func (h *Hub) Register(conn domain.Connection) {
	h.mu.Lock()
	h.sessions[conn.ID()] = &session{conn: conn}
	count := len(h.sessions)
	h.mu.Unlock()

	slog.Info("session connected", "sessionId", conn.ID(), "sessions", count)
}

func (h *Hub) Unregister(conn domain.Connection) {
	h.mu.Lock()
	s, exists := h.sessions[conn.ID()]
	if exists {
		delete(h.sessions, conn.ID())
	}
	count := len(h.sessions)
	h.mu.Unlock()

	if !exists {
		return
	}
	attrs := []any{"sessionId", conn.ID(), "sessions", count}
	if s.user != nil {
		attrs = append(attrs, "userId", s.user.ID)
	}
	slog.Info("session disconnected", attrs...)
}

// Bind attaches user to a live session. It reports false when the session
// has already gone away.
func (h *Hub) Bind(conn domain.Connection, user domain.User) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, exists := h.sessions[conn.ID()]
	if !exists {
		return false
	}
	h.nextOrder++
	s.user = &user
	s.order = h.nextOrder
	return true
}

// Unbind returns a session to the unidentified state. The session stays
// registered.
func (h *Hub) Unbind(conn domain.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, exists := h.sessions[conn.ID()]; exists {
		s.user = nil
		s.order = 0
	}
}

// UpdateUser refreshes the user carried by every session bound to user.ID.
func (h *Hub) UpdateUser(user domain.User) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.sessions {
		if s.user != nil && s.user.ID == user.ID {
			u := user
			s.user = &u
		}
	}
}

func (h *Hub) IsLive(conn domain.Connection) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, exists := h.sessions[conn.ID()]
	return exists
}

func (h *Hub) User(conn domain.Connection) (domain.User, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, exists := h.sessions[conn.ID()]
	if !exists || s.user == nil {
		return domain.User{}, false
	}
	return *s.user, true
}

// Roster lists the online users in the order they first identified. A user
// with several sessions appears once.
func (h *Hub) Roster() []domain.User {
	h.mu.RLock()
	bound := make([]session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.user != nil {
			bound = append(bound, session{user: s.user, order: s.order})
		}
	}
	h.mu.RUnlock()

	sortByOrder(bound)

	users := make([]domain.User, 0, len(bound))
	seen := make(map[string]bool, len(bound))
	for _, s := range bound {
		if seen[s.user.ID] {
			continue
		}
		seen[s.user.ID] = true
		users = append(users, *s.user)
	}
	return users
}

// Broadcast sends data to every identified session except sender.
func (h *Hub) Broadcast(sender domain.Connection, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, s := range h.sessions {
		if id == sender.ID() || s.user == nil {
			continue
		}
		if err := s.conn.Send(data); err != nil {
			slog.Warn("dropping slow session", "sessionId", id, "error", err)
			go func(c domain.Connection) {
				c.Close()
			}(s.conn)
		}
	}
}

func (h *Hub) Stats() (sessions, identified, users int) {
	h.mu.RLock()
	sessions = len(h.sessions)
	for _, s := range h.sessions {
		if s.user != nil {
			identified++
		}
	}
	h.mu.RUnlock()

	return sessions, identified, len(h.Roster())
}

func sortByOrder(sessions []session) {
	slices.SortFunc(sessions, func(a, b session) int {
		return cmp.Compare(a.order, b.order)
	})
}
