package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/Alexandr23/shared-canvas/domain"
)

type memLine struct {
	line domain.Line
	seq  uint64
}

// Memory keeps everything in process. Lines are held in creation order.
type Memory struct {
	users map[string]domain.User
	lines []memLine
	seq   uint64
	ids   *idSource
	mu    sync.RWMutex
}

func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]domain.User),
		ids:   newIDSource(),
	}
}

func (m *Memory) CreateUser(ctx context.Context, name, color string) (domain.User, error) {
	u := domain.User{ID: m.ids.userID(), Name: name, Color: color, CreatedAt: m.ids.now()}

	m.mu.Lock()
	m.users[u.ID] = u
	m.mu.Unlock()
	return u, nil
}

func (m *Memory) FindUser(ctx context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	return u, nil
}

func (m *Memory) UpdateUserColor(ctx context.Context, id, color string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	u.Color = color
	m.users[id] = u
	return u, nil
}

func (m *Memory) CreateLine(ctx context.Context, userID string, draft domain.LineDraft) (domain.Line, error) {
	l := domain.Line{
		ID:     m.ids.lineID(),
		UserID: userID,
		Color:  draft.Color,
		Points: append([]domain.Point(nil), draft.Points...),
	}

	m.mu.Lock()
	l.CreatedAt = m.ids.now()
	m.seq++
	m.lines = append(m.lines, memLine{line: l, seq: m.seq})
	m.mu.Unlock()
	return l, nil
}

func (m *Memory) FindLines(ctx context.Context) ([]domain.Line, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Line, len(m.lines))
	for i, ml := range m.lines {
		out[i] = ml.line
	}
	return out, nil
}

func (m *Memory) DeleteLatestLine(ctx context.Context, userID string) (*domain.Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest := -1
	for i, ml := range m.lines {
		if ml.line.UserID != userID {
			continue
		}
		if latest < 0 || newer(ml, m.lines[latest]) {
			latest = i
		}
	}
	if latest < 0 {
		return nil, nil
	}

	l := m.lines[latest].line
	m.lines = append(m.lines[:latest:latest], m.lines[latest+1:]...)
	return &l, nil
}

func (m *Memory) DeleteLinesByUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make([]memLine, 0, len(m.lines))
	for _, ml := range m.lines {
		if ml.line.UserID != userID {
			kept = append(kept, ml)
		}
	}
	m.lines = kept
	return nil
}

func (m *Memory) DeleteAllLines(ctx context.Context) error {
	m.mu.Lock()
	m.lines = nil
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

func newer(a, b memLine) bool {
	if a.line.CreatedAt.Equal(b.line.CreatedAt) {
		return a.seq > b.seq
	}
	return a.line.CreatedAt.After(b.line.CreatedAt)
}
