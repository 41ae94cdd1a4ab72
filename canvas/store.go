// Package canvas holds the peer's authoritative view of the shared canvas.
//
// Every mutator swaps in a freshly built State; a State obtained from
// Snapshot or passed to a subscriber is never modified afterwards.
package canvas

import (
	"sync"
	"sync/atomic"

	"github.com/Alexandr23/shared-canvas/domain"
)

type State struct {
	Lines       []domain.Line
	Users       []domain.User
	CurrentUser *domain.User
}

func (s State) Line(id string) (domain.Line, bool) {
	for _, l := range s.Lines {
		if l.ID == id {
			return l, true
		}
	}
	return domain.Line{}, false
}

type Subscriber func(State)

type Store struct {
	state   atomic.Pointer[State]
	subs    map[uint64]Subscriber
	nextSub uint64
	mu      sync.Mutex // serializes writers and subscriber notification
}

func NewStore() *Store {
	s := &Store{subs: make(map[uint64]Subscriber)}
	s.state.Store(&State{Lines: []domain.Line{}, Users: []domain.User{}})
	return s
}

func (s *Store) Snapshot() State {
	return *s.state.Load()
}

// Subscribe calls fn with the new state after every mutation. fn runs while
// the store is locked and must not mutate the store.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// InitFromSnapshot replaces all state with the hub's Init reply.
func (s *Store) InitFromSnapshot(reply domain.InitReply) {
	user := reply.User
	s.update(func(State) State {
		return State{
			Lines:       append([]domain.Line{}, reply.Lines...),
			Users:       append([]domain.User{}, reply.Users...),
			CurrentUser: &user,
		}
	})
}

// AddLine appends l, or replaces a line already known under the same id.
func (s *Store) AddLine(l domain.Line) {
	s.update(func(cur State) State {
		lines := make([]domain.Line, 0, len(cur.Lines)+1)
		replaced := false
		for _, existing := range cur.Lines {
			if existing.ID == l.ID {
				existing, replaced = l, true
			}
			lines = append(lines, existing)
		}
		if !replaced {
			lines = append(lines, l)
		}
		cur.Lines = lines
		return cur
	})
}

func (s *Store) RemoveLine(id string) {
	s.removeLines(func(l domain.Line) bool { return l.ID == id })
}

func (s *Store) RemoveLinesByUser(userID string) {
	s.removeLines(func(l domain.Line) bool { return l.UserID == userID })
}

func (s *Store) RemoveAllLines() {
	s.update(func(cur State) State {
		cur.Lines = []domain.Line{}
		return cur
	})
}

// SetUser upserts u into the roster and refreshes the current user when it
// is the same identity.
func (s *Store) SetUser(u domain.User) {
	s.update(func(cur State) State {
		users := make([]domain.User, 0, len(cur.Users)+1)
		found := false
		for _, existing := range cur.Users {
			if existing.ID == u.ID {
				existing, found = u, true
			}
			users = append(users, existing)
		}
		if !found {
			users = append(users, u)
		}
		cur.Users = users
		cur.CurrentUser = refreshCurrent(cur.CurrentUser, u)
		return cur
	})
}

// SetUsers replaces the roster.
func (s *Store) SetUsers(users []domain.User) {
	s.update(func(cur State) State {
		cur.Users = append([]domain.User{}, users...)
		for _, u := range users {
			cur.CurrentUser = refreshCurrent(cur.CurrentUser, u)
		}
		return cur
	})
}

func (s *Store) removeLines(match func(domain.Line) bool) {
	s.update(func(cur State) State {
		lines := make([]domain.Line, 0, len(cur.Lines))
		for _, l := range cur.Lines {
			if !match(l) {
				lines = append(lines, l)
			}
		}
		cur.Lines = lines
		return cur
	})
}

func (s *Store) update(f func(State) State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := f(*s.state.Load())
	s.state.Store(&next)
	for _, fn := range s.subs {
		fn(next)
	}
}

func refreshCurrent(current *domain.User, u domain.User) *domain.User {
	if current == nil || current.ID != u.ID {
		return current
	}
	return &u
}
