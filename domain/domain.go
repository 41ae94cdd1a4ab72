package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type RequestType string

const (
	RequestInit        RequestType = "Init"
	RequestCreateLine  RequestType = "CreateLine"
	RequestUndo        RequestType = "Undo"
	RequestClear       RequestType = "Clear"
	RequestClearAll    RequestType = "ClearAll"
	RequestSelectColor RequestType = "SelectColor"
)

type EventType string

const (
	EventUsers       EventType = "Users"
	EventUser        EventType = "User"
	EventLineCreated EventType = "LineCreated"
	EventLineRemoved EventType = "LineRemoved"
	EventCleared     EventType = "Cleared"
	EventClearedAll  EventType = "ClearedAll"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrRequestTimeout = errors.New("request timeout")
	ErrNotIdentified  = errors.New("session not identified")
	ErrInvalidRequest = errors.New("invalid request")
	ErrClosed         = errors.New("connection closed")
)

// Message is the single wire envelope. Requests and replies carry an ID,
// events never do.
type Message struct {
	ID    string          `json:"id,omitempty"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

func (m Message) IsEvent() bool { return m.ID == "" }

// Decode unmarshals the data payload into v. An absent payload leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// NewMessage builds an envelope with data encoded as JSON. A nil data yields no payload.
func NewMessage(id, typ string, data any) (Message, error) {
	msg := Message{ID: id, Type: typ}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	msg.Data = raw
	return msg, nil
}

// Point is in logical space. Pressure is nil for devices without pressure input.
type Point struct {
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Pressure *float64 `json:"pressure,omitempty"`
}

type LineDraft struct {
	Color  string  `json:"color"`
	Points []Point `json:"points"`
}

type Line struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Color     string    `json:"color"`
	Points    []Point   `json:"points"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// Request payloads.

type IdentityHint struct {
	ID string `json:"id"`
}

type InitRequest struct {
	User *IdentityHint `json:"user"`
}

type CreateLineRequest struct {
	Line LineDraft `json:"line"`
}

type SelectColorRequest struct {
	Color string `json:"color"`
}

// Reply and event payloads.

type InitReply struct {
	User  User   `json:"user"`
	Users []User `json:"users"`
	Lines []Line `json:"lines"`
}

type LinePayload struct {
	Line *Line `json:"line"`
}

type UserPayload struct {
	User User `json:"user"`
}

type UsersPayload struct {
	Users []User `json:"users"`
}

type ClearedPayload struct {
	UserID string `json:"userId"`
}

type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

type Broadcaster interface {
	Register(conn Connection)
	Unregister(conn Connection)
	Bind(conn Connection, user User) bool
	Unbind(conn Connection)
	UpdateUser(user User)
	IsLive(conn Connection) bool
	User(conn Connection) (User, bool)
	Roster() []User
	Broadcast(sender Connection, data []byte)
	Stats() (sessions, identified, users int)
}

type MessageHandler interface {
	Connected(conn Connection)
	Handle(conn Connection, data []byte)
	Disconnected(conn Connection)
}

// Store is the persistence collaborator. Implementations are safe for
// concurrent use.
type Store interface {
	CreateUser(ctx context.Context, name, color string) (User, error)
	FindUser(ctx context.Context, id string) (User, error)
	UpdateUserColor(ctx context.Context, id, color string) (User, error)
	CreateLine(ctx context.Context, userID string, draft LineDraft) (Line, error)
	FindLines(ctx context.Context) ([]Line, error)
	// DeleteLatestLine removes the most recently created line of userID.
	// It returns nil and no error when the user has no lines.
	DeleteLatestLine(ctx context.Context, userID string) (*Line, error)
	DeleteLinesByUser(ctx context.Context, userID string) error
	DeleteAllLines(ctx context.Context) error
	Close() error
}
