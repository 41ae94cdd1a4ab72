package client

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alexandr23/shared-canvas/canvas"
	"github.com/Alexandr23/shared-canvas/domain"
	"github.com/Alexandr23/shared-canvas/hub"
	"github.com/Alexandr23/shared-canvas/protocol"
	"github.com/Alexandr23/shared-canvas/server"
	"github.com/Alexandr23/shared-canvas/storage"
)

func newHub(t *testing.T) string {
	b := hub.New()
	srv := httptest.NewServer(server.NewRouter(b, protocol.NewHandler(b, storage.NewMemory()), ""))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func connect(t *testing.T, url string, opts ...PeerOption) (*Peer, domain.User) {
	t.Helper()
	p := NewPeer(url, opts...)
	t.Cleanup(func() { p.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	user, err := p.Connect(ctx)
	require.NoError(t, err)
	return p, user
}

func stroke(color string, xs ...float64) domain.LineDraft {
	d := domain.LineDraft{Color: color}
	for _, x := range xs {
		d.Points = append(d.Points, domain.Point{X: x, Y: x})
	}
	return d
}

func userIDs(s canvas.State) []string {
	ids := make([]string, len(s.Users))
	for i, u := range s.Users {
		ids[i] = u.ID
	}
	return ids
}

func lineIDs(s canvas.State) []string {
	ids := make([]string, len(s.Lines))
	for i, l := range s.Lines {
		ids[i] = l.ID
	}
	return ids
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	assert.Eventually(t, cond, 2*time.Second, 10*time.Millisecond, msg)
}

func TestPeer_EndToEndScenario(t *testing.T) {
	url := newHub(t)
	ctx := context.Background()

	p1, u1 := connect(t, url)
	snap := p1.Store().Snapshot()
	assert.Equal(t, []string{u1.ID}, userIDs(snap))
	assert.Empty(t, snap.Lines)
	require.NotNil(t, snap.CurrentUser)
	assert.Equal(t, u1.ID, snap.CurrentUser.ID)

	p2, u2 := connect(t, url)
	assert.Equal(t, []string{u1.ID, u2.ID}, userIDs(p2.Store().Snapshot()))
	eventually(t, func() bool { return len(p1.Store().Snapshot().Users) == 2 }, "peer1 sees peer2 join")

	line, err := p1.CreateLine(ctx, stroke("#ff0000", 1, 2, 3))
	require.NoError(t, err)
	assert.NotEmpty(t, line.ID)
	assert.Equal(t, u1.ID, line.UserID)
	assert.Equal(t, []string{line.ID}, lineIDs(p1.Store().Snapshot()))

	eventually(t, func() bool {
		got, ok := p2.Store().Snapshot().Line(line.ID)
		return ok && got.Color == "#ff0000" && len(got.Points) == 3
	}, "peer2 receives LineCreated")

	require.NoError(t, p1.ClearAll(ctx))
	assert.Empty(t, p1.Store().Snapshot().Lines)
	eventually(t, func() bool { return len(p2.Store().Snapshot().Lines) == 0 }, "peer2 sees ClearedAll")
}

func TestPeer_NoSelfEcho(t *testing.T) {
	url := newHub(t)
	ctx := context.Background()
	p1, _ := connect(t, url)
	p2, u2 := connect(t, url)
	eventually(t, func() bool { return len(p1.Store().Snapshot().Users) == 2 }, "peer1 sees peer2 join")

	var mutations atomic.Int32
	unsubscribe := p1.Store().Subscribe(func(canvas.State) { mutations.Add(1) })
	defer unsubscribe()

	line, err := p1.CreateLine(ctx, stroke("#00ff00", 5))
	require.NoError(t, err)
	eventually(t, func() bool { _, ok := p2.Store().Snapshot().Line(line.ID); return ok }, "peer2 receives line")

	// Any echo of the line would reach peer1 ahead of peer2's color event.
	_, err = p2.SelectColor(ctx, "#123456")
	require.NoError(t, err)
	eventually(t, func() bool {
		for _, u := range p1.Store().Snapshot().Users {
			if u.ID == u2.ID {
				return u.Color == "#123456"
			}
		}
		return false
	}, "peer1 sees peer2's color")

	assert.Equal(t, int32(2), mutations.Load(), "one line add plus one user update")
	assert.Len(t, p1.Store().Snapshot().Lines, 1)
}

func TestPeer_OwnershipOperations(t *testing.T) {
	url := newHub(t)
	ctx := context.Background()
	a, ua := connect(t, url)
	b, ub := connect(t, url)

	a1, err := a.CreateLine(ctx, stroke("#111111", 1))
	require.NoError(t, err)
	b1, err := b.CreateLine(ctx, stroke("#222222", 2))
	require.NoError(t, err)
	a2, err := a.CreateLine(ctx, stroke("#111111", 3))
	require.NoError(t, err)

	eventually(t, func() bool { return len(a.Store().Snapshot().Lines) == 3 }, "a sees all lines")
	eventually(t, func() bool { return len(b.Store().Snapshot().Lines) == 3 }, "b sees all lines")

	removed, err := a.Undo(ctx)
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, a2.ID, removed.ID)
	eventually(t, func() bool { _, ok := b.Store().Snapshot().Line(a2.ID); return !ok }, "b sees undo")

	require.NoError(t, a.Clear(ctx))
	assert.Equal(t, []string{b1.ID}, lineIDs(a.Store().Snapshot()))
	eventually(t, func() bool {
		_, ok := b.Store().Snapshot().Line(a1.ID)
		return !ok && len(b.Store().Snapshot().Lines) == 1
	}, "b keeps only its own line")

	removed, err = a.Undo(ctx)
	require.NoError(t, err)
	assert.Nil(t, removed)

	user, err := b.SelectColor(ctx, "#abcdef")
	require.NoError(t, err)
	assert.Equal(t, ub.ID, user.ID)
	assert.Equal(t, "#abcdef", b.Store().Snapshot().CurrentUser.Color)
	eventually(t, func() bool {
		for _, u := range a.Store().Snapshot().Users {
			if u.ID == ub.ID {
				return u.Color == "#abcdef"
			}
		}
		return false
	}, "a sees b's new color")
	assert.Equal(t, ua.ID, a.Store().Snapshot().CurrentUser.ID)
}

func TestPeer_ResumesIdentityAndResyncs(t *testing.T) {
	url := newHub(t)
	ctx := context.Background()
	identity := NewFileIdentity(filepath.Join(t.TempDir(), "peer", "identity"))

	p, first := connect(t, url, WithIdentity(identity))
	line, err := p.CreateLine(ctx, stroke("#333333", 1))
	require.NoError(t, err)
	require.NoError(t, p.Close())

	other, _ := connect(t, url)
	drawnWhileAway, err := other.CreateLine(ctx, stroke("#444444", 2))
	require.NoError(t, err)

	again, err := p.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.ElementsMatch(t, []string{line.ID, drawnWhileAway.ID}, lineIDs(p.Store().Snapshot()))

	removed, err := p.Undo(ctx)
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, line.ID, removed.ID, "resumed identity still owns its strokes")
}

func TestPeer_RequiresConnection(t *testing.T) {
	p := NewPeer("ws://127.0.0.1:1/ws")
	ctx := context.Background()

	_, err := p.CreateLine(ctx, stroke("#000000", 1))
	assert.ErrorIs(t, err, domain.ErrNotIdentified)
	assert.ErrorIs(t, p.Clear(ctx), domain.ErrNotIdentified)

	_, err = p.CreateLine(ctx, stroke("red", 1))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = p.SelectColor(ctx, "red")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_, err = p.Connect(ctx)
	assert.Error(t, err)
	assertClosed(t, p.Done())
}

func assertClosed(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestPeer_DoneAfterClose(t *testing.T) {
	url := newHub(t)
	assertClosed(t, NewPeer(url).Done())

	p, _ := connect(t, url)
	done := p.Done()
	select {
	case <-done:
		t.Fatal("connected peer reports done")
	default:
	}

	p.Close()
	assertClosed(t, done)
	assertClosed(t, p.Done())
}

func TestPeer_RunStopsWithContext(t *testing.T) {
	url := newHub(t)
	p := NewPeer(url)

	ready := make(chan domain.User, 1)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx, func(u domain.User) { ready <- u }) }()

	select {
	case u := <-ready:
		assert.NotEmpty(t, u.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("peer never became ready")
	}

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestPeer_BacklogReplayedOverSnapshot(t *testing.T) {
	p := NewPeer("ws://unused")
	c := &connection{}
	p.cur = c

	known := domain.Line{ID: "l1", UserID: "u2", Color: "#000000", Points: []domain.Point{{X: 1, Y: 1}}}
	late := domain.Line{ID: "l2", UserID: "u2", Color: "#000000", Points: []domain.Point{{X: 2, Y: 2}}}

	for _, ev := range []struct {
		typ  domain.EventType
		data any
	}{
		{domain.EventLineCreated, domain.LinePayload{Line: &known}},
		{domain.EventLineCreated, domain.LinePayload{Line: &late}},
		{domain.EventLineRemoved, domain.LinePayload{Line: &known}},
	} {
		msg, err := domain.NewMessage("", string(ev.typ), ev.data)
		require.NoError(t, err)
		p.onEvent(c, msg)
	}
	assert.Empty(t, p.Store().Snapshot().Lines, "nothing applied before Init")

	require.NoError(t, p.seed(c, domain.InitReply{
		User:  domain.User{ID: "u1"},
		Users: []domain.User{{ID: "u1"}, {ID: "u2"}},
		Lines: []domain.Line{known},
	}))
	assert.Equal(t, []string{"l2"}, lineIDs(p.Store().Snapshot()))

	stale := &connection{}
	msg, err := domain.NewMessage("", string(domain.EventClearedAll), nil)
	require.NoError(t, err)
	p.onEvent(stale, msg)
	assert.Len(t, p.Store().Snapshot().Lines, 1, "events from a replaced connection are ignored")
	assert.ErrorIs(t, p.seed(stale, domain.InitReply{}), domain.ErrClosed)
}

func TestFileIdentity(t *testing.T) {
	id := NewFileIdentity(filepath.Join(t.TempDir(), "nested", "id"))

	got, err := id.Load()
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, id.Save("user-1"))
	got, err = id.Load()
	require.NoError(t, err)
	assert.Equal(t, "user-1", got)
}
