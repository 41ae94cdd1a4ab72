package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alexandr23/shared-canvas/config"
	"github.com/Alexandr23/shared-canvas/domain"
)

type stepClock struct {
	t  time.Time
	mu sync.Mutex
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func withClock(ids *idSource) {
	c := &stepClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	ids.clock = c.now
}

type backend struct {
	name string
	open func(t *testing.T) domain.Store
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(t *testing.T) domain.Store {
			m := NewMemory()
			withClock(m.ids)
			return m
		}},
		{name: "sqlite", open: func(t *testing.T) domain.Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "canvas.sqlite3"))
			require.NoError(t, err)
			withClock(s.ids)
			t.Cleanup(func() { s.Close() })
			return s
		}},
		{name: "redis", open: func(t *testing.T) domain.Store {
			mr := miniredis.RunT(t)
			r := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
			withClock(r.ids)
			t.Cleanup(func() { r.Close() })
			return r
		}},
	}
}

func draft(color string, xs ...float64) domain.LineDraft {
	d := domain.LineDraft{Color: color}
	for _, x := range xs {
		d.Points = append(d.Points, domain.Point{X: x, Y: x})
	}
	return d
}

func lineIDs(lines []domain.Line) []string {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ID
	}
	return ids
}

func TestStore_Users(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			u, err := s.CreateUser(ctx, "Zayac Petrovic", "#123456")
			require.NoError(t, err)
			assert.NotEmpty(t, u.ID)

			found, err := s.FindUser(ctx, u.ID)
			require.NoError(t, err)
			assert.Equal(t, u.Name, found.Name)
			assert.Equal(t, u.Color, found.Color)
			assert.True(t, u.CreatedAt.Equal(found.CreatedAt))

			updated, err := s.UpdateUserColor(ctx, u.ID, "#abcdef")
			require.NoError(t, err)
			assert.Equal(t, "#abcdef", updated.Color)
			assert.Equal(t, u.Name, updated.Name)

			_, err = s.FindUser(ctx, "missing")
			assert.True(t, errors.Is(err, domain.ErrNotFound))

			_, err = s.UpdateUserColor(ctx, "missing", "#000000")
			assert.True(t, errors.Is(err, domain.ErrNotFound))
		})
	}
}

func TestStore_CreateAndFindLines(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			lines, err := s.FindLines(ctx)
			require.NoError(t, err)
			assert.Empty(t, lines)

			pressure := 0.25
			d := domain.LineDraft{Color: "#ff0000", Points: []domain.Point{{X: 1, Y: 2, Pressure: &pressure}, {X: 3, Y: 4}}}
			l1, err := s.CreateLine(ctx, "a", d)
			require.NoError(t, err)
			l2, err := s.CreateLine(ctx, "b", draft("#00ff00", 5))
			require.NoError(t, err)

			assert.NotEqual(t, l1.ID, l2.ID)
			assert.Equal(t, "a", l1.UserID)

			lines, err = s.FindLines(ctx)
			require.NoError(t, err)
			require.Len(t, lines, 2)
			assert.Equal(t, []string{l1.ID, l2.ID}, lineIDs(lines))
			assert.Equal(t, d.Points, lines[0].Points)
			assert.Equal(t, "#ff0000", lines[0].Color)
		})
	}
}

func TestStore_UndoOrder(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			var created []domain.Line
			for i := 0; i < 3; i++ {
				l, err := s.CreateLine(ctx, "a", draft("#000000", float64(i)))
				require.NoError(t, err)
				created = append(created, l)
				_, err = s.CreateLine(ctx, "b", draft("#ffffff", float64(i)))
				require.NoError(t, err)
			}

			for i := 2; i >= 0; i-- {
				removed, err := s.DeleteLatestLine(ctx, "a")
				require.NoError(t, err)
				require.NotNil(t, removed)
				assert.Equal(t, created[i].ID, removed.ID)
				assert.Equal(t, "a", removed.UserID)
			}

			removed, err := s.DeleteLatestLine(ctx, "a")
			require.NoError(t, err)
			assert.Nil(t, removed)

			lines, err := s.FindLines(ctx)
			require.NoError(t, err)
			assert.Len(t, lines, 3)
		})
	}
}

func TestStore_DeleteByUserAndAll(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			for i := 0; i < 3; i++ {
				_, err := s.CreateLine(ctx, "a", draft("#000000", float64(i)))
				require.NoError(t, err)
			}
			kept, err := s.CreateLine(ctx, "b", draft("#ffffff", 9))
			require.NoError(t, err)

			require.NoError(t, s.DeleteLinesByUser(ctx, "a"))
			lines, err := s.FindLines(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{kept.ID}, lineIDs(lines))

			removed, err := s.DeleteLatestLine(ctx, "a")
			require.NoError(t, err)
			assert.Nil(t, removed)

			require.NoError(t, s.DeleteLinesByUser(ctx, "nobody"))

			_, err = s.CreateLine(ctx, "a", draft("#000000", 1))
			require.NoError(t, err)
			require.NoError(t, s.DeleteAllLines(ctx))
			lines, err = s.FindLines(ctx)
			require.NoError(t, err)
			assert.Empty(t, lines)

			removed, err = s.DeleteLatestLine(ctx, "b")
			require.NoError(t, err)
			assert.Nil(t, removed)
		})
	}
}

func TestStore_ConcurrentUndo(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			const n = 10
			for i := 0; i < n; i++ {
				_, err := s.CreateLine(ctx, "a", draft("#000000", float64(i)))
				require.NoError(t, err)
			}

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				seen = map[string]bool{}
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					l, err := s.DeleteLatestLine(ctx, "a")
					assert.NoError(t, err)
					if l == nil {
						return
					}
					mu.Lock()
					assert.False(t, seen[l.ID], "line %s undone twice", l.ID)
					seen[l.ID] = true
					mu.Unlock()
				}()
			}
			wg.Wait()

			assert.Len(t, seen, n)
		})
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), config.Config{Store: config.StoreMemory})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(context.Background(), config.Config{Store: config.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	require.NoError(t, s.Close())

	mr := miniredis.RunT(t)
	s, err = Open(context.Background(), config.Config{Store: config.StoreRedis, RedisURL: "redis://" + mr.Addr() + "/0"})
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, s)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), config.Config{Store: "mongo"})
	assert.Error(t, err)
}
