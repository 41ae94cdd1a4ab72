package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Alexandr23/shared-canvas/domain"
)

const (
	redisSeqKey   = "canvas:seq"
	redisLinesKey = "canvas:lines"
)

func redisUserKey(id string) string      { return "canvas:user:" + id }
func redisUserLinesKey(id string) string { return "canvas:user:" + id + ":lines" }
func redisLineKey(id string) string      { return "canvas:line:" + id }

// Redis keeps users as hashes and lines as JSON strings indexed by two sorted
// sets (all lines, lines per user) scored by a monotonically increasing
// creation sequence.
type Redis struct {
	client *redis.Client
	ids    *idSource
}

func OpenRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	slog.Info("redis store ready", "addr", opts.Addr)
	return NewRedis(client), nil
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, ids: newIDSource()}
}

func (r *Redis) CreateUser(ctx context.Context, name, color string) (domain.User, error) {
	u := domain.User{ID: r.ids.userID(), Name: name, Color: color, CreatedAt: r.ids.now()}
	if err := r.client.HSet(ctx, redisUserKey(u.ID),
		"name", u.Name,
		"color", u.Color,
		"createdAt", u.CreatedAt.UnixNano(),
	).Err(); err != nil {
		return domain.User{}, fmt.Errorf("failed to store user: %w", err)
	}
	return u, nil
}

func (r *Redis) FindUser(ctx context.Context, id string) (domain.User, error) {
	fields, err := r.client.HGetAll(ctx, redisUserKey(id)).Result()
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to load user: %w", err)
	}
	if len(fields) == 0 {
		return domain.User{}, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	created, _ := strconv.ParseInt(fields["createdAt"], 10, 64)
	return domain.User{
		ID:        id,
		Name:      fields["name"],
		Color:     fields["color"],
		CreatedAt: time.Unix(0, created).UTC(),
	}, nil
}

func (r *Redis) UpdateUserColor(ctx context.Context, id, color string) (domain.User, error) {
	if _, err := r.FindUser(ctx, id); err != nil {
		return domain.User{}, err
	}
	if err := r.client.HSet(ctx, redisUserKey(id), "color", color).Err(); err != nil {
		return domain.User{}, fmt.Errorf("failed to update user: %w", err)
	}
	return r.FindUser(ctx, id)
}

func (r *Redis) CreateLine(ctx context.Context, userID string, draft domain.LineDraft) (domain.Line, error) {
	seq, err := r.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return domain.Line{}, fmt.Errorf("failed to allocate sequence: %w", err)
	}
	l := domain.Line{
		ID:        r.ids.lineID(),
		UserID:    userID,
		Color:     draft.Color,
		Points:    draft.Points,
		CreatedAt: r.ids.now(),
	}
	raw, err := json.Marshal(l)
	if err != nil {
		return domain.Line{}, fmt.Errorf("failed to encode line: %w", err)
	}

	score := float64(seq)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisLineKey(l.ID), raw, 0)
	pipe.ZAdd(ctx, redisLinesKey, &redis.Z{Score: score, Member: l.ID})
	pipe.ZAdd(ctx, redisUserLinesKey(userID), &redis.Z{Score: score, Member: l.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Line{}, fmt.Errorf("failed to store line: %w", err)
	}
	return l, nil
}

func (r *Redis) FindLines(ctx context.Context) ([]domain.Line, error) {
	ids, err := r.client.ZRange(ctx, redisLinesKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list lines: %w", err)
	}
	lines := []domain.Line{}
	if len(ids) == 0 {
		return lines, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisLineKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load lines: %w", err)
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			slog.Warn("dangling line index entry", "lineId", ids[i])
			continue
		}
		var l domain.Line
		if err := json.Unmarshal([]byte(s), &l); err != nil {
			return nil, fmt.Errorf("failed to decode line %s: %w", ids[i], err)
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// undoLatest pops the highest-scored id from a user index and deletes the
// line with it in one step. KEYS: user index, all-lines index. ARGV: line key
// prefix. Returns {id, json}, json being empty for a dangling entry.
var undoLatest = redis.NewScript(`
local ids = redis.call('ZREVRANGE', KEYS[1], 0, 0)
if #ids == 0 then
  return false
end
local id = ids[1]
local raw = redis.call('GET', ARGV[1] .. id)
redis.call('DEL', ARGV[1] .. id)
redis.call('ZREM', KEYS[1], id)
redis.call('ZREM', KEYS[2], id)
return {id, raw or ''}
`)

func (r *Redis) DeleteLatestLine(ctx context.Context, userID string) (*domain.Line, error) {
	for {
		res, err := undoLatest.Run(ctx, r.client,
			[]string{redisUserLinesKey(userID), redisLinesKey}, redisLineKey("")).Slice()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to delete latest line: %w", err)
		}
		if len(res) != 2 {
			return nil, fmt.Errorf("failed to delete latest line: unexpected reply %v", res)
		}
		id, _ := res[0].(string)
		raw, _ := res[1].(string)
		if raw == "" {
			slog.Warn("dangling line index entry", "lineId", id)
			continue
		}

		var l domain.Line
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return nil, fmt.Errorf("failed to decode line %s: %w", id, err)
		}
		return &l, nil
	}
}

func (r *Redis) DeleteLinesByUser(ctx context.Context, userID string) error {
	ids, err := r.client.ZRange(ctx, redisUserLinesKey(userID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list lines of %s: %w", userID, err)
	}
	if len(ids) == 0 {
		return nil
	}
	return r.deleteLines(ctx, ids, redisUserLinesKey(userID))
}

func (r *Redis) DeleteAllLines(ctx context.Context) error {
	ids, err := r.client.ZRange(ctx, redisLinesKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list lines: %w", err)
	}
	userIndexes, err := r.userLineIndexes(ctx)
	if err != nil {
		return err
	}
	return r.deleteLines(ctx, ids, userIndexes...)
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// deleteLines removes exactly ids from the line store and from every given
// index, so entries added after ids were listed survive.
func (r *Redis) deleteLines(ctx context.Context, ids []string, indexes ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = redisLineKey(id)
		members[i] = id
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, redisLinesKey, members...)
	for _, index := range indexes {
		pipe.ZRem(ctx, index, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete lines: %w", err)
	}
	return nil
}

func (r *Redis) userLineIndexes(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, "canvas:user:*:lines", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan user indexes: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
