// Package redis keeps the run journal in Redis. Each record is a JSON value
// under its own key with a TTL, indexed by creation time in a sorted set.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tjfontaine/insight-gateway/internal/storage"
)

const (
	defaultTTL    = 24 * time.Hour
	defaultPrefix = "insight"
)

type Store struct {
	client   *goredis.Client
	ttl      time.Duration
	prefix   string
	addr     string
	db       int
	password string
	now      func() time.Time
}

var _ storage.RunJournal = (*Store)(nil)

type Option func(*Store)

func WithPassword(password string) Option {
	return func(s *Store) {
		s.password = password
	}
}

func WithDB(db int) Option {
	return func(s *Store) {
		s.db = db
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = strings.TrimSpace(prefix)
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.client = client
		}
	}
}

// New connects to addr and verifies the connection with a PING.
func New(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	s := &Store{
		ttl:    defaultTTL,
		prefix: defaultPrefix,
		addr:   addr,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}

	if err := s.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return s, nil
}

func (s *Store) SaveRun(ctx context.Context, rec *storage.RunRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("run record id is required")
	}
	storage.Touch(rec, s.now().UTC())

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	// Entries older than the TTL have expired values; drop their index slots.
	cutoff := rec.UpdatedAt.Add(-s.ttl).UnixNano()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.runKey(rec.ID), raw, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), goredis.Z{
		Score:  float64(rec.CreatedAt.UnixNano()),
		Member: rec.ID,
	})
	pipe.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("(%d", cutoff))
	pipe.Expire(ctx, s.indexKey(), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save run in redis: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*storage.RunRecord, error) {
	raw, err := s.client.Get(ctx, s.runKey(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run from redis: %w", err)
	}

	var rec storage.RunRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode run from redis: %w", err)
	}
	return &rec, nil
}

func (s *Store) ListRuns(ctx context.Context, opts storage.ListOptions) ([]*storage.RunRecord, error) {
	limit := opts.EffectiveLimit()

	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list run ids: %w", err)
	}
	if len(ids) == 0 {
		return []*storage.RunRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.runKey(id)
	}

	loaded, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to mget runs from redis: %w", err)
	}

	out := make([]*storage.RunRecord, 0, len(loaded))
	for _, v := range loaded {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec storage.RunRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) runKey(id string) string {
	return s.prefix + ":run:" + id
}

func (s *Store) indexKey() string {
	return s.prefix + ":runs"
}
