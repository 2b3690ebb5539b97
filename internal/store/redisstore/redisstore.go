package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/alan-ai/internal/oauth"
)

const (
	statePrefix = "oauth:state:"
	codePrefix  = "oauth:code:"
)

// Store keeps OAuth grant bookkeeping in Redis so it is shared between instances.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func NewFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) SaveState(ctx context.Context, state, userID string, ttl time.Duration) error {
	return s.rdb.Set(ctx, statePrefix+state, userID, ttl).Err()
}

func (s *Store) ConsumeState(ctx context.Context, state string) (string, error) {
	userID, err := s.rdb.GetDel(ctx, statePrefix+state).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", oauth.ErrUnknownState
		}
		return "", err
	}
	return userID, nil
}

func (s *Store) ClaimCode(ctx context.Context, code string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, codePrefix+oauth.CodeKey(code), time.Now().UnixMilli(), ttl).Result()
}

func (s *Store) ReleaseCode(ctx context.Context, code string) error {
	return s.rdb.Del(ctx, codePrefix+oauth.CodeKey(code)).Err()
}

var _ oauth.GrantStore = (*Store)(nil)
