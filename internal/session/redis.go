package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hsa-planner/internal/model"
)

const keyPrefix = "hsaplan:session:"

// RedisStore keeps records in Redis. Save uses WATCH/MULTI so two writers
// racing on the same revision cannot both succeed.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects using a redis:// URL. ttl of zero keeps records
// until they are deleted.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts), ttl: ttl}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) key(sessionID string) string {
	return keyPrefix + sessionID
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Load(ctx context.Context, sessionID string) (model.ConversationState, error) {
	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.ConversationState{}, ErrSessionNotFound
	}
	if err != nil {
		return model.ConversationState{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return Decode(data)
}

func (r *RedisStore) Save(ctx context.Context, state model.ConversationState, expected uint64) error {
	data, err := Encode(state)
	if err != nil {
		return err
	}
	key := r.key(state.SessionID)

	txf := func(tx *redis.Tx) error {
		var actual uint64
		cur, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			st, err := Decode(cur)
			if err != nil {
				return err
			}
			actual = st.Revision
		}
		if actual != expected {
			return &ConflictError{SessionID: state.SessionID, Expected: expected, Actual: actual}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		return err
	}

	err = r.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		conflict := &ConflictError{SessionID: state.SessionID, Expected: expected}
		if cur, lerr := r.Load(ctx, state.SessionID); lerr == nil {
			conflict.Actual = cur.Revision
		}
		return conflict
	}
	if err != nil && !errors.Is(err, ErrSessionConflict) {
		return fmt.Errorf("save session %s: %w", state.SessionID, err)
	}
	return err
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
