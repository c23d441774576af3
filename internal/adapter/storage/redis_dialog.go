package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const dialogKeyPrefix = "lots:dialog:"

// DialogState is the pending step of a chat conversation, e.g. waiting for a quantity.
type DialogState struct {
	Step string
	Data string
}

// RedisDialogStore keeps per-chat dialog steps with a TTL so abandoned dialogs vanish.
type RedisDialogStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDialogStore(client *redis.Client, ttl time.Duration) *RedisDialogStore {
	return &RedisDialogStore{client: client, ttl: ttl}
}

func dialogKey(chatID int64) string {
	return dialogKeyPrefix + strconv.FormatInt(chatID, 10)
}

func (s *RedisDialogStore) Set(ctx context.Context, chatID int64, state DialogState) error {
	key := dialogKey(chatID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "step", state.Step, "data", state.Data)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set dialog state: %w", err)
	}
	return nil
}

// Get returns the chat's dialog state, the zero value when none is pending.
func (s *RedisDialogStore) Get(ctx context.Context, chatID int64) (DialogState, error) {
	fields, err := s.client.HGetAll(ctx, dialogKey(chatID)).Result()
	if errors.Is(err, redis.Nil) {
		return DialogState{}, nil
	}
	if err != nil {
		return DialogState{}, fmt.Errorf("get dialog state: %w", err)
	}
	return DialogState{Step: fields["step"], Data: fields["data"]}, nil
}

func (s *RedisDialogStore) Clear(ctx context.Context, chatID int64) error {
	if err := s.client.Del(ctx, dialogKey(chatID)).Err(); err != nil {
		return fmt.Errorf("clear dialog state: %w", err)
	}
	return nil
}
