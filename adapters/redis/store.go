package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"googlesso/adapters/session"
)

// Store 將整個 session 以 msgpack 編碼後存成單一 Redis 字串
// 寫入與設定過期時間由同一個 SET 完成
type Store struct {
	client redis.UniversalClient
	prefix string
}

type StoreOption func(*Store)

// WithStorePrefix 設定 Store 的 key 前綴
func WithStorePrefix(prefix string) StoreOption {
	return func(s *Store) {
		s.prefix = prefix
	}
}

func NewStore(client redis.UniversalClient, opts ...StoreOption) session.IStore {
	s := &Store{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Load(ctx context.Context, name string) (map[string]string, error) {
	const op = "redis.Store.Load"
	raw, err := s.client.Get(ctx, s.prefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get session: %w", op, err)
	}
	data := make(map[string]string)
	if err := msgpack.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%s: failed to decode session: %w", op, err)
	}
	return data, nil
}

// Save 覆寫整個 session，沒有資料時直接刪除
// ttl 為 0 時不會過期
func (s *Store) Save(ctx context.Context, name string, data map[string]string, ttl time.Duration) error {
	const op = "redis.Store.Save"
	if len(data) == 0 {
		return s.Delete(ctx, name)
	}
	raw, err := encodeSession(data)
	if err != nil {
		return fmt.Errorf("%s: failed to encode session: %w", op, err)
	}
	if err := s.client.Set(ctx, s.prefix+name, raw, max(ttl, 0)).Err(); err != nil {
		return fmt.Errorf("%s: failed to set session: %w", op, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	const op = "redis.Store.Delete"
	if err := s.client.Del(ctx, s.prefix+name).Err(); err != nil {
		return fmt.Errorf("%s: failed to delete session: %w", op, err)
	}
	return nil
}

// encodeSession 以排序後的 key 編碼，相同的資料會得到相同的內容
func encodeSession(data map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
