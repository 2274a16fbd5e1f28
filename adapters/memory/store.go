package memory

import (
	"context"
	"maps"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"googlesso/adapters/session"
)

// Store 是以程序記憶體保存 session 的 IStore，適用於單機部署與開發環境
type Store struct {
	c *gocache.Cache
}

func NewStore(defaultTTL time.Duration) session.IStore {
	return &Store{c: gocache.New(defaultTTL, time.Minute)}
}

func (s *Store) Load(ctx context.Context, name string) (map[string]string, error) {
	v, ok := s.c.Get(name)
	if !ok {
		return map[string]string{}, nil
	}
	data, _ := v.(map[string]string)
	return maps.Clone(data), nil
}

func (s *Store) Save(ctx context.Context, name string, data map[string]string, ttl time.Duration) error {
	if len(data) == 0 {
		s.c.Delete(name)
		return nil
	}
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	s.c.Set(name, maps.Clone(data), ttl)
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	s.c.Delete(name)
	return nil
}
