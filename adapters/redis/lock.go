package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Locker 以 Redis 分散式鎖保護以 key 區分的臨界區段
// 多個服務實例同時處理同一個 Email 的首次登入時，用來將使用者建立流程序列化
type Locker struct {
	rs         *redsync.Redsync
	prefix     string
	expiry     time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
}

type LockerOption func(*Locker)

// WithLockerPrefix 設定鎖的 key 前綴
func WithLockerPrefix(prefix string) LockerOption {
	return func(l *Locker) {
		l.prefix = prefix
	}
}

// WithLockerExpiry 設定鎖的有效時間，臨界區段必須在這之內完成
func WithLockerExpiry(d time.Duration) LockerOption {
	return func(l *Locker) {
		l.expiry = d
	}
}

// WithLockerRetryDelay 設定鎖被占用時的重試間隔
func WithLockerRetryDelay(d time.Duration) LockerOption {
	return func(l *Locker) {
		l.retryDelay = d
	}
}

func WithLockerLogger(logger *slog.Logger) LockerOption {
	return func(l *Locker) {
		l.logger = logger
	}
}

func NewLocker(client redis.UniversalClient, opts ...LockerOption) *Locker {
	l := &Locker{
		rs:         redsync.New(goredis.NewPool(client)),
		prefix:     "lock:",
		expiry:     8 * time.Second,
		retryDelay: 100 * time.Millisecond,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock 取得 key 對應的鎖，被占用時重試直到 ctx 結束
// 回傳的 context 在鎖到期或呼叫 release 時取消
func (l *Locker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	const op = "Locker.Lock"
	mutex := l.rs.NewMutex(l.prefix+key, redsync.WithExpiry(l.expiry), redsync.WithTries(1))
	if err := l.acquire(ctx, mutex); err != nil {
		return nil, nil, fmt.Errorf("[%s] Fail to acquire lock, key=%s, err=%w", op, key, err)
	}

	lockCtx, cancel := context.WithDeadline(ctx, mutex.Until())
	release := func() {
		cancel()
		// 請求已經取消時仍然要釋放鎖
		unlockCtx, done := context.WithTimeout(context.WithoutCancel(ctx), l.expiry)
		defer done()
		if ok, err := mutex.UnlockContext(unlockCtx); err != nil || !ok {
			l.logger.Warn("Fail to release lock", slog.String("op", op), slog.String("key", key), slog.Any("error", err))
		}
	}
	return lockCtx, release, nil
}

// acquire 只在鎖被占用時重試，Redis 本身的錯誤直接回傳
func (l *Locker) acquire(ctx context.Context, mutex *redsync.Mutex) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := mutex.LockContext(ctx)
		if err == nil {
			return nil
		}
		var redisErr *redsync.RedisError
		if errors.As(err, &redisErr) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
}
