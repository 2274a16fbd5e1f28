package redis

import (
	"io"
	"log/slog"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func init() {
	// 釋放鎖失敗的警告不輸出
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// newMockClient 回傳 redismock 的 client，cleanup 會檢查所有預期的指令都已執行
func newMockClient(t *testing.T) (*redis.Client, redismock.ClientMock, func()) {
	client, mock := redismock.NewClientMock()
	return client, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		client.Close()
	}
}
