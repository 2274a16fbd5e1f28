package session

import (
	"encoding/base64"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const SESSION_KEY_MESSAGES = "_messages"

type MessageLevel string

const (
	LevelDebug   MessageLevel = "debug"
	LevelInfo    MessageLevel = "info"
	LevelSuccess MessageLevel = "success"
	LevelWarning MessageLevel = "warning"
	LevelError   MessageLevel = "error"
)

// Message 是暫存在 session 中、下一次頁面顯示後即移除的訊息
type Message struct {
	Level MessageLevel `msgpack:"level" json:"level"`
	Text  string       `msgpack:"text" json:"text"`
}

// AddMessage 新增一則訊息到 session
func AddMessage(s ISession, level MessageLevel, text string) error {
	const op = "session.AddMessage"
	messages, err := decode[[]Message](s.Get(SESSION_KEY_MESSAGES))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	messages = append(messages, Message{Level: level, Text: text})
	encoded, err := encode(messages)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.Set(SESSION_KEY_MESSAGES, encoded)
	return nil
}

// PopMessages 取出並清除 session 中所有訊息
func PopMessages(s ISession) ([]Message, error) {
	const op = "session.PopMessages"
	messages, err := decode[[]Message](s.Get(SESSION_KEY_MESSAGES))
	s.Delete(SESSION_KEY_MESSAGES)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return messages, nil
}

// encode 使用 msgpack 序列化後以 base64 編碼
func encode[T any](data T) (string, error) {
	bytes, err := msgpack.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("msgpack marshal error: %w", err)
	}
	return base64.StdEncoding.EncodeToString(bytes), nil
}

func decode[T any](raw string) (T, error) {
	var result T
	if raw == "" {
		return result, nil
	}
	bytes, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return result, fmt.Errorf("base64 decode error: %w", err)
	}
	if err := msgpack.Unmarshal(bytes, &result); err != nil {
		return result, fmt.Errorf("msgpack unmarshal error: %w", err)
	}
	return result, nil
}
