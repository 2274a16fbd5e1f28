package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessages(t *testing.T) {
	s := NewSession(context.Background(), "test-id", nil)

	require.NoError(t, AddMessage(s, LevelError, "State Mismatch. Time expired?"))
	require.NoError(t, AddMessage(s, LevelInfo, "welcome"))
	assert.NotEmpty(t, s.Get(SESSION_KEY_MESSAGES))

	messages, err := PopMessages(s)
	require.NoError(t, err)
	assert.Equal(t, []Message{
		{Level: LevelError, Text: "State Mismatch. Time expired?"},
		{Level: LevelInfo, Text: "welcome"},
	}, messages)

	// 取出後即清除
	messages, err = PopMessages(s)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestPopMessages_Invalid(t *testing.T) {
	s := NewSession(context.Background(), "test-id", nil)
	s.Set(SESSION_KEY_MESSAGES, "not base64 !!")

	_, err := PopMessages(s)
	assert.Error(t, err)
	assert.Empty(t, s.Get(SESSION_KEY_MESSAGES))
}
