package auth

import (
	"time"

	"googlesso/adapters/session"
	"googlesso/models"
)

const (
	SESSION_KEY_USER_ID = "_auth_user_id"
	SESSION_KEY_BACKEND = "_auth_user_backend"
)

// Login 將使用者寫入 session
// session ID 會重新產生，避免登入前取得的 session ID 被沿用
func Login(sess session.ISession, user *models.User, backend Backend, expiry time.Duration) error {
	if current := sess.Get(SESSION_KEY_USER_ID); current != "" && current != user.ID.String() {
		sess.Clear()
	}
	sess.Rotate()
	sess.Set(SESSION_KEY_USER_ID, user.ID.String())
	sess.Set(SESSION_KEY_BACKEND, backend.Name())
	sess.SetExpiry(expiry)
	return sess.Save()
}

// Logout 清除 session 中的所有資料
func Logout(sess session.ISession) error {
	sess.Clear()
	sess.Rotate()
	return sess.Save()
}
