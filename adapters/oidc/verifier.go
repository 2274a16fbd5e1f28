package oidc

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// ExchangeVerifier 用於驗證 OAuth2 callback 的 state 與 ID token
type ExchangeVerifier struct {
	idTokenVerifier *oidc.IDTokenVerifier // ID 令牌驗證器
	reqState        string                // 登入時儲存的 state
	reqNonce        string                // 登入時儲存的 nonce
}

// VerifyIDToken 驗證 ID 令牌的有效性
func (v *ExchangeVerifier) VerifyIDToken(ctx context.Context, rawIDToken string) (*oidc.IDToken, error) {
	const op = "VerifyIDToken"
	idToken, err := v.idTokenVerifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("[%s] err=%w", op, err)
	}
	return idToken, nil
}

// VerifyState 驗證狀態值是否匹配，空的 state 一律視為不匹配
func (v *ExchangeVerifier) VerifyState(state string) bool {
	if v.reqState == "" || state == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(state), []byte(v.reqState)) == 1
}

// VerifyNonce 驗證隨機數是否匹配
func (v *ExchangeVerifier) VerifyNonce(nonce string) bool {
	return nonce == v.reqNonce
}
