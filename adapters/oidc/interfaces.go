//go:generate mockgen -package=oidc -destination=mock.go -source=interfaces.go

package oidc

import (
	"context"

	"golang.org/x/oauth2"
)

type IProvider interface {
	AuthURL(state, nonce, redirectUrl string, scopes []string, opts ...oauth2.AuthCodeOption) string
	NewExchangeVerifier(reqState, reqNonce string) *ExchangeVerifier
	Exchange(ctx context.Context, verifier *ExchangeVerifier, code, state, redirectUrl string) (*ExchangeToken, error)
	FetchIdentity(ctx context.Context, token *oauth2.Token) (*Identity, error)
	Revoke(ctx context.Context, token string) error
}
