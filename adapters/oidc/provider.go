package oidc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const (
	GoogleIssuer        = "https://accounts.google.com"
	GoogleAuthURL       = "https://accounts.google.com/o/oauth2/auth"
	GoogleTokenURL      = "https://oauth2.googleapis.com/token"
	GoogleUserInfoURL   = "https://www.googleapis.com/oauth2/v3/userinfo"
	GoogleJWKSURL       = "https://www.googleapis.com/oauth2/v3/certs"
	GoogleRevocationURL = "https://oauth2.googleapis.com/revoke"
)

var (
	ErrStateMismatch = errors.New("state mismatch")
	ErrNonceMismatch = errors.New("nonce mismatch")
	ErrProvider      = errors.New("provider error")
)

// Endpoints 是 Google OAuth2 使用的端點
type Endpoints struct {
	Issuer        string
	AuthURL       string
	TokenURL      string
	UserInfoURL   string
	JWKSURL       string
	RevocationURL string
}

func GoogleEndpoints() Endpoints {
	return Endpoints{
		Issuer:        GoogleIssuer,
		AuthURL:       GoogleAuthURL,
		TokenURL:      GoogleTokenURL,
		UserInfoURL:   GoogleUserInfoURL,
		JWKSURL:       GoogleJWKSURL,
		RevocationURL: GoogleRevocationURL,
	}
}

type Provider struct {
	provider   *oidc.Provider
	endpoints  Endpoints
	clientInfo ProvideClientInfo
	httpClient *http.Client
}

type ProvideClientInfo struct {
	ID        string
	Secret    string
	ProjectID string
}

type providerOptions struct {
	endpoints  Endpoints
	httpClient *http.Client
}

type ProviderOption func(*providerOptions)

// WithEndpoints 覆寫 Google 的端點，用於測試
func WithEndpoints(endpoints Endpoints) ProviderOption {
	return func(o *providerOptions) {
		o.endpoints = endpoints
	}
}

// WithHTTPClient 設定呼叫 Google 時使用的 http client
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(o *providerOptions) {
		o.httpClient = client
	}
}

// NewProvider 使用固定的 Google 端點建立 provider，不需要 discovery
func NewProvider(ctx context.Context, clientInfo ProvideClientInfo, opts ...ProviderOption) (*Provider, error) {
	const op = "NewProvider"
	options := providerOptions{
		endpoints:  GoogleEndpoints(),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(&options)
	}
	if clientInfo.ID == "" || clientInfo.Secret == "" {
		return nil, fmt.Errorf("[%s] Missing client id or client secret", op)
	}
	config := oidc.ProviderConfig{
		IssuerURL:   options.endpoints.Issuer,
		AuthURL:     options.endpoints.AuthURL,
		TokenURL:    options.endpoints.TokenURL,
		UserInfoURL: options.endpoints.UserInfoURL,
		JWKSURL:     options.endpoints.JWKSURL,
		Algorithms:  []string{oidc.RS256},
	}
	return &Provider{
		provider:   config.NewProvider(oidc.ClientContext(ctx, options.httpClient)),
		endpoints:  options.endpoints,
		clientInfo: clientInfo,
		httpClient: options.httpClient,
	}, nil
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, p.httpClient)
}

// ClientConfig 回傳 OAuth client 設定
func (p *Provider) ClientConfig(redirectURL string, scopes []string) *oauth2.Config {
	endpoint := p.provider.Endpoint()
	// 與 golang.org/x/oauth2/google 相同，client 資訊放在表單中
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	return &oauth2.Config{
		ClientID:     p.clientInfo.ID,
		ClientSecret: p.clientInfo.Secret,
		Endpoint:     endpoint,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
	}
}

// AuthURL 產生導向 Google 登入頁面的網址
func (p *Provider) AuthURL(state, nonce, redirectUrl string, scopes []string, opts ...oauth2.AuthCodeOption) string {
	opts = append([]oauth2.AuthCodeOption{oidc.Nonce(nonce)}, opts...)
	return p.ClientConfig(redirectUrl, scopes).AuthCodeURL(state, opts...)
}

// Exchange 以授權碼向 Google 交換 token
// state 必須在呼叫 token 端點之前驗證，避免偽造的 callback 浪費一次往返
func (p *Provider) Exchange(ctx context.Context, verifier *ExchangeVerifier, code, state, redirectUrl string) (*ExchangeToken, error) {
	const op = "Exchange"
	if !verifier.VerifyState(state) {
		return nil, ErrStateMismatch
	}
	oauth2Token, err := p.ClientConfig(redirectUrl, nil).Exchange(p.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w: %s", op, ErrProvider, describeProviderError(err))
	}
	token := &ExchangeToken{OAuth2Token: oauth2Token}
	// 沒有要求 openid scope 時不會有 id_token
	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return token, nil
	}
	idToken, err := verifier.VerifyIDToken(p.clientContext(ctx), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w: %s", op, ErrProvider, err.Error())
	}
	if !verifier.VerifyNonce(idToken.Nonce) {
		return nil, ErrNonceMismatch
	}
	token.IDToken = idToken
	return token, nil
}

func (p *Provider) NewExchangeVerifier(reqState, reqNonce string) *ExchangeVerifier {
	return &ExchangeVerifier{
		idTokenVerifier: p.provider.Verifier(&oidc.Config{ClientID: p.clientInfo.ID}),
		reqState:        reqState,
		reqNonce:        reqNonce,
	}
}

// FetchIdentity 以 access token 呼叫 userinfo 端點取得使用者資料
func (p *Provider) FetchIdentity(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	const op = "FetchIdentity"
	userInfo, err := p.provider.UserInfo(p.clientContext(ctx), oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, fmt.Errorf("[%s] %w: %s", op, ErrProvider, err.Error())
	}
	identity := new(Identity)
	if err := userInfo.Claims(identity); err != nil {
		return nil, fmt.Errorf("[%s] %w: fail to parse userinfo, err=%s", op, ErrProvider, err.Error())
	}
	if identity.Subject == "" {
		identity.Subject = identity.LegacyID
	}
	if identity.Email == "" {
		return nil, fmt.Errorf("[%s] %w: userinfo without email, scopes may be missing", op, ErrProvider)
	}
	identity.AccessToken = token.AccessToken
	return identity, nil
}

// Revoke 撤銷 access token 或 refresh token
func (p *Provider) Revoke(ctx context.Context, token string) error {
	const op = "Revoke"
	form := url.Values{}
	form.Set("token", token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoints.RevocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("[%s] Fail to create revocation request, err=%w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("[%s] Fail to send request, err=%w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return fmt.Errorf("[%s] %w: status code=%d, body=%s", op, ErrProvider, resp.StatusCode, string(body))
	}
	return nil
}

type ExchangeToken struct {
	OAuth2Token *oauth2.Token
	IDToken     *oidc.IDToken
}

// describeProviderError 取出 Google 回傳的錯誤內容
func describeProviderError(err error) string {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "" {
			return retrieveErr.Error()
		}
		if retrieveErr.ErrorDescription != "" {
			return fmt.Sprintf("(%s) %s", retrieveErr.ErrorCode, retrieveErr.ErrorDescription)
		}
		return retrieveErr.ErrorCode
	}
	return err.Error()
}

// ShowCredential 只保留前後 5 個字元，用於記錄憑證
func ShowCredential(credential string) string {
	if len(credential) <= 10 {
		return strings.Repeat("*", len(credential))
	}
	return credential[:5] + "..." + credential[len(credential)-5:]
}
