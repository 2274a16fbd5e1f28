// Package oidctest 提供模擬 Google OAuth2 端點的測試伺服器
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"googlesso/adapters/oidc"
)

const keyID = "oidctest"

type grant struct {
	nonce    string
	userInfo map[string]any
}

// Server 模擬 Google 的 token、userinfo、JWKS 與 revoke 端點
type Server struct {
	*httptest.Server

	ClientID     string
	ClientSecret string

	key        *rsa.PrivateKey
	mu         sync.Mutex
	grants     map[string]grant
	tokens     map[string]map[string]any
	revoked    []string
	tokenCalls atomic.Int32
}

func NewServer(clientID, clientSecret string) *Server {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	s := &Server{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		key:          key,
		grants:       make(map[string]grant),
		tokens:       make(map[string]map[string]any),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/userinfo", s.handleUserInfo)
	mux.HandleFunc("/certs", s.handleCerts)
	mux.HandleFunc("/revoke", s.handleRevoke)
	s.Server = httptest.NewServer(mux)
	return s
}

func (s *Server) Endpoints() oidc.Endpoints {
	return oidc.Endpoints{
		Issuer:        s.URL,
		AuthURL:       s.URL + "/o/oauth2/auth",
		TokenURL:      s.URL + "/token",
		UserInfoURL:   s.URL + "/userinfo",
		JWKSURL:       s.URL + "/certs",
		RevocationURL: s.URL + "/revoke",
	}
}

// Issue 登記一個授權碼，交換後的 userinfo 回傳 userInfo
func (s *Server) Issue(code, nonce string, userInfo map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[code] = grant{nonce: nonce, userInfo: userInfo}
}

// TokenCalls 回傳 token 端點被呼叫的次數
func (s *Server) TokenCalls() int {
	return int(s.tokenCalls.Load())
}

func (s *Server) Revoked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.revoked...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) authenticated(r *http.Request) bool {
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	return id == s.ClientID && secret == s.ClientSecret
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.tokenCalls.Add(1)
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if !s.authenticated(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client", "error_description": "The OAuth client was not found."})
		return
	}
	code := r.PostForm.Get("code")
	s.mu.Lock()
	g, ok := s.grants[code]
	delete(s.grants, code)
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Bad Request"})
		return
	}

	accessToken := "ya29." + code + ".access-token"
	s.mu.Lock()
	s.tokens[accessToken] = g.userInfo
	s.mu.Unlock()

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   s.URL,
		"aud":   s.ClientID,
		"sub":   g.userInfo["sub"],
		"email": g.userInfo["email"],
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	if g.nonce != "" {
		claims["nonce"] = g.nonce
	}
	idToken := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	idToken.Header["kid"] = keyID
	signed, err := idToken.SignedString(s.key)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   3599,
		"id_token":     signed,
		"scope":        "openid https://www.googleapis.com/auth/userinfo.email https://www.googleapis.com/auth/userinfo.profile",
	})
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	accessToken := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	userInfo, ok := s.tokens[accessToken]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}
	writeJSON(w, http.StatusOK, userInfo)
}

func (s *Server) handleCerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       &s.key.PublicKey,
			KeyID:     keyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	token := r.PostForm.Get("token")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[token]; !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_token"})
		return
	}
	delete(s.tokens, token)
	s.revoked = append(s.revoked, token)
	w.WriteHeader(http.StatusOK)
}
