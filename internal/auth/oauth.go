package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/modconsole/internal/cases"
)

// Scopes understood by the console API.
const (
	ScopeCasesRead  = "cases:read"
	ScopeCasesWrite = "cases:write"
)

const defaultAccessTokenTTL = 15 * time.Minute

var ErrClientNotFound = errors.New("client not found")

// Client is a staff member (or service acting for one) allowed to request
// console tokens. Role is stamped into every token issued to it.
type Client struct {
	ID         string
	SecretHash string
	Scopes     []string
	Role       cases.Role
}

type ClientStore interface {
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// OAuthServer implements the client-credentials grant for staff clients.
type OAuthServer struct {
	Store          ClientStore
	Keys           *KeySet
	Issuer         string
	AccessTokenTTL time.Duration
	Now            func() time.Time
}

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	ClientID string     `json:"client_id"`
	Scopes   []string   `json:"scopes"`
	Role     cases.Role `json:"role,omitempty"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// oauthError carries an RFC 6749 §5.2 error code and the status to send.
type oauthError struct {
	status int
	code   string
}

func (e *oauthError) Error() string { return e.code }

var (
	errUnsupportedGrant   = &oauthError{http.StatusBadRequest, "unsupported_grant_type"}
	errInvalidClient      = &oauthError{http.StatusUnauthorized, "invalid_client"}
	errUnauthorizedClient = &oauthError{http.StatusForbidden, "unauthorized_client"}
	errInvalidScope       = &oauthError{http.StatusForbidden, "invalid_scope"}
)

func HashClientSecret(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func VerifyClientSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

func (s *OAuthServer) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_ = r.ParseForm()

	grantType := r.FormValue("grant_type")
	if grantType != "client_credentials" {
		writeOAuthError(w, errUnsupportedGrant)
		return
	}

	client, err := s.authenticateClient(r)
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	resp, err := s.Issue(client, strings.Fields(r.FormValue("scope")))
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(resp)
}

// authenticateClient accepts HTTP basic credentials or the client_id and
// client_secret form fields.
func (s *OAuthServer) authenticateClient(r *http.Request) (*Client, error) {
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.FormValue("client_id"), r.FormValue("client_secret")
	}
	if id == "" || secret == "" {
		return nil, errInvalidClient
	}

	client, err := s.Store.GetClient(r.Context(), id)
	if err != nil || client == nil || !VerifyClientSecret(client.SecretHash, secret) {
		return nil, errInvalidClient
	}
	if !client.Role.Valid() {
		return nil, errUnauthorizedClient
	}
	return client, nil
}

// Issue signs an access token for client. An empty request grants every
// scope the client holds.
func (s *OAuthServer) Issue(client *Client, requested []string) (TokenResponse, error) {
	granted := grantScopes(client.Scopes, requested)
	if len(granted) == 0 {
		return TokenResponse{}, errInvalidScope
	}

	ttl := s.AccessTokenTTL
	if ttl <= 0 {
		ttl = defaultAccessTokenTTL
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   client.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		ClientID: client.ID,
		Scopes:   granted,
		Role:     client.Role,
	})
	tok.Header["kid"] = s.Keys.KeyID()

	signed, err := tok.SignedString(s.Keys.PrivateKey())
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
		Scope:       strings.Join(granted, " "),
	}, nil
}

func (s *OAuthServer) JWKSHandler(w http.ResponseWriter, r *http.Request) {
	jwks, err := s.Keys.JWKS()
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jwks)
}

// writeOAuthError sends server_error for anything that is not an oauthError.
func writeOAuthError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "server_error"
	var oe *oauthError
	if errors.As(err, &oe) {
		status, code = oe.status, oe.code
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

// grantScopes returns the requested scopes the client holds, sorted. With
// nothing requested it returns all of the client's scopes.
func grantScopes(held, requested []string) []string {
	var out []string
	for _, s := range held {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(out, s) {
			continue
		}
		if len(requested) == 0 || slices.Contains(requested, s) {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}
