// Package auth resolves who is on the other end of a request: players over
// JWT bearer tokens, service clients over API keys.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for a missing, malformed or expired token
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims represents JWT claims for access tokens
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Rating   int    `json:"rating,omitempty"`
	jwt.RegisteredClaims
}

// Identity is an authenticated player
type Identity struct {
	PlayerID string
	Username string
	Rating   int
}

// Authenticator validates HS256 access tokens
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an authenticator for tokens signed with secret
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs a token for id valid for ttl. Tokens are normally minted by the
// account service; this is used by tooling and tests.
func (a *Authenticator) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   id.PlayerID,
		Username: id.Username,
		Rating:   id.Rating,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.PlayerID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Authenticate validates a token and returns the identity it carries
func (a *Authenticator) Authenticate(tokenString string) (Identity, error) {
	if len(a.secret) == 0 || tokenString == "" {
		return Identity{}, ErrUnauthenticated
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrUnauthenticated
	}

	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return Identity{}, fmt.Errorf("%w: token has no user id", ErrUnauthenticated)
	}

	return Identity{PlayerID: id, Username: claims.Username, Rating: claims.Rating}, nil
}

// TokenFromRequest reads the token from the "token" query parameter or an
// "Authorization: Bearer" header
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	header := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}
