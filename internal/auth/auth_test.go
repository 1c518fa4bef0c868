package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator_RoundTrip(t *testing.T) {
	a := NewAuthenticator("secret")

	token, err := a.Issue(Identity{PlayerID: "p1", Username: "Ann", Rating: 1500}, time.Minute)
	require.NoError(t, err)

	id, err := a.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{PlayerID: "p1", Username: "Ann", Rating: 1500}, id)
}

func TestAuthenticator_Rejects(t *testing.T) {
	a := NewAuthenticator("secret")

	expired, err := a.Issue(Identity{PlayerID: "p1"}, -time.Minute)
	require.NoError(t, err)

	other, err := NewAuthenticator("other").Issue(Identity{PlayerID: "p1"}, time.Minute)
	require.NoError(t, err)

	noID, err := a.Issue(Identity{Username: "ghost"}, time.Minute)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "p1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"expired", expired},
		{"wrong secret", other},
		{"no user id", noID},
		{"alg none", unsigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(tt.token)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestAuthenticator_NoSecret(t *testing.T) {
	token, err := NewAuthenticator("secret").Issue(Identity{PlayerID: "p1"}, time.Minute)
	require.NoError(t, err)

	_, err = NewAuthenticator("").Authenticate(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=abc", nil)
	assert.Equal(t, "abc", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, "xyz", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Basic xyz")
	assert.Empty(t, TokenFromRequest(r))
}

func TestAPIKeyAuth(t *testing.T) {
	a := NewAPIKeyAuth(ParseKeys(" k1, ,k2 "))

	assert.True(t, a.Enabled())
	assert.True(t, a.IsValidKey("k1"))
	assert.True(t, a.IsValidKey("k2"))
	assert.False(t, a.IsValidKey(""))
	assert.False(t, a.IsValidKey("k3"))

	a.AddKey("k3")
	assert.True(t, a.IsValidKey("k3"))

	a.RemoveKey("k1")
	assert.False(t, a.IsValidKey("k1"))

	assert.False(t, NewAPIKeyAuth(nil).Enabled())
}
