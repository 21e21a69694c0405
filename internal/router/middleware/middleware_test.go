package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	maker, err := NewJWTMaker("secret")
	require.NoError(t, err)

	token, claims, err := maker.CreateToken(42, "alice", time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)

	got, err := maker.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.UserId)
	assert.Equal(t, "alice", got.Subject)
	assert.Equal(t, claims.ID, got.ID)
}

func TestJWTRejects(t *testing.T) {
	_, err := NewJWTMaker("")
	assert.Error(t, err)

	maker, _ := NewJWTMaker("secret")
	other, _ := NewJWTMaker("other")

	token, _, err := other.CreateToken(1, "bob", time.Minute)
	require.NoError(t, err)
	_, err = maker.VerifyToken(token)
	assert.Error(t, err, "wrong key")

	expired, _, err := maker.CreateToken(1, "bob", -time.Minute)
	require.NoError(t, err)
	_, err = maker.VerifyToken(expired)
	assert.Error(t, err, "expired")
}

func TestAuthMiddleware(t *testing.T) {
	maker, _ := NewJWTMaker("secret")
	var seen int64
	h := AuthMiddleware(maker)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		require.True(t, ok)
		seen = claims.UserId
	}))

	for _, header := range []string{"", "Bearer", "Token abc", "Bearer not.a.jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}

	token, _, _ := maker.CreateToken(9, "carol", time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(9), seen)
}

func TestRequestID(t *testing.T) {
	var inner string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = RequestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, inner)
	assert.Equal(t, inner, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", inner)
}
