package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/serroba/online-diagrams/internal/apperr"
	"github.com/serroba/online-diagrams/internal/auth"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, key string, method jwt.SigningMethod, claims auth.Claims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(key))
	require.NoError(t, err)

	return token
}

func validClaims(sub string) auth.Claims {
	return auth.Claims{
		Email: sub + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestJWTResolver_Resolve(t *testing.T) {
	t.Parallel()

	resolver := auth.NewJWTResolver(secret)

	identity, err := resolver.Resolve(context.Background(), sign(t, secret, jwt.SigningMethodHS256, validClaims("u1")))
	require.NoError(t, err)
	require.Equal(t, auth.Identity{UserID: "u1", Email: "u1@example.com"}, identity)
}

func TestJWTResolver_Rejects(t *testing.T) {
	t.Parallel()

	expired := validClaims("u1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noExpiry := validClaims("u1")
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", sign(t, "other", jwt.SigningMethodHS256, validClaims("u1"))},
		{"wrong algorithm", sign(t, secret, jwt.SigningMethodHS384, validClaims("u1"))},
		{"expired", sign(t, secret, jwt.SigningMethodHS256, expired)},
		{"no expiry", sign(t, secret, jwt.SigningMethodHS256, noExpiry)},
		{"no subject", sign(t, secret, jwt.SigningMethodHS256, validClaims(""))},
	}

	resolver := auth.NewJWTResolver(secret)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := resolver.Resolve(context.Background(), tt.token)
			require.ErrorIs(t, err, apperr.ErrUnauthenticated)
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(auth.Middleware(auth.NewJWTResolver(secret)))
	router.GET("/me", func(c *gin.Context) {
		identity, ok := auth.FromContext(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"userId": identity.UserID})
	})

	token := sign(t, secret, jwt.SigningMethodHS256, validClaims("u1"))

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{name: "bearer header", header: "Bearer " + token, status: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + token, status: http.StatusOK},
		{name: "query token", query: "?token=" + token, status: http.StatusOK},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "basic scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)

			if tt.status == http.StatusOK {
				require.JSONEq(t, `{"userId":"u1"}`, rec.Body.String())

				return
			}

			var body struct {
				Error   string `json:"error"`
				Message string `json:"message"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, apperr.CodeUnauthorized, body.Error)
			require.NotEmpty(t, body.Message)
		})
	}
}
