package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(token string) (*Claims, error) {
	args := m.Called(token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Claims), args.Error(1)
}

func signedToken(t *testing.T, secret string, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid JWT in Authorization header allows request", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		mw := NewAuthMiddleware(mockValidator, logger)

		claims := &Claims{
			OrgID: "org-1",
			Roles: []string{"compliance_officer"},
			RegisteredClaims: jwt.RegisteredClaims{
				Subject: "user-123",
			},
		}
		mockValidator.On("ValidateToken", "valid-token").Return(claims, nil)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := GetClaimsFromContext(r.Context())
			require.NotNil(t, got)
			assert.Equal(t, "user-123", got.Subject)
			assert.Equal(t, "org-1", GetOrgIDFromContext(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("missing token is rejected", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		mw := NewAuthMiddleware(mockValidator, logger)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be reached")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid token is rejected", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		mw := NewAuthMiddleware(mockValidator, logger)
		mockValidator.On("ValidateToken", "bad-token").Return(nil, assert.AnError)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be reached")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer bad-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("malformed Authorization header is rejected", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		mw := NewAuthMiddleware(mockValidator, logger)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be reached")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireRole(t *testing.T) {
	logger := zap.NewNop()
	mw := NewAuthMiddleware(new(MockTokenValidator), logger)

	handler := mw.RequireRole("auditor")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("claims with role pass", func(t *testing.T) {
		claims := &Claims{Roles: []string{"viewer", "auditor"}}
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req = req.WithContext(WithClaims(req.Context(), claims))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("claims without role are forbidden", func(t *testing.T) {
		claims := &Claims{Roles: []string{"viewer"}}
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req = req.WithContext(WithClaims(req.Context(), claims))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("no claims is unauthorized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestHMACValidator(t *testing.T) {
	const secret = "test-secret"

	base := func() *Claims {
		return &Claims{
			OrgID: "org-1",
			Roles: []string{"ciso"},
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-9",
				Issuer:    "arbiter",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				IssuedAt:  jwt.NewNumericDate(time.Now()),
			},
		}
	}

	t.Run("accepts a properly signed token", func(t *testing.T) {
		v := NewHMACValidator(secret, "arbiter")
		token := signedToken(t, secret, base())

		claims, err := v.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "user-9", claims.Subject)
		assert.Equal(t, "org-1", claims.OrgID)
		assert.True(t, claims.HasRole("ciso"))
	})

	t.Run("rejects a token signed with the wrong secret", func(t *testing.T) {
		v := NewHMACValidator(secret, "")
		token := signedToken(t, "other-secret", base())

		_, err := v.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("rejects an expired token", func(t *testing.T) {
		v := NewHMACValidator(secret, "")
		claims := base()
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		token := signedToken(t, secret, claims)

		_, err := v.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("rejects a token without expiry", func(t *testing.T) {
		v := NewHMACValidator(secret, "")
		claims := base()
		claims.ExpiresAt = nil
		token := signedToken(t, secret, claims)

		_, err := v.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("rejects a wrong issuer", func(t *testing.T) {
		v := NewHMACValidator(secret, "arbiter")
		claims := base()
		claims.Issuer = "someone-else"
		token := signedToken(t, secret, claims)

		_, err := v.ValidateToken(token)
		assert.Error(t, err)
	})
}
