package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tikiti/internal/config"
	"tikiti/internal/models"
	"tikiti/internal/utils"
)

const testSecret = "test-jwt-secret"

func newTestAuth(t *testing.T, adminKey string) *AuthMiddleware {
	t.Helper()
	cfg := config.AuthConfig{JWTSecret: testSecret, JWTIssuer: "https://id.tikiti.test"}
	if adminKey != "" {
		hash, err := utils.HashAPIKey(adminKey)
		require.NoError(t, err)
		cfg.AdminAPIKeyHash = hash
	}
	return NewAuthMiddleware(cfg)
}

func issue(t *testing.T, id models.Identity, ttl time.Duration) string {
	t.Helper()
	token, err := IssueToken(testSecret, "https://id.tikiti.test", id, ttl)
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware_ParseToken(t *testing.T) {
	m := newTestAuth(t, "")
	buyer := models.Identity{UserID: "u-1", Email: "akinyi@example.com", Phone: "254712345678", Role: models.UserRoleOrganizer}

	t.Run("valid token", func(t *testing.T) {
		id, err := m.ParseToken(issue(t, buyer, time.Hour))
		require.NoError(t, err)
		assert.Equal(t, buyer, *id)
	})

	t.Run("missing role defaults to user", func(t *testing.T) {
		id, err := m.ParseToken(issue(t, models.Identity{UserID: "u-2"}, time.Hour))
		require.NoError(t, err)
		assert.Equal(t, models.UserRoleUser, id.Role)
	})

	signed := func(claims Claims, method jwt.SigningMethod, key any) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := jwt.RegisteredClaims{
		Subject:   "u-1",
		Issuer:    "https://id.tikiti.test",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{
			name:    "expired",
			token:   issue(t, buyer, -time.Minute),
			wantErr: ErrExpiredToken,
		},
		{
			name:    "wrong secret",
			token:   signed(Claims{Role: "user", RegisteredClaims: valid}, jwt.SigningMethodHS256, []byte("other")),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "HS512 is not accepted",
			token:   signed(Claims{Role: "user", RegisteredClaims: valid}, jwt.SigningMethodHS512, []byte(testSecret)),
			wantErr: ErrInvalidToken,
		},
		{
			name: "wrong issuer",
			token: signed(Claims{Role: "user", RegisteredClaims: jwt.RegisteredClaims{
				Subject: "u-1", Issuer: "https://evil.test", ExpiresAt: valid.ExpiresAt,
			}}, jwt.SigningMethodHS256, []byte(testSecret)),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "unknown role",
			token:   signed(Claims{Role: "superuser", RegisteredClaims: valid}, jwt.SigningMethodHS256, []byte(testSecret)),
			wantErr: ErrInvalidToken,
		},
		{
			name: "no subject",
			token: signed(Claims{Role: "user", RegisteredClaims: jwt.RegisteredClaims{
				Issuer: valid.Issuer, ExpiresAt: valid.ExpiresAt,
			}}, jwt.SigningMethodHS256, []byte(testSecret)),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "garbage",
			token:   "not.a.jwt",
			wantErr: ErrInvalidToken,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ParseToken(tt.token)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("no secret configured rejects everything", func(t *testing.T) {
		_, err := NewAuthMiddleware(config.AuthConfig{}).ParseToken(issue(t, buyer, time.Hour))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

// echoUser reports the caller LoadUser resolved
func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUserFromContext(r.Context())
		if user == nil {
			w.Write([]byte("anonymous"))
			return
		}
		w.Write([]byte(user.UserID + "/" + string(user.Role)))
	})
}

func TestAuthMiddleware_LoadUser(t *testing.T) {
	m := newTestAuth(t, "tk_admin_secret")

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "bearer token",
			headers: map[string]string{"Authorization": "Bearer " + issue(t, models.Identity{UserID: "u-5", Role: models.UserRoleUser}, time.Hour)},
			want:    "u-5/user",
		},
		{
			name:    "admin key",
			headers: map[string]string{AdminKeyHeader: "tk_admin_secret"},
			want:    "admin-api-key/admin",
		},
		{
			name: "admin key wins over a token",
			headers: map[string]string{
				AdminKeyHeader:  "tk_admin_secret",
				"Authorization": "Bearer " + issue(t, models.Identity{UserID: "u-5"}, time.Hour),
			},
			want: "admin-api-key/admin",
		},
		{
			name:    "wrong admin key",
			headers: map[string]string{AdminKeyHeader: "guess"},
			want:    "anonymous",
		},
		{
			name:    "invalid token continues anonymously",
			headers: map[string]string{"Authorization": "Bearer nope"},
			want:    "anonymous",
		},
		{
			name:    "basic auth is ignored",
			headers: map[string]string{"Authorization": "Basic dXNlcjpwYXNz"},
			want:    "anonymous",
		},
		{
			name: "no credentials",
			want: "anonymous",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/cart", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			m.LoadUser(echoUser()).ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Body.String())
		})
	}
}

func TestAuthMiddleware_AdminKeyWithoutHash(t *testing.T) {
	m := newTestAuth(t, "")
	req := httptest.NewRequest("GET", "/api/admin/payouts", nil)
	req.Header.Set(AdminKeyHeader, "anything")
	rr := httptest.NewRecorder()
	m.LoadUser(echoUser()).ServeHTTP(rr, req)
	assert.Equal(t, "anonymous", rr.Body.String())
}

func TestRequireAuth(t *testing.T) {
	handler := RequireAuth(echoUser())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/orders/1/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rr).Error)

	req := httptest.NewRequest("GET", "/api/orders/1/status", nil)
	req = req.WithContext(SetUserContext(req.Context(), &models.Identity{UserID: "u-1", Role: models.UserRoleUser}))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(models.UserRoleAdmin)(echoUser())

	tests := []struct {
		name     string
		user     *models.Identity
		wantCode int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"buyer", &models.Identity{UserID: "u-1", Role: models.UserRoleUser}, http.StatusForbidden},
		{"organizer", &models.Identity{UserID: "u-2", Role: models.UserRoleOrganizer}, http.StatusForbidden},
		{"admin", &models.Identity{UserID: "u-3", Role: models.UserRoleAdmin}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/admin/payouts/run", nil)
			if tt.user != nil {
				req = req.WithContext(SetUserContext(req.Context(), tt.user))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.wantCode, rr.Code)
		})
	}
}
