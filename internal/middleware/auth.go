package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tikiti/internal/config"
	"tikiti/internal/models"
	"tikiti/internal/utils"
)

type contextKey string

const (
	UserContextKey contextKey = "user"

	// AdminKeyHeader carries the machine-to-machine admin API key
	AdminKeyHeader = "X-Admin-Key"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims are the identity provider's JWT claims; the subject is the user ID
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware resolves the caller from a bearer token or the admin API key
type AuthMiddleware struct {
	secret       []byte
	issuer       string
	adminKeyHash string
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(cfg config.AuthConfig) *AuthMiddleware {
	return &AuthMiddleware{
		secret:       []byte(cfg.JWTSecret),
		issuer:       cfg.JWTIssuer,
		adminKeyHash: cfg.AdminAPIKeyHash,
	}
}

// ParseToken validates a bearer token and returns the identity it asserts
func (m *AuthMiddleware) ParseToken(tokenString string) (*models.Identity, error) {
	if len(m.secret) == 0 {
		return nil, ErrInvalidToken
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	role := models.UserRole(claims.Role)
	switch role {
	case models.UserRoleUser, models.UserRoleOrganizer, models.UserRoleAdmin:
	case "":
		role = models.UserRoleUser
	default:
		return nil, ErrInvalidToken
	}

	return &models.Identity{
		UserID: claims.Subject,
		Email:  claims.Email,
		Phone:  claims.Phone,
		Role:   role,
	}, nil
}

// IssueToken signs an HS256 token for an identity. Used by tooling and tests;
// production tokens come from the identity provider.
func IssueToken(secret, issuer string, id models.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:  string(id.Role),
		Email: id.Email,
		Phone: id.Phone,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// adminFromKey returns the admin identity when the request carries a valid admin API key
func (m *AuthMiddleware) adminFromKey(r *http.Request) *models.Identity {
	key := r.Header.Get(AdminKeyHeader)
	if key == "" || m.adminKeyHash == "" {
		return nil
	}
	ok, err := utils.VerifyAPIKey(key, m.adminKeyHash)
	if err != nil {
		log.Printf("Admin API key hash is unusable: %v", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &models.Identity{UserID: "admin-api-key", Role: models.UserRoleAdmin}
}

// bearerToken extracts the token from the Authorization header
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// LoadUser adds the caller to the context when credentials are present and valid.
// Requests without valid credentials continue anonymously.
func (m *AuthMiddleware) LoadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := m.adminFromKey(r); id != nil {
			next.ServeHTTP(w, r.WithContext(SetUserContext(r.Context(), id)))
			return
		}

		if token := bearerToken(r); token != "" {
			id, err := m.ParseToken(token)
			if err != nil {
				log.Printf("Rejected bearer token from %s: %v", getClientIP(r), err)
			} else {
				r = r.WithContext(SetUserContext(r.Context(), id))
			}
		}

		next.ServeHTTP(w, r)
	})
}

// RequireAuth ensures the caller is authenticated
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserFromContext(r.Context()) == nil {
			WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireRole ensures the caller has one of the given roles
func RequireRole(roles ...models.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUserFromContext(r.Context())
			if user == nil {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}

			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			WriteError(w, http.StatusForbidden, "forbidden", "Access denied")
		})
	}
}

// GetUserFromContext retrieves the caller from request context
func GetUserFromContext(ctx context.Context) *models.Identity {
	user, ok := ctx.Value(UserContextKey).(*models.Identity)
	if !ok {
		return nil
	}
	return user
}

// SetUserContext sets the caller in the context
func SetUserContext(ctx context.Context, user *models.Identity) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}
