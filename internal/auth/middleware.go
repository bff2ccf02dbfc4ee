// Package auth verifies Supabase access tokens and carries the caller's
// identity in the request context.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// roleAuthenticated is the role Supabase puts in tokens of signed-in users.
// The project's anon key is signed with the same secret but carries "anon".
const roleAuthenticated = "authenticated"

type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type JWTMiddleware struct {
	secret []byte
	issuer string
}

// NewJWTMiddleware verifies HS256 tokens signed with secret. When supabaseURL
// is set, the token issuer must be that project's auth endpoint.
func NewJWTMiddleware(secret, supabaseURL string) *JWTMiddleware {
	m := &JWTMiddleware{secret: []byte(secret)}
	if supabaseURL != "" {
		m.issuer = strings.TrimRight(supabaseURL, "/") + "/auth/v1"
	}
	return m
}

// Authenticate rejects requests without a valid user token.
func (m *JWTMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractBearerToken(r)
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		_, userID, err := m.Verify(tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// Optional attaches the user when the request carries a valid token and
// otherwise lets the request through anonymously.
func (m *JWTMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractBearerToken(r)
		if tokenStr == "" {
			next.ServeHTTP(w, r)
			return
		}

		_, userID, err := m.Verify(tokenStr)
		if err != nil {
			slog.Debug("ignoring invalid token on optional route", "path", r.URL.Path, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// Verify parses tokenStr and returns its claims and user id.
func (m *JWTMiddleware) Verify(tokenStr string) (*Claims, uuid.UUID, error) {
	if len(m.secret) == 0 {
		return nil, uuid.Nil, errors.New("jwt secret not configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("parse token: %w", err)
	}

	if claims.Role != roleAuthenticated {
		return nil, uuid.Nil, fmt.Errorf("role %q is not allowed", claims.Role)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("parse subject: %w", err)
	}
	return claims, userID, nil
}

type ctxKey string

const userKey ctxKey = "user_id"

// WithUserID returns ctx carrying userID.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// UserIDFromContext returns the authenticated user, if any.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
