// Package auth provides the JWT-based operator authentication middleware
// gating mutating admin endpoints (witness suspend/revoke, etc.).
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/witnessnet/gateway/internal/shared/config"
)

type contextKey string

const operatorContextKey contextKey = "operator"

// Operator represents an authenticated administrator.
type Operator struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
}

// Claims extends JWT registered claims with operator role data.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// Middleware creates JWT authentication middleware for operator-only endpoints.
func Middleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			token, err := jwt.ParseWithClaims(parts[1], &Claims{}, func(token *jwt.Token) (interface{}, error) {
				return []byte(cfg.JWTSecret), nil
			})
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			claims, ok := token.Claims.(*Claims)
			if !ok || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			operator := &Operator{Subject: claims.Subject, Roles: claims.Roles}
			ctx := context.WithValue(r.Context(), operatorContextKey, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOperator extracts the authenticated operator from request context.
func GetOperator(ctx context.Context) *Operator {
	operator, ok := ctx.Value(operatorContextKey).(*Operator)
	if !ok {
		return nil
	}
	return operator
}

// RequireRoles creates middleware that requires at least one of roles.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operator := GetOperator(r.Context())
			if operator == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !hasAnyRole(operator.Roles, roles) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasAnyRole(operatorRoles, required []string) bool {
	for _, req := range required {
		for _, role := range operatorRoles {
			if role == req {
				return true
			}
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
