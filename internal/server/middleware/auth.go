// Package middleware provides the HTTP middleware chain of the table
// service: request logging, panic recovery, bearer-token auth, and rate
// limiting.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

// SubjectKey хранит идентификатор клиента из токена в контексте запроса
const SubjectKey contextKey = "subject"

// Subject извлекает идентификатор клиента из контекста запроса
func Subject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(SubjectKey).(string)
	return subject, ok
}

// TokenValidator validates a bearer token and returns its subject
type TokenValidator interface {
	Validate(token string) (string, error)
}

// Auth создает middleware для проверки bearer токена
func Auth(logger *slog.Logger, tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("missing Authorization header", "path", r.URL.Path)
				http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
				return
			}

			// Ожидаем формат: "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("invalid Authorization header format")
				http.Error(w, "Unauthorized: invalid token format", http.StatusUnauthorized)
				return
			}

			subject, err := tokens.Validate(parts[1])
			if err != nil {
				logger.Warn("invalid access token", "error", err)
				http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), SubjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
