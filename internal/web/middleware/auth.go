package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/issueimport/internal/config"
	"github.com/JonMunkholm/issueimport/internal/tracker"
)

// APIKeyAuth returns middleware that validates X-API-Key header against configured keys.
// If RequireAPIKey is false, all requests pass through.
// If RequireAPIKey is true but no keys are configured, all requests are rejected.
func APIKeyAuth(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAPIKey {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				slog.Warn("auth: missing API key",
					"path", r.URL.Path,
					"method", r.Method,
					"ip", ClientIP(r),
				)
				deny(w, http.StatusUnauthorized, "missing API key", "AUTH_MISSING_KEY")
				return
			}

			if !isValidAPIKey(apiKey, cfg.APIKeys) {
				slog.Warn("auth: invalid API key",
					"path", r.URL.Path,
					"method", r.Method,
					"ip", ClientIP(r),
				)
				deny(w, http.StatusForbidden, "invalid API key", "AUTH_INVALID_KEY")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isValidAPIKey compares key against every configured key in constant time.
func isValidAPIKey(key string, validKeys []string) bool {
	valid := 0
	for _, validKey := range validKeys {
		valid |= subtle.ConstantTimeCompare([]byte(key), []byte(validKey))
	}
	return valid == 1
}

// Users resolves the login named by the remote-user header.
type Users interface {
	UserByLogin(ctx context.Context, login string) (*tracker.User, error)
}

// RemoteUser returns middleware that resolves the acting user from header
// and stores it in the request context. Requests without a known, active
// user are rejected.
func RemoteUser(header string, users Users) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			login := strings.TrimSpace(r.Header.Get(header))
			if login == "" {
				deny(w, http.StatusUnauthorized, "missing remote user", "AUTH_MISSING_USER")
				return
			}

			u, err := users.UserByLogin(r.Context(), login)
			switch {
			case errors.Is(err, tracker.ErrNotFound):
				slog.Warn("auth: unknown remote user", "login", login, "path", r.URL.Path)
				deny(w, http.StatusForbidden, "unknown user", "AUTH_UNKNOWN_USER")
				return
			case err != nil:
				slog.Error("auth: user lookup failed", "login", login, "error", err)
				deny(w, http.StatusInternalServerError, "user lookup failed", "AUTH_LOOKUP_FAILED")
				return
			case !u.Active:
				deny(w, http.StatusForbidden, "user is locked", "AUTH_LOCKED_USER")
				return
			}

			noteUser(r.Context(), u.Login)
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

func deny(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `","code":"` + code + `"}`))
}
