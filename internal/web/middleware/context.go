package middleware

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/issueimport/internal/tracker"
)

type ctxKey int

const (
	clientIPKey ctxKey = iota
	userKey
)

// WithUser returns ctx carrying the acting user.
func WithUser(ctx context.Context, u *tracker.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// User returns the acting user stored by RemoteUser.
func User(ctx context.Context) (*tracker.User, bool) {
	u, ok := ctx.Value(userKey).(*tracker.User)
	return u, ok && u != nil
}

// ClientIP returns the address resolved by TrustedRealIP, or the
// connection's remote host when that middleware did not run.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	if ip := extractIP(r.RemoteAddr); ip != nil {
		return ip.String()
	}
	return r.RemoteAddr
}
